package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/digistore/internal/ledger"
	"github.com/mmeshcher/digistore/internal/model"
	"github.com/mmeshcher/digistore/internal/repository"
	"github.com/mmeshcher/digistore/internal/validation"
)

const maxRentalMonths = 12

// ProvisionRequest запрос мастер-реестру на создание магазина.
type ProvisionRequest struct {
	UserID    int64
	Subdomain string
	Name      string
	Months    int
}

// RentalResult созданный или продлённый магазин и баланс в мастер-реестре после оплаты.
type RentalResult struct {
	Shop    *model.Shop
	Price   decimal.Decimal
	Balance decimal.Decimal
}

func (s *Service) rentalPrice(months int) (decimal.Decimal, int, error) {
	if months < 1 || months > maxRentalMonths {
		return decimal.Zero, 0, ErrInvalidRequest.WithDetails(map[string]any{"months": "must be between 1 and 12"})
	}
	if !s.cfg.PlanPrice.IsPositive() {
		return decimal.Zero, 0, ErrInvalidRequest.WithMessage("ยังไม่ได้กำหนดราคาเช่าร้านค้า")
	}
	return s.cfg.PlanPrice.Mul(decimal.NewFromInt(int64(months))), s.cfg.PlanDays * months, nil
}

// ProvisionShop списывает оплату с пользователя мастер-домена и в одной транзакции
// создаёт магазин, его владельца и настройки по умолчанию.
func (s *Service) ProvisionShop(ctx context.Context, req ProvisionRequest) (*RentalResult, error) {
	subdomain := strings.ToLower(strings.TrimSpace(req.Subdomain))
	name := strings.TrimSpace(req.Name)
	if !validation.IsValidSubdomain(subdomain) || name == "" {
		return nil, ErrInvalidRequest
	}

	price, days, err := s.rentalPrice(req.Months)
	if err != nil {
		return nil, err
	}

	var res RentalResult
	err = s.repo.WithTx(ctx, func(tx repository.Tx) error {
		master, err := tx.LockUser(ctx, model.MasterShopID, req.UserID)
		if err != nil {
			return err
		}

		balance, err := ledger.Debit(ctx, tx, model.MasterShopID, req.UserID, price)
		if err != nil {
			return err
		}

		shop := &model.Shop{
			Subdomain: subdomain,
			Name:      name,
			ExpiresAt: s.now().Add(time.Duration(days) * 24 * time.Hour),
		}
		if shop.ID, err = tx.InsertShop(ctx, shop); err != nil {
			return err
		}

		ownerID, err := tx.InsertUser(ctx, &model.User{
			ShopID:   shop.ID,
			Username: master.Username,
			Role:     model.RoleOwner,
		})
		if err != nil {
			return err
		}
		if err := tx.SetShopOwner(ctx, shop.ID, ownerID); err != nil {
			return err
		}
		shop.OwnerID = ownerID

		if err := tx.InsertShopSettings(ctx, &model.ShopSettings{ShopID: shop.ID}); err != nil {
			return err
		}

		if _, err := tx.InsertRental(ctx, &model.ShopRental{
			ShopID: shop.ID,
			UserID: req.UserID,
			Kind:   model.RentalKindCreate,
			Price:  price,
			Days:   days,
		}); err != nil {
			return err
		}

		res = RentalResult{Shop: shop, Price: price, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.Info("shop provisioned",
		zap.Int64("shop_id", int64(res.Shop.ID)),
		zap.String("subdomain", subdomain),
		zap.Int64("user_id", req.UserID),
		zap.Time("expires_at", res.Shop.ExpiresAt),
	)
	return &res, nil
}

// RenewShop продлевает аренду магазина. Строка магазина блокируется раньше строки
// пользователя мастер-домена. Остаток действующей аренды сохраняется.
func (s *Service) RenewShop(ctx context.Context, userID int64, shopID model.ShopID, months int) (*RentalResult, error) {
	if shopID.IsMaster() {
		return nil, ErrShopNotFound
	}

	price, days, err := s.rentalPrice(months)
	if err != nil {
		return nil, err
	}

	var res RentalResult
	err = s.repo.WithTx(ctx, func(tx repository.Tx) error {
		shop, err := tx.LockShop(ctx, shopID)
		if err != nil {
			return err
		}

		balance, err := ledger.Debit(ctx, tx, model.MasterShopID, userID, price)
		if err != nil {
			return err
		}

		from := s.now()
		if shop.ExpiresAt.After(from) {
			from = shop.ExpiresAt
		}
		shop.ExpiresAt = from.Add(time.Duration(days) * 24 * time.Hour)
		if err := tx.SetShopExpiry(ctx, shop.ID, shop.ExpiresAt); err != nil {
			return err
		}

		if _, err := tx.InsertRental(ctx, &model.ShopRental{
			ShopID: shop.ID,
			UserID: userID,
			Kind:   model.RentalKindRenew,
			Price:  price,
			Days:   days,
		}); err != nil {
			return err
		}

		res = RentalResult{Shop: shop, Price: price, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.Info("shop renewed",
		zap.Int64("shop_id", int64(shopID)),
		zap.Int64("user_id", userID),
		zap.Time("expires_at", res.Shop.ExpiresAt),
	)
	return &res, nil
}
