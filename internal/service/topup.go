package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/digistore/internal/events"
	"github.com/mmeshcher/digistore/internal/ledger"
	"github.com/mmeshcher/digistore/internal/model"
	"github.com/mmeshcher/digistore/internal/repository"
	"github.com/mmeshcher/digistore/internal/validation"
)

const (
	slipMaxAge      = 24 * time.Hour
	topupStatusDone = "success"
)

var minSlipAmount = decimal.NewFromInt(10)

// TopupResult зачисленный платёж.
type TopupResult struct {
	TopupID  int64
	TransRef string
	Amount   decimal.Decimal
	Balance  decimal.Decimal
}

// RedeemVoucher активирует ваучер на кошелёк магазина и зачисляет его
// пользователю один раз.
func (s *Service) RedeemVoucher(ctx context.Context, shopID model.ShopID, userID int64, voucher string) (*TopupResult, error) {
	settings, err := s.topupSettings(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if settings.TrueMoneyPhone == "" || s.vouchers == nil {
		return nil, ErrTopupNotConfigured
	}

	red, err := s.vouchers.Redeem(ctx, settings.TrueMoneyPhone, voucher)
	if err != nil {
		s.logger.Info("voucher redemption failed",
			zap.Int64("shop_id", int64(shopID)),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		s.metrics.ObserveTopup(string(model.TopupMethodVoucher), "rejected")
		return nil, mapGatewayError(err)
	}

	return s.creditTopup(ctx, model.Topup{
		ShopID:     shopID,
		UserID:     userID,
		Method:     model.TopupMethodVoucher,
		TransRef:   red.VoucherID,
		Amount:     red.Amount,
		SenderName: red.OwnerName,
		Status:     topupStatusDone,
	})
}

// VerifySlip проверяет слип перевода и зачисляет платёж один раз
// на каждую ссылку транзакции шлюза.
func (s *Service) VerifySlip(ctx context.Context, shopID model.ShopID, userID int64, filename string, image io.Reader) (*TopupResult, error) {
	settings, err := s.topupSettings(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if settings.EasySlipToken == "" || settings.ReceiverAccount == "" || s.slips == nil {
		return nil, ErrTopupNotConfigured
	}

	slip, err := s.slips.Verify(ctx, settings.EasySlipToken, filename, image)
	if err != nil {
		s.logger.Info("slip verification failed",
			zap.Int64("shop_id", int64(shopID)),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		s.metrics.ObserveTopup(string(model.TopupMethodSlip), "rejected")
		return nil, mapGatewayError(err)
	}

	if err := checkSlip(slip.Date, slip.Amount, slip.ReceiverBankAccount, slip.ReceiverProxyAccount, settings.ReceiverAccount, s.now()); err != nil {
		s.logger.Info("slip rejected",
			zap.Int64("shop_id", int64(shopID)),
			zap.Int64("user_id", userID),
			zap.String("trans_ref", slip.TransRef),
			zap.Error(err),
		)
		s.metrics.ObserveTopup(string(model.TopupMethodSlip), "rejected")
		return nil, err
	}

	return s.creditTopup(ctx, model.Topup{
		ShopID:       shopID,
		UserID:       userID,
		Method:       model.TopupMethodSlip,
		TransRef:     slip.TransRef,
		Amount:       slip.Amount,
		SenderName:   slip.SenderName,
		ReceiverName: slip.ReceiverName,
		Status:       topupStatusDone,
	})
}

func checkSlip(date time.Time, amount decimal.Decimal, bankAccount, proxyAccount, configured string, now time.Time) error {
	if date.IsZero() || now.Sub(date) > slipMaxAge {
		return ErrSlipExpired
	}
	if !validation.ReceiverAccountMatches(bankAccount, configured) &&
		!validation.ReceiverAccountMatches(proxyAccount, configured) {
		return ErrReceiverMismatch
	}
	if amount.LessThan(minSlipAmount) {
		return ErrAmountTooLow
	}
	return nil
}

// creditTopup записывает подтверждённый шлюзом платёж. Проверка ссылки под
// блокировкой гарантирует однократное зачисление. Прочие ошибки оставляют
// подтверждённые средства незачисленными и возвращаются как несверенные.
func (s *Service) creditTopup(ctx context.Context, t model.Topup) (*TopupResult, error) {
	// Шлюз уже перевёл деньги, завершаем даже если клиент ушёл.
	ctx = context.WithoutCancel(ctx)

	var res TopupResult
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		exists, err := tx.TopupRefExists(ctx, t.ShopID, t.TransRef)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyUsed
		}

		balance, err := ledger.Credit(ctx, tx, t.ShopID, t.UserID, t.Amount)
		if err != nil {
			return err
		}

		id, err := tx.InsertTopup(ctx, &t)
		if err != nil {
			return err
		}

		res = TopupResult{TopupID: id, TransRef: t.TransRef, Amount: t.Amount, Balance: balance}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyUsed) || errors.Is(err, repository.ErrDuplicateTransRef) {
			s.metrics.ObserveTopup(string(t.Method), "duplicate")
			return nil, ErrAlreadyUsed.WithCause(err)
		}

		s.logger.Error("gateway-confirmed payment not credited",
			zap.Int64("shop_id", int64(t.ShopID)),
			zap.Int64("user_id", t.UserID),
			zap.String("method", string(t.Method)),
			zap.String("trans_ref", t.TransRef),
			zap.String("amount", t.Amount.StringFixed(2)),
			zap.String("sender", t.SenderName),
			zap.Error(err),
		)
		s.metrics.IncUnreconciled(string(t.Method))
		return nil, ErrUnreconciled.WithCause(err)
	}

	s.metrics.ObserveTopup(string(t.Method), "credited")
	s.publisher.TopupCredited(ctx, events.TopupEvent{
		ShopID:   int64(t.ShopID),
		UserID:   t.UserID,
		Method:   string(t.Method),
		TransRef: t.TransRef,
		Amount:   t.Amount,
		At:       s.now(),
	})
	return &res, nil
}

// topupSettings возвращает реквизиты получателя реестра. Только мастер-реестр
// берёт их из конфигурации процесса, у магазинов должны быть свои настройки.
func (s *Service) topupSettings(ctx context.Context, shopID model.ShopID) (*model.ShopSettings, error) {
	if shopID.IsMaster() {
		master := s.cfg.Master
		master.ShopID = model.MasterShopID
		return &master, nil
	}

	settings, err := s.repo.GetShopSettings(ctx, shopID)
	if err != nil {
		if errors.Is(err, repository.ErrShopNotFound) {
			return nil, ErrTopupNotConfigured
		}
		return nil, mapRepoError(err)
	}
	return settings, nil
}
