package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/digistore/internal/events"
	"github.com/mmeshcher/digistore/internal/ledger"
	"github.com/mmeshcher/digistore/internal/model"
	"github.com/mmeshcher/digistore/internal/provider"
	"github.com/mmeshcher/digistore/internal/repository"
)

const (
	maxQuantity = 100
	// AccountFormField ключ формы с именем аккаунта, передаваемым поставщику.
	AccountFormField = "account"
)

var (
	priceTolerance = decimal.New(1, -2)
	hundred        = decimal.NewFromInt(100)
)

// PlaceOrderRequest запрос на покупку одного товара.
type PlaceOrderRequest struct {
	ShopID        model.ShopID
	UserID        int64
	ProductID     int64
	Quantity      int
	FormData      map[string]any
	ExpectedPrice *decimal.Decimal
}

// OrderResult описывает зафиксированный заказ. Processing выставляется,
// если исход у поставщика ещё неизвестен.
type OrderResult struct {
	OrderID    int64
	Status     model.OrderStatus
	UnitPrice  decimal.Decimal
	Total      decimal.Decimal
	Data       model.OrderPayload
	Processing bool
}

// PlaceOrder превращает запрос в ровно один заказ и одно списание либо ни во что.
// Api-товары списываются и фиксируются до обращения к поставщику, чтобы
// блокировка строки не удерживалась во время сетевого вызова.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResult, error) {
	if req.ProductID <= 0 {
		return nil, ErrInvalidRequest
	}
	if req.Quantity < 1 || req.Quantity > maxQuantity {
		return nil, ErrInvalidQuantity
	}

	prices := s.livePrices(ctx, req.ShopID, req.ProductID)

	var (
		order   *model.Order
		product *model.Product
		ptype   model.ProductType
	)
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		order, product = nil, nil

		p, err := tx.LockProduct(ctx, req.ShopID, req.ProductID)
		if err != nil {
			return err
		}
		ptype = p.Type
		if !p.IsActive {
			return ErrProductNotAvailable
		}

		u, err := tx.LockUser(ctx, req.ShopID, req.UserID)
		if err != nil {
			return err
		}

		unit, err := resolvePrice(p, prices)
		if err != nil {
			return err
		}
		unit = discounted(u, unit)

		if req.ExpectedPrice != nil && unit.Sub(*req.ExpectedPrice).Abs().GreaterThan(priceTolerance) {
			return ErrPriceChanged.WithDetails(map[string]any{
				"oldPrice": req.ExpectedPrice.StringFixed(2),
				"newPrice": unit.StringFixed(2),
			})
		}

		total := unit.Mul(decimal.NewFromInt(int64(req.Quantity)))
		if u.Credit.LessThan(total) {
			return ErrInsufficientCredit
		}

		o := &model.Order{
			ShopID:      req.ShopID,
			UserID:      req.UserID,
			ProductID:   p.ID,
			ProductName: p.Name,
			Price:       unit,
			Quantity:    req.Quantity,
		}

		switch p.Type {
		case model.ProductTypeAccount:
			lines := model.SplitLines(p.Account)
			if len(lines) < req.Quantity {
				return ErrOutOfStock
			}
			o.Data = model.CredentialPayload(lines[:req.Quantity])
			o.Status = model.OrderStatusCompleted
			if err := tx.UpdateProductAccount(ctx, p.ID, strings.Join(lines[req.Quantity:], "\n")); err != nil {
				return err
			}
		case model.ProductTypeForm:
			if len(req.FormData) == 0 {
				return ErrMissingFormData
			}
			o.Data = model.FormPayload(req.FormData)
			o.Status = model.OrderStatusPending
		case model.ProductTypeAPI:
			if p.APITypeID == "" {
				return ErrMisconfiguredProduct
			}
			if req.Quantity != 1 {
				return ErrInvalidQuantity
			}
			o.Status = model.OrderStatusAPIPending
			o.APITransactionID = fmt.Sprintf("%d-%d-%d", req.UserID, p.ID, s.now().UnixMilli())
		default:
			return ErrMisconfiguredProduct
		}

		if _, err := ledger.Debit(ctx, tx, req.ShopID, req.UserID, total); err != nil {
			return err
		}

		id, err := tx.InsertOrder(ctx, o)
		if err != nil {
			return err
		}
		o.ID = id

		order, product = o, p
		return nil
	})
	if err != nil {
		mapped := mapRepoError(err)
		s.metrics.ObserveOrder(string(ptype), "rejected")
		return nil, mapped
	}

	if product.Type != model.ProductTypeAPI {
		s.orderCommitted(ctx, order, product.Type)
		return &OrderResult{
			OrderID:   order.ID,
			Status:    order.Status,
			UnitPrice: order.Price,
			Total:     order.Total(),
			Data:      order.Data,
		}, nil
	}

	return s.fulfillAPIOrder(ctx, order, product, accountName(req.FormData))
}

// fulfillAPIOrder обращается к поставщику по зафиксированному заказу api_pending.
func (s *Service) fulfillAPIOrder(ctx context.Context, order *model.Order, product *model.Product, account string) (*OrderResult, error) {
	// Покупку нельзя бросать, если клиент ушёл.
	base := context.WithoutCancel(ctx)

	callCtx, cancel := context.WithTimeout(base, s.cfg.ProviderTimeout)
	data, err := s.buy(callCtx, product.APITypeID, account)
	cancel()

	result := &OrderResult{
		OrderID:   order.ID,
		UnitPrice: order.Price,
		Total:     order.Total(),
	}

	var rejected *provider.RejectedError
	switch {
	case err == nil:
		payload := model.FulfillmentPayload(data)
		uerr := s.repo.WithTx(base, func(tx repository.Tx) error {
			o, err := tx.LockOrder(base, order.ShopID, order.ID)
			if err != nil {
				return err
			}
			if o.Status != model.OrderStatusAPIPending {
				return ErrOrderNotPending
			}
			return tx.SetOrderResult(base, order.ID, model.OrderStatusCompleted, payload)
		})
		if uerr != nil {
			s.logger.Error("provider fulfilled order but status update failed",
				zap.Int64("order_id", order.ID),
				zap.Int64("shop_id", int64(order.ShopID)),
				zap.Int64("user_id", order.UserID),
				zap.String("api_transaction_id", order.APITransactionID),
				zap.ByteString("fulfillment", data),
				zap.Error(uerr),
			)
			result.Status = model.OrderStatusAPIPending
			result.Processing = true
			s.metrics.ObserveOrder(string(product.Type), "processing")
			return result, nil
		}
		order.Status, order.Data = model.OrderStatusCompleted, payload
		result.Status, result.Data = order.Status, payload
		s.orderCommitted(base, order, product.Type)
		return result, nil

	case errors.As(err, &rejected):
		if rerr := s.refundRejectedOrder(base, order); rerr != nil {
			s.logger.Error("refund of rejected api order failed",
				zap.Int64("order_id", order.ID),
				zap.Int64("shop_id", int64(order.ShopID)),
				zap.Int64("user_id", order.UserID),
				zap.String("provider_message", rejected.Message),
				zap.Error(rerr),
			)
			return nil, mapRepoError(rerr)
		}
		s.metrics.ObserveOrder(string(product.Type), "provider_rejected")
		return nil, ErrProviderRejected.
			WithMessage(ErrProviderRejected.Message() + ": " + rejected.Message).
			WithCause(err)

	default:
		lastErr := err.Error()
		if errors.Is(err, provider.ErrTimeout) {
			lastErr = fmt.Sprintf("provider timeout after %s", s.cfg.ProviderTimeout)
		}
		aerr := s.repo.WithTx(base, func(tx repository.Tx) error {
			return tx.RecordOrderAttempt(base, order.ID, lastErr)
		})
		if aerr != nil {
			s.logger.Error("record provider attempt", zap.Int64("order_id", order.ID), zap.Error(aerr))
		}
		s.logger.Warn("api order left pending",
			zap.Int64("order_id", order.ID),
			zap.String("api_transaction_id", order.APITransactionID),
			zap.Error(err),
		)
		order.Status = model.OrderStatusAPIPending
		result.Status = order.Status
		result.Processing = true
		s.orderCommitted(base, order, product.Type)
		return result, nil
	}
}

func (s *Service) buy(ctx context.Context, typeID, account string) (json.RawMessage, error) {
	if s.provider == nil {
		return nil, &provider.RejectedError{Message: "provider not configured"}
	}
	return s.provider.Buy(ctx, typeID, account)
}

// refundRejectedOrder удаляет заказ, явно отклонённый поставщиком, и возвращает
// списание, как будто заказа не было.
func (s *Service) refundRejectedOrder(ctx context.Context, order *model.Order) error {
	return s.repo.WithTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, order.ShopID, order.ID)
		if err != nil {
			return err
		}
		if o.Status != model.OrderStatusAPIPending {
			return ErrOrderNotPending
		}
		if _, err := ledger.Credit(ctx, tx, o.ShopID, o.UserID, o.Total()); err != nil {
			return err
		}
		return tx.DeleteOrder(ctx, o.ID)
	})
}

// ResolveOutcome решение оператора по заказу api_pending.
type ResolveOutcome string

const (
	ResolveCompleted ResolveOutcome = "completed"
	ResolveRefund    ResolveOutcome = "refund"
)

// ResolveAPIOrder урегулирует заказ с неизвестным исходом у поставщика.
// Исход completed записывает данные выдачи, refund отменяет заказ
// и возвращает баланс покупателю в той же транзакции.
func (s *Service) ResolveAPIOrder(ctx context.Context, shopID model.ShopID, orderID int64, outcome ResolveOutcome, data json.RawMessage) (*model.Order, error) {
	if outcome != ResolveCompleted && outcome != ResolveRefund {
		return nil, ErrInvalidRequest
	}

	var resolved *model.Order
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, shopID, orderID)
		if err != nil {
			return err
		}
		if o.Status != model.OrderStatusAPIPending {
			return ErrOrderNotPending
		}

		switch outcome {
		case ResolveCompleted:
			o.Status = model.OrderStatusCompleted
			o.Data = model.FulfillmentPayload(data)
		case ResolveRefund:
			if _, err := ledger.Credit(ctx, tx, o.ShopID, o.UserID, o.Total()); err != nil {
				return err
			}
			o.Status = model.OrderStatusCancelled
		}

		if err := tx.SetOrderResult(ctx, o.ID, o.Status, o.Data); err != nil {
			return err
		}
		resolved = o
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.Info("api order resolved",
		zap.Int64("order_id", resolved.ID),
		zap.Int64("shop_id", int64(shopID)),
		zap.String("outcome", string(outcome)),
	)
	s.orderCommitted(ctx, resolved, model.ProductTypeAPI)
	return resolved, nil
}

// livePrices загружает прайс-лист поставщика для товаров с автоценой.
// Нулевая карта означает отсутствие снимка, и resolvePrice отказывает таким товарам.
func (s *Service) livePrices(ctx context.Context, shopID model.ShopID, productID int64) map[string]decimal.Decimal {
	p, err := s.repo.GetProduct(ctx, shopID, productID)
	if err != nil || p.Type != model.ProductTypeAPI || !p.IsAutoPrice || s.provider == nil {
		return nil
	}

	items, err := s.provider.Prices(ctx)
	if err != nil {
		s.logger.Warn("fetch provider prices", zap.Int64("product_id", productID), zap.Error(err))
		return nil
	}
	return provider.PriceMap(items)
}

// resolvePrice возвращает итоговую цену за единицу. Api-товары с автоценой
// никогда не берут сохранённую цену.
func resolvePrice(p *model.Product, prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	if p.Type != model.ProductTypeAPI || !p.IsAutoPrice {
		return p.Price, nil
	}
	price, ok := prices[p.APITypeID]
	if !ok || !price.IsPositive() {
		return decimal.Zero, ErrPriceUnavailable
	}
	return price.Round(2), nil
}

// discounted применяет скидку агента в процентах с округлением до сатангов.
func discounted(u *model.User, price decimal.Decimal) decimal.Decimal {
	if u.Role != model.RoleAgent || !u.AgentDiscount.IsPositive() {
		return price
	}
	d := u.AgentDiscount
	if d.GreaterThan(hundred) {
		d = hundred
	}
	return price.Mul(hundred.Sub(d)).Div(hundred).Round(2)
}

func accountName(form map[string]any) string {
	if v, ok := form[AccountFormField].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func (s *Service) orderCommitted(ctx context.Context, o *model.Order, ptype model.ProductType) {
	s.metrics.ObserveOrder(string(ptype), string(o.Status))
	s.publisher.OrderPlaced(ctx, events.OrderEvent{
		OrderID:   o.ID,
		ShopID:    int64(o.ShopID),
		UserID:    o.UserID,
		ProductID: o.ProductID,
		Status:    string(o.Status),
		Total:     o.Total(),
		At:        s.now(),
	})
}
