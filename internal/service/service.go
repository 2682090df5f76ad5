// Package service реализует денежные операции витрины: оформление заказов,
// сверку пополнений и аренду магазинов.
package service

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/digistore/internal/events"
	"github.com/mmeshcher/digistore/internal/gateway/easyslip"
	"github.com/mmeshcher/digistore/internal/gateway/truemoney"
	"github.com/mmeshcher/digistore/internal/metrics"
	"github.com/mmeshcher/digistore/internal/model"
	"github.com/mmeshcher/digistore/internal/provider"
	"github.com/mmeshcher/digistore/internal/repository"
)

// Repository описывает доступ к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	WithTx(ctx context.Context, fn func(tx repository.Tx) error) error
	GetProduct(ctx context.Context, shopID model.ShopID, productID int64) (*model.Product, error)
	GetUser(ctx context.Context, shopID model.ShopID, userID int64) (*model.User, error)
	GetOrdersByUser(ctx context.Context, shopID model.ShopID, userID int64, limit int) ([]model.Order, error)
	GetTopupsByUser(ctx context.Context, shopID model.ShopID, userID int64, limit int) ([]model.Topup, error)
	GetShopSettings(ctx context.Context, shopID model.ShopID) (*model.ShopSettings, error)
	CountStalePendingOrders(ctx context.Context, before time.Time) (int, error)
	GetStalePendingOrders(ctx context.Context, before time.Time, limit int) ([]repository.StalePendingOrder, error)
}

// FulfillmentProvider покупает товары типа api у поставщика.
type FulfillmentProvider interface {
	Buy(ctx context.Context, typeID, account string) (json.RawMessage, error)
	Prices(ctx context.Context) ([]provider.PriceItem, error)
}

// VoucherGateway активирует подарочные ваучеры.
type VoucherGateway interface {
	Redeem(ctx context.Context, mobile, voucher string) (*truemoney.Redemption, error)
}

// SlipGateway проверяет слипы переводов.
type SlipGateway interface {
	Verify(ctx context.Context, token, filename string, image io.Reader) (*easyslip.Slip, error)
}

// Deps внешние зависимости сервиса. Нулевые Publisher и Logger заменяются
// пустыми реализациями.
type Deps struct {
	Provider  FulfillmentProvider
	Vouchers  VoucherGateway
	Slips     SlipGateway
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Config содержит параметры бизнес-логики.
type Config struct {
	ProviderTimeout time.Duration
	Master          model.ShopSettings
	PlanPrice       decimal.Decimal
	PlanDays        int
	StaleAfter      time.Duration
	ScanInterval    time.Duration
}

const (
	defaultProviderTimeout = 10 * time.Second
	defaultStaleAfter      = 5 * time.Minute
	historyLimit           = 100
)

// Service содержит бизнес-логику витрины.
type Service struct {
	repo      Repository
	provider  FulfillmentProvider
	vouchers  VoucherGateway
	slips     SlipGateway
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time
}

// NewService создаёт сервис поверх repo.
func NewService(repo Repository, deps Deps, cfg Config) *Service {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.PlanDays <= 0 {
		cfg.PlanDays = 30
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		provider:  deps.Provider,
		vouchers:  deps.Vouchers,
		slips:     deps.Slips,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Close закрывает репозиторий.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность БД.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// GetBalance возвращает баланс пользователя.
func (s *Service) GetBalance(ctx context.Context, shopID model.ShopID, userID int64) (*model.Balance, error) {
	u, err := s.repo.GetUser(ctx, shopID, userID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return &model.Balance{Credit: u.Credit}, nil
}

// GetOrdersByUser возвращает последние заказы пользователя в магазине.
func (s *Service) GetOrdersByUser(ctx context.Context, shopID model.ShopID, userID int64) ([]model.Order, error) {
	orders, err := s.repo.GetOrdersByUser(ctx, shopID, userID, historyLimit)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return orders, nil
}

// GetTopupsByUser возвращает последние пополнения пользователя.
func (s *Service) GetTopupsByUser(ctx context.Context, shopID model.ShopID, userID int64) ([]model.Topup, error) {
	topups, err := s.repo.GetTopupsByUser(ctx, shopID, userID, historyLimit)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return topups, nil
}
