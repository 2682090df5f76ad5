package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const pendingScanLimit = 100

// StartPendingMonitor периодически сообщает об api-заказах, ожидающих поставщика.
// Заказы и балансы не меняются, их урегулирует оператор (см. ResolveAPIOrder).
func (s *Service) StartPendingMonitor(ctx context.Context) {
	if s.cfg.ScanInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(s.cfg.ScanInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.scanPendingOrders(ctx)
			}
		}
	}()
}

// scanPendingOrders выставляет число зависших api-заказов и логирует
// pendingScanLimit самых старых из них.
func (s *Service) scanPendingOrders(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.StaleAfter)

	total, err := s.repo.CountStalePendingOrders(ctx, cutoff)
	if err != nil {
		s.logger.Warn("count pending api orders", zap.Error(err))
		return 0
	}
	s.metrics.SetStalePending(total)
	if total == 0 {
		return 0
	}

	orders, err := s.repo.GetStalePendingOrders(ctx, cutoff, pendingScanLimit)
	if err != nil {
		s.logger.Warn("scan pending api orders", zap.Error(err))
		return total
	}

	for _, o := range orders {
		s.logger.Warn("api order awaiting resolution",
			zap.Int64("order_id", o.ID),
			zap.Int64("shop_id", int64(o.ShopID)),
			zap.Int64("user_id", o.UserID),
			zap.String("api_transaction_id", o.APITransactionID),
			zap.Int("retry_count", o.RetryCount),
			zap.String("last_error", o.LastError),
			zap.Duration("age", s.now().Sub(o.CreatedAt)),
		)
	}
	return total
}
