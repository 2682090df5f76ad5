// Package main запускает HTTP-сервер сервиса digistore.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/digistore/internal/config"
	"github.com/mmeshcher/digistore/internal/events"
	"github.com/mmeshcher/digistore/internal/gateway/easyslip"
	"github.com/mmeshcher/digistore/internal/gateway/truemoney"
	"github.com/mmeshcher/digistore/internal/handler"
	"github.com/mmeshcher/digistore/internal/idempotency"
	"github.com/mmeshcher/digistore/internal/metrics"
	"github.com/mmeshcher/digistore/internal/middleware"
	"github.com/mmeshcher/digistore/internal/model"
	"github.com/mmeshcher/digistore/internal/provider"
	"github.com/mmeshcher/digistore/internal/repository"
	"github.com/mmeshcher/digistore/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := service.Deps{
		Vouchers: truemoney.NewClient(cfg.TrueMoneyBaseURL),
		Slips:    easyslip.NewClient(cfg.EasySlipBaseURL),
		Metrics:  metrics.New(reg),
		Logger:   logger,
	}
	if cfg.ProviderAddress != "" {
		deps.Provider = provider.NewClient(cfg.ProviderAddress, cfg.ProviderAPIKey)
	} else {
		sugar.Warn("PROVIDER_ADDRESS is not set, api products are disabled")
	}

	if cfg.NATSURL != "" {
		publisher, nc, err := events.Connect(cfg.NATSURL, logger)
		if err != nil {
			sugar.Fatalw("nats connection error", "error", err.Error())
		}
		defer nc.Drain()
		deps.Publisher = publisher
	}

	var guard idempotency.Guard = idempotency.NewMemoryGuard(idempotency.DefaultWindow)
	if cfg.RedisURL != "" {
		rdb, err := idempotency.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			sugar.Fatalw("redis connection error", "error", err.Error())
		}
		defer rdb.Close()
		guard = idempotency.NewRedisGuard(rdb, idempotency.DefaultWindow)
	}

	svc := service.NewService(repo, deps, service.Config{
		Master: model.ShopSettings{
			ShopID:          model.MasterShopID,
			TrueMoneyPhone:  cfg.MasterTrueMoneyPhone,
			EasySlipToken:   cfg.MasterEasySlipToken,
			ReceiverAccount: cfg.MasterReceiverAccount,
		},
		PlanPrice:    cfg.ShopPlanPrice,
		PlanDays:     cfg.ShopPlanDays,
		ScanInterval: cfg.PendingScanInterval,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is not set, sessions will not survive a restart")
	}
	tenantMiddleware := middleware.NewTenantMiddleware(repo, cfg.MasterDomain, logger)

	h := handler.NewHandler(svc, guard, logger, authMiddleware, tenantMiddleware,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.StartPendingMonitor(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting digistore server", "addr", cfg.RunAddress, "master_domain", cfg.MasterDomain)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown по сигналу или при ошибке в другой горутине
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
