// Package config содержит логику чтения конфигурации сервиса digistore.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации сервиса digistore.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	ProviderAddress string `env:"PROVIDER_ADDRESS"`
	ProviderAPIKey  string `env:"PROVIDER_API_KEY"`

	JWTSecret    string `env:"JWT_SECRET"`
	MasterDomain string `env:"MASTER_DOMAIN" envDefault:"localhost"`

	RedisURL string `env:"REDIS_URL"`
	NATSURL  string `env:"NATS_URL"`

	MasterTrueMoneyPhone  string `env:"MASTER_TRUEMONEY_PHONE"`
	MasterEasySlipToken   string `env:"MASTER_EASYSLIP_TOKEN"`
	MasterReceiverAccount string `env:"MASTER_RECEIVER_ACCOUNT"`
	TrueMoneyBaseURL      string `env:"TRUEMONEY_BASE_URL"`
	EasySlipBaseURL       string `env:"EASYSLIP_BASE_URL"`

	ShopPlanPrice       decimal.Decimal `env:"SHOP_PLAN_PRICE" envDefault:"100.00"`
	ShopPlanDays        int             `env:"SHOP_PLAN_DAYS" envDefault:"30"`
	PendingScanInterval time.Duration   `env:"PENDING_SCAN_INTERVAL" envDefault:"1m"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envProviderAddress := cfg.ProviderAddress

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ProviderAddress, "p", "", "fulfillment provider address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envProviderAddress != "" {
		cfg.ProviderAddress = envProviderAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет параметры, для которых нет значения по умолчанию.
func (c *Config) Validate() error {
	var errs []error
	if !c.ShopPlanPrice.IsPositive() {
		errs = append(errs, fmt.Errorf("SHOP_PLAN_PRICE must be positive, got %s", c.ShopPlanPrice))
	} else if !c.ShopPlanPrice.Equal(c.ShopPlanPrice.Round(2)) {
		errs = append(errs, fmt.Errorf("SHOP_PLAN_PRICE has more than 2 decimal places: %s", c.ShopPlanPrice))
	}
	if c.ShopPlanDays <= 0 {
		errs = append(errs, fmt.Errorf("SHOP_PLAN_DAYS must be positive, got %d", c.ShopPlanDays))
	}
	if c.PendingScanInterval < 0 {
		errs = append(errs, fmt.Errorf("PENDING_SCAN_INTERVAL must not be negative, got %s", c.PendingScanInterval))
	}
	if c.MasterDomain == "" {
		errs = append(errs, errors.New("MASTER_DOMAIN must not be empty"))
	}
	return errors.Join(errs...)
}
