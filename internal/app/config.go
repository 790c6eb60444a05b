package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/storefront-payments/internal/gateway"
)

// Драйверы хранилища.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config собирает все настройки сервиса. Источник: переменные окружения
// с префиксом PAY_, локально поверх них накатывается .env.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver string
	PostgresDSN   string

	// KafkaBrokers пустой выключает публикацию: outbox-воркер пишет
	// события в лог вместо брокера.
	KafkaBrokers []string
	KafkaTopic   string

	Currency                   string
	FlatShippingFeeMinor       int64
	FreeShippingThresholdMinor int64
	SuccessURL                 string
	CancelURL                  string

	Stripe      gateway.StripeConfig
	MercadoPago gateway.MercadoPagoConfig

	ClaimDeadline     time.Duration
	TotalEpsilonMinor int64

	OutboxPollInterval time.Duration
	ReviewPollInterval time.Duration
	SweepInterval      time.Duration

	// SeedDemoData заполняет память демо-каталогом и купонами.
	// Игнорируется для postgres.
	SeedDemoData bool
}

// DefaultConfig возвращает конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver: StorageMemory,
		KafkaTopic:    "storefront.order.events",

		Currency:                   "USD",
		FlatShippingFeeMinor:       5000,
		FreeShippingThresholdMinor: 50000,
		SuccessURL:                 "http://localhost:3000/checkout/success",
		CancelURL:                  "http://localhost:3000/checkout/cancel",

		ClaimDeadline:     10 * time.Minute,
		TotalEpsilonMinor: 1,

		OutboxPollInterval: 2 * time.Second,
		ReviewPollInterval: 5 * time.Second,
		SweepInterval:      time.Minute,

		SeedDemoData: true,
	}
}

// LoadConfig читает конфигурацию из окружения поверх значений по умолчанию.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	cfg.HTTPAddr = getenv("PAY_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = getenv("PAY_METRICS_ADDR", cfg.MetricsAddr)

	cfg.StorageDriver = strings.ToLower(getenv("PAY_STORAGE_DRIVER", cfg.StorageDriver))
	cfg.PostgresDSN = getenv("PAY_POSTGRES_DSN", cfg.PostgresDSN)
	switch cfg.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return Config{}, fmt.Errorf("PAY_POSTGRES_DSN is required for storage driver %q", cfg.StorageDriver)
		}
	default:
		return Config{}, fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}

	if brokers := getenv("PAY_KAFKA_BROKERS", ""); brokers != "" {
		for _, broker := range strings.Split(brokers, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}
	cfg.KafkaTopic = getenv("PAY_KAFKA_TOPIC", cfg.KafkaTopic)

	cfg.Currency = strings.ToUpper(getenv("PAY_CURRENCY", cfg.Currency))
	cfg.SuccessURL = getenv("PAY_CHECKOUT_SUCCESS_URL", cfg.SuccessURL)
	cfg.CancelURL = getenv("PAY_CHECKOUT_CANCEL_URL", cfg.CancelURL)

	var err error
	if cfg.FlatShippingFeeMinor, err = getenvInt64("PAY_SHIPPING_FLAT_FEE_MINOR", cfg.FlatShippingFeeMinor); err != nil {
		return Config{}, err
	}
	if cfg.FreeShippingThresholdMinor, err = getenvInt64("PAY_FREE_SHIPPING_THRESHOLD_MINOR", cfg.FreeShippingThresholdMinor); err != nil {
		return Config{}, err
	}
	if cfg.TotalEpsilonMinor, err = getenvInt64("PAY_TOTAL_EPSILON_MINOR", cfg.TotalEpsilonMinor); err != nil {
		return Config{}, err
	}
	if cfg.ClaimDeadline, err = getenvDuration("PAY_CLAIM_DEADLINE", cfg.ClaimDeadline); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = getenvDuration("PAY_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.ReviewPollInterval, err = getenvDuration("PAY_REVIEW_POLL_INTERVAL", cfg.ReviewPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = getenvDuration("PAY_CLAIM_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.SeedDemoData, err = getenvBool("PAY_SEED_DEMO_DATA", cfg.SeedDemoData); err != nil {
		return Config{}, err
	}

	cfg.Stripe = gateway.StripeConfig{
		BaseURL:       getenv("PAY_STRIPE_BASE_URL", "https://api.stripe.com"),
		APIKey:        getenv("PAY_STRIPE_API_KEY", ""),
		WebhookSecret: getenv("PAY_STRIPE_WEBHOOK_SECRET", ""),
	}
	cfg.MercadoPago = gateway.MercadoPagoConfig{
		BaseURL:       getenv("PAY_MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
		AccessToken:   getenv("PAY_MERCADOPAGO_ACCESS_TOKEN", ""),
		WebhookSecret: getenv("PAY_MERCADOPAGO_WEBHOOK_SECRET", ""),
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getenvBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}
