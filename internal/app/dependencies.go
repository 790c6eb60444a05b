package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
	"github.com/vladislavdragonenkov/storefront-payments/internal/gateway"
	"github.com/vladislavdragonenkov/storefront-payments/internal/messaging"
	"github.com/vladislavdragonenkov/storefront-payments/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront-payments/internal/metrics"
	"github.com/vladislavdragonenkov/storefront-payments/internal/notify"
	"github.com/vladislavdragonenkov/storefront-payments/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront-payments/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront-payments/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront-payments/internal/service/reconcile"
	"github.com/vladislavdragonenkov/storefront-payments/internal/service/review"
	"github.com/vladislavdragonenkov/storefront-payments/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront-payments/internal/storage/postgres"
)

// Dependencies содержит собранный граф зависимостей сервиса.
type Dependencies struct {
	Orders    domain.OrderRepository
	Customers domain.CustomerRepository
	Inventory domain.InventoryRepository
	Coupons   domain.CouponRepository
	Claims    domain.ClaimLedger
	Outbox    domain.OutboxRepository
	Reviews   domain.ReviewRepository

	Gateways   *gateway.Registry
	Builder    *checkout.Builder
	Reconciler *reconcile.Reconciler
	Metrics    *metrics.PipelineMetrics

	OutboxWorker *outbox.Worker
	ReviewWorker *review.Worker
	ClaimSweeper *idempotency.Sweeper

	// Store и KafkaProducer не nil только для соответствующего драйвера.
	Store         *postgres.Store
	KafkaProducer *kafka.Producer

	Logger *log.Entry
}

// NewDependencies собирает все зависимости по конфигурации.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Logger:  logger,
		Metrics: metrics.NewPipelineMetrics(),
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		return nil, err
	}
	deps.initGateways(cfg, logger)

	deps.Builder = checkout.NewBuilder(checkout.Config{
		Currency:                   cfg.Currency,
		FlatShippingFeeMinor:       cfg.FlatShippingFeeMinor,
		FreeShippingThresholdMinor: cfg.FreeShippingThresholdMinor,
		SuccessURL:                 cfg.SuccessURL,
		CancelURL:                  cfg.CancelURL,
	}, deps.Inventory, deps.Coupons, deps.Gateways, logger.WithField("component", "checkout-builder"))

	deps.Reconciler = reconcile.NewReconciler(reconcile.Deps{
		Orders:    deps.Orders,
		Customers: deps.Customers,
		Inventory: deps.Inventory,
		Claims:    deps.Claims,
		Outbox:    deps.Outbox,
		Reviews:   deps.Reviews,
		Notifier:  notify.NewLogNotifier(logger.WithField("component", "notifier")),
	},
		reconcile.WithLogger(logger.WithField("component", "payment-reconciler")),
		reconcile.WithMetrics(deps.Metrics),
		reconcile.WithClaimDeadline(cfg.ClaimDeadline),
		reconcile.WithTotalEpsilonMinor(cfg.TotalEpsilonMinor),
	)

	publisher, err := deps.initPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}

	deps.OutboxWorker = outbox.NewWorker(deps.Outbox, publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
	)
	deps.ReviewWorker = review.NewWorker(deps.Reviews, deps.Inventory, deps.Customers,
		review.WithLogger(logger.WithField("component", "review-worker")),
		review.WithPollInterval(cfg.ReviewPollInterval),
	)
	deps.ClaimSweeper = idempotency.NewSweeper(deps.Claims,
		idempotency.WithLogger(logger.WithField("component", "claim-sweeper")),
		idempotency.WithInterval(cfg.SweepInterval),
	)

	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg Config) error {
	switch cfg.StorageDriver {
	case StoragePostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("ensure schema: %w", err)
		}
		d.Store = store
		d.Orders = postgres.NewOrderRepository(store)
		d.Customers = postgres.NewCustomerRepository(store)
		d.Inventory = postgres.NewInventoryRepository(store)
		d.Coupons = postgres.NewCouponRepository(store)
		d.Claims = postgres.NewClaimLedger(store)
		d.Outbox = postgres.NewOutboxRepository(store)
		d.Reviews = postgres.NewReviewRepository(store)
		d.Logger.Info("postgres storage initialized")
	case StorageMemory:
		coupons := memory.NewCouponRepository()
		d.Orders = memory.NewOrderRepository()
		d.Customers = memory.NewCustomerRepository()
		d.Inventory = memory.NewInventoryRepository()
		d.Coupons = coupons
		d.Claims = memory.NewClaimLedger()
		d.Outbox = memory.NewOutboxRepository()
		d.Reviews = memory.NewReviewRepository()
		if cfg.SeedDemoData {
			seedDemoData(d.Inventory, coupons)
			d.Logger.Info("demo catalog and coupons seeded")
		}
		d.Logger.Warn("using in-memory storage, all data is lost on restart")
	default:
		return fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}

	return nil
}

func (d *Dependencies) initGateways(cfg Config, logger *log.Entry) {
	d.Gateways = gateway.NewRegistry()

	if cfg.Stripe.Configured() {
		d.Gateways.Register(gateway.NewStripe(cfg.Stripe, logger.WithField("component", "gateway-stripe")))
	}
	if cfg.MercadoPago.Configured() {
		d.Gateways.Register(gateway.NewMercadoPago(cfg.MercadoPago, logger.WithField("component", "gateway-mercadopago")))
	}

	names := d.Gateways.Names()
	if len(names) == 0 {
		logger.Warn("no payment gateways configured, checkout will answer 503")
		return
	}
	logger.WithField("providers", names).Info("payment gateways initialized")
}

// initPublisher выбирает издателя для outbox-воркера. Без брокеров
// события уходят в лог: удобно для разработки, вся остальная цепочка
// ведёт себя как боевая.
func (d *Dependencies) initPublisher(cfg Config, logger *log.Entry) (domain.OutboxPublisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn("kafka brokers are not configured, order events go to log only")
		return messaging.NewLogPublisher(logger.WithField("component", "log-publisher")), nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	d.KafkaProducer = producer
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")

	return kafka.NewOutboxPublisher(producer, cfg.KafkaTopic), nil
}

// Close освобождает внешние ресурсы графа зависимостей.
func (d *Dependencies) Close() {
	if d.KafkaProducer != nil {
		if err := d.KafkaProducer.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			d.Logger.Info("kafka producer closed")
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}

type couponSeeder interface {
	Put(coupon domain.Coupon)
}

func seedDemoData(inventory domain.InventoryRepository, coupons couponSeeder) {
	lines := []domain.InventoryLine{
		{ProductID: "mattress-cloud", Variant: "twin", Name: "Cloud Mattress Twin", PriceMinor: 59900, Stock: 25},
		{ProductID: "mattress-cloud", Variant: "queen", Name: "Cloud Mattress Queen", PriceMinor: 89900, Stock: 40},
		{ProductID: "mattress-cloud", Variant: "king", Name: "Cloud Mattress King", PriceMinor: 109900, Stock: 15},
		{ProductID: "pillow-ergo", Variant: "", Name: "Ergo Pillow", PriceMinor: 4500, Stock: 200},
		{ProductID: "sheets-bamboo", Variant: "queen", Name: "Bamboo Sheet Set Queen", PriceMinor: 12900, Stock: 80},
	}
	for _, line := range lines {
		_ = inventory.Upsert(line)
	}

	coupons.Put(domain.Coupon{Code: "SLEEP10", Type: domain.CouponPercentage, Value: 10})
	coupons.Put(domain.Coupon{Code: "WELCOME20", Type: domain.CouponFixed, Value: 2000})
}
