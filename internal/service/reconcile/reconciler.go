// Package reconcile превращает подтверждённые платежи шлюза в заказы:
// атомарный захват ссылки, резолвинг покупателя, материализация заказа
// и best-effort побочные эффекты.
package reconcile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
	"github.com/vladislavdragonenkov/storefront-payments/internal/metrics"
)

const (
	defaultClaimDeadline  = 10 * time.Minute
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	// defaultTotalEpsilonMinor: допуск на округление валюты при сверке
	// суммы события со снимком.
	defaultTotalEpsilonMinor = 1
)

// orderEventType: тип события, публикуемого через outbox после коммита.
const orderEventType = "order.confirmed"

// Options задаёт параметры реконсилятора.
type Options struct {
	Logger  *log.Entry
	Metrics *metrics.PipelineMetrics
	// ClaimDeadline: через сколько sweeper освободит незавершённую заявку.
	ClaimDeadline time.Duration
	// MaxAttempts ограничивает попытки материализации после захвата.
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	TotalEpsilonMinor int64
}

// Option настраивает Reconciler.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics задаёт метрики пайплайна.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithClaimDeadline задаёт дедлайн заявки идемпотентности.
func WithClaimDeadline(deadline time.Duration) Option {
	return func(opts *Options) { opts.ClaimDeadline = deadline }
}

// WithMaxAttempts задаёт число попыток материализации.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *Options) { opts.MaxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт базовую задержку exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *Options) { opts.RetryBaseDelay = delay }
}

// WithTotalEpsilonMinor задаёт допуск сверки сумм.
func WithTotalEpsilonMinor(epsilon int64) Option {
	return func(opts *Options) { opts.TotalEpsilonMinor = epsilon }
}

// Reconciler обрабатывает нормализованные события оплаты.
// Exactly-once достигается атомарным захватом внешней ссылки в
// ClaimLedger: всё после успешного захвата выполняется без
// синхронизации с другими доставками той же ссылки.
type Reconciler struct {
	orders    domain.OrderRepository
	customers domain.CustomerRepository
	inventory domain.InventoryRepository
	claims    domain.ClaimLedger
	outbox    domain.OutboxRepository
	reviews   domain.ReviewRepository
	notifier  domain.Notifier

	logger            *log.Entry
	metrics           *metrics.PipelineMetrics
	claimDeadline     time.Duration
	maxAttempts       int
	retryBaseDelay    time.Duration
	totalEpsilonMinor int64

	now func() time.Time
}

// Deps перечисляет зависимости реконсилятора.
type Deps struct {
	Orders    domain.OrderRepository
	Customers domain.CustomerRepository
	Inventory domain.InventoryRepository
	Claims    domain.ClaimLedger
	Outbox    domain.OutboxRepository
	Reviews   domain.ReviewRepository
	// Notifier необязателен: nil отключает уведомления.
	Notifier domain.Notifier
}

// NewReconciler создаёт реконсилятор платежей.
func NewReconciler(deps Deps, options ...Option) *Reconciler {
	opts := Options{
		ClaimDeadline:     defaultClaimDeadline,
		MaxAttempts:       defaultMaxAttempts,
		RetryBaseDelay:    defaultRetryBaseDelay,
		TotalEpsilonMinor: defaultTotalEpsilonMinor,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "payment-reconciler")
	}
	if opts.ClaimDeadline <= 0 {
		opts.ClaimDeadline = defaultClaimDeadline
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.TotalEpsilonMinor < 0 {
		opts.TotalEpsilonMinor = defaultTotalEpsilonMinor
	}

	return &Reconciler{
		orders:            deps.Orders,
		customers:         deps.Customers,
		inventory:         deps.Inventory,
		claims:            deps.Claims,
		outbox:            deps.Outbox,
		reviews:           deps.Reviews,
		notifier:          deps.Notifier,
		logger:            logger,
		metrics:           opts.Metrics,
		claimDeadline:     opts.ClaimDeadline,
		maxAttempts:       opts.MaxAttempts,
		retryBaseDelay:    opts.RetryBaseDelay,
		totalEpsilonMinor: opts.TotalEpsilonMinor,
		now:               time.Now,
	}
}

// Result: исход обработки события.
type Result struct {
	Order domain.Order
	// Duplicate: ссылка уже обработана или обрабатывается, событие
	// подтверждено без действий.
	Duplicate bool
}

// ProcessEvent обрабатывает подтверждённый платёж. Повторная доставка
// уже обработанной ссылки возвращает Duplicate без ошибки. Сбой
// материализации после захвата помечает заявку failed и возвращает
// ошибку, чтобы шлюз повторил доставку после освобождения заявки.
func (r *Reconciler) ProcessEvent(ctx context.Context, event domain.PaymentConfirmed) (Result, error) {
	if err := event.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	logger := r.logger.WithFields(log.Fields{
		"provider":  event.Provider,
		"reference": event.ExternalReference,
	})

	claim, err := r.claims.Claim(event.ExternalReference, event.Provider, r.now().Add(r.claimDeadline))
	if domain.IsDuplicateReference(err) {
		return r.handleDuplicate(claim, logger)
	}
	if err != nil {
		return Result{}, fmt.Errorf("claim reference: %w", err)
	}

	started := r.now()
	customer := r.resolveCustomer(event, logger)

	order, err := r.materializeWithRetry(ctx, event, customer.ID, logger)
	if err != nil {
		if errors.Is(err, domain.ErrOrderExists) {
			if existing, recoverErr := r.recoverCommittedOrder(event, logger); recoverErr == nil {
				return Result{Order: existing, Duplicate: true}, nil
			}
		}
		r.abandonClaim(event, err, logger)
		if r.metrics != nil {
			r.metrics.RecordMaterializationFailed()
		}
		return Result{}, err
	}

	if completeErr := r.claims.Complete(event.ExternalReference, order.ID); completeErr != nil {
		// Заказ уже закоммичен, уникальная ссылка в заказе не даст
		// создать второй. Заявку добьёт sweeper или оператор.
		logger.WithError(completeErr).WithField("order_id", order.ID).
			Error("failed to complete payment claim, order is committed")
	}

	if r.metrics != nil {
		r.metrics.RecordOrderMaterialized()
		r.metrics.RecordMaterializationDuration(r.now().Sub(started))
	}

	r.checkInvariants(order, logger)
	r.checkAmount(event, order, logger)
	r.adjustInventory(order, logger)
	r.aggregateStats(order, customer, logger)
	r.publishOrderEvent(order, logger)

	if r.notifier != nil && customer.Email != "" {
		r.notifier.OrderConfirmed(order, customer.Email)
	}

	logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
		"customer_id":  customer.ID,
		"total_minor":  order.TotalMinor,
	}).Info("order materialized from confirmed payment")

	return Result{Order: order}, nil
}

// handleDuplicate разбирает повторный захват уже существующей заявки.
func (r *Reconciler) handleDuplicate(claim domain.PaymentClaim, logger *log.Entry) (Result, error) {
	switch claim.Status {
	case domain.ClaimStatusCompleted:
		if r.metrics != nil {
			r.metrics.RecordWebhookDuplicate()
		}
		logger.WithField("order_id", claim.OrderID).Info("duplicate delivery for completed reference")

		result := Result{Duplicate: true}
		if claim.OrderID != "" {
			if order, err := r.orders.Get(claim.OrderID); err == nil {
				result.Order = order
			}
		}
		return result, nil
	case domain.ClaimStatusProcessing:
		// Конкурентная доставка той же ссылки: захват у другого воркера.
		if r.metrics != nil {
			r.metrics.RecordWebhookDuplicate()
		}
		logger.Info("duplicate delivery while reference is in flight")
		return Result{Duplicate: true}, nil
	default:
		// Прошлая попытка провалилась. Отвечаем ошибкой: шлюз повторит
		// доставку, а sweeper к тому времени освободит заявку.
		return Result{}, domain.ErrMaterializationPending
	}
}

// recoverCommittedOrder закрывает свежую заявку заказом, закоммиченным
// прошлой попыткой. Такое остаётся после заявки, чей Complete не
// записался и которую успел освободить sweeper: повторная доставка
// натыкается на уникальную ссылку платежа в заказе.
func (r *Reconciler) recoverCommittedOrder(event domain.PaymentConfirmed, logger *log.Entry) (domain.Order, error) {
	existing, err := r.orders.GetByReference(event.ExternalReference)
	if err != nil {
		logger.WithError(err).Warn("lookup of committed order by payment reference failed")
		return domain.Order{}, err
	}

	if completeErr := r.claims.Complete(event.ExternalReference, existing.ID); completeErr != nil {
		logger.WithError(completeErr).WithField("order_id", existing.ID).
			Error("failed to complete payment claim for committed order")
	}
	if r.metrics != nil {
		r.metrics.RecordWebhookDuplicate()
	}

	logger.WithField("order_id", existing.ID).Info("reference already materialized, acknowledging delivery as duplicate")
	return existing, nil
}

// resolveCustomer находит или создаёт покупателя. Никогда не роняет
// обработку: в худшем случае заказ уходит на покупателя-заглушку с
// задачей ручной привязки.
func (r *Reconciler) resolveCustomer(event domain.PaymentConfirmed, logger *log.Entry) domain.Customer {
	if event.PayerExternalID != "" {
		customer, err := r.customers.GetByExternalID(event.PayerExternalID)
		if err == nil {
			return customer
		}
		if !errors.Is(err, domain.ErrCustomerNotFound) {
			logger.WithError(err).Warn("customer lookup by external id failed")
		}
	}

	email := strings.ToLower(strings.TrimSpace(event.PayerEmail))
	if email == "" {
		return r.placeholderCustomer(event, "payer email is empty", logger)
	}

	customer, err := r.customers.Create(domain.Customer{
		ID:         uuid.NewString(),
		ExternalID: event.PayerExternalID,
		Email:      email,
		Name:       event.PayerName,
		Phone:      event.PayerPhone,
	})
	if err == nil || errors.Is(err, domain.ErrCustomerEmailTaken) {
		// Занятый email: Create вернул существующую запись.
		return customer
	}

	// Одна повторная выборка на случай гонки с параллельной вставкой.
	if existing, fetchErr := r.customers.GetByEmail(email); fetchErr == nil {
		return existing
	}

	logger.WithError(err).Warn("customer resolution failed")
	return r.placeholderCustomer(event, err.Error(), logger)
}

// placeholderCustomer создаёт гостя-заглушку и задачу ручной привязки.
func (r *Reconciler) placeholderCustomer(event domain.PaymentConfirmed, reason string, logger *log.Entry) domain.Customer {
	placeholder := domain.Customer{
		ID:    uuid.NewString(),
		Email: "unlinked+" + strings.ToLower(event.ExternalReference) + "@orders.invalid",
		Name:  event.PayerName,
	}
	created, err := r.customers.Create(placeholder)
	if err != nil && !errors.Is(err, domain.ErrCustomerEmailTaken) {
		// Совсем без покупателя заказ не собрать, оставляем локальную
		// запись: заказ важнее консистентности справочника.
		logger.WithError(err).Error("failed to persist placeholder customer")
		created = placeholder
	}

	payload, _ := json.Marshal(map[string]string{
		"reason":      reason,
		"payer_email": event.PayerEmail,
		"payer_name":  event.PayerName,
		"external_id": event.PayerExternalID,
	})
	r.enqueueReview(domain.ReviewTask{
		Kind:      domain.ReviewKindCustomerLink,
		Reference: event.ExternalReference,
		Payload:   payload,
	}, logger)

	return created
}

// materializeWithRetry строит и сохраняет заказ. Коллизия номера
// перегенерирует номер, занятая ссылка платежа возвращается сразу,
// прочие ошибки повторяются с backoff.
func (r *Reconciler) materializeWithRetry(ctx context.Context, event domain.PaymentConfirmed, customerID string, logger *log.Entry) (domain.Order, error) {
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		order := r.buildOrder(event, customerID)

		err := r.orders.Create(order)
		if err == nil {
			return order, nil
		}
		lastErr = err

		if errors.Is(err, domain.ErrOrderNumberTaken) {
			// Номер перегенерируется на следующей итерации, попытка
			// не тратится на backoff.
			logger.WithField("order_number", order.Number).Info("order number collision, regenerating")
			continue
		}

		if errors.Is(err, domain.ErrOrderExists) {
			// Ссылка платежа уже закреплена за заказом, повтор вставки
			// безнадёжен.
			return domain.Order{}, err
		}

		if attempt >= r.maxAttempts {
			break
		}

		delay := r.retryBaseDelay * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return domain.Order{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	return domain.Order{}, fmt.Errorf("materialize order after %d attempts: %w", r.maxAttempts, lastErr)
}

// buildOrder собирает агрегат заказа из снимка корзины. Каталог и
// адресные справочники не перечитываются: снимок авторитетен.
func (r *Reconciler) buildOrder(event domain.PaymentConfirmed, customerID string) domain.Order {
	now := r.now()
	orderID := uuid.NewString()

	items := make([]domain.OrderItem, 0, len(event.Snapshot.Lines))
	for _, line := range event.Snapshot.Lines {
		items = append(items, domain.OrderItem{
			ID:         uuid.NewString(),
			ProductID:  line.ProductID,
			Variant:    line.Variant,
			Name:       line.Name,
			Qty:        line.Qty,
			PriceMinor: line.PriceMinor,
			CreatedAt:  now,
		})
	}

	currency := event.Snapshot.Currency
	if currency == "" {
		currency = event.Currency
	}

	return domain.Order{
		ID:                orderID,
		Number:            r.generateOrderNumber(now),
		CustomerID:        customerID,
		Status:            domain.OrderStatusProcessing,
		Currency:          currency,
		SubtotalMinor:     event.Snapshot.Totals.SubtotalMinor,
		DiscountMinor:     event.Snapshot.Totals.DiscountMinor,
		ShippingMinor:     event.Snapshot.Totals.ShippingMinor,
		TotalMinor:        event.Snapshot.Totals.TotalMinor,
		Items:             items,
		Address:           event.Shipping,
		PaymentProvider:   event.Provider,
		PaymentExternalID: event.ExternalReference,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// generateOrderNumber: человекочитаемый номер "S-20260828-3FA2B1".
// Уникальность гарантирует индекс, коллизия обрабатывается повтором.
func (r *Reconciler) generateOrderNumber(now time.Time) string {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		// Крайне маловероятно; uuid как запасной источник энтропии.
		return "S-" + now.Format("20060102") + "-" + strings.ToUpper(uuid.NewString()[:6])
	}
	return "S-" + now.Format("20060102") + "-" + strings.ToUpper(hex.EncodeToString(suffix))
}

// abandonClaim помечает заявку failed и ставит задачу разбора.
func (r *Reconciler) abandonClaim(event domain.PaymentConfirmed, cause error, logger *log.Entry) {
	logger.WithError(cause).Error("order materialization failed after retries")

	if err := r.claims.Fail(event.ExternalReference); err != nil {
		logger.WithError(err).Error("failed to mark payment claim as failed")
	}

	payload, _ := json.Marshal(map[string]string{
		"error":       cause.Error(),
		"payer_email": event.PayerEmail,
	})
	r.enqueueReview(domain.ReviewTask{
		Kind:      domain.ReviewKindMaterializationFailed,
		Reference: event.ExternalReference,
		Payload:   payload,
	}, logger)
}

// checkInvariants перепроверяет арифметику закоммиченного заказа.
// Нарушение не отменяет заказ: оплата у шлюза уже прошла, расхождение
// уходит оператору вместе с суммами снимка.
func (r *Reconciler) checkInvariants(order domain.Order, logger *log.Entry) {
	errs := order.ValidateInvariants(r.totalEpsilonMinor)
	if len(errs) == 0 {
		return
	}

	violation := errors.Join(errs...)
	logger.WithError(violation).WithField("order_id", order.ID).
		Warn("materialized order violates total consistency")

	payload, _ := json.Marshal(map[string]any{
		"violation":      violation.Error(),
		"subtotal_minor": order.SubtotalMinor,
		"discount_minor": order.DiscountMinor,
		"shipping_minor": order.ShippingMinor,
		"total_minor":    order.TotalMinor,
	})
	r.enqueueReview(domain.ReviewTask{
		Kind:      domain.ReviewKindAmountMismatch,
		OrderID:   order.ID,
		Reference: order.PaymentExternalID,
		Payload:   payload,
	}, logger)
}

// checkAmount сверяет сумму события со снимком. Расхождение сверх
// допуска не отменяет заказ: оплата уже прошла, заказ помечается на
// ручной разбор.
func (r *Reconciler) checkAmount(event domain.PaymentConfirmed, order domain.Order, logger *log.Entry) {
	diff := event.AmountTotalMinor - order.TotalMinor
	if diff < 0 {
		diff = -diff
	}
	if diff <= r.totalEpsilonMinor {
		return
	}

	logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"event_total":    event.AmountTotalMinor,
		"snapshot_total": order.TotalMinor,
	}).Warn("event amount does not match cart snapshot")

	payload, _ := json.Marshal(map[string]int64{
		"event_total_minor":    event.AmountTotalMinor,
		"snapshot_total_minor": order.TotalMinor,
	})
	r.enqueueReview(domain.ReviewTask{
		Kind:      domain.ReviewKindAmountMismatch,
		OrderID:   order.ID,
		Reference: event.ExternalReference,
		Payload:   payload,
	}, logger)
}

// adjustInventory выполняет best-effort списание остатков и инкремент
// продаж. Любой исход не откатывает заказ: нехватка остатка уходит в
// oversell, временный сбой в inventory_retry.
func (r *Reconciler) adjustInventory(order domain.Order, logger *log.Entry) {
	var retryLines []domain.InventoryAdjustmentLine

	for _, item := range order.Items {
		err := r.inventory.DecrementStock(item.ProductID, item.Variant, item.Qty)
		switch {
		case err == nil:
			if salesErr := r.inventory.IncrementSales(item.ProductID, item.Variant, item.Qty); salesErr != nil {
				logger.WithError(salesErr).WithField("product_id", item.ProductID).
					Warn("failed to increment sales counter")
			}
		case errors.Is(err, domain.ErrInventoryShortfall), errors.Is(err, domain.ErrInventoryNotFound):
			logger.WithError(err).WithFields(log.Fields{
				"order_id":   order.ID,
				"product_id": item.ProductID,
				"variant":    item.Variant,
				"qty":        item.Qty,
			}).Warn("paid order exceeds available stock")
			if r.metrics != nil {
				r.metrics.RecordInventoryOversell()
			}

			payload, _ := json.Marshal(domain.InventoryAdjustment{
				OrderID: order.ID,
				Lines: []domain.InventoryAdjustmentLine{
					{ProductID: item.ProductID, Variant: item.Variant, Qty: item.Qty},
				},
			})
			r.enqueueReview(domain.ReviewTask{
				Kind:      domain.ReviewKindOversell,
				OrderID:   order.ID,
				Reference: order.PaymentExternalID,
				Payload:   payload,
			}, logger)
		default:
			logger.WithError(err).WithField("product_id", item.ProductID).
				Warn("inventory adjustment failed, deferring to retry queue")
			retryLines = append(retryLines, domain.InventoryAdjustmentLine{
				ProductID: item.ProductID,
				Variant:   item.Variant,
				Qty:       item.Qty,
			})
		}
	}

	if len(retryLines) > 0 {
		payload, _ := json.Marshal(domain.InventoryAdjustment{OrderID: order.ID, Lines: retryLines})
		r.enqueueReview(domain.ReviewTask{
			Kind:      domain.ReviewKindInventoryRetry,
			OrderID:   order.ID,
			Reference: order.PaymentExternalID,
			Payload:   payload,
		}, logger)
	}
}

// aggregateStats добавляет заказ к пожизненным счётчикам покупателя.
// Сбой уходит в stats_retry и не влияет на заказ.
func (r *Reconciler) aggregateStats(order domain.Order, customer domain.Customer, logger *log.Entry) {
	err := r.customers.IncrementLifetime(customer.ID, order.TotalMinor)
	if err == nil {
		return
	}

	logger.WithError(err).WithField("customer_id", customer.ID).
		Warn("customer stats aggregation failed, deferring to retry queue")

	payload, _ := json.Marshal(domain.StatsAdjustment{
		OrderID:     order.ID,
		CustomerID:  customer.ID,
		AmountMinor: order.TotalMinor,
	})
	r.enqueueReview(domain.ReviewTask{
		Kind:      domain.ReviewKindStatsRetry,
		OrderID:   order.ID,
		Reference: order.PaymentExternalID,
		Payload:   payload,
	}, logger)
}

// publishOrderEvent кладёт событие заказа в outbox, откуда его заберёт
// publishing worker.
func (r *Reconciler) publishOrderEvent(order domain.Order, logger *log.Entry) {
	if r.outbox == nil {
		return
	}

	payload, err := json.Marshal(order)
	if err != nil {
		logger.WithError(err).Error("failed to marshal order event payload")
		return
	}

	if _, err := r.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     orderEventType,
		Payload:       payload,
	}); err != nil {
		logger.WithError(err).WithField("order_id", order.ID).
			Error("failed to enqueue order event into outbox")
	}
}

func (r *Reconciler) enqueueReview(task domain.ReviewTask, logger *log.Entry) {
	if r.reviews == nil {
		return
	}
	if _, err := r.reviews.Enqueue(task); err != nil {
		logger.WithError(err).WithField("kind", string(task.Kind)).
			Error("failed to enqueue review task")
		return
	}
	if r.metrics != nil {
		r.metrics.RecordReviewEnqueued(string(task.Kind))
	}
}
