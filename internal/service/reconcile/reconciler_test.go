package reconcile

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
	"github.com/vladislavdragonenkov/storefront-payments/internal/storage/memory"
)

type testEnv struct {
	orders    domain.OrderRepository
	customers domain.CustomerRepository
	inventory domain.InventoryRepository
	claims    domain.ClaimLedger
	outbox    domain.OutboxRepository
	reviews   domain.ReviewRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		orders:    memory.NewOrderRepository(),
		customers: memory.NewCustomerRepository(),
		inventory: memory.NewInventoryRepository(),
		claims:    memory.NewClaimLedger(),
		outbox:    memory.NewOutboxRepository(),
		reviews:   memory.NewReviewRepository(),
	}
	require.NoError(t, env.inventory.Upsert(domain.InventoryLine{
		ProductID: "mattress-1", Variant: "queen", Name: "Cloud Queen",
		PriceMinor: 10000, Stock: 10,
	}))
	return env
}

func (env *testEnv) reconciler(options ...Option) *Reconciler {
	return NewReconciler(Deps{
		Orders:    env.orders,
		Customers: env.customers,
		Inventory: env.inventory,
		Claims:    env.claims,
		Outbox:    env.outbox,
		Reviews:   env.reviews,
	}, options...)
}

func confirmedEvent(reference string) domain.PaymentConfirmed {
	return domain.PaymentConfirmed{
		Provider:          "stripe",
		ExternalReference: reference,
		AmountTotalMinor:  23000,
		Currency:          "USD",
		PayerEmail:        "buyer@example.com",
		PayerName:         "Buyer Person",
		Snapshot: domain.CartSnapshot{
			Version:  domain.CartSnapshotVersion,
			Currency: "USD",
			Lines: []domain.SnapshotLine{
				{ProductID: "mattress-1", Variant: "queen", Name: "Cloud Queen", Qty: 2, PriceMinor: 10000},
			},
			Totals: domain.CheckoutTotals{
				SubtotalMinor: 20000,
				DiscountMinor: 2000,
				ShippingMinor: 5000,
				TotalMinor:    23000,
			},
		},
	}
}

func TestProcessEventMaterializesOrder(t *testing.T) {
	env := newTestEnv(t)
	rec := env.reconciler()

	result, err := rec.ProcessEvent(context.Background(), confirmedEvent("cs_1"))
	require.NoError(t, err)
	require.False(t, result.Duplicate)

	order := result.Order
	require.Regexp(t, regexp.MustCompile(`^S-\d{8}-[0-9A-F]{6}$`), order.Number)
	require.Equal(t, domain.OrderStatusProcessing, order.Status)
	require.Equal(t, int64(23000), order.TotalMinor)
	require.Equal(t, "cs_1", order.PaymentExternalID)
	require.Len(t, order.Items, 1)
	require.Empty(t, order.ValidateInvariants(1))

	// Заявка завершена и хранит id заказа.
	claim, err := env.claims.Get("cs_1")
	require.NoError(t, err)
	require.Equal(t, domain.ClaimStatusCompleted, claim.Status)
	require.Equal(t, order.ID, claim.OrderID)

	// Остаток списан, продажи посчитаны.
	line, err := env.inventory.GetLine("mattress-1", "queen")
	require.NoError(t, err)
	require.Equal(t, int32(8), line.Stock)
	require.Equal(t, int64(2), line.SalesCount)

	// Покупатель создан лениво, статистика обновлена.
	customer, err := env.customers.GetByEmail("buyer@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(1), customer.OrdersCount)
	require.Equal(t, int64(23000), customer.SpentMinor)
	require.Equal(t, customer.ID, order.CustomerID)

	// Событие заказа дожидается publishing worker-а в outbox.
	pending, err := env.outbox.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "order.confirmed", pending[0].EventType)
	require.Equal(t, order.ID, pending[0].AggregateID)
}

func TestProcessEventDuplicateDelivery(t *testing.T) {
	env := newTestEnv(t)
	rec := env.reconciler()
	ctx := context.Background()

	first, err := rec.ProcessEvent(ctx, confirmedEvent("cs_dup"))
	require.NoError(t, err)

	second, err := rec.ProcessEvent(ctx, confirmedEvent("cs_dup"))
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.Order.ID, second.Order.ID)

	// Побочные эффекты не применились повторно.
	line, err := env.inventory.GetLine("mattress-1", "queen")
	require.NoError(t, err)
	require.Equal(t, int32(8), line.Stock)

	customer, err := env.customers.GetByEmail("buyer@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(1), customer.OrdersCount)
	require.Equal(t, int64(23000), customer.SpentMinor)
}

func TestProcessEventConcurrentSameReference(t *testing.T) {
	env := newTestEnv(t)
	rec := env.reconciler()

	const workers = 16
	var wg sync.WaitGroup
	results := make([]Result, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = rec.ProcessEvent(context.Background(), confirmedEvent("cs_race"))
		}(i)
	}
	wg.Wait()

	var materialized int
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if !results[i].Duplicate {
			materialized++
		}
	}
	require.Equal(t, 1, materialized)

	// Ровно одно списание и один инкремент статистики.
	line, err := env.inventory.GetLine("mattress-1", "queen")
	require.NoError(t, err)
	require.Equal(t, int32(8), line.Stock)

	customer, err := env.customers.GetByEmail("buyer@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(1), customer.OrdersCount)
}

func TestProcessEventConcurrentDistinctReferences(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.inventory.Upsert(domain.InventoryLine{
		ProductID: "mattress-1", Variant: "queen", Name: "Cloud Queen",
		PriceMinor: 10000, Stock: 100,
	}))
	rec := env.reconciler()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			event := confirmedEvent("cs_multi_" + string(rune('a'+i)))
			_, errs[i] = rec.ProcessEvent(context.Background(), event)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
	}

	customer, err := env.customers.GetByEmail("buyer@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(workers), customer.OrdersCount)
}

func TestProcessEventOversellKeepsOrder(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.inventory.Upsert(domain.InventoryLine{
		ProductID: "mattress-1", Variant: "queen", Name: "Cloud Queen",
		PriceMinor: 10000, Stock: 1,
	}))
	rec := env.reconciler()

	result, err := rec.ProcessEvent(context.Background(), confirmedEvent("cs_oversell"))
	require.NoError(t, err)
	require.False(t, result.Duplicate)

	// Остаток не ушёл в минус.
	line, err := env.inventory.GetLine("mattress-1", "queen")
	require.NoError(t, err)
	require.Equal(t, int32(1), line.Stock)

	tasks, err := env.reviews.PullPending(10, domain.ReviewKindOversell)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, result.Order.ID, tasks[0].OrderID)
}

func TestProcessEventAmountMismatchFlagsOrder(t *testing.T) {
	env := newTestEnv(t)
	rec := env.reconciler()

	event := confirmedEvent("cs_mismatch")
	event.AmountTotalMinor = 30000

	result, err := rec.ProcessEvent(context.Background(), event)
	require.NoError(t, err)

	// Заказ создан по снимку, расхождение ушло на ручной разбор.
	require.Equal(t, int64(23000), result.Order.TotalMinor)

	tasks, err := env.reviews.PullPending(10, domain.ReviewKindAmountMismatch)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestProcessEventInvariantViolationKeepsOrder(t *testing.T) {
	env := newTestEnv(t)
	rec := env.reconciler()

	// Снимок с битой арифметикой: компоненты дают 23000, итог 24000.
	event := confirmedEvent("cs_invariant")
	event.Snapshot.Totals.TotalMinor = 24000
	event.AmountTotalMinor = 24000

	result, err := rec.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	require.False(t, result.Duplicate)

	// Заказ создан несмотря на расхождение: оплата уже прошла,
	// проблема уходит на ручной разбор, а не в отказ.
	stored, err := env.orders.Get(result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, int64(24000), stored.TotalMinor)

	claim, err := env.claims.Get("cs_invariant")
	require.NoError(t, err)
	require.Equal(t, domain.ClaimStatusCompleted, claim.Status)

	tasks, err := env.reviews.PullPending(10, domain.ReviewKindAmountMismatch)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, result.Order.ID, tasks[0].OrderID)
}

type completeFailingLedger struct {
	domain.ClaimLedger
	failures int
	mu       sync.Mutex
}

func (l *completeFailingLedger) Complete(reference, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return errors.New("ledger temporarily down")
	}
	return l.ClaimLedger.Complete(reference, orderID)
}

func TestProcessEventRedeliveryAfterLostClaim(t *testing.T) {
	env := newTestEnv(t)
	env.claims = &completeFailingLedger{ClaimLedger: env.claims, failures: 1}
	rec := env.reconciler()
	ctx := context.Background()

	first, err := rec.ProcessEvent(ctx, confirmedEvent("cs_lost"))
	require.NoError(t, err)

	// Complete не записался, заявка осталась processing и ушла под
	// sweeper. Повторная доставка захватывает ссылку заново.
	released, err := env.claims.ReleaseExpired(time.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	second, err := rec.ProcessEvent(ctx, confirmedEvent("cs_lost"))
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.Order.ID, second.Order.ID)

	// Заявка закрыта существующим заказом.
	claim, err := env.claims.Get("cs_lost")
	require.NoError(t, err)
	require.Equal(t, domain.ClaimStatusCompleted, claim.Status)
	require.Equal(t, first.Order.ID, claim.OrderID)

	// Побочные эффекты не применились повторно.
	line, err := env.inventory.GetLine("mattress-1", "queen")
	require.NoError(t, err)
	require.Equal(t, int32(8), line.Stock)
}

func TestProcessEventPlaceholderCustomer(t *testing.T) {
	env := newTestEnv(t)
	rec := env.reconciler()

	event := confirmedEvent("cs_noemail")
	event.PayerEmail = ""

	result, err := rec.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	require.NotEmpty(t, result.Order.CustomerID)

	customer, err := env.customers.Get(result.Order.CustomerID)
	require.NoError(t, err)
	require.True(t, customer.Guest())
	require.Contains(t, customer.Email, "unlinked+")

	tasks, err := env.reviews.PullPending(10, domain.ReviewKindCustomerLink)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestProcessEventExistingCustomerByExternalID(t *testing.T) {
	env := newTestEnv(t)
	existing, err := env.customers.Create(domain.Customer{
		ID: "cust-1", ExternalID: "idp-7", Email: "old@example.com",
	})
	require.NoError(t, err)
	rec := env.reconciler()

	event := confirmedEvent("cs_linked")
	event.PayerExternalID = "idp-7"
	event.PayerEmail = "new@example.com"

	result, err := rec.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, existing.ID, result.Order.CustomerID)
}

func TestProcessEventRejectsInvalidEvent(t *testing.T) {
	env := newTestEnv(t)
	rec := env.reconciler()

	event := confirmedEvent("")
	_, err := rec.ProcessEvent(context.Background(), event)
	require.ErrorIs(t, err, domain.ErrMalformedPayload)

	event = confirmedEvent("cs_badver")
	event.Snapshot.Version = 99
	_, err = rec.ProcessEvent(context.Background(), event)
	require.ErrorIs(t, err, domain.ErrMalformedPayload)
}

type failingOrderRepo struct {
	domain.OrderRepository
	failures int
	mu       sync.Mutex
}

func (r *failingOrderRepo) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("storage temporarily down")
	}
	return r.OrderRepository.Create(order)
}

func TestProcessEventRetriesMaterialization(t *testing.T) {
	env := newTestEnv(t)
	env.orders = &failingOrderRepo{OrderRepository: env.orders, failures: 2}
	rec := env.reconciler(WithMaxAttempts(3), WithRetryBaseDelay(0))

	result, err := rec.ProcessEvent(context.Background(), confirmedEvent("cs_retry"))
	require.NoError(t, err)
	require.False(t, result.Duplicate)

	claim, err := env.claims.Get("cs_retry")
	require.NoError(t, err)
	require.Equal(t, domain.ClaimStatusCompleted, claim.Status)
}

func TestProcessEventMaterializationFailureEscalates(t *testing.T) {
	env := newTestEnv(t)
	env.orders = &failingOrderRepo{OrderRepository: env.orders, failures: 100}
	rec := env.reconciler(WithMaxAttempts(2), WithRetryBaseDelay(0))
	ctx := context.Background()

	_, err := rec.ProcessEvent(ctx, confirmedEvent("cs_fail"))
	require.Error(t, err)

	claim, err := env.claims.Get("cs_fail")
	require.NoError(t, err)
	require.Equal(t, domain.ClaimStatusFailed, claim.Status)

	tasks, pullErr := env.reviews.PullPending(10, domain.ReviewKindMaterializationFailed)
	require.NoError(t, pullErr)
	require.Len(t, tasks, 1)

	// Пока sweeper не освободил заявку, повторная доставка отвечает
	// retryable-ошибкой.
	_, err = rec.ProcessEvent(ctx, confirmedEvent("cs_fail"))
	require.ErrorIs(t, err, domain.ErrMaterializationPending)
}
