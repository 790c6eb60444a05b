package review

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
	"github.com/vladislavdragonenkov/storefront-payments/internal/storage/memory"
)

func seedRepos(t *testing.T, stock int32) (domain.ReviewRepository, domain.InventoryRepository, domain.CustomerRepository) {
	t.Helper()
	inventory := memory.NewInventoryRepository()
	require.NoError(t, inventory.Upsert(domain.InventoryLine{
		ProductID: "mattress-1", Variant: "queen", Name: "Cloud Queen",
		PriceMinor: 10000, Stock: stock,
	}))
	return memory.NewReviewRepository(), inventory, memory.NewCustomerRepository()
}

func enqueueInventoryRetry(t *testing.T, repo domain.ReviewRepository, qty int32) domain.ReviewTask {
	t.Helper()
	payload, err := json.Marshal(domain.InventoryAdjustment{
		OrderID: "order-1",
		Lines:   []domain.InventoryAdjustmentLine{{ProductID: "mattress-1", Variant: "queen", Qty: qty}},
	})
	require.NoError(t, err)
	task, err := repo.Enqueue(domain.ReviewTask{
		Kind:    domain.ReviewKindInventoryRetry,
		OrderID: "order-1",
		Payload: payload,
	})
	require.NoError(t, err)
	return task
}

func TestWorkerAppliesInventoryRetry(t *testing.T) {
	reviews, inventory, customers := seedRepos(t, 10)
	enqueueInventoryRetry(t, reviews, 2)

	worker := NewWorker(reviews, inventory, customers)
	worker.ProcessOnce(context.Background())

	line, err := inventory.GetLine("mattress-1", "queen")
	require.NoError(t, err)
	require.Equal(t, int32(8), line.Stock)
	require.Equal(t, int64(2), line.SalesCount)

	stats, err := reviews.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

func TestWorkerAppliesStatsRetry(t *testing.T) {
	reviews, inventory, customers := seedRepos(t, 10)
	customer, err := customers.Create(domain.Customer{ID: "cust-1", Email: "buyer@example.com"})
	require.NoError(t, err)

	payload, err := json.Marshal(domain.StatsAdjustment{
		OrderID: "order-1", CustomerID: customer.ID, AmountMinor: 23000,
	})
	require.NoError(t, err)
	_, err = reviews.Enqueue(domain.ReviewTask{Kind: domain.ReviewKindStatsRetry, Payload: payload})
	require.NoError(t, err)

	worker := NewWorker(reviews, inventory, customers)
	worker.ProcessOnce(context.Background())

	updated, err := customers.Get(customer.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), updated.OrdersCount)
	require.Equal(t, int64(23000), updated.SpentMinor)
}

func TestWorkerEscalatesShortfallToOversell(t *testing.T) {
	reviews, inventory, customers := seedRepos(t, 1)
	enqueueInventoryRetry(t, reviews, 5)

	worker := NewWorker(reviews, inventory, customers)
	worker.ProcessOnce(context.Background())

	// Задача закрыта: повтором нехватку не исправить.
	oversell, err := reviews.PullPending(10, domain.ReviewKindOversell)
	require.NoError(t, err)
	require.Len(t, oversell, 1)

	retries, err := reviews.PullPending(10, domain.ReviewKindInventoryRetry)
	require.NoError(t, err)
	require.Empty(t, retries)

	line, err := inventory.GetLine("mattress-1", "queen")
	require.NoError(t, err)
	require.Equal(t, int32(1), line.Stock)
}

type flakyInventory struct {
	domain.InventoryRepository
	failProduct string
	failures    int
	mu          sync.Mutex
}

func (r *flakyInventory) DecrementStock(productID, variant string, qty int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if productID == r.failProduct && r.failures > 0 {
		r.failures--
		return errors.New("storage temporarily down")
	}
	return r.InventoryRepository.DecrementStock(productID, variant, qty)
}

func TestWorkerRetryAppliesEachLineOnce(t *testing.T) {
	reviews, inventory, customers := seedRepos(t, 10)
	require.NoError(t, inventory.Upsert(domain.InventoryLine{
		ProductID: "pillow-1", Variant: "standard", Name: "Ergo Pillow",
		PriceMinor: 4500, Stock: 10,
	}))

	payload, err := json.Marshal(domain.InventoryAdjustment{
		OrderID: "order-1",
		Lines: []domain.InventoryAdjustmentLine{
			{ProductID: "mattress-1", Variant: "queen", Qty: 2},
			{ProductID: "pillow-1", Variant: "standard", Qty: 2},
		},
	})
	require.NoError(t, err)
	_, err = reviews.Enqueue(domain.ReviewTask{
		Kind:    domain.ReviewKindInventoryRetry,
		OrderID: "order-1",
		Payload: payload,
	})
	require.NoError(t, err)

	// Вторая строка отваливается на первом цикле, применённая первая
	// не должна списаться ещё раз на втором.
	flaky := &flakyInventory{InventoryRepository: inventory, failProduct: "pillow-1", failures: 1}
	worker := NewWorker(reviews, flaky, customers)
	worker.ProcessOnce(context.Background())
	worker.ProcessOnce(context.Background())

	line, err := inventory.GetLine("mattress-1", "queen")
	require.NoError(t, err)
	require.Equal(t, int32(8), line.Stock)
	require.Equal(t, int64(2), line.SalesCount)

	line, err = inventory.GetLine("pillow-1", "standard")
	require.NoError(t, err)
	require.Equal(t, int32(8), line.Stock)

	stats, err := reviews.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

func TestWorkerIgnoresManualKinds(t *testing.T) {
	reviews, inventory, customers := seedRepos(t, 10)
	_, err := reviews.Enqueue(domain.ReviewTask{
		Kind:    domain.ReviewKindCustomerLink,
		Payload: []byte(`{}`),
	})
	require.NoError(t, err)

	worker := NewWorker(reviews, inventory, customers)
	worker.ProcessOnce(context.Background())

	// Ручные задачи остаются в очереди нетронутыми.
	manual, err := reviews.PullPending(10, domain.ReviewKindCustomerLink)
	require.NoError(t, err)
	require.Len(t, manual, 1)
}

func TestWorkerMarksFailedAfterMaxAttempts(t *testing.T) {
	reviews, inventory, customers := seedRepos(t, 10)

	// Неразбираемый payload: постоянная ошибка.
	_, err := reviews.Enqueue(domain.ReviewTask{
		Kind:    domain.ReviewKindStatsRetry,
		Payload: []byte(`{broken`),
	})
	require.NoError(t, err)

	worker := NewWorker(reviews, inventory, customers, WithMaxAttempts(1))
	worker.ProcessOnce(context.Background())

	stats, err := reviews.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}
