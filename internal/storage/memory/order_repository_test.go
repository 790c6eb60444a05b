package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

func makeStoredOrder(id, number, customerID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:            id,
		Number:        number,
		CustomerID:    customerID,
		Status:        domain.OrderStatusProcessing,
		Currency:      "USD",
		SubtotalMinor: 10000,
		TotalMinor:    10000,
		Items: []domain.OrderItem{
			{ID: id + "-item", ProductID: "mattress-1", Qty: 1, PriceMinor: 10000},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	repo := NewOrderRepository()
	order := makeStoredOrder("o-1", "S-20260828-AAAAAA", "c-1", time.Now().UTC())

	require.NoError(t, repo.Create(order))

	got, err := repo.Get("o-1")
	require.NoError(t, err)
	require.Equal(t, order.Number, got.Number)

	byNumber, err := repo.GetByNumber(order.Number)
	require.NoError(t, err)
	require.Equal(t, "o-1", byNumber.ID)
}

func TestOrderRepository_NumberCollision(t *testing.T) {
	repo := NewOrderRepository()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(makeStoredOrder("o-1", "S-20260828-AAAAAA", "c-1", now)))

	err := repo.Create(makeStoredOrder("o-2", "S-20260828-AAAAAA", "c-1", now))
	require.ErrorIs(t, err, domain.ErrOrderNumberTaken)
}

func TestOrderRepository_PaymentReferenceUnique(t *testing.T) {
	repo := NewOrderRepository()
	now := time.Now().UTC()

	first := makeStoredOrder("o-1", "S-1", "c-1", now)
	first.PaymentExternalID = "cs_ref_1"
	require.NoError(t, repo.Create(first))

	// Вторая вставка с той же ссылкой платежа отклоняется.
	second := makeStoredOrder("o-2", "S-2", "c-1", now)
	second.PaymentExternalID = "cs_ref_1"
	require.ErrorIs(t, repo.Create(second), domain.ErrOrderExists)

	got, err := repo.GetByReference("cs_ref_1")
	require.NoError(t, err)
	require.Equal(t, "o-1", got.ID)

	_, err = repo.GetByReference("cs_missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	// Пустые ссылки не индексируются и не конфликтуют между собой.
	third := makeStoredOrder("o-3", "S-3", "c-1", now)
	require.NoError(t, repo.Create(third))
	_, err = repo.GetByReference("")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_ListByCustomerNewestFirst(t *testing.T) {
	repo := NewOrderRepository()
	base := time.Now().UTC()

	require.NoError(t, repo.Create(makeStoredOrder("o-1", "S-1", "c-1", base.Add(-2*time.Hour))))
	require.NoError(t, repo.Create(makeStoredOrder("o-2", "S-2", "c-1", base)))
	require.NoError(t, repo.Create(makeStoredOrder("o-3", "S-3", "c-2", base)))

	orders, err := repo.ListByCustomer("c-1", 0)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "o-2", orders[0].ID)

	limited, err := repo.ListByCustomer("c-1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestOrderRepository_UpdateStatusGuarded(t *testing.T) {
	repo := NewOrderRepository()
	require.NoError(t, repo.Create(makeStoredOrder("o-1", "S-1", "c-1", time.Now().UTC())))

	require.NoError(t, repo.UpdateStatus("o-1", domain.OrderStatusProcessing, domain.OrderStatusShipped))

	// Повторный переход из уже покинутого статуса запрещён.
	err := repo.UpdateStatus("o-1", domain.OrderStatusProcessing, domain.OrderStatusCancelled)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	// Переход вне таблицы запрещён даже из актуального статуса.
	err = repo.UpdateStatus("o-1", domain.OrderStatusShipped, domain.OrderStatusCancelled)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}
