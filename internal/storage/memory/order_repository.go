package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

type orderRepositoryInMemory struct {
	mu          sync.RWMutex
	byID        map[string]domain.Order
	byNumber    map[string]string
	byReference map[string]string
}

// NewOrderRepository создаёт in-memory реализацию OrderRepository.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		byID:        make(map[string]domain.Order),
		byNumber:    make(map[string]string),
		byReference: make(map[string]string),
	}
}

func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[order.ID]; ok {
		return domain.ErrOrderExists
	}
	if order.PaymentExternalID != "" {
		if _, ok := r.byReference[order.PaymentExternalID]; ok {
			return domain.ErrOrderExists
		}
	}
	if _, ok := r.byNumber[order.Number]; ok {
		return domain.ErrOrderNumberTaken
	}

	r.byID[order.ID] = cloneOrder(order)
	r.byNumber[order.Number] = order.ID
	if order.PaymentExternalID != "" {
		r.byReference[order.PaymentExternalID] = order.ID
	}
	return nil
}

func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.byID[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *orderRepositoryInMemory) GetByNumber(number string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byNumber[number]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(r.byID[id]), nil
}

func (r *orderRepositoryInMemory) GetByReference(reference string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byReference[reference]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(r.byID[id]), nil
}

func (r *orderRepositoryInMemory) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := make([]domain.Order, 0)
	for _, order := range r.byID {
		if order.CustomerID == customerID {
			orders = append(orders, cloneOrder(order))
		}
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (r *orderRepositoryInMemory) UpdateStatus(id string, from, to domain.OrderStatus) error {
	if !from.CanTransitionTo(to) {
		return domain.ErrInvalidTransition
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.byID[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Status != from {
		return domain.ErrInvalidTransition
	}

	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	r.byID[id] = order
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
