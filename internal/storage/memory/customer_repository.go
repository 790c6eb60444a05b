package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

type customerRepositoryInMemory struct {
	mu      sync.RWMutex
	byID    map[string]domain.Customer
	byEmail map[string]string
}

// NewCustomerRepository создаёт in-memory реализацию CustomerRepository.
func NewCustomerRepository() domain.CustomerRepository {
	return &customerRepositoryInMemory{
		byID:    make(map[string]domain.Customer),
		byEmail: make(map[string]string),
	}
}

func (r *customerRepositoryInMemory) Create(customer domain.Customer) (domain.Customer, error) {
	email := normalizeEmail(customer.Email)
	if email == "" {
		return domain.Customer{}, domain.ErrMissingContact
	}
	customer.Email = email

	r.mu.Lock()
	defer r.mu.Unlock()

	// Вставка под единой блокировкой эквивалентна уникальному индексу:
	// конкурирующее создание по одному email получает существующую запись.
	if id, ok := r.byEmail[email]; ok {
		return r.byID[id], domain.ErrCustomerEmailTaken
	}

	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now

	r.byID[customer.ID] = customer
	r.byEmail[email] = customer.ID
	return customer, nil
}

func (r *customerRepositoryInMemory) Get(id string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	customer, ok := r.byID[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

func (r *customerRepositoryInMemory) GetByEmail(email string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[normalizeEmail(email)]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return r.byID[id], nil
}

func (r *customerRepositoryInMemory) GetByExternalID(externalID string) (domain.Customer, error) {
	if externalID == "" {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, customer := range r.byID {
		if customer.ExternalID == externalID {
			return customer, nil
		}
	}
	return domain.Customer{}, domain.ErrCustomerNotFound
}

func (r *customerRepositoryInMemory) IncrementLifetime(id string, amountMinor int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	customer, ok := r.byID[id]
	if !ok {
		return domain.ErrCustomerNotFound
	}

	customer.OrdersCount++
	customer.SpentMinor += amountMinor
	customer.UpdatedAt = time.Now().UTC()
	r.byID[id] = customer
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
