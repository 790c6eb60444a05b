package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

type claimLedgerInMemory struct {
	mu    sync.Mutex
	items map[string]domain.PaymentClaim
}

// NewClaimLedger создаёт in-memory реализацию ClaimLedger.
func NewClaimLedger() domain.ClaimLedger {
	return &claimLedgerInMemory{
		items: make(map[string]domain.PaymentClaim),
	}
}

func (r *claimLedgerInMemory) Claim(reference, provider string, deadlineAt time.Time) (domain.PaymentClaim, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.PaymentClaim{}, domain.ErrReferenceRequired
	}

	now := time.Now().UTC()
	if deadlineAt.IsZero() {
		deadlineAt = now.Add(10 * time.Minute)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Проверка и вставка под одной блокировкой: из конкурирующих
	// доставок одной ссылки захват получает ровно одна.
	if existing, ok := r.items[reference]; ok {
		return existing, domain.ErrClaimAlreadyExists
	}

	claim := domain.PaymentClaim{
		Reference:  reference,
		Provider:   provider,
		Status:     domain.ClaimStatusProcessing,
		DeadlineAt: deadlineAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.items[reference] = claim
	return claim, nil
}

func (r *claimLedgerInMemory) Get(reference string) (domain.PaymentClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	claim, ok := r.items[strings.TrimSpace(reference)]
	if !ok {
		return domain.PaymentClaim{}, domain.ErrClaimNotFound
	}
	return claim, nil
}

func (r *claimLedgerInMemory) Complete(reference, orderID string) error {
	return r.markStatus(reference, domain.ClaimStatusCompleted, orderID)
}

func (r *claimLedgerInMemory) Fail(reference string) error {
	return r.markStatus(reference, domain.ClaimStatusFailed, "")
}

func (r *claimLedgerInMemory) ReleaseExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for reference, claim := range r.items {
		if claim.Status == domain.ClaimStatusCompleted {
			continue
		}
		if claim.DeadlineAt.After(before) {
			continue
		}

		delete(r.items, reference)
		released++
		if limit > 0 && released >= limit {
			break
		}
	}
	return released, nil
}

func (r *claimLedgerInMemory) markStatus(reference string, status domain.ClaimStatus, orderID string) error {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.ErrReferenceRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	claim, ok := r.items[reference]
	if !ok {
		return domain.ErrClaimNotFound
	}

	claim.Status = status
	if orderID != "" {
		claim.OrderID = orderID
	}
	claim.UpdatedAt = time.Now().UTC()
	r.items[reference] = claim
	return nil
}

var _ domain.ClaimLedger = (*claimLedgerInMemory)(nil)
