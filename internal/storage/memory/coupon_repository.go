package memory

import (
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

type couponRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Coupon
}

// NewCouponRepository создаёт in-memory реализацию CouponRepository.
func NewCouponRepository() *couponRepositoryInMemory {
	return &couponRepositoryInMemory{
		items: make(map[string]domain.Coupon),
	}
}

func (r *couponRepositoryInMemory) GetByCode(code string) (domain.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	coupon, ok := r.items[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return coupon, nil
}

// Put добавляет купон (сидинг для dev-окружения и тестов).
func (r *couponRepositoryInMemory) Put(coupon domain.Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[strings.ToUpper(strings.TrimSpace(coupon.Code))] = coupon
}

var _ domain.CouponRepository = (*couponRepositoryInMemory)(nil)
