package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

type couponRepository struct {
	db *sql.DB
}

// NewCouponRepository создаёт PostgreSQL-реализацию CouponRepository.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{db: store.DB()}
}

func (r *couponRepository) GetByCode(code string) (domain.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		coupon domain.Coupon
		kind   string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT code, kind, value
		FROM coupons
		WHERE code = $1
	`, code).Scan(&coupon.Code, &kind, &coupon.Value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}
	coupon.Type = domain.CouponType(kind)

	return coupon, nil
}

var _ domain.CouponRepository = (*couponRepository)(nil)
