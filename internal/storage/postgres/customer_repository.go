package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

const customerColumns = `
	id, external_id, email, name, phone,
	orders_count, spent_minor, created_at, updated_at
`

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: store.DB()}
}

func (r *customerRepository) Create(customer domain.Customer) (domain.Customer, error) {
	customer.Email = strings.ToLower(strings.TrimSpace(customer.Email))
	if customer.Email == "" {
		return domain.Customer{}, domain.ErrMissingContact
	}
	if customer.ID == "" {
		customer.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		customer.ID, customer.ExternalID, customer.Email, customer.Name, customer.Phone,
		customer.OrdersCount, customer.SpentMinor, customer.CreatedAt, customer.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Уникальный индекс по email: отдаём существующую запись,
			// чтобы вызывающему не пришлось делать второй lookup.
			existing, getErr := r.GetByEmail(customer.Email)
			if getErr != nil {
				return domain.Customer{}, domain.ErrCustomerEmailTaken
			}
			return existing, domain.ErrCustomerEmailTaken
		}
		return domain.Customer{}, fmt.Errorf("insert customer: %w", err)
	}

	return customer, nil
}

func (r *customerRepository) Get(id string) (domain.Customer, error) {
	return r.getBy("id", id)
}

func (r *customerRepository) GetByEmail(email string) (domain.Customer, error) {
	return r.getBy("email", strings.ToLower(strings.TrimSpace(email)))
}

func (r *customerRepository) GetByExternalID(externalID string) (domain.Customer, error) {
	if strings.TrimSpace(externalID) == "" {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return r.getBy("external_id", externalID)
}

func (r *customerRepository) IncrementLifetime(id string, amountMinor int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE customers
		SET orders_count = orders_count + 1,
		    spent_minor = spent_minor + $1,
		    updated_at = $2
		WHERE id = $3
	`, amountMinor, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("increment customer lifetime: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCustomerNotFound
	}

	return nil
}

func (r *customerRepository) getBy(column, value string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var customer domain.Customer
	err := r.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE `+column+` = $1
	`, value).Scan(
		&customer.ID, &customer.ExternalID, &customer.Email, &customer.Name, &customer.Phone,
		&customer.OrdersCount, &customer.SpentMinor, &customer.CreatedAt, &customer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer by %s: %w", column, err)
	}

	return customer, nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
