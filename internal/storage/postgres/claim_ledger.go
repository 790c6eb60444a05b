package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

type claimLedger struct {
	db *sql.DB
}

// NewClaimLedger создаёт PostgreSQL-реализацию ClaimLedger.
// Захват ссылки опирается на PRIMARY KEY payment_claims.reference.
func NewClaimLedger(store *Store) domain.ClaimLedger {
	return &claimLedger{db: store.DB()}
}

func (r *claimLedger) Claim(reference, provider string, deadlineAt time.Time) (domain.PaymentClaim, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.PaymentClaim{}, domain.ErrReferenceRequired
	}

	now := time.Now().UTC()
	if deadlineAt.IsZero() {
		deadlineAt = now.Add(10 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_claims (
			reference, provider, status, deadline_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6)
	`,
		reference, provider, string(domain.ClaimStatusProcessing),
		deadlineAt, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Ссылка уже захвачена: гонка конкурирующих доставок
			// разрешилась вставкой не в нашу пользу.
			existing, getErr := r.Get(reference)
			if getErr != nil {
				return domain.PaymentClaim{}, domain.ErrClaimAlreadyExists
			}
			return existing, domain.ErrClaimAlreadyExists
		}
		return domain.PaymentClaim{}, fmt.Errorf("insert payment claim: %w", err)
	}

	return domain.PaymentClaim{
		Reference:  reference,
		Provider:   provider,
		Status:     domain.ClaimStatusProcessing,
		DeadlineAt: deadlineAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (r *claimLedger) Get(reference string) (domain.PaymentClaim, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		claim   domain.PaymentClaim
		status  string
		orderID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT reference, provider, order_id, status, deadline_at, created_at, updated_at
		FROM payment_claims
		WHERE reference = $1
	`, strings.TrimSpace(reference)).Scan(
		&claim.Reference, &claim.Provider, &orderID, &status,
		&claim.DeadlineAt, &claim.CreatedAt, &claim.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentClaim{}, domain.ErrClaimNotFound
		}
		return domain.PaymentClaim{}, fmt.Errorf("select payment claim: %w", err)
	}

	claim.Status = domain.ClaimStatus(status)
	if orderID.Valid {
		claim.OrderID = orderID.String
	}

	return claim, nil
}

func (r *claimLedger) Complete(reference, orderID string) error {
	return r.markStatus(reference, domain.ClaimStatusCompleted, orderID)
}

func (r *claimLedger) Fail(reference string) error {
	return r.markStatus(reference, domain.ClaimStatusFailed, "")
}

func (r *claimLedger) ReleaseExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	// Завершённые заявки не освобождаются никогда: они и есть
	// долговременная гарантия exactly-once.
	if limit > 0 {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM payment_claims
			WHERE reference IN (
				SELECT reference
				FROM payment_claims
				WHERE status <> $1 AND deadline_at <= $2
				ORDER BY deadline_at ASC
				LIMIT $3
			)
		`, string(domain.ClaimStatusCompleted), before, limit)
	} else {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM payment_claims
			WHERE status <> $1 AND deadline_at <= $2
		`, string(domain.ClaimStatusCompleted), before)
	}
	if err != nil {
		return 0, fmt.Errorf("release expired claims: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("claim rows affected: %w", err)
	}

	return int(affected), nil
}

func (r *claimLedger) markStatus(reference string, status domain.ClaimStatus, orderID string) error {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.ErrReferenceRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var orderValue any
	if orderID != "" {
		orderValue = orderID
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_claims
		SET status = $1,
		    order_id = COALESCE($2, order_id),
		    updated_at = $3
		WHERE reference = $4
	`, string(status), orderValue, time.Now().UTC(), reference)
	if err != nil {
		return fmt.Errorf("mark claim status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrClaimNotFound
	}

	return nil
}

var _ domain.ClaimLedger = (*claimLedger)(nil)
