package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

type reviewRepository struct {
	db *sql.DB
}

// NewReviewRepository создаёт PostgreSQL-реализацию ReviewRepository.
func NewReviewRepository(store *Store) domain.ReviewRepository {
	return &reviewRepository{db: store.DB()}
}

func (r *reviewRepository) Enqueue(task domain.ReviewTask) (domain.ReviewTask, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	task.Status = domain.ReviewStatusPending
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO review_tasks (
			id, kind, order_id, reference, payload,
			status, attempts, last_error, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,0,'',$7,$8)
	`,
		task.ID, string(task.Kind), task.OrderID, task.Reference, task.Payload,
		string(task.Status), task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return domain.ReviewTask{}, fmt.Errorf("enqueue review task: %w", err)
	}

	return task, nil
}

func (r *reviewRepository) PullPending(limit int, kinds ...domain.ReviewTaskKind) ([]domain.ReviewTask, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	kindValues := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		kindValues = append(kindValues, string(kind))
	}

	// Выборка и инкремент попыток одним запросом: упавший обработчик
	// не потеряет счётчик.
	query := `
		UPDATE review_tasks
		SET attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id
			FROM review_tasks
			WHERE status = 'pending'
	`
	args := []any{}
	if len(kindValues) > 0 {
		query += ` AND kind = ANY($1)`
		args = append(args, kindValues)
	}
	query += fmt.Sprintf(`
			ORDER BY created_at, id
			LIMIT $%d
		)
		RETURNING id, kind, order_id, reference, payload,
		          status, attempts, last_error, created_at, updated_at
	`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pull pending review tasks: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ReviewTask, 0, limit)
	for rows.Next() {
		task, err := scanReviewTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review task rows: %w", err)
	}

	return result, nil
}

func (r *reviewRepository) MarkDone(id string) error {
	return r.markStatus(id, domain.ReviewStatusDone, "")
}

func (r *reviewRepository) MarkFailed(id, lastError string) error {
	return r.markStatus(id, domain.ReviewStatusFailed, lastError)
}

func (r *reviewRepository) Stats() (domain.ReviewStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.ReviewStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM review_tasks
		WHERE status = 'pending'
	`).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.ReviewStats{}, fmt.Errorf("review stats query failed: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

func (r *reviewRepository) markStatus(id string, status domain.ReviewTaskStatus, lastError string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE review_tasks
		SET status = $2, last_error = $3, updated_at = $4
		WHERE id = $1
	`, id, string(status), lastError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark review task %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("review task rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrReviewTaskNotFound
	}

	return nil
}

func scanReviewTask(rows *sql.Rows) (domain.ReviewTask, error) {
	var (
		task    domain.ReviewTask
		kind    string
		status  string
		payload []byte
	)
	if err := rows.Scan(
		&task.ID, &kind, &task.OrderID, &task.Reference, &payload,
		&status, &task.Attempts, &task.LastError, &task.CreatedAt, &task.UpdatedAt,
	); err != nil {
		return domain.ReviewTask{}, fmt.Errorf("scan review task: %w", err)
	}
	task.Kind = domain.ReviewTaskKind(kind)
	task.Status = domain.ReviewTaskStatus(status)
	task.Payload = append([]byte(nil), payload...)
	return task, nil
}

var _ domain.ReviewRepository = (*reviewRepository)(nil)
