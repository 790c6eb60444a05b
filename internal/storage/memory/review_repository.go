package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

type reviewRepositoryInMemory struct {
	mu    sync.Mutex
	items []domain.ReviewTask
	index map[string]int
}

// NewReviewRepository создаёт in-memory реализацию ReviewRepository.
func NewReviewRepository() domain.ReviewRepository {
	return &reviewRepositoryInMemory{
		index: make(map[string]int),
	}
}

func (r *reviewRepositoryInMemory) Enqueue(task domain.ReviewTask) (domain.ReviewTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	task.Status = domain.ReviewStatusPending
	task.CreatedAt = now
	task.UpdatedAt = now
	task.Payload = append([]byte(nil), task.Payload...)

	r.index[task.ID] = len(r.items)
	r.items = append(r.items, task)
	return cloneReviewTask(task), nil
}

func (r *reviewRepositoryInMemory) PullPending(limit int, kinds ...domain.ReviewTaskKind) ([]domain.ReviewTask, error) {
	wanted := make(map[domain.ReviewTaskKind]bool, len(kinds))
	for _, kind := range kinds {
		wanted[kind] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pulled := make([]domain.ReviewTask, 0)
	for i := range r.items {
		task := &r.items[i]
		if task.Status != domain.ReviewStatusPending {
			continue
		}
		if len(kinds) > 0 && !wanted[task.Kind] {
			continue
		}

		task.Attempts++
		task.UpdatedAt = time.Now().UTC()
		pulled = append(pulled, cloneReviewTask(*task))
		if limit > 0 && len(pulled) >= limit {
			break
		}
	}
	return pulled, nil
}

func (r *reviewRepositoryInMemory) MarkDone(id string) error {
	return r.markStatus(id, domain.ReviewStatusDone, "")
}

func (r *reviewRepositoryInMemory) MarkFailed(id, lastError string) error {
	return r.markStatus(id, domain.ReviewStatusFailed, lastError)
}

func (r *reviewRepositoryInMemory) Stats() (domain.ReviewStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := domain.ReviewStats{}
	for _, task := range r.items {
		if task.Status != domain.ReviewStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || task.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = task.CreatedAt
		}
	}
	return stats, nil
}

func (r *reviewRepositoryInMemory) markStatus(id string, status domain.ReviewTaskStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.index[id]
	if !ok {
		return domain.ErrReviewTaskNotFound
	}

	r.items[idx].Status = status
	r.items[idx].LastError = lastError
	r.items[idx].UpdatedAt = time.Now().UTC()
	return nil
}

func cloneReviewTask(src domain.ReviewTask) domain.ReviewTask {
	dst := src
	dst.Payload = append([]byte(nil), src.Payload...)
	return dst
}

var _ domain.ReviewRepository = (*reviewRepositoryInMemory)(nil)
