package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

type outboxStatus string

const (
	outboxPending outboxStatus = "pending"
	outboxSent    outboxStatus = "sent"
	outboxFailed  outboxStatus = "failed"
)

type outboxRecord struct {
	msg       domain.OutboxMessage
	status    outboxStatus
	createdAt time.Time
}

type outboxRepositoryInMemory struct {
	mu    sync.Mutex
	items []outboxRecord
	index map[string]int
}

// NewOutboxRepository создаёт in-memory реализацию OutboxRepository.
func NewOutboxRepository() domain.OutboxRepository {
	return &outboxRepositoryInMemory{
		index: make(map[string]int),
	}
}

func (r *outboxRepositoryInMemory) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	r.index[msg.ID] = len(r.items)
	r.items = append(r.items, outboxRecord{
		msg:       msg,
		status:    outboxPending,
		createdAt: time.Now().UTC(),
	})
	return msg, nil
}

func (r *outboxRepositoryInMemory) PullPending(limit int) ([]domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]domain.OutboxMessage, 0)
	for _, record := range r.items {
		if record.status != outboxPending {
			continue
		}
		pending = append(pending, record.msg)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

func (r *outboxRepositoryInMemory) Stats() (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := domain.OutboxStats{}
	for _, record := range r.items {
		if record.status != outboxPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || record.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = record.createdAt
		}
	}
	return stats, nil
}

func (r *outboxRepositoryInMemory) MarkSent(id string) error {
	return r.markStatus(id, outboxSent)
}

func (r *outboxRepositoryInMemory) MarkFailed(id string) error {
	return r.markStatus(id, outboxFailed)
}

func (r *outboxRepositoryInMemory) markStatus(id string, status outboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.index[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	r.items[idx].status = status
	return nil
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
