// Package review содержит воркер очереди разбора: повторяет отложенные
// корректировки запасов и статистики, оставляя остальные виды задач
// оператору.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 50
	defaultMaxAttempts  = 5
)

var (
	reviewRetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pay_review_retry_attempts_total",
		Help: "Total number of review retry attempts grouped by result.",
	}, []string{"result"})
	reviewPendingTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pay_review_pending_tasks",
		Help: "Current number of pending tasks in the review queue.",
	})
	reviewOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pay_review_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending review task.",
	})
)

// WorkerOptions задаёт параметры review worker.
type WorkerOptions struct {
	Logger       *log.Entry
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts: после стольких попыток задача помечается failed
	// и остаётся оператору.
	MaxAttempts int
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) { opts.Logger = logger }
}

// WithPollInterval задаёт частоту опроса очереди.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) { opts.PollInterval = interval }
}

// WithBatchSize задаёт размер батча задач.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) { opts.BatchSize = batchSize }
}

// WithMaxAttempts задаёт предел попыток до пометки failed.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) { opts.MaxAttempts = maxAttempts }
}

// Worker повторяет retryable-задачи очереди разбора.
type Worker struct {
	repo      domain.ReviewRepository
	inventory domain.InventoryRepository
	customers domain.CustomerRepository

	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
}

// NewWorker создаёт review worker.
func NewWorker(repo domain.ReviewRepository, inventory domain.InventoryRepository, customers domain.CustomerRepository, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		MaxAttempts:  defaultMaxAttempts,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "review-worker")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	return &Worker{
		repo:         repo,
		inventory:    inventory,
		customers:    customers,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		maxAttempts:  opts.MaxAttempts,
	}
}

// Run запускает периодический polling очереди до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("review worker is disabled: repository is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл по retryable-задачам.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.refreshBacklogMetrics()

	tasks, err := w.repo.PullPending(w.batchSize,
		domain.ReviewKindInventoryRetry, domain.ReviewKindStatsRetry)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending review tasks")
		return
	}
	if len(tasks) == 0 {
		return
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}

		applyErr := w.apply(task)
		if applyErr == nil {
			reviewRetryAttempts.WithLabelValues("applied").Inc()
			if err := w.repo.MarkDone(task.ID); err != nil {
				w.logger.WithError(err).WithField("task_id", task.ID).Warn("failed to mark review task done")
			}
			continue
		}

		reviewRetryAttempts.WithLabelValues("retry_error").Inc()
		w.logger.WithError(applyErr).WithFields(log.Fields{
			"task_id": task.ID,
			"kind":    string(task.Kind),
			"attempt": task.Attempts,
		}).Warn("review task retry failed")

		if task.Attempts >= w.maxAttempts {
			reviewRetryAttempts.WithLabelValues("exhausted").Inc()
			if err := w.repo.MarkFailed(task.ID, applyErr.Error()); err != nil {
				w.logger.WithError(err).WithField("task_id", task.ID).Warn("failed to mark review task failed")
			}
		}
	}

	w.refreshBacklogMetrics()
}

// apply выполняет одну задачу. Невыполнимые payload-ы считаются
// постоянной ошибкой и уходят в failed на первом же цикле.
func (w *Worker) apply(task domain.ReviewTask) error {
	switch task.Kind {
	case domain.ReviewKindInventoryRetry:
		return w.applyInventory(task)
	case domain.ReviewKindStatsRetry:
		return w.applyStats(task)
	default:
		return fmt.Errorf("kind %q is not retryable", task.Kind)
	}
}

func (w *Worker) applyInventory(task domain.ReviewTask) error {
	var adjustment domain.InventoryAdjustment
	if err := json.Unmarshal(task.Payload, &adjustment); err != nil {
		return fmt.Errorf("decode inventory adjustment: %w", err)
	}

	for i, line := range adjustment.Lines {
		err := w.inventory.DecrementStock(line.ProductID, line.Variant, line.Qty)
		if errors.Is(err, domain.ErrInventoryShortfall) || errors.Is(err, domain.ErrInventoryNotFound) {
			// Повтор не поможет: остатка нет, эскалируем в oversell.
			w.escalateOversell(task, line, err)
			continue
		}
		if err != nil {
			if i == 0 {
				return fmt.Errorf("decrement %s/%s: %w", line.ProductID, line.Variant, err)
			}
			// Строки до i уже обработаны, повтор всей задачи списал бы
			// их второй раз. Остаток уходит отдельной задачей.
			w.requeueRemainder(task, adjustment.Lines[i:], err)
			return nil
		}
		if err := w.inventory.IncrementSales(line.ProductID, line.Variant, line.Qty); err != nil {
			w.logger.WithError(err).WithField("product_id", line.ProductID).
				Warn("failed to increment sales counter on retry")
		}
	}
	return nil
}

// requeueRemainder переносит неприменённые строки в новую задачу и
// даёт закрыть текущую: применённые списания уже записаны.
func (w *Worker) requeueRemainder(task domain.ReviewTask, lines []domain.InventoryAdjustmentLine, cause error) {
	w.logger.WithError(cause).WithFields(log.Fields{
		"task_id":   task.ID,
		"order_id":  task.OrderID,
		"remaining": len(lines),
	}).Warn("inventory retry interrupted mid-task, requeueing unapplied lines")

	payload, _ := json.Marshal(domain.InventoryAdjustment{OrderID: task.OrderID, Lines: lines})
	if _, err := w.repo.Enqueue(domain.ReviewTask{
		Kind:      domain.ReviewKindInventoryRetry,
		OrderID:   task.OrderID,
		Reference: task.Reference,
		Payload:   payload,
	}); err != nil {
		w.logger.WithError(err).Error("failed to requeue remaining inventory lines")
	}
}

func (w *Worker) escalateOversell(task domain.ReviewTask, line domain.InventoryAdjustmentLine, cause error) {
	w.logger.WithError(cause).WithFields(log.Fields{
		"order_id":   task.OrderID,
		"product_id": line.ProductID,
	}).Warn("deferred inventory adjustment exceeds stock")

	payload, _ := json.Marshal(domain.InventoryAdjustment{
		OrderID: task.OrderID,
		Lines:   []domain.InventoryAdjustmentLine{line},
	})
	if _, err := w.repo.Enqueue(domain.ReviewTask{
		Kind:      domain.ReviewKindOversell,
		OrderID:   task.OrderID,
		Reference: task.Reference,
		Payload:   payload,
	}); err != nil {
		w.logger.WithError(err).Warn("failed to escalate oversell task")
	}
}

func (w *Worker) applyStats(task domain.ReviewTask) error {
	var adjustment domain.StatsAdjustment
	if err := json.Unmarshal(task.Payload, &adjustment); err != nil {
		return fmt.Errorf("decode stats adjustment: %w", err)
	}
	if err := w.customers.IncrementLifetime(adjustment.CustomerID, adjustment.AmountMinor); err != nil {
		return fmt.Errorf("increment lifetime for %s: %w", adjustment.CustomerID, err)
	}
	return nil
}

func (w *Worker) refreshBacklogMetrics() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect review backlog stats")
		return
	}

	reviewPendingTasks.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		reviewOldestPendingAge.Set(0)
		return
	}

	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	reviewOldestPendingAge.Set(age)
}
