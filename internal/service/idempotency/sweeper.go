// Package idempotency содержит sweeper просроченных платёжных заявок:
// восстановление после падения между захватом ссылки и коммитом заказа.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

const (
	defaultSweepInterval  = time.Minute
	defaultSweepBatchSize = 500
)

var (
	claimSweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pay_claim_sweep_runs_total",
		Help: "Total number of claim sweep runs grouped by result.",
	}, []string{"result"})
	claimSweepReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pay_claim_sweep_released_total",
		Help: "Total number of released stale payment claims.",
	})
	claimSweepLastReleased = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pay_claim_sweep_last_released",
		Help: "Number of released claims during the last sweep run.",
	})
)

// SweeperOptions задаёт параметры sweeper-а заявок.
type SweeperOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*SweeperOptions)

// WithLogger задаёт logger для sweeper-а.
func WithLogger(logger *log.Entry) SweeperOption {
	return func(opts *SweeperOptions) { opts.Logger = logger }
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) SweeperOption {
	return func(opts *SweeperOptions) { opts.Interval = interval }
}

// WithBatchSize задаёт размер порции освобождаемых заявок.
func WithBatchSize(batchSize int) SweeperOption {
	return func(opts *SweeperOptions) { opts.BatchSize = batchSize }
}

// Sweeper периодически освобождает processing/failed заявки с истёкшим
// дедлайном. Завершённые заявки бессрочны: их sweeper не трогает,
// иначе потерялась бы гарантия exactly-once.
type Sweeper struct {
	claims    domain.ClaimLedger
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewSweeper создаёт sweeper платёжных заявок.
func NewSweeper(claims domain.ClaimLedger, options ...SweeperOption) *Sweeper {
	opts := SweeperOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "claim-sweeper")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &Sweeper{
		claims:    claims,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодические проходы до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.claims == nil {
		s.logger.Warn("claim sweeper is disabled: ledger is nil")
		return
	}

	s.sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, time.Now().UTC())
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, before time.Time) {
	released, err := s.ReleaseExpired(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		claimSweepRunsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).Warn("claim sweep run failed")
		return
	}

	claimSweepRunsTotal.WithLabelValues("ok").Inc()
	claimSweepLastReleased.Set(float64(released))
	if released > 0 {
		s.logger.WithField("released", released).Info("stale payment claims released")
	}
}

// ReleaseExpired освобождает все заявки с дедлайном <= before порциями
// batchSize и возвращает суммарное количество.
func (s *Sweeper) ReleaseExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	totalReleased := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalReleased, err
		}

		released, err := s.claims.ReleaseExpired(before, s.batchSize)
		if err != nil {
			return totalReleased, err
		}

		totalReleased += released
		if released > 0 {
			claimSweepReleasedTotal.Add(float64(released))
		}

		if released < s.batchSize {
			break
		}
	}

	return totalReleased, nil
}
