package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics содержит метрики платёжного пайплайна.
type PipelineMetrics struct {
	// Счётчики вебхуков
	webhookAccepted   prometheus.Counter
	webhookDuplicates prometheus.Counter
	webhookRejected   prometheus.Counter
	webhookSkipped    prometheus.Counter

	// Счётчики материализации
	ordersMaterialized     prometheus.Counter
	materializationsFailed prometheus.Counter

	// Гистограмма времени материализации
	materializationDuration prometheus.Histogram

	// Счётчики побочных эффектов
	inventoryOversells prometheus.Counter
	reviewEnqueued     *prometheus.CounterVec

	// Checkout и sweeper
	sessionsCreated prometheus.Counter
	claimsReleased  prometheus.Counter
}

// NewPipelineMetrics создаёт новый экземпляр метрик пайплайна.
func NewPipelineMetrics() *PipelineMetrics {
	return newPipelineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newPipelineMetricsWithRegisterer(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		webhookAccepted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pay_webhook_accepted_total",
			Help: "Total number of webhooks that passed verification and parsing",
		}),
		webhookDuplicates: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pay_webhook_duplicates_total",
			Help: "Total number of duplicate webhook deliveries acknowledged without processing",
		}),
		webhookRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pay_webhook_rejected_total",
			Help: "Total number of webhooks rejected for bad signature or malformed payload",
		}),
		webhookSkipped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pay_webhook_skipped_total",
			Help: "Total number of webhooks acknowledged for unsupported event types",
		}),
		ordersMaterialized: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pay_orders_materialized_total",
			Help: "Total number of orders created from confirmed payments",
		}),
		materializationsFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pay_materializations_failed_total",
			Help: "Total number of materializations that exhausted retries",
		}),
		materializationDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "pay_materialization_duration_seconds",
			Help:    "Duration of order materialization in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		inventoryOversells: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pay_inventory_oversells_total",
			Help: "Total number of paid orders that exceeded available stock",
		}),
		reviewEnqueued: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pay_review_tasks_enqueued_total",
			Help: "Total number of manual-review tasks enqueued",
		}, []string{"kind"}),
		sessionsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pay_checkout_sessions_created_total",
			Help: "Total number of checkout sessions created at gateways",
		}),
		claimsReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pay_claims_released_total",
			Help: "Total number of stale payment claims released by the sweeper",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordWebhookAccepted увеличивает счётчик принятых вебхуков.
func (m *PipelineMetrics) RecordWebhookAccepted() {
	m.webhookAccepted.Inc()
}

// RecordWebhookDuplicate увеличивает счётчик повторных доставок.
func (m *PipelineMetrics) RecordWebhookDuplicate() {
	m.webhookDuplicates.Inc()
}

// RecordWebhookRejected увеличивает счётчик отклонённых вебхуков.
func (m *PipelineMetrics) RecordWebhookRejected() {
	m.webhookRejected.Inc()
}

// RecordWebhookSkipped увеличивает счётчик неинтересных событий.
func (m *PipelineMetrics) RecordWebhookSkipped() {
	m.webhookSkipped.Inc()
}

// RecordOrderMaterialized увеличивает счётчик созданных заказов.
func (m *PipelineMetrics) RecordOrderMaterialized() {
	m.ordersMaterialized.Inc()
}

// RecordMaterializationFailed увеличивает счётчик неудачных материализаций.
func (m *PipelineMetrics) RecordMaterializationFailed() {
	m.materializationsFailed.Inc()
}

// RecordMaterializationDuration записывает время материализации.
func (m *PipelineMetrics) RecordMaterializationDuration(duration time.Duration) {
	m.materializationDuration.Observe(duration.Seconds())
}

// RecordInventoryOversell увеличивает счётчик оплат поверх остатка.
func (m *PipelineMetrics) RecordInventoryOversell() {
	m.inventoryOversells.Inc()
}

// RecordReviewEnqueued увеличивает счётчик задач разбора данного вида.
func (m *PipelineMetrics) RecordReviewEnqueued(kind string) {
	m.reviewEnqueued.WithLabelValues(kind).Inc()
}

// RecordSessionCreated увеличивает счётчик созданных сессий.
func (m *PipelineMetrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

// RecordClaimsReleased добавляет количество освобождённых заявок.
func (m *PipelineMetrics) RecordClaimsReleased(count int) {
	m.claimsReleased.Add(float64(count))
}
