// Package messaging содержит запасной паблишер на случай, когда Kafka
// не сконфигурирована: события только логируются.
package messaging

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

// LogPublisher пишет события в лог вместо брокера. Используется в
// dev-окружении без Kafka: outbox помечает события sent, полезная
// нагрузка остаётся в логах.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт лог-паблишер.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "log-publisher")
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	}).Info("order event published to log sink")
	return nil
}

var _ domain.OutboxPublisher = (*LogPublisher)(nil)
