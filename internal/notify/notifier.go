// Package notify содержит заглушку уведомлений покупателя. Доставку
// писем выполняет внешний сервис, здесь только fire-and-forget вызов.
package notify

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

// LogNotifier пишет факт подтверждения заказа в лог. Сбой доставки
// письма по контракту никогда не влияет на заказ.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт лог-уведомитель.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "notifier")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) OrderConfirmed(order domain.Order, email string) {
	n.logger.WithFields(log.Fields{
		"order_number": order.Number,
		"email":        email,
		"total_minor":  order.TotalMinor,
	}).Info("order confirmation queued for delivery")
}

var _ domain.Notifier = (*LogNotifier)(nil)
