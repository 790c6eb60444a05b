package kafka

import "time"

// EventType определяет тип события заказа.
type EventType string

const (
	EventTypeOrderConfirmed EventType = "order.confirmed"
	EventTypeOrderShipped   EventType = "order.shipped"
	EventTypeOrderDelivered EventType = "order.delivered"
	EventTypeOrderCancelled EventType = "order.cancelled"
	EventTypeOrderRefunded  EventType = "order.refunded"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.payments.dlq"
)

// OrderEvent представляет событие заказа для внешних потребителей
// (аккаунт-страницы, отчётность, e-mail сервис).
type OrderEvent struct {
	EventType   EventType              `json:"event_type"`
	OrderID     string                 `json:"order_id"`
	OrderNumber string                 `json:"order_number"`
	CustomerID  string                 `json:"customer_id"`
	Status      string                 `json:"status"`
	TotalMinor  int64                  `json:"total_minor"`
	Currency    string                 `json:"currency"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создаёт событие заказа.
func NewOrderEvent(eventType EventType, orderID, orderNumber, customerID, status string, totalMinor int64, currency string) *OrderEvent {
	return &OrderEvent{
		EventType:   eventType,
		OrderID:     orderID,
		OrderNumber: orderNumber,
		CustomerID:  customerID,
		Status:      status,
		TotalMinor:  totalMinor,
		Currency:    currency,
		Timestamp:   time.Now(),
	}
}
