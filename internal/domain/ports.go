package domain

import (
	"context"
	"time"
)

// GatewayClient: единый интерфейс над платёжными провайдерами.
// Реализации обязаны проверять подпись до любого разбора тела.
type GatewayClient interface {
	// Name возвращает имя провайдера, под которым он зарегистрирован.
	Name() string
	// CreateSession создаёт у провайдера checkout-сессию и возвращает
	// redirect URL. Исходящий вызов ограничен таймаутом, временные
	// сбои оборачиваются в ErrGatewayUnavailable.
	CreateSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	// VerifySignature сверяет подпись сырого тела вебхука.
	// headers содержит провайдер-специфичные заголовки в каноничном
	// нижнем регистре.
	VerifySignature(rawBody []byte, headers map[string]string) error
	// ParseEvent приводит конверт провайдера к PaymentConfirmed.
	// Неинтересные типы событий возвращают ErrUnsupportedEvent.
	ParseEvent(rawBody []byte) (PaymentConfirmed, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// Notifier: fire-and-forget уведомление покупателя. Доставка писем
// остаётся внешним сервисом, сбой только логируется.
type Notifier interface {
	OrderConfirmed(order Order, email string)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
