package domain

import "time"

// ClaimStatus описывает жизненный цикл заявки на обработку платежа.
type ClaimStatus string

const (
	// ClaimStatusProcessing: ссылка захвачена, заказ ещё не закоммичен.
	ClaimStatusProcessing ClaimStatus = "processing"
	// ClaimStatusCompleted: заказ создан, заявка хранится бессрочно
	// как гарантия exactly-once.
	ClaimStatusCompleted ClaimStatus = "completed"
	// ClaimStatusFailed: материализация не удалась, заявку освободит
	// sweeper и шлюзовый retry попробует снова.
	ClaimStatusFailed ClaimStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimStatusProcessing, ClaimStatusCompleted, ClaimStatusFailed:
		return true
	default:
		return false
	}
}

// PaymentClaim: durable-запись о внешней ссылке платежа. Атомарная
// вставка по уникальному ключу Reference играет роль распределённой
// блокировки: из конкурирующих доставок одной ссылки захват получает
// ровно одна.
type PaymentClaim struct {
	// Reference: внешняя ссылка шлюза, уникальный ключ.
	Reference string
	Provider  string
	// OrderID пустой до коммита заказа.
	OrderID string
	Status  ClaimStatus
	// DeadlineAt: момент, после которого незавершённую заявку можно
	// освободить (восстановление после падения между claim и commit).
	DeadlineAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
