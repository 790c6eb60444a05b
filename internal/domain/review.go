package domain

import "time"

// ReviewTaskKind классифицирует задачи очереди ручного разбора.
type ReviewTaskKind string

const (
	// ReviewKindOversell: условное списание не прошло, заказ оплачен
	// поверх остатка. Разбирается вручную.
	ReviewKindOversell ReviewTaskKind = "oversell"
	// ReviewKindInventoryRetry: временный сбой корректировки запасов,
	// воркер повторит применение.
	ReviewKindInventoryRetry ReviewTaskKind = "inventory_retry"
	// ReviewKindStatsRetry: сбой инкремента пожизненной статистики,
	// воркер повторит применение.
	ReviewKindStatsRetry ReviewTaskKind = "stats_retry"
	// ReviewKindAmountMismatch: сумма события разошлась со снимком
	// сильнее, чем допускает округление валюты.
	ReviewKindAmountMismatch ReviewTaskKind = "amount_mismatch"
	// ReviewKindCustomerLink: заказ создан на покупателя-заглушку,
	// требуется ручная привязка.
	ReviewKindCustomerLink ReviewTaskKind = "customer_link"
	// ReviewKindMaterializationFailed: заказ не создан после всех
	// попыток, требуется вмешательство.
	ReviewKindMaterializationFailed ReviewTaskKind = "materialization_failed"
)

// Retryable сообщает, обрабатывает ли задачу фоновый воркер.
// Остальные виды ждут оператора.
func (k ReviewTaskKind) Retryable() bool {
	switch k {
	case ReviewKindInventoryRetry, ReviewKindStatsRetry:
		return true
	default:
		return false
	}
}

// ReviewTaskStatus описывает состояние задачи очереди.
type ReviewTaskStatus string

const (
	ReviewStatusPending ReviewTaskStatus = "pending"
	ReviewStatusDone    ReviewTaskStatus = "done"
	ReviewStatusFailed  ReviewTaskStatus = "failed"
)

// ReviewTask: durable-замена консольного лога для нефатальных сбоев
// пайплайна. Payload хранит JSON с данными, достаточными для повтора
// или ручного разбора.
type ReviewTask struct {
	ID        string
	Kind      ReviewTaskKind
	OrderID   string
	Reference string
	Payload   []byte
	Status    ReviewTaskStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReviewStats описывает текущий backlog очереди разбора.
type ReviewStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// InventoryAdjustment: payload задач inventory_retry и oversell.
// Содержит всё необходимое, чтобы повторить списание без чтения заказа.
type InventoryAdjustment struct {
	OrderID string                    `json:"order_id"`
	Lines   []InventoryAdjustmentLine `json:"lines"`
}

// InventoryAdjustmentLine: одна строка списания.
type InventoryAdjustmentLine struct {
	ProductID string `json:"product_id"`
	Variant   string `json:"variant,omitempty"`
	Qty       int32  `json:"qty"`
}

// StatsAdjustment: payload задачи stats_retry.
type StatsAdjustment struct {
	OrderID     string `json:"order_id"`
	CustomerID  string `json:"customer_id"`
	AmountMinor int64  `json:"amount_minor"`
}
