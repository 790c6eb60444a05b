package domain

import "time"

// InventoryLine: складская строка товара. Несёт авторитетную цену
// каталога, остаток и накопительный счётчик продаж. Остаток меняет
// только корректор запасов, просмотр каталога сюда не пишет.
type InventoryLine struct {
	ProductID string
	Variant   string
	Name      string
	// PriceMinor: авторитетная цена за единицу в минимальных единицах.
	PriceMinor int64
	// Stock не может уйти в минус: списание условное.
	Stock int32
	// SalesCount растёт монотонно по мере продаж.
	SalesCount int64
	UpdatedAt  time.Time
}
