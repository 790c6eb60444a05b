package domain

import "time"

// Customer хранит покупателя и его пожизненные счётчики.
// Запись создаётся лениво резолвером, счётчики растут монотонно.
type Customer struct {
	ID string
	// ExternalID: ссылка на учётку identity provider, пустая у гостей.
	ExternalID string
	// Email уникален среди всех покупателей.
	Email string
	Name  string
	Phone string

	// OrdersCount и SpentMinor обновляет только агрегатор статистики,
	// не чаще одного раза на материализованный заказ.
	OrdersCount int64
	SpentMinor  int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Guest сообщает, создан ли покупатель без подтверждённой учётки.
func (c Customer) Guest() bool {
	return c.ExternalID == ""
}
