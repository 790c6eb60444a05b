package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями в одной
	// транзакции. Коллизия номера возвращает ErrOrderNumberTaken,
	// занятая ссылка платежа ErrOrderExists.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// GetByNumber возвращает заказ по человекочитаемому номеру.
	GetByNumber(number string) (Order, error)
	// GetByReference возвращает заказ по внешней ссылке платежа.
	// Ссылка уникальна среди непустых значений.
	GetByReference(reference string) (Order, error)
	// ListByCustomer возвращает заказы покупателя, новые первыми.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// UpdateStatus переводит заказ из from в to с проверкой таблицы
	// переходов. Возвращает ErrInvalidTransition, если заказ уже не
	// в статусе from.
	UpdateStatus(id string, from, to OrderStatus) error
}

// CustomerRepository описывает требования к хранилищу покупателей.
// Создание опирается на уникальный индекс по email: insert-or-fetch,
// без lookup-then-insert.
type CustomerRepository interface {
	// Create сохраняет покупателя. При занятом email возвращает
	// существующую запись вместе с ErrCustomerEmailTaken.
	Create(customer Customer) (Customer, error)
	Get(id string) (Customer, error)
	GetByEmail(email string) (Customer, error)
	GetByExternalID(externalID string) (Customer, error)
	// IncrementLifetime атомарно добавляет заказ и сумму к пожизненным
	// счётчикам. Вызывается не более одного раза на заказ.
	IncrementLifetime(id string, amountMinor int64) error
}

// InventoryRepository совмещает авторитетный каталог цен и склад.
type InventoryRepository interface {
	// GetLine возвращает складскую строку товара или ErrInventoryNotFound.
	GetLine(productID, variant string) (InventoryLine, error)
	// DecrementStock выполняет условное списание stock >= qty.
	// Нехватка остатка возвращает ErrInventoryShortfall, остаток
	// никогда не уходит в минус.
	DecrementStock(productID, variant string, qty int32) error
	// IncrementSales добавляет qty к счётчику продаж.
	IncrementSales(productID, variant string, qty int32) error
	// Upsert создаёт или обновляет складскую строку (сидинг, админка).
	Upsert(line InventoryLine) error
}

// CouponRepository возвращает купоны по коду.
type CouponRepository interface {
	GetByCode(code string) (Coupon, error)
}

// ClaimLedger: журнал идемпотентности по внешним ссылкам платежей.
type ClaimLedger interface {
	// Claim атомарно захватывает ссылку вставкой по уникальному ключу.
	// Повторный захват возвращает существующую заявку вместе с
	// ErrClaimAlreadyExists; гонка двух доставок одной ссылки
	// разрешается ровно в один успешный захват.
	Claim(reference, provider string, deadlineAt time.Time) (PaymentClaim, error)
	Get(reference string) (PaymentClaim, error)
	// Complete фиксирует созданный заказ за заявкой.
	Complete(reference, orderID string) error
	// Fail помечает заявку неуспешной до освобождения sweeper-ом.
	Fail(reference string) error
	// ReleaseExpired удаляет незавершённые и неуспешные заявки с
	// истёкшим дедлайном, открывая дорогу повторной обработке.
	// Завершённые заявки не трогает никогда.
	ReleaseExpired(before time.Time, limit int) (int, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// ReviewRepository: durable-очередь ручного разбора и отложенных повторов.
type ReviewRepository interface {
	Enqueue(task ReviewTask) (ReviewTask, error)
	// PullPending возвращает pending-задачи перечисленных видов,
	// увеличивая счётчик попыток. Пустой список видов возвращает все.
	PullPending(limit int, kinds ...ReviewTaskKind) ([]ReviewTask, error)
	MarkDone(id string) error
	MarkFailed(id, lastError string) error
	Stats() (ReviewStats, error)
}
