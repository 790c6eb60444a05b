package domain

import "errors"

var (
	// Ошибки валидации корзины и контактов при сборке сессии.
	ErrEmptyCart      = errors.New("cart must contain at least one line")
	ErrMissingContact = errors.New("buyer email is required")
	ErrQtyInvalid     = errors.New("cart line qty must be greater than zero")
	// ErrUnknownProduct возвращается, если товара нет в каталоге.
	ErrUnknownProduct = errors.New("product not found in catalog")
	// ErrCouponNotFound возвращается по неизвестному коду купона.
	ErrCouponNotFound = errors.New("coupon not found")

	// Ошибки шлюза.
	// ErrGatewayNotConfigured: провайдер не настроен, checkout отвечает 503.
	ErrGatewayNotConfigured = errors.New("payment gateway is not configured")
	// ErrGatewayUnavailable: временная ошибка шлюза, можно повторить.
	ErrGatewayUnavailable = errors.New("payment gateway temporary error")
	// ErrInvalidSignature: подпись вебхука не сошлась, тело не обрабатывается.
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	// ErrMalformedPayload: тело вебхука не разбирается.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrUnsupportedEvent: тип события не интересен, подтверждается без обработки.
	ErrUnsupportedEvent = errors.New("unsupported event type")

	// Ошибки нормализованного события.
	ErrReferenceRequired = errors.New("external reference is required")
	ErrSnapshotEmpty     = errors.New("cart snapshot is empty")
	ErrSnapshotVersion   = errors.New("unsupported cart snapshot version")

	// Ошибки инвариантов заказа.
	ErrCustomerRequired   = errors.New("customer_id is required")
	ErrCurrencyRequired   = errors.New("currency is required")
	ErrItemsRequired      = errors.New("order must contain at least one item")
	ErrItemQtyInvalid     = errors.New("item qty must be greater than zero")
	ErrItemPriceInvalid   = errors.New("item price must be non-negative")
	ErrAmountNegative     = errors.New("amount must be non-negative")
	ErrSubtotalMismatch   = errors.New("order subtotal does not match items sum")
	ErrTotalMismatch      = errors.New("order total does not match components")
	ErrOrderStatusInvalid = errors.New("order status is not supported")

	// Ошибки хранилища заказов.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNumberTaken: коллизия номера заказа, номер генерируется заново.
	ErrOrderNumberTaken = errors.New("order number already exists")
	// ErrOrderExists: заказ с таким id или ссылкой платежа уже сохранён.
	ErrOrderExists = errors.New("order already exists")
	// ErrInvalidTransition: переход статуса запрещён таблицей переходов.
	ErrInvalidTransition = errors.New("order status transition is not allowed")

	// Ошибки покупателей.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrCustomerEmailTaken: уникальный индекс по email сработал при вставке.
	ErrCustomerEmailTaken = errors.New("customer email already exists")

	// Ошибки склада.
	// ErrInventoryShortfall: остатка не хватает, списание не выполнено.
	ErrInventoryShortfall = errors.New("insufficient stock for decrement")
	ErrInventoryNotFound  = errors.New("inventory line not found")

	// Ошибки журнала идемпотентности.
	// ErrClaimAlreadyExists: ссылка уже захвачена другой доставкой.
	ErrClaimAlreadyExists = errors.New("payment reference already claimed")
	ErrClaimNotFound      = errors.New("payment claim not found")
	// ErrMaterializationPending: по ссылке была неудачная попытка,
	// повтор шлюза обработает её после освобождения заявки.
	ErrMaterializationPending = errors.New("materialization pending retry")

	// Ошибки очереди разбора и outbox.
	ErrReviewTaskNotFound = errors.New("review task not found")
	ErrOutboxPublish      = errors.New("outbox publish failed")
)

// IsDuplicateReference проверяет, что ошибка означает повторную доставку.
func IsDuplicateReference(err error) bool {
	return errors.Is(err, ErrClaimAlreadyExists)
}
