package domain

// CartLine: позиция корзины, присланная клиентом. Цена здесь только
// подсказка, авторитетная цена берётся из каталога при сборке сессии.
type CartLine struct {
	ProductID string
	Variant   string
	Qty       int32
	// PriceMinor: клиентская цена, не используется для расчёта сумм.
	PriceMinor int64
}

// CouponType задаёт способ расчёта скидки.
type CouponType string

const (
	// CouponPercentage: скидка как процент от subtotal.
	CouponPercentage CouponType = "percentage"
	// CouponFixed: фиксированная скидка в минимальных единицах.
	CouponFixed CouponType = "fixed"
)

// Coupon описывает скидочный купон.
type Coupon struct {
	Code string
	Type CouponType
	// Value: процент для percentage, сумма в минимальных единицах для fixed.
	Value int64
}

// CheckoutTotals: денежные поля сессии, рассчитанные на сервере.
type CheckoutTotals struct {
	SubtotalMinor int64 `json:"subtotal_minor"`
	DiscountMinor int64 `json:"discount_minor"`
	ShippingMinor int64 `json:"shipping_minor"`
	TotalMinor    int64 `json:"total_minor"`
}

// SnapshotLine: строка снимка корзины с авторитетной ценой.
type SnapshotLine struct {
	ProductID  string `json:"product_id"`
	Variant    string `json:"variant,omitempty"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

// CartSnapshot: версионированный снимок корзины, который сессия увозит
// в metadata шлюза. Вебхук-обработчик восстанавливает заказ из него,
// не доверяя клиентскому вводу повторно.
type CartSnapshot struct {
	Version    int            `json:"v"`
	Lines      []SnapshotLine `json:"lines"`
	Totals     CheckoutTotals `json:"totals"`
	Currency   string         `json:"currency"`
	CouponCode string         `json:"coupon_code,omitempty"`
}

// CartSnapshotVersion: текущая версия схемы снимка.
const CartSnapshotVersion = 1

// CheckoutSessionRequest: запрос на создание сессии у конкретного шлюза.
type CheckoutSessionRequest struct {
	Reference  string
	BuyerEmail string
	// BuyerExternalID: учётка identity provider, уезжает в metadata,
	// чтобы вебхук мог связать заказ с существующим покупателем.
	BuyerExternalID string
	Snapshot        CartSnapshot
	Address         ShippingAddress
	SuccessURL      string
	CancelURL       string
}

// CheckoutSession: результат создания сессии. Шлюз остаётся источником
// истины о существовании сессии, локально она не сохраняется.
type CheckoutSession struct {
	Provider    string
	SessionID   string
	RedirectURL string
	Totals      CheckoutTotals
}
