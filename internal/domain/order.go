package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в витрине.
type OrderStatus string

const (
	// OrderStatusPending: заказ существует, но оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing: оплата подтверждена шлюзом, заказ в обработке.
	// Материализация по вебхуку всегда стартует с этого статуса.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped: заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered: заказ доставлен покупателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled: заказ отменён до отгрузки.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded: по доставленному заказу оформлен возврат.
	OrderStatusRefunded OrderStatus = "refunded"
)

// orderTransitions задаёт допустимые переходы статусов.
// Переходы за пределами материализации выполняют внешние
// fulfillment-операции, но правила живут здесь.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {OrderStatusRefunded},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

// CanTransitionTo проверяет допустимость перехода статуса.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// OrderItem представляет одну позицию заказа: неизменяемый снимок
// товара на момент оплаты, без ссылок на живой каталог.
type OrderItem struct {
	ID string
	// ProductID: внешний идентификатор товара в каталоге.
	ProductID string
	// Variant: вариант/размер товара.
	Variant string
	// Name: название товара на момент покупки.
	Name string
	// Qty: количество единиц товара.
	Qty int32
	// PriceMinor: цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	CreatedAt  time.Time
}

// ShippingAddress хранит снимок адреса доставки на момент оплаты.
type ShippingAddress struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// Empty сообщает, заполнен ли адрес хотя бы частично.
func (a ShippingAddress) Empty() bool {
	return a == ShippingAddress{}
}

// Order агрегирует состояние заказа, его позиции и денежные поля.
// Денежные поля неизменяемы после создания, мутации ограничены
// переходами статуса.
type Order struct {
	ID string
	// Number: человекочитаемый номер заказа, уникален.
	Number     string
	CustomerID string
	Status     OrderStatus
	Currency   string

	SubtotalMinor int64
	DiscountMinor int64
	ShippingMinor int64
	TaxMinor      int64
	TotalMinor    int64

	Items   []OrderItem
	Address ShippingAddress

	// PaymentProvider и PaymentExternalID связывают заказ с платежом шлюза.
	PaymentProvider   string
	PaymentExternalID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает
// список замечаний. totalEpsilonMinor допускает расхождение суммы на
// величину округления валюты.
func (o *Order) ValidateInvariants(totalEpsilonMinor int64) []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusInvalid)
	}

	var subtotal int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		subtotal += int64(item.Qty) * item.PriceMinor
	}
	if subtotal != o.SubtotalMinor {
		errs = append(errs, ErrSubtotalMismatch)
	}
	if o.DiscountMinor < 0 || o.ShippingMinor < 0 || o.TaxMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// total == subtotal - discount + shipping + tax с точностью до epsilon.
	want := o.SubtotalMinor - o.DiscountMinor + o.ShippingMinor + o.TaxMinor
	diff := o.TotalMinor - want
	if diff < 0 {
		diff = -diff
	}
	if diff > totalEpsilonMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}
