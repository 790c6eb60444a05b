package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

const (
	defaultOrderListLimit = 20
	maxOrderListLimit     = 100
)

type orderItemView struct {
	ProductID  string `json:"product_id"`
	Variant    string `json:"variant,omitempty"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

type orderView struct {
	ID              string                 `json:"id"`
	Number          string                 `json:"number"`
	CustomerID      string                 `json:"customer_id"`
	Status          string                 `json:"status"`
	Currency        string                 `json:"currency"`
	SubtotalMinor   int64                  `json:"subtotal_minor"`
	DiscountMinor   int64                  `json:"discount_minor"`
	ShippingMinor   int64                  `json:"shipping_minor"`
	TaxMinor        int64                  `json:"tax_minor"`
	TotalMinor      int64                  `json:"total_minor"`
	Items           []orderItemView        `json:"items"`
	Address         domain.ShippingAddress `json:"shipping_address"`
	PaymentProvider string                 `json:"payment_provider"`
	CreatedAt       time.Time              `json:"created_at"`
}

func toOrderView(order domain.Order) orderView {
	items := make([]orderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemView{
			ProductID:  item.ProductID,
			Variant:    item.Variant,
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	return orderView{
		ID:              order.ID,
		Number:          order.Number,
		CustomerID:      order.CustomerID,
		Status:          string(order.Status),
		Currency:        order.Currency,
		SubtotalMinor:   order.SubtotalMinor,
		DiscountMinor:   order.DiscountMinor,
		ShippingMinor:   order.ShippingMinor,
		TaxMinor:        order.TaxMinor,
		TotalMinor:      order.TotalMinor,
		Items:           items,
		Address:         order.Address,
		PaymentProvider: order.PaymentProvider,
		CreatedAt:       order.CreatedAt,
	}
}

// handleListOrders обрабатывает GET /orders?customerId=...&limit=...
func (s *Server) handleListOrders(c *gin.Context) {
	customerID := c.Query("customerId")
	if customerID == "" {
		writeError(c, http.StatusBadRequest, codeBadRequest, "customerId query parameter is required")
		return
	}

	limit := defaultOrderListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, http.StatusBadRequest, codeBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxOrderListLimit {
		limit = maxOrderListLimit
	}

	orders, err := s.orders.ListByCustomer(customerID, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, codeInternal, "failed to list orders")
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, toOrderView(order))
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

// handleGetOrder обрабатывает GET /orders/:number. Принимает как
// человекочитаемый номер, так и внутренний id.
func (s *Server) handleGetOrder(c *gin.Context) {
	key := c.Param("number")

	order, err := s.orders.GetByNumber(key)
	if errors.Is(err, domain.ErrOrderNotFound) {
		order, err = s.orders.Get(key)
	}
	if errors.Is(err, domain.ErrOrderNotFound) {
		writeError(c, http.StatusNotFound, codeOrderNotFound, "order not found")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, codeInternal, "failed to load order")
		return
	}

	c.JSON(http.StatusOK, toOrderView(order))
}
