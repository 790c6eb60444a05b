package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
	"github.com/vladislavdragonenkov/storefront-payments/internal/service/checkout"
)

type checkoutLine struct {
	ProductID string `json:"product_id" binding:"required"`
	Variant   string `json:"variant"`
	Qty       int32  `json:"qty"`
	// PriceMinor принимается, но не влияет на расчёт: цены считаются
	// на сервере по каталогу.
	PriceMinor int64 `json:"price_minor"`
}

type shippingAddressBody struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

type checkoutRequest struct {
	Provider        string              `json:"provider"`
	Lines           []checkoutLine      `json:"lines"`
	CouponCode      string              `json:"coupon_code"`
	BuyerEmail      string              `json:"buyer_email"`
	BuyerExternalID string              `json:"buyer_external_id"`
	Address         shippingAddressBody `json:"shipping_address"`
}

type checkoutResponse struct {
	SessionID   string                `json:"sessionId"`
	RedirectURL string                `json:"redirectUrl"`
	Provider    string                `json:"provider"`
	Totals      domain.CheckoutTotals `json:"totals"`
}

// handleCheckout обрабатывает POST /checkout.
func (s *Server) handleCheckout(c *gin.Context) {
	var body checkoutRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	lines := make([]domain.CartLine, 0, len(body.Lines))
	for _, line := range body.Lines {
		lines = append(lines, domain.CartLine{
			ProductID:  line.ProductID,
			Variant:    line.Variant,
			Qty:        line.Qty,
			PriceMinor: line.PriceMinor,
		})
	}

	session, err := s.builder.Build(c.Request.Context(), checkout.BuildRequest{
		Provider:        body.Provider,
		Lines:           lines,
		CouponCode:      body.CouponCode,
		BuyerEmail:      body.BuyerEmail,
		BuyerExternalID: body.BuyerExternalID,
		Address: domain.ShippingAddress{
			Name:       body.Address.Name,
			Line1:      body.Address.Line1,
			Line2:      body.Address.Line2,
			City:       body.Address.City,
			Region:     body.Address.Region,
			PostalCode: body.Address.PostalCode,
			Country:    body.Address.Country,
			Phone:      body.Address.Phone,
		},
	})
	if err != nil {
		checkoutError(c, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordSessionCreated()
	}
	c.JSON(http.StatusOK, checkoutResponse{
		SessionID:   session.SessionID,
		RedirectURL: session.RedirectURL,
		Provider:    session.Provider,
		Totals:      session.Totals,
	})
}
