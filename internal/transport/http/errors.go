package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

// Коды ошибок стабильны и входят в контракт API: клиенты матчатся по
// коду, текст сообщения может меняться.
const (
	codeEmptyCart          = "empty_cart"
	codeMissingContact     = "missing_contact"
	codeInvalidQty         = "invalid_qty"
	codeUnknownProduct     = "unknown_product"
	codeCouponNotFound     = "coupon_not_found"
	codeBadRequest         = "bad_request"
	codeInvalidSignature   = "invalid_signature"
	codeMalformedPayload   = "malformed_payload"
	codeProviderUnknown    = "provider_unknown"
	codeGatewayUnavailable = "gateway_unavailable"
	codeOrderNotFound      = "order_not_found"
	codeInternal           = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: message})
}

// checkoutError переводит ошибки сборки сессии в HTTP-ответ.
func checkoutError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		writeError(c, http.StatusBadRequest, codeEmptyCart, "cart must contain at least one line")
	case errors.Is(err, domain.ErrMissingContact):
		writeError(c, http.StatusBadRequest, codeMissingContact, "buyer email is required")
	case errors.Is(err, domain.ErrQtyInvalid):
		writeError(c, http.StatusBadRequest, codeInvalidQty, "line qty must be greater than zero")
	case errors.Is(err, domain.ErrUnknownProduct):
		writeError(c, http.StatusBadRequest, codeUnknownProduct, "product not found in catalog")
	case errors.Is(err, domain.ErrCouponNotFound):
		writeError(c, http.StatusBadRequest, codeCouponNotFound, "coupon not found")
	case errors.Is(err, domain.ErrGatewayNotConfigured), errors.Is(err, domain.ErrGatewayUnavailable):
		// Пользователю оба случая выглядят одинаково: платёжная
		// система недоступна, попробуйте позже.
		writeError(c, http.StatusServiceUnavailable, codeGatewayUnavailable, "payment system unavailable")
	default:
		writeError(c, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
