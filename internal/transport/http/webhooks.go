package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

// maxWebhookBody ограничивает размер принимаемого тела вебхука.
const maxWebhookBody = 1 << 20

type webhookResponse struct {
	Status      string `json:"status"`
	OrderID     string `json:"order_id,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
}

// handleWebhook обрабатывает POST /webhooks/:provider. Сырое тело
// читается до любого разбора: подпись проверяется по байтам как есть.
func (s *Server) handleWebhook(c *gin.Context) {
	provider := c.Param("provider")
	client, err := s.gateways.Resolve(provider)
	if err != nil {
		writeError(c, http.StatusNotFound, codeProviderUnknown, "unknown payment provider")
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		writeError(c, http.StatusBadRequest, codeMalformedPayload, "failed to read request body")
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}

	if err := client.VerifySignature(rawBody, headers); err != nil {
		if s.metrics != nil {
			s.metrics.RecordWebhookRejected()
		}
		s.logger.WithFields(log.Fields{
			"provider":   provider,
			"request_id": c.GetString(requestIDKey),
		}).Warn("webhook signature verification failed")
		writeError(c, http.StatusBadRequest, codeInvalidSignature, "signature verification failed")
		return
	}

	event, err := client.ParseEvent(rawBody)
	switch {
	case errors.Is(err, domain.ErrUnsupportedEvent):
		// Шлюзу достаточно знать, что повторять доставку не нужно.
		if s.metrics != nil {
			s.metrics.RecordWebhookSkipped()
		}
		c.JSON(http.StatusOK, webhookResponse{Status: "ignored"})
		return
	case err != nil:
		if s.metrics != nil {
			s.metrics.RecordWebhookRejected()
		}
		writeError(c, http.StatusBadRequest, codeMalformedPayload, "malformed event payload")
		return
	}

	result, err := s.reconciler.ProcessEvent(c.Request.Context(), event)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedPayload) {
			if s.metrics != nil {
				s.metrics.RecordWebhookRejected()
			}
			writeError(c, http.StatusBadRequest, codeMalformedPayload, "malformed event payload")
			return
		}
		// Внутренний сбой: отвечаем 500, шлюз повторит доставку, а
		// идемпотентность сделает повтор безопасным.
		s.logger.WithError(err).WithFields(log.Fields{
			"provider":  provider,
			"reference": event.ExternalReference,
		}).Error("webhook processing failed")
		writeError(c, http.StatusInternalServerError, codeInternal, "event processing failed")
		return
	}

	if s.metrics != nil {
		s.metrics.RecordWebhookAccepted()
	}

	if result.Duplicate {
		c.JSON(http.StatusOK, webhookResponse{
			Status:  "duplicate",
			OrderID: result.Order.ID,
		})
		return
	}

	c.JSON(http.StatusOK, webhookResponse{
		Status:      "processed",
		OrderID:     result.Order.ID,
		OrderNumber: result.Order.Number,
	})
}
