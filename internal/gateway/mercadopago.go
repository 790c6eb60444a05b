package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

// ProviderMercadoPago: имя провайдера в реестре и в пути вебхука.
const ProviderMercadoPago = "mercadopago"

const defaultMercadoPagoTimeout = 5 * time.Second

// MercadoPagoConfig задаёт доступ к API MercadoPago-подобного шлюза.
type MercadoPagoConfig struct {
	BaseURL       string
	AccessToken   string
	WebhookSecret string
	Timeout       time.Duration
}

// Configured сообщает, достаточно ли настроек для работы адаптера.
func (c MercadoPagoConfig) Configured() bool {
	return c.BaseURL != "" && c.AccessToken != "" && c.WebhookSecret != ""
}

// MercadoPago реализует domain.GatewayClient поверх checkout preferences API.
type MercadoPago struct {
	cfg    MercadoPagoConfig
	httpc  *http.Client
	logger *log.Entry
	now    func() time.Time
}

// NewMercadoPago создаёт адаптер MercadoPago.
func NewMercadoPago(cfg MercadoPagoConfig, logger *log.Entry) *MercadoPago {
	if logger == nil {
		logger = log.WithField("component", "gateway-mercadopago")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMercadoPagoTimeout
	}
	return &MercadoPago{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

func (m *MercadoPago) Name() string { return ProviderMercadoPago }

type mpPreferenceItem struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Quantity       int32  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	CurrencyID     string `json:"currency_id"`
}

type mpPreferenceRequest struct {
	ExternalReference string             `json:"external_reference"`
	Items             []mpPreferenceItem `json:"items"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
	Metadata map[string]string `json:"metadata"`
	BackURLs struct {
		Success string `json:"success"`
		Failure string `json:"failure"`
	} `json:"back_urls"`
	AutoReturn string `json:"auto_return"`
}

type mpPreferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// CreateSession создаёт checkout preference и возвращает init_point.
func (m *MercadoPago) CreateSession(ctx context.Context, req domain.CheckoutSessionRequest) (domain.CheckoutSession, error) {
	if !m.cfg.Configured() {
		return domain.CheckoutSession{}, domain.ErrGatewayNotConfigured
	}

	snapshotRaw, err := packSnapshot(req.Snapshot)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	body := mpPreferenceRequest{
		ExternalReference: req.Reference,
		AutoReturn:        "approved",
		Metadata:          map[string]string{metadataSnapshotKey: snapshotRaw},
	}
	body.Payer.Email = req.BuyerEmail
	body.BackURLs.Success = req.SuccessURL
	body.BackURLs.Failure = req.CancelURL
	if req.BuyerExternalID != "" {
		body.Metadata[metadataBuyerKey] = req.BuyerExternalID
	}
	for _, line := range req.Snapshot.Lines {
		body.Items = append(body.Items, mpPreferenceItem{
			ID:             line.ProductID,
			Title:          line.Name,
			Quantity:       line.Qty,
			UnitPriceMinor: line.PriceMinor,
			CurrencyID:     req.Snapshot.Currency,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("marshal preference request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(m.cfg.BaseURL, "/")+"/checkout/preferences", bytes.NewReader(payload))
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("build preference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+m.cfg.AccessToken)

	resp, err := m.httpc.Do(httpReq)
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		m.logger.WithFields(log.Fields{
			"status":    resp.StatusCode,
			"reference": req.Reference,
		}).Warn("mercadopago preference creation failed")
		return domain.CheckoutSession{}, fmt.Errorf("%w: status %d: %s",
			domain.ErrGatewayUnavailable, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var preference mpPreferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&preference); err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("%w: decode preference response: %v", domain.ErrGatewayUnavailable, err)
	}
	if preference.ID == "" || preference.InitPoint == "" {
		return domain.CheckoutSession{}, fmt.Errorf("%w: empty preference response", domain.ErrGatewayUnavailable)
	}

	return domain.CheckoutSession{
		Provider:    ProviderMercadoPago,
		SessionID:   preference.ID,
		RedirectURL: preference.InitPoint,
		Totals:      req.Snapshot.Totals,
	}, nil
}

// VerifySignature проверяет заголовок x-signature формата "ts=...,v1=...".
func (m *MercadoPago) VerifySignature(rawBody []byte, headers map[string]string) error {
	ts, signatures := parseSignatureHeader(headers["x-signature"], "ts", "v1")
	return verifySignedBody(m.cfg.WebhookSecret, ts, signatures, rawBody, m.now())
}

type mpWebhookPayer struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type mpWebhookData struct {
	ID                     string                 `json:"id"`
	Status                 string                 `json:"status"`
	ExternalReference      string                 `json:"external_reference"`
	TransactionAmountMinor int64                  `json:"transaction_amount_minor"`
	SubtotalMinor          int64                  `json:"subtotal_minor"`
	CurrencyID             string                 `json:"currency_id"`
	PaymentMethodID        string                 `json:"payment_method_id"`
	Payer                  mpWebhookPayer         `json:"payer"`
	Shipping               domain.ShippingAddress `json:"shipping"`
	Metadata               map[string]string      `json:"metadata"`
}

type mpWebhookEvent struct {
	Type   string        `json:"type"`
	Action string        `json:"action"`
	Data   mpWebhookData `json:"data"`
}

// ParseEvent нормализует вебхук MercadoPago. Интересны только
// payment-события в статусе approved, остальное подтверждается без
// обработки.
func (m *MercadoPago) ParseEvent(rawBody []byte) (domain.PaymentConfirmed, error) {
	var event mpWebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return domain.PaymentConfirmed{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	if event.Type != "payment" {
		return domain.PaymentConfirmed{}, domain.ErrUnsupportedEvent
	}
	if event.Data.Status != "approved" {
		return domain.PaymentConfirmed{}, domain.ErrUnsupportedEvent
	}

	snapshot, err := unpackSnapshot(event.Data.Metadata[metadataSnapshotKey])
	if err != nil {
		return domain.PaymentConfirmed{}, err
	}

	reference := event.Data.ExternalReference
	if reference == "" {
		reference = event.Data.ID
	}

	name := strings.TrimSpace(event.Data.Payer.FirstName + " " + event.Data.Payer.LastName)
	return domain.PaymentConfirmed{
		Provider:            ProviderMercadoPago,
		ExternalReference:   reference,
		AmountTotalMinor:    event.Data.TransactionAmountMinor,
		AmountSubtotalMinor: event.Data.SubtotalMinor,
		Currency:            event.Data.CurrencyID,
		PayerEmail:          event.Data.Payer.Email,
		PayerName:           name,
		PayerPhone:          event.Data.Payer.Phone,
		PayerExternalID:     event.Data.Metadata[metadataBuyerKey],
		PaymentInstrumentID: event.Data.PaymentMethodID,
		Shipping:            event.Data.Shipping,
		Snapshot:            snapshot,
	}, nil
}

var _ domain.GatewayClient = (*MercadoPago)(nil)
