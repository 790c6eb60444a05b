package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

// ProviderStripe: имя провайдера в реестре и в пути вебхука.
const ProviderStripe = "stripe"

const defaultStripeTimeout = 5 * time.Second

// eventCheckoutCompleted: единственный тип события, который
// материализует заказ.
const eventCheckoutCompleted = "checkout.session.completed"

// StripeConfig задаёт доступ к API Stripe-подобного шлюза.
type StripeConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// Configured сообщает, достаточно ли настроек для работы адаптера.
func (c StripeConfig) Configured() bool {
	return c.BaseURL != "" && c.APIKey != "" && c.WebhookSecret != ""
}

// Stripe реализует domain.GatewayClient поверх checkout sessions API.
type Stripe struct {
	cfg    StripeConfig
	httpc  *http.Client
	logger *log.Entry
	now    func() time.Time
}

// NewStripe создаёт адаптер Stripe.
func NewStripe(cfg StripeConfig, logger *log.Entry) *Stripe {
	if logger == nil {
		logger = log.WithField("component", "gateway-stripe")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultStripeTimeout
	}
	return &Stripe{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

func (s *Stripe) Name() string { return ProviderStripe }

type stripeSessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateSession создаёт checkout session form-encoded запросом, как
// того требует API, и возвращает hosted-URL оплаты.
func (s *Stripe) CreateSession(ctx context.Context, req domain.CheckoutSessionRequest) (domain.CheckoutSession, error) {
	if !s.cfg.Configured() {
		return domain.CheckoutSession{}, domain.ErrGatewayNotConfigured
	}

	snapshotRaw, err := packSnapshot(req.Snapshot)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.Reference)
	form.Set("customer_email", req.BuyerEmail)
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("metadata["+metadataSnapshotKey+"]", snapshotRaw)
	if req.BuyerExternalID != "" {
		form.Set("metadata["+metadataBuyerKey+"]", req.BuyerExternalID)
	}

	currency := strings.ToLower(req.Snapshot.Currency)
	for i, line := range req.Snapshot.Lines {
		prefix := "line_items[" + strconv.Itoa(i) + "]"
		form.Set(prefix+"[quantity]", strconv.FormatInt(int64(line.Qty), 10))
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(line.PriceMinor, 10))
		form.Set(prefix+"[price_data][product_data][name]", line.Name)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.BaseURL, "/")+"/v1/checkout/sessions",
		strings.NewReader(form.Encode()))
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(s.cfg.APIKey, "")

	resp, err := s.httpc.Do(httpReq)
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.logger.WithFields(log.Fields{
			"status":    resp.StatusCode,
			"reference": req.Reference,
		}).Warn("stripe session creation failed")
		return domain.CheckoutSession{}, fmt.Errorf("%w: status %d: %s",
			domain.ErrGatewayUnavailable, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var session stripeSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("%w: decode session response: %v", domain.ErrGatewayUnavailable, err)
	}
	if session.ID == "" || session.URL == "" {
		return domain.CheckoutSession{}, fmt.Errorf("%w: empty session response", domain.ErrGatewayUnavailable)
	}

	return domain.CheckoutSession{
		Provider:    ProviderStripe,
		SessionID:   session.ID,
		RedirectURL: session.URL,
		Totals:      req.Snapshot.Totals,
	}, nil
}

// VerifySignature проверяет заголовок Stripe-Signature формата
// "t=...,v1=...". Допускается несколько v1 при ротации секрета.
func (s *Stripe) VerifySignature(rawBody []byte, headers map[string]string) error {
	ts, signatures := parseSignatureHeader(headers["stripe-signature"], "t", "v1")
	return verifySignedBody(s.cfg.WebhookSecret, ts, signatures, rawBody, s.now())
}

type stripeCustomerDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type stripeShippingDetails struct {
	Name    string `json:"name"`
	Address struct {
		Line1      string `json:"line1"`
		Line2      string `json:"line2"`
		City       string `json:"city"`
		State      string `json:"state"`
		PostalCode string `json:"postal_code"`
		Country    string `json:"country"`
	} `json:"address"`
}

type stripeSessionObject struct {
	ID              string                `json:"id"`
	AmountTotal     int64                 `json:"amount_total"`
	AmountSubtotal  int64                 `json:"amount_subtotal"`
	Currency        string                `json:"currency"`
	PaymentIntent   string                `json:"payment_intent"`
	CustomerDetails stripeCustomerDetails `json:"customer_details"`
	Shipping        stripeShippingDetails `json:"shipping_details"`
	Metadata        map[string]string     `json:"metadata"`
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeSessionObject `json:"object"`
	} `json:"data"`
}

// ParseEvent нормализует событие Stripe. Всё, кроме завершённой
// checkout-сессии, подтверждается без обработки.
func (s *Stripe) ParseEvent(rawBody []byte) (domain.PaymentConfirmed, error) {
	var event stripeEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return domain.PaymentConfirmed{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	if event.Type != eventCheckoutCompleted {
		return domain.PaymentConfirmed{}, domain.ErrUnsupportedEvent
	}

	object := event.Data.Object
	if object.ID == "" {
		return domain.PaymentConfirmed{}, fmt.Errorf("%w: missing session id", domain.ErrMalformedPayload)
	}

	snapshot, err := unpackSnapshot(object.Metadata[metadataSnapshotKey])
	if err != nil {
		return domain.PaymentConfirmed{}, err
	}

	return domain.PaymentConfirmed{
		Provider:            ProviderStripe,
		ExternalReference:   object.ID,
		AmountTotalMinor:    object.AmountTotal,
		AmountSubtotalMinor: object.AmountSubtotal,
		Currency:            strings.ToUpper(object.Currency),
		PayerEmail:          object.CustomerDetails.Email,
		PayerName:           object.CustomerDetails.Name,
		PayerPhone:          object.CustomerDetails.Phone,
		PayerExternalID:     object.Metadata[metadataBuyerKey],
		PaymentInstrumentID: object.PaymentIntent,
		Shipping: domain.ShippingAddress{
			Name:       object.Shipping.Name,
			Line1:      object.Shipping.Address.Line1,
			Line2:      object.Shipping.Address.Line2,
			City:       object.Shipping.Address.City,
			Region:     object.Shipping.Address.State,
			PostalCode: object.Shipping.Address.PostalCode,
			Country:    object.Shipping.Address.Country,
		},
		Snapshot: snapshot,
	}, nil
}

var _ domain.GatewayClient = (*Stripe)(nil)
