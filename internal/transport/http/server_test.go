package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
	"github.com/vladislavdragonenkov/storefront-payments/internal/gateway"
	"github.com/vladislavdragonenkov/storefront-payments/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront-payments/internal/service/reconcile"
	"github.com/vladislavdragonenkov/storefront-payments/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const stripeWebhookSecret = "whsec_test"

type fixture struct {
	router    *gin.Engine
	orders    domain.OrderRepository
	customers domain.CustomerRepository
	inventory domain.InventoryRepository
}

type stubGateway struct{}

func (stubGateway) Name() string { return "teststub" }

func (stubGateway) CreateSession(_ context.Context, req domain.CheckoutSessionRequest) (domain.CheckoutSession, error) {
	return domain.CheckoutSession{
		Provider:    "teststub",
		SessionID:   "sess-stub-1",
		RedirectURL: "https://pay.local/sess-stub-1",
		Totals:      req.Snapshot.Totals,
	}, nil
}

func (stubGateway) VerifySignature([]byte, map[string]string) error { return nil }

func (stubGateway) ParseEvent([]byte) (domain.PaymentConfirmed, error) {
	return domain.PaymentConfirmed{}, domain.ErrUnsupportedEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	orders := memory.NewOrderRepository()
	customers := memory.NewCustomerRepository()
	inventory := memory.NewInventoryRepository()
	require.NoError(t, inventory.Upsert(domain.InventoryLine{
		ProductID: "mattress-1", Variant: "queen", Name: "Cloud Queen",
		PriceMinor: 10000, Stock: 50,
	}))
	coupons := memory.NewCouponRepository()
	coupons.Put(domain.Coupon{Code: "SLEEP10", Type: domain.CouponPercentage, Value: 10})

	registry := gateway.NewRegistry()
	registry.Register(stubGateway{})
	registry.Register(gateway.NewStripe(gateway.StripeConfig{
		BaseURL: "http://stripe.local", APIKey: "sk", WebhookSecret: stripeWebhookSecret,
	}, nil))

	builder := checkout.NewBuilder(checkout.Config{
		Currency:                   "USD",
		FlatShippingFeeMinor:       5000,
		FreeShippingThresholdMinor: 50000,
		SuccessURL:                 "https://shop.local/success",
		CancelURL:                  "https://shop.local/cancel",
	}, inventory, coupons, registry, nil)

	reconciler := reconcile.NewReconciler(reconcile.Deps{
		Orders:    orders,
		Customers: customers,
		Inventory: inventory,
		Claims:    memory.NewClaimLedger(),
		Outbox:    memory.NewOutboxRepository(),
		Reviews:   memory.NewReviewRepository(),
	}, reconcile.WithRetryBaseDelay(0))

	server := NewServer(ServerDeps{
		Builder:    builder,
		Reconciler: reconciler,
		Orders:     orders,
		Gateways:   registry,
	})
	return &fixture{
		router:    server.Router(),
		orders:    orders,
		customers: customers,
		inventory: inventory,
	}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, req)
	return recorder
}

func postJSON(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCheckoutEndpoint(t *testing.T) {
	f := newFixture(t)

	recorder := f.do(postJSON(t, "/checkout", gin.H{
		"provider":    "teststub",
		"buyer_email": "buyer@example.com",
		"coupon_code": "SLEEP10",
		"lines": []gin.H{
			{"product_id": "mattress-1", "variant": "queen", "qty": 2},
		},
	}))
	require.Equal(t, http.StatusOK, recorder.Code)

	var response struct {
		SessionID   string                `json:"sessionId"`
		RedirectURL string                `json:"redirectUrl"`
		Totals      domain.CheckoutTotals `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.Equal(t, "sess-stub-1", response.SessionID)
	require.Equal(t, "https://pay.local/sess-stub-1", response.RedirectURL)
	require.Equal(t, int64(23000), response.Totals.TotalMinor)
}

func TestCheckoutEndpointValidation(t *testing.T) {
	f := newFixture(t)

	// Пустая корзина.
	recorder := f.do(postJSON(t, "/checkout", gin.H{
		"provider":    "teststub",
		"buyer_email": "buyer@example.com",
		"lines":       []gin.H{},
	}))
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "empty_cart")

	// Нет email.
	recorder = f.do(postJSON(t, "/checkout", gin.H{
		"provider": "teststub",
		"lines":    []gin.H{{"product_id": "mattress-1", "variant": "queen", "qty": 1}},
	}))
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "missing_contact")

	// Провайдер не настроен.
	recorder = f.do(postJSON(t, "/checkout", gin.H{
		"provider":    "paypal",
		"buyer_email": "buyer@example.com",
		"lines":       []gin.H{{"product_id": "mattress-1", "variant": "queen", "qty": 1}},
	}))
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	require.Contains(t, recorder.Body.String(), "gateway_unavailable")
}

func stripeEventBody(t *testing.T, reference string) []byte {
	t.Helper()
	snapshot := domain.CartSnapshot{
		Version:  domain.CartSnapshotVersion,
		Currency: "USD",
		Lines: []domain.SnapshotLine{
			{ProductID: "mattress-1", Variant: "queen", Name: "Cloud Queen", Qty: 2, PriceMinor: 10000},
		},
		Totals: domain.CheckoutTotals{
			SubtotalMinor: 20000,
			DiscountMinor: 2000,
			ShippingMinor: 5000,
			TotalMinor:    23000,
		},
	}
	rawSnapshot, err := json.Marshal(snapshot)
	require.NoError(t, err)

	body, err := json.Marshal(gin.H{
		"id":   "evt_1",
		"type": "checkout.session.completed",
		"data": gin.H{
			"object": gin.H{
				"id":              reference,
				"amount_total":    23000,
				"amount_subtotal": 20000,
				"currency":        "usd",
				"payment_intent":  "pi_1",
				"customer_details": gin.H{
					"email": "buyer@example.com",
					"name":  "Buyer Person",
				},
				"metadata": gin.H{"cart_snapshot": string(rawSnapshot)},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func signedWebhookRequest(body []byte) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(stripeWebhookSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, signature))
	return req
}

func TestWebhookEndpointProcessesPayment(t *testing.T) {
	f := newFixture(t)
	body := stripeEventBody(t, "cs_http_1")

	recorder := f.do(signedWebhookRequest(body))
	require.Equal(t, http.StatusOK, recorder.Code)

	var response webhookResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.Equal(t, "processed", response.Status)
	require.NotEmpty(t, response.OrderID)
	require.NotEmpty(t, response.OrderNumber)

	order, err := f.orders.Get(response.OrderID)
	require.NoError(t, err)
	require.Equal(t, int64(23000), order.TotalMinor)

	line, err := f.inventory.GetLine("mattress-1", "queen")
	require.NoError(t, err)
	require.Equal(t, int32(48), line.Stock)
}

func TestWebhookEndpointDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	body := stripeEventBody(t, "cs_http_dup")

	first := f.do(signedWebhookRequest(body))
	require.Equal(t, http.StatusOK, first.Code)
	var firstResponse webhookResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResponse))

	second := f.do(signedWebhookRequest(body))
	require.Equal(t, http.StatusOK, second.Code)
	var secondResponse webhookResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResponse))
	require.Equal(t, "duplicate", secondResponse.Status)
	require.Equal(t, firstResponse.OrderID, secondResponse.OrderID)

	// Списание произошло ровно один раз.
	line, err := f.inventory.GetLine("mattress-1", "queen")
	require.NoError(t, err)
	require.Equal(t, int32(48), line.Stock)
}

func TestWebhookEndpointRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	body := stripeEventBody(t, "cs_http_forged")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")

	recorder := f.do(req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "invalid_signature")

	// Заказ не создан: подпись проверяется до бизнес-логики.
	orders, err := f.orders.ListByCustomer("any", 10)
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestWebhookEndpointIgnoresUnsupportedEvent(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"id":"evt_2","type":"invoice.paid","data":{"object":{}}}`)

	recorder := f.do(signedWebhookRequest(body))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "ignored")
}

func TestWebhookEndpointMalformedPayload(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{not json`)

	recorder := f.do(signedWebhookRequest(body))
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "malformed_payload")
}

func TestWebhookEndpointUnknownProvider(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", bytes.NewReader([]byte(`{}`)))
	recorder := f.do(req)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Contains(t, recorder.Body.String(), "provider_unknown")
}

func TestOrderQueryEndpoints(t *testing.T) {
	f := newFixture(t)

	// Создаём заказ через вебхук, затем читаем оба маршрута.
	recorder := f.do(signedWebhookRequest(stripeEventBody(t, "cs_http_query")))
	require.Equal(t, http.StatusOK, recorder.Code)
	var created webhookResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &created))

	byNumber := f.do(httptest.NewRequest(http.MethodGet, "/orders/"+created.OrderNumber, nil))
	require.Equal(t, http.StatusOK, byNumber.Code)
	var view orderView
	require.NoError(t, json.Unmarshal(byNumber.Body.Bytes(), &view))
	require.Equal(t, created.OrderID, view.ID)
	require.Len(t, view.Items, 1)

	list := f.do(httptest.NewRequest(http.MethodGet, "/orders?customerId="+view.CustomerID, nil))
	require.Equal(t, http.StatusOK, list.Code)
	var listResponse struct {
		Orders []orderView `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listResponse))
	require.Len(t, listResponse.Orders, 1)

	missing := f.do(httptest.NewRequest(http.MethodGet, "/orders/S-19700101-000000", nil))
	require.Equal(t, http.StatusNotFound, missing.Code)

	noCustomer := f.do(httptest.NewRequest(http.MethodGet, "/orders", nil))
	require.Equal(t, http.StatusBadRequest, noCustomer.Code)
}
