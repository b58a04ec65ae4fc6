package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/savethedate/payments/internal/clock"
	"github.com/savethedate/payments/internal/config"
	giftitemdomain "github.com/savethedate/payments/internal/giftitem/domain"
	giftitemrepo "github.com/savethedate/payments/internal/giftitem/repository"
	giftitemservice "github.com/savethedate/payments/internal/giftitem/service"
	"github.com/savethedate/payments/internal/observability"
	"github.com/savethedate/payments/internal/payment/adapters/paystack"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	paymentrepo "github.com/savethedate/payments/internal/payment/repository"
	paymentservice "github.com/savethedate/payments/internal/payment/service"
	"github.com/savethedate/payments/internal/payment/webhook"
	"github.com/savethedate/payments/internal/providers/pdf"
	payoutrepo "github.com/savethedate/payments/internal/payout/repository"
	payoutservice "github.com/savethedate/payments/internal/payout/service"
	refunddomain "github.com/savethedate/payments/internal/refund/domain"
	refundservice "github.com/savethedate/payments/internal/refund/service"
	reportingservice "github.com/savethedate/payments/internal/reporting/service"
	"github.com/savethedate/payments/internal/testutil/dbtest"
	"github.com/savethedate/payments/internal/testutil/gatewaymock"
	"github.com/savethedate/payments/internal/testutil/svctest"
	transactionrepo "github.com/savethedate/payments/internal/transaction/repository"
	"github.com/savethedate/payments/pkg/db/pagination"
	"github.com/savethedate/payments/pkg/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testToken  = "svc_test_token"
	testSecret = "sk_test_server"
)

type harness struct {
	db       *gorm.DB
	gateway  *gatewaymock.Gateway
	notifier *svctest.Notifier
	engine   *gin.Engine
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	db := dbtest.Open(t)
	node := svctest.Node(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{
		ServiceAPIToken: token,
		PublicSiteURL:   "https://savethedate.example.com",
		Paystack:        config.PaystackConfig{SecretKey: testSecret, Currency: "NGN"},
	}
	gateway := &gatewaymock.Gateway{}
	notifier := &svctest.Notifier{}
	txRepo := transactionrepo.Provide()
	giftRepo := giftitemrepo.Provide()
	payoutRepo := payoutrepo.Provide()
	subscriptionSvc := svctest.Subscription(t, db)
	systemLogSvc := svctest.SystemLog(t, db, node)

	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:              db,
		Log:             zap.NewNop(),
		GenID:           node,
		Config:          cfg,
		Gateway:         gateway,
		TxRepo:          txRepo,
		GiftRepo:        giftRepo,
		SubscriptionSvc: subscriptionSvc,
		SystemLogSvc:    systemLogSvc,
		Notifier:        notifier,
		Clock:           fake,
	})
	payoutSvc := payoutservice.NewService(payoutservice.Params{
		DB:              db,
		Log:             zap.NewNop(),
		GenID:           node,
		Config:          cfg,
		Gateway:         gateway,
		Repo:            payoutRepo,
		TxRepo:          txRepo,
		SubscriptionSvc: subscriptionSvc,
		SystemLogSvc:    systemLogSvc,
		Notifier:        notifier,
		Clock:           fake,
	})

	engine := NewEngine(observability.Config{}, nil)
	NewServer(ServerParams{
		Gin: engine,
		Cfg: cfg,
		Log: zap.NewNop(),
		GiftItemSvc: giftitemservice.NewService(giftitemservice.Params{
			DB:    db,
			Log:   zap.NewNop(),
			GenID: node,
			Repo:  giftRepo,
			Clock: fake,
		}),
		PaymentSvc: paymentSvc,
		WebhookSvc: webhook.NewService(webhook.Params{
			DB:         db,
			Log:        zap.NewNop(),
			GenID:      node,
			Cfg:        cfg,
			PaymentSvc: paymentSvc,
			PayoutSvc:  payoutSvc,
			EventRepo:  paymentrepo.Provide(),
			Clock:      fake,
		}),
		PayoutSvc: payoutSvc,
		RefundSvc: refundservice.NewService(refundservice.Params{
			DB:           db,
			Log:          zap.NewNop(),
			Gateway:      gateway,
			TxRepo:       txRepo,
			GiftRepo:     giftRepo,
			SystemLogSvc: systemLogSvc,
			Clock:        fake,
		}),
		ReportingSvc: reportingservice.NewService(reportingservice.Params{
			DB:              db,
			Log:             zap.NewNop(),
			Config:          cfg,
			TxRepo:          txRepo,
			GiftRepo:        giftRepo,
			PayoutRepo:      payoutRepo,
			SubscriptionSvc: subscriptionSvc,
			SystemLogSvc:    systemLogSvc,
			PDF:             pdf.New(),
			Clock:           fake,
		}),
	})

	dbtest.SeedOwner(t, db, "tier_pro", "3", "usr_1", "evt_1")
	dbtest.SeedGiftItem(t, db, 1, "evt_1", "10000", 2, 1)
	return &harness{db: db, gateway: gateway, notifier: notifier, engine: engine}
}

func (h *harness) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func (h *harness) dashboard(method, path string, body []byte) *httptest.ResponseRecorder {
	return h.do(method, path, body, map[string]string{"Authorization": "Bearer " + testToken})
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndFallback(t *testing.T) {
	h := newHarness(t, testToken)

	w := h.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeError(t, w).Type)
}

func TestPublicPreflight(t *testing.T) {
	h := newHarness(t, testToken)
	for _, path := range []string{"/webhooks/paystack", "/api/payments/initialize", "/api/payments/verify/std_A"} {
		w := h.do(http.MethodOptions, path, nil, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "ok", w.Body.String())
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t, testToken)
	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 10, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Reference: "std_A"})
	payload := []byte(`{"event":"charge.success","data":{"reference":"std_A"}}`)

	for _, signature := range []string{"", "deadbeef", paystack.Sign("sk_other", payload)} {
		w := h.do(http.MethodPost, "/webhooks/paystack", payload, map[string]string{headerPaystackSignature: signature})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_signature", decodeMap(t, w)["error"])
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	}

	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE status = 'pending'")
	dbtest.AssertCount(t, h.db, 1, "SELECT purchased_quantity FROM gift_items WHERE id = 1")
}

func TestWebhookChargeSuccess(t *testing.T) {
	h := newHarness(t, testToken)
	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 10, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Reference: "std_A"})
	payload := []byte(`{"event":"charge.success","data":{"reference":"std_A","status":"success","amount":1000000}}`)
	headers := map[string]string{headerPaystackSignature: paystack.Sign(testSecret, payload)}

	for i := 0; i < 3; i++ {
		w := h.do(http.MethodPost, "/webhooks/paystack", payload, headers)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, true, decodeMap(t, w)["success"])
	}

	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE status = 'completed' AND fee_amount = 300")
	dbtest.AssertCount(t, h.db, 2, "SELECT purchased_quantity FROM gift_items WHERE id = 1")
	assert.Len(t, h.notifier.Contributions, 1)
}

func TestWebhookUnknownReferenceAsksForRetry(t *testing.T) {
	h := newHarness(t, testToken)
	payload := []byte(`{"event":"charge.success","data":{"reference":"std_missing"}}`)

	w := h.do(http.MethodPost, "/webhooks/paystack", payload, map[string]string{headerPaystackSignature: paystack.Sign(testSecret, payload)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decodeMap(t, w)["error"])
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM webhook_events WHERE outcome = 'failed'")
}

func TestInitializePayment(t *testing.T) {
	h := newHarness(t, testToken)
	h.gateway.On("Validate").Return(nil)
	h.gateway.On("InitializeTransaction", mock.Anything, mock.MatchedBy(func(req paymentdomain.InitializeRequest) bool {
		return req.AmountMinor == 500000 && req.Email == "guest@example.com"
	})).Return(paymentdomain.InitializeResult{AuthorizationURL: "https://checkout.paystack.com/abc", Reference: "std_gw"}, nil).Once()

	body := []byte(`{"email":"guest@example.com","amount":5000,"gift_item_id":"1","event_id":"evt_1"}`)
	w := h.do(http.MethodPost, "/api/payments/initialize", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decodeMap(t, w)
	assert.Equal(t, "https://checkout.paystack.com/abc", out["authorization_url"])
	assert.Equal(t, "std_gw", out["reference"])
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE status = 'pending' AND gateway_reference = 'std_gw'")
}

func TestInitializePaymentErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		kind   string
		code   string
	}{
		{name: "malformed", body: `{`, status: http.StatusBadRequest, kind: "validation_error", code: "invalid_request"},
		{name: "email", body: `{"email":"nope","amount":5000,"gift_item_id":"1","event_id":"evt_1"}`, status: http.StatusBadRequest, kind: "validation_error", code: "invalid_email"},
		{name: "amount", body: `{"email":"a@b.co","amount":0,"gift_item_id":"1","event_id":"evt_1"}`, status: http.StatusBadRequest, kind: "validation_error", code: "invalid_amount"},
		{name: "unknown item", body: `{"email":"a@b.co","amount":5000,"gift_item_id":"99","event_id":"evt_1"}`, status: http.StatusNotFound, kind: "not_found"},
		{name: "wrong event", body: `{"email":"a@b.co","amount":5000,"gift_item_id":"1","event_id":"evt_2"}`, status: http.StatusConflict, kind: "conflict"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, testToken)
			h.gateway.On("Validate").Return(nil).Maybe()

			w := h.do(http.MethodPost, "/api/payments/initialize", []byte(tc.body), nil)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			payload := decodeError(t, w)
			assert.Equal(t, tc.kind, payload.Type)
			if tc.code != "" {
				require.Len(t, payload.Errors, 1)
				assert.Equal(t, tc.code, payload.Errors[0].Code)
			}
			h.gateway.AssertNumberOfCalls(t, "InitializeTransaction", 0)
		})
	}
}

func TestInitializePaymentGatewayRejection(t *testing.T) {
	h := newHarness(t, testToken)
	h.gateway.On("Validate").Return(nil)
	h.gateway.On("InitializeTransaction", mock.Anything, mock.Anything).
		Return(paymentdomain.InitializeResult{}, errkind.GatewayRejected("Invalid Amount Sent")).Once()

	body := []byte(`{"email":"guest@example.com","amount":"5000","gift_item_id":"1","event_id":"evt_1"}`)
	w := h.do(http.MethodPost, "/api/payments/initialize", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "gateway_rejected", payload.Type)
	assert.Equal(t, "Invalid Amount Sent", payload.Message)
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE status = 'failed'")
}

func TestVerifyPayment(t *testing.T) {
	h := newHarness(t, testToken)
	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 10, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Fee: "300", Status: "completed", Reference: "std_A"})

	w := h.do(http.MethodGet, "/api/payments/verify/std_A", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decodeMap(t, w)
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, "std_A", out["reference"])
	assert.NotContains(t, out, "contributor_email")

	w = h.do(http.MethodGet, "/api/payments/verify/std_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	h.gateway.AssertNumberOfCalls(t, "VerifyTransaction", 0)
}

func TestDashboardRequiresServiceToken(t *testing.T) {
	h := newHarness(t, testToken)
	for _, header := range []string{"", "Bearer", "Bearer wrong", "Basic " + testToken} {
		w := h.do(http.MethodGet, "/api/events/evt_1/gift-items", nil, map[string]string{"Authorization": header})
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
	}

	disabled := newHarness(t, "")
	w := disabled.do(http.MethodGet, "/api/events/evt_1/gift-items", nil, map[string]string{"Authorization": "Bearer "})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGiftItems(t *testing.T) {
	h := newHarness(t, testToken)

	w := h.dashboard(http.MethodPost, "/api/events/evt_1/gift-items", []byte(`{"name":"Blender","desired_price":"25000.50","quantity":2}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var item giftitemdomain.GiftItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	assert.Equal(t, "Blender", item.Name)
	assert.Equal(t, "evt_1", item.EventID)

	w = h.dashboard(http.MethodPost, "/api/events/evt_1/gift-items", []byte(`{"name":"Blender","desired_price":"25000","quantity":0}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "quantity", decodeError(t, w).Errors[0].Field)

	w = h.dashboard(http.MethodGet, "/api/events/evt_1/gift-items", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		GiftItems []giftitemdomain.GiftItem `json:"gift_items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.GiftItems, 2)
}

func TestTransactionsAndExport(t *testing.T) {
	h := newHarness(t, testToken)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	for i := int64(0); i < 3; i++ {
		dbtest.SeedTransaction(t, h.db, dbtest.TxRow{
			ID: 10 + i, GiftItemID: 1, EventID: "evt_1", Amount: "1000", Fee: "30", Status: "completed",
			Reference: fmt.Sprintf("std_%d", i), CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}

	w := h.dashboard(http.MethodGet, "/api/events/evt_1/transactions?page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decodeMap(t, w)
	assert.Len(t, out["transactions"], 2)
	assert.Equal(t, true, out["has_more"])

	w = h.dashboard(http.MethodGet, "/api/events/evt_1/transactions?page_token=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_page_token", decodeError(t, w).Errors[0].Code)

	w = h.dashboard(http.MethodGet, "/api/events/evt_1/transactions/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "transactions.csv")
	assert.Contains(t, w.Body.String(), "Gift Item,Amount,Status,Payout Status,Date")

	w = h.dashboard(http.MethodGet, "/api/events/evt_1/payout-summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3000", decodeMap(t, w)["total_received"])
}

func TestPayoutRoutes(t *testing.T) {
	h := newHarness(t, testToken)

	w := h.dashboard(http.MethodPost, "/api/events/evt_1/payouts", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decodeMap(t, w)
	assert.Equal(t, "0", out["amount"])
	assert.EqualValues(t, 0, out["transaction_count"])
	h.gateway.AssertNumberOfCalls(t, "InitiateTransfer", 0)

	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 10, GiftItemID: 1, EventID: "evt_1", Amount: "1000", Fee: "50", Status: "completed", Reference: "std_A"})
	h.gateway.On("InitiateTransfer", mock.Anything, mock.Anything).
		Return(paymentdomain.TransferResult{}, errkind.GatewayRejected("Your balance is not enough to fulfil this request")).Once()

	w = h.dashboard(http.MethodPost, "/api/users/usr_1/payouts", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "Your balance is not enough to fulfil this request", decodeError(t, w).Message)
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE payout_status = 'pending'")

	w = h.dashboard(http.MethodPost, "/api/payouts/po_missing/requeue", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefundRoutes(t *testing.T) {
	h := newHarness(t, testToken)
	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 10, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Status: "pending", Reference: "std_A"})

	w := h.dashboard(http.MethodPost, "/api/transactions/abc/refund", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.dashboard(http.MethodPost, "/api/transactions/999/refund", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.dashboard(http.MethodPost, "/api/transactions/10/refund", []byte(`{"reason":"duplicate"}`))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decodeError(t, w).Type)
	h.gateway.AssertNumberOfCalls(t, "CreateRefund", 0)

	w = h.dashboard(http.MethodGet, "/api/transactions/10/receipt", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReconciliationReportFormats(t *testing.T) {
	h := newHarness(t, testToken)

	w := h.dashboard(http.MethodGet, "/api/reports/reconciliation", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, decodeMap(t, w), "generated_at")

	w = h.dashboard(http.MethodGet, "/api/reports/reconciliation?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "reconciliation-2026-03-01.csv")
	assert.Contains(t, w.Body.String(), "Category,Reference,Subject,Amount,Status,Detail,Occurred At")
}

func TestMapErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{errkind.Config("PAYSTACK_SECRET_KEY is not set"), http.StatusInternalServerError, "config_error"},
		{errkind.GatewayRejected("Duplicate Transaction Reference"), http.StatusUnprocessableEntity, "gateway_rejected"},
		{errkind.NotFound("payout not found"), http.StatusNotFound, "not_found"},
		{refunddomain.ErrNotRefundable, http.StatusConflict, "conflict"},
		{errkind.Transient("payment gateway timed out", errors.New("deadline")), http.StatusServiceUnavailable, "transient"},
		{fmt.Errorf("wrapped: %w", pagination.ErrInvalidPageToken), http.StatusBadRequest, "validation_error"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.kind, payload.Type, tc.err.Error())
	}

	_, payload := mapError(errkind.GatewayRejected("Duplicate Transaction Reference"))
	assert.Equal(t, "Duplicate Transaction Reference", payload.Message)
	_, payload = mapError(errors.New("pq: connection refused"))
	assert.Equal(t, "internal server error", payload.Message)
}

func TestClassifyErrorForLog(t *testing.T) {
	kind, code := classifyErrorForLog(paymentdomain.ErrInvalidEmail)
	assert.Equal(t, "validation_error", kind)
	assert.Equal(t, "invalid_email", code)

	kind, code = classifyErrorForLog(paymentdomain.ErrInvalidSignature)
	assert.Equal(t, "validation_error", kind)
	assert.Equal(t, "invalid_signature", code)

	kind, code = classifyErrorForLog(errkind.Transient("timeout", nil))
	assert.Equal(t, "transient", kind)
	assert.Equal(t, "transient", code)
}
