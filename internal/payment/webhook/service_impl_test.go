package webhook_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/savethedate/payments/internal/clock"
	"github.com/savethedate/payments/internal/config"
	giftitemrepo "github.com/savethedate/payments/internal/giftitem/repository"
	"github.com/savethedate/payments/internal/payment/adapters/paystack"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	paymentrepo "github.com/savethedate/payments/internal/payment/repository"
	paymentservice "github.com/savethedate/payments/internal/payment/service"
	"github.com/savethedate/payments/internal/payment/webhook"
	payoutrepo "github.com/savethedate/payments/internal/payout/repository"
	payoutservice "github.com/savethedate/payments/internal/payout/service"
	"github.com/savethedate/payments/internal/testutil/dbtest"
	"github.com/savethedate/payments/internal/testutil/gatewaymock"
	"github.com/savethedate/payments/internal/testutil/svctest"
	transactionrepo "github.com/savethedate/payments/internal/transaction/repository"
	"github.com/savethedate/payments/pkg/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const secret = "sk_test_webhook"

type harness struct {
	db       *gorm.DB
	notifier *svctest.Notifier
	svc      paymentdomain.WebhookService
}

func newHarness(t *testing.T, signingSecret string) *harness {
	t.Helper()
	db := dbtest.Open(t)
	node := svctest.Node(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{Paystack: config.PaystackConfig{SecretKey: signingSecret, Currency: "NGN"}}
	gateway := &gatewaymock.Gateway{}
	notifier := &svctest.Notifier{}
	subscriptionSvc := svctest.Subscription(t, db)
	systemLogSvc := svctest.SystemLog(t, db, node)
	txRepo := transactionrepo.Provide()

	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:              db,
		Log:             zap.NewNop(),
		GenID:           node,
		Config:          cfg,
		Gateway:         gateway,
		TxRepo:          txRepo,
		GiftRepo:        giftitemrepo.Provide(),
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
		Repo:            payoutrepo.Provide(),
		TxRepo:          txRepo,
		SubscriptionSvc: subscriptionSvc,
		SystemLogSvc:    systemLogSvc,
		Notifier:        notifier,
		Clock:           fake,
	})
	svc := webhook.NewService(webhook.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Cfg:        cfg,
		PaymentSvc: paymentSvc,
		PayoutSvc:  payoutSvc,
		EventRepo:  paymentrepo.Provide(),
		Clock:      fake,
	})

	dbtest.SeedOwner(t, db, "tier_pro", "3", "usr_1", "evt_1")
	dbtest.SeedGiftItem(t, db, 1, "evt_1", "10000", 4, 1)
	return &harness{db: db, notifier: notifier, svc: svc}
}

func chargeSuccess(reference string) []byte {
	return []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":%q,"status":"success","amount":1000000,"currency":"NGN"}}`, reference))
}

func TestChargeSuccessReplaysCompleteOnce(t *testing.T) {
	h := newHarness(t, secret)
	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 10, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Reference: "std_A"})
	payload := chargeSuccess("std_A")
	signature := paystack.Sign(secret, payload)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.svc.Ingest(context.Background(), payload, signature))
	}

	dbtest.AssertCount(t, h.db, 2, "SELECT purchased_quantity FROM gift_items WHERE id = 1")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE status = 'completed' AND fee_amount = 300")
	dbtest.AssertCount(t, h.db, 5, "SELECT COUNT(*) FROM webhook_events WHERE reference = 'std_A'")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM webhook_events WHERE outcome = 'processed'")
	dbtest.AssertCount(t, h.db, 4, "SELECT COUNT(*) FROM webhook_events WHERE outcome = 'duplicate'")
	assert.Len(t, h.notifier.Contributions, 1)
}

func TestChargeSuccessOnFailedRowIsLoggedForReconciliation(t *testing.T) {
	h := newHarness(t, secret)
	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 10, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Reference: "std_late", Status: "failed"})
	payload := chargeSuccess("std_late")

	require.NoError(t, h.svc.Ingest(context.Background(), payload, paystack.Sign(secret, payload)))

	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE id = 10 AND status = 'failed'")
	dbtest.AssertCount(t, h.db, 1, "SELECT purchased_quantity FROM gift_items WHERE id = 1")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM system_logs WHERE level = 'error' AND message = 'charge succeeded on failed transaction'")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM webhook_events WHERE reference = 'std_late' AND outcome = 'ignored'")
	assert.Empty(t, h.notifier.Contributions)
}

func TestBadSignatureChangesNothing(t *testing.T) {
	h := newHarness(t, secret)
	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 10, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Reference: "std_A"})
	payload := chargeSuccess("std_A")

	for _, signature := range []string{"", "deadbeef", paystack.Sign("sk_other", payload)} {
		err := h.svc.Ingest(context.Background(), payload, signature)
		assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	}

	dbtest.AssertCount(t, h.db, 1, "SELECT purchased_quantity FROM gift_items WHERE id = 1")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE status = 'pending'")
	dbtest.AssertCount(t, h.db, 0, "SELECT COUNT(*) FROM webhook_events")
}

func TestMissingSecretRejectsEverything(t *testing.T) {
	h := newHarness(t, "")
	payload := chargeSuccess("std_A")

	err := h.svc.Ingest(context.Background(), payload, paystack.Sign("", payload))
	assert.True(t, errors.Is(err, errkind.ErrConfig))
	dbtest.AssertCount(t, h.db, 0, "SELECT COUNT(*) FROM webhook_events")
}

func TestUnknownReferenceIsNotFound(t *testing.T) {
	h := newHarness(t, secret)
	payload := chargeSuccess("std_unknown")

	err := h.svc.Ingest(context.Background(), payload, paystack.Sign(secret, payload))
	assert.True(t, errors.Is(err, errkind.ErrNotFound))
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM webhook_events WHERE outcome = 'failed'")
}

func TestUnknownEventIsIgnored(t *testing.T) {
	h := newHarness(t, secret)
	payload := []byte(`{"event":"subscription.create","data":{"reference":"x"}}`)

	require.NoError(t, h.svc.Ingest(context.Background(), payload, paystack.Sign(secret, payload)))
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM webhook_events WHERE outcome = 'ignored'")
}

func TestMalformedPayload(t *testing.T) {
	h := newHarness(t, secret)
	for _, payload := range [][]byte{[]byte(`not json`), []byte(`{"data":{}}`), []byte(`{"event":"charge.success","data":"x"}`)} {
		err := h.svc.Ingest(context.Background(), payload, paystack.Sign(secret, payload))
		assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
	}

	payload := []byte(`{"event":"charge.success","data":{}}`)
	err := h.svc.Ingest(context.Background(), payload, paystack.Sign(secret, payload))
	assert.ErrorIs(t, err, paymentdomain.ErrMissingReference)
}

func seedProcessingPayout(t *testing.T, db *gorm.DB, reference string) {
	t.Helper()
	dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: 21, GiftItemID: 1, EventID: "evt_1", Amount: "1000", Fee: "50", Status: "completed", PayoutStatus: "processing", PayoutReference: reference})
	dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: 22, GiftItemID: 1, EventID: "evt_1", Amount: "2000", Fee: "100", Status: "completed", PayoutStatus: "processing", PayoutReference: reference})
	now := time.Now().UTC()
	require.NoError(t, db.Exec(`INSERT INTO payouts (id, reference, beneficiary_type, beneficiary_id, recipient_code, amount, currency, transaction_count, status, created_at, updated_at)
		VALUES (1, ?, 'event', 'evt_1', 'RCP_usr_1', 2850, 'NGN', 2, 'processing', ?, ?)`, reference, now, now).Error)
}

func TestTransferSuccessSettles(t *testing.T) {
	h := newHarness(t, secret)
	seedProcessingPayout(t, h.db, "po_1")
	payload := []byte(`{"event":"transfer.success","data":{"reference":"po_1","transfer_code":"TRF_1","status":"success"}}`)

	require.NoError(t, h.svc.Ingest(context.Background(), payload, paystack.Sign(secret, payload)))
	require.NoError(t, h.svc.Ingest(context.Background(), payload, paystack.Sign(secret, payload)))

	dbtest.AssertCount(t, h.db, 2, "SELECT COUNT(*) FROM transactions WHERE payout_status = 'completed'")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM payouts WHERE status = 'completed' AND transfer_code = 'TRF_1'")
}

func TestTransferSuccessUnknownReference(t *testing.T) {
	h := newHarness(t, secret)
	payload := []byte(`{"event":"transfer.success","data":{"reference":"po_missing"}}`)

	err := h.svc.Ingest(context.Background(), payload, paystack.Sign(secret, payload))
	assert.True(t, errors.Is(err, errkind.ErrNotFound))
}

func TestTransferFailedLogsAndAlerts(t *testing.T) {
	h := newHarness(t, secret)
	seedProcessingPayout(t, h.db, "po_2")
	payload := []byte(`{"event":"transfer.failed","data":{"reference":"po_2","reason":"Could not resolve account"}}`)

	require.NoError(t, h.svc.Ingest(context.Background(), payload, paystack.Sign(secret, payload)))

	dbtest.AssertCount(t, h.db, 2, "SELECT COUNT(*) FROM transactions WHERE payout_status = 'failed'")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM payouts WHERE status = 'failed' AND failure_reason = 'Could not resolve account'")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM system_logs WHERE level = 'error' AND message = 'Payout failed'")
	require.Len(t, h.notifier.Alerts, 1)
	assert.Equal(t, "Could not resolve account", h.notifier.Alerts[0].Reason)
}

func TestTransferReversedFailsPayout(t *testing.T) {
	h := newHarness(t, secret)
	seedProcessingPayout(t, h.db, "po_3")
	payload := []byte(`{"event":"transfer.reversed","data":{"reference":"po_3"}}`)

	require.NoError(t, h.svc.Ingest(context.Background(), payload, paystack.Sign(secret, payload)))
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM payouts WHERE status = 'failed' AND failure_reason = 'transfer reversed'")
}
