package scheduler

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/savethedate/payments/internal/clock"
	"github.com/savethedate/payments/internal/config"
	giftitemrepo "github.com/savethedate/payments/internal/giftitem/repository"
	"github.com/savethedate/payments/internal/notification"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	paymentservice "github.com/savethedate/payments/internal/payment/service"
	payoutrepo "github.com/savethedate/payments/internal/payout/repository"
	payoutservice "github.com/savethedate/payments/internal/payout/service"
	reportingservice "github.com/savethedate/payments/internal/reporting/service"
	subscriptionrepo "github.com/savethedate/payments/internal/subscription/repository"
	subscriptionservice "github.com/savethedate/payments/internal/subscription/service"
	"github.com/savethedate/payments/internal/testutil/dbtest"
	"github.com/savethedate/payments/internal/testutil/gatewaymock"
	"github.com/savethedate/payments/internal/testutil/svctest"
	transactionrepo "github.com/savethedate/payments/internal/transaction/repository"
	"github.com/savethedate/payments/pkg/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type countingUploader struct {
	uploads int
}

func (u *countingUploader) Enabled() bool { return true }

func (u *countingUploader) Upload(ctx context.Context, name string, body io.Reader, contentType string) (string, error) {
	u.uploads++
	return "https://reports.example.com/" + name, nil
}

type harness struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	gateway  *gatewaymock.Gateway
	uploader *countingUploader
	catalog  *notification.Catalog
	sched    *Scheduler
}

func newHarness(t *testing.T, jobs ...string) *harness {
	t.Helper()
	db := dbtest.Open(t)
	node := svctest.Node(t)
	fake := clock.NewFakeClock(t0)
	gateway := &gatewaymock.Gateway{}
	uploader := &countingUploader{}
	cfg := config.Config{
		Paystack: config.PaystackConfig{SecretKey: "sk_test", Currency: "NGN"},
		Scheduler: config.SchedulerConfig{
			AbandonAfter:        24 * time.Hour,
			ProcessingPayoutAge: 30 * time.Minute,
		},
	}
	txRepo := transactionrepo.Provide()
	giftRepo := giftitemrepo.Provide()
	payoutRepo := payoutrepo.Provide()
	subscriptionSvc := svctest.Subscription(t, db)
	systemLogSvc := svctest.SystemLog(t, db, node)
	notifier := &svctest.Notifier{}

	catalog, err := notification.NewCatalog(db, zap.NewNop())
	require.NoError(t, err)

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
	reportingSvc := reportingservice.NewService(reportingservice.Params{
		DB:              db,
		Log:             zap.NewNop(),
		Config:          cfg,
		TxRepo:          txRepo,
		GiftRepo:        giftRepo,
		PayoutRepo:      payoutRepo,
		SubscriptionSvc: subscriptionSvc,
		SystemLogSvc:    systemLogSvc,
		Uploader:        uploader,
		Clock:           fake,
	})
	renewalSvc := subscriptionservice.NewRenewalService(subscriptionservice.RenewalParams{
		DB:           db,
		Log:          zap.NewNop(),
		Repo:         subscriptionrepo.Provide(),
		Gateway:      gateway,
		SystemLogSvc: systemLogSvc,
		Clock:        fake,
	})

	sched, err := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        fake,
		TxRepo:       txRepo,
		PaymentSvc:   paymentSvc,
		PayoutSvc:    payoutSvc,
		ReportingSvc: reportingSvc,
		RenewalSvc:   renewalSvc,
		Catalog:      catalog,
		Config: Config{
			PendingChargeAge:    15 * time.Minute,
			ProcessingPayoutAge: 30 * time.Minute,
			ReportInterval:      24 * time.Hour,
			EnabledJobs:         jobs,
		},
	})
	require.NoError(t, err)

	dbtest.SeedOwner(t, db, "tier_pro", "3", "usr_1", "evt_1")
	dbtest.SeedGiftItem(t, db, 1, "evt_1", "10000", 10, 0)
	return &harness{db: db, clock: fake, gateway: gateway, uploader: uploader, catalog: catalog, sched: sched}
}

func (h *harness) chargeStatus(reference string, status paymentdomain.ChargeStatus) {
	h.gateway.On("VerifyTransaction", mock.Anything, reference).
		Return(paymentdomain.ChargeVerification{Status: status, Reference: reference, AmountMinor: 1000000, Currency: "NGN"}, nil)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestReconcilePendingChargesOverTime(t *testing.T) {
	h := newHarness(t, JobReconcilePendingCharges)
	ctx := context.Background()
	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 10, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Reference: "std_A", CreatedAt: t0.Add(-20 * time.Minute)})
	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 11, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Reference: "std_B", CreatedAt: t0.Add(-20 * time.Minute)})
	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 12, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Reference: "std_C", CreatedAt: t0.Add(-time.Minute)})
	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 13, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Reference: "std_D", CreatedAt: t0.Add(-2 * time.Hour)})
	h.chargeStatus("std_A", paymentdomain.ChargeSuccess)
	h.chargeStatus("std_B", paymentdomain.ChargeAbandoned)
	h.chargeStatus("std_C", paymentdomain.ChargeOngoing)
	h.chargeStatus("std_D", paymentdomain.ChargeFailed)

	require.NoError(t, h.sched.RunOnce(ctx))

	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE id = 10 AND status = 'completed'")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE id = 11 AND status = 'pending'")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE id = 12 AND status = 'pending'")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE id = 13 AND status = 'failed'")
	dbtest.AssertCount(t, h.db, 1, "SELECT purchased_quantity FROM gift_items WHERE id = 1")
	h.gateway.AssertNotCalled(t, "VerifyTransaction", mock.Anything, "std_C")

	// a day later the abandoned charge is given up on
	h.clock.Advance(25 * time.Hour)
	require.NoError(t, h.sched.RunOnce(ctx))

	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE id = 11 AND status = 'failed'")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE id = 12 AND status = 'pending'")
	dbtest.AssertCount(t, h.db, 1, "SELECT purchased_quantity FROM gift_items WHERE id = 1")
}

func TestReconcilePendingChargesDefersUnknownOutcome(t *testing.T) {
	h := newHarness(t, JobReconcilePendingCharges)
	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 10, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Reference: "std_A", CreatedAt: t0.Add(-20 * time.Minute)})
	dbtest.SeedTransaction(t, h.db, dbtest.TxRow{ID: 11, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Reference: "std_B", CreatedAt: t0.Add(-30 * time.Hour)})
	h.gateway.On("VerifyTransaction", mock.Anything, "std_A").
		Return(paymentdomain.ChargeVerification{}, errkind.Transient("payment gateway timed out", context.DeadlineExceeded))
	h.gateway.On("VerifyTransaction", mock.Anything, "std_B").
		Return(paymentdomain.ChargeVerification{}, errkind.NotFound("Transaction reference not found"))

	require.NoError(t, h.sched.RunOnce(context.Background()))

	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE id = 10 AND status = 'pending'")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE id = 11 AND status = 'failed'")
}

func seedProcessingPayout(t *testing.T, db *gorm.DB, id int64, reference string, createdAt time.Time) {
	t.Helper()
	dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: id * 10, GiftItemID: 1, EventID: "evt_1", Amount: "3000", Fee: "150", Status: "completed", PayoutStatus: "processing", PayoutReference: reference, CreatedAt: createdAt})
	require.NoError(t, db.Exec(`INSERT INTO payouts (id, reference, beneficiary_type, beneficiary_id, recipient_code, amount, currency, transaction_count, status, created_at, updated_at)
		VALUES (?, ?, 'event', 'evt_1', 'RCP_usr_1', 2850, 'NGN', 1, 'processing', ?, ?)`, id, reference, createdAt, createdAt).Error)
}

func TestReconcileProcessingPayouts(t *testing.T) {
	h := newHarness(t, JobReconcileProcessingPayouts)
	seedProcessingPayout(t, h.db, 1, "po_settled", t0.Add(-time.Hour))
	seedProcessingPayout(t, h.db, 2, "po_missing", t0.Add(-time.Hour))
	seedProcessingPayout(t, h.db, 3, "po_recent", t0.Add(-time.Minute))
	h.gateway.On("VerifyTransfer", mock.Anything, "po_settled").
		Return(paymentdomain.TransferVerification{Reference: "po_settled", TransferCode: "TRF_1", Status: paymentdomain.TransferSuccess}, nil)
	h.gateway.On("VerifyTransfer", mock.Anything, "po_missing").
		Return(paymentdomain.TransferVerification{}, errkind.NotFound("Transfer not found"))

	require.NoError(t, h.sched.RunOnce(context.Background()))

	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM payouts WHERE reference = 'po_settled' AND status = 'completed'")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE payout_reference = 'po_settled' AND payout_status = 'completed'")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM payouts WHERE reference = 'po_missing' AND status = 'failed'")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM transactions WHERE id = 20 AND payout_status = 'pending' AND payout_reference IS NULL")
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM payouts WHERE reference = 'po_recent' AND status = 'processing'")
	h.gateway.AssertNotCalled(t, "VerifyTransfer", mock.Anything, "po_recent")
}

func TestPublishReconciliationReportFollowsInterval(t *testing.T) {
	h := newHarness(t, JobPublishReconciliation)
	ctx := context.Background()

	require.NoError(t, h.sched.RunOnce(ctx))
	assert.Equal(t, 1, h.uploader.uploads)

	h.clock.Advance(time.Hour)
	require.NoError(t, h.sched.RunOnce(ctx))
	assert.Equal(t, 1, h.uploader.uploads)

	h.clock.Advance(24 * time.Hour)
	require.NoError(t, h.sched.RunOnce(ctx))
	assert.Equal(t, 2, h.uploader.uploads)
}

func TestRenewSubscriptionsJob(t *testing.T) {
	h := newHarness(t, JobRenewSubscriptions)
	ctx := context.Background()
	dbtest.SeedSubscription(t, h.db, "sub_due", "usr_1", "tier_pro", "monthly", "AUTH_1", t0.Add(-time.Hour))
	dbtest.SeedSubscription(t, h.db, "sub_next_week", "usr_1", "tier_pro", "monthly", "AUTH_2", t0.Add(7*24*time.Hour))
	h.gateway.On("Validate").Return(nil)
	h.gateway.On("InitializeTransaction", mock.Anything, mock.MatchedBy(func(req paymentdomain.InitializeRequest) bool {
		return req.AuthorizationCode == "AUTH_1"
	})).Return(paymentdomain.InitializeResult{}, nil).Once()

	require.NoError(t, h.sched.RunOnce(ctx))
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM user_subscriptions WHERE id = 'sub_due' AND status = 'active' AND last_charge_reference IS NOT NULL")

	// the same day again charges nothing
	require.NoError(t, h.sched.RunOnce(ctx))
	h.gateway.AssertNumberOfCalls(t, "InitializeTransaction", 1)

	// a week on, the second subscription falls due
	h.gateway.On("InitializeTransaction", mock.Anything, mock.MatchedBy(func(req paymentdomain.InitializeRequest) bool {
		return req.AuthorizationCode == "AUTH_2"
	})).Return(paymentdomain.InitializeResult{}, nil).Once()
	h.clock.Advance(8 * 24 * time.Hour)
	require.NoError(t, h.sched.RunOnce(ctx))
	h.gateway.AssertNumberOfCalls(t, "InitializeTransaction", 2)
	dbtest.AssertCount(t, h.db, 2, "SELECT COUNT(*) FROM user_subscriptions WHERE last_charge_reference IS NOT NULL")
}

func TestRenewSubscriptionsJobSkipsWithoutGateway(t *testing.T) {
	h := newHarness(t, JobRenewSubscriptions)
	dbtest.SeedSubscription(t, h.db, "sub_due", "usr_1", "tier_pro", "monthly", "AUTH_1", t0.Add(-time.Hour))
	h.gateway.On("Validate").Return(paymentdomain.ErrGatewayNotConfigured)

	require.NoError(t, h.sched.RunOnce(context.Background()))
	dbtest.AssertCount(t, h.db, 1, "SELECT COUNT(*) FROM user_subscriptions WHERE status = 'active' AND last_charge_reference IS NULL")
}

func TestReloadCatalogPicksUpTranslations(t *testing.T) {
	h := newHarness(t, JobReloadCatalog)
	require.NoError(t, h.db.Exec("INSERT INTO translations (language_id, key, value) VALUES ('yo', 'email.thank_you.subject', 'E se fun ebun re si {{event_name}}')").Error)

	require.NoError(t, h.sched.RunOnce(context.Background()))

	got := h.catalog.Translate("yo", "email.thank_you.subject", map[string]string{"event_name": "Ada & Tunde"})
	assert.Equal(t, "E se fun ebun re si Ada & Tunde", got)
}
