package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/savethedate/payments/internal/clock"
	"github.com/savethedate/payments/internal/config"
	giftitemdomain "github.com/savethedate/payments/internal/giftitem/domain"
	"github.com/savethedate/payments/internal/observability/logger"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	payoutdomain "github.com/savethedate/payments/internal/payout/domain"
	"github.com/savethedate/payments/internal/providers/pdf"
	"github.com/savethedate/payments/internal/providers/storage"
	"github.com/savethedate/payments/internal/reporting/domain"
	subscriptiondomain "github.com/savethedate/payments/internal/subscription/domain"
	systemlogdomain "github.com/savethedate/payments/internal/systemlog/domain"
	transactiondomain "github.com/savethedate/payments/internal/transaction/domain"
	"github.com/savethedate/payments/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	csvContentType   = "text/csv; charset=utf-8"
	pdfContentType   = "application/pdf"
	stuckPayoutLimit = 500
)

var transactionColumns = []string{"Gift Item", "Amount", "Status", "Payout Status", "Date"}

var reconciliationColumns = []string{"Category", "Reference", "Subject", "Amount", "Status", "Detail", "Occurred At"}

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Config          config.Config
	TxRepo          transactiondomain.Repository
	GiftRepo        giftitemdomain.Repository
	PayoutRepo      payoutdomain.Repository
	SubscriptionSvc subscriptiondomain.Service
	SystemLogSvc    systemlogdomain.Service
	PDF             pdf.Provider     `optional:"true"`
	Uploader        storage.Uploader `optional:"true"`
	Clock           clock.Clock      `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             config.Config
	txRepo          transactiondomain.Repository
	giftRepo        giftitemdomain.Repository
	payoutRepo      payoutdomain.Repository
	subscriptionSvc subscriptiondomain.Service
	systemLogSvc    systemlogdomain.Service
	pdf             pdf.Provider
	uploader        storage.Uploader
	clock           clock.Clock
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	uploader := p.Uploader
	if uploader == nil {
		uploader = storage.NoOpUploader{}
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("reporting.service"),
		cfg:             p.Config,
		txRepo:          p.TxRepo,
		giftRepo:        p.GiftRepo,
		payoutRepo:      p.PayoutRepo,
		subscriptionSvc: p.SubscriptionSvc,
		systemLogSvc:    p.SystemLogSvc,
		pdf:             p.PDF,
		uploader:        uploader,
		clock:           c,
	}
}

func (s *Service) PayoutSummary(ctx context.Context, eventID string) (domain.PayoutSummary, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.PayoutSummary{}, domain.ErrInvalidEventID
	}
	rows, err := s.txRepo.ListByEvent(ctx, s.db, transactiondomain.ListFilter{EventID: eventID})
	if err != nil {
		return domain.PayoutSummary{}, err
	}

	summary := domain.PayoutSummary{
		EventID:          eventID,
		Currency:         s.cfg.Paystack.Currency,
		TotalReceived:    decimal.Zero,
		PendingPayout:    decimal.Zero,
		ProcessingPayout: decimal.Zero,
		CompletedPayouts: decimal.Zero,
		Fees:             decimal.Zero,
	}
	for _, row := range rows {
		if row.Currency != "" {
			summary.Currency = row.Currency
		}
		if row.PayoutStatus == transactiondomain.PayoutCompleted {
			summary.CompletedPayouts = summary.CompletedPayouts.Add(row.NetAmount())
		}
		if row.Status != transactiondomain.StatusCompleted {
			continue
		}
		summary.CompletedCount++
		summary.TotalReceived = summary.TotalReceived.Add(row.Amount)
		summary.Fees = summary.Fees.Add(row.Fee())
		switch row.PayoutStatus {
		case transactiondomain.PayoutPending:
			summary.PendingPayout = summary.PendingPayout.Add(row.NetAmount())
		case transactiondomain.PayoutProcessing:
			summary.ProcessingPayout = summary.ProcessingPayout.Add(row.NetAmount())
		}
	}
	return summary, nil
}

func (s *Service) ListTransactions(ctx context.Context, req domain.ListTransactionsRequest) (domain.ListTransactionsResponse, error) {
	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		return domain.ListTransactionsResponse{}, domain.ErrInvalidEventID
	}

	filter := transactiondomain.ListFilter{EventID: eventID, Limit: req.Limit()}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListTransactionsResponse{}, err
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListTransactionsResponse{}, pagination.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return domain.ListTransactionsResponse{}, pagination.ErrInvalidPageToken
		}
		filter.Cursor = &transactiondomain.Cursor{ID: id, CreatedAt: createdAt}
	}

	rows, err := s.txRepo.ListByEvent(ctx, s.db, filter)
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}
	rows, pageInfo, err := pagination.Trim(rows, filter.Limit, func(tx transactiondomain.Transaction) pagination.Cursor {
		return pagination.Cursor{ID: tx.ID.String(), CreatedAt: tx.CreatedAt.UTC().Format(time.RFC3339Nano)}
	})
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}

	views, err := s.views(ctx, eventID, rows)
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}
	return domain.ListTransactionsResponse{Transactions: views, PageInfo: pageInfo}, nil
}

func (s *Service) views(ctx context.Context, eventID string, rows []transactiondomain.Transaction) ([]domain.TransactionView, error) {
	items, err := s.giftRepo.ListByEvent(ctx, s.db, eventID)
	if err != nil {
		return nil, err
	}
	names := make(map[snowflake.ID]string, len(items))
	for _, item := range items {
		names[item.ID] = item.Name
	}

	views := make([]domain.TransactionView, 0, len(rows))
	for _, row := range rows {
		views = append(views, domain.TransactionView{
			ID:               row.ID,
			GiftItemID:       row.GiftItemID,
			GiftItemName:     names[row.GiftItemID],
			ContributorEmail: row.ContributorEmail,
			Amount:           row.Amount,
			Fee:              row.Fee(),
			Currency:         row.Currency,
			Status:           row.Status,
			PayoutStatus:     row.PayoutStatus,
			Reference:        row.Reference(),
			CreatedAt:        row.CreatedAt,
			CompletedAt:      row.CompletedAt,
		})
	}
	return views, nil
}

func (s *Service) ExportTransactionsCSV(ctx context.Context, eventID string) (domain.Export, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.Export{}, domain.ErrInvalidEventID
	}
	owner, err := s.subscriptionSvc.OwnerForEvent(ctx, eventID)
	if err != nil {
		return domain.Export{}, err
	}
	rows, err := s.txRepo.ListByEvent(ctx, s.db, transactiondomain.ListFilter{EventID: eventID})
	if err != nil {
		return domain.Export{}, err
	}
	views, err := s.views(ctx, eventID, rows)
	if err != nil {
		return domain.Export{}, err
	}

	records := make([][]string, 0, len(views)+1)
	records = append(records, transactionColumns)
	for _, view := range views {
		records = append(records, []string{
			view.GiftItemName,
			view.Amount.StringFixed(2),
			string(view.Status),
			string(view.PayoutStatus),
			view.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	body, err := writeCSV(records)
	if err != nil {
		return domain.Export{}, err
	}

	name := slug.Make(owner.EventName)
	if name == "" {
		name = eventID
	}
	return domain.Export{
		Filename:    name + "-transactions.csv",
		ContentType: csvContentType,
		Body:        body,
	}, nil
}

func (s *Service) ReconciliationReport(ctx context.Context) (domain.ReconciliationReport, error) {
	now := s.clock.Now().UTC()
	report := domain.ReconciliationReport{GeneratedAt: now}

	var err error
	if report.RefundsAfterPayout, err = s.txRepo.ListRefundedAfterPayout(ctx, s.db); err != nil {
		return domain.ReconciliationReport{}, err
	}
	if report.Oversubscribed, err = s.systemLogSvc.List(ctx, systemlogdomain.ListFilter{
		Level:   systemlogdomain.LevelError,
		Message: systemlogdomain.MessageGiftItemOversubscribed,
	}); err != nil {
		return domain.ReconciliationReport{}, err
	}
	if report.ChargesOnFailed, err = s.systemLogSvc.List(ctx, systemlogdomain.ListFilter{
		Level:   systemlogdomain.LevelError,
		Message: systemlogdomain.MessageChargeOnFailed,
	}); err != nil {
		return domain.ReconciliationReport{}, err
	}
	if report.OverpaidPayouts, err = s.systemLogSvc.List(ctx, systemlogdomain.ListFilter{
		Level:   systemlogdomain.LevelWarn,
		Message: systemlogdomain.MessagePayoutOverpaid,
	}); err != nil {
		return domain.ReconciliationReport{}, err
	}
	stuckBefore := now.Add(-s.cfg.Scheduler.ProcessingPayoutAge)
	if report.StuckPayouts, err = s.payoutRepo.ListProcessingBefore(ctx, s.db, stuckBefore, stuckPayoutLimit); err != nil {
		return domain.ReconciliationReport{}, err
	}
	if report.FailedPayouts, err = s.payoutRepo.ListFailedAwaitingRequeue(ctx, s.db); err != nil {
		return domain.ReconciliationReport{}, err
	}
	return report, nil
}

func (s *Service) ReconciliationCSV(ctx context.Context) (domain.Export, error) {
	report, err := s.ReconciliationReport(ctx)
	if err != nil {
		return domain.Export{}, err
	}
	body, err := writeCSV(reconciliationRecords(report))
	if err != nil {
		return domain.Export{}, err
	}
	return domain.Export{
		Filename:    "reconciliation-" + report.GeneratedAt.Format("2006-01-02") + ".csv",
		ContentType: csvContentType,
		Body:        body,
	}, nil
}

func reconciliationRecords(report domain.ReconciliationReport) [][]string {
	records := [][]string{reconciliationColumns}
	for _, tx := range report.RefundsAfterPayout {
		occurred := tx.UpdatedAt
		if tx.RefundedAt != nil {
			occurred = *tx.RefundedAt
		}
		records = append(records, []string{
			"refund_after_payout",
			tx.Reference(),
			"transaction:" + tx.ID.String(),
			tx.NetAmount().StringFixed(2),
			string(tx.PayoutStatus),
			"payout " + deref(tx.PayoutReference),
			occurred.UTC().Format(time.RFC3339),
		})
	}
	for _, entry := range report.Oversubscribed {
		records = append(records, logRecord("gift_item_oversubscribed", entry, "gift_item:"+metadataString(entry.Metadata, "gift_item_id")))
	}
	for _, entry := range report.ChargesOnFailed {
		records = append(records, logRecord("charge_on_failed_transaction", entry, "transaction:"+metadataString(entry.Metadata, "transaction_id")))
	}
	for _, entry := range report.OverpaidPayouts {
		records = append(records, logRecord("payout_overpaid", entry, "payout "+metadataString(entry.Metadata, "payout_reference")))
	}
	for _, payout := range report.StuckPayouts {
		records = append(records, payoutRecord("payout_stuck_processing", payout, deref(payout.TransferCode), payout.CreatedAt))
	}
	for _, payout := range report.FailedPayouts {
		records = append(records, payoutRecord("payout_failed_awaiting_requeue", payout, deref(payout.FailureReason), payout.UpdatedAt))
	}
	return records
}

func logRecord(category string, entry systemlogdomain.SystemLog, subject string) []string {
	return []string{
		category,
		metadataString(entry.Metadata, "reference"),
		subject,
		metadataString(entry.Metadata, "amount"),
		string(entry.Level),
		entry.Message,
		entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func payoutRecord(category string, payout payoutdomain.Payout, detail string, at time.Time) []string {
	return []string{
		category,
		payout.Reference,
		payout.Beneficiary().String(),
		payout.Amount.StringFixed(2),
		string(payout.Status),
		detail,
		at.UTC().Format(time.RFC3339),
	}
}

func (s *Service) PublishReconciliationReport(ctx context.Context) (domain.Publication, error) {
	export, err := s.ReconciliationCSV(ctx)
	if err != nil {
		return domain.Publication{}, err
	}
	rows := bytes.Count(export.Body, []byte("\n")) - 1
	pub := domain.Publication{Filename: export.Filename, Rows: rows}
	log := logger.WithContext(ctx, s.log).With(zap.String("filename", export.Filename), zap.Int("rows", rows))

	if !s.uploader.Enabled() {
		log.Info("reconciliation report built, upload disabled")
		return pub, nil
	}
	url, err := s.uploader.Upload(ctx, export.Filename, bytes.NewReader(export.Body), export.ContentType)
	if err != nil {
		return domain.Publication{}, err
	}
	pub.URL = url
	log.Info("reconciliation report published", zap.String("url", url))
	return pub, nil
}

func (s *Service) Receipt(ctx context.Context, transactionID snowflake.ID) (domain.Export, error) {
	if s.pdf == nil {
		return domain.Export{}, pdf.ErrInvalidReceipt
	}
	tx, err := s.txRepo.FindByID(ctx, s.db, transactionID)
	if err != nil {
		return domain.Export{}, err
	}
	if tx == nil {
		return domain.Export{}, paymentdomain.ErrTransactionNotFound
	}
	if tx.Status != transactiondomain.StatusCompleted || tx.CompletedAt == nil {
		return domain.Export{}, domain.ErrReceiptNotIssued
	}

	data := pdf.ReceiptData{
		Reference:        tx.Reference(),
		ContributorEmail: tx.ContributorEmail,
		Amount:           tx.Amount.StringFixed(2),
		Currency:         tx.Currency,
		DatePaid:         tx.CompletedAt.UTC().Format("02 Jan 2006"),
	}
	if owner, err := s.subscriptionSvc.OwnerForEvent(ctx, tx.EventID); err == nil {
		data.EventName = owner.EventName
	}
	if item, err := s.giftRepo.FindByID(ctx, s.db, tx.GiftItemID); err == nil && item != nil {
		data.GiftItemName = item.Name
	}

	reader, err := s.pdf.GenerateReceipt(ctx, data)
	if err != nil {
		return domain.Export{}, err
	}
	if reader == nil {
		return domain.Export{}, pdf.ErrInvalidReceipt
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return domain.Export{}, err
	}
	return domain.Export{
		Filename:    "receipt-" + tx.Reference() + ".pdf",
		ContentType: pdfContentType,
		Body:        body,
	}, nil
}

func writeCSV(records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func metadataString(metadata map[string]any, key string) string {
	value, ok := metadata[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
