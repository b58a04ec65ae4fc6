package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/savethedate/payments/internal/config"
	"github.com/savethedate/payments/internal/observability/metrics"
	"github.com/savethedate/payments/internal/observability/tracing"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	"github.com/savethedate/payments/pkg/errkind"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

const maxResponseBytes = 1 << 20

type Params struct {
	fx.In

	Config  config.Config
	Metrics *metrics.Metrics `optional:"true"`
}

func Provide(p Params) paymentdomain.Gateway {
	return NewClient(p.Config.Paystack, p.Metrics)
}

// Client talks to the Paystack REST API.
type Client struct {
	secretKey string
	baseURL   string
	currency  string
	client    *http.Client
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

func NewClient(cfg config.PaystackConfig, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.paystack.co"
	}
	return &Client{
		secretKey: strings.TrimSpace(cfg.SecretKey),
		baseURL:   baseURL,
		currency:  strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		client:    &http.Client{Timeout: timeout},
		metrics:   m,
		tracer:    otel.Tracer("savethedate/paystack"),
	}
}

func (c *Client) Validate() error {
	if c.secretKey == "" {
		return paymentdomain.ErrGatewayNotConfigured
	}
	return nil
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeBody struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	AuthorizationCode string `json:"authorization_code,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

func (c *Client) InitializeTransaction(ctx context.Context, req paymentdomain.InitializeRequest) (paymentdomain.InitializeResult, error) {
	body := initializeBody{
		Email:       req.Email,
		Amount:      req.AmountMinor,
		Currency:    c.currencyOr(req.Currency),
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,

		AuthorizationCode: req.AuthorizationCode,
	}
	var data initializeData
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", "transaction.initialize", body, &data, false); err != nil {
		return paymentdomain.InitializeResult{}, err
	}
	if strings.TrimSpace(data.AuthorizationURL) == "" && req.AuthorizationCode == "" {
		return paymentdomain.InitializeResult{}, errkind.Transient("payment gateway returned no authorization url", nil)
	}
	return paymentdomain.InitializeResult{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

type chargeData struct {
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	GatewayResponse string `json:"gateway_response"`
}

func (c *Client) VerifyTransaction(ctx context.Context, reference string) (paymentdomain.ChargeVerification, error) {
	var data chargeData
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, http.MethodGet, path, "transaction.verify", nil, &data, true); err != nil {
		return paymentdomain.ChargeVerification{}, err
	}
	return paymentdomain.ChargeVerification{
		Status:      paymentdomain.ChargeStatus(strings.ToLower(data.Status)),
		Reference:   data.Reference,
		AmountMinor: data.Amount,
		Currency:    data.Currency,
		Message:     data.GatewayResponse,
	}, nil
}

type transferBody struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Recipient string `json:"recipient"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

type transferData struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
}

func (c *Client) InitiateTransfer(ctx context.Context, req paymentdomain.TransferRequest) (paymentdomain.TransferResult, error) {
	body := transferBody{
		Source:    "balance",
		Amount:    req.AmountMinor,
		Currency:  c.currencyOr(req.Currency),
		Recipient: req.Recipient,
		Reference: req.Reference,
		Reason:    req.Reason,
	}
	var data transferData
	if err := c.do(ctx, http.MethodPost, "/transfer", "transfer", body, &data, false); err != nil {
		return paymentdomain.TransferResult{}, err
	}
	return paymentdomain.TransferResult{
		Reference:    data.Reference,
		TransferCode: data.TransferCode,
		Status:       paymentdomain.TransferStatus(strings.ToLower(data.Status)),
	}, nil
}

func (c *Client) VerifyTransfer(ctx context.Context, reference string) (paymentdomain.TransferVerification, error) {
	var data transferData
	path := "/transfer/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, http.MethodGet, path, "transfer.verify", nil, &data, true); err != nil {
		return paymentdomain.TransferVerification{}, err
	}
	return paymentdomain.TransferVerification{
		Reference:    data.Reference,
		TransferCode: data.TransferCode,
		Status:       paymentdomain.TransferStatus(strings.ToLower(data.Status)),
		Reason:       data.Reason,
	}, nil
}

type refundBody struct {
	Transaction  string `json:"transaction"`
	MerchantNote string `json:"merchant_note,omitempty"`
}

type refundData struct {
	ID          int64  `json:"id"`
	Status      string `json:"status"`
	Transaction struct {
		Reference string `json:"reference"`
	} `json:"transaction"`
}

func (c *Client) CreateRefund(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.RefundResult, error) {
	body := refundBody{Transaction: req.TransactionReference, MerchantNote: req.MerchantNote}
	var data refundData
	if err := c.do(ctx, http.MethodPost, "/refund", "refund", body, &data, false); err != nil {
		return paymentdomain.RefundResult{}, err
	}
	reference := data.Transaction.Reference
	if data.ID != 0 {
		reference = "rf_" + strconv.FormatInt(data.ID, 10)
	}
	return paymentdomain.RefundResult{Reference: reference, Status: data.Status}, nil
}

func (c *Client) currencyOr(currency string) string {
	if currency = strings.TrimSpace(currency); currency != "" {
		return strings.ToUpper(currency)
	}
	return c.currency
}

// do performs one call and classifies the outcome. lookup marks verify
// calls, where an unknown reference is NotFound rather than a rejection.
func (c *Client) do(ctx context.Context, method, path, endpoint string, body any, out any, lookup bool) (err error) {
	if err := c.Validate(); err != nil {
		return err
	}

	ctx, span := c.tracer.Start(ctx, "paystack "+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.SafeAttributes(
			attribute.String("paystack.endpoint", endpoint),
			attribute.String("http.method", method),
		)...),
	)
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, string(errkind.Of(err)))
		}
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordGatewayCall(ctx, endpoint, 0)
		if isTimeout(err) {
			return errkind.Transient("payment gateway timed out", err)
		}
		return errkind.Transient("payment gateway unreachable", err)
	}
	defer resp.Body.Close()
	c.metrics.RecordGatewayCall(ctx, endpoint, resp.StatusCode)
	span.SetAttributes(tracing.SafeAttributes(attribute.Int("http.status_code", resp.StatusCode))...)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errkind.Transient("payment gateway response interrupted", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return errkind.Transient(fmt.Sprintf("payment gateway returned %d", resp.StatusCode), nil)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return errkind.GatewayRejected(http.StatusText(resp.StatusCode))
		}
		return errkind.Transient("payment gateway returned an unreadable response", err)
	}

	if lookup && isNotFound(resp.StatusCode, env.Message) {
		return errkind.NotFound(messageOr(env.Message, "reference not found"))
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		return errkind.GatewayRejected(env.Message)
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errkind.Transient("payment gateway returned an unreadable response", err)
		}
	}
	return nil
}

func isNotFound(status int, message string) bool {
	if status == http.StatusNotFound {
		return true
	}
	return status == http.StatusBadRequest && strings.Contains(strings.ToLower(message), "not found")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func messageOr(message, fallback string) string {
	if strings.TrimSpace(message) == "" {
		return fallback
	}
	return message
}
