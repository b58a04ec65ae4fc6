package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	transactiondomain "github.com/savethedate/payments/internal/transaction/domain"
	"github.com/shopspring/decimal"
)

const (
	headerPaystackSignature = "x-paystack-signature"
	maxWebhookBodyBytes     = 1 << 20
)

// HandlePaystackWebhook answers the gateway with 200 {"success":true} or
// 400 {"error":...}. A 400 makes the gateway redeliver.
func (s *Server) HandlePaystackWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		s.rejectWebhook(c, ErrInvalidRequest)
		return
	}
	tagWebhookRequest(c, payload)

	if err := s.webhookSvc.Ingest(c.Request.Context(), payload, c.GetHeader(headerPaystackSignature)); err != nil {
		s.rejectWebhook(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) rejectWebhook(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// tagWebhookRequest exposes the event type and reference to the request log.
// The payload is not trusted yet.
func tagWebhookRequest(c *gin.Context, payload []byte) {
	var envelope struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return
	}
	if event := strings.TrimSpace(envelope.Event); event != "" {
		c.Set("event_type", event)
	}
	if reference := strings.TrimSpace(envelope.Data.Reference); reference != "" {
		c.Set("reference", reference)
	}
}

type initializePaymentRequest struct {
	Email       string      `json:"email"`
	Amount      json.Number `json:"amount"`
	GiftItemID  string      `json:"gift_item_id"`
	EventID     string      `json:"event_id"`
	UserID      *string     `json:"user_id,omitempty"`
	CallbackURL string      `json:"callback_url,omitempty"`
}

func (s *Server) InitializePayment(c *gin.Context) {
	var req initializePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.Initiate(c.Request.Context(), paymentdomain.InitiateRequest{
		Email:       req.Email,
		Amount:      req.Amount.String(),
		GiftItemID:  req.GiftItemID,
		EventID:     req.EventID,
		UserID:      req.UserID,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("reference", resp.Reference)
	c.JSON(http.StatusOK, resp)
}

// paymentStatusResponse is what the checkout callback page may see.
type paymentStatusResponse struct {
	Reference   string                   `json:"reference"`
	Status      transactiondomain.Status `json:"status"`
	Amount      decimal.Decimal          `json:"amount"`
	Currency    string                   `json:"currency"`
	EventID     string                   `json:"event_id"`
	GiftItemID  string                   `json:"gift_item_id"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
}

func (s *Server) VerifyPayment(c *gin.Context) {
	reference := strings.TrimSpace(c.Param("reference"))
	c.Set("reference", reference)

	tx, err := s.paymentSvc.Verify(c.Request.Context(), reference)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, paymentStatusResponse{
		Reference:   tx.Reference(),
		Status:      tx.Status,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		EventID:     tx.EventID,
		GiftItemID:  tx.GiftItemID.String(),
		CompletedAt: tx.CompletedAt,
	})
}
