package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	refunddomain "github.com/savethedate/payments/internal/refund/domain"
	transactiondomain "github.com/savethedate/payments/internal/transaction/domain"
)

func (s *Server) CreateEventPayout(c *gin.Context) {
	s.batchPayout(c, transactiondomain.Beneficiary{
		Type: transactiondomain.BeneficiaryEvent,
		ID:   c.Param("event_id"),
	})
}

func (s *Server) CreateUserPayout(c *gin.Context) {
	s.batchPayout(c, transactiondomain.Beneficiary{
		Type: transactiondomain.BeneficiaryUser,
		ID:   c.Param("user_id"),
	})
}

func (s *Server) batchPayout(c *gin.Context, beneficiary transactiondomain.Beneficiary) {
	result, err := s.payoutSvc.Batch(c.Request.Context(), beneficiary)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if result.Reference != "" {
		c.Set("reference", result.Reference)
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) RequeuePayout(c *gin.Context) {
	reference := strings.TrimSpace(c.Param("reference"))
	c.Set("reference", reference)

	moved, err := s.payoutSvc.Requeue(c.Request.Context(), reference)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reference": reference, "requeued": moved})
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) RefundTransaction(c *gin.Context) {
	id, err := parseTransactionID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// The body is optional.
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.refundSvc.Refund(c.Request.Context(), refunddomain.Request{
		TransactionID: id,
		Reason:        req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("reference", result.Reference)
	c.JSON(http.StatusOK, result)
}
