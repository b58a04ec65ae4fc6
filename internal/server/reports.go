package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	refunddomain "github.com/savethedate/payments/internal/refund/domain"
	reportingdomain "github.com/savethedate/payments/internal/reporting/domain"
)

func (s *Server) ListTransactions(c *gin.Context) {
	var req reportingdomain.ListTransactionsRequest
	if err := c.ShouldBindQuery(&req.Pagination); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.EventID = c.Param("event_id")

	resp, err := s.reportingSvc.ListTransactions(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if resp.Transactions == nil {
		resp.Transactions = []reportingdomain.TransactionView{}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ExportTransactions(c *gin.Context) {
	export, err := s.reportingSvc.ExportTransactionsCSV(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	writeExport(c, export)
}

func (s *Server) GetPayoutSummary(c *gin.Context) {
	summary, err := s.reportingSvc.PayoutSummary(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) GetReceipt(c *gin.Context) {
	id, err := parseTransactionID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	export, err := s.reportingSvc.Receipt(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	writeExport(c, export)
}

// GetReconciliationReport renders JSON by default and CSV with ?format=csv.
func (s *Server) GetReconciliationReport(c *gin.Context) {
	ctx := c.Request.Context()
	if strings.EqualFold(strings.TrimSpace(c.Query("format")), "csv") {
		export, err := s.reportingSvc.ReconciliationCSV(ctx)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		writeExport(c, export)
		return
	}

	report, err := s.reportingSvc.ReconciliationReport(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func writeExport(c *gin.Context, export reportingdomain.Export) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename))
	c.Data(http.StatusOK, export.ContentType, export.Body)
}

func parseTransactionID(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		return 0, refunddomain.ErrInvalidTransaction
	}
	return id, nil
}
