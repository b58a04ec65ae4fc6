package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	giftitemdomain "github.com/savethedate/payments/internal/giftitem/domain"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	payoutdomain "github.com/savethedate/payments/internal/payout/domain"
	refunddomain "github.com/savethedate/payments/internal/refund/domain"
	reportingdomain "github.com/savethedate/payments/internal/reporting/domain"
	"github.com/savethedate/payments/pkg/db/pagination"
	"github.com/savethedate/payments/pkg/errkind"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	}

	kind := errkind.Of(err)
	if kind == "" {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
	// Kinded messages are written for people and carry no secrets.
	return kindStatus(kind), errorPayload{
		Type:    string(kind),
		Message: err.Error(),
	}
}

func kindStatus(kind errkind.Kind) int {
	switch kind {
	case errkind.KindGatewayRejected:
		return http.StatusUnprocessableEntity
	case errkind.KindNotFound:
		return http.StatusNotFound
	case errkind.KindConflict:
		return http.StatusConflict
	case errkind.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// classifyErrorForLog returns the response type and a stable code for the
// request log.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationSentinels = []error{
	ErrInvalidRequest,
	giftitemdomain.ErrInvalidEventID,
	giftitemdomain.ErrInvalidName,
	giftitemdomain.ErrInvalidPrice,
	giftitemdomain.ErrInvalidQuantity,
	paymentdomain.ErrInvalidEmail,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidGiftItem,
	paymentdomain.ErrInvalidEventID,
	paymentdomain.ErrInvalidReference,
	paymentdomain.ErrInvalidSignature,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrMissingReference,
	payoutdomain.ErrInvalidBeneficiary,
	payoutdomain.ErrInvalidReference,
	refunddomain.ErrInvalidTransaction,
	reportingdomain.ErrInvalidEventID,
	pagination.ErrInvalidPageToken,
}

func isValidationError(err error) bool {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func validationErrorCode(err error) string {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
