package server

import (
	"crypto/subtle"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/savethedate/payments/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type, x-paystack-signature"
	corsAllowMethods = "GET, POST, OPTIONS"

	rateLimitReasonClientRate = "client-rate"
)

// CORS lets the checkout page and the gateway reach the public routes from
// any origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
		c.Header("Access-Control-Allow-Methods", corsAllowMethods)
		c.Next()
	}
}

func preflight(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// ServiceTokenRequired gates the dashboard API behind the shared service
// token. An unset token rejects every request.
func (s *Server) ServiceTokenRequired() gin.HandlerFunc {
	expected := strings.TrimSpace(s.cfg.ServiceAPIToken)
	return func(c *gin.Context) {
		if expected == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(strings.TrimSpace(c.GetHeader("Authorization")))
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// InitializeRateLimit throttles checkout initialisations per client address.
func (s *Server) InitializeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.initLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		result, err := s.initLimiter.Allow(ctx, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("initialize rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if result.Allowed {
			c.Next()
			return
		}

		endpoint := c.FullPath()
		logger.FromContext(ctx).Warn("initialize rate limit exceeded",
			zap.String("reason", rateLimitReasonClientRate),
			zap.String("endpoint", endpoint),
		)
		s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonClientRate)

		retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		AbortWithError(c, ErrRateLimited)
	}
}
