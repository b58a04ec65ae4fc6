package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/savethedate/payments/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-42")
	ctx = obscontext.WithReference(ctx, "std_01HZX")
	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-42" {
		t.Fatalf("expected request_id req-42, got %v", fields["request_id"])
	}
	if fields["reference"] != "std_01HZX" {
		t.Fatalf("expected reference std_01HZX, got %v", fields["reference"])
	}
	if _, ok := fields["trace_id"]; ok {
		t.Fatalf("expected no trace_id without an active span")
	}
}

func TestGinMiddlewareLogsRejectedWebhookAtWarn(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.POST("/webhooks/paystack", func(c *gin.Context) {
		_ = c.Error(errors.New("invalid signature"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack", nil)
	req.Header.Set("X-Request-Id", "req-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got != "req-7" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
	entries := logs.FilterMessage("http_request").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 request log, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %s", entries[0].Level)
	}
	if entries[0].ContextMap()["request_id"] != "req-7" {
		t.Fatalf("expected request_id field on request log")
	}
}

func TestGinMiddlewareGeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id header")
	}
}

func TestGormLoggerSlowQuery(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(GormLoggerConfig{Level: gormlogger.Warn, SlowThreshold: time.Millisecond})
	l.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "UPDATE transactions SET status = 'completed' WHERE id = ?", 1
	}, nil)

	entries := logs.FilterMessage("db.query").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 slow query log, got %d", len(entries))
	}
	if entries[0].ContextMap()["operation"] != "UPDATE" {
		t.Fatalf("expected UPDATE operation, got %v", entries[0].ContextMap()["operation"])
	}
	if entries[0].ContextMap()["table"] != "transactions" {
		t.Fatalf("expected transactions table, got %v", entries[0].ContextMap()["table"])
	}
}

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT 1":                    "SELECT",
		"WITH x AS (SELECT 1) DELETE": "SELECT",
		"  insert into gift_items":    "INSERT",
		"":                            "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}

func TestTableFromSQL(t *testing.T) {
	cases := map[string]string{
		`SELECT * FROM "gift_items" WHERE id = ?`:           "gift_items",
		"INSERT INTO webhook_events (reference) VALUES (?)": "webhook_events",
		"update payouts set status = ?":                     "payouts",
		"SELECT count(*) FROM (SELECT 1) AS t":              "",
		"SELECT 1":                                          "",
	}
	for sql, want := range cases {
		if got := tableFromSQL(sql); got != want {
			t.Fatalf("tableFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}
