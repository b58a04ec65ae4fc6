package observability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/savethedate/payments/internal/config"
)

// Config holds observability settings. Standard OTEL_* variables win over
// the application config so collectors can be pointed elsewhere per host.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	// SlowQueryThreshold flags ledger queries slower than this at warn level.
	SlowQueryThreshold time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

type environment struct {
	Environment    string        `env:"DEPLOYMENT_ENV"`
	Version        string        `env:"SERVICE_VERSION"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"json"`
	SlowQuery      time.Duration `env:"DB_SLOW_QUERY_THRESHOLD" envDefault:"200ms"`
	OtelEnabled    string        `env:"OTEL_ENABLED"`
	Endpoint       string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Protocol       string        `env:"OTEL_EXPORTER_OTLP_PROTOCOL" envDefault:"grpc"`
	TracesProtocol string        `env:"OTEL_EXPORTER_OTLP_TRACES_PROTOCOL"`
	SamplingRatio  float64       `env:"OTEL_SAMPLING_RATIO" envDefault:"0.1"`
}

func LoadConfig(cfg config.Config) (Config, error) {
	var e environment
	if err := env.Parse(&e); err != nil {
		return Config{}, fmt.Errorf("observability config: %w", err)
	}

	out := Config{
		ServiceName:          firstNonEmpty(cfg.AppName, "savethedate-payments"),
		Environment:          strings.ToLower(firstNonEmpty(e.Environment, cfg.Environment)),
		Version:              firstNonEmpty(e.Version, cfg.AppVersion),
		LogLevel:             strings.ToLower(firstNonEmpty(e.LogLevel, "info")),
		LogFormat:            strings.ToLower(firstNonEmpty(e.LogFormat, "json")),
		SlowQueryThreshold:   max(e.SlowQuery, 0),
		OtelExporterEndpoint: firstNonEmpty(e.Endpoint, cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(firstNonEmpty(e.TracesProtocol, e.Protocol)),
		OtelSamplingRatio:    e.SamplingRatio,
	}
	out.OtelEnabled = !isDevEnv(out.Environment)
	if enabled, err := strconv.ParseBool(strings.TrimSpace(e.OtelEnabled)); err == nil {
		out.OtelEnabled = enabled
	}
	return out, nil
}

func (c Config) Debug() bool {
	return c.LogLevel == "debug" || isDevEnv(c.Environment)
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
