package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewFeeScheduleHolder),
)

// Config holds application configuration.
type Config struct {
	AppName       string `env:"APP_SERVICE" envDefault:"savethedate-payments"`
	AppVersion    string `env:"APP_VERSION" envDefault:"0.1.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"development"`
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicSiteURL string `env:"PUBLIC_SITE_URL" envDefault:"http://localhost:5173"`

	// ServiceAPIToken gates the dashboard API. Empty disables it.
	ServiceAPIToken string `env:"SERVICE_API_TOKEN"`

	OTLPEndpoint string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`

	DB        DBConfig        `envPrefix:"DATABASE_"`
	Paystack  PaystackConfig  `envPrefix:"PAYSTACK_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Email     EmailConfig     `envPrefix:"SMTP_"`
	Reports   ReportsConfig   `envPrefix:"REPORTS_"`
	Scheduler SchedulerConfig `envPrefix:"SCHEDULER_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
}

type DBConfig struct {
	Type            string `env:"TYPE" envDefault:"postgres"`
	Host            string `env:"HOST" envDefault:"localhost"`
	Port            string `env:"PORT" envDefault:"5432"`
	Name            string `env:"NAME" envDefault:"postgres"`
	User            string `env:"USER" envDefault:"postgres"`
	Password        string `env:"PASSWORD"`
	SSLMode         string `env:"SSLMODE" envDefault:"disable"`
	MaxIdleConn     int    `env:"MAX_IDLE_CONN" envDefault:"5"`
	MaxOpenConn     int    `env:"MAX_OPEN_CONN" envDefault:"20"`
	ConnMaxLifetime int    `env:"CONN_MAX_LIFETIME" envDefault:"300"`
	ConnMaxIdleTime int    `env:"CONN_MAX_IDLE_TIME" envDefault:"60"`
	AutoMigrate     bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

// PaystackConfig holds gateway credentials. The secret key is checked on
// first use, not at load.
type PaystackConfig struct {
	SecretKey     string        `env:"SECRET_KEY"`
	PublicKey     string        `env:"PUBLIC_KEY"`
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	BaseURL       string        `env:"BASE_URL" envDefault:"https://api.paystack.co"`
	CallbackURL   string        `env:"CALLBACK_URL"`
	Currency      string        `env:"CURRENCY" envDefault:"NGN"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"12s"`
}

// SigningSecret returns the secret used to verify webhook signatures.
func (c PaystackConfig) SigningSecret() string {
	if secret := strings.TrimSpace(c.WebhookSecret); secret != "" {
		return secret
	}
	return strings.TrimSpace(c.SecretKey)
}

type RedisConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type EmailConfig struct {
	Host            string   `env:"HOST"`
	Port            int      `env:"PORT" envDefault:"587"`
	Username        string   `env:"USERNAME"`
	Password        string   `env:"PASSWORD"`
	From            string   `env:"FROM" envDefault:"SaveTheDate <no-reply@savethedate.app>"`
	AlertRecipients []string `env:"ALERT_RECIPIENTS" envSeparator:","`
}

// Enabled reports whether an SMTP relay is configured.
func (c EmailConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != ""
}

type ReportsConfig struct {
	S3Bucket  string `env:"S3_BUCKET"`
	S3Prefix  string `env:"S3_PREFIX" envDefault:"reconciliation"`
	AWSRegion string `env:"AWS_REGION" envDefault:"us-east-1"`
}

type SchedulerConfig struct {
	Enabled             bool          `env:"ENABLED" envDefault:"true"`
	RunInterval         time.Duration `env:"RUN_INTERVAL" envDefault:"1m"`
	BatchSize           int           `env:"BATCH_SIZE" envDefault:"50"`
	PendingChargeAge    time.Duration `env:"PENDING_CHARGE_AGE" envDefault:"15m"`
	AbandonAfter        time.Duration `env:"ABANDON_AFTER" envDefault:"24h"`
	ProcessingPayoutAge time.Duration `env:"PROCESSING_PAYOUT_AGE" envDefault:"30m"`
	ReportInterval      time.Duration `env:"REPORT_INTERVAL" envDefault:"24h"`
	JobTimeout          time.Duration `env:"JOB_TIMEOUT" envDefault:"2m"`

	// Jobs limits the loop to the named jobs. Empty runs all of them.
	Jobs []string `env:"JOBS" envSeparator:","`
}

type RateLimitConfig struct {
	InitializeRate  float64 `env:"INITIALIZE_RATE" envDefault:"0.5"`
	InitializeBurst int     `env:"INITIALIZE_BURST" envDefault:"5"`
}

// Load loads configuration from environment variables and .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.DB.Type = strings.ToLower(strings.TrimSpace(cfg.DB.Type))
	cfg.Paystack.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Paystack.BaseURL), "/")
	cfg.Paystack.Currency = strings.ToUpper(strings.TrimSpace(cfg.Paystack.Currency))
	cfg.PublicSiteURL = strings.TrimRight(strings.TrimSpace(cfg.PublicSiteURL), "/")

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// CallbackURL returns the checkout return URL, defaulting to the public site.
func (c Config) CallbackURL() string {
	if url := strings.TrimSpace(c.Paystack.CallbackURL); url != "" {
		return url
	}
	if c.PublicSiteURL == "" {
		return ""
	}
	return c.PublicSiteURL + "/payment/callback"
}
