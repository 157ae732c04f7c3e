// Package config defines the global configuration structure for the fitpass
// billing service. Configuration is loaded once at process startup and is
// immutable thereafter. It follows 12-Factor App principles: values come from
// the OS environment, optionally seeded from a .env file in local development.
//
// Any missing required value or invalid format fails the process immediately
// on startup (fail fast).
package config

import (
	"time"

	"fitpass/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the billing service.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"fitpass-billing"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Gateway  GatewayConfig
	Auth     AuthConfig
	AWS      AWSConfig
	Security SecurityConfig
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// GatewayConfig holds the payment gateway credentials and endpoint.
//
// LinkKey and LinkValue are the merchant credentials issued by the gateway;
// every signed call carries both. WebhookSecret enables HMAC verification of
// inbound notifications when the gateway account has signing configured.
// When WebhookSecret is empty, the webhook endpoint relies on URL secrecy
// only (the trust boundary is documented in DESIGN.md).
type GatewayConfig struct {
	BaseURL       string        `envconfig:"GATEWAY_BASE_URL" default:"https://api.payapp.kr/oapi"`
	UserID        string        `envconfig:"GATEWAY_USER_ID"`
	LinkKey       SecretString  `envconfig:"GATEWAY_LINK_KEY"`
	LinkValue     SecretString  `envconfig:"GATEWAY_LINK_VALUE"`
	WebhookSecret SecretString  `envconfig:"GATEWAY_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"20s"`
}

// Configured reports whether the merchant credentials are present. Lifecycle
// operations that must reach the gateway fail before any database write when
// this is false.
func (g GatewayConfig) Configured() bool {
	return g.UserID != "" && g.LinkKey.IsSet() && g.LinkValue.IsSet()
}

// AuthConfig holds the bearer-token signing secret.
type AuthConfig struct {
	JWTSecret SecretString  `envconfig:"JWT_SECRET" validate:"required"`
	TokenTTL  time.Duration `envconfig:"JWT_TOKEN_TTL" default:"720h"`
}

// AWSConfig holds AWS resource identifiers for the billing event queue and
// metrics publishing. BillingEventQueue may be empty in local development,
// in which case event publishing is disabled.
type AWSConfig struct {
	Region            string `envconfig:"AWS_REGION" default:"ap-northeast-2"`
	BillingEventQueue string `envconfig:"SQS_BILLING_EVENTS"`
	MetricsNamespace  string `envconfig:"METRICS_NAMESPACE" default:"Fitpass/Billing"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SecurityConfig holds cross-origin and logging redaction settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}
