package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Logs     LogConfig
	Server   ServerConfig
	DB       PostgresConfig
	Auth     AuthConfig
	Stripe   StripeConfig
	Workflow WorkflowConfig
	CORS     CORSConfig
}

type LogConfig struct {
	Style string
	Level string
}

type ServerConfig struct {
	Port      string
	PublicURL string // overrides the request-derived origin for redirect URLs
}

type PostgresConfig struct {
	DSN      string // DATABASE_URL wins over the individual fields
	Username string
	Password string
	URL      string
	Port     string
	Name     string
	SSLMode  string
}

type AuthConfig struct {
	SupabaseURL    string
	ServiceRoleKey string
	JWKSURL        string // set to verify tokens locally instead of calling the provider
	Issuer         string
	Audience       string
	Timeout        time.Duration
}

type StripeConfig struct {
	SecretKey               string
	PriceID                 string
	WebhookSecret           string
	TrialPeriodDays         int64
	PaymentMethodCollection string // e.g. "if_required"; empty leaves Stripe's default
	Timeout                 time.Duration
}

type WorkflowConfig struct {
	URL             string
	AuthHeaderName  string
	AuthHeaderValue string
	Timeout         time.Duration
}

type CORSConfig struct {
	AllowOrigins []string
}

func LoadConfig() (*Config, error) {
	authTimeout, err := envDuration("AUTH_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	stripeTimeout, err := envDuration("STRIPE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	workflowTimeout, err := envDuration("N8N_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}

	trialDays := int64(0)
	if v := strings.TrimSpace(os.Getenv("STRIPE_TRIAL_PERIOD_DAYS")); v != "" {
		trialDays, err = strconv.ParseInt(v, 10, 64)
		if err != nil || trialDays < 0 {
			return nil, fmt.Errorf("invalid STRIPE_TRIAL_PERIOD_DAYS %q", v)
		}
	}

	cfg := &Config{
		Logs: LogConfig{
			Style: os.Getenv("LOG_STYLE"),
			Level: os.Getenv("LOG_LEVEL"),
		},
		Server: ServerConfig{
			Port:      envOr("PORT", "8080"),
			PublicURL: strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_URL")), "/"),
		},
		DB: PostgresConfig{
			DSN:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
			Username: os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PWD"),
			URL:      os.Getenv("POSTGRES_URL"),
			Port:     envOr("POSTGRES_PORT", "5432"),
			Name:     envOr("POSTGRES_DB", "postgres"),
			SSLMode:  envOr("POSTGRES_SSLMODE", "require"),
		},
		Auth: AuthConfig{
			SupabaseURL:    strings.TrimRight(firstEnv("SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL"), "/"),
			ServiceRoleKey: strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_ROLE_KEY")),
			JWKSURL:        strings.TrimSpace(os.Getenv("AUTH_JWKS_URL")),
			Issuer:         strings.TrimSpace(os.Getenv("AUTH_ISSUER")),
			Audience:       envOr("AUTH_AUDIENCE", "authenticated"),
			Timeout:        authTimeout,
		},
		Stripe: StripeConfig{
			SecretKey:               strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
			PriceID:                 strings.TrimSpace(os.Getenv("STRIPE_PRICE_ID")),
			WebhookSecret:           strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
			TrialPeriodDays:         trialDays,
			PaymentMethodCollection: strings.TrimSpace(os.Getenv("STRIPE_PAYMENT_METHOD_COLLECTION")),
			Timeout:                 stripeTimeout,
		},
		Workflow: WorkflowConfig{
			URL:             strings.TrimSpace(os.Getenv("N8N_WEBHOOK_URL")),
			AuthHeaderName:  strings.TrimSpace(os.Getenv("N8N_AUTH_HEADER_NAME")),
			AuthHeaderValue: os.Getenv("N8N_AUTH_HEADER_VALUE"),
			Timeout:         workflowTimeout,
		},
		CORS: CORSConfig{
			AllowOrigins: splitList(envOr("CORS_ALLOW_ORIGINS", "*")),
		},
	}

	return cfg, nil
}

// DataSourceName builds the Postgres DSN.
func (c PostgresConfig) DataSourceName() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     c.URL + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Configured reports whether enough is set to open a connection.
func (c PostgresConfig) Configured() bool {
	return c.DSN != "" || c.URL != ""
}

// Missing lists required identity settings that are unset.
func (c AuthConfig) Missing() []string {
	if c.JWKSURL != "" {
		return nil
	}
	var missing []string
	if c.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if c.ServiceRoleKey == "" {
		missing = append(missing, "SUPABASE_SERVICE_ROLE_KEY")
	}
	return missing
}

// CheckoutMissing lists settings the checkout initiator needs that are unset.
func (c StripeConfig) CheckoutMissing() []string {
	var missing []string
	if c.SecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.PriceID == "" {
		missing = append(missing, "STRIPE_PRICE_ID")
	}
	return missing
}

// Missing lists settings the chat relay needs that are unset.
func (c WorkflowConfig) Missing() []string {
	var missing []string
	if c.URL == "" {
		missing = append(missing, "N8N_WEBHOOK_URL")
	}
	if c.AuthHeaderName == "" {
		missing = append(missing, "N8N_AUTH_HEADER_NAME")
	}
	if c.AuthHeaderValue == "" {
		missing = append(missing, "N8N_AUTH_HEADER_VALUE")
	}
	return missing
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
