package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthTokenTTL      time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
	DefaultSignupRole string        `mapstructure:"DEFAULT_SIGNUP_ROLE"`

	CORSOrigins         []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS        float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int      `mapstructure:"RATE_LIMIT_BURST"`
	RecommendRatePerMin int      `mapstructure:"RECOMMEND_RATE_PER_MIN"`

	ClinicTimezone      string        `mapstructure:"CLINIC_TIMEZONE"`
	ReminderInterval    time.Duration `mapstructure:"REMINDER_INTERVAL"`
	ReminderBatchSize   int           `mapstructure:"REMINDER_BATCH_SIZE"`
	ReminderConcurrency int           `mapstructure:"REMINDER_CONCURRENCY"`
	ReconcileInterval   time.Duration `mapstructure:"RECONCILE_INTERVAL"`

	StorageDriver    string        `mapstructure:"STORAGE_DRIVER"`
	StorageRoot      string        `mapstructure:"STORAGE_ROOT"`
	StorageBucket    string        `mapstructure:"STORAGE_BUCKET"`
	StoragePublicURL string        `mapstructure:"STORAGE_PUBLIC_URL"`
	SignedURLTTL     time.Duration `mapstructure:"SIGNED_URL_TTL"`

	AIGatewayURL string        `mapstructure:"AI_GATEWAY_URL"`
	AIAPIKey     string        `mapstructure:"AI_API_KEY"`
	AIModel      string        `mapstructure:"AI_MODEL"`
	AITimeout    time.Duration `mapstructure:"AI_TIMEOUT"`

	SentryDSN              string  `mapstructure:"SENTRY_DSN"`
	SentryTracesSampleRate float64 `mapstructure:"SENTRY_TRACES_SAMPLE_RATE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_TOKEN_TTL", "DEFAULT_SIGNUP_ROLE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "RECOMMEND_RATE_PER_MIN",
	"CLINIC_TIMEZONE", "REMINDER_INTERVAL", "REMINDER_BATCH_SIZE", "REMINDER_CONCURRENCY", "RECONCILE_INTERVAL",
	"STORAGE_DRIVER", "STORAGE_ROOT", "STORAGE_BUCKET", "STORAGE_PUBLIC_URL", "SIGNED_URL_TTL",
	"AI_GATEWAY_URL", "AI_API_KEY", "AI_MODEL", "AI_TIMEOUT",
	"SENTRY_DSN", "SENTRY_TRACES_SAMPLE_RATE",
}

// knownRoles lists the values accepted for DEFAULT_SIGNUP_ROLE.
var knownRoles = map[string]bool{
	"admin": true, "dentist": true, "manager": true,
	"nurse": true, "receptionist": true, "patient": true,
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("AUTH_ISSUER", "dentalcare")
	v.SetDefault("AUTH_AUDIENCE", "dentalcare-api")
	v.SetDefault("AUTH_TOKEN_TTL", "12h")
	v.SetDefault("DEFAULT_SIGNUP_ROLE", "patient")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("RECOMMEND_RATE_PER_MIN", 10)
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("REMINDER_INTERVAL", "1m")
	v.SetDefault("REMINDER_BATCH_SIZE", 200)
	v.SetDefault("REMINDER_CONCURRENCY", 1)
	v.SetDefault("RECONCILE_INTERVAL", "15m")
	v.SetDefault("STORAGE_DRIVER", "memory")
	v.SetDefault("STORAGE_ROOT", "./data/objects")
	v.SetDefault("STORAGE_BUCKET", "medical-images")
	v.SetDefault("STORAGE_PUBLIC_URL", "http://localhost:8000")
	v.SetDefault("SIGNED_URL_TTL", "1h")
	v.SetDefault("AI_GATEWAY_URL", "https://ai.gateway.lovable.dev/v1/chat/completions")
	v.SetDefault("AI_MODEL", "google/gemini-2.5-flash")
	v.SetDefault("AI_TIMEOUT", "30s")
	v.SetDefault("SENTRY_TRACES_SAMPLE_RATE", 0.2)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = splitList(origins)
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey decodes AUTH_SIGNING_KEY. It returns nil when the key is unset.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	return key, nil
}

// Location resolves CLINIC_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key of at least 32 bytes is mandatory.
func (c *Config) Validate() error {
	key, err := c.SigningKey()
	if err != nil {
		return err
	}
	if !c.IsDev() && len(key) == 0 {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if len(key) > 0 && len(key) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	if c.AuthTokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL must be positive")
	}
	if c.DefaultSignupRole != "" && !knownRoles[c.DefaultSignupRole] {
		return fmt.Errorf("DEFAULT_SIGNUP_ROLE %q is not a known role", c.DefaultSignupRole)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.ReminderConcurrency < 1 {
		return fmt.Errorf("REMINDER_CONCURRENCY must be at least 1, got %d", c.ReminderConcurrency)
	}
	if c.ReminderBatchSize < 1 {
		return fmt.Errorf("REMINDER_BATCH_SIZE must be at least 1, got %d", c.ReminderBatchSize)
	}
	switch c.StorageDriver {
	case "memory":
	case "disk":
		if c.StorageRoot == "" {
			return fmt.Errorf("STORAGE_ROOT is required when STORAGE_DRIVER is \"disk\"")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be \"memory\" or \"disk\", got %q", c.StorageDriver)
	}
	if c.SignedURLTTL <= 0 {
		return fmt.Errorf("SIGNED_URL_TTL must be positive")
	}
	return nil
}
