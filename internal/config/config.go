package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Webhook  WebhookConfig
	Dialer   DialerConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// ProviderConfig is the platform-level telephony account. Per-user signaling
// credentials live in the database; this account is only used for workspace
// provisioning and health checks.
type ProviderConfig struct {
	AccountSID string
	AuthToken  string

	// BaseURL overrides the provider API endpoint, for test doubles.
	BaseURL string
}

type WebhookConfig struct {
	// PublicBaseURL is the externally reachable origin callbacks are signed
	// against, e.g. https://api.example.com. No trailing slash.
	PublicBaseURL string

	// TokenSecret signs per-user webhook capability tokens.
	TokenSecret string

	// TokenTTL bounds token validity. Capped at 24h.
	TokenTTL time.Duration
}

type DialerConfig struct {
	// MaxParallelCalls caps the per-session parallel_call_limit setting.
	MaxParallelCalls int

	// CredentialTTL bounds how long cached signaling credentials are served
	// without a store reload.
	CredentialTTL time.Duration

	// LineGuardTTL bounds how long a crashed instance can hold line slots
	// in Redis.
	LineGuardTTL time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Provider.AccountSID = strings.TrimSpace(os.Getenv("PROVIDER_ACCOUNT_SID"))
	c.Provider.AuthToken = os.Getenv("PROVIDER_AUTH_TOKEN")
	c.Provider.BaseURL = strings.TrimSpace(os.Getenv("PROVIDER_BASE_URL"))

	c.Webhook.PublicBaseURL = strings.TrimSpace(os.Getenv("WEBHOOK_PUBLIC_BASE_URL"))
	c.Webhook.TokenSecret = os.Getenv("WEBHOOK_TOKEN_SECRET")
	// Duration env vars are optional; defaults applied in Validate().
	c.Webhook.TokenTTL = mustDuration("WEBHOOK_TOKEN_TTL")

	c.Dialer.MaxParallelCalls = optionalInt("DIALER_MAX_PARALLEL_CALLS")
	c.Dialer.CredentialTTL = mustDuration("DIALER_CREDENTIAL_TTL")
	c.Dialer.LineGuardTTL = mustDuration("DIALER_LINE_GUARD_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Provider.AccountSID == "" {
		errs = append(errs, errors.New("PROVIDER_ACCOUNT_SID is required"))
	}
	if c.Provider.AuthToken == "" {
		errs = append(errs, errors.New("PROVIDER_AUTH_TOKEN is required"))
	}

	if c.Webhook.PublicBaseURL == "" {
		errs = append(errs, errors.New("WEBHOOK_PUBLIC_BASE_URL is required"))
	} else if !strings.HasPrefix(c.Webhook.PublicBaseURL, "https://") && c.IsProduction() {
		errs = append(errs, errors.New("WEBHOOK_PUBLIC_BASE_URL must be https in production"))
	}
	if c.Webhook.TokenSecret == "" {
		errs = append(errs, errors.New("WEBHOOK_TOKEN_SECRET is required"))
	}
	if c.Webhook.TokenTTL <= 0 {
		c.Webhook.TokenTTL = 24 * time.Hour
	}
	if c.Webhook.TokenTTL > 24*time.Hour {
		errs = append(errs, fmt.Errorf("WEBHOOK_TOKEN_TTL must not exceed 24h, got %s", c.Webhook.TokenTTL))
	}

	if c.Dialer.MaxParallelCalls <= 0 {
		c.Dialer.MaxParallelCalls = 10
	}
	if c.Dialer.MaxParallelCalls > 10 {
		errs = append(errs, fmt.Errorf("DIALER_MAX_PARALLEL_CALLS must be 1-10, got %d", c.Dialer.MaxParallelCalls))
	}
	if c.Dialer.CredentialTTL <= 0 {
		c.Dialer.CredentialTTL = 30 * time.Minute
	}
	if c.Dialer.LineGuardTTL <= 0 {
		c.Dialer.LineGuardTTL = 4 * time.Hour
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:")
	for _, e := range errs {
		b.WriteString("\n  - ")
		b.WriteString(e.Error())
	}
	return errors.New(b.String())
}
