package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/quota"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "gateway.yaml"

// DefaultEnvFile is the optional dotenv file applied before the environment.
const DefaultEnvFile = ".env"

// Load returns a Config using the hierarchy: defaults < YAML < .env < ENV.
// Both files are optional; missing files are not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile, DefaultEnvFile)
}

// LoadFrom returns a Config loaded from the given YAML and dotenv paths.
// Values already present in the process environment win over the dotenv file.
func LoadFrom(yamlPath, envPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadDotenv(envPath); err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadDotenv exports the file's variables into the process environment
// without overriding variables that are already set.
func loadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "GATEWAY_PORT")
	setString(&cfg.Server.CORSOrigin, "GATEWAY_CORS_ORIGIN")
	setDuration(&cfg.Server.WriteTimeout, "GATEWAY_WRITE_TIMEOUT")

	setString(&cfg.Store.Driver, "GATEWAY_STORE")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "GATEWAY_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "GATEWAY_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "GATEWAY_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "GATEWAY_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "GATEWAY_PG_HEALTH_CHECK")
	setString(&cfg.SQLite.Path, "GATEWAY_SQLITE_PATH")
	setDuration(&cfg.SQLite.BusyTimeout, "GATEWAY_SQLITE_BUSY_TIMEOUT")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "GATEWAY_NATS_STREAM")

	setInt64(&cfg.Cache.L1MaxSizeMB, "GATEWAY_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2, "GATEWAY_CACHE_L2")
	setString(&cfg.Cache.L2Bucket, "GATEWAY_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "GATEWAY_CACHE_L2_TTL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")

	setString(&cfg.Logging.Level, "GATEWAY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "GATEWAY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "GATEWAY_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "GATEWAY_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "GATEWAY_BREAKER_TIMEOUT")
	setInt(&cfg.Retry.Attempts, "GATEWAY_RETRY_ATTEMPTS")
	setDuration(&cfg.Retry.BaseDelay, "GATEWAY_RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.AttemptTimeout, "GATEWAY_RETRY_ATTEMPT_TIMEOUT")
	setBool(&cfg.Retry.Jitter, "GATEWAY_RETRY_JITTER")

	setFloat64(&cfg.Rate.RequestsPerSecond, "GATEWAY_RATE_RPS")
	setInt(&cfg.Rate.Burst, "GATEWAY_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "GATEWAY_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "GATEWAY_RATE_MAX_IDLE_TIME")
	setDuration(&cfg.Idempotency.TTL, "GATEWAY_IDEMPOTENCY_TTL")

	setString(&cfg.Identity.JWTSecret, "GATEWAY_JWT_SECRET")
	setString(&cfg.Identity.Issuer, "GATEWAY_JWT_ISSUER")
	setBool(&cfg.Identity.DevMode, "GATEWAY_DEV_MODE")

	setString(&cfg.Providers.SecretsFile, "GATEWAY_SECRETS_FILE")
	setDuration(&cfg.Providers.HTTPTimeout, "GATEWAY_PROVIDER_HTTP_TIMEOUT")
	setInt(&cfg.Providers.StreamBuf, "GATEWAY_STREAM_BUFFER")
	setString(&cfg.Providers.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.Providers.Anthropic.BaseURL, "ANTHROPIC_BASE_URL")
	setString(&cfg.Providers.Google.BaseURL, "GOOGLE_BASE_URL")
	setString(&cfg.Providers.OpenRouter.BaseURL, "OPENROUTER_BASE_URL")
	setString(&cfg.Providers.LiteLLM.BaseURL, "LITELLM_URL")

	setBool(&cfg.Gateway.CreditPreflight, "GATEWAY_CREDIT_PREFLIGHT")
	setInt(&cfg.Gateway.PreflightOutputTokens, "GATEWAY_PREFLIGHT_OUTPUT_TOKENS")

	setString(&cfg.Alerts.Provider, "GATEWAY_ALERTS_PROVIDER")
	setString(&cfg.Alerts.WebhookURL, "GATEWAY_ALERTS_WEBHOOK_URL")
	setDuration(&cfg.Alerts.Cooldown, "GATEWAY_ALERTS_COOLDOWN")

	setBool(&cfg.OTEL.Enabled, "GATEWAY_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "GATEWAY_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "GATEWAY_OTEL_SAMPLE_RATE")

	// Plan caps: GATEWAY_PLAN_<PLAN>_<CAP>; "unlimited" clears a cap.
	if cfg.Plans == nil {
		cfg.Plans = make(map[string]quota.Limits)
	}
	for _, p := range []catalog.Plan{catalog.PlanFree, catalog.PlanLite, catalog.PlanPro, catalog.PlanEnterprise} {
		l := cfg.Plans[string(p)]
		prefix := "GATEWAY_PLAN_" + strings.ToUpper(string(p)) + "_"
		setCap(&l.DailyMessages, prefix+"DAILY_MESSAGES")
		setCap(&l.MonthlyTokens, prefix+"MONTHLY_TOKENS")
		setCap(&l.MonthlyAdvancedMessages, prefix+"MONTHLY_ADVANCED")
		cfg.Plans[string(p)] = l
	}
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
	default:
		return fmt.Errorf("store.driver %q must be postgres or sqlite", cfg.Store.Driver)
	}
	switch cfg.Cache.L2 {
	case "none", "redis":
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("cache.l2 nats requires nats.url")
		}
	default:
		return fmt.Errorf("cache.l2 %q must be nats, redis or none", cfg.Cache.L2)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Retry.Attempts < 1 {
		return errors.New("retry.attempts must be >= 1")
	}
	if cfg.Retry.AttemptTimeout <= 0 {
		return errors.New("retry.attempt_timeout must be > 0")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Gateway.PreflightOutputTokens < 0 {
		return errors.New("gateway.preflight_output_tokens must be >= 0")
	}
	switch cfg.Alerts.Provider {
	case "":
	case "slack", "discord":
		if cfg.Alerts.WebhookURL == "" {
			return errors.New("alerts.webhook_url is required when alerts.provider is set")
		}
	default:
		return fmt.Errorf("alerts.provider %q must be slack or discord", cfg.Alerts.Provider)
	}
	if !cfg.Identity.DevMode && cfg.Identity.JWTSecret == "" {
		return errors.New("identity.jwt_secret is required unless identity.dev_mode is set")
	}
	for name, l := range cfg.Plans {
		if !catalog.Plan(name).Valid() {
			return fmt.Errorf("plans: unknown plan %q", name)
		}
		for _, c := range []*int64{l.DailyMessages, l.MonthlyTokens, l.MonthlyAdvancedMessages} {
			if c != nil && *c < 0 {
				return fmt.Errorf("plans.%s: caps must be >= 0", name)
			}
		}
	}
	return nil
}

// PlanLimits returns the configured caps keyed by plan.
func (c *Config) PlanLimits() map[catalog.Plan]quota.Limits {
	out := make(map[catalog.Plan]quota.Limits, len(c.Plans))
	for name, l := range c.Plans {
		out[catalog.Plan(name)] = l
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setCap(dst **int64, key string) {
	v := os.Getenv(key)
	switch {
	case v == "":
	case strings.EqualFold(v, "unlimited"):
		*dst = nil
	default:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = &n
		}
	}
}
