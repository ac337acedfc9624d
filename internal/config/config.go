// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.toml file in the working directory. Environment variables
// take precedence over the TOML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the TOML file groups the
// same settings into [server], [providers.<name>], [routing], [qos], and
// [pricing] sections. For example OPENAI_API_KEY becomes
// providers.openai.api_key in TOML.
//
// Only one LLM provider key is strictly required for the gateway to start.
// Redis is optional — set CACHE_MODE=memory to use the built-in in-process
// cache with no external dependencies.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/coreforge/llm-gateway/internal/breaker"
	"github.com/coreforge/llm-gateway/internal/routing"
)

// providerNames is the closed roster of adapters the gateway wires up.
var providerNames = []string{"openai", "anthropic", "gemini", "deepseek", "groq", "nvidia", "llamacpp"}

// Config is the top-level configuration container.
type Config struct {
	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	Server ServerConfig

	// Providers holds one ProviderConfig per name in providerNames, keyed by
	// name (e.g. "openai", "deepseek").
	Providers map[string]ProviderConfig

	Routing RoutingConfig
	QoS     QoSConfig
	Pricing PricingConfig

	// Redis holds the connection URL for the Redis-backed cache and rate limiter.
	// Required only when Cache.Mode or RateLimit.Backend is "redis".
	Redis RedisConfig

	// Cache controls caching behaviour.
	Cache CacheConfig

	// RateLimit controls request-rate limiting.
	RateLimit RateLimitConfig

	// Audit controls the pluggable audit-event sink.
	Audit AuditConfig

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default). Set to specific origins in prod.
	CORSOrigins []string

	// AppBaseURL is used to construct absolute URLs (e.g. in webhook callbacks).
	AppBaseURL string

	// AllowClientAPIKeys enables forwarding client-supplied Authorization headers
	// directly to the upstream provider. When false (default) the gateway only
	// uses the API keys configured in this file/.env.
	AllowClientAPIKeys bool
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Host is the address the HTTP server binds to. Default: "0.0.0.0".
	Host string
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int
	// Workers is read from server.workers / SERVER_WORKERS, but the listener
	// does not apply it. Default: 0.
	Workers int
	// RequestTimeout is read from server.request_timeout_secs, but the
	// listener does not apply it; its read and write timeouts are fixed.
	// Default: 60s.
	RequestTimeout time.Duration
	// MaxRequestSizeBytes is read from server.max_request_size_bytes, but the
	// listener does not apply it; request bodies are not limited by this
	// value. Default: 10MiB.
	MaxRequestSizeBytes int64
}

// ProviderConfig holds configuration for a single LLM provider.
type ProviderConfig struct {
	// Enabled switches a provider that has an APIKey on or off. Default: true
	// if APIKey is non-empty. A provider without an APIKey is never used,
	// whatever Enabled says.
	Enabled bool

	// APIKey is the provider API key. Leave empty to disable the provider.
	APIKey string

	// BaseURL overrides the provider's default API endpoint.
	// Useful for local mocks and development. Leave empty to use the default.
	BaseURL string

	// Timeout is read from timeout_secs, but it is not passed to the adapter: every adapter's HTTP client uses the fixed
	// providers.ProviderTimeout. Default: 30s.
	Timeout time.Duration

	// MaxRetries is read from max_retries and validated, but the pipeline
	// does not use it: it makes one attempt per candidate in a fallback
	// chain. Default: 1.
	MaxRetries int

	// RateLimitPerMinute is the token-bucket refill rate used to configure
	// the rate limiter for this provider. 0 uses ratelimit.DefaultLimits.
	RateLimitPerMinute int

	// CircuitBreaker controls this provider's circuit breaker thresholds.
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig controls one provider's circuit breaker settings.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trip the
	// breaker from Closed to Open. Default: 5.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in HalfOpen
	// required to close the breaker again. Default: 2.
	SuccessThreshold int

	// Timeout is how long the breaker stays Open before it moves to HalfOpen
	// and admits calls again. Default: 30s.
	Timeout time.Duration
}

func (c CircuitBreakerConfig) toBreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		Timeout:          c.Timeout,
	}
}

// RoutingConfig controls the smart-routing engine's default behaviour for
// "auto" requests.
type RoutingConfig struct {
	// DefaultStrategy is one of lowest_cost, lowest_latency, highest_reliability.
	// Default: lowest_cost.
	DefaultStrategy routing.Strategy
	// AutoCandidates is the ordered list of provider names considered when a
	// request names the "auto" sentinel.
	AutoCandidates []string
}

// QoSConfig controls the QoS observatory's anomaly thresholds.
type QoSConfig struct {
	// SLALatencyP95Ms is the p95 latency, in milliseconds, above which a
	// (provider, model) pair is flagged as anomalous. Default: 5000.
	SLALatencyP95Ms float64
	// MaxErrorRate is the error rate above which a pair is flagged as
	// anomalous. The routing engine does not read it; it uses its own fixed
	// exclusion threshold. Default: 0.5.
	MaxErrorRate float64
}

// PricingConfig holds the table of per-provider/model pricing tiers loaded
// from [[pricing.tiers]].
type PricingConfig struct {
	Tiers []PricingTier
}

// PricingTier mirrors pricing.Tier for TOML decoding.
type PricingTier struct {
	Provider        string
	ModelPattern    string
	InputCostPer1M  float64
	OutputCostPer1M float64
	EffectiveDate   string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Mode selects the cache backend:
	//   "redis"  — Redis-backed cache (requires REDIS_URL). Recommended for production.
	//   "memory" — In-process TTL cache. No external deps; not shared across replicas.
	//   "none"   — Cache disabled entirely.
	// Default: "memory".
	Mode string

	// TTL is the default time-to-live for cached responses. Default: 1h.
	TTL time.Duration

	// ExcludeExact is a list of exact model names that must never be cached.
	// Example: ["gpt-4o-realtime", "claude-3-haiku"]
	ExcludeExact []string

	// ExcludePatterns is a list of Go regular expressions matched against model
	// names. Requests whose model matches any pattern are not cached.
	// Example: ["^ft:", ".*-preview$"]
	ExcludePatterns []string
}

// RateLimitConfig controls request-rate limiting.
type RateLimitConfig struct {
	// Backend selects the bucket implementation: "local" (in-process) or
	// "redis" (shared across replicas, requires REDIS_URL). Default: "local".
	Backend string
}

// AuditConfig controls where audit events are persisted. An empty Backend
// keeps events in the structured log only (audit.NullSink).
type AuditConfig struct {
	// Backend is "" (log only) or "clickhouse".
	Backend string

	ClickHouseAddr     []string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
}

// Load reads configuration from environment variables and (optionally) from
// config.toml in the current working directory.
//
// At least one provider API key must be configured.
// REDIS_URL is only required when CACHE_MODE=redis or RATE_LIMIT_BACKEND=redis.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	var fileKeys []string
	if readErr := v.ReadInConfig(); readErr == nil {
		if err := checkUnknownKeys(v); err != nil {
			return nil, err
		}
		fileKeys = v.AllKeys()
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_WORKERS", 0)
	v.SetDefault("SERVER_REQUEST_TIMEOUT_SECS", 60)
	v.SetDefault("SERVER_MAX_REQUEST_SIZE_BYTES", 10<<20)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	v.SetDefault("ROUTING_DEFAULT_STRATEGY", string(routing.LowestCost))
	v.SetDefault("ROUTING_AUTO_CANDIDATES", providerNames)

	v.SetDefault("QOS_SLA_LATENCY_P95_MS", 5000.0)
	v.SetDefault("QOS_MAX_ERROR_RATE", 0.5)

	v.SetDefault("RATE_LIMIT_BACKEND", "local")
	v.SetDefault("AUDIT_BACKEND", "")

	for _, name := range providerNames {
		prefix := "PROVIDERS_" + strings.ToUpper(name) + "_"
		v.SetDefault(prefix+"TIMEOUT_SECS", 30)
		v.SetDefault(prefix+"MAX_RETRIES", 1)
		v.SetDefault(prefix+"CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5)
		v.SetDefault(prefix+"CIRCUIT_BREAKER_SUCCESS_THRESHOLD", 2)
		v.SetDefault(prefix+"CIRCUIT_BREAKER_TIMEOUT_SECS", 30)
	}

	// Client API key mode disabled by default.
	v.SetDefault("ALLOW_CLIENT_API_KEYS", false)

	// config.toml values live under dotted paths ("server.port"); copy each
	// onto the flat key read below ("SERVER_PORT") as its default, so an
	// environment variable still takes precedence over the file.
	for _, key := range fileKeys {
		flat := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if strings.HasPrefix(key, "providers.") && strings.HasSuffix(key, ".api_key") {
			flat = strings.TrimPrefix(flat, "PROVIDERS_")
			if flat == "GEMINI_API_KEY" {
				flat = "GOOGLE_API_KEY"
			}
		}
		v.SetDefault(flat, v.Get(key))
	}

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Server: ServerConfig{
			Host:                v.GetString("SERVER_HOST"),
			Port:                v.GetInt("SERVER_PORT"),
			Workers:             v.GetInt("SERVER_WORKERS"),
			RequestTimeout:      time.Duration(v.GetInt64("SERVER_REQUEST_TIMEOUT_SECS")) * time.Second,
			MaxRequestSizeBytes: v.GetInt64("SERVER_MAX_REQUEST_SIZE_BYTES"),
		},

		Providers: buildProviderConfigs(v),

		Routing: RoutingConfig{
			DefaultStrategy: routing.Strategy(v.GetString("ROUTING_DEFAULT_STRATEGY")),
			AutoCandidates:  v.GetStringSlice("ROUTING_AUTO_CANDIDATES"),
		},

		QoS: QoSConfig{
			SLALatencyP95Ms: v.GetFloat64("QOS_SLA_LATENCY_P95_MS"),
			MaxErrorRate:    v.GetFloat64("QOS_MAX_ERROR_RATE"),
		},

		Pricing: PricingConfig{Tiers: decodePricingTiers(v)},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Mode:            strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:             v.GetDuration("CACHE_TTL"),
			ExcludeExact:    v.GetStringSlice("CACHE_EXCLUDE_EXACT"),
			ExcludePatterns: v.GetStringSlice("CACHE_EXCLUDE_PATTERNS"),
		},

		RateLimit: RateLimitConfig{
			Backend: strings.ToLower(v.GetString("RATE_LIMIT_BACKEND")),
		},

		Audit: AuditConfig{
			Backend:            strings.ToLower(v.GetString("AUDIT_BACKEND")),
			ClickHouseAddr:     v.GetStringSlice("AUDIT_CLICKHOUSE_ADDR"),
			ClickHouseDatabase: v.GetString("AUDIT_CLICKHOUSE_DATABASE"),
			ClickHouseUsername: v.GetString("AUDIT_CLICKHOUSE_USERNAME"),
			ClickHousePassword: v.GetString("AUDIT_CLICKHOUSE_PASSWORD"),
		},

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
		AppBaseURL:  v.GetString("APP_BASE_URL"),

		AllowClientAPIKeys: v.GetBool("ALLOW_CLIENT_API_KEYS"),
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// buildProviderConfigs reads the [providers.<name>] table for every entry in
// providerNames. Unlike a fully PROVIDERS_*-prefixed layout, each provider's
// API key env var keeps its conventional upstream name (OPENAI_API_KEY
// rather than PROVIDERS_OPENAI_API_KEY) for operator familiarity; everything
// else follows the PROVIDERS_<NAME>_* convention.
func buildProviderConfigs(v *viper.Viper) map[string]ProviderConfig {
	apiKeyEnv := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"gemini":    "GOOGLE_API_KEY",
		"deepseek":  "DEEPSEEK_API_KEY",
		"groq":      "GROQ_API_KEY",
		"nvidia":    "NVIDIA_API_KEY",
		"llamacpp":  "LLAMACPP_API_KEY",
	}

	out := make(map[string]ProviderConfig, len(providerNames))
	for _, name := range providerNames {
		prefix := "PROVIDERS_" + strings.ToUpper(name) + "_"
		apiKey := v.GetString(apiKeyEnv[name])
		enabled := apiKey != ""
		if v.IsSet(prefix + "ENABLED") {
			enabled = v.GetBool(prefix + "ENABLED")
		}

		out[name] = ProviderConfig{
			Enabled:            enabled,
			APIKey:             apiKey,
			BaseURL:            v.GetString(prefix + "BASE_URL"),
			Timeout:            time.Duration(v.GetInt64(prefix+"TIMEOUT_SECS")) * time.Second,
			MaxRetries:         v.GetInt(prefix + "MAX_RETRIES"),
			RateLimitPerMinute: v.GetInt(prefix + "RATE_LIMIT_PER_MINUTE"),
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: v.GetInt(prefix + "CIRCUIT_BREAKER_FAILURE_THRESHOLD"),
				SuccessThreshold: v.GetInt(prefix + "CIRCUIT_BREAKER_SUCCESS_THRESHOLD"),
				Timeout:          time.Duration(v.GetInt64(prefix+"CIRCUIT_BREAKER_TIMEOUT_SECS")) * time.Second,
			},
		}
	}
	return out
}

// decodePricingTiers reads the [[pricing.tiers]] array of tables, if present.
func decodePricingTiers(v *viper.Viper) []PricingTier {
	var tiers []PricingTier
	if err := v.UnmarshalKey("pricing.tiers", &tiers); err != nil {
		return nil
	}
	return tiers
}

// recognizedConfigKeys is every dotted key config.toml is allowed to set,
// mirroring the TOML layout described in the package doc (e.g.
// "providers.openai.api_key"). A typo'd or renamed key in the file would
// otherwise be silently ignored in favor of its default.
var recognizedConfigKeys = buildRecognizedConfigKeys()

func buildRecognizedConfigKeys() map[string]bool {
	keys := []string{
		"log_level",
		"cors_origins",
		"app_base_url",
		"allow_client_api_keys",

		"server.host",
		"server.port",
		"server.workers",
		"server.request_timeout_secs",
		"server.max_request_size_bytes",

		"routing.default_strategy",
		"routing.auto_candidates",

		"qos.sla_latency_p95_ms",
		"qos.max_error_rate",

		"redis.url",

		"cache.mode",
		"cache.ttl",
		"cache.exclude_exact",
		"cache.exclude_patterns",

		"rate_limit.backend",

		"audit.backend",
		"audit.clickhouse_addr",
		"audit.clickhouse_database",
		"audit.clickhouse_username",
		"audit.clickhouse_password",

		"pricing.tiers",
	}

	for _, name := range providerNames {
		prefix := "providers." + name + "."
		keys = append(keys,
			prefix+"enabled",
			prefix+"api_key",
			prefix+"base_url",
			prefix+"timeout_secs",
			prefix+"max_retries",
			prefix+"rate_limit_per_minute",
			prefix+"circuit_breaker.failure_threshold",
			prefix+"circuit_breaker.success_threshold",
			prefix+"circuit_breaker.timeout_secs",
		)
	}

	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// checkUnknownKeys rejects any key config.toml sets outside
// recognizedConfigKeys, reported using viper's own dotted key path. Only the
// file is checked: AutomaticEnv makes every process environment variable
// visible to viper's Get, and the process environment routinely carries
// variables (PATH, HOME, ...) that have nothing to do with this gateway, so
// env vars aren't a meaningful signal of an operator typo the way an
// explicitly authored config.toml entry is.
func checkUnknownKeys(v *viper.Viper) error {
	for _, key := range v.AllKeys() {
		if recognizedConfigKeys[key] {
			continue
		}
		// pricing.tiers is a TOML array of tables; viper normally reports it
		// as the single key "pricing.tiers" above, and any key nested under
		// it is accepted as well.
		if strings.HasPrefix(key, "pricing.tiers.") {
			continue
		}
		return fmt.Errorf("config: unknown key %q in config.toml", key)
	}
	return nil
}

// BreakerConfig returns the breaker.Config for the named provider.
func (c *Config) BreakerConfig(name string) breaker.Config {
	return c.Providers[name].CircuitBreaker.toBreakerConfig()
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	// At least one provider must be configured unless client-supplied keys are enabled.
	if !c.AllowClientAPIKeys && !c.AtLeastOneProviderKey() {
		return fmt.Errorf(
			"config: at least one provider API key is required " +
				"(OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY, DEEPSEEK_API_KEY, " +
				"GROQ_API_KEY, NVIDIA_API_KEY, or LLAMACPP_API_KEY). " +
				"Set ALLOW_CLIENT_API_KEYS=true to require clients to supply their own keys.",
		)
	}

	// Redis URL is required when cache mode or rate limit backend is "redis".
	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}
	if c.RateLimit.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when RATE_LIMIT_BACKEND=redis; " +
				"set RATE_LIMIT_BACKEND=local to use the built-in in-process limiter",
		)
	}

	// Validate cache mode value.
	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: redis, memory, none",
			c.Cache.Mode,
		)
	}

	switch c.RateLimit.Backend {
	case "redis", "local":
	default:
		return fmt.Errorf(
			"config: invalid RATE_LIMIT_BACKEND %q; must be one of: redis, local",
			c.RateLimit.Backend,
		)
	}

	switch c.Audit.Backend {
	case "", "clickhouse":
	default:
		return fmt.Errorf(
			"config: invalid AUDIT_BACKEND %q; must be one of: \"\" (log only), clickhouse",
			c.Audit.Backend,
		)
	}
	if c.Audit.Backend == "clickhouse" && len(c.Audit.ClickHouseAddr) == 0 {
		return fmt.Errorf("config: AUDIT_CLICKHOUSE_ADDR is required when AUDIT_BACKEND=clickhouse")
	}

	// Validate log level.
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	switch c.Routing.DefaultStrategy {
	case routing.LowestCost, routing.LowestLatency, routing.HighestReliability:
	default:
		return fmt.Errorf(
			"config: invalid ROUTING_DEFAULT_STRATEGY %q; must be one of: "+
				"lowest_cost, lowest_latency, highest_reliability",
			c.Routing.DefaultStrategy,
		)
	}

	for _, name := range providerNames {
		pc := c.Providers[name]
		if pc.CircuitBreaker.FailureThreshold < 1 {
			return fmt.Errorf("config: PROVIDERS_%s_CIRCUIT_BREAKER_FAILURE_THRESHOLD must be ≥ 1, got %d",
				strings.ToUpper(name), pc.CircuitBreaker.FailureThreshold)
		}
		if pc.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("config: PROVIDERS_%s_CIRCUIT_BREAKER_TIMEOUT_SECS must be a positive duration",
				strings.ToUpper(name))
		}
		if pc.MaxRetries < 1 {
			return fmt.Errorf("config: PROVIDERS_%s_MAX_RETRIES must be ≥ 1, got %d",
				strings.ToUpper(name), pc.MaxRetries)
		}
	}

	return nil
}

// AtLeastOneProviderKey returns true if at least one provider is configured.
func (c *Config) AtLeastOneProviderKey() bool {
	for _, name := range providerNames {
		if c.Providers[name].APIKey != "" {
			return true
		}
	}
	return false
}

// EnabledProviders returns the names of configured providers that are
// enabled, in the fixed roster order.
func (c *Config) EnabledProviders() []string {
	var out []string
	for _, name := range providerNames {
		pc := c.Providers[name]
		if pc.Enabled && pc.APIKey != "" {
			out = append(out, name)
		}
	}
	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
