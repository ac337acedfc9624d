package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/coreforge/llm-gateway/internal/breaker"
	"github.com/coreforge/llm-gateway/internal/routing"
)

// validBaseConfig returns a Config that passes validate() unmodified, so
// each test only needs to override the field it's exercising.
func validBaseConfig() *Config {
	providers := make(map[string]ProviderConfig, len(providerNames))
	for _, name := range providerNames {
		providers[name] = ProviderConfig{
			MaxRetries: 2,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 1,
				Timeout:          30 * time.Second,
			},
		}
	}
	openai := providers["openai"]
	openai.Enabled = true
	openai.APIKey = "sk-test"
	providers["openai"] = openai

	return &Config{
		LogLevel:  "info",
		Providers: providers,
		Routing:   RoutingConfig{DefaultStrategy: routing.LowestCost},
		Cache:     CacheConfig{Mode: "memory"},
		RateLimit: RateLimitConfig{Backend: "local"},
		Audit:     AuditConfig{Backend: ""},
	}
}

func TestValidateAcceptsBaseConfig(t *testing.T) {
	require.NoError(t, validBaseConfig().validate())
}

func TestValidateRejectsUnknownAuditBackend(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Audit.Backend = "datadog"

	err := cfg.validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "AUDIT_BACKEND")
}

func TestValidateRejectsClickHouseWithoutAddr(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Audit.Backend = "clickhouse"

	err := cfg.validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "AUDIT_CLICKHOUSE_ADDR")
}

func TestValidateAcceptsClickHouseWithAddr(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Audit.Backend = "clickhouse"
	cfg.Audit.ClickHouseAddr = []string{"localhost:9000"}

	require.NoError(t, cfg.validate())
}

func TestBreakerConfigConvertsCircuitBreakerConfig(t *testing.T) {
	cfg := validBaseConfig()

	got := cfg.BreakerConfig("openai")
	want := breaker.Config{FailureThreshold: 5, SuccessThreshold: 1, Timeout: 30 * time.Second}
	require.Equal(t, want, got)
}

func TestEnabledProvidersReturnsOnlyEnabled(t *testing.T) {
	cfg := validBaseConfig()

	require.Equal(t, []string{"openai"}, cfg.EnabledProviders())
}

func TestAtLeastOneProviderKeyFalseWhenAllEmpty(t *testing.T) {
	cfg := validBaseConfig()
	for name, pc := range cfg.Providers {
		pc.APIKey = ""
		cfg.Providers[name] = pc
	}

	require.False(t, cfg.AtLeastOneProviderKey())
}

func readTOML(t *testing.T, toml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("toml")
	require.NoError(t, v.ReadConfig(strings.NewReader(toml)))
	return v
}

func TestCheckUnknownKeys_AcceptsRecognizedKeys(t *testing.T) {
	v := readTOML(t, `
log_level = "debug"

[server]
host = "0.0.0.0"
port = 9090

[providers.openai]
api_key = "sk-test"
enabled = true

[[pricing.tiers]]
provider = "openai"
model_pattern = "gpt-4o"
input_cost_per1_m = 2.5
`)

	require.NoError(t, checkUnknownKeys(v))
}

func TestCheckUnknownKeys_RejectsTypoedKey(t *testing.T) {
	v := readTOML(t, `
[server]
hsot = "0.0.0.0"
`)

	err := checkUnknownKeys(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "server.hsot")
}

func TestCheckUnknownKeys_RejectsUnknownTopLevelKey(t *testing.T) {
	v := readTOML(t, `
max_tokens_per_request = 4096
`)

	err := checkUnknownKeys(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_tokens_per_request")
}

func TestCheckUnknownKeys_RejectsUnknownProviderKey(t *testing.T) {
	v := readTOML(t, `
[providers.openai]
api_key = "sk-test"
organization_id = "org-123"
`)

	err := checkUnknownKeys(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "providers.openai.organization_id")
}
