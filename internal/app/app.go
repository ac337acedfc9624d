// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra     — external connections (Redis when needed)
//  2. initProviders — LLM provider clients
//  3. initServices  — cache, metrics registry
//  4. initPipeline  — registry, rate limiter, QoS, pricing, audit, routing
//  5. initGateway   — proxy + management routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/coreforge/llm-gateway/internal/audit"
	npCache "github.com/coreforge/llm-gateway/internal/cache"
	"github.com/coreforge/llm-gateway/internal/config"
	"github.com/coreforge/llm-gateway/internal/logger"
	"github.com/coreforge/llm-gateway/internal/metrics"
	"github.com/coreforge/llm-gateway/internal/pipeline"
	"github.com/coreforge/llm-gateway/internal/providers"
	anthropicprov "github.com/coreforge/llm-gateway/internal/providers/anthropic"
	geminiprov "github.com/coreforge/llm-gateway/internal/providers/gemini"
	openaiprov "github.com/coreforge/llm-gateway/internal/providers/openai"
	openaicompatprov "github.com/coreforge/llm-gateway/internal/providers/openaicompat"
	"github.com/coreforge/llm-gateway/internal/proxy"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb *redis.Client

	reqLogger *logger.Logger
	memCache  *npCache.MemoryCache
	auditSink *audit.ClickHouseSink

	prom *metrics.Registry

	provs map[string]providers.Provider
	pipe  *pipeline.Pipeline
	mgmt  *proxy.ManagementRoutes
	gw    *proxy.Gateway
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"providers", a.initProviders},
		{"services", a.initServices},
		{"pipeline", a.initPipeline},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("cache_mode", a.cfg.Cache.Mode),
		slog.Int("providers", len(a.provs)),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.StartWithRoutes(addr, a.mgmt)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources, the Redis client last. Safe to call multiple
// times; calls are not synchronized with each other.
func (a *App) Close() {
	if a.reqLogger != nil {
		if err := a.reqLogger.Close(); err != nil {
			a.log.Error("logger close error", slog.String("error", err.Error()))
		}
		a.reqLogger = nil
	}
	if a.memCache != nil {
		a.memCache.Close()
		a.memCache = nil
	}
	if a.auditSink != nil {
		if err := a.auditSink.Close(); err != nil {
			a.log.Error("audit sink close error", slog.String("error", err.Error()))
		}
		a.auditSink = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
// Returns an error — callers decide whether to fatal or degrade.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redisPinger returns a zero-argument probe function suitable for the
// HealthChecker. Reuses the existing client — no new connections.
func redisPinger(ctx context.Context, rdb *redis.Client) func() bool {
	return func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err() == nil
	}
}

// openaiCompatBaseURLs holds the default upstream endpoint for each
// OpenAI-compatible provider in the roster, used when the operator hasn't
// overridden BaseURL in ProviderConfig.
var openaiCompatBaseURLs = map[string]string{
	"deepseek": "https://api.deepseek.com/v1",
	"groq":     "https://api.groq.com/openai/v1",
	"nvidia":   "https://integrate.api.nvidia.com/v1",
	"llamacpp": "http://localhost:8080/v1",
}

// buildProviders creates a provider map from the configured, enabled
// providers in the closed roster (openai, anthropic, gemini, deepseek, groq,
// nvidia, llamacpp).
func buildProviders(ctx context.Context, cfg *config.Config) map[string]providers.Provider {
	provs := make(map[string]providers.Provider)

	for _, name := range cfg.EnabledProviders() {
		pc := cfg.Providers[name]

		switch name {
		case "openai":
			var opts []openaiprov.Option
			if pc.BaseURL != "" {
				opts = append(opts, openaiprov.WithBaseURL(pc.BaseURL))
			}
			provs[name] = openaiprov.New(pc.APIKey, opts...)

		case "anthropic":
			var opts []anthropicprov.Option
			if pc.BaseURL != "" {
				opts = append(opts, anthropicprov.WithBaseURL(pc.BaseURL))
			}
			provs[name] = anthropicprov.New(pc.APIKey, opts...)

		case "gemini":
			var opts []geminiprov.Option
			if pc.BaseURL != "" {
				opts = append(opts, geminiprov.WithBaseURL(pc.BaseURL))
			}
			provs[name] = geminiprov.New(ctx, pc.APIKey, opts...)

		default:
			// deepseek, groq, nvidia, llamacpp all speak the OpenAI wire format.
			baseURL := pc.BaseURL
			if baseURL == "" {
				baseURL = openaiCompatBaseURLs[name]
			}
			provs[name] = openaicompatprov.New(name, pc.APIKey, baseURL)
		}
	}

	return provs
}
