package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreforge/llm-gateway/internal/audit"
	npCache "github.com/coreforge/llm-gateway/internal/cache"
	"github.com/coreforge/llm-gateway/internal/metrics"
	"github.com/coreforge/llm-gateway/internal/pipeline"
	"github.com/coreforge/llm-gateway/internal/pricing"
	"github.com/coreforge/llm-gateway/internal/proxy"
	"github.com/coreforge/llm-gateway/internal/qos"
	"github.com/coreforge/llm-gateway/internal/ratelimit"
	"github.com/coreforge/llm-gateway/internal/registry"
	"github.com/coreforge/llm-gateway/internal/routing"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_MODE=redis or RATE_LIMIT_BACKEND=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode == "redis" || a.cfg.RateLimit.Backend == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initProviders builds the LLM provider map. At least one provider must be
// configured; config.Load's validation checks for a key unless client API
// keys are allowed, so the empty-map case is checked again here.
func (a *App) initProviders(_ context.Context) error {
	a.provs = buildProviders(a.baseCtx, a.cfg)
	if len(a.provs) == 0 {
		return fmt.Errorf("no provider API keys configured")
	}

	names := make([]string, 0, len(a.provs))
	for n := range a.provs {
		names = append(names, n)
	}
	a.log.Info("providers loaded", slog.Any("providers", names))

	return nil
}

// initServices creates the cache backend and Prometheus metrics registry.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case "redis":
		// ExactCache wraps the already-connected Redis client.
		a.log.Info("cache backend: redis")

	case "memory":
		// MemoryCache — zero external dependencies, not shared across replicas.
		a.memCache = npCache.NewMemoryCache(ctx)
		a.log.Info("cache backend: memory (in-process)")

	case "none":
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	return nil
}

// initPipeline builds the routing engine, provider registry, rate limiter,
// QoS observatory, pricing registry, and audit logger, and wires them into
// the Pipeline that the Gateway delegates every chat request to.
func (a *App) initPipeline(_ context.Context) error {
	reg := registry.New()
	for name, p := range a.provs {
		reg.Register(name, p, a.cfg.BreakerConfig(name))
	}

	var limiter ratelimit.Limiter
	switch a.cfg.RateLimit.Backend {
	case "redis":
		limiter = ratelimit.NewRedisBucket(a.rdb)
	default:
		lb := ratelimit.NewLocalBucket()
		lb.ConfigureDefaults(a.baseCtx)
		limiter = lb
	}
	for name, pc := range a.cfg.Providers {
		if !pc.Enabled || pc.APIKey == "" || pc.RateLimitPerMinute <= 0 {
			continue
		}
		if err := limiter.ConfigureProvider(a.baseCtx, name, pc.RateLimitPerMinute, pc.RateLimitPerMinute); err != nil {
			return fmt.Errorf("rate limiter: configure %s: %w", name, err)
		}
	}

	qosObs := qos.New(qos.Config{
		SLALatencyP95Ms: a.cfg.QoS.SLALatencyP95Ms,
		MaxErrorRate:    a.cfg.QoS.MaxErrorRate,
	}, a.log)

	pricingReg := pricing.New(a.log)
	if len(a.cfg.Pricing.Tiers) > 0 {
		tiers := make([]pricing.Tier, 0, len(a.cfg.Pricing.Tiers))
		for _, t := range a.cfg.Pricing.Tiers {
			tiers = append(tiers, pricing.Tier{
				Provider:        t.Provider,
				ModelPattern:    t.ModelPattern,
				InputCostPer1M:  t.InputCostPer1M,
				OutputCostPer1M: t.OutputCostPer1M,
				EffectiveDate:   t.EffectiveDate,
			})
		}
		pricingReg.LoadFromConfig(tiers)
	}

	var sink audit.Sink = audit.NullSink{}
	if a.cfg.Audit.Backend == "clickhouse" {
		ch, err := audit.NewClickHouseSink(audit.ClickHouseConfig{
			Addr:     a.cfg.Audit.ClickHouseAddr,
			Database: a.cfg.Audit.ClickHouseDatabase,
			Username: a.cfg.Audit.ClickHouseUsername,
			Password: a.cfg.Audit.ClickHousePassword,
		})
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		a.auditSink = ch
		sink = ch
		a.log.Info("audit sink: clickhouse")
	} else {
		a.log.Info("audit sink: log only")
	}
	auditLogger := audit.New(a.log, sink)
	if a.prom != nil {
		auditLogger.SetMetrics(a.prom)
	}

	routingEngine := routing.New(pricingReg, qosObs)

	a.pipe = pipeline.New(
		pipeline.Config{
			Strategy:       a.cfg.Routing.DefaultStrategy,
			AutoCandidates: a.cfg.Routing.AutoCandidates,
			Metrics:        a.prom,
		},
		routingEngine,
		reg,
		limiter,
		qosObs,
		pricingReg,
		auditLogger,
		a.log,
	)

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	// ── Determine cache implementation ────────────────────────────────────────
	var cacheImpl npCache.Cache
	var cacheReady func() bool

	switch a.cfg.Cache.Mode {
	case "redis":
		cacheImpl = npCache.NewExactCacheFromClient(a.rdb)
		cacheReady = redisPinger(a.baseCtx, a.rdb)
	case "memory":
		cacheImpl = a.memCache
		cacheReady = func() bool { return true }
	case "none":
		// nil cache — gateway handles nil gracefully (no caching)
	}

	// ── Build the gateway ────────────────────────────────────────────────────
	opts := proxy.GatewayOptions{
		Logger:             a.log,
		CacheTTL:           a.cfg.Cache.TTL,
		Metrics:            a.prom,
		AllowClientAPIKeys: a.cfg.AllowClientAPIKeys,
	}

	gw := proxy.NewGatewayWithOptions(a.baseCtx, a.pipe, a.provs, cacheImpl, cacheReady, opts)

	// ── Optional subsystems ──────────────────────────────────────────────────

	// CORS.
	gw.SetCORSOrigins(a.cfg.CORSOrigins)

	// Cache exclusions.
	if len(a.cfg.Cache.ExcludeExact) > 0 || len(a.cfg.Cache.ExcludePatterns) > 0 {
		el, err := npCache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("cache exclusions: %w", err)
		}
		gw.SetCacheExclusions(el)
		a.log.Info("cache exclusions loaded", slog.Int("rules", el.Len()))
	}

	// ── Management routes ────────────────────────────────────────────────────
	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	a.gw = gw

	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
