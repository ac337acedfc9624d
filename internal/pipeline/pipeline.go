// Package pipeline implements the request pipeline: the single path every
// chat request travels from candidate resolution through rate limiting,
// circuit-breaker admission, adapter dispatch, and audit logging.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coreforge/llm-gateway/internal/audit"
	"github.com/coreforge/llm-gateway/internal/metrics"
	"github.com/coreforge/llm-gateway/internal/pricing"
	"github.com/coreforge/llm-gateway/internal/providers"
	"github.com/coreforge/llm-gateway/internal/qos"
	"github.com/coreforge/llm-gateway/internal/ratelimit"
	"github.com/coreforge/llm-gateway/internal/registry"
	"github.com/coreforge/llm-gateway/internal/routing"
)

// autoProvider is the sentinel provider name that triggers multi-provider
// routing instead of a single concrete candidate.
const autoProvider = "auto"

// Config holds the routing policy the pipeline applies to every request.
type Config struct {
	// Strategy is the default ranking strategy for "auto" requests.
	Strategy routing.Strategy
	// AutoCandidates is the ordered list of provider names considered when
	// a request names the "auto" sentinel.
	AutoCandidates []string
	// Metrics is optional. When set, the pipeline records routing, rate
	// limit, breaker, QoS, and pricing metrics on it.
	Metrics *metrics.Registry
}

// Pipeline wires the routing engine, provider registry, rate limiter, QoS
// observatory, pricing registry, and audit logger into the single request
// path described by the gateway's core algorithm.
type Pipeline struct {
	cfg      Config
	routing  *routing.Engine
	registry *registry.Registry
	limiter  ratelimit.Limiter
	qos      *qos.Observatory
	pricing  *pricing.Registry
	audit    *audit.Logger
	log      *slog.Logger
}

// New returns a Pipeline. All dependencies are required except log, which
// defaults to slog.Default().
func New(
	cfg Config,
	routingEngine *routing.Engine,
	reg *registry.Registry,
	limiter ratelimit.Limiter,
	qosObs *qos.Observatory,
	pricingReg *pricing.Registry,
	auditLogger *audit.Logger,
	log *slog.Logger,
) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		routing:  routingEngine,
		registry: reg,
		limiter:  limiter,
		qos:      qosObs,
		pricing:  pricingReg,
		audit:    auditLogger,
		log:      log,
	}
}

// SendChat runs the full candidate-resolution → routing → fallback loop for
// a non-streaming chat request and returns the first successful response.
func (p *Pipeline) SendChat(ctx context.Context, req *providers.CoreRequest) (*providers.CoreResponse, error) {
	start := time.Now()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	p.audit.LogRequestReceived(ctx, req.ID, req.Provider, req.Model, len(req.Messages), req.ClientIP)

	if err := req.Validate(); err != nil {
		p.audit.LogRequestFailed(ctx, req.ID, "<none>", err.Error(), time.Since(start).Milliseconds(), audit.StatusFailed)
		return nil, newError(ErrInvalidRequest, "", err.Error(), err)
	}

	candidates := p.resolveCandidates(req)
	ranked := p.routing.SelectCandidates(candidates, p.strategy())
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordRoutingRanked(string(p.strategy()), len(ranked))
	}

	if len(ranked) == 0 {
		msg := "no candidates available for this request"
		p.audit.LogRequestFailed(ctx, req.ID, "<none>", msg, time.Since(start).Milliseconds(), audit.StatusFailed)
		return nil, newError(ErrAllProvidersFailed, "", msg, nil)
	}

	attempted := false
	lastProvider := "<none>"
	var lastErr error

	for _, c := range ranked {
		result, err := p.limiter.CheckLimit(ctx, c.Provider)
		if err != nil {
			p.log.WarnContext(ctx, "pipeline: rate limiter check failed, failing open",
				slog.String("provider", c.Provider), slog.String("error", err.Error()))
			result = ratelimit.Allowed
		}
		if result == ratelimit.Exceeded {
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.RecordRateLimit("exceeded")
			}
			lastProvider = c.Provider
			lastErr = newError(ErrRateLimited, c.Provider, "rate limit exceeded", nil)
			continue
		}
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.RecordRateLimit("allowed")
		}
		attempted = true

		if lastProvider != "<none>" && p.cfg.Metrics != nil {
			p.cfg.Metrics.RecordFailover(ranked[0].Provider, lastProvider, c.Provider, "previous candidate failed")
		}

		resp, err := p.attempt(ctx, req, c, start)
		if err != nil {
			var classified *Error
			if errors.As(err, &classified) && classified.Kind == ErrInternal {
				// Cancellation (or a deadline expiring mid-attempt, which acts
				// as cancellation): stop the fallback loop immediately.
				return nil, err
			}
			lastProvider = c.Provider
			lastErr = err
			continue
		}
		if lastProvider != "<none>" && p.cfg.Metrics != nil {
			p.cfg.Metrics.RecordFailoverSuccess(ranked[0].Provider, c.Provider)
		}
		return resp, nil
	}

	if !attempted {
		// Every ranked candidate was skipped by the rate limiter: surface
		// RateLimited directly rather than AllProvidersFailed.
		p.audit.LogRequestFailed(ctx, req.ID, lastProvider, "rate limit exceeded for every candidate", time.Since(start).Milliseconds(), audit.StatusRateLimited)
		return nil, newError(ErrRateLimited, lastProvider, "rate limit exceeded for every candidate", nil)
	}

	if p.cfg.Metrics != nil && len(ranked) > 0 {
		p.cfg.Metrics.RecordFailoverExhausted(ranked[0].Provider)
	}

	msg := "all candidates failed"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	p.audit.LogRequestFailed(ctx, req.ID, lastProvider, msg, time.Since(start).Milliseconds(), audit.StatusFailed)
	return nil, newError(ErrAllProvidersFailed, lastProvider, msg, lastErr)
}

// attempt dispatches a single candidate's adapter call, updating QoS and
// the breaker, and returns either a response (with Provider populated) or a
// classified *Error. Cancellation is surfaced as an ErrInternal wrapping
// context.Canceled/DeadlineExceeded so the caller can distinguish it from an
// ordinary per-candidate failure and skip the QoS/breaker update.
func (p *Pipeline) attempt(ctx context.Context, req *providers.CoreRequest, c routing.Candidate, requestStart time.Time) (*providers.CoreResponse, error) {
	candReq := *req
	candReq.Provider = c.Provider
	candReq.Model = c.Model

	adapter, ok := p.registry.GetProvider(c.Provider)
	if !ok {
		if p.cfg.Metrics != nil {
			if state, stateOK := p.registry.BreakerState(c.Provider); stateOK {
				p.cfg.Metrics.SetCircuitBreaker(c.Provider, int64(state))
				p.cfg.Metrics.RecordCircuitBreakerRejection(c.Provider, state.String())
			}
		}
		return nil, newError(ErrBreakerOpen, c.Provider, "circuit breaker open", nil)
	}

	attemptStart := time.Now()
	resp, err := adapter.Request(ctx, &candReq)
	duration := time.Since(attemptStart)

	if err != nil {
		if ctx.Err() != nil {
			p.audit.LogCancelled(ctx, req.ID, c.Provider, duration.Milliseconds())
			return nil, newError(ErrInternal, c.Provider, "request cancelled", ctx.Err())
		}

		p.qos.Observe(c.Provider, c.Model, duration, true)
		p.registry.ReportResult(c.Provider, false)
		classified := classifyUpstreamError(c.Provider, err)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.ObserveUpstreamAttempt(c.Provider, "chat", "error", duration)
			p.cfg.Metrics.RecordError(c.Provider, string(classified.Kind))
			if state, stateOK := p.registry.BreakerState(c.Provider); stateOK {
				p.cfg.Metrics.SetCircuitBreaker(c.Provider, int64(state))
			}
		}
		return nil, classified
	}

	p.qos.Observe(c.Provider, c.Model, duration, false)
	p.registry.ReportResult(c.Provider, true)

	resp.Provider = c.Provider
	if resp.RequestID == uuid.Nil {
		resp.RequestID = req.ID
	}

	cost := p.pricing.CalculateCost(c.Provider, c.Model, resp.Usage.Prompt, resp.Usage.Completion)
	event := audit.NewEventFromResponse(req.ID, req.WorkspaceID, resp, cost, time.Since(requestStart).Milliseconds(), req.ClientIP)
	p.audit.LogResponseSent(ctx, event)

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.ObserveUpstreamAttempt(c.Provider, "chat", "success", duration)
		p.cfg.Metrics.RecordCost(c.Provider, c.Model, cost)
		if snap, snapOK := p.qos.Snapshot(c.Provider, c.Model); snapOK {
			p.cfg.Metrics.SetQoSSnapshot(c.Provider, c.Model, snap.P95LatencyMs, snap.ErrorRate())
		}
		if state, stateOK := p.registry.BreakerState(c.Provider); stateOK {
			p.cfg.Metrics.SetCircuitBreaker(c.Provider, int64(state))
		}
	}

	return resp, nil
}

// resolveCandidates expands req into the list of (provider, model) pairs
// eligible to serve it: a single pair for a concrete provider, or the
// configured auto-candidate list when req.Provider is the "auto" sentinel.
func (p *Pipeline) resolveCandidates(req *providers.CoreRequest) []routing.Candidate {
	if req.Provider != autoProvider {
		return []routing.Candidate{{Provider: req.Provider, Model: req.Model}}
	}

	candidates := make([]routing.Candidate, 0, len(p.cfg.AutoCandidates))
	for _, name := range p.cfg.AutoCandidates {
		candidates = append(candidates, routing.Candidate{Provider: name, Model: req.Model})
	}
	return candidates
}

func (p *Pipeline) strategy() routing.Strategy {
	if p.cfg.Strategy == "" {
		return routing.LowestCost
	}
	return p.cfg.Strategy
}

// classifyUpstreamError maps an adapter error onto the error taxonomy using
// the StatusCoder interface adapters implement for structured upstream
// errors, falling back to a plain network classification.
func classifyUpstreamError(providerName string, err error) *Error {
	var sc providers.StatusCoder
	if errors.As(err, &sc) {
		return newError(ErrUpstreamHTTPStatus, providerName, err.Error(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrUpstreamTimeout, providerName, err.Error(), err)
	}
	return newError(ErrUpstreamNetwork, providerName, err.Error(), err)
}
