package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coreforge/llm-gateway/internal/audit"
	"github.com/coreforge/llm-gateway/internal/providers"
	"github.com/coreforge/llm-gateway/internal/ratelimit"
	"github.com/coreforge/llm-gateway/internal/routing"
)

// SendChatStream runs candidate resolution and fallback exactly as SendChat
// through to the point an adapter is dispatched with Stream set. Once the
// first chunk has been received from that adapter, the call is committed:
// later stream errors are surfaced to the caller as-is, with no
// cross-provider fallback. A failure before any chunk arrives is treated as
// an ordinary per-candidate failure and falls back like the non-streaming
// path.
func (p *Pipeline) SendChatStream(ctx context.Context, req *providers.CoreRequest) (*providers.CoreResponse, error) {
	start := time.Now()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.Stream = true

	p.audit.LogRequestReceived(ctx, req.ID, req.Provider, req.Model, len(req.Messages), req.ClientIP)

	if err := req.Validate(); err != nil {
		p.audit.LogRequestFailed(ctx, req.ID, "<none>", err.Error(), time.Since(start).Milliseconds(), audit.StatusFailed)
		return nil, newError(ErrInvalidRequest, "", err.Error(), err)
	}

	candidates := p.resolveCandidates(req)
	ranked := p.routing.SelectCandidates(candidates, p.strategy())

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

		adapter, ok := p.registry.GetProvider(c.Provider)
		if !ok {
			if p.cfg.Metrics != nil {
				if state, stateOK := p.registry.BreakerState(c.Provider); stateOK {
					p.cfg.Metrics.SetCircuitBreaker(c.Provider, int64(state))
					p.cfg.Metrics.RecordCircuitBreakerRejection(c.Provider, state.String())
				}
			}
			lastProvider = c.Provider
			lastErr = newError(ErrBreakerOpen, c.Provider, "circuit breaker open", nil)
			continue
		}

		candReq := *req
		candReq.Provider = c.Provider
		candReq.Model = c.Model

		attemptStart := time.Now()
		resp, err := adapter.Request(ctx, &candReq)
		if err != nil {
			duration := time.Since(attemptStart)
			if ctx.Err() != nil {
				p.audit.LogCancelled(ctx, req.ID, c.Provider, duration.Milliseconds())
				return nil, newError(ErrInternal, c.Provider, "request cancelled", ctx.Err())
			}
			p.qos.Observe(c.Provider, c.Model, duration, true)
			p.registry.ReportResult(c.Provider, false)
			classified := classifyUpstreamError(c.Provider, err)
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.ObserveUpstreamAttempt(c.Provider, "chat_stream", "error", duration)
				p.cfg.Metrics.RecordError(c.Provider, string(classified.Kind))
			}
			lastProvider = c.Provider
			lastErr = classified
			continue
		}

		// The adapter call itself only ever reports transport-level failures;
		// every adapter surfaces an upstream stream failure asynchronously as
		// a FinishReason "error" chunk instead. Peek the first chunk before
		// committing so a pre-first-chunk upstream error still falls back
		// like the non-streaming path, per the documented contract above.
		firstChunk, chunkOK := <-resp.Stream
		if chunkOK && firstChunk.FinishReason == "error" {
			duration := time.Since(attemptStart)
			p.qos.Observe(c.Provider, c.Model, duration, true)
			p.registry.ReportResult(c.Provider, false)
			classified := classifyUpstreamError(c.Provider, fmt.Errorf("%s", firstChunk.Content))
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.ObserveUpstreamAttempt(c.Provider, "chat_stream", "error", duration)
				p.cfg.Metrics.RecordError(c.Provider, string(classified.Kind))
			}
			lastProvider = c.Provider
			lastErr = classified
			continue
		}

		// First chunk (if any) observed clean — commit this candidate. No
		// further fallback past this point.
		resp.Provider = c.Provider
		if resp.RequestID == uuid.Nil {
			resp.RequestID = req.ID
		}
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.ObserveUpstreamAttempt(c.Provider, "chat_stream", "committed", time.Since(attemptStart))
		}
		return p.wrapCommittedStream(req, c, resp, firstChunk, chunkOK, attemptStart), nil
	}

	if !attempted {
		p.audit.LogRequestFailed(ctx, req.ID, lastProvider, "rate limit exceeded for every candidate", time.Since(start).Milliseconds(), audit.StatusRateLimited)
		return nil, newError(ErrRateLimited, lastProvider, "rate limit exceeded for every candidate", nil)
	}

	msg := "all candidates failed"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	p.audit.LogRequestFailed(ctx, req.ID, lastProvider, msg, time.Since(start).Milliseconds(), audit.StatusFailed)
	return nil, newError(ErrAllProvidersFailed, lastProvider, msg, lastErr)
}

// wrapCommittedStream relays the adapter's chunk channel to the caller
// unmodified, recording one QoS observation and breaker report for the whole
// stream once it ends: is_error/success iff the stream terminated with (or
// without) an "error" finish reason. firstChunk/firstChunkOK is the chunk
// SendChatStream already read off upstream to check for a pre-first-chunk
// error; it's replayed to the caller before the rest of upstream.
func (p *Pipeline) wrapCommittedStream(req *providers.CoreRequest, c routing.Candidate, resp *providers.CoreResponse, firstChunk providers.StreamChunk, firstChunkOK bool, attemptStart time.Time) *providers.CoreResponse {
	upstream := resp.Stream
	out := make(chan providers.StreamChunk, 64)
	wrapped := *resp
	wrapped.Stream = out

	go func() {
		defer close(out)
		isError := false

		if firstChunkOK {
			if firstChunk.FinishReason == "error" {
				isError = true
			}
			out <- firstChunk
		}

		for chunk := range upstream {
			if chunk.FinishReason == "error" {
				isError = true
			}
			out <- chunk
		}
		duration := time.Since(attemptStart)
		p.qos.Observe(c.Provider, c.Model, duration, isError)
		p.registry.ReportResult(c.Provider, !isError)
		if p.cfg.Metrics != nil {
			if snap, snapOK := p.qos.Snapshot(c.Provider, c.Model); snapOK {
				p.cfg.Metrics.SetQoSSnapshot(c.Provider, c.Model, snap.P95LatencyMs, snap.ErrorRate())
			}
			if state, stateOK := p.registry.BreakerState(c.Provider); stateOK {
				p.cfg.Metrics.SetCircuitBreaker(c.Provider, int64(state))
			}
		}
	}()

	return &wrapped
}
