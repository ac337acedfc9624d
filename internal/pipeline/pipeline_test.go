package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coreforge/llm-gateway/internal/audit"
	"github.com/coreforge/llm-gateway/internal/breaker"
	"github.com/coreforge/llm-gateway/internal/pricing"
	"github.com/coreforge/llm-gateway/internal/providers"
	"github.com/coreforge/llm-gateway/internal/qos"
	"github.com/coreforge/llm-gateway/internal/ratelimit"
	"github.com/coreforge/llm-gateway/internal/registry"
	"github.com/coreforge/llm-gateway/internal/routing"
)

// scriptedProvider returns a fixed response or error and counts calls.
type scriptedProvider struct {
	mu       sync.Mutex
	name     string
	calls    int
	response *providers.CoreResponse
	err      error
	block    <-chan struct{} // if set, Request waits on ctx.Done() instead
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) HealthCheck(ctx context.Context) error { return nil }

func (s *scriptedProvider) Request(ctx context.Context, req *providers.CoreRequest) (*providers.CoreResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.block != nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	resp := *s.response
	return &resp, nil
}

func (s *scriptedProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type upstream500 struct{ msg string }

func (e *upstream500) Error() string   { return e.msg }
func (e *upstream500) HTTPStatus() int { return 500 }

type harness struct {
	pipeline *Pipeline
	reg      *registry.Registry
	limiter  *ratelimit.LocalBucket
	pricing  *pricing.Registry
	qos      *qos.Observatory
	sink     *recordingSink
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Persist(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) recorded() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}

func newHarness(t *testing.T, cfg Config, cbCfg breaker.Config, adapters map[string]providers.Provider) *harness {
	t.Helper()

	reg := registry.New()
	for name, a := range adapters {
		reg.Register(name, a, cbCfg)
	}

	limiter := ratelimit.NewLocalBucket()
	ctx := context.Background()
	for name := range adapters {
		require.NoError(t, limiter.ConfigureProvider(ctx, name, 6000, 1000))
	}

	pricingReg := pricing.New(slog.Default())
	qosObs := qos.New(qos.Config{SLALatencyP95Ms: 1000, MaxErrorRate: 0.5}, slog.Default())
	routingEngine := routing.New(pricingReg, qosObs)
	sink := &recordingSink{}
	auditLogger := audit.New(slog.Default(), sink)

	p := New(cfg, routingEngine, reg, limiter, qosObs, pricingReg, auditLogger, slog.Default())

	return &harness{pipeline: p, reg: reg, limiter: limiter, pricing: pricingReg, qos: qosObs, sink: sink}
}

func TestSendChatFallbackSuccess(t *testing.T) {
	gemini := &scriptedProvider{name: "gemini", err: &upstream500{msg: "internal error"}}
	deepseek := &scriptedProvider{
		name: "deepseek",
		response: &providers.CoreResponse{
			Content: "Fallback successful!",
			Usage:   providers.NewUsage(10, 5),
		},
	}

	h := newHarness(t, Config{Strategy: routing.LowestCost}, breaker.Config{FailureThreshold: 5, SuccessThreshold: 1, Timeout: time.Hour},
		map[string]providers.Provider{"gemini": gemini, "deepseek": deepseek})

	h.pricing.LoadFromConfig([]pricing.Tier{
		{Provider: "gemini", ModelPattern: "*", InputCostPer1M: 0.1, OutputCostPer1M: 0.4},
		{Provider: "deepseek", ModelPattern: "*", InputCostPer1M: 0.27, OutputCostPer1M: 1.10},
	})

	req := &providers.CoreRequest{
		Provider: "auto",
		Model:    "chat-model",
		Messages: []providers.Message{{Role: "user", Content: providers.TextContent("hi")}},
	}
	h.pipeline.cfg.AutoCandidates = []string{"deepseek", "gemini"}

	resp, err := h.pipeline.SendChat(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "Fallback successful!", resp.Content)
	require.Equal(t, "deepseek", resp.Provider)

	require.Equal(t, 1, gemini.callCount())
	require.Equal(t, 1, deepseek.callCount())

	geminiStats, ok := h.qos.Snapshot("gemini", "chat-model")
	require.True(t, ok)
	require.EqualValues(t, 1, geminiStats.ErrorCount)

	deepseekStats, ok := h.qos.Snapshot("deepseek", "chat-model")
	require.True(t, ok)
	require.EqualValues(t, 0, deepseekStats.ErrorCount)

	geminiState, _ := h.reg.BreakerState("gemini")
	require.Equal(t, breaker.Closed, geminiState)

	events := h.sink.recorded()
	require.Len(t, events, 1)
	require.Equal(t, audit.EventResponseSent, events[0].EventType)
	require.Equal(t, "deepseek", events[0].Provider)
}

func TestSendChatAllRateLimitedSurfacesRateLimited(t *testing.T) {
	p1 := &scriptedProvider{name: "p1", response: &providers.CoreResponse{Content: "ok"}}
	p2 := &scriptedProvider{name: "p2", response: &providers.CoreResponse{Content: "ok"}}

	h := newHarness(t, Config{AutoCandidates: []string{"p1", "p2"}}, breaker.Config{},
		map[string]providers.Provider{"p1": p1, "p2": p2})

	ctx := context.Background()
	require.NoError(t, h.limiter.ConfigureProvider(ctx, "p1", 60, 1))
	require.NoError(t, h.limiter.ConfigureProvider(ctx, "p2", 60, 1))
	_, err := h.limiter.CheckLimit(ctx, "p1")
	require.NoError(t, err)
	_, err = h.limiter.CheckLimit(ctx, "p2")
	require.NoError(t, err)

	req := &providers.CoreRequest{
		Provider: "auto",
		Model:    "m",
		Messages: []providers.Message{{Role: "user", Content: providers.TextContent("hi")}},
	}

	resp, err := h.pipeline.SendChat(ctx, req)
	require.Nil(t, resp)
	require.Error(t, err)

	var pipeErr *Error
	require.ErrorAs(t, err, &pipeErr)
	require.Equal(t, ErrRateLimited, pipeErr.Kind)

	require.Equal(t, 0, p1.callCount())
	require.Equal(t, 0, p2.callCount())
}

func TestSendChatAllCandidatesFailReturnsAllProvidersFailed(t *testing.T) {
	p1 := &scriptedProvider{name: "p1", err: &upstream500{msg: "boom"}}

	h := newHarness(t, Config{}, breaker.Config{FailureThreshold: 5, SuccessThreshold: 1, Timeout: time.Hour},
		map[string]providers.Provider{"p1": p1})

	req := &providers.CoreRequest{
		Provider: "p1",
		Model:    "m",
		Messages: []providers.Message{{Role: "user", Content: providers.TextContent("hi")}},
	}

	resp, err := h.pipeline.SendChat(context.Background(), req)
	require.Nil(t, resp)

	var pipeErr *Error
	require.ErrorAs(t, err, &pipeErr)
	require.Equal(t, ErrAllProvidersFailed, pipeErr.Kind)
	require.Equal(t, 1, p1.callCount())
}

func TestSendChatCancellationSkipsQoSAndBreaker(t *testing.T) {
	block := make(chan struct{})
	p1 := &scriptedProvider{name: "p1", block: block}

	h := newHarness(t, Config{}, breaker.Config{FailureThreshold: 5, SuccessThreshold: 1, Timeout: time.Hour},
		map[string]providers.Provider{"p1": p1})

	req := &providers.CoreRequest{
		Provider: "p1",
		Model:    "m",
		Messages: []providers.Message{{Role: "user", Content: providers.TextContent("hi")}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	resp, err := h.pipeline.SendChat(ctx, req)
	require.Nil(t, resp)

	var pipeErr *Error
	require.ErrorAs(t, err, &pipeErr)
	require.True(t, errors.Is(pipeErr.Cause, context.Canceled))

	_, ok := h.qos.Snapshot("p1", "m")
	require.False(t, ok, "cancellation must not record a QoS observation")

	state, _ := h.reg.BreakerState("p1")
	require.Equal(t, breaker.Closed, state, "cancellation must not trip the breaker")

	events := h.sink.recorded()
	require.Len(t, events, 1)
	require.Equal(t, audit.EventCancelled, events[0].EventType)
}

func TestSendChatPricingAbsentRecordsZeroCost(t *testing.T) {
	p1 := &scriptedProvider{
		name: "deepseek",
		response: &providers.CoreResponse{
			Content: "hi there",
			Usage:   providers.NewUsage(100, 200),
		},
	}

	h := newHarness(t, Config{}, breaker.Config{FailureThreshold: 5, SuccessThreshold: 1, Timeout: time.Hour},
		map[string]providers.Provider{"deepseek": p1})

	req := &providers.CoreRequest{
		Provider: "deepseek",
		Model:    "deepseek-chat",
		Messages: []providers.Message{{Role: "user", Content: providers.TextContent("hi")}},
	}

	resp, err := h.pipeline.SendChat(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)

	events := h.sink.recorded()
	require.Len(t, events, 1)
	require.Equal(t, 0.0, events[0].EstimatedCostUSD)
}
