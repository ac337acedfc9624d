// Package audit implements the compliance audit trail: every request the
// pipeline handles is logged structurally via slog and, for the outcomes
// that matter for billing/compliance, persisted through a pluggable Sink.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coreforge/llm-gateway/internal/providers"
)

// EventType is the closed set of audit event kinds.
type EventType string

const (
	EventRequestReceived EventType = "request_received"
	EventResponseSent    EventType = "response_sent"
	EventRequestFailed   EventType = "request_failed"
	EventSecurityEvent   EventType = "security_event"
	EventCancelled       EventType = "cancelled"
)

// Status is the terminal outcome of a request, recorded on Response/Failed
// events.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusFailed      Status = "failed"
	StatusRateLimited Status = "rate_limited"
	StatusTimeout     Status = "timeout"
	StatusCancelled   Status = "cancelled"
)

// Event is one row of the audit trail.
type Event struct {
	Timestamp        time.Time
	RequestID        uuid.UUID
	EventType        EventType
	WorkspaceID      string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD float64
	DurationMs       int64
	Status           Status
	ErrorMessage     string
	ClientIP         string
}

// Sink persists audit events durably. Persist failures are logged by the
// caller and never propagated back into the request path.
type Sink interface {
	Persist(ctx context.Context, event Event) error
}

// NullSink discards every event. It is the default when no durable sink is
// configured.
type NullSink struct{}

func (NullSink) Persist(ctx context.Context, event Event) error { return nil }

// FailureRecorder receives a counter increment whenever a Sink.Persist call
// fails. Satisfied by *metrics.Registry without importing it here.
type FailureRecorder interface {
	RecordAuditSinkFailure(sink string)
}

// Logger is the single entry point the pipeline calls to record audit
// events. Every call logs via slog; RequestFailed, ResponseSent and Cancelled
// also attempt to persist through the configured Sink, swallowing failures after
// logging them (a broken sink must never fail a request).
type Logger struct {
	log     *slog.Logger
	sink    Sink
	sinkTag string
	metrics FailureRecorder
}

// New returns a Logger writing to log and persisting through sink. A nil
// sink is replaced with NullSink.
func New(log *slog.Logger, sink Sink) *Logger {
	if log == nil {
		log = slog.Default()
	}
	sinkTag := "null"
	if sink == nil {
		sink = NullSink{}
	} else if _, ok := sink.(NullSink); !ok {
		sinkTag = "configured"
	}
	return &Logger{log: log, sink: sink, sinkTag: sinkTag}
}

// SetMetrics wires a failure recorder. Optional — a nil recorder (the
// zero value) disables the counter without affecting persistence.
func (l *Logger) SetMetrics(m FailureRecorder) {
	l.metrics = m
}

// LogRequestReceived records the start of a request. Never persisted — only
// terminal events (ResponseSent/RequestFailed/Cancelled) go to the sink.
func (l *Logger) LogRequestReceived(ctx context.Context, requestID uuid.UUID, provider, model string, messageCount int, clientIP string) {
	l.log.InfoContext(ctx, "audit: request received",
		slog.String("event", string(EventRequestReceived)),
		slog.String("request_id", requestID.String()),
		slog.String("provider", provider),
		slog.String("model", model),
		slog.Int("message_count", messageCount),
		slog.String("client_ip", clientIP),
	)
}

// LogResponseSent records a successful response, including token accounting
// and estimated cost, and persists the event.
func (l *Logger) LogResponseSent(ctx context.Context, event Event) {
	event.EventType = EventResponseSent
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	l.log.InfoContext(ctx, "audit: response sent",
		slog.String("event", string(event.EventType)),
		slog.String("request_id", event.RequestID.String()),
		slog.String("provider", event.Provider),
		slog.String("model", event.Model),
		slog.Int("prompt_tokens", event.PromptTokens),
		slog.Int("completion_tokens", event.CompletionTokens),
		slog.Int("total_tokens", event.TotalTokens),
		slog.Float64("cost_usd", event.EstimatedCostUSD),
		slog.Int64("duration_ms", event.DurationMs),
		slog.String("status", string(event.Status)),
	)

	l.persist(ctx, event)
}

// LogRequestFailed records a failed request (all candidates exhausted or
// rejected before dispatch) and persists the event. Cancellation is
// recorded by LogCancelled.
func (l *Logger) LogRequestFailed(ctx context.Context, requestID uuid.UUID, provider, errMsg string, durationMs int64, status Status) {
	event := Event{
		Timestamp:    time.Now().UTC(),
		RequestID:    requestID,
		EventType:    EventRequestFailed,
		Provider:     provider,
		Model:        "unknown",
		DurationMs:   durationMs,
		Status:       status,
		ErrorMessage: errMsg,
	}

	l.log.WarnContext(ctx, "audit: request failed",
		slog.String("event", string(event.EventType)),
		slog.String("request_id", requestID.String()),
		slog.String("provider", provider),
		slog.String("error", errMsg),
		slog.Int64("duration_ms", durationMs),
		slog.String("status", string(status)),
	)

	l.persist(ctx, event)
}

// LogCancelled records a request whose in-flight adapter attempt was
// cancelled by the caller. QoS and the breaker are deliberately left
// untouched by the caller — a cancellation is neither a success nor an
// upstream failure.
func (l *Logger) LogCancelled(ctx context.Context, requestID uuid.UUID, provider string, durationMs int64) {
	event := Event{
		Timestamp:  time.Now().UTC(),
		RequestID:  requestID,
		EventType:  EventCancelled,
		Provider:   provider,
		DurationMs: durationMs,
		Status:     StatusCancelled,
	}

	l.log.InfoContext(ctx, "audit: request cancelled",
		slog.String("event", string(event.EventType)),
		slog.String("request_id", requestID.String()),
		slog.String("provider", provider),
		slog.Int64("duration_ms", durationMs),
	)

	l.persist(ctx, event)
}

// LogSecurityEvent records a security-relevant occurrence (auth failure,
// suspicious payload, etc). Never persisted to the sink — these are
// operational signals, not billing records.
func (l *Logger) LogSecurityEvent(ctx context.Context, eventName, severity string) {
	l.log.WarnContext(ctx, "audit: security event",
		slog.String("event", string(EventSecurityEvent)),
		slog.String("name", eventName),
		slog.String("severity", severity),
	)
}

func (l *Logger) persist(ctx context.Context, event Event) {
	if err := l.sink.Persist(ctx, event); err != nil {
		if l.metrics != nil {
			l.metrics.RecordAuditSinkFailure(l.sinkTag)
		}
		l.log.WarnContext(ctx, "audit: failed to persist event",
			slog.String("event", string(event.EventType)),
			slog.String("request_id", event.RequestID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// NewEventFromResponse builds a ResponseSent Event from a completed request,
// using the pricing registry's cost as the sole source of cost — nothing in
// this package recomputes it, per the pipeline's single-source-of-truth
// invariant.
func NewEventFromResponse(requestID uuid.UUID, workspaceID string, resp *providers.CoreResponse, costUSD float64, durationMs int64, clientIP string) Event {
	return Event{
		Timestamp:        time.Now().UTC(),
		RequestID:        requestID,
		WorkspaceID:      workspaceID,
		Provider:         resp.Provider,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.Prompt,
		CompletionTokens: resp.Usage.Completion,
		TotalTokens:      resp.Usage.Total,
		EstimatedCostUSD: costUSD,
		DurationMs:       durationMs,
		Status:           StatusSuccess,
		ClientIP:         clientIP,
	}
}
