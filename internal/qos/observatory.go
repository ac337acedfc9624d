// Package qos tracks streaming p95 latency and error rate per
// (provider, model) pair and signals anomalies as they're observed.
package qos

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WindowStats is a snapshot of the running stats for one (provider, model).
type WindowStats struct {
	SampleCount    int64
	TotalLatencyMs int64
	ErrorCount     int64
	P95LatencyMs   float64
}

// ErrorRate returns ErrorCount/SampleCount, or 0 if there are no samples yet.
func (w WindowStats) ErrorRate() float64 {
	if w.SampleCount == 0 {
		return 0
	}
	return float64(w.ErrorCount) / float64(w.SampleCount)
}

type entry struct {
	mu    sync.Mutex
	stats WindowStats
}

// Config bounds the anomaly predicates.
type Config struct {
	SLALatencyP95Ms float64
	MaxErrorRate    float64
}

// Observatory is a sharded map of per-key entries, each guarded by its own
// mutex so observations for different (provider, model) pairs never
// contend with each other.
type Observatory struct {
	cfg Config
	log *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an Observatory. Entries are created lazily on first Observe.
func New(cfg Config, log *slog.Logger) *Observatory {
	if log == nil {
		log = slog.Default()
	}
	return &Observatory{cfg: cfg, log: log, entries: make(map[string]*entry)}
}

func key(provider, model string) string {
	return provider + ":" + model
}

func (o *Observatory) entryFor(provider, model string) *entry {
	k := key(provider, model)

	o.mu.RLock()
	e, ok := o.entries[k]
	o.mu.RUnlock()
	if ok {
		return e
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[k]; ok {
		return e
	}
	e = &entry{}
	o.entries[k] = e
	return e
}

// Observe records one outcome for (provider, model) and updates the EWMA p95.
// It then runs the anomaly predicates against the updated stats, logging any
// that fire — this method never returns an error or panics on an anomaly.
func (o *Observatory) Observe(provider, model string, duration time.Duration, isError bool) {
	e := o.entryFor(provider, model)
	latencyMs := float64(duration.Milliseconds())

	e.mu.Lock()
	e.stats.SampleCount++
	e.stats.TotalLatencyMs += duration.Milliseconds()
	if isError {
		e.stats.ErrorCount++
	}

	switch {
	case e.stats.SampleCount == 1:
		e.stats.P95LatencyMs = latencyMs
	case latencyMs > e.stats.P95LatencyMs:
		e.stats.P95LatencyMs = e.stats.P95LatencyMs*0.9 + latencyMs*0.1
	default:
		e.stats.P95LatencyMs = e.stats.P95LatencyMs*0.99 + latencyMs*0.01
	}
	snapshot := e.stats
	e.mu.Unlock()

	o.checkAnomaly(provider, model, latencyMs, snapshot)
}

func (o *Observatory) checkAnomaly(provider, model string, latencyMs float64, s WindowStats) {
	attrs := []any{slog.String("provider", provider), slog.String("model", model)}

	if o.cfg.SLALatencyP95Ms > 0 && s.P95LatencyMs > o.cfg.SLALatencyP95Ms {
		o.log.Warn("qos: SLA breach", append(attrs, slog.Float64("p95_ms", s.P95LatencyMs))...)
	}
	if s.SampleCount > 10 && latencyMs > 3*s.P95LatencyMs {
		o.log.Warn("qos: latency anomaly", append(attrs, slog.Float64("latency_ms", latencyMs), slog.Float64("p95_ms", s.P95LatencyMs))...)
	}
	if o.cfg.MaxErrorRate > 0 && s.SampleCount > 10 && s.ErrorRate() > o.cfg.MaxErrorRate {
		o.log.Warn("qos: high error rate", append(attrs, slog.Float64("error_rate", s.ErrorRate()))...)
	}
}

// Snapshot returns the current stats for (provider, model), and whether any
// observations have been recorded for that key yet.
func (o *Observatory) Snapshot(provider, model string) (WindowStats, bool) {
	o.mu.RLock()
	e, ok := o.entries[key(provider, model)]
	o.mu.RUnlock()
	if !ok {
		return WindowStats{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats, true
}

// String implements fmt.Stringer for debugging/log attribution.
func (w WindowStats) String() string {
	return fmt.Sprintf("samples=%d errors=%d p95=%.1fms", w.SampleCount, w.ErrorCount, w.P95LatencyMs)
}
