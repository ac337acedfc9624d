// Package pricing maps (provider, model, token counts) to an estimated USD
// cost using a small in-process table loaded from configuration.
package pricing

import (
	"log/slog"
	"strings"
	"sync"
)

// Tier is one pricing rule. ModelPattern matches a model name exactly, or as
// a prefix when it ends in "*".
type Tier struct {
	Provider        string
	ModelPattern    string
	InputCostPer1M  float64
	OutputCostPer1M float64
	EffectiveDate   string
}

func (t Tier) matches(model string) bool {
	if strings.HasSuffix(t.ModelPattern, "*") {
		return strings.HasPrefix(model, strings.TrimSuffix(t.ModelPattern, "*"))
	}
	return t.ModelPattern == model
}

// Registry holds the current set of pricing tiers. Safe for concurrent use;
// LoadFromConfig performs an atomic bulk replace.
type Registry struct {
	mu    sync.RWMutex
	tiers []Tier
	log   *slog.Logger
}

// New returns an empty Registry. Call LoadFromConfig to populate it.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log}
}

// LoadFromConfig atomically replaces the tier set.
func (r *Registry) LoadFromConfig(tiers []Tier) {
	cp := make([]Tier, len(tiers))
	copy(cp, tiers)

	r.mu.Lock()
	r.tiers = cp
	r.mu.Unlock()
}

// CalculateCost returns the estimated USD cost for a request/response pair.
// The first tier matching (provider, model) exactly or by wildcard prefix
// wins; scanning stops there. No match returns 0.0 and logs a warning
// attributed to (provider, model).
func (r *Registry) CalculateCost(provider, model string, promptTokens, completionTokens int) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tiers {
		if t.Provider != provider {
			continue
		}
		if !t.matches(model) {
			continue
		}
		return (float64(promptTokens)/1e6)*t.InputCostPer1M + (float64(completionTokens)/1e6)*t.OutputCostPer1M
	}

	r.log.Warn("no pricing tier found", slog.String("provider", provider), slog.String("model", model))
	return 0.0
}
