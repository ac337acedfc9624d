// Package routing implements the smart-routing engine: given a set of
// (provider, model) candidates, it drops candidates the QoS observatory
// considers unreliable and ranks the rest according to the caller's
// chosen strategy.
package routing

import (
	"math"
	"sort"

	"github.com/coreforge/llm-gateway/internal/pricing"
	"github.com/coreforge/llm-gateway/internal/qos"
)

// Strategy selects the dimension candidates are ranked by.
type Strategy string

const (
	LowestCost         Strategy = "lowest_cost"
	LowestLatency      Strategy = "lowest_latency"
	HighestReliability Strategy = "highest_reliability"
)

// unreliableErrorRate is the error-rate threshold at or above which a candidate is
// dropped before ranking, regardless of strategy.
const unreliableErrorRate = 0.5

// syntheticTokens is the token count used to compare candidates under
// LowestCost: only relative ordering matters, so any fixed size works.
const syntheticTokens = 1000

// Candidate is a (provider, model) pair eligible to serve a request.
type Candidate struct {
	Provider string
	Model    string
}

// Engine ranks candidates using live pricing and QoS data.
type Engine struct {
	pricing *pricing.Registry
	qos     *qos.Observatory
}

// New returns an Engine backed by the given pricing registry and QoS
// observatory.
func New(p *pricing.Registry, q *qos.Observatory) *Engine {
	return &Engine{pricing: p, qos: q}
}

// SelectCandidates filters out candidates whose observed error rate is at or
// above unreliableErrorRate, then stably sorts the remainder per strategy.
// A candidate with no QoS history yet is never filtered; it sorts last under
// LowestLatency and first under HighestReliability.
func (e *Engine) SelectCandidates(candidates []Candidate, strategy Strategy) []Candidate {
	ranked := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if stats, ok := e.qos.Snapshot(c.Provider, c.Model); ok {
			if stats.ErrorRate() >= unreliableErrorRate {
				continue
			}
		}
		ranked = append(ranked, c)
	}

	less := e.lessFunc(strategy)
	sort.SliceStable(ranked, func(i, j int) bool {
		return less(ranked[i], ranked[j])
	})
	return ranked
}

func (e *Engine) lessFunc(strategy Strategy) func(a, b Candidate) bool {
	switch strategy {
	case LowestLatency:
		return func(a, b Candidate) bool {
			return e.latencyOf(a) < e.latencyOf(b)
		}
	case HighestReliability:
		return func(a, b Candidate) bool {
			return e.errorRateOf(a) < e.errorRateOf(b)
		}
	case LowestCost:
		fallthrough
	default:
		return func(a, b Candidate) bool {
			return e.costOf(a) < e.costOf(b)
		}
	}
}

func (e *Engine) costOf(c Candidate) float64 {
	return e.pricing.CalculateCost(c.Provider, c.Model, syntheticTokens, syntheticTokens)
}

// latencyOf returns a candidate's p95 latency, or +Inf when it has no
// history yet so unproven candidates sort last under LowestLatency.
func (e *Engine) latencyOf(c Candidate) float64 {
	stats, ok := e.qos.Snapshot(c.Provider, c.Model)
	if !ok {
		return math.Inf(1)
	}
	return float64(stats.P95LatencyMs)
}

// errorRateOf returns a candidate's observed error rate, or 0.0 when it has
// no history yet so unproven candidates sort first under HighestReliability.
func (e *Engine) errorRateOf(c Candidate) float64 {
	stats, ok := e.qos.Snapshot(c.Provider, c.Model)
	if !ok {
		return 0.0
	}
	return stats.ErrorRate()
}
