// Package ratelimit implements a per-provider token bucket: refill rate
// rpm/60 tokens/sec, capacity equal to the configured burst. The teacher's
// previous implementation here was a Redis sliding-window counter; a sliding
// window does not allow bursts up to a fixed capacity the way a token bucket
// does, so it has been replaced rather than reused.
package ratelimit

import "context"

// Result is the outcome of a CheckLimit call.
type Result int

const (
	Allowed Result = iota
	Exceeded
	NotConfigured
)

// Limiter admits or rejects a request for a named provider using a
// token-bucket quota. Implementations must be safe for concurrent use.
type Limiter interface {
	// ConfigureProvider seeds or updates a provider's bucket. Idempotent:
	// calling it again for the same provider resets rate/burst but does not
	// reset the current token count below the new capacity.
	ConfigureProvider(ctx context.Context, name string, rpm, burst int) error

	// CheckLimit consumes one token for name if available.
	CheckLimit(ctx context.Context, name string) (Result, error)

	// CheckWouldAllow reports whether a token is currently available without
	// consuming one.
	CheckWouldAllow(ctx context.Context, name string) (bool, error)
}

// DefaultLimits seeds well-known providers with documented per-minute quotas.
// Local/self-hosted providers (llamacpp) get a very large quota since there
// is no upstream rate limit to respect.
var DefaultLimits = map[string]struct{ RPM, Burst int }{
	"openai":    {RPM: 3500, Burst: 60},
	"anthropic": {RPM: 4000, Burst: 60},
	"gemini":    {RPM: 1000, Burst: 30},
	"deepseek":  {RPM: 3000, Burst: 60},
	"groq":      {RPM: 1800, Burst: 30},
	"nvidia":    {RPM: 1000, Burst: 30},
	"llamacpp":  {RPM: 1_000_000, Burst: 1_000_000},
}
