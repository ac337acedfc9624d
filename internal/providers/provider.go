// Package providers defines the common interfaces and types used by all LLM
// provider adapters (OpenAI, Anthropic, Gemini, and the OpenAI-compatible
// family: DeepSeek, Groq, NVIDIA NIM, LlamaCpp).
//
// Each adapter lives in its own sub-package and implements the Provider
// interface. Providers that support vector embeddings additionally implement
// EmbeddingProvider.
package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type (
	// StreamChunk is a single token chunk delivered during a streaming response.
	StreamChunk struct {
		Content      string
		FinishReason string
	}

	// ContentPartType is a closed enum of the kinds of content a message part
	// can carry.
	ContentPartType string

	// ContentPart is one ordered piece of a multipart message. Exactly one of
	// Text or ImageURL is meaningful, selected by Type.
	ContentPart struct {
		Type ContentPartType
		Text string
		// ImageURL is either a plain http(s) URL or a "data:<mediatype>;base64,<data>" URI.
		ImageURL string
	}

	// MessageContent is the text-or-parts union every message's content
	// carries. A plain-text message sets Text and leaves Parts nil; a
	// multipart (text + image) message sets Parts and leaves Text empty.
	// Build one with TextContent rather than the literal, to keep that
	// invariant.
	MessageContent struct {
		Text  string
		Parts []ContentPart
	}

	// Message is a single turn in a conversation. Role is one of
	// system|user|assistant|function.
	Message struct {
		Role    string
		Content MessageContent
	}

	// Usage is token accounting for one response. Total is always
	// Prompt+Completion — construct via NewUsage rather than the literal so
	// the invariant can't drift.
	Usage struct {
		Prompt     int
		Completion int
		Total      int
	}

	// CoreRequest is the normalized, provider-agnostic request the pipeline
	// builds from the wire request and hands to an adapter. Parameters are
	// kept flat (not nested under a Params struct) the way the wire body
	// flattens them; Validate enforces the data-model invariants.
	CoreRequest struct {
		ID       uuid.UUID
		Provider string
		Model    string
		Messages []Message
		System   string

		MaxTokens   int
		Temperature float64
		TopP        float64
		TopK        int
		Stream      bool
		Stop        []string
		Extra       map[string]any

		// Ambient fields carried from the HTTP layer for cache/rate-limit/audit
		// attribution; not part of the spec data model proper.
		WorkspaceID string
		APIKey      string
		APIKeyID    string
		ClientIP    string
	}

	// FinishReason is a closed enum of why a choice stopped generating.
	FinishReason string

	// LogProbs carries per-token log probabilities, when the provider and
	// request ask for them.
	LogProbs struct {
		Tokens        []string
		TokenLogProbs []float64
		TopLogProbs   []map[string]float64
	}

	// Choice is one generated completion within a response.
	Choice struct {
		Index        int
		Message      Message
		FinishReason FinishReason
		LogProbs     *LogProbs
	}

	// RateLimitInfo has room for the token bucket's live state; nothing in
	// the gateway populates it, so Metadata.RateLimitInfo is always nil.
	RateLimitInfo struct {
		RemainingRequests int
		RemainingTokens   int
		ResetAt           time.Time
		Limit             int
	}

	// ResponseMetadata carries response-level bookkeeping distinct from the
	// generated content itself.
	ResponseMetadata struct {
		CreatedAt        time.Time
		ProcessingTimeMs int64
		Cached           bool
		RateLimitInfo    *RateLimitInfo
	}

	// CoreResponse is the normalized response an adapter returns, or nil
	// with Stream set for a streaming call. Exactly one of (Content/Usage)
	// or Stream is meaningful per response.
	CoreResponse struct {
		RequestID uuid.UUID
		ID        string
		Provider  string
		Model     string

		Content      string
		FinishReason FinishReason
		LogProbs     *LogProbs
		Usage        Usage
		Metadata     ResponseMetadata

		Stream <-chan StreamChunk // non-nil only for a streaming call.
	}

	// EmbeddingRequest — normalized embedding request.
	EmbeddingRequest struct {
		// Input is the list of texts to embed. Always at least one element.
		Input []string
		// Model is the provider-native model name (e.g. "text-embedding-3-small").
		Model       string
		WorkspaceID string
		APIKey      string
		APIKeyID    string
		RequestID   string
	}

	// EmbeddingData — a single embedding vector.
	EmbeddingData struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}

	// EmbeddingResponse — normalized embedding response.
	EmbeddingResponse struct {
		Model string
		Data  []EmbeddingData
		Usage Usage
	}
)

// Content part type enum values.
const (
	ContentPartText  ContentPartType = "text"
	ContentPartImage ContentPartType = "image_ref"
)

// TextContent builds a plain-text MessageContent, the common case.
func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// IsMultipart reports whether c carries ordered parts rather than plain text.
func (c MessageContent) IsMultipart() bool {
	return len(c.Parts) > 0
}

// AsText collapses c to plain text, concatenating the text parts and
// dropping any images. Adapters that only support plain text (or that need
// a system-prompt string) use this.
func (c MessageContent) AsText() string {
	if !c.IsMultipart() {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type == ContentPartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ParseDataURI splits a "data:<mediatype>;base64,<data>" URI into its media
// type and base64 payload. ok is false for anything else (e.g. a plain
// http(s) URL), which callers should pass through unchanged.
func ParseDataURI(raw string) (mediaType, data string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(raw, prefix) {
		return "", "", false
	}
	meta, payload, found := strings.Cut(raw[len(prefix):], ",")
	if !found {
		return "", "", false
	}
	mediaType, _, _ = strings.Cut(meta, ";")
	return mediaType, payload, true
}

// Finish reason enum values. Unknown is the zero value's sibling for
// providers that don't report one.
const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishFunctionCall  FinishReason = "function_call"
	FinishToolUse       FinishReason = "tool_use"
	FinishError         FinishReason = "error"
	FinishUnknown       FinishReason = "unknown"
)

// NewUsage builds a Usage with Total enforced as Prompt+Completion.
func NewUsage(prompt, completion int) Usage {
	return Usage{Prompt: prompt, Completion: completion, Total: prompt + completion}
}

// Choices wraps the response's single generated completion into the
// spec's ordered-choices shape. Returns nil for a streaming response.
func (r *CoreResponse) Choices() []Choice {
	if r.Stream != nil {
		return nil
	}
	fr := r.FinishReason
	if fr == "" {
		fr = FinishStop
	}
	return []Choice{{
		Index:        0,
		Message:      Message{Role: "assistant", Content: TextContent(r.Content)},
		FinishReason: fr,
		LogProbs:     r.LogProbs,
	}}
}

// Validate enforces the CoreRequest invariants from the data model:
// provider/model non-empty, at least one message, temperature and top_p
// within bounds, and max_tokens positive if set.
func (r *CoreRequest) Validate() error {
	if r.Provider == "" {
		return fmt.Errorf("provider must not be empty")
	}
	if r.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2], got %v", r.Temperature)
	}
	if r.TopP < 0 || r.TopP > 1 {
		return fmt.Errorf("top_p must be within [0, 1], got %v", r.TopP)
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be positive if set, got %d", r.MaxTokens)
	}
	return nil
}

// Provider — LLM provider adapter interface. A closed set of concrete
// variants implements this; no dynamic plugin loading.
type Provider interface {
	Name() string
	Request(ctx context.Context, req *CoreRequest) (*CoreResponse, error)
	HealthCheck(ctx context.Context) error
}

// EmbeddingProvider is an optional interface implemented by providers that
// support the embeddings API. Check with a type assertion before calling.
type EmbeddingProvider interface {
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)
}

// EmbeddingModelAliases maps embedding model names to provider names.
// Used by the HTTP layer to route POST /v1/embeddings requests.
var EmbeddingModelAliases = map[string]string{
	"text-embedding-3-small": "openai",
	"text-embedding-3-large": "openai",
	"text-embedding-ada-002": "openai",
	"text-embedding-004":     "gemini",
	"embedding-001":          "gemini",
}

// ModelAliases maps model names to provider names for the seven supported
// adapters. Used by the HTTP layer to resolve a bare model name when the
// request doesn't use the "<provider>/<model>" form.
var ModelAliases = map[string]string{
	// ─── OpenAI ───────────────────────────────────────────────────────────────
	"gpt-4":         "openai",
	"gpt-4o":        "openai",
	"gpt-4o-mini":   "openai",
	"gpt-4-turbo":   "openai",
	"gpt-3.5-turbo": "openai",
	"o1":            "openai",
	"o1-mini":       "openai",
	"o3":            "openai",
	"o3-mini":       "openai",
	"o4-mini":       "openai",
	"gpt-4.1":       "openai",
	"gpt-4.1-mini":  "openai",

	// ─── Anthropic ────────────────────────────────────────────────────────────
	"claude-3-5-sonnet":          "anthropic",
	"claude-3-5-sonnet-20241022": "anthropic",
	"claude-3-5-haiku":           "anthropic",
	"claude-3-opus":              "anthropic",
	"claude-3-haiku":             "anthropic",
	"claude-3-7-sonnet":          "anthropic",
	"claude-opus-4":              "anthropic",
	"claude-sonnet-4":            "anthropic",
	"claude-haiku-4":             "anthropic",

	// ─── Google AI Studio (Gemini) ────────────────────────────────────────────
	"gemini-1.5-pro":        "gemini",
	"gemini-1.5-flash":      "gemini",
	"gemini-2.0-flash":      "gemini",
	"gemini-2.0-flash-lite": "gemini",
	"gemini-2.5-pro":        "gemini",
	"gemini-2.5-flash":      "gemini",

	// ─── DeepSeek (OpenAI-wire-compatible) ────────────────────────────────────
	"deepseek-chat":     "deepseek",
	"deepseek-reasoner": "deepseek",

	// ─── Groq (OpenAI-wire-compatible) ────────────────────────────────────────
	"llama-3.3-70b-versatile": "groq",
	"llama-3.1-8b-instant":    "groq",
	"llama3-70b-8192":         "groq",
	"gemma2-9b-it":            "groq",

	// ─── NVIDIA NIM (OpenAI-wire-compatible) ──────────────────────────────────
	"nvidia/llama-3.1-nemotron-70b-instruct": "nvidia",
	"meta/llama-3.1-405b-instruct":           "nvidia",
	"meta/llama-3.1-70b-instruct":            "nvidia",

	// ─── LlamaCpp (local, OpenAI-wire-compatible server) ──────────────────────
	"llamacpp-local": "llamacpp",
}

// DefaultFallbackOrder lists the provider names the HTTP layer accepts as a
// "<provider>/" model prefix. "auto" requests rank the configured routing
// candidates instead.
var DefaultFallbackOrder = []string{
	"openai",
	"anthropic",
	"gemini",
	"deepseek",
	"groq",
	"nvidia",
	"llamacpp",
}

// ProviderTimeout is the default per-adapter HTTP timeout.
const ProviderTimeout = 30 * time.Second

// StatusCoder is implemented by provider errors that carry an HTTP status
// code from the upstream, used to classify retryability.
type StatusCoder interface {
	HTTPStatus() int
}
