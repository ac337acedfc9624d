// Package proxy is the HTTP front-end: it translates OpenAI-compatible wire
// requests into providers.CoreRequest values, delegates to the pipeline for
// routing/fallback/audit, and serializes the result back to the wire.
//
// Key design constraints:
//   - Translation only: routing, rate limiting, breaker admission, QoS, and
//     audit all live in internal/pipeline and its dependencies.
//   - Logger and cache are optional and nil-safe.
//   - All I/O uses context.Context so timeouts propagate correctly.
//   - Streaming responses are pass-through (SSE); they are never cached.
package proxy

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/coreforge/llm-gateway/internal/cache"
	"github.com/coreforge/llm-gateway/internal/metrics"
	"github.com/coreforge/llm-gateway/internal/pipeline"
	"github.com/coreforge/llm-gateway/internal/providers"
	"github.com/coreforge/llm-gateway/pkg/apierr"
)

const (
	xCacheHIT  = "HIT"
	xCacheMISS = "MISS"

	// defaultProvider is used when a request's model name is bare (no
	// "<provider>/" prefix) and doesn't match a known alias.
	defaultProvider = "openai"

	// autoProvider is the sentinel prefix that triggers multi-provider
	// routing (spec.md §6: the literal "auto/<model>").
	autoProvider = "auto"
)

// GatewayOptions holds optional tuning parameters for a Gateway. All fields
// have sensible defaults and can be omitted.
type GatewayOptions struct {
	// Logger is the structured logger used for request events.
	// Defaults to slog.Default() when nil.
	Logger *slog.Logger

	// AllowClientAPIKeys enables forwarding Authorization headers from clients
	// directly to upstream providers. When false, client headers are ignored and
	// only configured keys are used.
	AllowClientAPIKeys bool

	// Metrics enables Prometheus metrics collection. When nil, metrics are disabled.
	Metrics *metrics.Registry

	// CacheTTL controls the default TTL for cached responses. Default: 1h.
	CacheTTL time.Duration
}

// Gateway is the HTTP front-end — all dependencies are injected via the
// constructor so they can be replaced with mock doubles in unit tests.
type Gateway struct {
	pipe  *pipeline.Pipeline
	provs map[string]providers.Provider // used by /v1/models and embeddings
	cache cache.Cache
	health *HealthChecker
	baseCtx context.Context
	log     *slog.Logger
	metrics *metrics.Registry

	cacheTTL time.Duration

	cacheExclusions *cache.ExclusionList

	// CORS allowed origins. Empty slice means deny all; ["*"] means allow all.
	corsOrigins []string

	allowClientAPIKeys bool
}

// SetCORSOrigins configures the allowed CORS origins for the gateway.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// SetCacheExclusions injects the cache exclusion list.
// Requests whose model name matches any rule skip both cache GET and SET.
func (g *Gateway) SetCacheExclusions(el *cache.ExclusionList) {
	g.cacheExclusions = el
}

// NewGatewayWithOptions creates a fully configured Gateway. pipe performs
// routing/fallback/audit for chat requests; provs is consulted directly for
// /v1/models and /v1/embeddings, which sit outside the pipeline.
func NewGatewayWithOptions(
	baseCtx context.Context,
	pipe *pipeline.Pipeline,
	provs map[string]providers.Provider,
	c cache.Cache,
	cacheReady func() bool,
	opts GatewayOptions,
) *Gateway {
	if baseCtx == nil {
		panic("gateway: context must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}

	gw := &Gateway{
		pipe:               pipe,
		provs:              provs,
		cache:              c,
		baseCtx:            baseCtx,
		log:                log,
		cacheTTL:           cacheTTL,
		metrics:            opts.Metrics,
		allowClientAPIKeys: opts.AllowClientAPIKeys,
	}

	if len(provs) > 0 {
		gw.health = NewHealthChecker(baseCtx, provs, cacheReady, gw.metrics)
	}

	return gw
}

// ── Model-name parsing (spec.md §6) ─────────────────────────────────────────

// parseModel splits a wire model name of the form "<provider>/<model>" into
// its parts. A bare model name (no "/") resolves via providers.ModelAliases,
// falling back to defaultProvider. The literal "auto/<model>" prefix yields
// the autoProvider sentinel verbatim, to be expanded by the pipeline's
// routing engine.
func parseModel(raw string) (provider, model string) {
	if idx := strings.IndexByte(raw, '/'); idx >= 0 {
		prefix, rest := raw[:idx], raw[idx+1:]
		if prefix == autoProvider || isKnownProvider(prefix) {
			return prefix, rest
		}
		// Not a recognized provider prefix (e.g. "meta/llama-3.1-405b-instruct"
		// is itself a bare alias) — fall through to alias resolution on the
		// whole string.
	}
	if name, ok := providers.ModelAliases[raw]; ok {
		return name, raw
	}
	return defaultProvider, raw
}

func isKnownProvider(name string) bool {
	for _, n := range providers.DefaultFallbackOrder {
		if n == name {
			return true
		}
	}
	return false
}

// ── Chat/completions ─────────────────────────────────────────────────────────

type (
	inboundMessage struct {
		Role    string
		Content providers.MessageContent
	}

	// inboundContentPart mirrors the OpenAI wire shape for one element of a
	// multipart "content" array.
	inboundContentPart struct {
		Type     string               `json:"type"`
		Text     string               `json:"text,omitempty"`
		ImageURL *inboundImageURLPart `json:"image_url,omitempty"`
	}

	inboundImageURLPart struct {
		URL string `json:"url"`
	}

	inboundRequest struct {
		Model       string           `json:"model"`
		Messages    []inboundMessage `json:"messages"`
		Stream      bool             `json:"stream"`
		Temperature float64          `json:"temperature"`
		TopP        float64          `json:"top_p"`
		MaxTokens   int              `json:"max_tokens"`
		Stop        []string         `json:"stop"`
	}

	outboundUsage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}

	outboundMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	outboundChoice struct {
		Index        int             `json:"index"`
		Message      outboundMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	}

	outboundResponse struct {
		ID      string           `json:"id"`
		Object  string           `json:"object"`
		Created int64            `json:"created"`
		Model   string           `json:"model"`
		Choices []outboundChoice `json:"choices"`
		Usage   outboundUsage    `json:"usage"`
	}
)

// UnmarshalJSON accepts either a plain string (the common case) or an
// ordered array of {type: "text"|"image_url", ...} parts, matching the
// OpenAI-compatible wire format for multimodal messages.
func (m *inboundMessage) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Role = wire.Role

	if len(wire.Content) == 0 || string(wire.Content) == "null" {
		return nil
	}

	var text string
	if err := json.Unmarshal(wire.Content, &text); err == nil {
		m.Content = providers.TextContent(text)
		return nil
	}

	var parts []inboundContentPart
	if err := json.Unmarshal(wire.Content, &parts); err != nil {
		return fmt.Errorf("message content must be a string or an array of content parts: %w", err)
	}

	out := make([]providers.ContentPart, 0, len(parts))
	for _, p := range parts {
		if p.Type == "image_url" && p.ImageURL != nil {
			out = append(out, providers.ContentPart{Type: providers.ContentPartImage, ImageURL: p.ImageURL.URL})
			continue
		}
		out = append(out, providers.ContentPart{Type: providers.ContentPartText, Text: p.Text})
	}
	m.Content = providers.MessageContent{Parts: out}
	return nil
}

// dispatchChat is the core handler for /v1/chat/completions and /v1/completions
// (the latter synthesizes a single user message from the legacy "prompt" field).
func (g *Gateway) dispatchChat(ctx *fasthttp.RequestCtx, legacyCompletion bool) {
	start := time.Now()
	route := "chat_completions"
	if legacyCompletion {
		route = "completions"
	}
	reqBytes := len(ctx.PostBody())
	servedProvider := "unknown"
	inputTokens, outputTokens := 0, 0
	cached := false
	streaming := false
	respBytes := -1

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if g.metrics == nil {
			return
		}
		if streaming {
			return // finalised by the stream writer
		}
		g.metrics.DecInFlight()
		status := ctx.Response.StatusCode()
		dur := time.Since(start)
		if respBytes < 0 {
			respBytes = len(ctx.Response.Body())
		}
		g.metrics.ObserveHTTP(route, status, dur, reqBytes, respBytes)
		g.metrics.RecordRequest(servedProvider, status, dur.Milliseconds())
		g.metrics.AddTokens(servedProvider, route, inputTokens, outputTokens, cached)
	}()

	reqID, _ := ctx.UserValue("request_id").(string)
	clientKey, clientKeyID := g.extractClientAPIKey(ctx)

	var body inboundRequest
	if legacyCompletion {
		var legacy struct {
			Model       string   `json:"model"`
			Prompt      string   `json:"prompt"`
			Stream      bool     `json:"stream"`
			Temperature float64  `json:"temperature"`
			MaxTokens   int      `json:"max_tokens"`
			Stop        []string `json:"stop"`
		}
		if err := json.Unmarshal(ctx.PostBody(), &legacy); err != nil {
			apierr.WriteParam(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err.Error()),
				apierr.TypeInvalidRequest, "", apierr.CodeInvalidRequest)
			return
		}
		body = inboundRequest{
			Model:       legacy.Model,
			Messages:    []inboundMessage{{Role: "user", Content: providers.TextContent(legacy.Prompt)}},
			Stream:      legacy.Stream,
			Temperature: legacy.Temperature,
			MaxTokens:   legacy.MaxTokens,
			Stop:        legacy.Stop,
		}
	} else if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		apierr.WriteParam(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, "", apierr.CodeInvalidRequest)
		return
	}

	if body.Model == "" {
		apierr.WriteParam(ctx, fasthttp.StatusBadRequest, "field 'model' is required",
			apierr.TypeInvalidRequest, "model", apierr.CodeInvalidRequest)
		return
	}

	providerName, modelName := parseModel(body.Model)
	if override := string(ctx.Request.Header.Peek("X-Provider")); override != "" && !strings.Contains(body.Model, "/") {
		providerName = override
	}
	servedProvider = providerName

	msgs := make([]providers.Message, len(body.Messages))
	for i, m := range body.Messages {
		msgs[i] = providers.Message{Role: m.Role, Content: m.Content}
	}

	coreReq := &providers.CoreRequest{
		Provider:    providerName,
		Model:       modelName,
		Messages:    msgs,
		Stream:      body.Stream,
		Temperature: body.Temperature,
		TopP:        body.TopP,
		MaxTokens:   body.MaxTokens,
		Stop:        body.Stop,
		APIKey:      clientKey,
		APIKeyID:    clientKeyID,
		ClientIP:    ctx.RemoteIP().String(),
	}

	// Cache lookup — non-streaming only; skip excluded models.
	cacheEligible := !body.Stream && g.cache != nil && (g.cacheExclusions == nil || !g.cacheExclusions.Matches(modelName))
	if g.metrics != nil && !cacheEligible {
		g.metrics.CacheGetBypass()
	}
	if cacheEligible {
		cacheKey := buildCacheKey(coreReq)
		if cachedBody, ok := g.cache.Get(ctx, cacheKey); ok {
			cached = true
			respBytes = len(cachedBody)
			if g.metrics != nil {
				g.metrics.CacheGetHit()
			}
			ctx.Response.Header.Set("X-Cache", xCacheHIT)
			ctx.SetContentType("application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBody(cachedBody)

			var cu struct {
				Usage outboundUsage `json:"usage"`
			}
			if err := json.Unmarshal(cachedBody, &cu); err == nil {
				inputTokens = cu.Usage.PromptTokens
				outputTokens = cu.Usage.CompletionTokens
			}
			return
		}
		if g.metrics != nil {
			g.metrics.CacheGetMiss()
		}
	}

	provCtx := context.Context(ctx)

	if body.Stream {
		resp, err := g.pipe.SendChatStream(provCtx, coreReq)
		if err != nil {
			g.writePipelineError(ctx, reqID, err)
			return
		}
		servedProvider = resp.Provider
		streaming = true
		capturedStart, capturedReqBytes, capturedProvider := start, reqBytes, resp.Provider
		writeSSE(ctx, resp, func(outTok int) {
			if g.metrics != nil {
				dur := time.Since(capturedStart)
				g.metrics.ObserveHTTP(route, fasthttp.StatusOK, dur, capturedReqBytes, -1)
				g.metrics.RecordRequest(capturedProvider, fasthttp.StatusOK, dur.Milliseconds())
				g.metrics.AddTokens(capturedProvider, route, 0, outTok, false)
				g.metrics.DecInFlight()
			}
		})
		return
	}

	resp, err := g.pipe.SendChat(provCtx, coreReq)
	if err != nil {
		g.writePipelineError(ctx, reqID, err)
		return
	}
	servedProvider = resp.Provider

	out := outboundResponse{
		ID:      orDefault(resp.ID, reqID),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   body.Model,
		Choices: []outboundChoice{
			{
				Index:        0,
				Message:      outboundMessage{Role: "assistant", Content: resp.Content},
				FinishReason: "stop",
			},
		},
		Usage: outboundUsage{
			PromptTokens:     resp.Usage.Prompt,
			CompletionTokens: resp.Usage.Completion,
			TotalTokens:      resp.Usage.Total,
		},
	}

	respBody, err := json.Marshal(out)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"failed to serialize response", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	if cacheEligible {
		cacheKey := buildCacheKey(coreReq)
		if err := g.cache.Set(ctx, cacheKey, respBody, g.cacheTTL); err != nil {
			if g.metrics != nil {
				g.metrics.CacheSetError()
			}
		} else if g.metrics != nil {
			g.metrics.CacheSetOK()
		}
	}

	inputTokens = resp.Usage.Prompt
	outputTokens = resp.Usage.Completion

	ctx.Response.Header.Set("X-Cache", xCacheMISS)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(respBody)
	respBytes = len(respBody)
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// writePipelineError maps a pipeline error onto the HTTP error taxonomy.
func (g *Gateway) writePipelineError(ctx *fasthttp.RequestCtx, reqID string, err error) {
	var perr *pipeline.Error
	if errors.As(err, &perr) {
		g.log.WarnContext(ctx, "pipeline_error",
			slog.String("request_id", reqID),
			slog.String("kind", string(perr.Kind)),
			slog.String("error", perr.Error()),
		)
		apierr.WriteKind(ctx, perr)
		return
	}
	g.log.ErrorContext(ctx, "unclassified_error",
		slog.String("request_id", reqID), slog.String("error", err.Error()))
	apierr.Write(ctx, fasthttp.StatusInternalServerError,
		err.Error(), apierr.TypeServerError, apierr.CodeInternalError)
}

// writeSSE streams response chunks as Server-Sent Events. onComplete is
// called once the stream drains with an estimated output token count
// (≈ chars/4), enabling token accounting for streaming requests.
func writeSSE(ctx *fasthttp.RequestCtx, resp *providers.CoreResponse, onComplete func(outputTokens int)) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer

		var sb strings.Builder
		for chunk := range resp.Stream {
			sb.WriteString(chunk.Content)

			delta := map[string]any{
				"id":      "chatcmpl-" + resp.RequestID.String(),
				"object":  "chat.completion.chunk",
				"created": time.Now().Unix(),
				"choices": []map[string]any{
					{
						"index": 0,
						"delta": map[string]string{"content": chunk.Content},
						"finish_reason": func() any {
							if chunk.FinishReason != "" {
								return chunk.FinishReason
							}
							return nil
						}(),
					},
				},
			}
			data, _ := json.Marshal(delta)
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.Flush() //nolint:errcheck
		}

		fmt.Fprint(w, "data: [DONE]\n\n")
		w.Flush() //nolint:errcheck

		estimated := sb.Len() / 4
		if estimated == 0 {
			estimated = 1
		}
		if onComplete != nil {
			onComplete(estimated)
		}
	})
}

// buildCacheKey returns a deterministic SHA-256 cache key for the request.
// The provider name is included to prevent cross-provider key collisions
// when two providers share a model name.
func buildCacheKey(req *providers.CoreRequest) string {
	type msg struct {
		Role    string                   `json:"role"`
		Content providers.MessageContent `json:"content"`
	}
	msgs := make([]msg, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = msg{Role: m.Role, Content: m.Content}
	}
	data, _ := json.Marshal(struct {
		W    string `json:"w"`
		K    string `json:"k"`
		P    string `json:"p"`
		M    string `json:"m"`
		T    string `json:"t"`
		MT   int    `json:"mt"`
		Msgs []msg  `json:"msgs"`
	}{
		req.WorkspaceID,
		req.APIKeyID,
		req.Provider,
		req.Model,
		fmt.Sprintf("%.2f", req.Temperature),
		req.MaxTokens,
		msgs,
	})
	h := sha256.Sum256(data)
	return "cache:" + hex.EncodeToString(h[:])
}

// extractClientAPIKey returns the Authorization bearer token (if allowed and
// present) and a deterministic SHA-256 hash suitable for cache partitioning.
func (g *Gateway) extractClientAPIKey(ctx *fasthttp.RequestCtx) (token string, tokenID string) {
	if !g.allowClientAPIKeys {
		return "", ""
	}
	raw := strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization")))
	if raw == "" {
		return "", ""
	}
	token = parseBearerToken(raw)
	if token == "" {
		return "", ""
	}
	sum := sha256.Sum256([]byte(token))
	return token, hex.EncodeToString(sum[:])
}

func parseBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ── Embeddings (ambient, kept from the teacher; outside the pipeline) ───────

type (
	inboundEmbeddingRequest struct {
		Model          string          `json:"model"`
		Input          json.RawMessage `json:"input"`
		EncodingFormat string          `json:"encoding_format"`
	}

	outboundEmbeddingData struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}

	outboundEmbeddingUsage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	}

	outboundEmbeddingResponse struct {
		Object string                  `json:"object"`
		Data   []outboundEmbeddingData `json:"data"`
		Model  string                  `json:"model"`
		Usage  outboundEmbeddingUsage  `json:"usage"`
	}
)

// parseEmbeddingInput converts the raw JSON "input" field into []string.
// The OpenAI API accepts either a bare string or an array of strings.
func parseEmbeddingInput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("'input' is required")
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) == 0 {
			return nil, fmt.Errorf("'input' must not be empty")
		}
		return arr, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, fmt.Errorf("'input' must not be empty")
		}
		return []string{s}, nil
	}
	return nil, fmt.Errorf("'input' must be a string or array of strings")
}

// dispatchEmbeddings handles POST /v1/embeddings. Unlike chat completions,
// embeddings bypass the pipeline entirely: no fallback, rate limiting, or
// audit trail is defined for this ambient capability.
func (g *Gateway) dispatchEmbeddings(ctx *fasthttp.RequestCtx) {
	reqID, _ := ctx.UserValue("request_id").(string)
	clientKey, clientKeyID := g.extractClientAPIKey(ctx)

	var req inboundEmbeddingRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteParam(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, "", apierr.CodeInvalidRequest)
		return
	}
	if req.Model == "" {
		apierr.WriteParam(ctx, fasthttp.StatusBadRequest, "field 'model' is required",
			apierr.TypeInvalidRequest, "model", apierr.CodeInvalidRequest)
		return
	}

	inputs, err := parseEmbeddingInput(req.Input)
	if err != nil {
		apierr.WriteParam(ctx, fasthttp.StatusBadRequest, err.Error(), apierr.TypeInvalidRequest, "input", apierr.CodeInvalidRequest)
		return
	}

	providerName, ok := providers.EmbeddingModelAliases[req.Model]
	if !ok {
		providerName = defaultProvider
	}

	if len(g.provs) == 0 {
		apierr.Write(ctx, fasthttp.StatusBadGateway, "no providers configured", apierr.TypeProviderError, apierr.CodeProviderError)
		return
	}

	prov, ok := g.provs[providerName]
	if !ok {
		for _, p := range g.provs {
			prov = p
			break
		}
	}

	embedder, ok := prov.(providers.EmbeddingProvider)
	if !ok {
		apierr.WriteParam(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("provider %q does not support embeddings", prov.Name()),
			apierr.TypeInvalidRequest, "model", apierr.CodeInvalidRequest)
		return
	}

	provCtx, cancel := context.WithTimeout(ctx, providers.ProviderTimeout)
	defer cancel()

	embResp, err := embedder.Embed(provCtx, &providers.EmbeddingRequest{
		Input:     inputs,
		Model:     req.Model,
		RequestID: reqID,
		APIKey:    clientKey,
		APIKeyID:  clientKeyID,
	})
	if err != nil {
		g.writeUpstreamError(ctx, err)
		return
	}

	outData := make([]outboundEmbeddingData, len(embResp.Data))
	for i, d := range embResp.Data {
		outData[i] = outboundEmbeddingData{Object: "embedding", Index: d.Index, Embedding: d.Embedding}
	}

	out := outboundEmbeddingResponse{
		Object: "list",
		Data:   outData,
		Model:  embResp.Model,
		Usage: outboundEmbeddingUsage{
			PromptTokens: embResp.Usage.Prompt,
			TotalTokens:  embResp.Usage.Total,
		},
	}

	body, err := json.Marshal(out)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "failed to serialize response", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func (g *Gateway) writeUpstreamError(ctx *fasthttp.RequestCtx, err error) {
	var sc providers.StatusCoder
	if errors.As(err, &sc) {
		apierr.Write(ctx, sc.HTTPStatus(), err.Error(), apierr.TypeProviderError, apierr.CodeProviderError)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		apierr.WriteTimeout(ctx)
		return
	}
	apierr.Write(ctx, fasthttp.StatusBadGateway, err.Error(), apierr.TypeProviderError, apierr.CodeProviderError)
}

// ── GET /v1/models ───────────────────────────────────────────────────────────

type (
	modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}
	modelList struct {
		Object string       `json:"object"`
		Data   []modelEntry `json:"data"`
	}
)

func (g *Gateway) handleModels(ctx *fasthttp.RequestCtx) {
	created := time.Now().Unix()
	var entries []modelEntry
	for model, provider := range providers.ModelAliases {
		if _, ok := g.provs[provider]; !ok {
			continue
		}
		entries = append(entries, modelEntry{
			ID:      provider + "/" + model,
			Object:  "model",
			Created: created,
			OwnedBy: provider,
		})
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	body, _ := json.Marshal(modelList{Object: "list", Data: entries})
	ctx.SetBody(body)
}
