package proxy

import (
	"encoding/json"
	"testing"

	"github.com/coreforge/llm-gateway/internal/providers"
	"github.com/valyala/fasthttp"
)

// --- parseModel --------------------------------------------------------------

func TestParseModel_ProviderPrefixed(t *testing.T) {
	provider, model := parseModel("anthropic/claude-3-5-sonnet")
	if provider != "anthropic" || model != "claude-3-5-sonnet" {
		t.Errorf("got (%q, %q)", provider, model)
	}
}

func TestParseModel_BareAlias(t *testing.T) {
	provider, model := parseModel("gpt-4o")
	if provider != "openai" || model != "gpt-4o" {
		t.Errorf("got (%q, %q)", provider, model)
	}
}

func TestParseModel_AutoSentinel(t *testing.T) {
	provider, model := parseModel("auto/gpt-4o")
	if provider != autoProvider || model != "gpt-4o" {
		t.Errorf("got (%q, %q)", provider, model)
	}
}

func TestParseModel_UnknownBareFallsBackToDefault(t *testing.T) {
	provider, model := parseModel("some-custom-finetune")
	if provider != defaultProvider || model != "some-custom-finetune" {
		t.Errorf("got (%q, %q)", provider, model)
	}
}

func TestParseModel_NvidiaAliasContainsSlash(t *testing.T) {
	// NVIDIA's own model IDs contain a slash (e.g. "meta/llama-3.1-405b-instruct"),
	// so the provider-prefix parse must still recognize the leading "nvidia"
	// segment as the provider rather than splitting mid-alias.
	provider, model := parseModel("nvidia/llama-3.1-nemotron-70b-instruct")
	if provider != "nvidia" || model != "llama-3.1-nemotron-70b-instruct" {
		t.Errorf("got (%q, %q)", provider, model)
	}
}

func TestIsKnownProvider(t *testing.T) {
	if !isKnownProvider("openai") {
		t.Error("openai should be a known provider")
	}
	if isKnownProvider("not-a-provider") {
		t.Error("unexpected provider recognized")
	}
}

// --- buildCacheKey -------------------------------------------------------------

func TestBuildCacheKey_Deterministic(t *testing.T) {
	req := &providers.CoreRequest{
		Provider: "openai",
		Model:    "gpt-4o",
		Messages: []providers.Message{{Role: "user", Content: providers.TextContent("hi")}},
	}
	k1 := buildCacheKey(req)
	k2 := buildCacheKey(req)
	if k1 != k2 {
		t.Errorf("expected deterministic key, got %q vs %q", k1, k2)
	}
}

func TestBuildCacheKey_DiffersByProvider(t *testing.T) {
	base := providers.CoreRequest{
		Model:    "shared-model",
		Messages: []providers.Message{{Role: "user", Content: providers.TextContent("hi")}},
	}
	a := base
	a.Provider = "openai"
	b := base
	b.Provider = "anthropic"

	if buildCacheKey(&a) == buildCacheKey(&b) {
		t.Error("expected different cache keys for different providers")
	}
}

func TestBuildCacheKey_DiffersByMessageContent(t *testing.T) {
	a := &providers.CoreRequest{Provider: "openai", Model: "gpt-4o",
		Messages: []providers.Message{{Role: "user", Content: providers.TextContent("hello")}}}
	b := &providers.CoreRequest{Provider: "openai", Model: "gpt-4o",
		Messages: []providers.Message{{Role: "user", Content: providers.TextContent("goodbye")}}}

	if buildCacheKey(a) == buildCacheKey(b) {
		t.Error("expected different cache keys for different message content")
	}
}

// --- inboundMessage.UnmarshalJSON ----------------------------------------------

func TestInboundMessage_UnmarshalJSON_PlainString(t *testing.T) {
	var m inboundMessage
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hi there"}`), &m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Role != "user" {
		t.Errorf("expected role 'user', got %q", m.Role)
	}
	if m.Content.IsMultipart() {
		t.Error("expected plain-text content, got multipart")
	}
	if m.Content.AsText() != "hi there" {
		t.Errorf("expected text 'hi there', got %q", m.Content.AsText())
	}
}

func TestInboundMessage_UnmarshalJSON_MultipartParts(t *testing.T) {
	raw := `{
		"role": "user",
		"content": [
			{"type": "text", "text": "what's in this image?"},
			{"type": "image_url", "image_url": {"url": "https://example.com/cat.png"}}
		]
	}`
	var m inboundMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Content.IsMultipart() {
		t.Fatal("expected multipart content")
	}
	if len(m.Content.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(m.Content.Parts))
	}
	if m.Content.Parts[0].Type != providers.ContentPartText || m.Content.Parts[0].Text != "what's in this image?" {
		t.Errorf("unexpected first part: %+v", m.Content.Parts[0])
	}
	if m.Content.Parts[1].Type != providers.ContentPartImage || m.Content.Parts[1].ImageURL != "https://example.com/cat.png" {
		t.Errorf("unexpected second part: %+v", m.Content.Parts[1])
	}
}

func TestInboundMessage_UnmarshalJSON_RejectsInvalidContent(t *testing.T) {
	var m inboundMessage
	err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &m)
	if err == nil {
		t.Fatal("expected error for non-string, non-array content")
	}
}

// --- parseBearerToken ----------------------------------------------------------

func TestParseBearerToken_Valid(t *testing.T) {
	if got := parseBearerToken("Bearer sk-abc123"); got != "sk-abc123" {
		t.Errorf("got %q", got)
	}
}

func TestParseBearerToken_CaseInsensitiveScheme(t *testing.T) {
	if got := parseBearerToken("bearer sk-abc123"); got != "sk-abc123" {
		t.Errorf("got %q", got)
	}
}

func TestParseBearerToken_MissingScheme(t *testing.T) {
	if got := parseBearerToken("sk-abc123"); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestParseBearerToken_Empty(t *testing.T) {
	if got := parseBearerToken(""); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

// --- extractClientAPIKey ---------------------------------------------------------

func TestExtractClientAPIKey_DisabledByDefault(t *testing.T) {
	g := &Gateway{allowClientAPIKeys: false}
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Authorization", "Bearer sk-client-key")

	token, id := g.extractClientAPIKey(ctx)
	if token != "" || id != "" {
		t.Errorf("expected empty token/id when disabled, got (%q, %q)", token, id)
	}
}

func TestExtractClientAPIKey_EnabledHashesConsistently(t *testing.T) {
	g := &Gateway{allowClientAPIKeys: true}
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Authorization", "Bearer sk-client-key")

	token, id := g.extractClientAPIKey(ctx)
	if token != "sk-client-key" {
		t.Errorf("expected raw token, got %q", token)
	}
	if id == "" {
		t.Error("expected non-empty key id")
	}

	_, id2 := g.extractClientAPIKey(ctx)
	if id != id2 {
		t.Error("expected deterministic key id hash")
	}
}

// --- parseEmbeddingInput -----------------------------------------------------

func TestParseEmbeddingInput_String(t *testing.T) {
	raw := json.RawMessage(`"hello world"`)
	got, err := parseEmbeddingInput(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "hello world" {
		t.Errorf("got %v", got)
	}
}

func TestParseEmbeddingInput_Array(t *testing.T) {
	raw := json.RawMessage(`["a", "b", "c"]`)
	got, err := parseEmbeddingInput(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %v", got)
	}
}

func TestParseEmbeddingInput_Empty(t *testing.T) {
	if _, err := parseEmbeddingInput(nil); err == nil {
		t.Error("expected error for missing input")
	}
	if _, err := parseEmbeddingInput(json.RawMessage(`""`)); err == nil {
		t.Error("expected error for empty string input")
	}
	if _, err := parseEmbeddingInput(json.RawMessage(`[]`)); err == nil {
		t.Error("expected error for empty array input")
	}
}

func TestParseEmbeddingInput_InvalidType(t *testing.T) {
	if _, err := parseEmbeddingInput(json.RawMessage(`42`)); err == nil {
		t.Error("expected error for non-string/array input")
	}
}

// --- orDefault -----------------------------------------------------------------

func TestOrDefault(t *testing.T) {
	if got := orDefault("value", "fallback"); got != "value" {
		t.Errorf("got %q", got)
	}
	if got := orDefault("", "fallback"); got != "fallback" {
		t.Errorf("got %q", got)
	}
}

// --- handleModels --------------------------------------------------------------

func TestHandleModels_OnlyListsConfiguredProviders(t *testing.T) {
	g := &Gateway{
		provs: map[string]providers.Provider{
			"openai": &healthyProvider{name: "openai"},
		},
	}

	ctx := &fasthttp.RequestCtx{}
	g.handleModels(ctx)

	var out modelList
	if err := json.Unmarshal(ctx.Response.Body(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if out.Object != "list" {
		t.Errorf("expected object=list, got %q", out.Object)
	}
	for _, e := range out.Data {
		if e.OwnedBy != "openai" {
			t.Errorf("unexpected unconfigured provider in model list: %+v", e)
		}
	}
	if len(out.Data) == 0 {
		t.Error("expected at least one model entry for the configured provider")
	}
}
