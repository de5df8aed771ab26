package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `
providers:
  openai:
    base_url: "https://api.openai.com/v1"
    api_key_env: "OPENAI_API_KEY"
  deepseek:
    base_url: "https://api.deepseek.com/v1"
    api_key_env: "DEEPSEEK_API_KEY"
    timeout_seconds: 30
models:
  - id: gpt-4
    provider: openai
    supports_tools: true
    supports_vision: true
    supports_json_schema: true
    max_context_tokens: 128000
    max_output_tokens: 4096
    reliability_tier: 3
    cost_tier: 3
    speed_tier: 2
    tags: [general, reliable]
  - id: gpt-3.5-turbo
    provider: openai
    supports_tools: true
    max_context_tokens: 16000
    speed_tier: 3
    cost_tier: 1
    tags: [general, fast]
  - id: deepseek-coder
    provider: deepseek
    max_context_tokens: 16000
    speed_tier: 3
    cost_tier: 1
    tags: [coding]
routes:
  - name: coding
    when:
      any:
        - has_code_block: true
        - contains_regex: "refactor|unit test"
    use_model: deepseek-coder
    fallback_models: [gpt-3.5-turbo]
    timeout_ms: 45000
  - name: default
    when:
      always: true
    use_model: gpt-4
`

func TestParse_AppliesDefaults(t *testing.T) {
	snap, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	p, ok := snap.Provider("openai")
	require.True(t, ok)
	assert.Equal(t, DefaultTimeoutSeconds, p.TimeoutSeconds)

	p, ok = snap.Provider("deepseek")
	require.True(t, ok)
	assert.Equal(t, 30, p.TimeoutSeconds)

	m, ok := snap.Model("deepseek-coder")
	require.True(t, ok)
	assert.Equal(t, DefaultMaxOutputTokens, m.MaxOutputTokens)
	assert.Equal(t, DefaultTier, m.ReliabilityTier)
	assert.False(t, m.SupportsTools)

	routes := snap.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, 45000, routes[0].TimeoutMs)
	assert.Equal(t, DefaultRouteTimeoutMs, routes[1].TimeoutMs)
}

func TestParse_CompilesRegexCaseInsensitive(t *testing.T) {
	snap, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	clause := &snap.Routes()[0].When.Any[1]
	require.NotNil(t, clause.Pattern())
	assert.True(t, clause.Pattern().MatchString("please REFACTOR this"))
	assert.False(t, clause.Pattern().MatchString("please rewrite this"))
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "unknown predicate key",
			doc: `
providers:
  openai: {base_url: "https://x", api_key_env: "K"}
models:
  - {id: m1, provider: openai}
routes:
  - name: r
    when:
      any:
        - has_code_blocks: true
    use_model: m1
`,
			wantErr: "parse registry",
		},
		{
			name: "empty clause",
			doc: `
providers:
  openai: {base_url: "https://x", api_key_env: "K"}
models:
  - {id: m1, provider: openai}
routes:
  - name: r
    when:
      any:
        - {}
    use_model: m1
`,
			wantErr: "at least one condition",
		},
		{
			name: "predicate with any and all",
			doc: `
providers:
  openai: {base_url: "https://x", api_key_env: "K"}
models:
  - {id: m1, provider: openai}
routes:
  - name: r
    when:
      any: [{rag_enabled: true}]
      all: [{tools_enabled: true}]
    use_model: m1
`,
			wantErr: "mutually exclusive",
		},
		{
			name: "invalid regex",
			doc: `
providers:
  openai: {base_url: "https://x", api_key_env: "K"}
models:
  - {id: m1, provider: openai}
routes:
  - name: r
    when:
      any: [{contains_regex: "(unclosed"}]
    use_model: m1
`,
			wantErr: "contains_regex",
		},
		{
			name: "duplicate model id",
			doc: `
providers:
  openai: {base_url: "https://x", api_key_env: "K"}
models:
  - {id: m1, provider: openai}
  - {id: m1, provider: openai}
`,
			wantErr: "duplicate model id",
		},
		{
			name: "model references unknown provider",
			doc: `
providers:
  openai: {base_url: "https://x", api_key_env: "K"}
models:
  - {id: m1, provider: anthropic}
`,
			wantErr: "unknown provider",
		},
		{
			name: "route references unknown model",
			doc: `
providers:
  openai: {base_url: "https://x", api_key_env: "K"}
models:
  - {id: m1, provider: openai}
routes:
  - name: r
    when: {always: true}
    use_model: missing
`,
			wantErr: "unknown model",
		},
		{
			name: "route references unknown fallback",
			doc: `
providers:
  openai: {base_url: "https://x", api_key_env: "K"}
models:
  - {id: m1, provider: openai}
routes:
  - name: r
    when: {always: true}
    use_model: m1
    fallback_models: [missing]
`,
			wantErr: "unknown fallback model",
		},
		{
			name: "tier out of range",
			doc: `
providers:
  openai: {base_url: "https://x", api_key_env: "K"}
models:
  - {id: m1, provider: openai, speed_tier: 4}
`,
			wantErr: "speed_tier",
		},
		{
			name: "no models",
			doc: `
providers:
  openai: {base_url: "https://x", api_key_env: "K"}
models: []
`,
			wantErr: "at least one model",
		},
		{
			name: "provider without base_url",
			doc: `
providers:
  openai: {api_key_env: "K"}
models:
  - {id: m1, provider: openai}
`,
			wantErr: "base_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDefault(t *testing.T) {
	snap := Default()

	m, ok := snap.Model("gpt-4")
	require.True(t, ok)
	assert.True(t, m.SupportsTools)
	assert.True(t, m.SupportsJSONSchema)
	assert.Equal(t, 128000, m.MaxContextTokens)
	assert.Equal(t, []string{"general", "reliable"}, m.Tags)

	p, ok := snap.Provider("openai")
	require.True(t, ok)
	assert.Equal(t, "https://api.openai.com/v1", p.BaseURL)
	assert.Equal(t, "OPENAI_API_KEY", p.APIKeyEnv)

	routes := snap.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, "default", routes[0].Name)
	assert.True(t, routes[0].When.Always)
	assert.Equal(t, "gpt-4", routes[0].UseModel)
}

func TestSnapshotQueries(t *testing.T) {
	snap, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, 3, snap.ModelCount())
	assert.Equal(t, 2, snap.ProviderCount())

	ids := func(models []*ModelSpec) []string {
		out := make([]string, 0, len(models))
		for _, m := range models {
			out = append(out, m.ID)
		}
		return out
	}

	assert.Equal(t, []string{"gpt-4", "gpt-3.5-turbo", "deepseek-coder"}, ids(snap.Models()))
	assert.Equal(t, []string{"gpt-4", "gpt-3.5-turbo"}, ids(snap.ModelsByProvider("openai")))
	assert.Equal(t, []string{"deepseek-coder"}, ids(snap.ModelsByTag("coding")))
	assert.Empty(t, snap.ModelsByTag("nonexistent"))

	_, ok := snap.Model("missing")
	assert.False(t, ok)
}

func TestModelsByCapability(t *testing.T) {
	snap, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	ids := func(models []*ModelSpec) []string {
		out := make([]string, 0, len(models))
		for _, m := range models {
			out = append(out, m.ID)
		}
		return out
	}

	got := snap.ModelsByCapability(CapabilityQuery{RequireTools: true})
	assert.Equal(t, []string{"gpt-4", "gpt-3.5-turbo"}, ids(got))

	got = snap.ModelsByCapability(CapabilityQuery{RequireJSONSchema: true})
	assert.Equal(t, []string{"gpt-4"}, ids(got))

	// Context size boundary: exactly max passes, one above fails.
	got = snap.ModelsByCapability(CapabilityQuery{MinContextTokens: 16000})
	assert.Equal(t, []string{"gpt-4", "gpt-3.5-turbo", "deepseek-coder"}, ids(got))

	got = snap.ModelsByCapability(CapabilityQuery{MinContextTokens: 16001})
	assert.Equal(t, []string{"gpt-4"}, ids(got))
}
