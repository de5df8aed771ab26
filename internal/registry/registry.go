// Package registry loads and serves the model registry document: the
// providers, model specs, and routing rules the gateway selects between.
// The document is parsed strictly (unknown keys are load errors), falls
// back to a built-in default when loading fails, and is hot-reloaded via
// atomic snapshot swaps so readers never lock.
package registry

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Tier bounds for reliability, cost, and speed.
const (
	TierMin = 1
	TierMax = 3
)

// Defaults applied to underspecified documents.
const (
	DefaultMaxContextTokens = 4096
	DefaultMaxOutputTokens  = 2048
	DefaultTier             = 2
	DefaultTimeoutSeconds   = 60
	DefaultRouteTimeoutMs   = 30000
)

// Document is the on-disk registry shape.
type Document struct {
	Providers map[string]ProviderSpec `yaml:"providers"`
	Models    []ModelSpec             `yaml:"models"`
	Routes    []RouteSpec             `yaml:"routes"`
}

// ProviderSpec describes one upstream endpoint. APIKeyEnv is a credential
// handle (bare env var name or scheme URI), never a literal key.
type ProviderSpec struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ModelSpec describes one model's capabilities and tiering. Instances are
// immutable once a snapshot is built.
type ModelSpec struct {
	ID                 string   `yaml:"id"`
	Provider           string   `yaml:"provider"`
	SupportsTools      bool     `yaml:"supports_tools"`
	SupportsVision     bool     `yaml:"supports_vision"`
	SupportsJSONSchema bool     `yaml:"supports_json_schema"`
	MaxContextTokens   int      `yaml:"max_context_tokens"`
	MaxOutputTokens    int      `yaml:"max_output_tokens"`
	ReliabilityTier    int      `yaml:"reliability_tier"`
	CostTier           int      `yaml:"cost_tier"`
	SpeedTier          int      `yaml:"speed_tier"`
	Tags               []string `yaml:"tags"`
}

// RouteSpec is one ordered routing rule.
type RouteSpec struct {
	Name           string    `yaml:"name"`
	When           Predicate `yaml:"when"`
	UseModel       string    `yaml:"use_model"`
	FallbackModels []string  `yaml:"fallback_models"`
	TimeoutMs      int       `yaml:"timeout_ms"`
}

// Predicate is a closed sum: exactly one of always, any (OR), all (AND).
type Predicate struct {
	Always bool     `yaml:"always"`
	Any    []Clause `yaml:"any"`
	All    []Clause `yaml:"all"`
}

// Clause is one condition group. Every set field must hold for the clause
// to match. The field set is closed: strict parsing rejects unknown keys
// at load time instead of silently never matching.
type Clause struct {
	HasCodeBlock           *bool   `yaml:"has_code_block"`
	HasAttachments         *bool   `yaml:"has_attachments"`
	RAGEnabled             *bool   `yaml:"rag_enabled"`
	ToolsEnabled           *bool   `yaml:"tools_enabled"`
	ResponseFormatRequired *string `yaml:"response_format_required"`
	ContextEstTokensGT     *int    `yaml:"context_est_tokens_gt"`
	ContainsRegex          *string `yaml:"contains_regex"`

	pattern *regexp.Regexp
}

// IsEmpty reports whether no condition is set.
func (c *Clause) IsEmpty() bool {
	return c.HasCodeBlock == nil && c.HasAttachments == nil && c.RAGEnabled == nil &&
		c.ToolsEnabled == nil && c.ResponseFormatRequired == nil &&
		c.ContextEstTokensGT == nil && c.ContainsRegex == nil
}

// Pattern returns the compiled case-insensitive regex for ContainsRegex.
// It is non-nil for every loaded clause that sets contains_regex.
func (c *Clause) Pattern() *regexp.Regexp {
	return c.pattern
}

func (c *Clause) compile() error {
	if c.ContainsRegex == nil {
		return nil
	}
	re, err := regexp.Compile("(?i)" + *c.ContainsRegex)
	if err != nil {
		return fmt.Errorf("contains_regex %q: %w", *c.ContainsRegex, err)
	}
	c.pattern = re
	return nil
}

// Load reads, parses, and validates a registry document from disk.
// The document is intentionally not env-expanded: credential fields hold
// handles, and regex clauses may legitimately contain '$'.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a registry document.
func Parse(data []byte) (*Snapshot, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	doc.applyDefaults()
	if err := doc.validate(); err != nil {
		return nil, fmt.Errorf("validate registry: %w", err)
	}

	return newSnapshot(&doc), nil
}

// Default returns the built-in registry used when no document can be
// loaded: a single OpenAI gpt-4 model behind an always-true default route.
func Default() *Snapshot {
	doc := &Document{
		Providers: map[string]ProviderSpec{
			"openai": {
				BaseURL:        "https://api.openai.com/v1",
				APIKeyEnv:      "OPENAI_API_KEY",
				TimeoutSeconds: DefaultTimeoutSeconds,
			},
		},
		Models: []ModelSpec{
			{
				ID:                 "gpt-4",
				Provider:           "openai",
				SupportsTools:      true,
				SupportsVision:     true,
				SupportsJSONSchema: true,
				MaxContextTokens:   128000,
				MaxOutputTokens:    4096,
				ReliabilityTier:    3,
				CostTier:           3,
				SpeedTier:          2,
				Tags:               []string{"general", "reliable"},
			},
		},
		Routes: []RouteSpec{
			{
				Name:      "default",
				When:      Predicate{Always: true},
				UseModel:  "gpt-4",
				TimeoutMs: DefaultRouteTimeoutMs,
			},
		},
	}
	// The built-in document is valid by construction.
	doc.applyDefaults()
	return newSnapshot(doc)
}

func (d *Document) applyDefaults() {
	for name, p := range d.Providers {
		if p.TimeoutSeconds == 0 {
			p.TimeoutSeconds = DefaultTimeoutSeconds
			d.Providers[name] = p
		}
	}
	for i := range d.Models {
		m := &d.Models[i]
		if m.MaxContextTokens == 0 {
			m.MaxContextTokens = DefaultMaxContextTokens
		}
		if m.MaxOutputTokens == 0 {
			m.MaxOutputTokens = DefaultMaxOutputTokens
		}
		if m.ReliabilityTier == 0 {
			m.ReliabilityTier = DefaultTier
		}
		if m.CostTier == 0 {
			m.CostTier = DefaultTier
		}
		if m.SpeedTier == 0 {
			m.SpeedTier = DefaultTier
		}
		if m.Tags == nil {
			m.Tags = []string{}
		}
	}
	for i := range d.Routes {
		if d.Routes[i].TimeoutMs == 0 {
			d.Routes[i].TimeoutMs = DefaultRouteTimeoutMs
		}
	}
}

func (d *Document) validate() error {
	if len(d.Models) == 0 {
		return fmt.Errorf("at least one model is required")
	}

	for name, p := range d.Providers {
		if name == "" {
			return fmt.Errorf("provider name cannot be empty")
		}
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required", name)
		}
		if p.TimeoutSeconds < 0 {
			return fmt.Errorf("provider %q: timeout_seconds cannot be negative", name)
		}
	}

	seen := make(map[string]struct{}, len(d.Models))
	for i := range d.Models {
		m := &d.Models[i]
		if m.ID == "" {
			return fmt.Errorf("models[%d]: id is required", i)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Provider == "" {
			return fmt.Errorf("model %q: provider is required", m.ID)
		}
		if _, ok := d.Providers[m.Provider]; !ok {
			return fmt.Errorf("model %q: unknown provider %q", m.ID, m.Provider)
		}
		for _, tier := range []struct {
			name  string
			value int
		}{
			{"reliability_tier", m.ReliabilityTier},
			{"cost_tier", m.CostTier},
			{"speed_tier", m.SpeedTier},
		} {
			if tier.value < TierMin || tier.value > TierMax {
				return fmt.Errorf("model %q: %s must be in [%d, %d]", m.ID, tier.name, TierMin, TierMax)
			}
		}
	}

	for i := range d.Routes {
		r := &d.Routes[i]
		if r.Name == "" {
			return fmt.Errorf("routes[%d]: name is required", i)
		}
		if r.UseModel == "" {
			return fmt.Errorf("route %q: use_model is required", r.Name)
		}
		if _, ok := seen[r.UseModel]; !ok {
			return fmt.Errorf("route %q: unknown model %q", r.Name, r.UseModel)
		}
		for _, fb := range r.FallbackModels {
			if _, ok := seen[fb]; !ok {
				return fmt.Errorf("route %q: unknown fallback model %q", r.Name, fb)
			}
		}
		if err := r.When.validate(); err != nil {
			return fmt.Errorf("route %q: %w", r.Name, err)
		}
	}

	return nil
}

func (p *Predicate) validate() error {
	set := 0
	if p.Always {
		set++
	}
	if len(p.Any) > 0 {
		set++
	}
	if len(p.All) > 0 {
		set++
	}
	if set == 0 {
		return fmt.Errorf("when: one of always, any, all is required")
	}
	if set > 1 {
		return fmt.Errorf("when: always, any, all are mutually exclusive")
	}

	for i := range p.Any {
		if err := p.Any[i].validateClause(); err != nil {
			return fmt.Errorf("any[%d]: %w", i, err)
		}
	}
	for i := range p.All {
		if err := p.All[i].validateClause(); err != nil {
			return fmt.Errorf("all[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *Clause) validateClause() error {
	if c.IsEmpty() {
		return fmt.Errorf("clause must set at least one condition")
	}
	if c.ContextEstTokensGT != nil && *c.ContextEstTokensGT < 0 {
		return fmt.Errorf("context_est_tokens_gt cannot be negative")
	}
	return c.compile()
}
