package router

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/modelgate/modelgate/internal/registry"
)

// Route names synthesized by the router itself, as opposed to rule
// names from the registry document.
const (
	RouteUserOverride    = "user_override"
	RouteDefault         = "default"
	RouteFallbackNoMatch = "fallback_no_match"
)

// Timeouts for synthesized decisions, in milliseconds.
const (
	overrideTimeoutMs = 60000
	defaultTimeoutMs  = 30000
)

// maxSynthesizedFallbacks bounds chains the router builds itself.
const maxSynthesizedFallbacks = 3

// Decision is the routing outcome handed to the fallback executor.
type Decision struct {
	Primary   string   `json:"primary"`
	Fallbacks []string `json:"fallbacks"`
	RouteName string   `json:"route_name"`
	Reason    string   `json:"reason"`
	TimeoutMs int      `json:"timeout_ms"`
}

// Chain returns the ordered candidate list: primary first, then
// fallbacks.
func (d Decision) Chain() []string {
	return append([]string{d.Primary}, d.Fallbacks...)
}

// Timeout returns the per-attempt timeout as a duration.
func (d Decision) Timeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// Router evaluates routing rules against analyzed request contexts.
// Given identical snapshot, context, and override it always returns
// the same decision.
type Router struct {
	logger *slog.Logger
}

// New creates a router.
func New(logger *slog.Logger) *Router {
	return &Router{logger: logger.With("component", "router")}
}

// capabilityQuery translates the context's requirements for model
// validation. Vision is reserved: attachments do not yet require it.
func capabilityQuery(rctx *Context) registry.CapabilityQuery {
	return registry.CapabilityQuery{
		RequireTools:      rctx.ToolsEnabled,
		RequireJSONSchema: rctx.ResponseFormatRequired == "json_schema",
		MinContextTokens:  rctx.EstimatedTokens,
	}
}

// Route selects the primary model and fallback chain. Precedence: a
// capability-valid user override, then the document's rules in order,
// then tier-sorted default selection, and as a last resort the first
// registered model.
func (r *Router) Route(snap *registry.Snapshot, rctx *Context, override string) Decision {
	query := capabilityQuery(rctx)

	if override != "" {
		if model, ok := snap.Model(override); ok && model.Satisfies(query) {
			return Decision{
				Primary:   override,
				Fallbacks: r.synthesizeFallbacks(snap, query, override),
				RouteName: RouteUserOverride,
				Reason:    fmt.Sprintf("User selected %s", override),
				TimeoutMs: overrideTimeoutMs,
			}
		}
		r.logger.Warn("model override rejected, falling through to rules",
			"override", override,
		)
	}

	for i := range snap.Routes() {
		rule := &snap.Routes()[i]
		if !predicateMatches(&rule.When, rctx) {
			continue
		}
		model, ok := snap.Model(rule.UseModel)
		if !ok || !model.Satisfies(query) {
			continue
		}
		return Decision{
			Primary:   rule.UseModel,
			Fallbacks: filterFeasible(snap, query, rule.FallbackModels, rule.UseModel),
			RouteName: rule.Name,
			Reason:    buildReason(rule.Name, rctx),
			TimeoutMs: rule.TimeoutMs,
		}
	}

	if d, ok := r.defaultDecision(snap, query); ok {
		return d
	}

	// Nothing is capability-feasible; serve the first registered model
	// rather than nothing at all.
	first := snap.Models()[0]
	r.logger.Warn("no model meets the request's requirements, using first registered model",
		"model", first.ID,
		"estimated_tokens", rctx.EstimatedTokens,
		"tools_enabled", rctx.ToolsEnabled,
	)
	return Decision{
		Primary:   first.ID,
		RouteName: RouteFallbackNoMatch,
		Reason:    "No models meet all requirements",
		TimeoutMs: defaultTimeoutMs,
	}
}

// defaultDecision selects fast, cheap, reliable candidates when no rule
// matched.
func (r *Router) defaultDecision(snap *registry.Snapshot, query registry.CapabilityQuery) (Decision, bool) {
	candidates := snap.ModelsByCapability(query)
	if len(candidates) == 0 {
		return Decision{}, false
	}

	sorted := make([]*registry.ModelSpec, len(candidates))
	copy(sorted, candidates)
	// Stable: registry order breaks ties, keeping routing deterministic.
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SpeedTier != sorted[j].SpeedTier {
			return sorted[i].SpeedTier > sorted[j].SpeedTier
		}
		if sorted[i].CostTier != sorted[j].CostTier {
			return sorted[i].CostTier < sorted[j].CostTier
		}
		return sorted[i].ReliabilityTier > sorted[j].ReliabilityTier
	})

	fallbacks := make([]string, 0, maxSynthesizedFallbacks)
	for _, m := range sorted[1:] {
		if len(fallbacks) == maxSynthesizedFallbacks {
			break
		}
		fallbacks = append(fallbacks, m.ID)
	}

	return Decision{
		Primary:   sorted[0].ID,
		Fallbacks: fallbacks,
		RouteName: RouteDefault,
		Reason:    "Default routing: fast and cost-effective",
		TimeoutMs: defaultTimeoutMs,
	}, true
}

// synthesizeFallbacks builds a chain from scratch for override routing:
// every other feasible model, most reliable first.
func (r *Router) synthesizeFallbacks(snap *registry.Snapshot, query registry.CapabilityQuery, exclude string) []string {
	var candidates []*registry.ModelSpec
	for _, m := range snap.ModelsByCapability(query) {
		if m.ID != exclude {
			candidates = append(candidates, m)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ReliabilityTier != candidates[j].ReliabilityTier {
			return candidates[i].ReliabilityTier > candidates[j].ReliabilityTier
		}
		if candidates[i].SpeedTier != candidates[j].SpeedTier {
			return candidates[i].SpeedTier > candidates[j].SpeedTier
		}
		return candidates[i].CostTier < candidates[j].CostTier
	})

	fallbacks := make([]string, 0, maxSynthesizedFallbacks)
	for _, m := range candidates {
		if len(fallbacks) == maxSynthesizedFallbacks {
			break
		}
		fallbacks = append(fallbacks, m.ID)
	}
	return fallbacks
}

// filterFeasible drops declared fallbacks that fail capability
// validation or duplicate the primary.
func filterFeasible(snap *registry.Snapshot, query registry.CapabilityQuery, ids []string, primary string) []string {
	var out []string
	for _, id := range ids {
		if id == primary {
			continue
		}
		if m, ok := snap.Model(id); ok && m.Satisfies(query) {
			out = append(out, id)
		}
	}
	return out
}

// buildReason lists the signals that drove a rule match.
func buildReason(routeName string, rctx *Context) string {
	var signals []string
	if rctx.HasCodeBlock {
		signals = append(signals, "code blocks detected")
	}
	if rctx.RAGEnabled {
		signals = append(signals, "RAG enabled")
	}
	if rctx.ToolsEnabled {
		signals = append(signals, "tools required")
	}
	if rctx.ResponseFormatRequired != "" {
		signals = append(signals, fmt.Sprintf("%s format required", rctx.ResponseFormatRequired))
	}
	if rctx.EstimatedTokens > 12000 {
		signals = append(signals, fmt.Sprintf("long context (%d tokens)", rctx.EstimatedTokens))
	}

	if len(signals) == 0 {
		return fmt.Sprintf("Route '%s' matched", routeName)
	}
	return fmt.Sprintf("Route '%s': %s", routeName, strings.Join(signals, ", "))
}

// predicateMatches evaluates a route predicate against the context.
func predicateMatches(p *registry.Predicate, rctx *Context) bool {
	switch {
	case p.Always:
		return true
	case len(p.Any) > 0:
		for i := range p.Any {
			if clauseMatches(&p.Any[i], rctx) {
				return true
			}
		}
		return false
	case len(p.All) > 0:
		for i := range p.All {
			if !clauseMatches(&p.All[i], rctx) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// clauseMatches requires every set condition in the clause to hold.
func clauseMatches(c *registry.Clause, rctx *Context) bool {
	if c.HasCodeBlock != nil && *c.HasCodeBlock != rctx.HasCodeBlock {
		return false
	}
	if c.HasAttachments != nil && *c.HasAttachments != rctx.HasAttachments {
		return false
	}
	if c.RAGEnabled != nil && *c.RAGEnabled != rctx.RAGEnabled {
		return false
	}
	if c.ToolsEnabled != nil && *c.ToolsEnabled != rctx.ToolsEnabled {
		return false
	}
	if c.ResponseFormatRequired != nil && *c.ResponseFormatRequired != rctx.ResponseFormatRequired {
		return false
	}
	if c.ContextEstTokensGT != nil && rctx.EstimatedTokens <= *c.ContextEstTokensGT {
		return false
	}
	if c.ContainsRegex != nil && !c.Pattern().MatchString(rctx.LastUserMessage) {
		return false
	}
	return true
}
