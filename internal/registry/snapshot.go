package registry

// Snapshot is an immutable view of one loaded registry document. All
// queries are read-only and safe for concurrent use; a reload produces a
// fresh snapshot rather than mutating this one, so in-flight requests
// keep the registry they started with.
type Snapshot struct {
	doc        *Document
	byID       map[string]*ModelSpec
	byProvider map[string][]*ModelSpec
	byTag      map[string][]*ModelSpec
	order      []*ModelSpec
}

func newSnapshot(doc *Document) *Snapshot {
	s := &Snapshot{
		doc:        doc,
		byID:       make(map[string]*ModelSpec, len(doc.Models)),
		byProvider: make(map[string][]*ModelSpec),
		byTag:      make(map[string][]*ModelSpec),
		order:      make([]*ModelSpec, 0, len(doc.Models)),
	}
	for i := range doc.Models {
		m := &doc.Models[i]
		s.byID[m.ID] = m
		s.byProvider[m.Provider] = append(s.byProvider[m.Provider], m)
		for _, tag := range m.Tags {
			s.byTag[tag] = append(s.byTag[tag], m)
		}
		s.order = append(s.order, m)
	}
	return s
}

// Model returns the spec for the given id.
func (s *Snapshot) Model(id string) (*ModelSpec, bool) {
	m, ok := s.byID[id]
	return m, ok
}

// Models returns all models in document order.
func (s *Snapshot) Models() []*ModelSpec {
	return s.order
}

// ModelsByProvider returns the models served by one provider.
func (s *Snapshot) ModelsByProvider(provider string) []*ModelSpec {
	return s.byProvider[provider]
}

// ModelsByTag returns the models carrying a tag.
func (s *Snapshot) ModelsByTag(tag string) []*ModelSpec {
	return s.byTag[tag]
}

// CapabilityQuery filters models by hard requirements.
type CapabilityQuery struct {
	RequireTools      bool
	RequireVision     bool
	RequireJSONSchema bool
	MinContextTokens  int
}

// Satisfies reports whether the model meets every requirement in the
// query. Context size passes on equality.
func (m *ModelSpec) Satisfies(q CapabilityQuery) bool {
	if q.RequireTools && !m.SupportsTools {
		return false
	}
	if q.RequireVision && !m.SupportsVision {
		return false
	}
	if q.RequireJSONSchema && !m.SupportsJSONSchema {
		return false
	}
	if q.MinContextTokens > m.MaxContextTokens {
		return false
	}
	return true
}

// ModelsByCapability returns the models satisfying the query, in document
// order.
func (s *Snapshot) ModelsByCapability(q CapabilityQuery) []*ModelSpec {
	var out []*ModelSpec
	for _, m := range s.order {
		if m.Satisfies(q) {
			out = append(out, m)
		}
	}
	return out
}

// Provider returns the provider spec by name.
func (s *Snapshot) Provider(name string) (ProviderSpec, bool) {
	p, ok := s.doc.Providers[name]
	return p, ok
}

// Providers returns the provider map. Callers must treat it as read-only.
func (s *Snapshot) Providers() map[string]ProviderSpec {
	return s.doc.Providers
}

// Routes returns the ordered routing rules.
func (s *Snapshot) Routes() []RouteSpec {
	return s.doc.Routes
}

// ModelCount returns how many models are registered.
func (s *Snapshot) ModelCount() int {
	return len(s.order)
}

// ProviderCount returns how many providers are configured.
func (s *Snapshot) ProviderCount() int {
	return len(s.doc.Providers)
}
