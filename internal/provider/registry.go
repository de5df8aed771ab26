package provider

import (
	"fmt"
	"sync"
)

// Factory builds an adapter from resolved connection settings.
type Factory func(cfg Config) (Adapter, error)

// DefaultFactoryName is the factory used for providers with no dedicated
// adapter. The openaicompat package registers itself under this name.
const DefaultFactoryName = "openaicompat"

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// Register installs a factory under a provider name. Adapter packages
// call this from init; a later Register for the same name wins, which
// lets embedders swap an implementation.
func Register(name string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = factory
}

// New builds an adapter for the named provider, falling back to the
// permissive OpenAI-compatible default when no dedicated factory exists.
func New(name string, cfg Config) (Adapter, error) {
	factoryMu.RLock()
	factory, ok := factories[name]
	if !ok {
		factory, ok = factories[DefaultFactoryName]
	}
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no adapter factory for provider %q and no default registered", name)
	}
	return factory(cfg)
}

// Registered reports whether a dedicated factory exists for the name.
func Registered(name string) bool {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	_, ok := factories[name]
	return ok
}
