package secret

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// SchemeEnv is the scheme a bare handle defaults to. Registry documents
// name credentials by handle, never by literal value, so a handle without
// a scheme is an environment variable name.
const SchemeEnv = "env"

// Manager routes credential handles to providers based on their URI
// scheme.
type Manager struct {
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewManager creates a new secret manager.
func NewManager() *Manager {
	return &Manager{
		providers: make(map[string]Provider),
	}
}

// Register registers a provider for a specific scheme (e.g., "vault", "env").
func (m *Manager) Register(scheme string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[scheme] = provider
}

// Get resolves a handle by scheme. A handle without a scheme is treated
// as "env://<handle>".
func (m *Manager) Get(ctx context.Context, handle string) (string, error) {
	scheme := SchemeEnv
	path := handle
	if parts := strings.SplitN(handle, "://", 2); len(parts) == 2 {
		scheme = parts[0]
		path = parts[1]
	}

	m.mu.RLock()
	provider, ok := m.providers[scheme]
	m.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("no secret provider registered for scheme: %s", scheme)
	}

	return provider.Get(ctx, path)
}

// Close closes all registered providers.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []string
	for scheme, p := range m.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", scheme, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to close providers: %s", strings.Join(errs, "; "))
	}
	return nil
}
