package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/modelgate/modelgate/internal/secret"
)

// Credentials is a resolved (api key, base URL) pair for one provider.
type Credentials struct {
	APIKey  string
	BaseURL string
}

// OverrideFunc supplies credentials for a provider from outside the
// registry document, e.g. an embedding application's own settings. A
// false return falls through to handle resolution.
type OverrideFunc func(ctx context.Context) (Credentials, bool)

// Option configures a Manager.
type Option func(*Manager)

// WithCredentialOverride installs a per-provider credential source that
// takes precedence over the document's api_key_env handle.
func WithCredentialOverride(provider string, fn OverrideFunc) Option {
	return func(m *Manager) {
		m.overrides[provider] = fn
	}
}

// Manager owns the current registry snapshot and its hot reload. Load
// failures never take the gateway down: startup failures fall back to the
// built-in default registry, reload failures keep the current snapshot.
type Manager struct {
	snap      atomic.Pointer[Snapshot]
	path      string
	secrets   *secret.Manager
	overrides map[string]OverrideFunc
	onChange  []func(*Snapshot)
	watcher   *fsnotify.Watcher
	logger    *slog.Logger
}

// NewManager loads the registry at path, falling back to the default
// registry with a warning when the document is missing or invalid.
func NewManager(path string, secrets *secret.Manager, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		path:      path,
		secrets:   secrets,
		overrides: make(map[string]OverrideFunc),
		logger:    logger.With("component", "registry"),
	}
	for _, opt := range opts {
		opt(m)
	}

	snap, err := Load(path)
	if err != nil {
		m.logger.Warn("registry load failed, using built-in default registry",
			"path", path,
			"error", err,
		)
		snap = Default()
	} else {
		m.logger.Info("registry loaded",
			"path", path,
			"models", snap.ModelCount(),
			"providers", snap.ProviderCount(),
			"routes", len(snap.Routes()),
		)
	}
	m.snap.Store(snap)

	return m
}

// NewStaticManager wraps a fixed snapshot; used by tests and embedders
// that manage the document themselves.
func NewStaticManager(snap *Snapshot, secrets *secret.Manager, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		secrets:   secrets,
		overrides: make(map[string]OverrideFunc),
		logger:    logger.With("component", "registry"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.snap.Store(snap)
	return m
}

// Current returns the live snapshot. Safe for concurrent use; the result
// is immutable.
func (m *Manager) Current() *Snapshot {
	return m.snap.Load()
}

// OnChange registers a callback invoked with each new snapshot after a
// successful reload. Register before calling Watch.
func (m *Manager) OnChange(fn func(*Snapshot)) {
	m.onChange = append(m.onChange, fn)
}

// Reload re-reads the document and swaps the snapshot on success.
func (m *Manager) Reload() error {
	snap, err := Load(m.path)
	if err != nil {
		return err
	}
	m.swap(snap)
	return nil
}

func (m *Manager) swap(snap *Snapshot) {
	m.snap.Store(snap)
	m.logger.Info("registry reloaded",
		"models", snap.ModelCount(),
		"providers", snap.ProviderCount(),
		"routes", len(snap.Routes()),
	)
	for _, fn := range m.onChange {
		fn(snap)
	}
}

// Watch starts watching the registry document for changes, debouncing
// rapid writes before reloading.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := m.Reload(); err != nil {
						m.logger.Error("registry reload failed, keeping current snapshot",
							"error", err,
						)
					}
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("registry watcher error", "error", err)
		}
	}
}

// Credentials resolves the API key and base URL for a provider: override
// hook first, then the document's api_key_env handle through the secret
// manager.
func (m *Manager) Credentials(ctx context.Context, provider string) (Credentials, error) {
	snap := m.Current()
	spec, ok := snap.Provider(provider)
	if !ok {
		return Credentials{}, fmt.Errorf("unknown provider %q", provider)
	}

	creds := Credentials{BaseURL: spec.BaseURL}

	if fn, ok := m.overrides[provider]; ok {
		if c, ok := fn(ctx); ok {
			if c.BaseURL != "" {
				creds.BaseURL = c.BaseURL
			}
			if c.APIKey != "" {
				creds.APIKey = c.APIKey
				return creds, nil
			}
		}
	}

	if spec.APIKeyEnv == "" {
		return Credentials{}, fmt.Errorf("provider %q has no api_key_env handle", provider)
	}
	key, err := m.secrets.Get(ctx, spec.APIKeyEnv)
	if err != nil {
		return Credentials{}, fmt.Errorf("resolve credentials for provider %q: %w", provider, err)
	}
	creds.APIKey = key

	return creds, nil
}

// Close stops the watcher if one is running.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
