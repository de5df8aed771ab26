// Package env implements a secret provider that reads credential handles
// from environment variables. It backs the default scheme for api_key_env
// handles in the registry document.
package env

import (
	"context"
	"fmt"
	"os"
)

// Provider implements the secret.Provider interface for environment variables.
type Provider struct{}

// New creates a new env provider.
func New() *Provider {
	return &Provider{}
}

// Get returns the value of the environment variable named by path. An
// unset or empty variable is an error: an empty API key never authorizes
// an upstream call, so surfacing it early beats a 401 later.
func (p *Provider) Get(ctx context.Context, path string) (string, error) {
	val, ok := os.LookupEnv(path)
	if !ok || val == "" {
		return "", fmt.Errorf("environment variable %q not set", path)
	}
	return val, nil
}

// Close is a no-op for the env provider.
func (p *Provider) Close() error {
	return nil
}
