// Package openaicompat is the permissive default adapter, used for any
// configured provider that has no dedicated implementation. Most hosted
// LLM APIs speak the OpenAI chat-completions wire format, so this
// delegates to the reference implementation with the provider's own
// name and base URL.
package openaicompat

import (
	"fmt"

	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/internal/provider/openai"
)

func init() {
	provider.Register(provider.DefaultFactoryName, New)
}

// New creates an OpenAI-compatible adapter. Unlike the dedicated
// adapters there is no endpoint to default to, so the registry must
// supply a base URL.
func New(cfg provider.Config) (provider.Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %q: base_url is required for the openai-compatible adapter", cfg.Name)
	}
	if cfg.Name == "" {
		cfg.Name = provider.DefaultFactoryName
	}
	return openai.New(cfg)
}
