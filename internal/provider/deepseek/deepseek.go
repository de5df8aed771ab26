// Package deepseek implements the DeepSeek adapter. The upstream API is
// OpenAI-compatible, including the penalty and response_format fields,
// so only the endpoint and name differ from the reference adapter.
package deepseek

import (
	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/internal/provider/openai"
)

// ProviderName is the registry name this adapter serves.
const ProviderName = "deepseek"

// DefaultBaseURL is the DeepSeek API endpoint used when the registry
// leaves base_url empty.
const DefaultBaseURL = "https://api.deepseek.com/v1"

func init() {
	provider.Register(ProviderName, New)
}

// New creates a DeepSeek adapter from resolved connection settings.
func New(cfg provider.Config) (provider.Adapter, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Name == "" {
		cfg.Name = ProviderName
	}
	return openai.New(cfg)
}
