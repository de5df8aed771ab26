package secret

import "context"

// Provider resolves credential handles against one backing source.
type Provider interface {
	// Get resolves the secret value for the given handle path. The path is
	// the part after the scheme: "OPENAI_API_KEY" for env handles,
	// "secret/data/llm#anthropic" for vault handles.
	Get(ctx context.Context, path string) (string, error)

	// Close releases any resources held by the provider.
	Close() error
}
