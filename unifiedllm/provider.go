package unifiedllm

import "context"

// ProviderAdapter is the interface every inference backend implements.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "gateway", "openai", "anthropic").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}
