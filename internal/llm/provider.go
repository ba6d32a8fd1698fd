// Package llm hides the completion and embedding providers behind two small interfaces.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/akhi19-dev/incident-agent/internal/config"
)

// Kind names a provider variant. The set is closed.
type Kind string

const (
	KindOpenAI      Kind = "openai"
	KindAzureOpenAI Kind = "azure_openai"
	KindBedrock     Kind = "bedrock"
)

// CompletionRequest is a single-turn chat completion, optionally constrained to a JSON schema.
type CompletionRequest struct {
	System     string
	User       string
	SchemaName string
	Schema     json.Marshaler
}

// Completer produces chat completions.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewCompleter builds the completion provider for kind.
func NewCompleter(kind Kind, cfg config.LLMConfig, logger *slog.Logger) (Completer, error) {
	switch kind {
	case KindOpenAI:
		return NewOpenAIProvider(cfg, logger)
	case KindAzureOpenAI:
		return NewAzureOpenAIProvider(cfg, logger)
	case KindBedrock:
		return nil, fmt.Errorf("provider %q does not support completions", kind)
	default:
		return nil, fmt.Errorf("unknown completion provider %q", kind)
	}
}

// NewEmbedder builds the embedding provider for kind.
func NewEmbedder(kind Kind, cfg config.LLMConfig, aws config.AWSConfig, logger *slog.Logger) (Embedder, error) {
	switch kind {
	case KindOpenAI:
		return NewOpenAIProvider(cfg, logger)
	case KindAzureOpenAI:
		return NewAzureOpenAIProvider(cfg, logger)
	case KindBedrock:
		return NewBedrockEmbedder(cfg, aws, logger)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", kind)
	}
}
