package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/akhi19-dev/incident-agent/internal/metrics"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

// StructuredClient turns free-form completions into validated Go values.
type StructuredClient struct {
	completer Completer
	retry     *retrier
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewStructuredClient wraps a Completer with retries and output validation.
func NewStructuredClient(completer Completer, policy RetryPolicy, logger *slog.Logger) *StructuredClient {
	return &StructuredClient{
		completer: completer,
		retry:     newRetrier(policy),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    utils.Component(logger, "llm"),
	}
}

// CompleteStructured asks for a T shaped answer. Malformed or invalid output counts as a failed
// attempt. When every attempt fails it returns the zero value and false.
func CompleteStructured[T any](ctx context.Context, s *StructuredClient, name, system, user string) (T, bool) {
	var zero T
	if s == nil || s.completer == nil {
		return zero, false
	}
	schema, err := jsonschema.GenerateSchemaForType(zero)
	if err != nil {
		s.logger.Error("generate response schema", slog.String("schema", name), slog.Any("error", err))
		return zero, false
	}

	out, err := retry(ctx, s.retry, func(ctx context.Context) (T, error) {
		var result T
		raw, err := s.completer.Complete(ctx, CompletionRequest{
			System:     system,
			User:       user,
			SchemaName: name,
			Schema:     schema,
		})
		if err != nil {
			return result, err
		}
		if err := json.Unmarshal([]byte(stripFence(raw)), &result); err != nil {
			return result, fmt.Errorf("decode %s: %w", name, err)
		}
		if err := s.validate.Struct(result); err != nil {
			return result, fmt.Errorf("validate %s: %w", name, err)
		}
		return result, nil
	})
	metrics.ObserveLLM("complete", err)
	if err != nil {
		s.logger.Warn("structured completion failed", slog.String("schema", name), slog.Any("error", err))
		return zero, false
	}
	return out, true
}

// stripFence removes a surrounding markdown code fence some models add around JSON.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
