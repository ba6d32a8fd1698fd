package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/akhi19-dev/incident-agent/internal/config"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

// OpenAIProvider serves completions and embeddings from OpenAI or an Azure OpenAI deployment.
type OpenAIProvider struct {
	client      *openai.Client
	kind        Kind
	model       string
	embedModel  string
	dimensions  int
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

// NewOpenAIProvider constructs a provider against api.openai.com or a compatible base URL.
func NewOpenAIProvider(cfg config.LLMConfig, logger *slog.Logger) (*OpenAIProvider, error) {
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("openai api key not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.OpenAIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	return newOpenAIProvider(KindOpenAI, openai.NewClientWithConfig(clientCfg), cfg, logger), nil
}

// NewAzureOpenAIProvider constructs a provider routed to an Azure OpenAI deployment.
func NewAzureOpenAIProvider(cfg config.LLMConfig, logger *slog.Logger) (*OpenAIProvider, error) {
	if cfg.AzureEndpoint == "" || cfg.AzureAPIKey == "" {
		return nil, fmt.Errorf("azure openai endpoint and key are required")
	}
	clientCfg := openai.DefaultAzureConfig(cfg.AzureAPIKey, cfg.AzureEndpoint)
	if cfg.AzureAPIVersion != "" {
		clientCfg.APIVersion = cfg.AzureAPIVersion
	}
	if deployment := cfg.AzureDeployment; deployment != "" {
		clientCfg.AzureModelMapperFunc = func(model string) string {
			if model == cfg.CompletionModel {
				return deployment
			}
			return model
		}
	}
	return newOpenAIProvider(KindAzureOpenAI, openai.NewClientWithConfig(clientCfg), cfg, logger), nil
}

func newOpenAIProvider(kind Kind, client *openai.Client, cfg config.LLMConfig, logger *slog.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		client:      client,
		kind:        kind,
		model:       cfg.CompletionModel,
		embedModel:  cfg.EmbeddingModel,
		dimensions:  cfg.EmbeddingDimensions,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      utils.Component(logger, "llm").With(slog.String("provider", string(kind))),
	}
}

// Complete runs one chat completion. A schema switches the response format to strict JSON schema.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	chatReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: p.temperature,
	}
	if p.maxTokens > 0 {
		chatReq.MaxCompletionTokens = p.maxTokens
	}
	if req.Schema != nil {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: req.Schema,
				Strict: true,
			},
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.kind, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", p.kind)
	}
	p.logger.Debug("completion received", slog.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding of text at the configured dimensionality.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(p.embedModel),
		Dimensions: p.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("%s embedding: %w", p.kind, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%s returned no embeddings", p.kind)
	}
	return resp.Data[0].Embedding, nil
}
