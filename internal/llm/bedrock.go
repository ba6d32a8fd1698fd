package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/akhi19-dev/incident-agent/internal/config"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

type modelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockEmbedder embeds text with an Amazon Titan embedding model.
type BedrockEmbedder struct {
	client     modelInvoker
	model      string
	dimensions int
	logger     *slog.Logger
}

// NewBedrockEmbedder constructs a Titan embedder from static AWS credentials.
func NewBedrockEmbedder(cfg config.LLMConfig, awsCfg config.AWSConfig, logger *slog.Logger) (*BedrockEmbedder, error) {
	if awsCfg.Region == "" {
		return nil, fmt.Errorf("aws region is required for bedrock")
	}
	opts := bedrockruntime.Options{Region: awsCfg.Region}
	if awsCfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(awsCfg.AccessKeyID, awsCfg.SecretAccessKey, "")
	}
	return &BedrockEmbedder{
		client:     bedrockruntime.New(opts),
		model:      cfg.BedrockModel,
		dimensions: cfg.EmbeddingDimensions,
		logger:     utils.Component(logger, "llm").With(slog.String("provider", string(KindBedrock))),
	}, nil
}

type titanEmbeddingRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions"`
	Normalize  bool   `json:"normalize"`
}

type titanEmbeddingResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embed returns a normalised Titan embedding of text.
func (b *BedrockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbeddingRequest{InputText: text, Dimensions: b.dimensions, Normalize: true})
	if err != nil {
		return nil, fmt.Errorf("marshal titan request: %w", err)
	}
	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke %s: %w", b.model, err)
	}
	var resp titanEmbeddingResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("decode titan response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("bedrock returned an empty embedding")
	}
	b.logger.Debug("embedding received", slog.Int("tokens", resp.InputTextTokenCount))
	return resp.Embedding, nil
}
