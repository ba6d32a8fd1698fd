package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhi19-dev/incident-agent/internal/cache"
	"github.com/akhi19-dev/incident-agent/internal/config"
)

var fastPolicy = RetryPolicy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Attempts: 3}

type scriptedCompleter struct {
	replies []string
	errs    []error
	calls   int
	last    CompletionRequest
}

func (s *scriptedCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	i := s.calls
	s.calls++
	s.last = req
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return s.replies[len(s.replies)-1], nil
}

type pick struct {
	DocID string `json:"doc_id" validate:"required"`
}

func TestCompleteStructuredRetriesMalformedOutput(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{"not json", "```json\n{\"doc_id\":\"abc\"}\n```"}}
	client := NewStructuredClient(completer, fastPolicy, nil)

	got, ok := CompleteStructured[pick](context.Background(), client, "pick", "system", "user")
	require.True(t, ok)
	assert.Equal(t, "abc", got.DocID)
	assert.Equal(t, 2, completer.calls)
	assert.Equal(t, "pick", completer.last.SchemaName)
	assert.NotNil(t, completer.last.Schema)
}

func TestCompleteStructuredValidationFailureIsRetried(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{`{"doc_id":""}`}}
	client := NewStructuredClient(completer, fastPolicy, nil)

	got, ok := CompleteStructured[pick](context.Background(), client, "pick", "", "user")
	assert.False(t, ok)
	assert.Empty(t, got.DocID)
	assert.Equal(t, 3, completer.calls)
}

func TestCompleteStructuredProviderErrorsExhaustAttempts(t *testing.T) {
	boom := errors.New("rate limited")
	completer := &scriptedCompleter{replies: []string{`{"doc_id":"x"}`}, errs: []error{boom, boom, boom}}
	client := NewStructuredClient(completer, fastPolicy, nil)

	_, ok := CompleteStructured[pick](context.Background(), client, "pick", "", "user")
	assert.False(t, ok)
	assert.Equal(t, 3, completer.calls)
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence(`  {"a":1} `))
}

type countingEmbedder struct {
	calls int
	fail  int
}

func (c *countingEmbedder) Embed(context.Context, string) ([]float32, error) {
	c.calls++
	if c.calls <= c.fail {
		return nil, errors.New("transient")
	}
	return []float32{0.1, 0.2}, nil
}

func TestRetryingEmbedderRecovers(t *testing.T) {
	inner := &countingEmbedder{fail: 2}
	vec, err := NewRetryingEmbedder(inner, fastPolicy, nil).Embed(context.Background(), "cpu high")
	require.NoError(t, err)
	assert.Len(t, vec, 2)
	assert.Equal(t, 3, inner.calls)
}

func TestCachedEmbedderServesRepeatFromCache(t *testing.T) {
	inner := &countingEmbedder{}
	embedder := NewCachedEmbedder(inner, cache.NewMemoryProvider(), "test-model", time.Hour, nil)

	first, err := embedder.Embed(context.Background(), "disk full")
	require.NoError(t, err)
	second, err := embedder.Embed(context.Background(), "disk full")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	_, err = embedder.Embed(context.Background(), "other text")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestFactoriesRejectUnsupportedKinds(t *testing.T) {
	cfg := config.LLMConfig{OpenAIKey: "k"}
	_, err := NewCompleter(KindBedrock, cfg, nil)
	assert.Error(t, err)
	_, err = NewCompleter(Kind("anthropic"), cfg, nil)
	assert.Error(t, err)
	_, err = NewEmbedder(Kind("lancedb"), cfg, config.AWSConfig{}, nil)
	assert.Error(t, err)

	c, err := NewCompleter(KindOpenAI, cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	return &bedrockruntime.InvokeModelOutput{Body: []byte(`{"embedding":[0.5,0.25],"inputTextTokenCount":3}`)}, nil
}

func TestBedrockEmbedderRequestShape(t *testing.T) {
	invoker := &fakeInvoker{}
	embedder := &BedrockEmbedder{client: invoker, model: "amazon.titan-embed-text-v2:0", dimensions: 512, logger: slog.Default()}

	vec, err := embedder.Embed(context.Background(), "restart the vm")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)

	var body titanEmbeddingRequest
	require.NoError(t, json.Unmarshal(invoker.input.Body, &body))
	assert.Equal(t, "restart the vm", body.InputText)
	assert.Equal(t, 512, body.Dimensions)
	assert.True(t, body.Normalize)
	assert.Equal(t, "amazon.titan-embed-text-v2:0", *invoker.input.ModelId)
}

func TestOpenAIProviderCompleteAndEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/chat/completions":
			format, _ := body["response_format"].(map[string]any)
			if format["type"] != "json_schema" {
				http.Error(w, "missing schema", http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, `{"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"doc_id\":\"d1\"}"}}]}`)
		case "/v1/embeddings":
			if body["dimensions"] != float64(512) {
				http.Error(w, "wrong dimensions", http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	provider, err := NewOpenAIProvider(config.LLMConfig{
		OpenAIKey:           "k",
		OpenAIBaseURL:       srv.URL + "/v1",
		CompletionModel:     "gpt-4o-mini",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 512,
	}, nil)
	require.NoError(t, err)

	client := NewStructuredClient(provider, fastPolicy, nil)
	got, ok := CompleteStructured[pick](context.Background(), client, "pick", "sys", "user")
	require.True(t, ok)
	assert.Equal(t, "d1", got.DocID)

	vec, err := provider.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
}
