package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	wvmodels "github.com/weaviate/weaviate/entities/models"

	"github.com/akhi19-dev/incident-agent/internal/models"
)

// ErrVectorIndexUnavailable is returned by an index that has no Weaviate client.
var ErrVectorIndexUnavailable = errors.New("vector index not configured")

// WeaviateIndex stores one embedding per runbook document and answers nearest-neighbour queries.
type WeaviateIndex struct {
	client    *weaviate.Client
	className string
	logger    *slog.Logger
}

// NewWeaviateIndex constructs a Weaviate client for endpoint, which is required.
func NewWeaviateIndex(endpoint, apiKey, className string, timeout time.Duration, logger *slog.Logger) (*WeaviateIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if className == "" {
		className = "RunbookVector"
	}
	idx := &WeaviateIndex{className: className, logger: logger}
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("weaviate endpoint is required")
	}

	parsed, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate endpoint %q", endpoint)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cfg := weaviate.Config{
		Host:             parsed.Host,
		Scheme:           parsed.Scheme,
		ConnectionClient: &http.Client{Timeout: timeout},
	}
	if apiKey != "" {
		cfg.Headers = map[string]string{"Authorization": "Bearer " + apiKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	idx.client = client
	return idx, nil
}

// EnsureSchema creates the vector class when missing.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	if w == nil || w.client == nil {
		return ErrVectorIndexUnavailable
	}
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(w.className).Do(ctx)
	if err != nil {
		return fmt.Errorf("check weaviate class: %w", err)
	}
	if exists {
		return nil
	}
	w.logger.Info("creating weaviate class", slog.String("class", w.className))
	if err := w.client.Schema().ClassCreator().WithClass(vectorClass(w.className)).Do(ctx); err != nil {
		return fmt.Errorf("create weaviate class: %w", err)
	}
	return nil
}

// Insert stores record as a new object carrying its own vector.
func (w *WeaviateIndex) Insert(ctx context.Context, record models.VectorRecord) error {
	if w == nil || w.client == nil {
		return ErrVectorIndexUnavailable
	}
	if record.DocID == "" {
		return fmt.Errorf("vector record requires a doc id")
	}
	_, err := w.client.Data().Creator().
		WithClassName(w.className).
		WithProperties(map[string]interface{}{
			"docId":     record.DocID,
			"text":      record.Text,
			"fileName":  record.FileName,
			"pageLabel": record.PageLabel,
		}).
		WithVector(record.Vector).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("insert vector for %s: %w", record.DocID, err)
	}
	return nil
}

// DeleteByDocID removes every vector for docID. Deleting an unknown id is not an error.
func (w *WeaviateIndex) DeleteByDocID(ctx context.Context, docID string) (int, error) {
	if w == nil || w.client == nil {
		return 0, ErrVectorIndexUnavailable
	}
	where := filters.Where().
		WithPath([]string{"docId"}).
		WithOperator(filters.Equal).
		WithValueText(docID)

	resp, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(w.className).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete vectors for %s: %w", docID, err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	if resp.Results.Failed > 0 {
		return int(resp.Results.Successful), fmt.Errorf("delete vectors for %s: %d failed", docID, resp.Results.Failed)
	}
	return int(resp.Results.Successful), nil
}

// Query returns the k nearest records to vector by cosine distance.
func (w *WeaviateIndex) Query(ctx context.Context, vector []float32, k int) ([]models.VectorHit, error) {
	if w == nil || w.client == nil {
		return nil, ErrVectorIndexUnavailable
	}
	if k <= 0 {
		k = 5
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: "docId"},
		{Name: "text"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}
	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query weaviate: %w", err)
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("query weaviate: %s", strings.Join(msgs, "; "))
	}
	return parseVectorHits(result, w.className)
}

type vectorHitRow struct {
	DocID      string `json:"docId"`
	Text       string `json:"text"`
	Additional struct {
		Distance float64 `json:"distance"`
	} `json:"_additional"`
}

func parseVectorHits(result *wvmodels.GraphQLResponse, className string) ([]models.VectorHit, error) {
	if result == nil || result.Data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(result.Data["Get"])
	if err != nil {
		return nil, fmt.Errorf("marshal graphql data: %w", err)
	}
	var byClass map[string][]vectorHitRow
	if err := json.Unmarshal(raw, &byClass); err != nil {
		return nil, fmt.Errorf("decode graphql data: %w", err)
	}

	rows := byClass[className]
	hits := make([]models.VectorHit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, models.VectorHit{
			DocID:    row.DocID,
			Distance: row.Additional.Distance,
			Text:     row.Text,
		})
	}
	return hits, nil
}

func vectorClass(name string) *wvmodels.Class {
	return &wvmodels.Class{
		Class:       name,
		Description: "Runbook summaries embedded for incident matching.",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*wvmodels.Property{
			{Name: "docId", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "text", DataType: []string{"text"}},
			{Name: "fileName", DataType: []string{"text"}},
			{Name: "pageLabel", DataType: []string{"text"}},
		},
	}
}
