package repo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wvmodels "github.com/weaviate/weaviate/entities/models"

	"github.com/akhi19-dev/incident-agent/internal/models"
)

func TestWeaviateIndexRequiresEndpoint(t *testing.T) {
	_, err := NewWeaviateIndex("", "", "", time.Second, nil)
	require.Error(t, err)

	var idx WeaviateIndex
	ctx := context.Background()
	assert.ErrorIs(t, idx.EnsureSchema(ctx), ErrVectorIndexUnavailable)
	assert.ErrorIs(t, idx.Insert(ctx, models.VectorRecord{DocID: "d"}), ErrVectorIndexUnavailable)
	_, err = idx.DeleteByDocID(ctx, "d")
	assert.ErrorIs(t, err, ErrVectorIndexUnavailable)
	_, err = idx.Query(ctx, []float32{0.1}, 5)
	assert.ErrorIs(t, err, ErrVectorIndexUnavailable)
}

func TestWeaviateIndexRejectsBadEndpoint(t *testing.T) {
	_, err := NewWeaviateIndex("not a url", "", "", time.Second, nil)
	assert.Error(t, err)
}

func TestWeaviateIndexRoundTrip(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []string
		inserted map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r.Method+" "+r.URL.Path)
		mu.Unlock()

		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/objects":
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &inserted)
			_, _ = w.Write([]byte(`{"id":"6a1f2f0e-0000-4000-8000-000000000001","class":"RunbookVector"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/batch/objects":
			_, _ = w.Write([]byte(`{"results":{"matches":2,"successful":2,"failed":0,"limit":10000}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/graphql":
			body, _ := io.ReadAll(r.Body)
			assert.True(t, strings.Contains(string(body), "nearVector"))
			_, _ = w.Write([]byte(`{"data":{"Get":{"RunbookVector":[` +
				`{"docId":"doc-1","text":"clean disk","_additional":{"distance":0.12}},` +
				`{"docId":"doc-2","text":"restart vm","_additional":{"distance":0.4}}]}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	idx, err := NewWeaviateIndex(srv.URL, "secret", "RunbookVector", time.Second, nil)
	require.NoError(t, err)
	ctx := context.Background()

	deleted, err := idx.DeleteByDocID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	require.NoError(t, idx.Insert(ctx, models.VectorRecord{DocID: "doc-1", Vector: []float32{0.1, 0.2}, Text: "clean disk", FileName: "cleanup"}))
	require.NotNil(t, inserted)
	props, ok := inserted["properties"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "doc-1", props["docId"])

	hits, err := idx.Query(ctx, []float32{0.1, 0.2}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc-1", hits[0].DocID)
	assert.InDelta(t, 0.12, hits[0].Distance, 1e-9)
	assert.Equal(t, "restart vm", hits[1].Text)
}

func TestParseVectorHitsEmpty(t *testing.T) {
	hits, err := parseVectorHits(&wvmodels.GraphQLResponse{Data: map[string]wvmodels.JSONObject{
		"Get": map[string]any{"RunbookVector": []any{}},
	}}, "RunbookVector")
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = parseVectorHits(nil, "RunbookVector")
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestVectorClassUsesCosine(t *testing.T) {
	class := vectorClass("RunbookVector")
	assert.Equal(t, "none", class.Vectorizer)
	cfg, ok := class.VectorIndexConfig.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "cosine", cfg["distance"])
}
