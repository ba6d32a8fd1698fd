package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhi19-dev/incident-agent/internal/llm"
	"github.com/akhi19-dev/incident-agent/internal/models"
	"github.com/akhi19-dev/incident-agent/internal/repo"
)

const analysisAnswer = `{
  "description": "Removes temp files to free disk space",
  "issues_it_resolves": ["low disk space"],
  "array_of_os": ["Windows", "Linux"],
  "array_of_args": [{"name": "VMName", "function_to_extract": "get_VM_names()"}],
  "user_queries": ["How do I free disk space?"]
}`

type fakeContent struct {
	bodies map[string]string
	err    error
}

func (f *fakeContent) RunbookContent(_ context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.bodies[name], nil
}

func newTestIndexer(content RunbookContentFetcher, store *fakeRunbooks, vectors *fakeVectors, completer llm.Completer, embedder llm.Embedder) *Indexer {
	return NewIndexer(nil, content, store, vectors, embedder, structuredFor(completer), testRegistry(), 0)
}

func TestIndexDocumentReplacesVector(t *testing.T) {
	doc := models.RunbookDocument{ID: "doc-1", Name: "cleanup-disk", Source: models.SourceAzure}
	store := &fakeRunbooks{docs: map[string]models.RunbookDocument{doc.ID: doc}}
	vectors := &fakeVectors{}
	embedder := &fakeEmbedder{}
	completer := newRouteCompleter(map[string]func(llm.CompletionRequest) string{"runbook_analysis": fixed(analysisAnswer)})
	ix := newTestIndexer(&fakeContent{bodies: map[string]string{"cleanup-disk": "Remove-Item C:\\temp"}}, store, vectors, completer, embedder)

	require.NoError(t, ix.IndexDocument(context.Background(), doc))
	require.NoError(t, ix.IndexDocument(context.Background(), doc))

	assert.Equal(t, 1, vectors.countFor("doc-1"))
	rec := vectors.records[0]
	assert.Equal(t, "cleanup-disk", rec.FileName)
	assert.Equal(t, models.SourceAzure, rec.PageLabel)
	assert.Equal(t, "Removes temp files to free disk space", rec.Text)

	assert.Equal(t, "Removes temp files to free disk space\nlow disk space\nHow do I free disk space?", embedder.texts[0])

	update := store.updates["doc-1"]
	assert.Equal(t, []string{"windows", "linux"}, update.OSSupported)
	assert.Equal(t, []string{"vmname:get_vm_names()"}, update.Args)

	require.NotEmpty(t, completer.messages["runbook_analysis"])
	assert.Contains(t, completer.messages["runbook_analysis"][0], "get_aws_region(): Returns aws region")
}

func TestIndexDocumentContentErrorWritesNothing(t *testing.T) {
	doc := models.RunbookDocument{ID: "doc-1", Name: "gone"}
	store := &fakeRunbooks{docs: map[string]models.RunbookDocument{doc.ID: doc}}
	vectors := &fakeVectors{}
	completer := newRouteCompleter(map[string]func(llm.CompletionRequest) string{"runbook_analysis": fixed(analysisAnswer)})
	fetchErr := &repo.ContentFetchError{Runbook: "gone", StatusCode: 404}
	ix := newTestIndexer(&fakeContent{err: fetchErr}, store, vectors, completer, &fakeEmbedder{})

	err := ix.IndexDocument(context.Background(), doc)
	var target *repo.ContentFetchError
	require.ErrorAs(t, err, &target)
	assert.Empty(t, vectors.records)
	assert.Empty(t, store.updates)
	assert.Zero(t, completer.calls["runbook_analysis"])
}

func TestIndexDocumentWithoutVectorIndexStaysUnindexed(t *testing.T) {
	doc := models.RunbookDocument{ID: "doc-1", Name: "cleanup-disk"}
	store := &fakeRunbooks{docs: map[string]models.RunbookDocument{doc.ID: doc}}
	completer := newRouteCompleter(map[string]func(llm.CompletionRequest) string{"runbook_analysis": fixed(analysisAnswer)})
	ix := NewIndexer(nil, &fakeContent{bodies: map[string]string{"cleanup-disk": "Remove-Item C:\\temp"}},
		store, &repo.WeaviateIndex{}, &fakeEmbedder{}, structuredFor(completer), testRegistry(), 0)

	err := ix.IndexDocument(context.Background(), doc)
	require.ErrorIs(t, err, repo.ErrVectorIndexUnavailable)
	assert.Empty(t, store.updates)
}

func TestIndexPendingSkipsFailedExtraction(t *testing.T) {
	docs := map[string]models.RunbookDocument{
		"good": {ID: "good", Name: "good-runbook"},
		"bad":  {ID: "bad", Name: "bad-runbook"},
	}
	store := &fakeRunbooks{docs: docs}
	vectors := &fakeVectors{}
	completer := newRouteCompleter(map[string]func(llm.CompletionRequest) string{
		"runbook_analysis": func(req llm.CompletionRequest) string {
			if strings.Contains(req.User, "bad content") {
				return `{"description": ""}`
			}
			return analysisAnswer
		},
	})
	content := &fakeContent{bodies: map[string]string{"good-runbook": "good content", "bad-runbook": "bad content"}}
	ix := newTestIndexer(content, store, vectors, completer, &fakeEmbedder{})

	summary, err := ix.IndexPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, IndexSummary{Indexed: 1, Skipped: 1}, summary)
	assert.Equal(t, 1, vectors.countFor("good"))
	assert.Zero(t, vectors.countFor("bad"))
	_, marked := store.updates["bad"]
	assert.False(t, marked)
}

func TestIndexDocumentNoExtraction(t *testing.T) {
	doc := models.RunbookDocument{ID: "doc-1", Name: "x"}
	completer := newRouteCompleter(map[string]func(llm.CompletionRequest) string{"runbook_analysis": fixed("nope")})
	ix := newTestIndexer(&fakeContent{bodies: map[string]string{"x": "echo"}}, &fakeRunbooks{}, &fakeVectors{}, completer, &fakeEmbedder{})

	err := ix.IndexDocument(context.Background(), doc)
	assert.True(t, errors.Is(err, ErrNoExtraction))
}
