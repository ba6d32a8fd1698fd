package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/akhi19-dev/incident-agent/internal/llm"
	"github.com/akhi19-dev/incident-agent/internal/metrics"
	"github.com/akhi19-dev/incident-agent/internal/models"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

// ErrNoExtraction is returned when the model produced no usable runbook analysis.
var ErrNoExtraction = errors.New("runbook analysis unavailable")

// RunbookContentFetcher downloads runbook source text.
type RunbookContentFetcher interface {
	RunbookContent(ctx context.Context, name string) (string, error)
}

// IndexStore is the runbook metadata the indexer reads and updates.
type IndexStore interface {
	ListUnindexed(ctx context.Context) ([]models.RunbookDocument, error)
	MarkIndexed(ctx context.Context, id string, update models.RunbookIndexUpdate) error
}

// VectorWriter replaces the vector held for a document.
type VectorWriter interface {
	DeleteByDocID(ctx context.Context, docID string) (int, error)
	Insert(ctx context.Context, record models.VectorRecord) error
}

// IndexSummary counts the outcome of one indexing pass.
type IndexSummary struct {
	Indexed int
	Skipped int
	Failed  int
}

// Indexer summarises, embeds and stores runbooks that are not yet searchable.
type Indexer struct {
	logger     *slog.Logger
	content    RunbookContentFetcher
	store      IndexStore
	vectors    VectorWriter
	embedder   llm.Embedder
	structured *llm.StructuredClient
	registry   *ParamRegistry
	interval   time.Duration
}

// NewIndexer wires the indexer. Interval defaults to five minutes.
func NewIndexer(
	logger *slog.Logger,
	content RunbookContentFetcher,
	store IndexStore,
	vectors VectorWriter,
	embedder llm.Embedder,
	structured *llm.StructuredClient,
	registry *ParamRegistry,
	interval time.Duration,
) *Indexer {
	if interval <= 0 {
		interval = 300 * time.Second
	}
	return &Indexer{
		logger:     utils.Component(logger, "indexer"),
		content:    content,
		store:      store,
		vectors:    vectors,
		embedder:   embedder,
		structured: structured,
		registry:   registry,
		interval:   interval,
	}
}

// IndexDocument makes one runbook searchable. Nothing is written unless extraction and
// embedding both succeed.
func (ix *Indexer) IndexDocument(ctx context.Context, doc models.RunbookDocument) error {
	ctx, span := startSpan(ctx, "indexer.IndexDocument",
		attribute.String("runbook.name", doc.Name),
		attribute.String("runbook.id", doc.ID))
	defer span.End()

	content, err := ix.content.RunbookContent(ctx, doc.Name)
	if err != nil {
		return err
	}

	analysis, ok := llm.CompleteStructured[RunbookAnalysis](ctx, ix.structured, "runbook_analysis",
		runbookAnalysisPrompt, analysisUserMessage(content, ix.registry.Describe()))
	if !ok {
		return fmt.Errorf("index %s: %w", doc.Name, ErrNoExtraction)
	}

	vector, err := ix.embedder.Embed(ctx, embeddingText(analysis))
	if err != nil {
		return fmt.Errorf("embed %s: %w", doc.Name, err)
	}

	if _, err := ix.vectors.DeleteByDocID(ctx, doc.ID); err != nil {
		return fmt.Errorf("clear previous vector for %s: %w", doc.Name, err)
	}
	if err := ix.vectors.Insert(ctx, models.VectorRecord{
		DocID:     doc.ID,
		Vector:    vector,
		Text:      analysis.Description,
		FileName:  doc.Name,
		PageLabel: doc.Source,
	}); err != nil {
		return fmt.Errorf("insert vector for %s: %w", doc.Name, err)
	}

	if err := ix.store.MarkIndexed(ctx, doc.ID, indexUpdate(analysis)); err != nil {
		return fmt.Errorf("mark %s indexed: %w", doc.Name, err)
	}
	return nil
}

// IndexPending indexes every unindexed runbook. Failures are counted, not returned.
func (ix *Indexer) IndexPending(ctx context.Context) (IndexSummary, error) {
	docs, err := ix.store.ListUnindexed(ctx)
	if err != nil {
		return IndexSummary{}, fmt.Errorf("list unindexed runbooks: %w", err)
	}

	var summary IndexSummary
	for _, doc := range docs {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		err := ix.IndexDocument(ctx, doc)
		switch {
		case err == nil:
			summary.Indexed++
			metrics.ObserveIndexing(metrics.OutcomeSuccess)
			ix.logger.Info("runbook indexed", slog.String("runbook", doc.Name), slog.String("id", doc.ID))
		case errors.Is(err, ErrNoExtraction):
			summary.Skipped++
			metrics.ObserveIndexing(metrics.OutcomeSkipped)
			ix.logger.Warn("runbook skipped", slog.String("runbook", doc.Name), slog.Any("error", err))
		default:
			summary.Failed++
			metrics.ObserveIndexing(metrics.OutcomeError)
			ix.logger.Error("runbook indexing failed", slog.String("runbook", doc.Name), slog.Any("error", err))
		}
	}
	return summary, nil
}

// Run repeats IndexPending every interval until ctx is cancelled.
func (ix *Indexer) Run(ctx context.Context) error {
	ticker := time.NewTicker(ix.interval)
	defer ticker.Stop()

	for {
		summary, err := ix.IndexPending(ctx)
		if err != nil && ctx.Err() == nil {
			ix.logger.Error("indexing pass failed", slog.Any("error", err))
		} else if summary != (IndexSummary{}) {
			ix.logger.Info("indexing pass finished",
				slog.Int("indexed", summary.Indexed),
				slog.Int("skipped", summary.Skipped),
				slog.Int("failed", summary.Failed))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func embeddingText(a RunbookAnalysis) string {
	return a.Description + "\n" + strings.Join(a.IssuesItResolves, "\n") + "\n" + strings.Join(a.UserQueries, "\n")
}

func indexUpdate(a RunbookAnalysis) models.RunbookIndexUpdate {
	osSupported := make([]string, 0, len(a.ArrayOfOS))
	for _, name := range a.ArrayOfOS {
		osSupported = append(osSupported, strings.ToLower(name))
	}
	args := make([]string, 0, len(a.ArrayOfArgs))
	for _, arg := range a.ArrayOfArgs {
		args = append(args, strings.ToLower(models.ArgBinding{Parameter: arg.Name, Function: arg.FunctionToExtract}.String()))
	}
	return models.RunbookIndexUpdate{Description: a.Description, OSSupported: osSupported, Args: args}
}
