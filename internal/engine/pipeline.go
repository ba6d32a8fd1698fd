package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/akhi19-dev/incident-agent/internal/llm"
	"github.com/akhi19-dev/incident-agent/internal/metrics"
	"github.com/akhi19-dev/incident-agent/internal/models"
	"github.com/akhi19-dev/incident-agent/internal/repo"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

// Stages at which a pipeline run can stop.
const (
	StageNoCandidates   = "no_candidates"
	StageNoSelection    = "no_selection"
	StageRunbookMissing = "runbook_missing"
	StageNoTargets      = "no_targets"
	StagePlanned        = "planned"
)

// RunbookLookup fetches runbook metadata by id.
type RunbookLookup interface {
	GetByID(ctx context.Context, id string) (models.RunbookDocument, error)
}

// VectorSearcher returns the nearest runbook vectors to a query embedding.
type VectorSearcher interface {
	Query(ctx context.Context, vector []float32, k int) ([]models.VectorHit, error)
}

// Executor runs one planned execution.
type Executor interface {
	Execute(ctx context.Context, exec Execution, hook CompletionHook) error
}

// HookFactory builds the completion hook for one target of a selected runbook.
type HookFactory func(runbook models.RunbookDocument, target string) CompletionHook

// TargetPlan is the classified action for one target.
type TargetPlan struct {
	Target string
	Params map[string]string
	Plan   models.ActionPlan
}

// Selection is everything decided about an incident before any remote execution.
type Selection struct {
	Stage      string
	Candidates []models.VectorHit
	Runbook    models.RunbookDocument
	Rationale  string
	Resolution ResolutionPlan
	Targets    []TargetPlan
}

// RunResult summarises a full pipeline run.
type RunResult struct {
	Selection
	Attempted int
	Failed    int
	Skipped   int
}

// Pipeline selects a runbook for an incident and executes it per target.
type Pipeline struct {
	logger     *slog.Logger
	embedder   llm.Embedder
	vectors    VectorSearcher
	runbooks   RunbookLookup
	structured *llm.StructuredClient
	registry   *ParamRegistry
	executor   Executor
	topK       int
}

// NewPipeline constructs a selection pipeline. topK defaults to 5.
func NewPipeline(
	logger *slog.Logger,
	embedder llm.Embedder,
	vectors VectorSearcher,
	runbooks RunbookLookup,
	structured *llm.StructuredClient,
	registry *ParamRegistry,
	executor Executor,
	topK int,
) *Pipeline {
	if topK <= 0 {
		topK = 5
	}
	return &Pipeline{
		logger:     utils.Component(logger, "pipeline"),
		embedder:   embedder,
		vectors:    vectors,
		runbooks:   runbooks,
		structured: structured,
		registry:   registry,
		executor:   executor,
		topK:       topK,
	}
}

// Run selects and executes a runbook for the incident. Executions run sequentially, and a
// failed execution does not prevent the remaining targets from running.
func (p *Pipeline) Run(ctx context.Context, incident models.IncidentRequest, hooks HookFactory) (RunResult, error) {
	started := time.Now()
	sel, err := p.Select(ctx, incident)
	result := RunResult{Selection: sel}
	if err != nil {
		metrics.ObservePipeline(time.Since(started), metrics.OutcomeError)
		return result, err
	}
	if sel.Stage != StagePlanned {
		metrics.ObservePipeline(time.Since(started), metrics.OutcomeNoMatch)
		return result, nil
	}
	metrics.ObservePipeline(time.Since(started), metrics.OutcomeSuccess)

	for _, target := range sel.Targets {
		if target.Plan.Ambiguous() || target.Plan.Kind() == "" {
			result.Skipped++
			p.logger.Info("execution skipped",
				slog.String("sys_id", incident.SysID),
				slog.String("target", target.Target),
				slog.String("func_name", target.Plan.FuncName),
				slog.String("ambiguity", target.Plan.Ambiguity))
			continue
		}

		var hook CompletionHook
		if hooks != nil {
			hook = hooks(sel.Runbook, target.Target)
		}
		result.Attempted++
		err := p.executor.Execute(ctx, Execution{
			Runbook: sel.Runbook.Name,
			Params:  target.Params,
			Plan:    target.Plan,
			Target:  target.Target,
		}, hook)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			p.logger.Error("execution failed",
				slog.String("sys_id", incident.SysID),
				slog.String("runbook", sel.Runbook.Name),
				slog.String("target", target.Target),
				slog.Any("error", err))
		}
	}
	return result, nil
}

// Select runs retrieval, runbook choice, parameter resolution and per-target action
// classification without executing anything.
func (p *Pipeline) Select(ctx context.Context, incident models.IncidentRequest) (Selection, error) {
	ctx, span := startSpan(ctx, "pipeline.Select", attribute.String("incident.sys_id", incident.SysID))
	defer span.End()

	var sel Selection

	vector, err := p.embedder.Embed(ctx, incident.Description)
	if err != nil {
		return sel, fmt.Errorf("embed incident: %w", err)
	}
	hits, err := p.vectors.Query(ctx, vector, p.topK)
	if err != nil {
		return sel, fmt.Errorf("query runbook vectors: %w", err)
	}
	sel.Candidates = hits
	if len(hits) == 0 {
		sel.Stage = StageNoCandidates
		p.logger.Info("no runbook candidates", slog.String("sys_id", incident.SysID))
		return sel, nil
	}

	choice, ok := llm.CompleteStructured[runbookSelection](ctx, p.structured, "runbook_selection",
		runbookSelectionPrompt, selectionUserMessage(incident.Description, hits))
	docID := strings.TrimSpace(choice.DocID)
	if !ok || docID == "" {
		sel.Stage = StageNoSelection
		p.logger.Info("no runbook selected", slog.String("sys_id", incident.SysID), slog.Int("candidates", len(hits)))
		return sel, nil
	}

	doc, err := p.runbooks.GetByID(ctx, docID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			sel.Stage = StageRunbookMissing
			p.logger.Warn("selected runbook not found", slog.String("doc_id", docID))
			return sel, nil
		}
		return sel, fmt.Errorf("load runbook %s: %w", docID, err)
	}
	sel.Runbook = doc
	sel.Rationale = strings.TrimSpace(choice.Description)
	span.SetAttributes(
		attribute.String("runbook.name", doc.Name),
		attribute.String("runbook.selection_rationale", sel.Rationale))
	p.logger.Info("runbook selected",
		slog.String("sys_id", incident.SysID),
		slog.String("runbook", doc.Name),
		slog.String("rationale", sel.Rationale))

	resolution, err := p.registry.Plan(doc.Args)
	if err != nil {
		return sel, fmt.Errorf("resolve parameters for %s: %w", doc.Name, err)
	}
	sel.Resolution = resolution

	targets := p.targets(ctx, incident.Description, resolution)
	if len(targets) == 0 {
		sel.Stage = StageNoTargets
		p.logger.Info("no targets named for fan-out runbook",
			slog.String("runbook", doc.Name),
			slog.String("parameter", resolution.FanoutParam))
		return sel, nil
	}

	for _, target := range targets {
		params := maps.Clone(resolution.Static)
		if params == nil {
			params = make(map[string]string)
		}
		hint := ""
		if target != "" {
			params[resolution.FanoutParam] = target
			hint = entityHint(target)
		}
		answer, ok := llm.CompleteStructured[actionClassification](ctx, p.structured, "action_classification",
			actionClassificationPrompt, classificationUserMessage(incident.Description, doc.Description, sel.Rationale, hint))
		plan := answer.plan()
		if !ok {
			plan = models.ActionPlan{Ambiguity: "no action classification returned"}
		}
		sel.Targets = append(sel.Targets, TargetPlan{Target: target, Params: params, Plan: plan})
	}
	sel.Stage = StagePlanned
	return sel, nil
}

// targets lists the entities to run against. An empty string stands for a single
// untargeted run, used only when the runbook declares no fan-out parameter.
func (p *Pipeline) targets(ctx context.Context, description string, resolution ResolutionPlan) []string {
	if !resolution.HasFanout() {
		return []string{""}
	}
	names, _ := llm.CompleteStructured[vmNamesResponse](ctx, p.structured, "vm_names",
		vmNamesPrompt, vmNamesUserMessage(description))

	seen := make(map[string]struct{}, len(names.VMNames))
	targets := make([]string, 0, len(names.VMNames))
	for _, name := range names.VMNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		targets = append(targets, name)
	}
	return targets
}
