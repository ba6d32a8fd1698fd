package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/akhi19-dev/incident-agent/internal/config"
	"github.com/akhi19-dev/incident-agent/internal/llm"
	"github.com/akhi19-dev/incident-agent/internal/models"
	"github.com/akhi19-dev/incident-agent/internal/repo"
)

var testPolicy = llm.RetryPolicy{Initial: time.Millisecond, Max: time.Millisecond, Attempts: 1}

// routeCompleter answers each structured call by schema name.
type routeCompleter struct {
	mu       sync.Mutex
	routes   map[string]func(req llm.CompletionRequest) string
	calls    map[string]int
	messages map[string][]string
}

func newRouteCompleter(routes map[string]func(req llm.CompletionRequest) string) *routeCompleter {
	return &routeCompleter{routes: routes, calls: map[string]int{}, messages: map[string][]string{}}
}

func (r *routeCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[req.SchemaName]++
	r.messages[req.SchemaName] = append(r.messages[req.SchemaName], req.User)
	route, ok := r.routes[req.SchemaName]
	if !ok {
		return "", errors.New("no route for " + req.SchemaName)
	}
	return route(req), nil
}

func fixed(body string) func(llm.CompletionRequest) string {
	return func(llm.CompletionRequest) string { return body }
}

func structuredFor(c llm.Completer) *llm.StructuredClient {
	return llm.NewStructuredClient(c, testPolicy, nil)
}

type fakeEmbedder struct {
	err   error
	texts []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// fakeVectors is an in-memory vector index keyed by doc id.
type fakeVectors struct {
	records []models.VectorRecord
	hits    []models.VectorHit
	queries int
}

func (f *fakeVectors) Query(_ context.Context, _ []float32, _ int) ([]models.VectorHit, error) {
	f.queries++
	return f.hits, nil
}

func (f *fakeVectors) DeleteByDocID(_ context.Context, docID string) (int, error) {
	kept := f.records[:0]
	removed := 0
	for _, r := range f.records {
		if r.DocID == docID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	f.records = kept
	return removed, nil
}

func (f *fakeVectors) Insert(_ context.Context, record models.VectorRecord) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeVectors) countFor(docID string) int {
	n := 0
	for _, r := range f.records {
		if r.DocID == docID {
			n++
		}
	}
	return n
}

type fakeRunbooks struct {
	docs    map[string]models.RunbookDocument
	lookups int
	updates map[string]models.RunbookIndexUpdate
}

func (f *fakeRunbooks) GetByID(_ context.Context, id string) (models.RunbookDocument, error) {
	f.lookups++
	doc, ok := f.docs[id]
	if !ok {
		return models.RunbookDocument{}, repo.ErrNotFound
	}
	return doc, nil
}

func (f *fakeRunbooks) ListUnindexed(context.Context) ([]models.RunbookDocument, error) {
	var out []models.RunbookDocument
	for _, d := range f.docs {
		if !d.IsIndexed {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeRunbooks) MarkIndexed(_ context.Context, id string, update models.RunbookIndexUpdate) error {
	if f.updates == nil {
		f.updates = map[string]models.RunbookIndexUpdate{}
	}
	f.updates[id] = update
	return nil
}

type fakeRunner struct {
	mu           sync.Mutex
	statuses     []models.JobStatus
	statusErrs   []error
	statusCalls  int
	outputCalls  int
	output       string
	jobs         []string
	jobParams    []map[string]string
	schedules    []models.ScheduleSpec
	jobSchedules []string
}

func (f *fakeRunner) CreateJob(_ context.Context, jobName, _ string, params map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, jobName)
	f.jobParams = append(f.jobParams, params)
	return nil
}

func (f *fakeRunner) GetJobStatus(context.Context, string) (models.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.statusCalls
	f.statusCalls++
	if i < len(f.statusErrs) && f.statusErrs[i] != nil {
		return "", f.statusErrs[i]
	}
	if i >= len(f.statuses) {
		return f.statuses[len(f.statuses)-1], nil
	}
	return f.statuses[i], nil
}

func (f *fakeRunner) GetJobOutput(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputCalls++
	return f.output, nil
}

func (f *fakeRunner) CreateSchedule(_ context.Context, spec models.ScheduleSpec) error {
	f.schedules = append(f.schedules, spec)
	return nil
}

func (f *fakeRunner) CreateJobSchedule(_ context.Context, id, _, _ string, _ map[string]string) error {
	f.jobSchedules = append(f.jobSchedules, id)
	return nil
}

type hookCall struct {
	status models.JobStatus
	output string
}

type hookRecorder struct {
	mu    sync.Mutex
	calls []hookCall
}

func (h *hookRecorder) hook(_ context.Context, status models.JobStatus, output string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, hookCall{status, output})
}

type recordingExecutor struct {
	executions []Execution
	err        error
}

func (r *recordingExecutor) Execute(_ context.Context, exec Execution, hook CompletionHook) error {
	r.executions = append(r.executions, exec)
	if hook != nil {
		hook(context.Background(), models.JobCompleted, "done")
	}
	return r.err
}

func testRegistry() *ParamRegistry {
	return NewParamRegistry(
		config.AzureConfig{SubscriptionID: "sub-1", ResourceGroup: "rg-1", TenantID: "tenant-1"},
		config.AWSConfig{AccessKeyID: "AKIA", SecretAccessKey: "secret", Region: "us-east-1"},
	)
}
