package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/akhi19-dev/incident-agent/internal/engine"
	"github.com/akhi19-dev/incident-agent/internal/metrics"
	"github.com/akhi19-dev/incident-agent/internal/models"
	"github.com/akhi19-dev/incident-agent/internal/repo"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

const (
	incidentStatusNew   = "new"
	defaultWriteTimeout = 30 * time.Second
)

// IncidentRepository persists incident mirrors.
type IncidentRepository interface {
	FindByURL(ctx context.Context, url string) (models.Incident, error)
	Create(ctx context.Context, inc models.Incident) (models.Incident, bool, error)
	UpdateRunbookOutcome(ctx context.Context, url string, outcome models.RunbookOutcome) error
}

// TicketNotifier writes job results back onto the ticket.
type TicketNotifier interface {
	AppendJobNote(ctx context.Context, sysID, status, output string, at time.Time) error
}

// IncidentPipeline selects and runs a runbook for an incident.
type IncidentPipeline interface {
	Run(ctx context.Context, incident models.IncidentRequest, hooks engine.HookFactory) (engine.RunResult, error)
}

// RunbookLinker renders portal links to runbooks in one automation account.
type RunbookLinker struct {
	TenantDomain   string
	SubscriptionID string
	ResourceGroup  string
	Account        string
}

// Link returns the portal overview URL for the named runbook.
func (l RunbookLinker) Link(name string) string {
	return fmt.Sprintf(
		"https://portal.azure.com/#@%s/resource/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Automation/automationAccounts/%s/runbooks/%s/overview",
		l.TenantDomain, l.SubscriptionID, l.ResourceGroup, l.Account, name,
	)
}

// IncidentService accepts incident webhooks and dispatches the selection pipeline.
type IncidentService struct {
	logger       *slog.Logger
	incidents    IncidentRepository
	notifier     TicketNotifier
	pipeline     IncidentPipeline
	linker       RunbookLinker
	instanceURL  string
	writeTimeout time.Duration
	now          func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewIncidentService wires the incident flow. instanceURL is the ticketing instance used to build dedupe keys.
func NewIncidentService(
	logger *slog.Logger,
	incidents IncidentRepository,
	notifier TicketNotifier,
	pipeline IncidentPipeline,
	linker RunbookLinker,
	instanceURL string,
) *IncidentService {
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &IncidentService{
		logger:       utils.Component(logger, "incident_service"),
		incidents:    incidents,
		notifier:     notifier,
		pipeline:     pipeline,
		linker:       linker,
		instanceURL:  instanceURL,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
		baseCtx:      baseCtx,
		cancel:       cancel,
	}
}

// HandleIncident records the incident if it is new and starts the pipeline in the background.
// A redelivered incident is not recreated but the pipeline runs again.
func (s *IncidentService) HandleIncident(ctx context.Context, req models.IncidentRequest) (models.Incident, bool, error) {
	if s == nil || s.incidents == nil || s.pipeline == nil {
		return models.Incident{}, false, utils.NewAppError("handle_incident", "incident service not configured", nil)
	}
	if strings.TrimSpace(req.SysID) == "" {
		return models.Incident{}, false, utils.NewBadRequest("handle_incident", "sys_id is required", nil)
	}

	url := models.IncidentURL(s.instanceURL, req.SysID)
	incident, err := s.incidents.FindByURL(ctx, url)
	deduplicated := true
	switch {
	case err == nil:
		s.logger.Info("incident already recorded", slog.String("url", url))
	case errors.Is(err, repo.ErrNotFound):
		var created bool
		incident, created, err = s.incidents.Create(ctx, models.Incident{
			URL:         url,
			SysID:       req.SysID,
			Subject:     req.ShortDescription,
			Description: req.Description,
			Severity:    req.Severity,
			Status:      incidentStatusNew,
		})
		if err != nil {
			return models.Incident{}, false, utils.NewAppError("handle_incident", "record incident", err)
		}
		deduplicated = !created
	default:
		return models.Incident{}, false, utils.NewAppError("handle_incident", "lookup incident", err)
	}
	metrics.ObserveIncident(deduplicated)

	s.dispatch(req, url)
	return incident, deduplicated, nil
}

func (s *IncidentService) dispatch(req models.IncidentRequest, url string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logger := s.logger.With(slog.String("sys_id", req.SysID))
		result, err := s.pipeline.Run(s.baseCtx, req, s.hookFactory(req.SysID, url))
		if err != nil {
			logger.Error("pipeline run failed", slog.Any("error", err))
			return
		}
		logger.Info("pipeline run finished",
			slog.String("stage", result.Stage),
			slog.String("runbook", result.Runbook.Name),
			slog.Int("attempted", result.Attempted),
			slog.Int("failed", result.Failed),
			slog.Int("skipped", result.Skipped),
		)
	}()
}

func (s *IncidentService) hookFactory(sysID, url string) engine.HookFactory {
	return func(runbook models.RunbookDocument, target string) engine.CompletionHook {
		return func(ctx context.Context, status models.JobStatus, output string) {
			writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
			defer cancel()

			logger := s.logger.With(
				slog.String("sys_id", sysID),
				slog.String("runbook", runbook.Name),
				slog.String("target", target),
				slog.String("status", string(status)),
			)
			outcome := models.RunbookOutcome{
				Status: string(status),
				Name:   runbook.Name,
				Link:   s.linker.Link(runbook.Name),
				Output: output,
			}
			if err := s.incidents.UpdateRunbookOutcome(writeCtx, url, outcome); err != nil {
				logger.Error("record runbook outcome failed", slog.Any("error", err))
			}
			if s.notifier == nil {
				return
			}
			if err := s.notifier.AppendJobNote(writeCtx, sysID, string(status), output, s.now()); err != nil {
				logger.Error("ticket note failed", slog.Any("error", err))
			}
		}
	}
}

// Shutdown waits for in-flight pipeline runs. When ctx expires first the runs are cancelled.
func (s *IncidentService) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
