package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/akhi19-dev/incident-agent/internal/models"
	"github.com/akhi19-dev/incident-agent/internal/repo"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

// ErrUnrecognizedEvent marks an activity log payload that does not describe a runbook change.
var ErrUnrecognizedEvent = errors.New("unrecognized runbook event")

// Names of the monitor resources that route runbook changes to the webhook.
const (
	ActionGroupName     = "nva_actions"
	WebhookReceiverName = "RunbookWebhookReceiver"
	ActivityAlertName   = "runbook_source"
)

// Outcomes of a handled runbook event.
const (
	RunbookCreated     = "created"
	RunbookRepublished = "republished"
	RunbookDeleted     = "deleted"
	RunbookIgnored     = "ignored"
)

var runbookEntityPattern = regexp.MustCompile(`runbooks/([^/]+)`)

// RunbookRepository stores runbook metadata by name and source.
type RunbookRepository interface {
	GetByNameAndSource(ctx context.Context, name, source string) (models.RunbookDocument, error)
	Create(ctx context.Context, doc models.RunbookDocument) (models.RunbookDocument, error)
	MarkPublished(ctx context.Context, id string, published time.Time) error
	Delete(ctx context.Context, id string) error
}

// VectorDeleter drops the embeddings of a runbook.
type VectorDeleter interface {
	DeleteByDocID(ctx context.Context, docID string) (int, error)
}

// RunbookLister enumerates runbooks in the automation account.
type RunbookLister interface {
	ListRunbooks(ctx context.Context) ([]models.RemoteRunbook, error)
	AccountResourceID() string
}

// AlertRegistrar creates the monitor resources that deliver runbook events.
type AlertRegistrar interface {
	EnsureActionGroup(ctx context.Context, name, receiverName, serviceURI string) (string, error)
	EnsureActivityLogAlert(ctx context.Context, alert repo.ActivityLogAlert) (bool, error)
}

// RunbookEvent is the result of handling one activity log notification.
type RunbookEvent struct {
	Runbook string
	Action  string
}

// RunbookSourceService keeps runbook metadata in step with the automation account.
type RunbookSourceService struct {
	logger     *slog.Logger
	runbooks   RunbookRepository
	vectors    VectorDeleter
	lister     RunbookLister
	registrar  AlertRegistrar
	webhookURL string
}

// NewRunbookSourceService wires the source service. vectors, lister and registrar may be nil
// when the corresponding operations are not used.
func NewRunbookSourceService(
	logger *slog.Logger,
	runbooks RunbookRepository,
	vectors VectorDeleter,
	lister RunbookLister,
	registrar AlertRegistrar,
	webhookURL string,
) *RunbookSourceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunbookSourceService{
		logger:     utils.Component(logger, "runbook_source"),
		runbooks:   runbooks,
		vectors:    vectors,
		lister:     lister,
		registrar:  registrar,
		webhookURL: webhookURL,
	}
}

type activityLogEnvelope struct {
	Data struct {
		Context struct {
			ActivityLog *struct {
				EventTimestamp string `json:"eventTimestamp"`
				OperationName  string `json:"operationName"`
				Properties     *struct {
					Entity string `json:"entity"`
				} `json:"properties"`
			} `json:"activityLog"`
		} `json:"context"`
	} `json:"data"`
}

// HandleRunbookEvent applies an activity log alert for a runbook publish or delete.
// Payloads without an entity or timestamp are ignored and reported as RunbookIgnored.
func (s *RunbookSourceService) HandleRunbookEvent(ctx context.Context, payload []byte) (RunbookEvent, error) {
	if s == nil || s.runbooks == nil {
		return RunbookEvent{}, utils.NewAppError("runbook_event", "runbook source not configured", nil)
	}

	entity, timestamp, operation, err := parseActivityLog(payload)
	if errors.Is(err, ErrUnrecognizedEvent) {
		s.logger.Debug("ignoring activity log event", slog.Any("error", err))
		return RunbookEvent{Action: RunbookIgnored}, nil
	}
	if err != nil {
		return RunbookEvent{}, utils.NewBadRequest("runbook_event", "decode payload", err)
	}

	match := runbookEntityPattern.FindStringSubmatch(entity)
	if match == nil {
		return RunbookEvent{}, utils.NewBadRequest("runbook_event", "entity does not name a runbook", fmt.Errorf("entity %q", entity))
	}
	name := match[1]

	if strings.EqualFold(operation, repo.OperationRunbookDelete) {
		return s.deleteRunbook(ctx, name)
	}

	published, err := utils.ParseEventTimestamp(timestamp)
	if err != nil {
		return RunbookEvent{}, utils.NewBadRequest("runbook_event", "invalid event timestamp", err)
	}

	existing, err := s.runbooks.GetByNameAndSource(ctx, name, models.SourceAzure)
	switch {
	case err == nil:
		if err := s.runbooks.MarkPublished(ctx, existing.ID, published); err != nil {
			return RunbookEvent{}, utils.NewBadRequest("runbook_event", "mark runbook published", err)
		}
		s.logger.Info("runbook republished", slog.String("runbook", name), slog.String("id", existing.ID))
		return RunbookEvent{Runbook: name, Action: RunbookRepublished}, nil
	case errors.Is(err, repo.ErrNotFound):
		doc, err := s.runbooks.Create(ctx, models.RunbookDocument{
			Name:          name,
			Source:        models.SourceAzure,
			PublishedTime: &published,
		})
		if err != nil {
			return RunbookEvent{}, utils.NewBadRequest("runbook_event", "record runbook", err)
		}
		s.logger.Info("runbook recorded", slog.String("runbook", name), slog.String("id", doc.ID))
		return RunbookEvent{Runbook: name, Action: RunbookCreated}, nil
	default:
		return RunbookEvent{}, utils.NewBadRequest("runbook_event", "lookup runbook", err)
	}
}

func (s *RunbookSourceService) deleteRunbook(ctx context.Context, name string) (RunbookEvent, error) {
	existing, err := s.runbooks.GetByNameAndSource(ctx, name, models.SourceAzure)
	if errors.Is(err, repo.ErrNotFound) {
		return RunbookEvent{Runbook: name, Action: RunbookIgnored}, nil
	}
	if err != nil {
		return RunbookEvent{}, utils.NewBadRequest("runbook_event", "lookup runbook", err)
	}
	if s.vectors != nil {
		if _, err := s.vectors.DeleteByDocID(ctx, existing.ID); err != nil {
			return RunbookEvent{}, utils.NewBadRequest("runbook_event", "delete runbook vectors", err)
		}
	}
	if err := s.runbooks.Delete(ctx, existing.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return RunbookEvent{}, utils.NewBadRequest("runbook_event", "delete runbook", err)
	}
	s.logger.Info("runbook deleted", slog.String("runbook", name), slog.String("id", existing.ID))
	return RunbookEvent{Runbook: name, Action: RunbookDeleted}, nil
}

func parseActivityLog(payload []byte) (entity, timestamp, operation string, err error) {
	var envelope activityLogEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", "", "", err
	}
	activity := envelope.Data.Context.ActivityLog
	if activity == nil {
		return "", "", "", fmt.Errorf("%w: missing activityLog", ErrUnrecognizedEvent)
	}
	if activity.Properties == nil {
		return "", "", "", fmt.Errorf("%w: missing properties", ErrUnrecognizedEvent)
	}
	entity = strings.TrimSpace(activity.Properties.Entity)
	if entity == "" {
		return "", "", "", fmt.Errorf("%w: missing entity", ErrUnrecognizedEvent)
	}
	timestamp = strings.TrimSpace(activity.EventTimestamp)
	if timestamp == "" {
		return "", "", "", fmt.Errorf("%w: missing eventTimestamp", ErrUnrecognizedEvent)
	}
	return entity, timestamp, activity.OperationName, nil
}

// SyncExistingRunbooks records runbooks present in the account but unknown locally.
// It returns how many were added.
func (s *RunbookSourceService) SyncExistingRunbooks(ctx context.Context) (int, error) {
	if s == nil || s.lister == nil || s.runbooks == nil {
		return 0, fmt.Errorf("runbook sync not configured")
	}
	remote, err := s.lister.ListRunbooks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list runbooks: %w", err)
	}

	added := 0
	for _, rb := range remote {
		_, err := s.runbooks.GetByNameAndSource(ctx, rb.Name, models.SourceAzure)
		if err == nil {
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("runbook lookup failed during sync", slog.String("runbook", rb.Name), slog.Any("error", err))
			continue
		}
		if _, err := s.runbooks.Create(ctx, models.RunbookDocument{
			Name:          rb.Name,
			Source:        models.SourceAzure,
			Type:          rb.RunbookType,
			PublishedTime: rb.LastModified,
		}); err != nil {
			if repo.IsUniqueViolation(err) {
				continue
			}
			s.logger.Warn("runbook insert failed during sync", slog.String("runbook", rb.Name), slog.Any("error", err))
			continue
		}
		added++
	}
	s.logger.Info("runbook sync finished", slog.Int("listed", len(remote)), slog.Int("added", added))
	return added, nil
}

// RegisterAlerts ensures the action group and activity log alert that call the runbook webhook exist.
func (s *RunbookSourceService) RegisterAlerts(ctx context.Context) error {
	if s == nil || s.registrar == nil || s.lister == nil {
		return fmt.Errorf("alert registration not configured")
	}
	if strings.TrimSpace(s.webhookURL) == "" {
		return fmt.Errorf("webhook endpoint url is required")
	}

	groupID, err := s.registrar.EnsureActionGroup(ctx, ActionGroupName, WebhookReceiverName, s.webhookURL)
	if err != nil {
		return fmt.Errorf("ensure action group: %w", err)
	}
	created, err := s.registrar.EnsureActivityLogAlert(ctx, repo.ActivityLogAlert{
		Name:          ActivityAlertName,
		Scope:         s.lister.AccountResourceID(),
		ActionGroupID: groupID,
		Description:   "Trigger an action when a Runbook is published or deleted",
	})
	if err != nil {
		return fmt.Errorf("ensure activity log alert: %w", err)
	}
	s.logger.Info("runbook alerts registered", slog.String("action_group", groupID), slog.Bool("created", created))
	return nil
}
