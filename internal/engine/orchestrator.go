package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/akhi19-dev/incident-agent/internal/metrics"
	"github.com/akhi19-dev/incident-agent/internal/models"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

// ErrAmbiguousPlan is returned when asked to execute a plan the model flagged as unsafe.
var ErrAmbiguousPlan = errors.New("action plan is ambiguous")

// ScheduleValidationError rejects a schedule before anything is created remotely.
type ScheduleValidationError struct {
	Field  string
	Reason string
}

func (e *ScheduleValidationError) Error() string {
	return fmt.Sprintf("invalid schedule %s: %s", e.Field, e.Reason)
}

// AutomationRunner is the remote job API used to run runbooks.
type AutomationRunner interface {
	CreateJob(ctx context.Context, jobName, runbook string, params map[string]string) error
	GetJobStatus(ctx context.Context, jobName string) (models.JobStatus, error)
	GetJobOutput(ctx context.Context, jobName string) (string, error)
	CreateSchedule(ctx context.Context, spec models.ScheduleSpec) error
	CreateJobSchedule(ctx context.Context, jobScheduleID, scheduleName, runbook string, params map[string]string) error
}

// CompletionHook receives the settled status and output of one execution.
type CompletionHook func(ctx context.Context, status models.JobStatus, output string)

// Execution is one runbook run for at most one target entity.
type Execution struct {
	Runbook string
	Params  map[string]string
	Plan    models.ActionPlan
	Target  string
}

// Orchestrator triggers or schedules runbooks and follows triggered jobs to completion.
type Orchestrator struct {
	logger       *slog.Logger
	runner       AutomationRunner
	pollInterval time.Duration
	maxWait      time.Duration
	validate     *validator.Validate
	newID        func() string
}

// NewOrchestrator constructs an orchestrator. A zero maxWait polls until the job settles.
func NewOrchestrator(logger *slog.Logger, runner AutomationRunner, pollInterval, maxWait time.Duration) *Orchestrator {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Orchestrator{
		logger:       utils.Component(logger, "orchestrator"),
		runner:       runner,
		pollInterval: pollInterval,
		maxWait:      maxWait,
		validate:     newScheduleValidator(),
		newID:        uuid.NewString,
	}
}

// Execute dispatches on the plan kind. Scheduled runs report back through hook immediately.
func (o *Orchestrator) Execute(ctx context.Context, exec Execution, hook CompletionHook) (err error) {
	ctx, span := startSpan(ctx, "orchestrator.Execute",
		attribute.String("runbook.name", exec.Runbook),
		attribute.String("action", exec.Plan.FuncName),
		attribute.String("target", exec.Target))
	defer func() { endSpan(span, err) }()

	if exec.Plan.Ambiguous() {
		return ErrAmbiguousPlan
	}
	if hook == nil {
		hook = func(context.Context, models.JobStatus, string) {}
	}

	switch exec.Plan.Kind() {
	case models.ActionTrigger:
		jobName := o.newID()
		if err := o.runner.CreateJob(ctx, jobName, exec.Runbook, exec.Params); err != nil {
			return err
		}
		o.logger.Info("runbook triggered",
			slog.String("runbook", exec.Runbook),
			slog.String("job", jobName),
			slog.String("target", exec.Target))
		_, err = o.WaitForCompletion(ctx, jobName, hook)
		return err

	case models.ActionSchedule:
		spec, err := o.scheduleSpec(exec)
		if err != nil {
			return err
		}
		if err := o.runner.CreateSchedule(ctx, spec); err != nil {
			return err
		}
		if err := o.runner.CreateJobSchedule(ctx, o.newID(), spec.Name, exec.Runbook, exec.Params); err != nil {
			return err
		}
		o.logger.Info("runbook scheduled",
			slog.String("runbook", exec.Runbook),
			slog.String("schedule", spec.Name),
			slog.String("start", spec.StartTime),
			slog.String("frequency", spec.Frequency))
		hook(ctx, models.JobCompleted, scheduledMessage(exec.Target))
		return nil

	default:
		return fmt.Errorf("unsupported action %q", exec.Plan.FuncName)
	}
}

// WaitForCompletion polls jobName until it settles or maxWait elapses, then calls hook once.
// On cancellation it returns ctx.Err() without calling hook.
func (o *Orchestrator) WaitForCompletion(ctx context.Context, jobName string, hook CompletionHook) (models.JobStatus, error) {
	started := time.Now()
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if o.maxWait > 0 {
		timer := time.NewTimer(o.maxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		status, err := o.runner.GetJobStatus(ctx, jobName)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			o.logger.Warn("job status fetch failed", slog.String("job", jobName), slog.Any("error", err))
		case status.Terminal():
			output := ""
			if status.HasOutput() {
				if output, err = o.runner.GetJobOutput(ctx, jobName); err != nil {
					o.logger.Warn("job output fetch failed", slog.String("job", jobName), slog.Any("error", err))
					output = ""
				}
			}
			metrics.ObserveJob(string(status), time.Since(started))
			o.logger.Info("job settled", slog.String("job", jobName), slog.String("status", string(status)))
			hook(ctx, status, output)
			return status, nil
		default:
			o.logger.Debug("job pending", slog.String("job", jobName), slog.String("status", string(status)))
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			metrics.ObserveJob(string(models.JobTimedOut), time.Since(started))
			o.logger.Warn("job poll gave up", slog.String("job", jobName), slog.Duration("max_wait", o.maxWait))
			hook(ctx, models.JobTimedOut, "")
			return models.JobTimedOut, nil
		case <-ticker.C:
		}
	}
}

func scheduledMessage(target string) string {
	if target == "" {
		return "Task scheduled"
	}
	return "Task scheduled for " + target
}

type scheduleArgs struct {
	StartTime  string `arg:"start_time" validate:"required"`
	Frequency  string `arg:"frequency" validate:"required,oneof=OneTime Minute Hour Day Week Month"`
	Interval   int    `arg:"interval" validate:"required,gte=1"`
	TimeZone   string `arg:"time_zone" validate:"required,timezone"`
	ExpiryTime string `arg:"expiry_time"`
}

func newScheduleValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string { return f.Tag.Get("arg") })
	return v
}

// scheduleSpec validates the plan args and builds the remote schedule definition.
func (o *Orchestrator) scheduleSpec(exec Execution) (models.ScheduleSpec, error) {
	args := scheduleArgs{
		StartTime:  exec.Plan.Args[models.ArgStartTime],
		Frequency:  exec.Plan.Args[models.ArgFrequency],
		TimeZone:   exec.Plan.Args[models.ArgTimeZone],
		ExpiryTime: exec.Plan.Args[models.ArgExpiryTime],
	}
	if args.TimeZone == "" {
		args.TimeZone = "UTC"
	}
	if raw := exec.Plan.Args[models.ArgInterval]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return models.ScheduleSpec{}, &ScheduleValidationError{Field: models.ArgInterval, Reason: "must be a positive integer"}
		}
		args.Interval = n
	}

	if err := o.validate.Struct(args); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return models.ScheduleSpec{}, &ScheduleValidationError{Field: fe.Field(), Reason: "failed " + fe.ActualTag() + " check"}
		}
		return models.ScheduleSpec{}, err
	}

	loc, err := time.LoadLocation(args.TimeZone)
	if err != nil {
		return models.ScheduleSpec{}, &ScheduleValidationError{Field: models.ArgTimeZone, Reason: err.Error()}
	}
	start, err := utils.ParseISO8601(args.StartTime, loc)
	if err != nil {
		return models.ScheduleSpec{}, &ScheduleValidationError{Field: models.ArgStartTime, Reason: "must be an ISO-8601 timestamp"}
	}
	spec := models.ScheduleSpec{
		Name:        o.newID(),
		Description: "Schedule for runbook " + exec.Runbook,
		StartTime:   start.Format(time.RFC3339),
		Interval:    args.Interval,
		Frequency:   args.Frequency,
		TimeZone:    args.TimeZone,
	}
	if args.ExpiryTime != "" {
		expiry, err := utils.ParseISO8601(args.ExpiryTime, loc)
		if err != nil {
			return models.ScheduleSpec{}, &ScheduleValidationError{Field: models.ArgExpiryTime, Reason: "must be an ISO-8601 timestamp"}
		}
		if !expiry.After(start) {
			return models.ScheduleSpec{}, &ScheduleValidationError{Field: models.ArgExpiryTime, Reason: "must be after start_time"}
		}
		spec.ExpiryTime = expiry.Format(time.RFC3339)
	}
	return spec, nil
}
