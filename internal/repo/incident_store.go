package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akhi19-dev/incident-agent/internal/models"
)

// IncidentStore persists ticket mirrors in Postgres.
type IncidentStore struct {
	db  DB
	now func() time.Time
}

const incidentColumns = `id, url, sys_id, subject, description, severity, status, runbook_executed, runbook_status, runbook_name, runbook_link, runbook_output, created_time, updated_time`

const (
	insertIncidentQuery = `INSERT INTO incidents (id, url, sys_id, subject, description, severity, status, created_time, updated_time)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
	ON CONFLICT (url) DO NOTHING
	RETURNING ` + incidentColumns

	selectIncidentByURLQuery = `SELECT ` + incidentColumns + `
	 FROM incidents
	 WHERE url = $1`

	updateIncidentOutcomeQuery = `UPDATE incidents
	 SET runbook_executed = TRUE, runbook_status = $2, runbook_name = $3, runbook_link = $4, runbook_output = $5, updated_time = $6
	 WHERE url = $1`
)

// NewIncidentStore wires a store over db.
func NewIncidentStore(db DB) *IncidentStore {
	if db == nil {
		return nil
	}
	return &IncidentStore{db: db, now: time.Now}
}

// FindByURL loads an incident by its dedupe URL or returns ErrNotFound.
func (s *IncidentStore) FindByURL(ctx context.Context, url string) (models.Incident, error) {
	if s == nil || s.db == nil {
		return models.Incident{}, fmt.Errorf("incident store not initialized")
	}
	inc, err := scanIncident(s.db.QueryRowContext(ctx, selectIncidentByURLQuery, url))
	if err != nil {
		return models.Incident{}, handleNotFound(err)
	}
	return inc, nil
}

// Create inserts inc. The boolean is false when another writer already holds the URL,
// in which case the existing row is returned.
func (s *IncidentStore) Create(ctx context.Context, inc models.Incident) (models.Incident, bool, error) {
	if s == nil || s.db == nil {
		return models.Incident{}, false, fmt.Errorf("incident store not initialized")
	}
	inc.URL = strings.TrimSpace(inc.URL)
	if inc.URL == "" {
		return models.Incident{}, false, fmt.Errorf("incident url is required")
	}
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Status == "" {
		inc.Status = "new"
	}

	row := s.db.QueryRowContext(ctx, insertIncidentQuery,
		inc.ID, inc.URL, inc.SysID, inc.Subject, inc.Description, inc.Severity, inc.Status, s.now().UTC(),
	)
	created, err := scanIncident(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return models.Incident{}, false, fmt.Errorf("insert incident: %w", err)
		}
		existing, err := s.FindByURL(ctx, inc.URL)
		if err != nil {
			return models.Incident{}, false, err
		}
		return existing, false, nil
	}
	return created, true, nil
}

// UpdateRunbookOutcome records the result of a runbook run against the incident.
func (s *IncidentStore) UpdateRunbookOutcome(ctx context.Context, url string, outcome models.RunbookOutcome) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("incident store not initialized")
	}
	res, err := s.db.ExecContext(ctx, updateIncidentOutcomeQuery,
		url, strings.ToLower(outcome.Status), outcome.Name, outcome.Link, outcome.Output, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update incident outcome: %w", err)
	}
	return requireAffected(res)
}

func scanIncident(row rowScanner) (models.Incident, error) {
	var inc models.Incident
	err := row.Scan(
		&inc.ID, &inc.URL, &inc.SysID, &inc.Subject, &inc.Description, &inc.Severity, &inc.Status,
		&inc.RunbookExecuted, &inc.RunbookStatus, &inc.RunbookName, &inc.RunbookLink, &inc.RunbookOutput,
		&inc.CreatedTime, &inc.UpdatedTime,
	)
	return inc, err
}
