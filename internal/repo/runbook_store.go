package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akhi19-dev/incident-agent/internal/models"
)

// RunbookStore persists runbook metadata in Postgres.
type RunbookStore struct {
	db  DB
	now func() time.Time
}

const runbookColumns = `id, name, source, description, os_supported, args, type, tags, published_time, is_indexed, created_time, updated_time`

const (
	insertRunbookQuery = `INSERT INTO automation_runbook_documents (` + runbookColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
	RETURNING ` + runbookColumns

	selectRunbookByIDQuery = `SELECT ` + runbookColumns + `
	 FROM automation_runbook_documents
	 WHERE id = $1`

	selectRunbookByNameSourceQuery = `SELECT ` + runbookColumns + `
	 FROM automation_runbook_documents
	 WHERE name = $1 AND source = $2`

	selectUnindexedRunbooksQuery = `SELECT ` + runbookColumns + `
	 FROM automation_runbook_documents
	 WHERE is_indexed = FALSE
	 ORDER BY created_time ASC`

	markRunbookIndexedQuery = `UPDATE automation_runbook_documents
	 SET is_indexed = TRUE, description = $2, os_supported = $3, args = $4, updated_time = $5
	 WHERE id = $1`

	markRunbookPublishedQuery = `UPDATE automation_runbook_documents
	 SET is_indexed = FALSE, published_time = $2, updated_time = $3
	 WHERE id = $1`

	deleteRunbookQuery = `DELETE FROM automation_runbook_documents WHERE id = $1`
)

// NewRunbookStore wires a store over db.
func NewRunbookStore(db DB) *RunbookStore {
	if db == nil {
		return nil
	}
	return &RunbookStore{db: db, now: time.Now}
}

// Create inserts doc, assigning an id when none is set.
func (s *RunbookStore) Create(ctx context.Context, doc models.RunbookDocument) (models.RunbookDocument, error) {
	if s == nil || s.db == nil {
		return models.RunbookDocument{}, fmt.Errorf("runbook store not initialized")
	}
	doc.Name = strings.TrimSpace(doc.Name)
	doc.Source = strings.TrimSpace(doc.Source)
	if doc.Name == "" {
		return models.RunbookDocument{}, fmt.Errorf("runbook name is required")
	}
	if doc.Source == "" {
		return models.RunbookDocument{}, fmt.Errorf("runbook source is required")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	osJSON, err := encodeStrings(doc.OSSupported)
	if err != nil {
		return models.RunbookDocument{}, fmt.Errorf("encode os: %w", err)
	}
	argsJSON, err := encodeStrings(doc.Args)
	if err != nil {
		return models.RunbookDocument{}, fmt.Errorf("encode args: %w", err)
	}
	tagsJSON, err := encodeStrings(doc.Tags)
	if err != nil {
		return models.RunbookDocument{}, fmt.Errorf("encode tags: %w", err)
	}

	row := s.db.QueryRowContext(ctx, insertRunbookQuery,
		doc.ID, doc.Name, doc.Source, doc.Description, osJSON, argsJSON, doc.Type, tagsJSON,
		nullTime(doc.PublishedTime), doc.IsIndexed, s.now().UTC(),
	)
	created, err := scanRunbook(row)
	if err != nil {
		return models.RunbookDocument{}, fmt.Errorf("insert runbook: %w", err)
	}
	return created, nil
}

// GetByID loads a runbook or returns ErrNotFound.
func (s *RunbookStore) GetByID(ctx context.Context, id string) (models.RunbookDocument, error) {
	if s == nil || s.db == nil {
		return models.RunbookDocument{}, fmt.Errorf("runbook store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return models.RunbookDocument{}, ErrNotFound
	}
	doc, err := scanRunbook(s.db.QueryRowContext(ctx, selectRunbookByIDQuery, id))
	if err != nil {
		return models.RunbookDocument{}, handleNotFound(err)
	}
	return doc, nil
}

// GetByNameAndSource loads a runbook by its natural key or returns ErrNotFound.
func (s *RunbookStore) GetByNameAndSource(ctx context.Context, name, source string) (models.RunbookDocument, error) {
	if s == nil || s.db == nil {
		return models.RunbookDocument{}, fmt.Errorf("runbook store not initialized")
	}
	doc, err := scanRunbook(s.db.QueryRowContext(ctx, selectRunbookByNameSourceQuery, name, source))
	if err != nil {
		return models.RunbookDocument{}, handleNotFound(err)
	}
	return doc, nil
}

// ListUnindexed returns every runbook still waiting for the indexer, oldest first.
func (s *RunbookStore) ListUnindexed(ctx context.Context) ([]models.RunbookDocument, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("runbook store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, selectUnindexedRunbooksQuery)
	if err != nil {
		return nil, fmt.Errorf("list unindexed runbooks: %w", err)
	}
	defer rows.Close()

	var docs []models.RunbookDocument
	for rows.Next() {
		doc, err := scanRunbook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan runbook: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runbooks: %w", err)
	}
	return docs, nil
}

// MarkIndexed records the indexer output and flips is_indexed.
func (s *RunbookStore) MarkIndexed(ctx context.Context, id string, update models.RunbookIndexUpdate) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("runbook store not initialized")
	}
	osJSON, err := encodeStrings(update.OSSupported)
	if err != nil {
		return fmt.Errorf("encode os: %w", err)
	}
	argsJSON, err := encodeStrings(update.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	res, err := s.db.ExecContext(ctx, markRunbookIndexedQuery, id, update.Description, osJSON, argsJSON, s.now().UTC())
	if err != nil {
		return fmt.Errorf("mark runbook indexed: %w", err)
	}
	return requireAffected(res)
}

// MarkPublished stamps a republish and queues the runbook for reindexing.
func (s *RunbookStore) MarkPublished(ctx context.Context, id string, published time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("runbook store not initialized")
	}
	res, err := s.db.ExecContext(ctx, markRunbookPublishedQuery, id, published.UTC(), s.now().UTC())
	if err != nil {
		return fmt.Errorf("mark runbook published: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a runbook record.
func (s *RunbookStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("runbook store not initialized")
	}
	res, err := s.db.ExecContext(ctx, deleteRunbookQuery, id)
	if err != nil {
		return fmt.Errorf("delete runbook: %w", err)
	}
	return requireAffected(res)
}

func scanRunbook(row rowScanner) (models.RunbookDocument, error) {
	var (
		doc                      models.RunbookDocument
		osJSON, argsJSON, tagsJS []byte
		published                sql.NullTime
	)
	if err := row.Scan(
		&doc.ID, &doc.Name, &doc.Source, &doc.Description, &osJSON, &argsJSON, &doc.Type, &tagsJS,
		&published, &doc.IsIndexed, &doc.CreatedTime, &doc.UpdatedTime,
	); err != nil {
		return models.RunbookDocument{}, err
	}

	var err error
	if doc.OSSupported, err = decodeStrings(osJSON); err != nil {
		return models.RunbookDocument{}, fmt.Errorf("decode os: %w", err)
	}
	if doc.Args, err = decodeStrings(argsJSON); err != nil {
		return models.RunbookDocument{}, fmt.Errorf("decode args: %w", err)
	}
	if doc.Tags, err = decodeStrings(tagsJS); err != nil {
		return models.RunbookDocument{}, fmt.Errorf("decode tags: %w", err)
	}
	if published.Valid {
		ts := published.Time.UTC()
		doc.PublishedTime = &ts
	}
	return doc, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
