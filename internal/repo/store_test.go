package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: want %d columns, got %d", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch target := d.(type) {
		case *string:
			*target = r.values[i].(string)
		case *bool:
			*target = r.values[i].(bool)
		case *[]byte:
			*target = r.values[i].([]byte)
		case *time.Time:
			*target = r.values[i].(time.Time)
		case *sql.NullTime:
			if r.values[i] == nil {
				*target = sql.NullTime{}
			} else {
				*target = sql.NullTime{Time: r.values[i].(time.Time), Valid: true}
			}
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}

func TestRunbookQueriesKeepNaturalKey(t *testing.T) {
	if !strings.Contains(selectRunbookByNameSourceQuery, "name = $1 AND source = $2") {
		t.Fatalf("expected name/source predicate in lookup query")
	}
	if !strings.Contains(selectUnindexedRunbooksQuery, "is_indexed = FALSE") {
		t.Fatalf("expected unindexed predicate")
	}
	if !strings.Contains(markRunbookPublishedQuery, "is_indexed = FALSE") {
		t.Fatalf("expected republish to reset is_indexed")
	}
	if !strings.Contains(markRunbookIndexedQuery, "is_indexed = TRUE") {
		t.Fatalf("expected indexing to set is_indexed")
	}
}

func TestIncidentInsertIsIdempotent(t *testing.T) {
	if !strings.Contains(insertIncidentQuery, "ON CONFLICT (url) DO NOTHING") {
		t.Fatalf("expected url conflict clause in incident insert")
	}
	if !strings.Contains(updateIncidentOutcomeQuery, "runbook_executed = TRUE") {
		t.Fatalf("expected outcome update to mark runbook executed")
	}
}

func TestScanRunbookDecodesJSONColumns(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	args, _ := json.Marshal([]string{"vmname:get_vm_names()"})
	row := fakeRow{values: []any{
		"doc-1", "cleanup_disk", "azure", "frees disk", []byte(`["linux"]`), args, "PowerShell", []byte(nil),
		now, true, now, now,
	}}

	doc, err := scanRunbook(row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Args) != 1 || doc.Args[0] != "vmname:get_vm_names()" {
		t.Fatalf("unexpected args %v", doc.Args)
	}
	if len(doc.OSSupported) != 1 || doc.OSSupported[0] != "linux" {
		t.Fatalf("unexpected os %v", doc.OSSupported)
	}
	if doc.Tags == nil || len(doc.Tags) != 0 {
		t.Fatalf("expected empty tags, got %v", doc.Tags)
	}
	if doc.PublishedTime == nil || !doc.PublishedTime.Equal(now) {
		t.Fatalf("unexpected published time %v", doc.PublishedTime)
	}
}

func TestScanRunbookNullPublished(t *testing.T) {
	now := time.Now().UTC()
	row := fakeRow{values: []any{
		"doc-2", "restart", "azure", "", []byte(`[]`), []byte(`[]`), "", []byte(`[]`),
		nil, false, now, now,
	}}
	doc, err := scanRunbook(row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.PublishedTime != nil {
		t.Fatalf("expected nil published time")
	}
}

func TestHandleNotFound(t *testing.T) {
	if !errors.Is(handleNotFound(sql.ErrNoRows), ErrNotFound) {
		t.Fatalf("expected sql.ErrNoRows to map to ErrNotFound")
	}
	other := errors.New("boom")
	if handleNotFound(other) != other {
		t.Fatalf("expected other errors to pass through")
	}
	if _, err := scanIncident(fakeRow{err: sql.ErrNoRows}); !errors.Is(handleNotFound(err), ErrNotFound) {
		t.Fatalf("expected missing incident to be not found")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation")
	}
	if IsUniqueViolation(errors.New("other")) {
		t.Fatalf("did not expect unique violation")
	}
}

func TestStoresRequireDB(t *testing.T) {
	if NewRunbookStore(nil) != nil || NewIncidentStore(nil) != nil {
		t.Fatalf("expected nil stores without a db")
	}
	var s *RunbookStore
	if _, err := s.ListUnindexed(context.Background()); err == nil {
		t.Fatalf("expected error from nil store")
	}
}
