package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	srvErrors "github.com/netpool/dispatch/pkg/errors"
)

// Outcome is the terminal disposition of a dispatch operation, as recorded
// in dispatch_audit.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
	Cancelled Outcome = "cancelled"
)

// AuditRecord is one row of dispatch_audit: the audit trail of a single
// terminal Dispatch Operation.
type AuditRecord struct {
	ID         string
	Endpoint   string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	ByteCount  int64
	ErrorText  string // empty when Outcome is Succeeded
}

// AuditStore persists dispatch-operation audit records using DuckDB.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates a new audit store.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append records rec. If rec.ID is empty, a fresh identifier is assigned.
// Callers on the dispatcher's hot path should run Append in its own
// goroutine: the dispatcher never blocks slot release on this call.
func (s *AuditStore) Append(ctx context.Context, rec AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var errText any
	if rec.ErrorText != "" {
		errText = rec.ErrorText
	}
	_, err := s.db.ExecContext(ctx, queryInsertAuditRecord,
		rec.ID, rec.Endpoint, rec.StartedAt, rec.FinishedAt, string(rec.Outcome), rec.ByteCount, errText)
	return err
}

// Get retrieves a single audit record by id.
func (s *AuditStore) Get(ctx context.Context, id string) (*AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, queryGetAuditRecord, id)

	var rec AuditRecord
	var errText sql.NullString
	err := row.Scan(&rec.ID, &rec.Endpoint, &rec.StartedAt, &rec.FinishedAt, &rec.Outcome, &rec.ByteCount, &errText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, srvErrors.NewResourceNotFoundError("dispatch_audit record " + id)
	}
	if err != nil {
		return nil, err
	}
	rec.ErrorText = errText.String
	return &rec, nil
}

// ListOption narrows a List query. Each option mutates a squirrel
// SelectBuilder; options compose freely.
type ListOption func(sq.SelectBuilder) sq.SelectBuilder

// ByEndpoint restricts List to records for the given endpoint key.
func ByEndpoint(endpoint string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.Eq{"endpoint": endpoint})
	}
}

// ByOutcome restricts List to records with the given outcome.
func ByOutcome(outcome Outcome) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.Eq{"outcome": string(outcome)})
	}
}

// Since restricts List to records finished at or after t.
func Since(t time.Time) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.GtOrEq{"finished_at": t})
	}
}

// WithLimit caps the number of rows List returns, most recent first.
func WithLimit(limit uint64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Limit(limit)
	}
}

// List returns audit records matching every opt, most recently finished
// first.
func (s *AuditStore) List(ctx context.Context, opts ...ListOption) ([]AuditRecord, error) {
	builder := sq.Select("id", "endpoint", "started_at", "finished_at", "outcome", "byte_count", "error_text").
		From("dispatch_audit").
		OrderBy("finished_at DESC")

	for _, opt := range opts {
		builder = opt(builder)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var errText sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Endpoint, &rec.StartedAt, &rec.FinishedAt, &rec.Outcome, &rec.ByteCount, &errText); err != nil {
			return nil, err
		}
		rec.ErrorText = errText.String
		records = append(records, rec)
	}
	return records, rows.Err()
}
