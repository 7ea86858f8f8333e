// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reliefnet/beacon/internal/report"
	"github.com/reliefnet/beacon/internal/triage"
)

var tracer = otel.Tracer("github.com/reliefnet/beacon/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists cases in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store over an existing pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const caseColumns = `id, session_id, kind, lat, lon, accuracy_m, captured_at,
	audio_ref, message, image_ref, transcript, analysis, validation, status,
	processing_errors, received_at, processed_at, assigned_at, resolved_at,
	assignee_id, resolution_notes`

// Create inserts a new case. Fails if the ID already exists.
func (s *Store) Create(ctx context.Context, c *triage.Case) error {
	ctx, span := tracer.Start(ctx, "pgstore.Create", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	analysisJSON, validationJSON, errorsJSON, err := marshalJSONColumns(c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	query := `INSERT INTO cases (` + caseColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`

	_, err = s.pool.Exec(ctx, query,
		c.ID, c.SessionID, string(c.Kind), c.Location.Lat, c.Location.Lon,
		nullFloat(c.Location.AccuracyM), nullTime(c.Location.CapturedAt),
		c.AudioRef, c.Message, c.ImageRef, c.Transcript,
		analysisJSON, validationJSON, string(c.Status), errorsJSON,
		c.ReceivedAt, nullTime(c.ProcessedAt), nullTime(c.AssignedAt), nullTime(c.ResolvedAt),
		c.AssigneeID, c.ResolutionNotes,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// Get retrieves a case by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Case, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`
	c, err := scanCaseRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if c == nil {
		return nil, false, nil
	}
	return c, true, nil
}

// Update applies a partial update inside a transaction and returns the
// updated case. Returns (nil, false, nil) when the case does not exist.
func (s *Store) Update(ctx context.Context, id string, p triage.Patch) (*triage.Case, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Update", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	sets, args, err := buildPatch(p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if len(sets) == 0 {
		return s.Get(ctx, id)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE cases SET %s WHERE id = $%d RETURNING `+caseColumns,
		strings.Join(sets, ", "), len(args))

	c, err := scanCaseRow(tx.QueryRow(ctx, query, args...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if c == nil {
		return nil, false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return c, true, nil
}

// List returns cases matching the filter, newest first.
func (s *Store) List(ctx context.Context, f triage.Filter) ([]*triage.Case, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Urgency != "" {
		add("analysis->>'urgency' = $%d", string(f.Urgency))
	}
	if f.SessionID != "" {
		add("session_id = $%d", f.SessionID)
	}

	query := `SELECT ` + caseColumns + ` FROM cases`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY received_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var out []*triage.Case
	for rows.Next() {
		c, err := scanCaseRow(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return out, nil
}

// CountBy aggregates case counts by status or by validated urgency.
func (s *Store) CountBy(ctx context.Context, field string) (map[string]int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.CountBy", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var query string
	switch field {
	case triage.CountByStatus:
		query = `SELECT status, COUNT(*) FROM cases GROUP BY status`
	case triage.CountByUrgency:
		query = `SELECT analysis->>'urgency', COUNT(*) FROM cases
			WHERE analysis IS NOT NULL GROUP BY analysis->>'urgency'`
	default:
		return nil, fmt.Errorf("unknown count field %q", field)
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// buildPatch translates a Patch into UPDATE SET clauses.
func buildPatch(p triage.Patch) ([]string, []any, error) {
	var sets []string
	var args []any
	set := func(clause string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(clause, len(args)))
	}

	if p.Status != nil {
		set("status = $%d", string(*p.Status))
	}
	if p.Transcript != nil {
		set("transcript = $%d", *p.Transcript)
	}
	if p.Analysis != nil {
		data, err := json.Marshal(p.Analysis)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal analysis: %w", err)
		}
		set("analysis = $%d", data)
	}
	if p.Validation != nil {
		data, err := json.Marshal(p.Validation)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal validation: %w", err)
		}
		set("validation = $%d", data)
	}
	if p.AppendError != nil {
		set("processing_errors = processing_errors || to_jsonb(ARRAY[$%d::text])", *p.AppendError)
	}
	if p.ProcessedAt != nil {
		set("processed_at = $%d", *p.ProcessedAt)
	}
	if p.AssigneeID != nil {
		set("assignee_id = $%d", *p.AssigneeID)
	}
	if p.AssignedAt != nil {
		set("assigned_at = $%d", *p.AssignedAt)
	}
	if p.ResolutionNotes != nil {
		set("resolution_notes = $%d", *p.ResolutionNotes)
	}
	if p.ResolvedAt != nil {
		set("resolved_at = $%d", *p.ResolvedAt)
	}
	return sets, args, nil
}

func marshalJSONColumns(c *triage.Case) (analysis, validation, procErrors []byte, err error) {
	if c.Analysis != nil {
		analysis, err = json.Marshal(c.Analysis)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal analysis: %w", err)
		}
	}
	if c.Validation != nil {
		validation, err = json.Marshal(c.Validation)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal validation: %w", err)
		}
	}
	errs := c.ProcessingErrors
	if errs == nil {
		errs = []string{}
	}
	procErrors, err = json.Marshal(errs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal processing errors: %w", err)
	}
	return analysis, validation, procErrors, nil
}

func nullFloat(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// scanCaseRow scans a single row into a Case. Returns (nil, nil) when no
// row is found.
func scanCaseRow(row pgx.Row) (*triage.Case, error) {
	var (
		c              triage.Case
		kind, status   string
		accuracyM      *float64
		capturedAt     *time.Time
		analysisJSON   []byte
		validationJSON []byte
		errorsJSON     []byte
		processedAt    *time.Time
		assignedAt     *time.Time
		resolvedAt     *time.Time
	)

	err := row.Scan(
		&c.ID, &c.SessionID, &kind, &c.Location.Lat, &c.Location.Lon,
		&accuracyM, &capturedAt,
		&c.AudioRef, &c.Message, &c.ImageRef, &c.Transcript,
		&analysisJSON, &validationJSON, &status, &errorsJSON,
		&c.ReceivedAt, &processedAt, &assignedAt, &resolvedAt,
		&c.AssigneeID, &c.ResolutionNotes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan case: %w", err)
	}

	c.Kind = report.Kind(kind)
	c.Status = triage.Status(status)
	if accuracyM != nil {
		c.Location.AccuracyM = *accuracyM
	}
	if capturedAt != nil {
		c.Location.CapturedAt = *capturedAt
	}
	if processedAt != nil {
		c.ProcessedAt = *processedAt
	}
	if assignedAt != nil {
		c.AssignedAt = *assignedAt
	}
	if resolvedAt != nil {
		c.ResolvedAt = *resolvedAt
	}

	if len(analysisJSON) > 0 {
		c.Analysis = &triage.Analysis{}
		if err := json.Unmarshal(analysisJSON, c.Analysis); err != nil {
			return nil, fmt.Errorf("unmarshal analysis: %w", err)
		}
	}
	if len(validationJSON) > 0 {
		c.Validation = &triage.Validation{}
		if err := json.Unmarshal(validationJSON, c.Validation); err != nil {
			return nil, fmt.Errorf("unmarshal validation: %w", err)
		}
	}
	var procErrors []string
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &procErrors); err != nil {
			return nil, fmt.Errorf("unmarshal processing errors: %w", err)
		}
	}
	if len(procErrors) > 0 {
		c.ProcessingErrors = procErrors
	}
	return &c, nil
}
