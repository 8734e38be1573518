package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/actionkit/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

var _ Store = (*LibSQLStore)(nil)

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, migrations)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Invocations ---

func (s *LibSQLStore) RecordInvocation(ctx context.Context, inv *Invocation) error {
	if inv.ID == "" {
		return schema.NewError(schema.ErrCodeBadRequest, "invocation id is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (id, action, status, code, state, attempts, started_at, duration_us, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, code=excluded.code, state=excluded.state,
		   attempts=excluded.attempts, duration_us=excluded.duration_us, error=excluded.error`,
		inv.ID, inv.Action, string(inv.Status), nullStr(inv.Code), string(inv.State), inv.Attempts,
		timeOrNow(inv.StartedAt), inv.Duration.Microseconds(), nullRaw(inv.Error), timeOrNow(inv.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetInvocation(ctx context.Context, id string) (*Invocation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id)
	inv, err := scanInvocation(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("invocation", id)
	}
	return inv, err
}

const invocationColumns = `id, action, status, code, state, attempts, started_at, duration_us, error, created_at`

func (s *LibSQLStore) ListInvocations(ctx context.Context, filter InvocationFilter) ([]*Invocation, error) {
	query := `SELECT ` + invocationColumns + ` FROM invocations`
	var where []string
	var args []any

	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Code != "" {
		where = append(where, "code = ?")
		args = append(args, filter.Code)
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ActionStats aggregates invocations started at or after since, by action.
func (s *LibSQLStore) ActionStats(ctx context.Context, since time.Time) ([]*ActionStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, COUNT(*), SUM(CASE WHEN status = ? THEN 0 ELSE 1 END), AVG(duration_us)
		 FROM invocations WHERE started_at >= ? GROUP BY action ORDER BY action`,
		string(schema.InvocationStatusSuccess), since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ActionStat
	for rows.Next() {
		st := &ActionStat{}
		var avg sql.NullFloat64
		if err := rows.Scan(&st.Action, &st.Total, &st.Failed, &avg); err != nil {
			return nil, err
		}
		st.AvgDuration = time.Duration(avg.Float64) * time.Microsecond
		out = append(out, st)
	}
	return out, rows.Err()
}

// PruneInvocations deletes invocations started before the cutoff.
func (s *LibSQLStore) PruneInvocations(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invocations WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Scheduled runs ---

func (s *LibSQLStore) RecordScheduledRun(ctx context.Context, run *ScheduledRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_runs (job_name, invocation_id, last_run_at, last_status, run_count)
		 VALUES (?, ?, ?, ?, 1)
		 ON CONFLICT(job_name) DO UPDATE SET invocation_id=excluded.invocation_id,
		   last_run_at=excluded.last_run_at, last_status=excluded.last_status,
		   run_count=scheduled_runs.run_count + 1`,
		run.JobName, nullStr(run.InvocationID), timeOrNow(run.LastRunAt), string(run.LastStatus),
	)
	return err
}

func (s *LibSQLStore) ListScheduledRuns(ctx context.Context) ([]*ScheduledRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_name, invocation_id, last_run_at, last_status, run_count FROM scheduled_runs ORDER BY job_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledRun
	for rows.Next() {
		r := &ScheduledRun{}
		var invID sql.NullString
		var status string
		if err := rows.Scan(&r.JobName, &invID, &r.LastRunAt, &status, &r.RunCount); err != nil {
			return nil, err
		}
		r.InvocationID = invID.String
		r.LastStatus = schema.InvocationStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row rowScanner) (*Invocation, error) {
	inv := &Invocation{}
	var (
		status, state string
		code, errJSON sql.NullString
		durationUs    int64
	)
	if err := row.Scan(&inv.ID, &inv.Action, &status, &code, &state, &inv.Attempts,
		&inv.StartedAt, &durationUs, &errJSON, &inv.CreatedAt); err != nil {
		return nil, err
	}
	inv.Status = schema.InvocationStatus(status)
	inv.State = schema.State(state)
	inv.Code = code.String
	inv.Duration = time.Duration(durationUs) * time.Microsecond
	inv.Error = rawOrNil(errJSON)
	return inv, nil
}

func storeNotFound(resource, id string) *schema.ActionError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
