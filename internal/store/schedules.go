package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/snapetech/iptvstrm/internal/catalog"
)

// Schedule is the periodic sync configuration of one scope/kind.
type Schedule struct {
	Scope     string       `json:"scope"`
	Kind      catalog.Kind `json:"kind"`
	Enabled   bool         `json:"enabled"`
	Frequency string       `json:"frequency"`
	LastRun   time.Time    `json:"last_run,omitempty"`
	NextRun   time.Time    `json:"next_run,omitempty"`
}

const scheduleCols = `scope, kind, enabled, frequency, last_run, next_run`

func scanSchedule(row interface{ Scan(...any) error }) (Schedule, error) {
	var s Schedule
	var kind string
	var enabled int
	var last, next sql.NullInt64
	if err := row.Scan(&s.Scope, &kind, &enabled, &s.Frequency, &last, &next); err != nil {
		return Schedule{}, err
	}
	s.Kind = catalog.Kind(kind)
	s.Enabled = enabled != 0
	s.LastRun = timeFromNull(last)
	s.NextRun = timeFromNull(next)
	return s, nil
}

func (o ops) listSchedules(ctx context.Context, where string, args ...any) ([]Schedule, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT `+scheduleCols+` FROM schedules `+where+` ORDER BY scope, kind`, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PutSchedule creates or replaces the schedule of s.Scope/s.Kind.
func (o ops) PutSchedule(ctx context.Context, s Schedule) error {
	if s.Kind != catalog.KindMovie && s.Kind != catalog.KindSeries {
		return fmt.Errorf("schedule: unsupported kind %q", s.Kind)
	}
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleCols+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, kind) DO UPDATE SET
			enabled=excluded.enabled,
			frequency=excluded.frequency,
			last_run=excluded.last_run,
			next_run=excluded.next_run`,
		s.Scope, string(s.Kind), boolInt(s.Enabled), s.Frequency, unixOrNull(s.LastRun), unixOrNull(s.NextRun))
	if err != nil {
		return fmt.Errorf("put schedule %s/%s: %w", s.Scope, s.Kind, err)
	}
	return nil
}

// Schedule returns the schedule of scope/kind, or ErrNotFound.
func (o ops) Schedule(ctx context.Context, scope string, kind catalog.Kind) (Schedule, error) {
	s, err := scanSchedule(o.q.QueryRowContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE scope = ? AND kind = ?`, scope, string(kind)))
	if IsNotFound(err) {
		return Schedule{}, ErrNotFound
	}
	if err != nil {
		return Schedule{}, fmt.Errorf("load schedule %s/%s: %w", scope, kind, err)
	}
	return s, nil
}

// Schedules lists every schedule.
func (o ops) Schedules(ctx context.Context) ([]Schedule, error) {
	return o.listSchedules(ctx, "")
}

// DueSchedules lists enabled schedules whose next run is at or before now.
// A schedule without a next run is due immediately.
func (o ops) DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error) {
	return o.listSchedules(ctx, `WHERE enabled = 1 AND (next_run IS NULL OR next_run <= ?)`, now.Unix())
}

// MarkScheduleRun stamps a run at ran and stores the following run time.
func (o ops) MarkScheduleRun(ctx context.Context, scope string, kind catalog.Kind, ran, next time.Time) error {
	res, err := o.q.ExecContext(ctx, `UPDATE schedules SET last_run = ?, next_run = ? WHERE scope = ? AND kind = ?`,
		unixOrNull(ran), unixOrNull(next), scope, string(kind))
	if err != nil {
		return fmt.Errorf("mark schedule %s/%s: %w", scope, kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSchedule removes the schedule of scope/kind.
func (o ops) DeleteSchedule(ctx context.Context, scope string, kind catalog.Kind) error {
	res, err := o.q.ExecContext(ctx, `DELETE FROM schedules WHERE scope = ? AND kind = ?`, scope, string(kind))
	if err != nil {
		return fmt.Errorf("delete schedule %s/%s: %w", scope, kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
