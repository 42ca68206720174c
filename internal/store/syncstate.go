package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/snapetech/iptvstrm/internal/catalog"
)

// Status is a SyncState or playlist source run status.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// SyncState is the outcome record for one kind within a scope.
type SyncState struct {
	Scope               string       `json:"scope"`
	Kind                catalog.Kind `json:"kind"`
	LastSync            time.Time    `json:"last_sync,omitempty"`
	Status              Status       `json:"status"`
	ItemsAddedOrUpdated int          `json:"items_added_or_updated"`
	ItemsDeleted        int          `json:"items_deleted"`
	ErrorMessage        string       `json:"error_message,omitempty"`
	JobHandle           string       `json:"job_handle,omitempty"`
}

const syncStateCols = `scope, kind, last_sync, status, items_added, items_deleted, error_message, job_handle`

func scanSyncState(row interface{ Scan(...any) error }) (SyncState, error) {
	var st SyncState
	var kind, status string
	var last sql.NullInt64
	if err := row.Scan(&st.Scope, &kind, &last, &status, &st.ItemsAddedOrUpdated, &st.ItemsDeleted, &st.ErrorMessage, &st.JobHandle); err != nil {
		return SyncState{}, err
	}
	st.Kind = catalog.Kind(kind)
	st.Status = Status(status)
	st.LastSync = timeFromNull(last)
	return st, nil
}

// SyncState returns the state for scope/kind, creating an idle row on first use.
func (o ops) SyncState(ctx context.Context, scope string, kind catalog.Kind) (SyncState, error) {
	if _, err := o.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO sync_state (scope, kind) VALUES (?, ?)`, scope, string(kind)); err != nil {
		return SyncState{}, fmt.Errorf("init sync state: %w", err)
	}
	st, err := scanSyncState(o.q.QueryRowContext(ctx,
		`SELECT `+syncStateCols+` FROM sync_state WHERE scope = ? AND kind = ?`, scope, string(kind)))
	if err != nil {
		return SyncState{}, fmt.Errorf("load sync state: %w", err)
	}
	return st, nil
}

// SyncStates lists every sync state row.
func (o ops) SyncStates(ctx context.Context) ([]SyncState, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT `+syncStateCols+` FROM sync_state ORDER BY scope, kind`)
	if err != nil {
		return nil, fmt.Errorf("list sync state: %w", err)
	}
	defer rows.Close()
	var out []SyncState
	for rows.Next() {
		st, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (o ops) updateSyncState(ctx context.Context, scope string, kind catalog.Kind, set string, args ...any) error {
	if _, err := o.SyncState(ctx, scope, kind); err != nil {
		return err
	}
	args = append(args, scope, string(kind))
	res, err := o.q.ExecContext(ctx, `UPDATE sync_state SET `+set+` WHERE scope = ? AND kind = ?`, args...)
	if err != nil {
		return fmt.Errorf("update sync state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRunning enters the running state and stamps last_sync.
func (o ops) MarkRunning(ctx context.Context, scope string, kind catalog.Kind, at time.Time) error {
	return o.updateSyncState(ctx, scope, kind,
		`status = 'running', last_sync = ?, error_message = ''`, unixOrNull(at))
}

// MarkSuccess records the counts of a completed run.
func (o ops) MarkSuccess(ctx context.Context, scope string, kind catalog.Kind, added, deleted int) error {
	return o.updateSyncState(ctx, scope, kind,
		`status = 'success', items_added = ?, items_deleted = ?, error_message = '', job_handle = ''`, added, deleted)
}

// MarkFailed records a failed run.
func (o ops) MarkFailed(ctx context.Context, scope string, kind catalog.Kind, msg string) error {
	return o.updateSyncState(ctx, scope, kind,
		`status = 'failed', error_message = ?, job_handle = ''`, msg)
}

// SetJobHandle stores the in-flight job handle ("" clears it).
func (o ops) SetJobHandle(ctx context.Context, scope string, kind catalog.Kind, handle string) error {
	return o.updateSyncState(ctx, scope, kind, `job_handle = ?`, handle)
}

// ClaimSyncState atomically moves scope/kind to running with handle unless
// it is already running. It returns false when another run holds it.
func (o ops) ClaimSyncState(ctx context.Context, scope string, kind catalog.Kind, handle string) (bool, error) {
	if _, err := o.SyncState(ctx, scope, kind); err != nil {
		return false, err
	}
	res, err := o.q.ExecContext(ctx, `
		UPDATE sync_state SET status = 'running', job_handle = ?, error_message = ''
		WHERE scope = ? AND kind = ? AND status <> 'running'`, handle, scope, string(kind))
	if err != nil {
		return false, fmt.Errorf("claim sync state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecoverInterrupted flips every running state left over from a previous
// process to failed. Called once at startup.
func (o ops) RecoverInterrupted(ctx context.Context) (int, error) {
	res, err := o.q.ExecContext(ctx, `
		UPDATE sync_state SET status = 'failed', error_message = 'interrupted', job_handle = ''
		WHERE status = 'running'`)
	if err != nil {
		return 0, fmt.Errorf("recover sync state: %w", err)
	}
	n, _ := res.RowsAffected()
	res, err = o.q.ExecContext(ctx, `
		UPDATE playlist_sources SET sync_status = 'failed', last_error = 'interrupted', job_handle = ''
		WHERE sync_status = 'running'`)
	if err != nil {
		return int(n), fmt.Errorf("recover playlist state: %w", err)
	}
	m, _ := res.RowsAffected()
	return int(n + m), nil
}

// IsNotFound reports whether err is ErrNotFound or sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
