package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/indexer"
	"github.com/snapetech/iptvstrm/internal/naming"
	"github.com/snapetech/iptvstrm/internal/safeurl"
)

// SourceType says where a playlist is read from.
type SourceType string

const (
	SourceURL  SourceType = "url"
	SourceFile SourceType = "file"
)

// PlaylistSource is a configured M3U playlist.
type PlaylistSource struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Type       SourceType `json:"source_type"`
	URL        string     `json:"url,omitempty"`
	FilePath   string     `json:"file_path,omitempty"`
	OutputDir  string     `json:"output_dir"`
	MoviesDir  string     `json:"movies_dir,omitempty"`
	SeriesDir  string     `json:"series_dir,omitempty"`
	Active     bool       `json:"active"`
	SyncStatus Status     `json:"sync_status"`
	LastSync   time.Time  `json:"last_sync,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	JobHandle  string     `json:"job_handle,omitempty"`
}

// MoviesBase is the directory movie entries are written under.
func (p PlaylistSource) MoviesBase() string {
	if p.MoviesDir != "" {
		return p.MoviesDir
	}
	return strings.TrimRight(p.OutputDir, "/") + "/movies"
}

// SeriesBase is the directory series entries are written under.
func (p PlaylistSource) SeriesBase() string {
	if p.SeriesDir != "" {
		return p.SeriesDir
	}
	return strings.TrimRight(p.OutputDir, "/") + "/series"
}

// Redacted returns a copy safe to show outside the process: credentials in
// the URL are masked, including where the URL was quoted in LastError.
func (p PlaylistSource) Redacted() PlaylistSource {
	if p.URL == "" {
		return p
	}
	masked := safeurl.Redact(p.URL)
	p.LastError = strings.ReplaceAll(p.LastError, p.URL, masked)
	p.URL = masked
	return p
}

// Location is the URL or file path the source reads from.
func (p PlaylistSource) Location() string {
	if p.Type == SourceFile {
		return p.FilePath
	}
	return p.URL
}

func (p PlaylistSource) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("playlist source: name is required")
	}
	switch p.Type {
	case SourceURL:
		if p.URL == "" {
			return fmt.Errorf("playlist source %s: url is required", p.Name)
		}
	case SourceFile:
		if p.FilePath == "" {
			return fmt.Errorf("playlist source %s: file path is required", p.Name)
		}
	default:
		return fmt.Errorf("playlist source %s: unknown type %q", p.Name, p.Type)
	}
	if p.OutputDir == "" && (p.MoviesDir == "" || p.SeriesDir == "") {
		return fmt.Errorf("playlist source %s: output dir is required", p.Name)
	}
	return nil
}

// GroupSelection marks one (group, kind) pair of a source for materialization.
type GroupSelection struct {
	SourceID   int64        `json:"source_id"`
	GroupTitle string       `json:"group_title"`
	Kind       catalog.Kind `json:"kind"`
}

// GroupCount is one row of PlaylistGroups.
type GroupCount struct {
	GroupTitle string       `json:"group_title"`
	Kind       catalog.Kind `json:"kind"`
	Count      int          `json:"count"`
	Selected   bool         `json:"selected"`
}

const playlistSourceCols = `id, name, source_type, url, file_path, output_dir, movies_dir, series_dir,
	active, sync_status, last_sync, last_error, job_handle`

func scanPlaylistSource(row interface{ Scan(...any) error }) (PlaylistSource, error) {
	var p PlaylistSource
	var typ, status string
	var active int
	var last sql.NullInt64
	if err := row.Scan(&p.ID, &p.Name, &typ, &p.URL, &p.FilePath, &p.OutputDir, &p.MoviesDir, &p.SeriesDir,
		&active, &status, &last, &p.LastError, &p.JobHandle); err != nil {
		return PlaylistSource{}, err
	}
	p.Type = SourceType(typ)
	p.Active = active != 0
	p.SyncStatus = Status(status)
	p.LastSync = timeFromNull(last)
	return p, nil
}

// CreatePlaylistSource inserts p and returns its id.
func (o ops) CreatePlaylistSource(ctx context.Context, p PlaylistSource) (int64, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	res, err := o.q.ExecContext(ctx, `
		INSERT INTO playlist_sources (name, source_type, url, file_path, output_dir, movies_dir, series_dir, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, string(p.Type), p.URL, p.FilePath, p.OutputDir, p.MoviesDir, p.SeriesDir, boolInt(p.Active), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("create playlist source %s: %w", p.Name, err)
	}
	return res.LastInsertId()
}

// UpdatePlaylistSource rewrites the configuration fields of p.ID. Run state
// is left alone.
func (o ops) UpdatePlaylistSource(ctx context.Context, p PlaylistSource) error {
	if err := p.validate(); err != nil {
		return err
	}
	res, err := o.q.ExecContext(ctx, `
		UPDATE playlist_sources SET name = ?, source_type = ?, url = ?, file_path = ?,
			output_dir = ?, movies_dir = ?, series_dir = ?, active = ?
		WHERE id = ?`,
		p.Name, string(p.Type), p.URL, p.FilePath, p.OutputDir, p.MoviesDir, p.SeriesDir, boolInt(p.Active), p.ID)
	if err != nil {
		return fmt.Errorf("update playlist source %d: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PlaylistSource returns source id, or ErrNotFound.
func (o ops) PlaylistSource(ctx context.Context, id int64) (PlaylistSource, error) {
	p, err := scanPlaylistSource(o.q.QueryRowContext(ctx,
		`SELECT `+playlistSourceCols+` FROM playlist_sources WHERE id = ?`, id))
	if IsNotFound(err) {
		return PlaylistSource{}, ErrNotFound
	}
	if err != nil {
		return PlaylistSource{}, fmt.Errorf("load playlist source %d: %w", id, err)
	}
	return p, nil
}

// PlaylistSourceByName returns the source called name, or ErrNotFound.
func (o ops) PlaylistSourceByName(ctx context.Context, name string) (PlaylistSource, error) {
	p, err := scanPlaylistSource(o.q.QueryRowContext(ctx,
		`SELECT `+playlistSourceCols+` FROM playlist_sources WHERE name = ?`, name))
	if IsNotFound(err) {
		return PlaylistSource{}, ErrNotFound
	}
	if err != nil {
		return PlaylistSource{}, fmt.Errorf("load playlist source %s: %w", name, err)
	}
	return p, nil
}

// PlaylistSources lists sources by id.
func (o ops) PlaylistSources(ctx context.Context, activeOnly bool) ([]PlaylistSource, error) {
	q := `SELECT ` + playlistSourceCols + ` FROM playlist_sources`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	rows, err := o.q.QueryContext(ctx, q+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list playlist sources: %w", err)
	}
	defer rows.Close()
	var out []PlaylistSource
	for rows.Next() {
		p, err := scanPlaylistSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan playlist source: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePlaylistSource removes a source with its entries and selections.
func (o ops) DeletePlaylistSource(ctx context.Context, id int64) error {
	res, err := o.q.ExecContext(ctx, `DELETE FROM playlist_sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete playlist source %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (o ops) updatePlaylistSource(ctx context.Context, id int64, set string, args ...any) error {
	args = append(args, id)
	res, err := o.q.ExecContext(ctx, `UPDATE playlist_sources SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update playlist source %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimPlaylistSource moves id to running with handle unless it is already
// running. It returns false when another run holds it.
func (o ops) ClaimPlaylistSource(ctx context.Context, id int64, handle string) (bool, error) {
	res, err := o.q.ExecContext(ctx, `
		UPDATE playlist_sources SET sync_status = 'running', job_handle = ?, last_error = ''
		WHERE id = ? AND sync_status <> 'running'`, handle, id)
	if err != nil {
		return false, fmt.Errorf("claim playlist source %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := o.PlaylistSource(ctx, id); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

// MarkPlaylistRunning enters the running state.
func (o ops) MarkPlaylistRunning(ctx context.Context, id int64) error {
	return o.updatePlaylistSource(ctx, id, `sync_status = 'running', last_error = ''`)
}

// MarkPlaylistSuccess records a completed run at time at.
func (o ops) MarkPlaylistSuccess(ctx context.Context, id int64, at time.Time) error {
	return o.updatePlaylistSource(ctx, id,
		`sync_status = 'success', last_sync = ?, last_error = '', job_handle = ''`, unixOrNull(at))
}

// MarkPlaylistFailed records a failed run.
func (o ops) MarkPlaylistFailed(ctx context.Context, id int64, msg string) error {
	return o.updatePlaylistSource(ctx, id,
		`sync_status = 'failed', last_error = ?, job_handle = ''`, msg)
}

// SetPlaylistJobHandle stores the in-flight job handle ("" clears it).
func (o ops) SetPlaylistJobHandle(ctx context.Context, id int64, handle string) error {
	return o.updatePlaylistSource(ctx, id, `job_handle = ?`, handle)
}

// ReplacePlaylistEntries swaps the cached entries of a source for entries,
// keeping their order. Only movie and series entries are stored. It returns
// the number stored.
func (s *Store) ReplacePlaylistEntries(ctx context.Context, sourceID int64, entries []indexer.PlaylistEntry) (int, error) {
	stored := 0
	err := s.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM playlist_entries WHERE source_id = ?`, sourceID); err != nil {
			return fmt.Errorf("clear playlist entries: %w", err)
		}
		stmt, err := tx.tx.PrepareContext(ctx, `
			INSERT INTO playlist_entries (source_id, position, title, url, group_title, logo, tvg_id, tvg_name, kind)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare playlist entry insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range entries {
			if e.Kind != catalog.KindMovie && e.Kind != catalog.KindSeries {
				continue
			}
			if _, err := stmt.ExecContext(ctx, sourceID, stored, e.Title, e.URL, e.GroupTitle,
				e.Logo, e.TVGID, e.TVGName, string(e.Kind)); err != nil {
				return fmt.Errorf("insert playlist entry %q: %w", e.Title, err)
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

// PlaylistEntries returns the cached entries of a source in playlist order.
// An empty kind returns every kind.
func (o ops) PlaylistEntries(ctx context.Context, sourceID int64, kind catalog.Kind) ([]indexer.PlaylistEntry, error) {
	q := `SELECT title, url, group_title, logo, tvg_id, tvg_name, kind FROM playlist_entries WHERE source_id = ?`
	args := []any{sourceID}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(kind))
	}
	rows, err := o.q.QueryContext(ctx, q+` ORDER BY position`, args...)
	if err != nil {
		return nil, fmt.Errorf("list playlist entries: %w", err)
	}
	defer rows.Close()
	var out []indexer.PlaylistEntry
	for rows.Next() {
		var e indexer.PlaylistEntry
		var k string
		if err := rows.Scan(&e.Title, &e.URL, &e.GroupTitle, &e.Logo, &e.TVGID, &e.TVGName, &k); err != nil {
			return nil, fmt.Errorf("scan playlist entry: %w", err)
		}
		e.Kind = catalog.Kind(k)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PlaylistGroups counts cached entries per (group, kind) and flags the
// selected pairs. Entries without a group are reported as Uncategorized.
func (o ops) PlaylistGroups(ctx context.Context, sourceID int64) ([]GroupCount, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT CASE WHEN e.group_title = '' THEN ? ELSE e.group_title END AS g, e.kind, COUNT(*),
			EXISTS (SELECT 1 FROM group_selections s
				WHERE s.source_id = e.source_id AND s.kind = e.kind
				AND s.group_title = CASE WHEN e.group_title = '' THEN ? ELSE e.group_title END)
		FROM playlist_entries e
		WHERE e.source_id = ?
		GROUP BY g, e.kind
		ORDER BY e.kind, g`, naming.Uncategorized, naming.Uncategorized, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list playlist groups: %w", err)
	}
	defer rows.Close()
	var out []GroupCount
	for rows.Next() {
		var g GroupCount
		var k string
		var sel int
		if err := rows.Scan(&g.GroupTitle, &k, &g.Count, &sel); err != nil {
			return nil, fmt.Errorf("scan playlist group: %w", err)
		}
		g.Kind = catalog.Kind(k)
		g.Selected = sel != 0
		out = append(out, g)
	}
	return out, rows.Err()
}

// GroupSelections returns the selected (group, kind) pairs of a source.
func (o ops) GroupSelections(ctx context.Context, sourceID int64) ([]GroupSelection, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT group_title, kind FROM group_selections
		WHERE source_id = ? ORDER BY kind, group_title`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list group selections: %w", err)
	}
	defer rows.Close()
	var out []GroupSelection
	for rows.Next() {
		g := GroupSelection{SourceID: sourceID}
		var k string
		if err := rows.Scan(&g.GroupTitle, &k); err != nil {
			return nil, fmt.Errorf("scan group selection: %w", err)
		}
		g.Kind = catalog.Kind(k)
		out = append(out, g)
	}
	return out, rows.Err()
}

// SetGroupSelections replaces the selections of a source. Live selections are
// rejected.
func (s *Store) SetGroupSelections(ctx context.Context, sourceID int64, sel []GroupSelection) error {
	for _, g := range sel {
		if g.Kind != catalog.KindMovie && g.Kind != catalog.KindSeries {
			return fmt.Errorf("group selection %q: unsupported kind %q", g.GroupTitle, g.Kind)
		}
	}
	return s.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.PlaylistSource(ctx, sourceID); err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM group_selections WHERE source_id = ?`, sourceID); err != nil {
			return fmt.Errorf("clear group selections: %w", err)
		}
		for _, g := range sel {
			title := g.GroupTitle
			if strings.TrimSpace(title) == "" {
				title = naming.Uncategorized
			}
			if _, err := tx.q.ExecContext(ctx, `
				INSERT OR IGNORE INTO group_selections (source_id, group_title, kind) VALUES (?, ?, ?)`,
				sourceID, title, string(g.Kind)); err != nil {
				return fmt.Errorf("insert group selection %q: %w", title, err)
			}
		}
		return nil
	})
}
