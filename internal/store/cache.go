package store

import (
	"context"
	"fmt"
	"time"

	"github.com/snapetech/iptvstrm/internal/catalog"
)

// CachedMovie is the last materialized state of one movie.
type CachedMovie struct {
	Scope      string
	StreamID   int
	Name       string
	CategoryID string
	Extension  string
	ExternalID string
}

// CachedSeries is the last materialized state of one series.
type CachedSeries struct {
	Scope      string
	SeriesID   int
	Name       string
	CategoryID string
	ExternalID string
}

// MovieCache returns every cached movie in scope keyed by stream id.
func (o ops) MovieCache(ctx context.Context, scope string) (map[int]CachedMovie, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT stream_id, name, category_id, container_extension, external_id
		FROM movie_cache WHERE scope = ?`, scope)
	if err != nil {
		return nil, fmt.Errorf("load movie cache: %w", err)
	}
	defer rows.Close()
	out := make(map[int]CachedMovie)
	for rows.Next() {
		m := CachedMovie{Scope: scope}
		if err := rows.Scan(&m.StreamID, &m.Name, &m.CategoryID, &m.Extension, &m.ExternalID); err != nil {
			return nil, fmt.Errorf("scan movie cache: %w", err)
		}
		out[m.StreamID] = m
	}
	return out, rows.Err()
}

// UpsertMovie inserts or replaces a cached movie.
func (o ops) UpsertMovie(ctx context.Context, m CachedMovie) error {
	if m.StreamID <= 0 {
		return fmt.Errorf("upsert movie: invalid stream id %d", m.StreamID)
	}
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO movie_cache (scope, stream_id, name, category_id, container_extension, external_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, stream_id) DO UPDATE SET
			name=excluded.name,
			category_id=excluded.category_id,
			container_extension=excluded.container_extension,
			external_id=excluded.external_id,
			updated_at=excluded.updated_at`,
		m.Scope, m.StreamID, m.Name, m.CategoryID, m.Extension, m.ExternalID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert movie %d: %w", m.StreamID, err)
	}
	return nil
}

// DeleteMovie removes one cached movie.
func (o ops) DeleteMovie(ctx context.Context, scope string, streamID int) error {
	if _, err := o.q.ExecContext(ctx, `DELETE FROM movie_cache WHERE scope = ? AND stream_id = ?`, scope, streamID); err != nil {
		return fmt.Errorf("delete movie %d: %w", streamID, err)
	}
	return nil
}

// SeriesCache returns every cached series in scope keyed by series id.
func (o ops) SeriesCache(ctx context.Context, scope string) (map[int]CachedSeries, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT series_id, name, category_id, external_id
		FROM series_cache WHERE scope = ?`, scope)
	if err != nil {
		return nil, fmt.Errorf("load series cache: %w", err)
	}
	defer rows.Close()
	out := make(map[int]CachedSeries)
	for rows.Next() {
		s := CachedSeries{Scope: scope}
		if err := rows.Scan(&s.SeriesID, &s.Name, &s.CategoryID, &s.ExternalID); err != nil {
			return nil, fmt.Errorf("scan series cache: %w", err)
		}
		out[s.SeriesID] = s
	}
	return out, rows.Err()
}

// UpsertSeries inserts or replaces a cached series.
func (o ops) UpsertSeries(ctx context.Context, s CachedSeries) error {
	if s.SeriesID <= 0 {
		return fmt.Errorf("upsert series: invalid series id %d", s.SeriesID)
	}
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO series_cache (scope, series_id, name, category_id, external_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, series_id) DO UPDATE SET
			name=excluded.name,
			category_id=excluded.category_id,
			external_id=excluded.external_id,
			updated_at=excluded.updated_at`,
		s.Scope, s.SeriesID, s.Name, s.CategoryID, s.ExternalID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert series %d: %w", s.SeriesID, err)
	}
	return nil
}

// DeleteSeries removes one cached series.
func (o ops) DeleteSeries(ctx context.Context, scope string, seriesID int) error {
	if _, err := o.q.ExecContext(ctx, `DELETE FROM series_cache WHERE scope = ? AND series_id = ?`, scope, seriesID); err != nil {
		return fmt.Errorf("delete series %d: %w", seriesID, err)
	}
	return nil
}

// CacheCounts returns how many movies and series are cached in scope.
func (o ops) CacheCounts(ctx context.Context, scope string) (movies, series int, err error) {
	err = o.q.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM movie_cache WHERE scope = ?),
		       (SELECT COUNT(*) FROM series_cache WHERE scope = ?)`, scope, scope).Scan(&movies, &series)
	if err != nil {
		return 0, 0, fmt.Errorf("cache counts: %w", err)
	}
	return movies, series, nil
}

// Reset drops the cache rows and the sync state of one kind in scope. Files
// on disk are not touched; the next run rematerializes everything.
func (s *Store) Reset(ctx context.Context, scope string, kind catalog.Kind) error {
	table := "movie_cache"
	if kind == catalog.KindSeries {
		table = "series_cache"
	} else if kind != catalog.KindMovie {
		return fmt.Errorf("reset: unsupported kind %q", kind)
	}
	return s.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE scope = ?`, scope); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM sync_state WHERE scope = ? AND kind = ?`, scope, string(kind)); err != nil {
			return fmt.Errorf("reset sync state: %w", err)
		}
		return nil
	})
}
