// Package reconcile diffs the provider catalog against the cache store and
// applies the difference to the output tree: pointer files, metadata files
// and cache rows move together so a rerun always converges.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/materializer"
	"github.com/snapetech/iptvstrm/internal/metrics"
	"github.com/snapetech/iptvstrm/internal/naming"
	"github.com/snapetech/iptvstrm/internal/nfo"
	"github.com/snapetech/iptvstrm/internal/store"
)

//go:generate mockgen -destination=mocks/mock_gateway.go -package=mocks github.com/snapetech/iptvstrm/internal/reconcile Gateway

// Gateway is the provider catalog as the engine sees it. *indexer.Client
// implements it.
type Gateway interface {
	ListCategories(ctx context.Context, kind catalog.Kind) ([]catalog.Category, error)
	ListMovies(ctx context.Context) ([]catalog.Movie, error)
	ListSeries(ctx context.Context) ([]catalog.Series, error)
	SeriesInfo(ctx context.Context, seriesID int) (catalog.SeriesInfo, error)
	StreamURL(kind catalog.Kind, id int, ext string) string
}

// Result is what a run reports back to the dispatch layer.
type Result struct {
	Status             store.Status `json:"status"`
	ItemsProcessed     int          `json:"items_processed"`
	ItemsDeleted       int          `json:"items_deleted"`
	ItemsCached        int          `json:"items_cached"`
	MetadataBackfilled int          `json:"metadata_backfilled,omitempty"`
	Error              string       `json:"error,omitempty"`
}

// DefaultConcurrency bounds parallel series detail fetches.
const DefaultConcurrency = 4

// Engine runs one reconciliation at a time for a given scope and kind; the
// dispatch layer keeps runs for the same pair from overlapping.
type Engine struct {
	Store       *store.Store
	Gateway     Gateway
	Writer      materializer.Interface
	Concurrency int
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) concurrency() int {
	if e.Concurrency > 0 {
		return e.Concurrency
	}
	return DefaultConcurrency
}

func scopeLabel(scope string) string {
	if scope == "" {
		return "default"
	}
	return scope
}

// begin marks the state running. The returned func records the outcome;
// it uses a context detached from ctx so a cancelled run is still recorded
// as failed.
func (e *Engine) begin(ctx context.Context, scope string, kind catalog.Kind) (func(*Result, error), error) {
	start := time.Now()
	bg := context.WithoutCancel(ctx)
	if err := e.Store.MarkRunning(bg, scope, kind, e.now()); err != nil {
		return nil, fmt.Errorf("mark %s running: %w", kind, err)
	}
	return func(res *Result, runErr error) {
		if runErr != nil {
			res.Status = store.StatusFailed
			res.Error = runErr.Error()
			if err := e.Store.MarkFailed(bg, scope, kind, runErr.Error()); err != nil {
				log.Printf("[sync] %s %s: recording failure: %v", kind.Plural(), scopeLabel(scope), err)
			}
			log.Printf("[sync] %s %s failed: %v", kind.Plural(), scopeLabel(scope), runErr)
		} else {
			res.Status = store.StatusSuccess
			if err := e.Store.MarkSuccess(bg, scope, kind, res.ItemsProcessed, res.ItemsDeleted); err != nil {
				log.Printf("[sync] %s %s: recording success: %v", kind.Plural(), scopeLabel(scope), err)
			}
			log.Printf("[sync] %s %s done in %s: %d added/updated, %d deleted, %d metadata backfilled",
				kind.Plural(), scopeLabel(scope), time.Since(start).Round(time.Millisecond),
				res.ItemsProcessed, res.ItemsDeleted, res.MetadataBackfilled)
		}
		e.Metrics.ObserveRun(string(kind), string(res.Status), start)
	}, nil
}

// checkpoint runs fn in one transaction and commits what it completed even
// when fn stops early, so rows stay in step with files already on disk.
func (e *Engine) checkpoint(ctx context.Context, fn func(*store.Tx) error) error {
	tx, err := e.Store.Begin(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	runErr := fn(tx)
	if err := tx.Commit(); err != nil {
		return errors.Join(runErr, fmt.Errorf("commit: %w", err))
	}
	return runErr
}

// categoryNames maps category id to display name.
func (e *Engine) categoryNames(ctx context.Context, kind catalog.Kind) (map[string]string, error) {
	cats, err := e.Gateway.ListCategories(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s categories: %w", kind, err)
	}
	names := make(map[string]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}
	return names, nil
}

func categoryName(names map[string]string, id string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return naming.Uncategorized
}

func (e *Engine) selection(ctx context.Context, scope string, kind catalog.Kind) (map[string]bool, error) {
	ids, err := e.Store.SelectedCategories(ctx, scope, kind)
	if err != nil {
		return nil, fmt.Errorf("load category filter: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sel := make(map[string]bool, len(ids))
	for _, id := range ids {
		sel[id] = true
	}
	return sel, nil
}

// writeIfMissing writes data to path unless a file is already there.
func (e *Engine) writeIfMissing(dir, path string, data func() []byte) (bool, error) {
	ok, err := e.Writer.Exists(path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if ok {
		return false, nil
	}
	if err := e.Writer.EnsureDir(dir); err != nil {
		return false, err
	}
	if err := e.Writer.WriteFile(path, data()); err != nil {
		return false, err
	}
	return true, nil
}

// RunMovies reconciles the scope's movie cache and files under root.
func (e *Engine) RunMovies(ctx context.Context, scope, root string) (res Result, err error) {
	done, err := e.begin(ctx, scope, catalog.KindMovie)
	if err != nil {
		return Result{Status: store.StatusFailed, Error: err.Error()}, err
	}
	defer func() { done(&res, err) }()

	cats, err := e.categoryNames(ctx, catalog.KindMovie)
	if err != nil {
		return res, err
	}
	remote, err := e.Gateway.ListMovies(ctx)
	if err != nil {
		return res, fmt.Errorf("list movies: %w", err)
	}
	sel, err := e.selection(ctx, scope, catalog.KindMovie)
	if err != nil {
		return res, err
	}
	if sel != nil {
		remote = slices.DeleteFunc(remote, func(m catalog.Movie) bool { return !sel[m.CategoryID] })
	}
	cache, err := e.Store.MovieCache(ctx, scope)
	if err != nil {
		return res, err
	}

	plan := diffMovies(remote, cache)
	log.Printf("[sync] movies %s: %d remote, %d cached, %d add, %d update, %d delete",
		scopeLabel(scope), len(remote), len(cache), plan.adds, len(plan.changes)-plan.adds, len(plan.deletes))

	err = e.checkpoint(ctx, func(tx *store.Tx) error {
		for _, c := range plan.deletes {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.removeMovie(root, categoryName(cats, c.CategoryID), c.Name); err != nil {
				return err
			}
			if err := tx.DeleteMovie(context.WithoutCancel(ctx), scope, c.StreamID); err != nil {
				return err
			}
			delete(cache, c.StreamID)
			res.ItemsDeleted++
		}
		return nil
	})
	e.Metrics.AddItems("movie", "deleted", res.ItemsDeleted)
	if err != nil {
		return res, err
	}

	added := 0
	err = e.checkpoint(ctx, func(tx *store.Tx) error {
		for _, ch := range plan.changes {
			if err := ctx.Err(); err != nil {
				return err
			}
			m := ch.movie
			category := categoryName(cats, m.CategoryID)
			if ch.prev != nil {
				prev := naming.MoviePaths(root, categoryName(cats, ch.prev.CategoryID), ch.prev.Name)
				if prev != naming.MoviePaths(root, category, m.Name) {
					if err := e.removeMovie(root, categoryName(cats, ch.prev.CategoryID), ch.prev.Name); err != nil {
						return err
					}
				}
			}
			files := naming.MoviePaths(root, category, m.Name)
			if err := e.Writer.EnsureDir(files.Dir); err != nil {
				return err
			}
			url := e.Gateway.StreamURL(catalog.KindMovie, m.StreamID, m.Extension)
			if err := e.Writer.WriteFile(files.Pointer, []byte(url)); err != nil {
				return err
			}
			if err := e.Writer.WriteFile(files.Metadata, nfo.FormatMovie(m).Bytes()); err != nil {
				return err
			}
			row := store.CachedMovie{
				Scope:      scope,
				StreamID:   m.StreamID,
				Name:       m.Name,
				CategoryID: m.CategoryID,
				Extension:  m.Extension,
				ExternalID: m.ExternalID,
			}
			if err := tx.UpsertMovie(context.WithoutCancel(ctx), row); err != nil {
				return err
			}
			cache[m.StreamID] = row
			res.ItemsProcessed++
			if ch.prev == nil {
				added++
			}
		}
		return nil
	})
	e.Metrics.AddItems("movie", "added", added)
	e.Metrics.AddItems("movie", "updated", res.ItemsProcessed-added)
	if err != nil {
		return res, err
	}

	for _, m := range remote {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		c, ok := cache[m.StreamID]
		if !ok {
			continue
		}
		// The pointer stays where it was written: a category move alone is
		// not an update.
		files := naming.MoviePaths(root, categoryName(cats, c.CategoryID), c.Name)
		wrote, err := e.writeIfMissing(files.Dir, files.Metadata, func() []byte { return nfo.FormatMovie(m).Bytes() })
		if err != nil {
			return res, err
		}
		if wrote {
			res.MetadataBackfilled++
		}
	}
	e.Metrics.AddItems("movie", "backfilled", res.MetadataBackfilled)
	res.ItemsCached = len(cache)
	return res, nil
}

func (e *Engine) removeMovie(root, category, name string) error {
	files := naming.MoviePaths(root, category, name)
	if err := e.Writer.Remove(files.Pointer); err != nil {
		return err
	}
	if err := e.Writer.Remove(files.Metadata); err != nil {
		return err
	}
	return e.Writer.RemoveDirIfEmpty(files.Dir)
}

type movieChange struct {
	movie catalog.Movie
	prev  *store.CachedMovie // nil for adds
}

type moviePlan struct {
	changes []movieChange
	adds    int
	deletes []store.CachedMovie
}

// diffMovies classifies remote movies against the cache. A cached movie is
// changed only when its name or extension differs.
func diffMovies(remote []catalog.Movie, cache map[int]store.CachedMovie) moviePlan {
	var p moviePlan
	seen := make(map[int]bool, len(remote))
	for _, m := range remote {
		seen[m.StreamID] = true
		c, ok := cache[m.StreamID]
		switch {
		case !ok:
			p.changes = append(p.changes, movieChange{movie: m})
			p.adds++
		case c.Name != m.Name || c.Extension != m.Extension:
			p.changes = append(p.changes, movieChange{movie: m, prev: &c})
		}
	}
	for id, c := range cache {
		if !seen[id] {
			p.deletes = append(p.deletes, c)
		}
	}
	slices.SortFunc(p.deletes, func(a, b store.CachedMovie) int { return a.StreamID - b.StreamID })
	return p
}

// RunSeries reconciles the scope's series cache and show trees under root.
func (e *Engine) RunSeries(ctx context.Context, scope, root string) (res Result, err error) {
	done, err := e.begin(ctx, scope, catalog.KindSeries)
	if err != nil {
		return Result{Status: store.StatusFailed, Error: err.Error()}, err
	}
	defer func() { done(&res, err) }()

	cats, err := e.categoryNames(ctx, catalog.KindSeries)
	if err != nil {
		return res, err
	}
	remote, err := e.Gateway.ListSeries(ctx)
	if err != nil {
		return res, fmt.Errorf("list series: %w", err)
	}
	sel, err := e.selection(ctx, scope, catalog.KindSeries)
	if err != nil {
		return res, err
	}
	if sel != nil {
		remote = slices.DeleteFunc(remote, func(s catalog.Series) bool { return !sel[s.CategoryID] })
	}
	cache, err := e.Store.SeriesCache(ctx, scope)
	if err != nil {
		return res, err
	}

	plan := diffSeries(remote, cache)
	log.Printf("[sync] series %s: %d remote, %d cached, %d add, %d update, %d delete",
		scopeLabel(scope), len(remote), len(cache), plan.adds, len(plan.changes)-plan.adds, len(plan.deletes))

	if err := e.fetchDetails(ctx, plan.changes); err != nil {
		return res, err
	}

	err = e.checkpoint(ctx, func(tx *store.Tx) error {
		for _, c := range plan.deletes {
			if err := ctx.Err(); err != nil {
				return err
			}
			category := categoryName(cats, c.CategoryID)
			if err := e.Writer.RemoveAll(naming.SeriesDir(root, category, c.Name)); err != nil {
				return err
			}
			if err := e.Writer.RemoveDirIfEmpty(naming.CategoryDir(root, category)); err != nil {
				return err
			}
			if err := tx.DeleteSeries(context.WithoutCancel(ctx), scope, c.SeriesID); err != nil {
				return err
			}
			delete(cache, c.SeriesID)
			res.ItemsDeleted++
		}
		return nil
	})
	e.Metrics.AddItems("series", "deleted", res.ItemsDeleted)
	if err != nil {
		return res, err
	}

	added := 0
	err = e.checkpoint(ctx, func(tx *store.Tx) error {
		for _, ch := range plan.changes {
			if err := ctx.Err(); err != nil {
				return err
			}
			if ch.info == nil {
				continue
			}
			s := ch.series
			category := categoryName(cats, s.CategoryID)
			if ch.prev != nil {
				prevCategory := categoryName(cats, ch.prev.CategoryID)
				if err := e.Writer.RemoveAll(naming.SeriesDir(root, prevCategory, ch.prev.Name)); err != nil {
					return err
				}
				if naming.Category(prevCategory) != naming.Category(category) {
					if err := e.Writer.RemoveDirIfEmpty(naming.CategoryDir(root, prevCategory)); err != nil {
						return err
					}
				}
			}
			if err := e.writeSeries(root, category, s, *ch.info); err != nil {
				return err
			}
			row := store.CachedSeries{
				Scope:      scope,
				SeriesID:   s.SeriesID,
				Name:       s.Name,
				CategoryID: s.CategoryID,
				ExternalID: s.ExternalID,
			}
			if err := tx.UpsertSeries(context.WithoutCancel(ctx), row); err != nil {
				return err
			}
			cache[s.SeriesID] = row
			res.ItemsProcessed++
			if ch.prev == nil {
				added++
			}
		}
		return nil
	})
	e.Metrics.AddItems("series", "added", added)
	e.Metrics.AddItems("series", "updated", res.ItemsProcessed-added)
	if err != nil {
		return res, err
	}

	for _, s := range remote {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		c, ok := cache[s.SeriesID]
		if !ok {
			continue
		}
		dir := naming.SeriesDir(root, categoryName(cats, c.CategoryID), c.Name)
		wrote, err := e.writeIfMissing(dir, naming.ShowMetadataPath(dir), func() []byte { return nfo.FormatShow(s).Bytes() })
		if err != nil {
			return res, err
		}
		if wrote {
			res.MetadataBackfilled++
		}
	}
	e.Metrics.AddItems("series", "backfilled", res.MetadataBackfilled)
	res.ItemsCached = len(cache)
	return res, nil
}

type seriesChange struct {
	series catalog.Series
	prev   *store.CachedSeries // nil for adds
	info   *catalog.SeriesInfo // nil when the detail fetch failed
}

type seriesPlan struct {
	changes []seriesChange
	adds    int
	deletes []store.CachedSeries
}

// diffSeries classifies remote series against the cache. Episodes are not
// compared; a cached series is changed only when its name differs.
func diffSeries(remote []catalog.Series, cache map[int]store.CachedSeries) seriesPlan {
	var p seriesPlan
	seen := make(map[int]bool, len(remote))
	for _, s := range remote {
		seen[s.SeriesID] = true
		c, ok := cache[s.SeriesID]
		switch {
		case !ok:
			p.changes = append(p.changes, seriesChange{series: s})
			p.adds++
		case c.Name != s.Name:
			p.changes = append(p.changes, seriesChange{series: s, prev: &c})
		}
	}
	for id, c := range cache {
		if !seen[id] {
			p.deletes = append(p.deletes, c)
		}
	}
	slices.SortFunc(p.deletes, func(a, b store.CachedSeries) int { return a.SeriesID - b.SeriesID })
	return p
}

// fetchDetails loads get_series_info for every change in parallel. A failed
// fetch leaves info nil so the series is skipped this run and retried on the
// next; only cancellation aborts.
func (e *Engine) fetchDetails(ctx context.Context, changes []seriesChange) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())
	for i := range changes {
		g.Go(func() error {
			id := changes[i].series.SeriesID
			info, err := e.Gateway.SeriesInfo(gctx, id)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				log.Printf("[sync] series %d (%s): skipping, detail fetch failed: %v", id, changes[i].series.Name, err)
				return nil
			}
			changes[i].info = &info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("series detail: %w", err)
	}
	return nil
}

// writeSeries lays out one show in full: tvshow.nfo, then a directory per
// season with one pointer file per episode.
func (e *Engine) writeSeries(root, category string, s catalog.Series, info catalog.SeriesInfo) error {
	dir := naming.SeriesDir(root, category, s.Name)
	if err := e.Writer.EnsureDir(dir); err != nil {
		return err
	}
	show := s
	show.Details = s.Details.Merge(info.Details)
	if err := e.Writer.WriteFile(naming.ShowMetadataPath(dir), nfo.FormatShow(show).Bytes()); err != nil {
		return err
	}
	for _, season := range info.Seasons {
		if err := e.Writer.EnsureDir(filepath.Join(dir, naming.SeasonDirName(season.Number))); err != nil {
			return err
		}
		for _, ep := range season.Episodes {
			url := e.Gateway.StreamURL(catalog.KindSeries, ep.ID, ep.Extension)
			if err := e.Writer.WriteFile(naming.EpisodePath(dir, season.Number, ep.Number, ep.Title), []byte(url)); err != nil {
				return err
			}
		}
	}
	return nil
}
