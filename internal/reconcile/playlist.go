package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/httpclient"
	"github.com/snapetech/iptvstrm/internal/indexer"
	"github.com/snapetech/iptvstrm/internal/materializer"
	"github.com/snapetech/iptvstrm/internal/metrics"
	"github.com/snapetech/iptvstrm/internal/naming"
	"github.com/snapetech/iptvstrm/internal/safeurl"
	"github.com/snapetech/iptvstrm/internal/store"
)

// ErrNoSource is returned for an unknown playlist source id.
var ErrNoSource = errors.New("playlist source not found")

// PlaylistLoader fetches and parses the entries of one source.
type PlaylistLoader interface {
	Load(ctx context.Context, src store.PlaylistSource) ([]indexer.PlaylistEntry, error)
}

// SourceLoader fetches URL sources over HTTP and reads file sources from FS.
type SourceLoader struct {
	HTTP *httpclient.Client
	FS   afero.Fs
}

func (l SourceLoader) Load(ctx context.Context, src store.PlaylistSource) ([]indexer.PlaylistEntry, error) {
	switch src.Type {
	case store.SourceFile:
		fs := l.FS
		if fs == nil {
			fs = afero.NewOsFs()
		}
		return indexer.ReadPlaylistFile(fs, src.FilePath)
	default:
		if !safeurl.IsHTTPOrHTTPS(src.URL) {
			return nil, fmt.Errorf("playlist url %s: must be http or https", safeurl.Redact(src.URL))
		}
		return indexer.FetchPlaylist(ctx, l.HTTP, src.URL)
	}
}

// PlaylistRunner materializes playlist sources.
type PlaylistRunner struct {
	Store   *store.Store
	Loader  PlaylistLoader
	Writer  materializer.Interface
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// RunPlaylist loads source id, replaces its cached entries and writes a
// pointer file for every entry whose (group, kind) is selected. With no
// selections at all only the cache is refreshed. kinds, when non-empty,
// limits which kinds are written.
func (p *PlaylistRunner) RunPlaylist(ctx context.Context, id int64, kinds []catalog.Kind) (res Result, err error) {
	start := time.Now()
	bg := context.WithoutCancel(ctx)
	src, err := p.Store.PlaylistSource(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			err = fmt.Errorf("%w: %d", ErrNoSource, id)
		}
		return Result{Status: store.StatusFailed, Error: err.Error()}, err
	}
	if err := p.Store.MarkPlaylistRunning(bg, id); err != nil {
		return Result{Status: store.StatusFailed, Error: err.Error()}, err
	}
	defer func() {
		if err != nil {
			res.Status = store.StatusFailed
			res.Error = err.Error()
			if merr := p.Store.MarkPlaylistFailed(bg, id, err.Error()); merr != nil {
				log.Printf("[playlist] %s: recording failure: %v", src.Name, merr)
			}
			log.Printf("[playlist] %s failed: %v", src.Name, err)
		} else {
			res.Status = store.StatusSuccess
			if merr := p.Store.MarkPlaylistSuccess(bg, id, p.now()); merr != nil {
				log.Printf("[playlist] %s: recording success: %v", src.Name, merr)
			}
		}
		p.Metrics.ObserveRun("playlist", string(res.Status), start)
	}()

	entries, err := p.Loader.Load(ctx, src)
	if err != nil {
		return res, fmt.Errorf("load %s: %w", sourceLabel(src), err)
	}
	log.Printf("[playlist] %s: parsed %d entries from %s", src.Name, len(entries), sourceLabel(src))
	res.ItemsCached, err = p.Store.ReplacePlaylistEntries(bg, id, entries)
	if err != nil {
		return res, err
	}
	if p.Metrics != nil {
		p.Metrics.PlaylistEntries.WithLabelValues(src.Name).Set(float64(res.ItemsCached))
	}

	selections, err := p.Store.GroupSelections(ctx, id)
	if err != nil {
		return res, err
	}
	if len(selections) == 0 {
		log.Printf("[playlist] %s: %d entries cached, no groups selected, nothing written", src.Name, res.ItemsCached)
		return res, nil
	}
	selected := map[catalog.Kind]map[string]bool{
		catalog.KindMovie:  {},
		catalog.KindSeries: {},
	}
	for _, s := range selections {
		if m, ok := selected[s.Kind]; ok {
			m[s.GroupTitle] = true
		}
	}

	cached, err := p.Store.PlaylistEntries(ctx, id, "")
	if err != nil {
		return res, err
	}
	for _, e := range cached {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(kinds) > 0 && !slices.Contains(kinds, e.Kind) {
			continue
		}
		group := e.GroupTitle
		if group == "" {
			group = naming.Uncategorized
		}
		if !selected[e.Kind][group] {
			continue
		}
		base := src.MoviesBase()
		if e.Kind == catalog.KindSeries {
			base = src.SeriesBase()
		}
		path := naming.PlaylistPath(base, group, e.Title)
		if err := p.Writer.EnsureDir(filepath.Dir(path)); err != nil {
			return res, err
		}
		if err := p.Writer.WriteFile(path, []byte(e.URL)); err != nil {
			return res, err
		}
		res.ItemsProcessed++
	}
	log.Printf("[playlist] %s: %d entries cached, %d files written in %s",
		src.Name, res.ItemsCached, res.ItemsProcessed, time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (p *PlaylistRunner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func sourceLabel(src store.PlaylistSource) string {
	if src.Type == store.SourceFile {
		return src.FilePath
	}
	return safeurl.Redact(src.URL)
}

// ParseKinds maps "movies"/"series" style names to kinds, rejecting live
// and unknown names.
func ParseKinds(names []string) ([]catalog.Kind, error) {
	var kinds []catalog.Kind
	for _, n := range names {
		k, err := catalog.ParseKind(n)
		if err != nil {
			return nil, err
		}
		if !k.Valid() {
			return nil, fmt.Errorf("kind %q cannot be synced", n)
		}
		if !slices.Contains(kinds, k) {
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

func playlistKey(id int64) string {
	return "playlist:" + strconv.FormatInt(id, 10)
}
