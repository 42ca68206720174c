package reconcile_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/httpclient"
	"github.com/snapetech/iptvstrm/internal/indexer"
	"github.com/snapetech/iptvstrm/internal/materializer"
	"github.com/snapetech/iptvstrm/internal/reconcile"
	"github.com/snapetech/iptvstrm/internal/store"
)

const samplePlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="n1" group-title="News",News 24
http://panel/live/u/p/1.ts
#EXTINF:-1 group-title="Action",Film One
http://panel/movie/u/p/10.mp4
#EXTINF:-1,No Group Film
http://panel/movie/u/p/11.mp4
#EXTINF:-1 group-title="Drama",Show One S01E01
http://panel/series/u/p/20.mkv
`

type staticLoader struct {
	entries []indexer.PlaylistEntry
	err     error
	calls   int
}

func (l *staticLoader) Load(ctx context.Context, src store.PlaylistSource) ([]indexer.PlaylistEntry, error) {
	l.calls++
	return l.entries, l.err
}

type playlistFixture struct {
	ctx    context.Context
	store  *store.Store
	writer *materializer.Writer
	loader *staticLoader
	runner *reconcile.PlaylistRunner
	source int64
}

func newPlaylistFixture(t *testing.T) *playlistFixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	id, err := st.CreatePlaylistSource(ctx, store.PlaylistSource{
		Name:      "extras",
		Type:      store.SourceURL,
		URL:       "http://lists/extras.m3u",
		OutputDir: "/out",
		Active:    true,
	})
	require.NoError(t, err)

	loader := &staticLoader{entries: indexer.ParsePlaylistString(samplePlaylist)}
	w := materializer.New(afero.NewMemMapFs())
	return &playlistFixture{
		ctx:    ctx,
		store:  st,
		writer: w,
		loader: loader,
		runner: &reconcile.PlaylistRunner{Store: st, Loader: loader, Writer: w},
		source: id,
	}
}

func TestRunPlaylist_noSelectionsCachesOnly(t *testing.T) {
	f := newPlaylistFixture(t)

	res, err := f.runner.RunPlaylist(f.ctx, f.source, nil)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, res.Status)
	assert.Equal(t, 3, res.ItemsCached, "live entries are not cached")
	assert.Equal(t, 0, res.ItemsProcessed)
	assert.Equal(t, int64(0), f.writer.Stats().Writes)

	entries, err := f.store.PlaylistEntries(f.ctx, f.source, "")
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	src, err := f.store.PlaylistSource(f.ctx, f.source)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, src.SyncStatus)
	assert.False(t, src.LastSync.IsZero())
}

func TestRunPlaylist_writesSelectedGroups(t *testing.T) {
	f := newPlaylistFixture(t)
	require.NoError(t, f.store.SetGroupSelections(f.ctx, f.source, []store.GroupSelection{
		{GroupTitle: "Action", Kind: catalog.KindMovie},
		{GroupTitle: "", Kind: catalog.KindMovie},
		{GroupTitle: "Action", Kind: catalog.KindSeries},
	}))

	res, err := f.runner.RunPlaylist(f.ctx, f.source, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ItemsProcessed)

	b, err := afero.ReadFile(f.writer.Fs(), "/out/movies/Action/Film One.strm")
	require.NoError(t, err)
	assert.Equal(t, "http://panel/movie/u/p/10.mp4", string(b))
	ok, _ := afero.Exists(f.writer.Fs(), "/out/movies/Uncategorized/No Group Film.strm")
	assert.True(t, ok)
	ok, _ = afero.Exists(f.writer.Fs(), "/out/series/Drama/Show One S01E01.strm")
	assert.False(t, ok, "Drama series group is not selected")
}

func TestRunPlaylist_kindsRestrictOutput(t *testing.T) {
	f := newPlaylistFixture(t)
	require.NoError(t, f.store.SetGroupSelections(f.ctx, f.source, []store.GroupSelection{
		{GroupTitle: "Action", Kind: catalog.KindMovie},
		{GroupTitle: "Drama", Kind: catalog.KindSeries},
	}))

	res, err := f.runner.RunPlaylist(f.ctx, f.source, []catalog.Kind{catalog.KindSeries})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsProcessed)
	ok, _ := afero.Exists(f.writer.Fs(), "/out/series/Drama/Show One S01E01.strm")
	assert.True(t, ok)
	ok, _ = afero.Exists(f.writer.Fs(), "/out/movies/Action/Film One.strm")
	assert.False(t, ok)
}

func TestRunPlaylist_loadFailure(t *testing.T) {
	f := newPlaylistFixture(t)
	f.loader.err = errors.New("HTTP 404")

	res, err := f.runner.RunPlaylist(f.ctx, f.source, nil)
	require.Error(t, err)
	assert.Equal(t, store.StatusFailed, res.Status)
	src, err := f.store.PlaylistSource(f.ctx, f.source)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, src.SyncStatus)
	assert.Contains(t, src.LastError, "HTTP 404")
}

func TestRunPlaylist_unknownSource(t *testing.T) {
	f := newPlaylistFixture(t)
	_, err := f.runner.RunPlaylist(f.ctx, 999, nil)
	assert.ErrorIs(t, err, reconcile.ErrNoSource)
	assert.Equal(t, 0, f.loader.calls)
}

func TestSourceLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePlaylist))
	}))
	defer srv.Close()
	hc := &httpclient.Client{
		HTTP:  &http.Client{Timeout: 5 * time.Second},
		Retry: httpclient.RetryPolicy{Attempts: 1},
		Hosts: httpclient.NewHostSemaphore(2),
	}
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/lists/local.m3u", []byte(samplePlaylist), 0o644))
	l := reconcile.SourceLoader{HTTP: hc, FS: fs}

	got, err := l.Load(context.Background(), store.PlaylistSource{Type: store.SourceURL, URL: srv.URL + "/get.php"})
	require.NoError(t, err)
	assert.Len(t, got, 4)

	got, err = l.Load(context.Background(), store.PlaylistSource{Type: store.SourceFile, FilePath: "/lists/local.m3u"})
	require.NoError(t, err)
	assert.Len(t, got, 4)

	_, err = l.Load(context.Background(), store.PlaylistSource{Type: store.SourceURL, URL: "file:///etc/passwd"})
	assert.Error(t, err)
}

func TestParseKinds(t *testing.T) {
	kinds, err := reconcile.ParseKinds([]string{"movies", "series", "movie"})
	require.NoError(t, err)
	assert.Equal(t, []catalog.Kind{catalog.KindMovie, catalog.KindSeries}, kinds)

	_, err = reconcile.ParseKinds([]string{"live"})
	assert.Error(t, err)
	_, err = reconcile.ParseKinds([]string{"music"})
	assert.Error(t, err)
}
