package reconcile_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/config"
	"github.com/snapetech/iptvstrm/internal/indexer"
	"github.com/snapetech/iptvstrm/internal/jobs"
	"github.com/snapetech/iptvstrm/internal/materializer"
	"github.com/snapetech/iptvstrm/internal/reconcile"
	"github.com/snapetech/iptvstrm/internal/reconcile/mocks"
	"github.com/snapetech/iptvstrm/internal/store"
)

type serviceFixture struct {
	ctx      context.Context
	store    *store.Store
	gw       *mocks.MockGateway
	writer   *materializer.Writer
	jobs     *jobs.Dispatcher
	svc      *reconcile.Service
	settings []config.Settings
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	gw := mocks.NewMockGateway(gomock.NewController(t))
	gw.EXPECT().StreamURL(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(streamURL).AnyTimes()

	d := jobs.New(1, 0)
	d.Start()
	t.Cleanup(d.Stop)

	w := materializer.New(afero.NewMemMapFs())
	cfg := &config.Config{
		Defaults: config.Settings{
			ProviderURL: "http://env-panel:80",
			User:        "env-user",
			Pass:        "env-pass",
			OutputDir:   "/output",
		},
		DetailConcurrency: 2,
	}
	f := &serviceFixture{ctx: ctx, store: st, gw: gw, writer: w, jobs: d}
	f.svc = reconcile.NewService(st, d, cfg, nil, w, nil)
	f.svc.NewGateway = func(s config.Settings) reconcile.Gateway {
		f.settings = append(f.settings, s)
		return gw
	}
	return f
}

func TestServiceSettingsPrecedence(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.store.SetSetting(f.ctx, store.SettingUser, "stored-user"))
	require.NoError(t, f.store.SetSetting(f.ctx, store.SettingMoviesDir, "/stored/movies"))
	require.NoError(t, f.store.PutSubscription(f.ctx, store.Subscription{
		Name: "family", ProviderURL: "http://family:80", User: "fam", Pass: "fampass", Active: true,
	}))

	def, err := f.svc.Settings(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "http://env-panel:80", def.ProviderURL)
	assert.Equal(t, "stored-user", def.User)
	assert.Equal(t, "/stored/movies", def.MoviesRoot())
	assert.Equal(t, "/output/series", def.SeriesRoot())

	fam, err := f.svc.Settings(f.ctx, "family")
	require.NoError(t, err)
	assert.Equal(t, "http://family:80", fam.ProviderURL)
	assert.Equal(t, "fam", fam.User)
	assert.Equal(t, "/stored/movies", fam.MoviesRoot())

	_, err = f.svc.Settings(f.ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestServiceRunMovieSync(t *testing.T) {
	f := newServiceFixture(t)
	f.gw.EXPECT().ListCategories(gomock.Any(), catalog.KindMovie).Return(movieCats, nil)
	f.gw.EXPECT().ListMovies(gomock.Any()).Return([]catalog.Movie{{StreamID: 1, Name: "One", Extension: "mp4", CategoryID: "2"}}, nil)

	res, err := f.svc.RunMovieSync(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, res.Status)
	ok, _ := afero.Exists(f.writer.Fs(), "/output/movies/Drama/One.strm")
	assert.True(t, ok)
	require.Len(t, f.settings, 1)
	assert.Equal(t, "env-user", f.settings[0].User)
}

func TestServiceMissingCredentials(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.Defaults.Pass = ""

	res, err := f.svc.RunSeriesSync(f.ctx, "")
	require.ErrorIs(t, err, reconcile.ErrMissingCredentials)
	assert.Equal(t, store.StatusFailed, res.Status)
	st, err := f.store.SyncState(f.ctx, "", catalog.KindSeries)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, st.Status)
	assert.Empty(t, f.settings, "no gateway built without credentials")
}

func TestServiceTriggerRunsInBackground(t *testing.T) {
	f := newServiceFixture(t)
	f.gw.EXPECT().ListCategories(gomock.Any(), catalog.KindMovie).Return(movieCats, nil)
	f.gw.EXPECT().ListMovies(gomock.Any()).Return(nil, nil)

	handle, err := f.svc.TriggerMovies(f.ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, handle)
	f.jobs.Wait()

	st, err := f.store.SyncState(f.ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, st.Status)
	assert.Empty(t, st.JobHandle)
}

func TestServiceTriggerRefusesWhileRunning(t *testing.T) {
	f := newServiceFixture(t)
	ok, err := f.store.ClaimSyncState(f.ctx, "", catalog.KindSeries, "other-process")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.TriggerSeries(f.ctx, "")
	assert.ErrorIs(t, err, jobs.ErrAlreadyRunning)

	st, err := f.store.SyncState(f.ctx, "", catalog.KindSeries)
	require.NoError(t, err)
	assert.Equal(t, "other-process", st.JobHandle, "the running claim is untouched")
}

func TestServiceCancelQueuedJobMarksFailed(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer st.Close()

	// Not started: the job stays queued until Stop.
	d := jobs.New(1, 0)
	svc := reconcile.NewService(st, d, &config.Config{}, nil, materializer.New(afero.NewMemMapFs()), nil)

	handle, err := svc.TriggerMovies(ctx, "")
	require.NoError(t, err)
	state, err := st.SyncState(ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, state.Status)
	assert.Equal(t, handle, state.JobHandle)

	require.NoError(t, svc.Cancel(handle))
	d.Stop()

	state, err = st.SyncState(ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, state.Status)
	assert.Empty(t, state.JobHandle)
}

func TestServiceTriggerPlaylist(t *testing.T) {
	f := newServiceFixture(t)
	id, err := f.store.CreatePlaylistSource(f.ctx, store.PlaylistSource{
		Name: "extras", Type: store.SourceURL, URL: "http://lists/x.m3u", OutputDir: "/out", Active: true,
	})
	require.NoError(t, err)
	f.svc.Loader = &staticLoader{entries: indexer.ParsePlaylistString(samplePlaylist)}

	handle, err := f.svc.TriggerPlaylist(f.ctx, id, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, handle)
	f.jobs.Wait()

	src, err := f.store.PlaylistSource(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, src.SyncStatus)

	_, err = f.svc.TriggerPlaylist(f.ctx, 4242, nil)
	assert.ErrorIs(t, err, reconcile.ErrNoSource)
}

func TestServiceRunRefusesWhileClaimed(t *testing.T) {
	f := newServiceFixture(t)
	ok, err := f.store.ClaimSyncState(f.ctx, "", catalog.KindMovie, "job-in-serve")
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.svc.RunMovieSync(f.ctx, "")
	require.ErrorIs(t, err, jobs.ErrAlreadyRunning)
	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Empty(t, f.settings, "no gateway built for a refused run")

	st, err := f.store.SyncState(f.ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, st.Status)
	assert.Equal(t, "job-in-serve", st.JobHandle, "the live claim is untouched")

	id, err := f.store.CreatePlaylistSource(f.ctx, store.PlaylistSource{
		Name: "extras", Type: store.SourceURL, URL: "http://lists/x.m3u", OutputDir: "/out", Active: true,
	})
	require.NoError(t, err)
	ok, err = f.store.ClaimPlaylistSource(f.ctx, id, "job-p")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.svc.RunPlaylistSync(f.ctx, id, nil)
	assert.ErrorIs(t, err, jobs.ErrAlreadyRunning)

	_, err = f.svc.RunPlaylistSync(f.ctx, 4242, nil)
	assert.ErrorIs(t, err, reconcile.ErrNoSource)
}

func TestServiceRunReleasesClaim(t *testing.T) {
	f := newServiceFixture(t)
	f.gw.EXPECT().ListCategories(gomock.Any(), catalog.KindMovie).Return(movieCats, nil).Times(2)
	f.gw.EXPECT().ListMovies(gomock.Any()).Return(nil, nil).Times(2)

	_, err := f.svc.RunMovieSync(f.ctx, "")
	require.NoError(t, err)
	_, err = f.svc.RunMovieSync(f.ctx, "")
	require.NoError(t, err, "a finished run leaves the state claimable")

	f.svc.Defaults.Pass = ""
	_, err = f.svc.RunMovieSync(f.ctx, "")
	require.ErrorIs(t, err, reconcile.ErrMissingCredentials)
	st, err := f.store.SyncState(f.ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, st.Status, "a run refused before starting releases its claim")
}
