package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/indexer"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_migratesAndReopens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	require.NoError(t, s.UpsertMovie(ctx, CachedMovie{StreamID: 1, Name: "A"}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	movies, err := s.MovieCache(ctx, "")
	require.NoError(t, err)
	assert.Len(t, movies, 1)
	require.NoError(t, s.Ping(ctx))
}

func TestMovieCache_upsertDeleteScoped(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.UpsertMovie(ctx, CachedMovie{StreamID: 1, Name: "A", CategoryID: "10", Extension: "mkv"}))
	require.NoError(t, s.UpsertMovie(ctx, CachedMovie{StreamID: 1, Name: "A2", CategoryID: "10", Extension: "mp4", ExternalID: "603"}))
	require.NoError(t, s.UpsertMovie(ctx, CachedMovie{Scope: "other", StreamID: 1, Name: "Other"}))
	assert.Error(t, s.UpsertMovie(ctx, CachedMovie{StreamID: 0, Name: "bad"}))

	movies, err := s.MovieCache(ctx, "")
	require.NoError(t, err)
	require.Len(t, movies, 1)
	assert.Equal(t, CachedMovie{StreamID: 1, Name: "A2", CategoryID: "10", Extension: "mp4", ExternalID: "603"}, movies[1])

	require.NoError(t, s.DeleteMovie(ctx, "", 1))
	require.NoError(t, s.DeleteMovie(ctx, "", 99))
	movies, err = s.MovieCache(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, movies)

	other, err := s.MovieCache(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestSeriesCache_andCounts(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	require.NoError(t, s.UpsertSeries(ctx, CachedSeries{SeriesID: 7, Name: "Show", CategoryID: "3"}))
	require.NoError(t, s.UpsertMovie(ctx, CachedMovie{StreamID: 1, Name: "A"}))
	require.NoError(t, s.UpsertMovie(ctx, CachedMovie{StreamID: 2, Name: "B"}))

	series, err := s.SeriesCache(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Show", series[7].Name)

	m, n, err := s.CacheCounts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, m)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DeleteSeries(ctx, "", 7))
	series, err = s.SeriesCache(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestTx_rollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.UpsertMovie(ctx, CachedMovie{StreamID: 1, Name: "A"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	movies, err := s.MovieCache(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, movies)

	require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
		return tx.UpsertMovie(ctx, CachedMovie{StreamID: 1, Name: "A"})
	}))
	movies, err = s.MovieCache(ctx, "")
	require.NoError(t, err)
	assert.Len(t, movies, 1)
}

func TestTx_readsAndPingStayAvailable(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	require.NoError(t, s.UpsertMovie(ctx, CachedMovie{StreamID: 1, Name: "A"}))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, tx.UpsertMovie(ctx, CachedMovie{StreamID: 2, Name: "B"}))

	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.Ping(rctx))
	movies, err := s.MovieCache(rctx, "")
	require.NoError(t, err)
	assert.Len(t, movies, 1, "uncommitted row is not visible to readers")
	_, err = s.SyncStates(rctx)
	require.NoError(t, err)
}

func TestTx_writersWaitForCommit(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertMovie(ctx, CachedMovie{StreamID: 1, Name: "A"}))

	done := make(chan error, 1)
	go func() { done <- s.UpsertMovie(ctx, CachedMovie{StreamID: 2, Name: "B"}) }()
	select {
	case err := <-done:
		t.Fatalf("write finished while a transaction was open: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Rollback(), sql.ErrTxDone, "rollback after commit releases nothing twice")
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("write still blocked after commit")
	}
	movies, err := s.MovieCache(ctx, "")
	require.NoError(t, err)
	assert.Len(t, movies, 2)

	wctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.UpsertMovie(wctx, CachedMovie{StreamID: 3, Name: "C"}), "lock released")
}

func TestOpen_pragmasOnEveryConnection(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	conns := make([]*sql.Conn, MaxOpenConns)
	for i := range conns {
		c, err := s.db.Conn(ctx)
		require.NoError(t, err)
		defer c.Close()
		conns[i] = c
	}
	for _, c := range conns {
		var fk int
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		assert.Equal(t, 1, fk)
		var mode string
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode)
	}
}

func TestSyncState_lifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	st, err := s.SyncState(ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, st.Status)
	assert.True(t, st.LastSync.IsZero())

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.MarkRunning(ctx, "", catalog.KindMovie, at))
	require.NoError(t, s.SetJobHandle(ctx, "", catalog.KindMovie, "job-1"))
	st, err = s.SyncState(ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st.Status)
	assert.Equal(t, at, st.LastSync)
	assert.Equal(t, "job-1", st.JobHandle)

	require.NoError(t, s.MarkSuccess(ctx, "", catalog.KindMovie, 5, 2))
	st, err = s.SyncState(ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st.Status)
	assert.Equal(t, 5, st.ItemsAddedOrUpdated)
	assert.Equal(t, 2, st.ItemsDeleted)
	assert.Empty(t, st.JobHandle)

	require.NoError(t, s.MarkFailed(ctx, "", catalog.KindMovie, "provider down"))
	st, err = s.SyncState(ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "provider down", st.ErrorMessage)
	// Counts of the last success survive a failure.
	assert.Equal(t, 5, st.ItemsAddedOrUpdated)

	all, err := s.SyncStates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestClaimSyncState_refusesWhileRunning(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	ok, err := s.ClaimSyncState(ctx, "", catalog.KindSeries, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ClaimSyncState(ctx, "", catalog.KindSeries, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	st, err := s.SyncState(ctx, "", catalog.KindSeries)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "interrupted", st.ErrorMessage)

	ok, err = s.ClaimSyncState(ctx, "", catalog.KindSeries, "c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReset_clearsOneKind(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	require.NoError(t, s.UpsertMovie(ctx, CachedMovie{StreamID: 1, Name: "A"}))
	require.NoError(t, s.UpsertSeries(ctx, CachedSeries{SeriesID: 1, Name: "S"}))
	require.NoError(t, s.MarkSuccess(ctx, "", catalog.KindMovie, 1, 0))

	require.NoError(t, s.Reset(ctx, "", catalog.KindMovie))
	movies, _ := s.MovieCache(ctx, "")
	series, _ := s.SeriesCache(ctx, "")
	assert.Empty(t, movies)
	assert.Len(t, series, 1)
	st, err := s.SyncState(ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, st.Status)

	assert.Error(t, s.Reset(ctx, "", catalog.KindLive))
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.Setting(ctx, SettingProviderURL)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetSetting(ctx, SettingProviderURL, "http://a"))
	require.NoError(t, s.SetSetting(ctx, SettingProviderURL, "http://b"))
	require.NoError(t, s.SetSetting(ctx, SettingMoviesDir, "/m"))
	v, err := s.Setting(ctx, SettingProviderURL)
	require.NoError(t, err)
	assert.Equal(t, "http://b", v)

	require.NoError(t, s.SetSetting(ctx, SettingMoviesDir, ""))
	all, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{SettingProviderURL: "http://b"}, all)
}

func TestSelectedCategories(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	ids, err := s.SelectedCategories(ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.SetSelectedCategories(ctx, "", catalog.KindMovie, []string{"3", "1", "3", ""}))
	require.NoError(t, s.SetSelectedCategories(ctx, "", catalog.KindSeries, []string{"9"}))
	ids, err = s.SelectedCategories(ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids)

	require.NoError(t, s.SetSelectedCategories(ctx, "", catalog.KindMovie, nil))
	ids, err = s.SelectedCategories(ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = s.SelectedCategories(ctx, "", catalog.KindSeries)
	require.NoError(t, err)
	assert.Equal(t, []string{"9"}, ids)
}

func TestSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	assert.Error(t, s.PutSubscription(ctx, Subscription{Name: "x"}))
	sub := Subscription{Name: "home", ProviderURL: "http://p", User: "u", Pass: "p", MoviesDir: "/m", Active: true}
	require.NoError(t, s.PutSubscription(ctx, sub))
	require.NoError(t, s.PutSubscription(ctx, Subscription{Name: "old", ProviderURL: "http://o", User: "u", Pass: "p"}))

	got, err := s.Subscription(ctx, "home")
	require.NoError(t, err)
	assert.Equal(t, "/m", got.MoviesDir)
	assert.True(t, got.Active)
	assert.False(t, got.CreatedAt.IsZero())

	active, err := s.Subscriptions(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	all, err := s.Subscriptions(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteSubscription(ctx, "old"))
	assert.ErrorIs(t, s.DeleteSubscription(ctx, "old"), ErrNotFound)
	_, err = s.Subscription(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlaylistSources(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.CreatePlaylistSource(ctx, PlaylistSource{Name: "bad", Type: SourceURL, OutputDir: "/out"})
	assert.Error(t, err)

	id, err := s.CreatePlaylistSource(ctx, PlaylistSource{Name: "main", Type: SourceURL, URL: "http://h/list.m3u", OutputDir: "/out/", Active: true})
	require.NoError(t, err)
	src, err := s.PlaylistSource(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, src.SyncStatus)
	assert.Equal(t, "/out/movies", src.MoviesBase())
	assert.Equal(t, "/out/series", src.SeriesBase())
	assert.Equal(t, "http://h/list.m3u", src.Location())

	src.SeriesDir = "/tv"
	require.NoError(t, s.UpdatePlaylistSource(ctx, src))
	byName, err := s.PlaylistSourceByName(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "/tv", byName.SeriesBase())

	ok, err := s.ClaimPlaylistSource(ctx, id, "h1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ClaimPlaylistSource(ctx, id, "h2")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.ClaimPlaylistSource(ctx, 999, "h")
	assert.ErrorIs(t, err, ErrNotFound)

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkPlaylistSuccess(ctx, id, at))
	src, err = s.PlaylistSource(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, src.SyncStatus)
	assert.Equal(t, at, src.LastSync)
	assert.Empty(t, src.JobHandle)

	require.NoError(t, s.MarkPlaylistFailed(ctx, id, "404"))
	src, _ = s.PlaylistSource(ctx, id)
	assert.Equal(t, "404", src.LastError)

	list, err := s.PlaylistSources(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeletePlaylistSource(ctx, id))
	_, err = s.PlaylistSource(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlaylistEntriesAndGroups(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	id, err := s.CreatePlaylistSource(ctx, PlaylistSource{Name: "main", Type: SourceFile, FilePath: "/l.m3u", OutputDir: "/out"})
	require.NoError(t, err)

	entries := []indexer.PlaylistEntry{
		{Title: "Live", URL: "http://h/live/1", GroupTitle: "News", Kind: catalog.KindLive},
		{Title: "Film A", URL: "http://h/movie/1", GroupTitle: "Action", Kind: catalog.KindMovie},
		{Title: "Film B", URL: "http://h/movie/2", GroupTitle: "Action", Kind: catalog.KindMovie},
		{Title: "Loose", URL: "http://h/movie/3", Kind: catalog.KindMovie},
		{Title: "Ep", URL: "http://h/series/4", GroupTitle: "Drama", Kind: catalog.KindSeries},
	}
	n, err := s.ReplacePlaylistEntries(ctx, id, entries)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	movies, err := s.PlaylistEntries(ctx, id, catalog.KindMovie)
	require.NoError(t, err)
	require.Len(t, movies, 3)
	assert.Equal(t, "Film A", movies[0].Title)
	assert.Equal(t, "Loose", movies[2].Title)

	require.NoError(t, s.SetGroupSelections(ctx, id, []GroupSelection{
		{GroupTitle: "Action", Kind: catalog.KindMovie},
		{GroupTitle: "", Kind: catalog.KindMovie},
	}))
	assert.Error(t, s.SetGroupSelections(ctx, id, []GroupSelection{{GroupTitle: "News", Kind: catalog.KindLive}}))
	assert.ErrorIs(t, s.SetGroupSelections(ctx, 999, nil), ErrNotFound)

	groups, err := s.PlaylistGroups(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []GroupCount{
		{GroupTitle: "Action", Kind: catalog.KindMovie, Count: 2, Selected: true},
		{GroupTitle: "Uncategorized", Kind: catalog.KindMovie, Count: 1, Selected: true},
		{GroupTitle: "Drama", Kind: catalog.KindSeries, Count: 1},
	}, groups)

	sel, err := s.GroupSelections(ctx, id)
	require.NoError(t, err)
	assert.Len(t, sel, 2)

	// Replacing swaps the whole set.
	n, err = s.ReplacePlaylistEntries(ctx, id, entries[4:])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	all, err := s.PlaylistEntries(ctx, id, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Deleting the source cascades.
	require.NoError(t, s.DeletePlaylistSource(ctx, id))
	all, err = s.PlaylistEntries(ctx, id, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSchedules(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Error(t, s.PutSchedule(ctx, Schedule{Kind: catalog.KindLive, Frequency: "daily"}))
	require.NoError(t, s.PutSchedule(ctx, Schedule{Kind: catalog.KindMovie, Enabled: true, Frequency: "daily"}))
	require.NoError(t, s.PutSchedule(ctx, Schedule{Kind: catalog.KindSeries, Enabled: true, Frequency: "hourly", NextRun: now.Add(time.Hour)}))
	require.NoError(t, s.PutSchedule(ctx, Schedule{Scope: "b", Kind: catalog.KindMovie, Enabled: false, Frequency: "daily"}))

	due, err := s.DueSchedules(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, catalog.KindMovie, due[0].Kind)

	require.NoError(t, s.MarkScheduleRun(ctx, "", catalog.KindMovie, now, now.Add(24*time.Hour)))
	due, err = s.DueSchedules(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, catalog.KindSeries, due[0].Kind)

	got, err := s.Schedule(ctx, "", catalog.KindMovie)
	require.NoError(t, err)
	assert.Equal(t, now, got.LastRun)
	assert.Equal(t, now.Add(24*time.Hour), got.NextRun)

	all, err := s.Schedules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.ErrorIs(t, s.MarkScheduleRun(ctx, "zz", catalog.KindMovie, now, now), ErrNotFound)
	require.NoError(t, s.DeleteSchedule(ctx, "b", catalog.KindMovie))
	_, err = s.Schedule(ctx, "b", catalog.KindMovie)
	assert.ErrorIs(t, err, ErrNotFound)
}
