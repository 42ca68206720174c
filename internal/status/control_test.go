package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/jobs"
	"github.com/snapetech/iptvstrm/internal/reconcile"
	"github.com/snapetech/iptvstrm/internal/store"
)

var _ Control = (*reconcile.Service)(nil)

type fakeControl struct {
	triggered []string
	kinds     []catalog.Kind
	cancelled []string
	err       error
}

func (c *fakeControl) TriggerMovies(_ context.Context, scope string) (string, error) {
	c.triggered = append(c.triggered, "movie:"+scope)
	return "job-m", c.err
}

func (c *fakeControl) TriggerSeries(_ context.Context, scope string) (string, error) {
	c.triggered = append(c.triggered, "series:"+scope)
	return "job-s", c.err
}

func (c *fakeControl) TriggerPlaylist(_ context.Context, id int64, kinds []catalog.Kind) (string, error) {
	c.triggered = append(c.triggered, "playlist:"+strconv.FormatInt(id, 10))
	c.kinds = kinds
	return "job-p", c.err
}

func (c *fakeControl) Cancel(handle string) error {
	if handle == "gone" {
		return jobs.ErrUnknownJob
	}
	c.cancelled = append(c.cancelled, handle)
	return nil
}

func post(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
	return rec
}

func TestControl_disabledByDefault(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, post(t, s.Router(), "/sync/movies").Code)
}

func TestControl_triggerSync(t *testing.T) {
	s, st := newTestServer(t)
	c := &fakeControl{}
	s.Control = c
	ctx := context.Background()
	require.NoError(t, st.PutSubscription(ctx, store.Subscription{Name: "family", ProviderURL: "http://f", User: "u", Pass: "p", Active: true}))

	rec := post(t, s.Router(), "/sync/movies")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "job-m", job.Handle)

	assert.Equal(t, http.StatusAccepted, post(t, s.Router(), "/sync/series?scope=family").Code)
	assert.Equal(t, http.StatusNotFound, post(t, s.Router(), "/sync/series?scope=nobody").Code)
	assert.Equal(t, http.StatusNotFound, post(t, s.Router(), "/sync/live").Code)
	assert.Equal(t, []string{"movie:", "series:family"}, c.triggered)

	c.err = jobs.ErrAlreadyRunning
	assert.Equal(t, http.StatusConflict, post(t, s.Router(), "/sync/movies").Code)
}

func TestControl_stopSync(t *testing.T) {
	s, st := newTestServer(t)
	c := &fakeControl{}
	s.Control = c
	ctx := context.Background()

	assert.Equal(t, http.StatusConflict, post(t, s.Router(), "/sync/movies/stop").Code, "nothing running")

	ok, err := st.ClaimSyncState(ctx, "", catalog.KindMovie, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, post(t, s.Router(), "/sync/movies/stop").Code, "claimed by another process")

	require.NoError(t, st.SetJobHandle(ctx, "", catalog.KindMovie, "job-1"))
	assert.Equal(t, http.StatusAccepted, post(t, s.Router(), "/sync/movies/stop").Code)
	assert.Equal(t, []string{"job-1"}, c.cancelled)

	require.NoError(t, st.SetJobHandle(ctx, "", catalog.KindMovie, "gone"))
	assert.Equal(t, http.StatusConflict, post(t, s.Router(), "/sync/movies/stop").Code)
}

func TestControl_playlist(t *testing.T) {
	s, st := newTestServer(t)
	c := &fakeControl{}
	s.Control = c
	ctx := context.Background()
	id, err := st.CreatePlaylistSource(ctx, store.PlaylistSource{
		Name: "extras", Type: store.SourceURL, URL: "http://lists/x.m3u", OutputDir: "/out", Active: true,
	})
	require.NoError(t, err)
	base := "/playlists/" + strconv.FormatInt(id, 10)

	assert.Equal(t, http.StatusAccepted, post(t, s.Router(), base+"/sync?kinds=movies").Code)
	assert.Equal(t, []catalog.Kind{catalog.KindMovie}, c.kinds)
	assert.Equal(t, http.StatusBadRequest, post(t, s.Router(), base+"/sync?kinds=live").Code)

	ok, err := st.ClaimPlaylistSource(ctx, id, "job-p")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusAccepted, post(t, s.Router(), base+"/stop").Code)
	assert.Equal(t, []string{"job-p"}, c.cancelled)

	assert.Equal(t, http.StatusNotFound, post(t, s.Router(), "/playlists/999/stop").Code)
	c.err = reconcile.ErrNoSource
	assert.Equal(t, http.StatusNotFound, post(t, s.Router(), "/playlists/999/sync").Code)
}
