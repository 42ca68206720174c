package status

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/jobs"
	"github.com/snapetech/iptvstrm/internal/reconcile"
	"github.com/snapetech/iptvstrm/internal/store"
)

// Control queues and cancels background runs. *reconcile.Service
// implements it.
type Control interface {
	TriggerMovies(ctx context.Context, scope string) (string, error)
	TriggerSeries(ctx context.Context, scope string) (string, error)
	TriggerPlaylist(ctx context.Context, id int64, kinds []catalog.Kind) (string, error)
	Cancel(handle string) error
}

// Job is the body returned by the trigger and stop routes.
type Job struct {
	Handle string `json:"job"`
}

func (s *Server) controlRoutes(r *mux.Router) {
	r.HandleFunc("/sync/{kind}", s.triggerSyncHandler).Methods("POST")
	r.HandleFunc("/sync/{kind}/stop", s.stopSyncHandler).Methods("POST")
	r.HandleFunc("/playlists/{id:[0-9]+}/sync", s.triggerPlaylistHandler).Methods("POST")
	r.HandleFunc("/playlists/{id:[0-9]+}/stop", s.stopPlaylistHandler).Methods("POST")
}

func syncKind(r *http.Request) (catalog.Kind, bool) {
	k, err := catalog.ParseKind(mux.Vars(r)["kind"])
	return k, err == nil && k.Valid()
}

func (s *Server) triggerSyncHandler(w http.ResponseWriter, r *http.Request) {
	kind, ok := syncKind(r)
	if !ok {
		http.Error(w, "unknown kind", http.StatusNotFound)
		return
	}
	scope := r.URL.Query().Get("scope")
	if scope != "" {
		if _, err := s.Store.Subscription(r.Context(), scope); store.IsNotFound(err) {
			http.Error(w, "subscription not found", http.StatusNotFound)
			return
		} else if err != nil {
			internalError(w, "subscription", err)
			return
		}
	}
	var handle string
	var err error
	if kind == catalog.KindSeries {
		handle, err = s.Control.TriggerSeries(r.Context(), scope)
	} else {
		handle, err = s.Control.TriggerMovies(r.Context(), scope)
	}
	s.queued(w, "trigger sync", handle, err)
}

func (s *Server) stopSyncHandler(w http.ResponseWriter, r *http.Request) {
	kind, ok := syncKind(r)
	if !ok {
		http.Error(w, "unknown kind", http.StatusNotFound)
		return
	}
	st, err := s.Store.SyncState(r.Context(), r.URL.Query().Get("scope"), kind)
	if err != nil {
		internalError(w, "sync state", err)
		return
	}
	s.cancel(w, st.Status, st.JobHandle)
}

func (s *Server) triggerPlaylistHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	var kinds []catalog.Kind
	if v := r.URL.Query().Get("kinds"); v != "" {
		var err error
		if kinds, err = reconcile.ParseKinds(strings.Split(v, ",")); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	handle, err := s.Control.TriggerPlaylist(r.Context(), id, kinds)
	s.queued(w, "trigger playlist", handle, err)
}

func (s *Server) stopPlaylistHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	src, err := s.Store.PlaylistSource(r.Context(), id)
	if store.IsNotFound(err) {
		http.Error(w, "playlist source not found", http.StatusNotFound)
		return
	}
	if err != nil {
		internalError(w, "playlist source", err)
		return
	}
	s.cancel(w, src.SyncStatus, src.JobHandle)
}

func (s *Server) queued(w http.ResponseWriter, what, handle string, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, Job{Handle: handle})
	case errors.Is(err, jobs.ErrAlreadyRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, reconcile.ErrNoSource):
		http.Error(w, "playlist source not found", http.StatusNotFound)
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		internalError(w, what, err)
	}
}

// cancel stops the job holding a running state. A run started by another
// process has no handle here and is refused.
func (s *Server) cancel(w http.ResponseWriter, status store.Status, handle string) {
	if status != store.StatusRunning {
		http.Error(w, "not running", http.StatusConflict)
		return
	}
	if handle == "" {
		http.Error(w, "running outside this server", http.StatusConflict)
		return
	}
	if err := s.Control.Cancel(handle); errors.Is(err, jobs.ErrUnknownJob) {
		http.Error(w, "running outside this server", http.StatusConflict)
		return
	} else if err != nil {
		internalError(w, "cancel", err)
		return
	}
	writeJSON(w, http.StatusAccepted, Job{Handle: handle})
}
