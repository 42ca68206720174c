// Package status serves the operator surface: liveness with database and
// output-directory checks, Prometheus metrics, and the recorded sync and
// playlist state. With a Control set it also queues and stops runs.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/snapetech/iptvstrm/internal/health"
	"github.com/snapetech/iptvstrm/internal/metrics"
	"github.com/snapetech/iptvstrm/internal/store"
)

// RootsFunc returns the movies and series output roots to health-check.
type RootsFunc func(ctx context.Context) (movies, series string, err error)

// Server holds what the handlers read. Roots may be nil, in which case
// only the database is checked. Control nil leaves the server read-only.
type Server struct {
	Store   *store.Store
	Metrics *metrics.Metrics
	FS      afero.Fs
	Roots   RootsFunc
	Control Control
}

// Snapshot is the /status body.
type Snapshot struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Syncs       []store.SyncState      `json:"syncs"`
	Playlists   []store.PlaylistSource `json:"playlists"`
	Schedules   []store.Schedule       `json:"schedules"`
}

// PlaylistDetail is the /status/playlists/{id} body.
type PlaylistDetail struct {
	Source store.PlaylistSource `json:"source"`
	Groups []store.GroupCount   `json:"groups"`
}

// Router builds the handler tree.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	if s.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/status/playlists/{id:[0-9]+}", s.playlistHandler).Methods("GET")
	if s.Control != nil {
		s.controlRoutes(r)
	}
	return r
}

// ListenAndServe runs the server on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Printf("[http] listening on %s", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	dirs := map[string]string{}
	var rootsErr error
	if s.Roots != nil {
		movies, series, err := s.Roots(r.Context())
		if err != nil {
			rootsErr = err
		} else {
			dirs["movies_dir"] = movies
			dirs["series_dir"] = series
		}
	}
	fs := s.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	var db health.Pinger
	if s.Store != nil {
		db = s.Store
	}
	rep := health.Run(r.Context(), db, fs, dirs)
	if rootsErr != nil {
		rep.OK = false
		rep.Checks = append(rep.Checks, health.Check{Name: "settings", Error: rootsErr.Error()})
	}
	code := http.StatusOK
	if !rep.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap := Snapshot{GeneratedAt: time.Now().UTC()}
	var err error
	if snap.Syncs, err = s.Store.SyncStates(ctx); err != nil {
		internalError(w, "sync states", err)
		return
	}
	if snap.Playlists, err = s.Store.PlaylistSources(ctx, false); err != nil {
		internalError(w, "playlist sources", err)
		return
	}
	for i := range snap.Playlists {
		snap.Playlists[i] = snap.Playlists[i].Redacted()
	}
	if snap.Schedules, err = s.Store.Schedules(ctx); err != nil {
		internalError(w, "schedules", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) playlistHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "bad playlist id", http.StatusBadRequest)
		return
	}
	src, err := s.Store.PlaylistSource(r.Context(), id)
	if store.IsNotFound(err) {
		http.Error(w, "playlist source not found", http.StatusNotFound)
		return
	}
	if err != nil {
		internalError(w, "playlist source", err)
		return
	}
	groups, err := s.Store.PlaylistGroups(r.Context(), id)
	if err != nil {
		internalError(w, "playlist groups", err)
		return
	}
	writeJSON(w, http.StatusOK, PlaylistDetail{Source: src.Redacted(), Groups: groups})
}

func internalError(w http.ResponseWriter, what string, err error) {
	log.Printf("[http] %s: %v", what, err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[http] encode response: %v", err)
	}
}
