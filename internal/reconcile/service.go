package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/config"
	"github.com/snapetech/iptvstrm/internal/httpclient"
	"github.com/snapetech/iptvstrm/internal/indexer"
	"github.com/snapetech/iptvstrm/internal/jobs"
	"github.com/snapetech/iptvstrm/internal/materializer"
	"github.com/snapetech/iptvstrm/internal/metrics"
	"github.com/snapetech/iptvstrm/internal/store"
)

var (
	ErrMissingCredentials = errors.New("provider url, user and password are required")
	ErrNoOutputDir        = errors.New("no output directory configured")
)

// Service is what the CLI, the scheduler and the status server call. Run*
// claim the state and execute synchronously; Trigger* claim the state and
// queue the run on the dispatcher. Either refuses with jobs.ErrAlreadyRunning
// while another run, in this process or another, holds the claim.
type Service struct {
	Store       *store.Store
	Jobs        *jobs.Dispatcher
	Defaults    config.Settings
	HTTP        *httpclient.Client
	Writer      materializer.Interface
	Loader      PlaylistLoader
	Metrics     *metrics.Metrics
	Concurrency int

	// NewGateway builds the catalog client for resolved settings. Nil means
	// an indexer.Client over HTTP.
	NewGateway func(config.Settings) Gateway
}

// NewService wires a Service and registers it to clean up after jobs that
// end without recording an outcome.
func NewService(st *store.Store, d *jobs.Dispatcher, cfg *config.Config, hc *httpclient.Client, w materializer.Interface, m *metrics.Metrics) *Service {
	s := &Service{
		Store:       st,
		Jobs:        d,
		Defaults:    cfg.Defaults,
		HTTP:        hc,
		Writer:      w,
		Loader:      SourceLoader{HTTP: hc},
		Metrics:     m,
		Concurrency: cfg.DetailConcurrency,
	}
	if d != nil {
		d.OnFinish = s.jobFinished
	}
	return s
}

// Settings resolves provider settings for scope: the subscription's own
// values, then stored settings, then environment defaults.
func (s *Service) Settings(ctx context.Context, scope string) (config.Settings, error) {
	var layers []config.Settings
	if scope != "" {
		sub, err := s.Store.Subscription(ctx, scope)
		if err != nil {
			return config.Settings{}, fmt.Errorf("subscription %q: %w", scope, err)
		}
		layers = append(layers, config.FromSubscription(sub))
	}
	kv, err := s.Store.Settings(ctx)
	if err != nil {
		return config.Settings{}, err
	}
	layers = append(layers, config.FromStored(kv), s.Defaults)
	return config.Resolve(layers...), nil
}

func (s *Service) gateway(set config.Settings) Gateway {
	if s.NewGateway != nil {
		return s.NewGateway(set)
	}
	c := indexer.NewClient(set.ProviderURL, set.User, set.Pass, s.HTTP)
	c.Metrics = s.Metrics
	return c
}

// Engine returns an engine for scope's resolved settings along with the
// output root for kind.
func (s *Service) Engine(ctx context.Context, scope string, kind catalog.Kind) (*Engine, string, error) {
	set, err := s.Settings(ctx, scope)
	if err != nil {
		return nil, "", err
	}
	if !set.HasCredentials() {
		return nil, "", ErrMissingCredentials
	}
	root := set.MoviesRoot()
	if kind == catalog.KindSeries {
		root = set.SeriesRoot()
	}
	if root == "" {
		return nil, "", ErrNoOutputDir
	}
	return &Engine{
		Store:       s.Store,
		Gateway:     s.gateway(set),
		Writer:      s.Writer,
		Concurrency: s.Concurrency,
		Metrics:     s.Metrics,
	}, root, nil
}

// RunMovieSync reconciles movies for scope now.
func (s *Service) RunMovieSync(ctx context.Context, scope string) (Result, error) {
	return s.claimAndRun(ctx, scope, catalog.KindMovie)
}

// RunSeriesSync reconciles series for scope now.
func (s *Service) RunSeriesSync(ctx context.Context, scope string) (Result, error) {
	return s.claimAndRun(ctx, scope, catalog.KindSeries)
}

func (s *Service) claimAndRun(ctx context.Context, scope string, kind catalog.Kind) (Result, error) {
	if err := s.claimSync(ctx, scope, kind); err != nil {
		return Result{Status: store.StatusFailed, Error: err.Error()}, err
	}
	return s.runSync(ctx, scope, kind)
}

func (s *Service) claimSync(ctx context.Context, scope string, kind catalog.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("kind %q cannot be synced", kind)
	}
	ok, err := s.Store.ClaimSyncState(ctx, scope, kind, "")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %s: %w", kind.Plural(), scopeLabel(scope), jobs.ErrAlreadyRunning)
	}
	return nil
}

// runSync runs a claimed sync; the engine's outcome releases the claim.
func (s *Service) runSync(ctx context.Context, scope string, kind catalog.Kind) (Result, error) {
	eng, root, err := s.Engine(ctx, scope, kind)
	if err != nil {
		// Releases a claim taken by Trigger.
		if merr := s.Store.MarkFailed(context.WithoutCancel(ctx), scope, kind, err.Error()); merr != nil {
			log.Printf("[sync] %s %s: recording failure: %v", kind.Plural(), scopeLabel(scope), merr)
		}
		log.Printf("[sync] %s %s: %v", kind.Plural(), scopeLabel(scope), err)
		return Result{Status: store.StatusFailed, Error: err.Error()}, err
	}
	if kind == catalog.KindSeries {
		return eng.RunSeries(ctx, scope, root)
	}
	return eng.RunMovies(ctx, scope, root)
}

// RunPlaylistSync materializes playlist source id now.
func (s *Service) RunPlaylistSync(ctx context.Context, id int64, kinds []catalog.Kind) (Result, error) {
	if err := s.claimPlaylist(ctx, id); err != nil {
		return Result{Status: store.StatusFailed, Error: err.Error()}, err
	}
	return s.runPlaylist(ctx, id, kinds)
}

func (s *Service) claimPlaylist(ctx context.Context, id int64) error {
	ok, err := s.Store.ClaimPlaylistSource(ctx, id, "")
	if err != nil {
		if store.IsNotFound(err) {
			return fmt.Errorf("%w: %d", ErrNoSource, id)
		}
		return err
	}
	if !ok {
		return fmt.Errorf("playlist %d: %w", id, jobs.ErrAlreadyRunning)
	}
	return nil
}

func (s *Service) runPlaylist(ctx context.Context, id int64, kinds []catalog.Kind) (Result, error) {
	r := &PlaylistRunner{Store: s.Store, Loader: s.Loader, Writer: s.Writer, Metrics: s.Metrics}
	return r.RunPlaylist(ctx, id, kinds)
}

// TriggerMovies queues a movie sync for scope and returns its job handle.
func (s *Service) TriggerMovies(ctx context.Context, scope string) (string, error) {
	return s.triggerSync(ctx, scope, catalog.KindMovie)
}

// TriggerSeries queues a series sync for scope and returns its job handle.
func (s *Service) TriggerSeries(ctx context.Context, scope string) (string, error) {
	return s.triggerSync(ctx, scope, catalog.KindSeries)
}

// Trigger queues kind for scope; it is the schedule.TriggerFunc.
func (s *Service) Trigger(ctx context.Context, scope string, kind catalog.Kind) error {
	_, err := s.triggerSync(ctx, scope, kind)
	return err
}

func syncKey(kind catalog.Kind, scope string) string {
	return string(kind) + ":" + scope
}

func (s *Service) triggerSync(ctx context.Context, scope string, kind catalog.Kind) (string, error) {
	if err := s.claimSync(ctx, scope, kind); err != nil {
		return "", err
	}
	ready := make(chan struct{})
	h, err := s.Jobs.Submit(syncKey(kind, scope), func(ctx context.Context) error {
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		_, err := s.runSync(ctx, scope, kind)
		return err
	})
	if err != nil {
		_ = s.Store.MarkFailed(context.WithoutCancel(ctx), scope, kind, "not queued: "+err.Error())
		return "", fmt.Errorf("%s %s: %w", kind.Plural(), scopeLabel(scope), err)
	}
	if err := s.Store.SetJobHandle(context.WithoutCancel(ctx), scope, kind, h.ID); err != nil {
		h.Cancel()
		close(ready)
		return "", err
	}
	close(ready)
	log.Printf("[sync] %s %s queued as %s", kind.Plural(), scopeLabel(scope), h.ID)
	return h.ID, nil
}

// TriggerPlaylist queues a playlist sync and returns its job handle.
func (s *Service) TriggerPlaylist(ctx context.Context, id int64, kinds []catalog.Kind) (string, error) {
	if err := s.claimPlaylist(ctx, id); err != nil {
		return "", err
	}
	ready := make(chan struct{})
	h, err := s.Jobs.Submit(playlistKey(id), func(ctx context.Context) error {
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		_, err := s.runPlaylist(ctx, id, kinds)
		return err
	})
	if err != nil {
		_ = s.Store.MarkPlaylistFailed(context.WithoutCancel(ctx), id, "not queued: "+err.Error())
		return "", fmt.Errorf("playlist %d: %w", id, err)
	}
	if err := s.Store.SetPlaylistJobHandle(context.WithoutCancel(ctx), id, h.ID); err != nil {
		h.Cancel()
		close(ready)
		return "", err
	}
	close(ready)
	log.Printf("[playlist] %d queued as %s", id, h.ID)
	return h.ID, nil
}

// Cancel stops a queued or running job by handle.
func (s *Service) Cancel(handle string) error {
	return s.Jobs.Cancel(handle)
}

// jobFinished marks the state of a job that ended without recording its
// own outcome (cancelled while queued, panicked) as failed.
func (s *Service) jobFinished(h *jobs.Handle) {
	ctx := context.Background()
	msg := "cancelled"
	if err := h.Err(); err != nil {
		msg = err.Error()
	}
	prefix, rest, ok := strings.Cut(h.Key, ":")
	if !ok {
		return
	}
	if prefix == "playlist" {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return
		}
		src, err := s.Store.PlaylistSource(ctx, id)
		if err == nil && src.SyncStatus == store.StatusRunning && src.JobHandle == h.ID {
			if err := s.Store.MarkPlaylistFailed(ctx, id, msg); err != nil {
				log.Printf("[jobs] playlist %d: %v", id, err)
			}
		}
		return
	}
	kind := catalog.Kind(prefix)
	if !kind.Valid() {
		return
	}
	st, err := s.Store.SyncState(ctx, rest, kind)
	if err == nil && st.Status == store.StatusRunning && st.JobHandle == h.ID {
		if err := s.Store.MarkFailed(ctx, rest, kind, msg); err != nil {
			log.Printf("[jobs] %s %s: %v", kind.Plural(), scopeLabel(rest), err)
		}
	}
}
