package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/snapetech/iptvstrm/internal/config"
	"github.com/snapetech/iptvstrm/internal/httpclient"
	"github.com/snapetech/iptvstrm/internal/jobs"
	"github.com/snapetech/iptvstrm/internal/materializer"
	"github.com/snapetech/iptvstrm/internal/metrics"
	"github.com/snapetech/iptvstrm/internal/reconcile"
	"github.com/snapetech/iptvstrm/internal/store"
)

// app is the process wiring shared by every command.
type app struct {
	cfg     *config.Config
	store   *store.Store
	http    *httpclient.Client
	metrics *metrics.Metrics
	jobs    *jobs.Dispatcher
	svc     *reconcile.Service

	logFile io.Closer
}

// openApp loads configuration, sets up logging, opens and seeds the store
// and builds the reconcile service. withRuntime adds Go runtime metrics.
func openApp(ctx context.Context, withRuntime bool) (*app, error) {
	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := config.Load()
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	a := &app{cfg: cfg}
	a.logFile = setupLogging(cfg)

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			a.Close()
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st

	if cfg.SeedFile != "" {
		seed, err := config.LoadSeed(cfg.SeedFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := seed.Apply(ctx, st); err != nil {
			a.Close()
			return nil, fmt.Errorf("apply seed %s: %w", cfg.SeedFile, err)
		}
		log.Printf("[sync] applied seed %s", cfg.SeedFile)
	}

	a.metrics = metrics.New(withRuntime)
	a.http = newHTTPClient(cfg)
	a.jobs = jobs.New(cfg.Workers, 0)
	a.jobs.Metrics = a.metrics
	a.svc = reconcile.NewService(st, a.jobs, cfg, a.http, materializer.NewOS(), a.metrics)
	return a, nil
}

func newHTTPClient(cfg *config.Config) *httpclient.Client {
	policy := httpclient.DefaultRetryPolicy
	policy.Attempts = cfg.HTTPRetries
	hc := httpclient.New(httpclient.Options{
		Timeout:           cfg.HTTPTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.RequestBurst,
		Retry:             policy,
	})
	hc.Hosts = httpclient.NewHostSemaphore(cfg.HostConcurrency)
	return hc
}

// setupLogging sends the standard logger to stdout and, when LogFile is
// set, to a rotated file as well. The returned closer may be nil.
func setupLogging(cfg *config.Config) io.Closer {
	log.SetFlags(log.LstdFlags)
	if cfg.LogFile == "" {
		log.SetOutput(os.Stdout)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		log.SetOutput(os.Stdout)
		log.Printf("Warning: could not create log directory for %s: %v", cfg.LogFile, err)
		return nil
	}
	fileWriter := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	return fileWriter
}

// Close stops background work and releases the store and log file.
func (a *app) Close() {
	if a.jobs != nil {
		a.jobs.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
	log.SetOutput(os.Stderr)
}

// playlistSource resolves a playlist source by numeric id or by name.
func (a *app) playlistSource(ctx context.Context, ref string) (store.PlaylistSource, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		src, err := a.store.PlaylistSource(ctx, id)
		if err == nil || !store.IsNotFound(err) {
			return src, err
		}
	}
	src, err := a.store.PlaylistSourceByName(ctx, ref)
	if store.IsNotFound(err) {
		return src, fmt.Errorf("playlist source %q: %w", ref, reconcile.ErrNoSource)
	}
	return src, err
}
