package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/snapetech/iptvstrm/internal/reconcile"
	"github.com/snapetech/iptvstrm/internal/schedule"
	"github.com/snapetech/iptvstrm/internal/status"
)

var (
	listenAddr   string
	noScheduler  bool
	allowControl bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run background syncs on schedule and serve /healthz, /metrics and /status",
	Long: `Start the job workers, the schedule evaluator and the status server.

Runs left in the running state by a previous process are marked failed at
start. SIGINT or SIGTERM cancels in-flight syncs and exits.

With --control the server also accepts, without authentication:

  POST /sync/{movies|series}[?scope=NAME]       queue a sync
  POST /sync/{movies|series}/stop[?scope=NAME]  cancel it
  POST /playlists/{id}/sync[?kinds=movies,series]
  POST /playlists/{id}/stop`,
	Args: cobra.NoArgs,
	RunE: runServeCmd,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Status server address (overrides STRM_LISTEN)")
	serveCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Do not evaluate schedules")
	serveCmd.Flags().BoolVar(&allowControl, "control", false, "Serve the trigger and stop routes")
}

func runServeCmd(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if n, err := a.store.RecoverInterrupted(ctx); err != nil {
		return err
	} else if n > 0 {
		log.Printf("[sync] marked %d interrupted run(s) failed", n)
	}

	a.jobs.Start()
	if !noScheduler {
		sched := schedule.New(a.store, a.svc.Trigger, a.cfg.ScheduleInterval)
		sched.Start(ctx)
		defer sched.Stop()
	}

	addr := a.cfg.ListenAddr
	if listenAddr != "" {
		addr = listenAddr
	}
	srv := &status.Server{
		Store:   a.store,
		Metrics: a.metrics,
		FS:      afero.NewOsFs(),
		Roots:   defaultRoots(a.svc),
	}
	if allowControl {
		srv.Control = a.svc
	}
	return srv.ListenAndServe(ctx, addr)
}

// defaultRoots reports the output roots of the default scope.
func defaultRoots(svc *reconcile.Service) status.RootsFunc {
	return func(ctx context.Context) (string, string, error) {
		set, err := svc.Settings(ctx, "")
		if err != nil {
			return "", "", err
		}
		if set.MoviesRoot() == "" && set.SeriesRoot() == "" {
			return "", "", reconcile.ErrNoOutputDir
		}
		return set.MoviesRoot(), set.SeriesRoot(), nil
	}
}
