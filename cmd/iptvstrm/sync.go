package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/reconcile"
	"github.com/snapetech/iptvstrm/internal/store"
)

var syncScope string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the provider catalog with the library",
}

var syncMoviesCmd = &cobra.Command{
	Use:   "movies",
	Short: "Reconcile movies now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSyncCmd(cmd, catalog.KindMovie)
	},
}

var syncSeriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Reconcile series now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSyncCmd(cmd, catalog.KindSeries)
	},
}

var syncResetCmd = &cobra.Command{
	Use:   "reset <movies|series>",
	Short: "Forget the cache and sync state of one kind",
	Long: `Drop the cached records and the sync state of one kind in a scope.

Files on disk are left in place; the next sync rewrites every item.`,
	Args: cobra.ExactArgs(1),
	RunE: runSyncResetCmd,
}

var syncDumpCmd = &cobra.Command{
	Use:   "dump <movies|series> <file>",
	Short: "Write the provider's current catalog of one kind to a JSON file",
	Long: `Fetch the categories and items of one kind from the provider and save
them as a JSON snapshot, without touching the library or the cache.`,
	Args: cobra.ExactArgs(2),
	RunE: runSyncDumpCmd,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded state of every sync",
	Args:  cobra.NoArgs,
	RunE:  runSyncStatusCmd,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncMoviesCmd, syncSeriesCmd, syncResetCmd, syncDumpCmd, syncStatusCmd)
	syncCmd.PersistentFlags().StringVar(&syncScope, "scope", "", "Subscription name (empty: default settings)")
}

func runSyncCmd(cmd *cobra.Command, kind catalog.Kind) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var res reconcile.Result
	if kind == catalog.KindSeries {
		res, err = a.svc.RunSeriesSync(ctx, syncScope)
	} else {
		res, err = a.svc.RunMovieSync(ctx, syncScope)
	}
	if jsonOutput {
		if perr := printJSON(cmd, res); perr != nil {
			return perr
		}
		return err
	}
	printResult(cmd, kind.Plural(), res)
	return err
}

func printResult(cmd *cobra.Command, what string, res reconcile.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n", what, res.Status)
	fmt.Fprintf(out, "  processed:  %d\n", res.ItemsProcessed)
	fmt.Fprintf(out, "  deleted:    %d\n", res.ItemsDeleted)
	if res.ItemsCached > 0 {
		fmt.Fprintf(out, "  cached:     %d\n", res.ItemsCached)
	}
	if res.MetadataBackfilled > 0 {
		fmt.Fprintf(out, "  backfilled: %d\n", res.MetadataBackfilled)
	}
	if res.Error != "" {
		fmt.Fprintf(out, "  error:      %s\n", res.Error)
	}
}

func runSyncResetCmd(cmd *cobra.Command, args []string) error {
	kind, err := catalog.ParseKind(args[0])
	if err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("kind %q has no cache", args[0])
	}
	ctx := context.WithoutCancel(cmd.Context())
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.store.SyncState(ctx, syncScope, kind)
	if err != nil {
		return err
	}
	if st.Status == store.StatusRunning {
		return fmt.Errorf("%s sync is running (job %s)", kind.Plural(), st.JobHandle)
	}
	if err := a.store.Reset(ctx, syncScope, kind); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reset %s cache\n", kind.Plural())
	return nil
}

func runSyncDumpCmd(cmd *cobra.Command, args []string) error {
	kind, err := catalog.ParseKind(args[0])
	if err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("kind %q cannot be dumped", args[0])
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	eng, _, err := a.svc.Engine(ctx, syncScope, kind)
	if err != nil {
		return err
	}
	snap := &catalog.Snapshot{Kind: kind, Scope: syncScope, FetchedAt: time.Now().UTC()}
	if snap.Categories, err = eng.Gateway.ListCategories(ctx, kind); err != nil {
		return err
	}
	if kind == catalog.KindSeries {
		snap.Series, err = eng.Gateway.ListSeries(ctx)
	} else {
		snap.Movies, err = eng.Gateway.ListMovies(ctx)
	}
	if err != nil {
		return err
	}
	if err := snap.Save(args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d categories, %d %s to %s\n",
		len(snap.Categories), len(snap.Movies)+len(snap.Series), kind.Plural(), args[1])
	return nil
}

func runSyncStatusCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	states, err := a.store.SyncStates(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, states)
	}
	out := cmd.OutOrStdout()
	if len(states) == 0 {
		fmt.Fprintln(out, "no syncs recorded")
		return nil
	}
	for _, st := range states {
		scope := st.Scope
		if scope == "" {
			scope = "default"
		}
		last := "never"
		if !st.LastSync.IsZero() {
			last = st.LastSync.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "%-12s %-7s %-8s last=%s added=%d deleted=%d",
			scope, st.Kind, st.Status, last, st.ItemsAddedOrUpdated, st.ItemsDeleted)
		if st.ErrorMessage != "" {
			fmt.Fprintf(out, " error=%q", st.ErrorMessage)
		}
		fmt.Fprintln(out)
	}
	return nil
}
