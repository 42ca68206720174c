package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/snapetech/iptvstrm/internal/catalog"
	"github.com/snapetech/iptvstrm/internal/reconcile"
	"github.com/snapetech/iptvstrm/internal/safeurl"
	"github.com/snapetech/iptvstrm/internal/store"
)

var playlistKinds []string

var playlistCmd = &cobra.Command{
	Use:   "playlist",
	Short: "Manage M3U playlist sources",
}

var playlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List playlist sources",
	Args:  cobra.NoArgs,
	RunE:  runPlaylistListCmd,
}

var playlistGroupsCmd = &cobra.Command{
	Use:   "groups <id|name>",
	Short: "List the cached groups of a source and whether each is selected",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlaylistGroupsCmd,
}

var playlistSelectCmd = &cobra.Command{
	Use:   "select <id|name> <movies|series> [group...]",
	Short: "Replace the selected groups of one kind",
	Long: `Replace the selected groups of one kind for a source.

Groups of the other kind keep their selection. With no groups the kind is
cleared. Use "Uncategorized" for entries without a group-title.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPlaylistSelectCmd,
}

var playlistSyncCmd = &cobra.Command{
	Use:   "sync <id|name>",
	Short: "Fetch a playlist source and write its selected groups",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlaylistSyncCmd,
}

func init() {
	rootCmd.AddCommand(playlistCmd)
	playlistCmd.AddCommand(playlistListCmd, playlistGroupsCmd, playlistSelectCmd, playlistSyncCmd)
	playlistSyncCmd.Flags().StringSliceVar(&playlistKinds, "kinds", nil, "Only write these kinds (movies, series)")
}

func runPlaylistListCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	sources, err := a.store.PlaylistSources(cmd.Context(), false)
	if err != nil {
		return err
	}
	if jsonOutput {
		for i := range sources {
			sources[i] = sources[i].Redacted()
		}
		return printJSON(cmd, sources)
	}
	out := cmd.OutOrStdout()
	if len(sources) == 0 {
		fmt.Fprintln(out, "no playlist sources")
		return nil
	}
	for _, src := range sources {
		active := ""
		if !src.Active {
			active = " (inactive)"
		}
		fmt.Fprintf(out, "%3d  %-20s %-8s %s%s\n", src.ID, src.Name, src.SyncStatus, location(src), active)
		if src.LastError != "" {
			fmt.Fprintf(out, "     error: %s\n", src.LastError)
		}
	}
	return nil
}

func location(src store.PlaylistSource) string {
	if src.Type == store.SourceFile {
		return src.FilePath
	}
	return safeurl.Redact(src.URL)
}

func runPlaylistGroupsCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	src, err := a.playlistSource(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	groups, err := a.store.PlaylistGroups(cmd.Context(), src.ID)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, groups)
	}
	out := cmd.OutOrStdout()
	if len(groups) == 0 {
		fmt.Fprintf(out, "%s has no cached entries; run 'iptvstrm playlist sync %s' first\n", src.Name, args[0])
		return nil
	}
	for _, g := range groups {
		mark := " "
		if g.Selected {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %-7s %5d  %s\n", mark, g.Kind, g.Count, g.GroupTitle)
	}
	return nil
}

func runPlaylistSelectCmd(cmd *cobra.Command, args []string) error {
	kind, err := catalog.ParseKind(args[1])
	if err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("kind %q cannot be selected", args[1])
	}
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	src, err := a.playlistSource(ctx, args[0])
	if err != nil {
		return err
	}
	current, err := a.store.GroupSelections(ctx, src.ID)
	if err != nil {
		return err
	}
	var sel []store.GroupSelection
	for _, g := range current {
		if g.Kind != kind {
			sel = append(sel, g)
		}
	}
	for _, title := range args[2:] {
		sel = append(sel, store.GroupSelection{SourceID: src.ID, GroupTitle: title, Kind: kind})
	}
	if err := a.store.SetGroupSelections(ctx, src.ID, sel); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d %s group(s) selected\n", src.Name, len(args)-2, kind)
	return nil
}

func runPlaylistSyncCmd(cmd *cobra.Command, args []string) error {
	kinds, err := reconcile.ParseKinds(playlistKinds)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	src, err := a.playlistSource(ctx, args[0])
	if err != nil {
		return err
	}
	res, err := a.svc.RunPlaylistSync(ctx, src.ID, kinds)
	if jsonOutput {
		if perr := printJSON(cmd, res); perr != nil {
			return perr
		}
		return err
	}
	printResult(cmd, "playlist "+src.Name, res)
	return err
}
