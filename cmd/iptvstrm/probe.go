package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/snapetech/iptvstrm/internal/indexer"
	"github.com/snapetech/iptvstrm/internal/provider"
	"github.com/snapetech/iptvstrm/internal/store"
)

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check every configured account and playlist source",
	Long: `Authenticate against the default provider and each active subscription,
and fetch the head of each active playlist source. Exits non-zero when any
probe fails.`,
	Args: cobra.NoArgs,
	RunE: runProbeCmd,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "Overall probe timeout")
}

func runProbeCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	var results []provider.Result
	scopes := []string{""}
	subs, err := a.store.Subscriptions(ctx, true)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		scopes = append(scopes, sub.Name)
	}
	for _, scope := range scopes {
		name := scope
		if name == "" {
			name = "default"
		}
		set, err := a.svc.Settings(ctx, scope)
		if err != nil {
			results = append(results, provider.Result{Name: name, Status: provider.StatusError, Detail: err.Error()})
			continue
		}
		if !set.HasCredentials() {
			if scope == "" {
				continue
			}
			results = append(results, provider.Result{Name: name, Status: provider.StatusError, Detail: "missing credentials"})
			continue
		}
		c := indexer.NewClient(set.ProviderURL, set.User, set.Pass, a.http)
		results = append(results, provider.ProbeAccount(ctx, name, c))
	}

	sources, err := a.store.PlaylistSources(ctx, true)
	if err != nil {
		return err
	}
	for _, src := range sources {
		isFile := src.Type == store.SourceFile
		results = append(results, provider.ProbePlaylist(ctx, "playlist "+src.Name, src.Location(), isFile, afero.NewOsFs(), a.http.HTTP))
	}
	if len(results) == 0 {
		return errors.New("nothing to probe: set STRM_PROVIDER_URL, USER and PASS, or add a subscription or playlist source")
	}
	provider.Sort(results)

	if jsonOutput {
		if err := printJSON(cmd, results); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		for _, r := range results {
			code := ""
			if r.StatusCode != 0 {
				code = fmt.Sprintf(" HTTP %d", r.StatusCode)
			}
			fmt.Fprintf(out, "%-24s %-12s%s %5dms  %s\n", r.Name, r.Status, code, r.LatencyMs, r.Target)
			if r.Detail != "" {
				fmt.Fprintf(out, "    %s\n", r.Detail)
			}
		}
	}
	if !provider.AllOK(results) {
		return errors.New("one or more probes failed")
	}
	return nil
}
