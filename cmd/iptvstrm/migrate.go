package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and print the schema version",
	Long: `Open the state database, apply pending migrations and apply the seed file
when STRM_SEED_FILE is set. Every other command does the same on start; this
one does nothing else.`,
	Args: cobra.NoArgs,
	RunE: runMigrateCmd,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrateCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.store.SchemaVersion(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, map[string]any{"db": a.cfg.DBPath, "schema_version": v})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", a.cfg.DBPath, v)
	return nil
}
