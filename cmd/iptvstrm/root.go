package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	envFile    string
	dbPath     string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "iptvstrm",
	Short: "Mirror an IPTV VOD catalog into .strm/.nfo files",
	Long: `iptvstrm - IPTV catalog to media library reconciler

Fetches the movie and series catalog of an Xtream-style provider (or an M3U
playlist) and keeps a directory tree of .strm pointer files and .nfo metadata
in step with it, so Jellyfin, Emby or Kodi can index the catalog.

Configuration comes from STRM_* environment variables, an optional .env file,
settings stored in the database and an optional TOML seed (STRM_SEED_FILE).`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Environment file loaded before reading STRM_* variables")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "State database path (overrides STRM_DB)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("iptvstrm {{.Version}}\n")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
