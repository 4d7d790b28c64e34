package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"prism/internal/config"
	"prism/internal/store"
	"prism/internal/store/sqlite"
)

// Shared state initialized by the root command before any subcommand runs.
var (
	cfg config.Config
	st  store.Store

	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "prism",
	Short: "Deduplication-aware content enrichment pipeline",
	Long: `Prism enriches batches of content items through a chain of AI analysis
services, deduplicating by content fingerprint. Items whose content has
already been analyzed reuse the stored enrichment instead of paying for
new API calls.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine; real environment variables win.
		_ = godotenv.Load()

		var err error
		if configPath != "" {
			cfg, err = config.LoadConfig(configPath)
		} else {
			cfg, err = config.ConfigFromEnv()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbPath != "" {
			cfg.DatabasePath = dbPath
		}

		st, err = sqlite.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open store at %s: %w", cfg.DatabasePath, err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if st != nil {
			st.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to SQLite database (overrides config)")
}
