// Package cmd implements the olx-watcher command line.
package cmd

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"olx-watcher/config"
	"olx-watcher/utils"
)

var (
	configFile string
	cfg        *config.Config
	logger     *utils.Logger
)

var rootCmd = &cobra.Command{
	Use:          "olx-watcher",
	Short:        "Watches OLX listings and keeps a deduplicated record of them",
	Long:         "Renders the OLX listing index in headless Chrome, extracts ads, and tracks which are new and which have been seen.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configFile)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		l, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return eris.Wrap(err, "init logger")
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file")
	rootCmd.AddCommand(serveCmd, scrapeCmd, exportCmd, markSeenCmd, statsCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
