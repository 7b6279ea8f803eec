package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"privasense/internal/config"
	"privasense/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
	logs   *logging.Registry
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "privasense",
	Short: "PrivaSense - private browsing, activity and storage detection",
	Long: `PrivaSense opens a page in Chrome over the DevTools protocol and reports
whether the browsing context is private, what the device holder is doing
according to its motion sensor, and a rough device storage size.

Configuration is read from --config (YAML) and PRIVASENSE_* environment
variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		logger, err = logging.New(cfg.Logging, verbose)
		if err != nil {
			return err
		}
		logs = logging.NewRegistry(logger, cfg.Logging)
		logs.Get(logging.CategoryBoot).Debug("config loaded",
			zap.String("path", configPath),
			zap.Bool("incognito", cfg.Features.Incognito),
			zap.Bool("activity", cfg.Features.Activity),
			zap.Bool("storage", cfg.Features.Storage))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			logs.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "privasense.yaml", "Config file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "Overall operation timeout")

	detectCmd.Flags().BoolVar(&incognito, "incognito", false, "Open the page in an incognito browser context")
	detectCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full result as JSON")
	infoCmd.Flags().BoolVar(&incognito, "incognito", false, "Open the page in an incognito browser context")
	infoCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
