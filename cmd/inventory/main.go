package main

import (
	"fmt"
	"os"

	"git.sr.ht/~jakintosh/inventory/internal/config"
	"git.sr.ht/~jakintosh/inventory/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	configPath string
	verbose    bool
	console    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Product inventory front-end",
	Long: `inventory serves the product-management pages. Operators sign in
through the identity provider; every call to the product API carries
their current access token.`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().BoolVar(&console, "console", false, "human-readable logs")

	rootCmd.AddCommand(serveCmd, versionCmd)
}

// loadConfig reads the config file and environment, then the flags that
// were set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := applyServeFlags(cmd, &cfg); err != nil {
		return config.Config{}, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	logger, err = logging.New(cfg.LogLevel, console)
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
