package main

import (
	"fmt"
	"os"

	"taskattach/internal/config"
	"taskattach/internal/logger"
	"taskattach/internal/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "taskattach",
		Short:         "Task attachment service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.GetInfo().String(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"_CONFIG"), "path to a YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd, configPath)
			},
		},
		newMigrateCmd(&configPath),
		newSweepCmd(&configPath),
		newTokenCmd(&configPath),
	)
	root.SetErr(os.Stderr)
	return root
}

// setup loads the configuration and initializes the global logger
func setup(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := logger.InitLogger(logger.Options{Dir: cfg.DataDir, Debug: cfg.Debug}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, err
	}

	if cfg.UsesDefaultSecret() {
		zap.L().Warn("Using the default JWT secret; set TASKATTACH_JWT_SECRET in production")
	}
	return cfg, nil
}
