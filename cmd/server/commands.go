package main

import (
	"encoding/json"
	"fmt"
	"time"

	"taskattach/internal/database"
	"taskattach/internal/logger"
	authmw "taskattach/internal/middleware"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func zapSync() {
	logger.Sync()
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer zapSync()

			drv, err := database.Open(cmd.Context(), cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			defer drv.Close()

			if err := database.Migrate(cmd.Context(), drv); err != nil {
				return err
			}
			zap.L().Info("Schema is up to date")
			return nil
		},
	}
}

func newSweepCmd(configPath *string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile blobs with attachment records once",
		Long: "Deletes blobs that no attachment references and that are older than the " +
			"configured grace period, and reports attachments whose blob is missing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer zapSync()

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.sweeper(dryRun || cfg.Sweep.DryRun).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report orphans without deleting them")
	return cmd
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		userID int
		name   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user (development)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer zapSync()

			tok, err := authmw.IssueToken(cfg.JWTSecret, userID, name, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().IntVar(&userID, "user", 0, "user id to embed in the token")
	cmd.Flags().StringVar(&name, "name", "", "optional username claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
