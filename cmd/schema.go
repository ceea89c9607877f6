package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/localnewslab/newsminer/internal/store/postgres"
)

// newSchemaCmd creates the 'schema' subcommand, which applies the database
// schema. Idempotent; every statement uses IF NOT EXISTS.
func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			pool, err := postgres.Connect(cmd.Context(), postgres.Config{
				DSN:             cfg.DB.DSN,
				MaxConns:        cfg.DB.MaxConns,
				MinConns:        cfg.DB.MinConns,
				MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifeMins) * time.Minute,
			})
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			if err := postgres.InitSchema(cmd.Context(), pool); err != nil {
				return err
			}
			logger.Info("schema applied")
			return nil
		},
	}
}
