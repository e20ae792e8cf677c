package main

import (
	"errors"

	"github.com/spf13/cobra"

	"tutorme/tutorchat/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
		b, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer b.Close()
		if err := b.dbStore.Migrate(cmd.Context()); err != nil {
			return err
		}
		logging.Component("main").Info().Msg("schema applied")
		return nil
	},
}
