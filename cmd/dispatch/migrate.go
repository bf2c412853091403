package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/opencivics/dispatch/internal/config"
	"github.com/opencivics/dispatch/internal/infra/database"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			db, err := database.NewPostgres(conf.Server.PostgresDsn)
			if err != nil {
				return err
			}

			if err := database.MigratePostgres(db); err != nil {
				return err
			}
			slog.Info("migration complete", slog.String("module", "migrate"))
			return nil
		},
	}
}
