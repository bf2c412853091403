package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencivics/dispatch/internal/config"
	"github.com/opencivics/dispatch/internal/infra/database"
	"github.com/opencivics/dispatch/internal/usecase"
)

func newSendCommand(configPath *string) *cobra.Command {
	var modeFlag string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Run one digest delivery pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

			mode, err := usecase.ParseDeliveryMode(modeFlag)
			if err != nil {
				return err
			}

			conf, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			db, err := database.NewPostgres(conf.Server.PostgresDsn)
			if err != nil {
				return err
			}

			deps, err := buildDependencies(conf, db)
			if err != nil {
				return err
			}

			report, err := deps.delivery.Run(cmd.Context(), mode)
			if err != nil {
				return err
			}

			slog.Info("delivery run finished",
				slog.String("runID", report.RunID),
				slog.String("mode", string(report.Mode)),
				slog.Int("candidates", report.Candidates),
				slog.Int("sent", report.Sent),
				slog.Int("events", report.Events),
				slog.Int("skippedEmpty", report.SkippedEmpty),
				slog.Int("skippedInactive", report.SkippedInactive),
				slog.Int("skippedBounced", report.SkippedBounced),
				slog.Int("transientFailures", report.TransientFailures),
				slog.Int("permanentBounces", report.PermanentBounces),
				slog.String("module", "send"),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&modeFlag, "mode", "m", "daily", "delivery mode (daily|weekly|dry-run)")

	return cmd
}
