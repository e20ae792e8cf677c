package main

import (
	"context"

	"github.com/spf13/cobra"

	"tutorme/tutorchat/internal/jobs"
	"tutorme/tutorchat/internal/logging"
	"tutorme/tutorchat/internal/votes"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute every tutor's like and dislike counters from vote rows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ReconcileJobTimeout)
		defer cancel()
		repaired, err := jobs.ReconcileAll(ctx, votes.NewAggregator(b.store, cfg.OperationTimeout))
		if err != nil {
			return err
		}
		logging.Component("main").Info().Int("repaired", repaired).Msg("reconcile finished")
		return nil
	},
}
