package cmd

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"olx-watcher/models"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scrape now and print its run record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		history, closeHistory, err := openHistory(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeHistory()

		sched := newScheduler(cfg, store, history, nil, logger)
		rec, err := sched.Trigger(ctx, models.TriggerManual)
		if err != nil {
			return err
		}

		st, err := store.Stats(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Run   *models.RunRecord `json:"run"`
			Stats models.Stats      `json:"stats"`
		}{rec, st}); err != nil {
			return err
		}

		if rec.Outcome == models.RunFailed {
			return eris.Errorf("run %s failed (%s): %s", rec.ID, rec.FailureKind, rec.Failure)
		}
		return nil
	},
}
