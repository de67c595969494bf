package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var markSeenCmd = &cobra.Command{
	Use:   "mark-seen ID...",
	Short: "Acknowledge listings by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.MarkSeen(ctx, args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Marked %d listings as seen\n", n)
		return nil
	},
}
