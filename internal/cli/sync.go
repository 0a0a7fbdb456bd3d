package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued offline actions now",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if !app.coord.Probe(cmd.Context()) {
				return fmt.Errorf("backend unreachable, still offline")
			}
			if err := app.controller.Restore(cmd.Context()); err != nil {
				return err
			}
			res, err := app.coord.Sync(cmd.Context(), app.controller)
			if err != nil {
				return err
			}
			fmt.Printf("processed %d, failed %d\n", res.Processed, res.Failed)
			if !res.Success {
				return fmt.Errorf("some items could not be replayed")
			}
			return nil
		},
	}
}
