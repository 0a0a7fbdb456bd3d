package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline action queue",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List queued actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			items, err := app.queue.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("queue is empty")
				return nil
			}
			for _, it := range items {
				enqueued := time.UnixMilli(it.EnqueuedAt).Format("15:04:05")
				fmt.Printf("%s  %-14s  retries=%d  %s\n", it.ID[:8], it.Kind, it.RetryCount, enqueued)
			}
			return nil
		},
	}

	discard := &cobra.Command{
		Use:   "discard <id>",
		Short: "Discard one queued action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			items, err := app.queue.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, it := range items {
				if it.ID == args[0] || (len(args[0]) >= 4 && len(it.ID) >= len(args[0]) && it.ID[:len(args[0])] == args[0]) {
					return app.queue.Remove(cmd.Context(), it.ID)
				}
			}
			return fmt.Errorf("item %s not found", args[0])
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Discard all queued actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()
			return app.queue.Clear(cmd.Context())
		},
	}

	cmd.AddCommand(list, discard, clear)
	return cmd
}
