package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"repodash/internal/models"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage the conversation history",
	}
	cmd.AddCommand(
		newHistoryListCmd(),
		newHistoryShowCmd(),
		newHistoryDeleteCmd(),
		newHistoryClearCmd(),
	)
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			summaries, err := app.store.ListHistory(cmd.Context())
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("no conversations in the last 24 hours")
				return nil
			}
			for _, s := range summaries {
				updated := time.UnixMilli(s.UpdatedAt).Format("15:04:05")
				fmt.Printf("%s  %-50s  %d msgs  ~%d tokens  %s\n",
					s.ID[:8], s.Title, s.MessageCount, s.TokenEstimate, updated)
			}
			return nil
		},
	}
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			session, err := findSession(app, cmd, args[0])
			if err != nil {
				return err
			}
			if session == nil {
				return fmt.Errorf("session %s not found or expired", args[0])
			}
			fmt.Println(session.Title)
			for _, m := range session.Messages {
				printMessage(*m)
			}
			return nil
		},
	}
}

func newHistoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			session, err := findSession(app, cmd, args[0])
			if err != nil {
				return err
			}
			if session == nil {
				return fmt.Errorf("session %s not found or expired", args[0])
			}
			if !app.store.DeleteFromHistory(cmd.Context(), session.ID) {
				return fmt.Errorf("delete failed")
			}
			fmt.Println("deleted", session.ID)
			return nil
		},
	}
}

func newHistoryClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()
			return app.store.ClearHistory(cmd.Context())
		},
	}
}

// findSession resolves a full or 8-character-prefix session id.
func findSession(app *app, cmd *cobra.Command, id string) (*models.Session, error) {
	if session, err := app.store.LoadFromHistory(cmd.Context(), id); err != nil || session != nil {
		return session, err
	}
	summaries, err := app.store.ListHistory(cmd.Context())
	if err != nil {
		return nil, err
	}
	for _, s := range summaries {
		if len(id) >= 4 && len(s.ID) >= len(id) && s.ID[:len(id)] == id {
			return app.store.LoadFromHistory(cmd.Context(), s.ID)
		}
	}
	return nil, nil
}
