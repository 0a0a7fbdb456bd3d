package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"repodash/internal/models"
)

func newChatCmd() *cobra.Command {
	var targets []string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation with the automation backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()

			if len(targets) > 0 {
				app.controller.SetTargets(targets)
			}
			if err := app.controller.Restore(ctx); err != nil {
				return err
			}

			app.coord.Probe(ctx)
			probeEvery := time.Duration(app.cfg.Sync.ProbeIntervalSeconds) * time.Second
			pollEvery := time.Duration(app.cfg.Sync.QueuePollIntervalSeconds) * time.Second
			app.coord.Start(ctx, probeEvery, pollEvery)

			// Drain the offline queue whenever the link comes back.
			unsubscribe := app.coord.OnConnectionChange(func(online bool) {
				if !online {
					fmt.Println("(offline: messages will be queued)")
					return
				}
				res, err := app.coord.Sync(ctx, app.controller)
				if err != nil {
					return
				}
				if res.Processed > 0 || res.Failed > 0 {
					fmt.Printf("(synced: %d sent, %d failed)\n", res.Processed, res.Failed)
				}
			})
			defer unsubscribe()

			// Ctrl-C cancels an in-flight exchange; a second one quits.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			defer signal.Stop(sigCh)
			go func() {
				for range sigCh {
					if app.controller.IsStreaming() {
						app.controller.Cancel()
						continue
					}
					stop()
					os.Exit(0)
				}
			}()

			printHistory(app.controller.Messages())
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit":
					return nil
				case "/new":
					if err := app.controller.NewConversation(ctx); err != nil {
						fmt.Println("reset failed:", err)
					}
					continue
				case "/retry":
					before := len(app.controller.Messages())
					_ = app.controller.RetryLast(ctx)
					printNew(app.controller.Messages(), before-1)
					continue
				}

				before := len(app.controller.Messages())
				_ = app.controller.Send(ctx, line)
				printNew(app.controller.Messages(), before)
			}
		},
	}
	cmd.Flags().StringSliceVar(&targets, "repo", nil, "repository target(s) for this conversation")
	return cmd
}

func printHistory(messages []models.Message) {
	for _, m := range messages {
		printMessage(m)
	}
}

func printNew(messages []models.Message, from int) {
	if from < 0 {
		from = 0
	}
	for _, m := range messages[from:] {
		if m.Role == models.RoleUser {
			continue
		}
		printMessage(m)
	}
}

func printMessage(m models.Message) {
	switch m.Role {
	case models.RoleUser:
		fmt.Printf("you: %s\n", m.Content)
	case models.RoleSystem:
		fmt.Printf("-- %s\n", m.Content)
	default:
		fmt.Printf("assistant: %s\n", m.Content)
	}
}
