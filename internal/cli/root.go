// Package cli wires the engine together behind the repodash command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgPath string

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "repodash",
		Short:        "Dashboard client for the chat-to-repository automation pipeline",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	root.AddCommand(
		newChatCmd(),
		newHistoryCmd(),
		newSyncCmd(),
		newQueueCmd(),
		newMockServerCmd(),
	)
	return root
}
