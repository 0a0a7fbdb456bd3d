package cli

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"repodash/internal/devserver"
)

func newMockServerCmd() *cobra.Command {
	var (
		addr       string
		failWith   string
		chunkDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a local stub of the automation backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			script := devserver.DefaultScript()
			script.ErrorMessage = failWith
			script.ChunkDelay = chunkDelay

			srv := devserver.New(script, logger)
			logger.Info("mock backend listening", zap.String("addr", addr))
			return srv.Router().Run(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8090", "listen address")
	cmd.Flags().StringVar(&failWith, "fail-with", "", "end every stream with this error message")
	cmd.Flags().DurationVar(&chunkDelay, "chunk-delay", 0, "pause between streamed deltas")
	return cmd
}
