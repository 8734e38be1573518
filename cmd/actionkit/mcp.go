package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/actionkit/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve actions as MCP tools over stdio",
		Long: `Serve every registered action as an MCP tool on stdin/stdout.
Logs go to stderr so they never corrupt the JSON-RPC stream.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, appOptions{withStore: true, logOutput: os.Stderr})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			srv := mcp.NewServer(mcp.ServerDeps{
				Actions: a.registry,
				Store:   a.store,
				Logger:  a.logger,
				Version: version,
			})
			return srv.Serve(ctx)
		},
	}
}
