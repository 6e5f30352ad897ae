package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AmirTlinov/context-finder-mcp/internal/dispatch"
	"github.com/AmirTlinov/context-finder-mcp/internal/ingest"
	"github.com/AmirTlinov/context-finder-mcp/internal/logging"
	"github.com/AmirTlinov/context-finder-mcp/internal/mcpserver"
	"github.com/AmirTlinov/context-finder-mcp/internal/telemetry"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool protocol over stdio",
		Long: `Expose the context tools (context_pack, meaning_pack, read_pack,
grep_context, evidence_fetch, ...) to an MCP client over stdio.

Project roots resolve per call; a connection's first call sets the
session default so later calls may omit the path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Stdio carries JSON-RPC; switch to file-only logging so
			// nothing corrupts the protocol stream.
			if cleanup, err := logging.SetupMCPMode(); err == nil {
				defer cleanup()
			}
			logger := slog.Default()

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			registry := buildRegistry(ctx, cwd)
			profile := activeProfile()

			state := dispatch.NewServiceState(
				dispatch.DefaultEngineBuilder(registry, profile),
				dispatch.DefaultSignature(registry, profile),
				logger,
			)
			state.SetIndexer(func(ctx context.Context, root string, force bool) error {
				return ingest.Run(ctx, root, registry, logger)
			})
			state.SetMetrics(telemetry.New(prometheus.DefaultRegisterer))

			return mcpserver.New(state, logger).Serve(ctx)
		},
	}
}
