package cmd

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AmirTlinov/context-finder-mcp/internal/embed"
	"github.com/AmirTlinov/context-finder-mcp/internal/ingest"
	"github.com/AmirTlinov/context-finder-mcp/internal/watcher"
)

// newIndexCmd creates the index command.
func newIndexCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Build or rebuild the project index",
		Long: `Scan the repository, chunk every supported file, embed the chunks
with each registered model, and persist the corpus, vector indexes,
and graph caches under <root>/.context-finder/.

With --watch, keep running and re-index on debounced file changes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(args)
			if err != nil {
				return err
			}
			root, err = filepath.Abs(root)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			registry := buildRegistry(ctx, root)
			if err := ingest.Run(ctx, root, registry, slog.Default()); err != nil {
				return err
			}
			cmd.Printf("Indexed %s\n", root)

			if !watch {
				return nil
			}
			return watchAndReindex(ctx, root, registry)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep watching and re-index on changes")
	return cmd
}

// watchAndReindex re-runs ingestion on each debounced change batch
// until the context is cancelled.
func watchAndReindex(ctx context.Context, root string, registry *embed.Registry) error {
	w, err := watcher.NewHybridWatcher(watcher.Options{})
	if err != nil {
		return err
	}
	if err := w.Start(ctx, root); err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()
	slog.Info("watching for changes", "root", root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			slog.Info("changes detected, re-indexing", "events", len(batch))
			if err := ingest.Run(ctx, root, registry, slog.Default()); err != nil {
				slog.Error("re-index failed", "error", err)
			}
		case err, ok := <-w.Errors():
			if ok && err != nil {
				slog.Warn("watcher error", "error", err)
			}
		}
	}
}
