// Package cmd provides the CLI commands for ContextFinder.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AmirTlinov/context-finder-mcp/internal/config"
	"github.com/AmirTlinov/context-finder-mcp/internal/embed"
	"github.com/AmirTlinov/context-finder-mcp/internal/logging"
	"github.com/AmirTlinov/context-finder-mcp/internal/search"
	"github.com/AmirTlinov/context-finder-mcp/pkg/version"
)

var (
	debugMode      bool
	profileName    string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the contextfinder CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contextfinder",
		Short: "Semantic code search and context packing for coding agents",
		Long: `ContextFinder indexes a repository into chunks, embeddings, and a
code graph, then serves bounded, evidence-anchored context packs over
the MCP tool protocol.

Run 'contextfinder index' in a project, then 'contextfinder serve' to
expose the tools to an agent.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if loggingCleanup != nil {
				loggingCleanup()
			}
		},
	}

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&profileName, "profile", "", "ranking profile (quality, fast); defaults to CONTEXT_PROFILE or quality")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func setupLogging() {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		level := slog.LevelInfo
		if debugMode {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
}

// activeProfile resolves the ranking profile from the flag or
// CONTEXT_PROFILE, defaulting to quality.
func activeProfile() *search.Profile {
	name := profileName
	if name == "" {
		name = os.Getenv("CONTEXT_PROFILE")
	}
	return search.ProfileByName(name)
}

// loadConfig reads the layered config for a root; load failures fall
// back to defaults so a broken config file never blocks startup.
func loadConfig(root string) *config.Config {
	cfg, err := config.Load(root)
	if err != nil {
		slog.Warn("config load failed, using defaults", "root", root, "error", err)
		return config.NewConfig()
	}
	return cfg
}

// buildRegistry assembles the embedding registry, letting environment
// variables override the config file.
func buildRegistry(ctx context.Context, root string) *embed.Registry {
	cfg := loadConfig(root)
	return embed.RegistryWithDefaults(ctx, embed.RegistryDefaults{
		Model:    cfg.Embeddings.Model,
		StubOnly: strings.EqualFold(cfg.Embeddings.Provider, "static"),
	}, slog.Default())
}

// resolveRoot turns an optional positional arg into a root: the current
// working directory when no arg (or ".") is given, otherwise the arg as
// given, which may still be relative.
func resolveRoot(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if root != "." {
		return root, nil
	}
	return abs, nil
}
