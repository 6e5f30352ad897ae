package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AmirTlinov/context-finder-mcp/configs"
	"github.com/AmirTlinov/context-finder-mcp/internal/config"
)

// newConfigCmd creates the config command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and migrate configuration",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigMigrateCmd())
	cmd.AddCommand(newConfigBackupsCmd())
	cmd.AddCommand(newConfigRestoreCmd())
	return cmd
}

// newConfigBackupsCmd lists retained user-config backups.
func newConfigBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List user-config backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backups, err := config.ListUserConfigBackups()
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				cmd.Println("No backups.")
				return nil
			}
			for _, b := range backups {
				cmd.Println(b)
			}
			return nil
		},
	}
}

// newConfigRestoreCmd restores the user config from a backup.
func newConfigRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-path>",
		Short: "Restore the user config from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RestoreUserConfig(args[0]); err != nil {
				return err
			}
			cmd.Printf("Restored %s\n", config.GetUserConfigPath())
			return nil
		},
	}
}

// newConfigInitCmd writes the embedded config templates: the user
// config by default, the project config with --project.
func newConfigInitCmd() *cobra.Command {
	var project bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.GetUserConfigPath()
			template := configs.UserConfigTemplate
			if project {
				path = ".contextfinder.yaml"
				template = configs.ProjectConfigTemplate
			}
			if _, err := os.Stat(path); err == nil {
				cmd.Printf("%s already exists, leaving it alone\n", path)
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
				return err
			}
			cmd.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&project, "project", false, "write the project config (.contextfinder.yaml) instead")
	return cmd
}

// newConfigMigrateCmd backs up the user config, merges newly added
// defaults into it, and writes the result back.
func newConfigMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Add new default settings to the user config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backupPath, err := config.BackupUserConfig()
			if err != nil {
				return err
			}
			if backupPath != "" {
				cmd.Printf("Backed up config to %s\n", backupPath)
			}

			cfg, err := config.LoadUserConfig()
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.NewConfig()
			}
			added := cfg.MergeNewDefaults()
			if len(added) == 0 {
				cmd.Println("Config already up to date.")
				return nil
			}
			if err := cfg.WriteYAML(config.GetUserConfigPath()); err != nil {
				return err
			}
			for _, field := range added {
				cmd.Printf("Added %s\n", field)
			}
			return nil
		},
	}
}
