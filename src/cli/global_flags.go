package cli

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"homelab-backup/src/config"
	"homelab-backup/src/safety"
)

// addGlobalFlags adds persistent flags shared by every subcommand.
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool("dry-run", false, "Show planned actions without making changes")
	cmd.PersistentFlags().BoolP("yes", "y", false, "Assume 'yes' to prompts and run non-interactively")
	cmd.PersistentFlags().Bool("fail-fast", false, "Abort on the first failed step instead of continuing")
	cmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	cmd.PersistentFlags().String("log-level", "", "Log level: trace|debug|info|warn|error")
}

// getSafetyOptions reads global flags into a safety.Options struct.
func getSafetyOptions(cmd *cobra.Command) safety.Options {
	dry, _ := cmd.Root().PersistentFlags().GetBool("dry-run")
	yes, _ := cmd.Root().PersistentFlags().GetBool("yes")
	return safety.Options{DryRun: dry, Yes: yes}
}

func getFailFast(cmd *cobra.Command) bool {
	ff, _ := cmd.Root().PersistentFlags().GetBool("fail-fast")
	return ff
}

// loadConfig resolves the effective config (defaults, optional file,
// environment) and builds the logger, honoring the --log-level override.
func loadConfig(cmd *cobra.Command, stderr io.Writer) (config.Config, zerolog.Logger, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if lvl, _ := cmd.Root().PersistentFlags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, newLogger(stderr, cfg.LogLevel), nil
}
