package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"homelab-backup/src/backup"
)

func newBackupCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Back up volumes, bind mounts, compose files, and images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, stderr)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			client, err := connectClient(ctx, cfg.WorkerImage)
			if err != nil {
				return err
			}
			runner := backup.NewRunner(cfg, client, log, stdout)
			runner.FailFast = getFailFast(cmd)
			report, err := runner.Run(ctx)
			if report != nil {
				report.Render(stdout)
			}
			return err
		},
	}
}
