package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"homelab-backup/src/restore"
	"homelab-backup/src/safety"
)

func newRestoreCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-dir>",
		Short: "Restore volumes, bind mounts, and the compose stack from a backup",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Argument problems must never touch the daemon.
			if len(args) != 1 {
				return usageErrorf("restore requires exactly one argument: the backup directory")
			}
			backupDir, err := filepath.Abs(args[0])
			if err != nil {
				return usageErrorf("restore: %v", err)
			}
			if err := restore.ValidateBackupDir(backupDir); err != nil {
				return usageErrorf("restore: %v", err)
			}

			cfg, log, err := loadConfig(cmd, stderr)
			if err != nil {
				return err
			}
			opts := getSafetyOptions(cmd)
			if opts.DryRun {
				fmt.Fprintf(stdout, "[dry-run] would restore from %s\n", backupDir)
				return nil
			}
			ok, err := safety.Confirm(opts, os.Stdin, stdout,
				fmt.Sprintf("Restore %s into the local Docker daemon?", backupDir))
			if err != nil || !ok {
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
			return restore.NewOrchestrator(cfg, client, log, stdout).Run(ctx, backupDir)
		},
	}
}
