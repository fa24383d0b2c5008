package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"homelab-backup/src/bundle"
	"homelab-backup/src/patch"
)

func newPatchCmd(stdout, stderr io.Writer) *cobra.Command {
	var backupDir string
	var rebuildBundle bool
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Add missing bind-mount archives to an existing backup",
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
			opts := getSafetyOptions(cmd)
			res, err := patch.New(cfg, client, log, stdout).Run(ctx, patch.Options{
				BackupDir: backupDir,
				DryRun:    opts.DryRun,
			})
			if err != nil {
				return err
			}
			if rebuildBundle && !opts.DryRun {
				_, err = bundle.NewBuilder(cfg, client, log, stdout).BuildFrom(ctx, res.BackupDir)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&backupDir, "backup", "", "Backup directory to patch (default: the latest backup)")
	cmd.Flags().BoolVar(&rebuildBundle, "rebuild-bundle", false, "Rebuild the bundle image from the patched backup")
	return cmd
}
