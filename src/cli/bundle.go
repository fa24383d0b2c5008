package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"homelab-backup/src/bundle"
)

func newBundleCmd(stdout, stderr io.Writer) *cobra.Command {
	var restoreTool string
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Run a backup and build a self-contained bundle image from it",
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
			builder := bundle.NewBuilder(cfg, client, log, stdout)
			builder.RestoreToolPath = restoreTool
			_, err = builder.Run(ctx)
			return err
		},
	}
	cmd.Flags().StringVar(&restoreTool, "restore-tool", "", "Binary to embed as the bundle's restore tool (default: this executable)")
	return cmd
}
