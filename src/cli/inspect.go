package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"homelab-backup/src/inspect"
)

func newInspectCmd(stdout, stderr io.Writer) *cobra.Command {
	var image string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Verify the contents of a bundle image against its manifests",
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
			_, err = inspect.New(cfg, client, log, stdout).Run(ctx, inspect.Options{Image: image})
			return err
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "Bundle image tag to inspect (default: the newest bundle image)")
	return cmd
}
