package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"homelab-backup/src/backup"
	"homelab-backup/src/safety"
)

func newPruneCmd(stdout, stderr io.Writer) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old backups, keeping the N most recent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, stderr)
			if err != nil {
				return err
			}
			if keep == 0 {
				keep = cfg.Keep
			}
			if keep <= 0 {
				return errors.New("--keep must be > 0")
			}
			names, err := backup.Dirs(cfg.Root)
			if err != nil {
				return err
			}
			var toDelete []string
			if len(names) > keep {
				toDelete = names[keep:]
			}

			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIMESTAMP\tPATH\tACTION")
			for _, name := range toDelete {
				fmt.Fprintf(tw, "%s\t%s\tdelete\n", name, filepath.Join(cfg.Root, name))
			}
			_ = tw.Flush()
			if len(toDelete) == 0 {
				fmt.Fprintf(stdout, "Nothing to prune; %d backup(s), keeping %d\n", len(names), keep)
				return nil
			}

			opts := getSafetyOptions(cmd)
			if opts.DryRun {
				return nil
			}
			ok, err := safety.Confirm(opts, os.Stdin, stdout, fmt.Sprintf("Delete %d backup(s)?", len(toDelete)))
			if err != nil || !ok {
				return err
			}
			deleted, err := backup.Rotate(cfg.Root, keep)
			if err != nil {
				return err
			}
			for _, d := range deleted {
				fmt.Fprintf(stdout, "Deleted %s\n", d)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "Number of recent backups to keep (default: configured keep)")
	return cmd
}
