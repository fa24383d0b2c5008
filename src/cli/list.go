package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"homelab-backup/src/backup"
)

func newListCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups under the retention root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, stderr)
			if err != nil {
				return err
			}
			names, err := backup.Dirs(cfg.Root)
			if err != nil {
				return err
			}
			latest, _ := backup.ReadLatest(cfg.Root)

			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIMESTAMP\tPATH\tLATEST")
			for _, name := range names {
				path := filepath.Join(cfg.Root, name)
				mark := ""
				if path == latest {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, path, mark)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintf(stdout, "No backups under %s\n", cfg.Root)
			}
			return nil
		},
	}
}
