package backup

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// archiveVolumes exports every named volume to volumes/<name>.tar.gz. Each
// export runs through a short-lived worker container; outputs are disjoint
// files, so exports run in a bounded pool.
func (r *Runner) archiveVolumes(ctx context.Context, dir string) (string, error) {
	names, err := r.client.ListVolumes(ctx)
	if err != nil {
		return "", fmt.Errorf("list volumes: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, name := range names {
		name := name
		g.Go(func() error {
			fmt.Fprintf(r.out, "    volume %s\n", name)
			return r.exportVolume(ctx, name, filepath.Join(dir, "volumes", name+".tar.gz"))
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d volumes", len(names)), nil
}

func (r *Runner) exportVolume(ctx context.Context, name, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	if err := r.client.ExportVolume(ctx, name, gz); err != nil {
		gz.Close()
		f.Close()
		return fmt.Errorf("export volume %s: %w", name, err)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
