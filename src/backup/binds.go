package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"homelab-backup/src/archive"
	"homelab-backup/src/dockerapi"
	"homelab-backup/src/pathenc"
)

// archiveBindMounts captures every allowed host path bind-mounted by a
// running workload, once per distinct source path, plus the conventional
// relative paths under the working directory.
func (r *Runner) archiveBindMounts(ctx context.Context, dir string) (string, error) {
	containers, err := r.client.ListRunningContainers(ctx)
	if err != nil {
		return "", fmt.Errorf("list containers: %w", err)
	}
	sources := r.bindSources(containers)
	bindDir := filepath.Join(dir, "bind-mounts")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			fmt.Fprintf(r.out, "    bind mount %s\n", src)
			dest := filepath.Join(bindDir, pathenc.ArchiveName(src))
			if err := archiveHostPath(dest, "/", strings.TrimPrefix(filepath.Clean(src), "/")); err != nil {
				return fmt.Errorf("archive %s: %w", src, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	// Conventional paths are archived independently of the mount-table
	// scan, so a stack with missing bind metadata still restores.
	extras := 0
	for _, rel := range r.cfg.ConventionalPaths {
		if _, err := os.Stat(filepath.Join(r.cfg.WorkDir, rel)); err != nil {
			continue
		}
		fmt.Fprintf(r.out, "    conventional path ./%s\n", rel)
		dest := filepath.Join(bindDir, rel+".tar.gz")
		if err := archiveHostPath(dest, r.cfg.WorkDir, rel); err != nil {
			return "", fmt.Errorf("archive ./%s: %w", rel, err)
		}
		extras++
	}
	if f := r.cfg.ProxyConfigFile; f != "" {
		if _, err := os.Stat(filepath.Join(r.cfg.WorkDir, f)); err == nil {
			fmt.Fprintf(r.out, "    proxy config %s\n", f)
			dest := filepath.Join(bindDir, f+".tar.gz")
			if err := archiveHostPath(dest, r.cfg.WorkDir, f); err != nil {
				return "", fmt.Errorf("archive %s: %w", f, err)
			}
			extras++
		}
	}
	return fmt.Sprintf("%d bind mounts, %d conventional", len(sources), extras), nil
}

// bindSources returns the distinct, allowed bind-mount source paths across
// all containers, first occurrence winning, existing paths only.
func (r *Runner) bindSources(containers []dockerapi.Container) []string {
	seen := map[string]bool{}
	var out []string
	for _, ct := range containers {
		for _, m := range ct.Mounts {
			if !dockerapi.IsBind(m) || m.Source == "" {
				continue
			}
			src := filepath.Clean(m.Source)
			if seen[src] {
				continue
			}
			seen[src] = true
			if !UnderAny(src, r.cfg.AllowedPrefixes) {
				r.log.Debug().Str("source", src).Msg("bind mount outside allowed prefixes; skipped")
				continue
			}
			if _, err := os.Stat(src); err != nil {
				continue
			}
			out = append(out, src)
		}
	}
	return out
}

// UnderAny reports whether path equals or lies under one of the prefixes.
func UnderAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		p = filepath.Clean(p)
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ArchiveHostPath writes a tar.gz of baseDir/rel to dest. Exposed for the
// patch command, which adds archives to existing backups.
func ArchiveHostPath(dest, baseDir, rel string) error {
	return archiveHostPath(dest, baseDir, rel)
}

func archiveHostPath(dest, baseDir, rel string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if err := archive.Create(f, baseDir, rel); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	return f.Close()
}
