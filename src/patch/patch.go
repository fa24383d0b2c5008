package patch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"homelab-backup/src/backup"
	"homelab-backup/src/config"
	"homelab-backup/src/dockerapi"
	"homelab-backup/src/pathenc"
)

// Patcher retrofits an existing backup with bind-mount archives that the
// original run missed, e.g. root-owned DNS-sinkhole config captured before
// the allowlist covered /etc.
type Patcher struct {
	cfg    config.Config
	client dockerapi.Client
	log    zerolog.Logger
	out    io.Writer
}

// Options selects the backup to patch.
type Options struct {
	// BackupDir is an explicit backup directory; empty resolves the
	// latest backup (LATEST pointer, falling back to the newest
	// directory under the retention root).
	BackupDir string
	DryRun    bool
}

// Result summarizes what the patch run found and changed.
type Result struct {
	BackupDir string
	Before    []string // archives present before
	Created   []string // archives added (or would be, in dry-run)
	After     []string // archives present after
}

func New(cfg config.Config, client dockerapi.Client, log zerolog.Logger, out io.Writer) *Patcher {
	return &Patcher{
		cfg:    cfg,
		client: client,
		log:    log.With().Str("component", "patch").Logger(),
		out:    out,
	}
}

// Run ensures every allowed, currently bind-mounted path (plus the
// always-include paths) has an archive in the backup. Already-present
// archives are never rewritten, so the operation is idempotent.
func (p *Patcher) Run(ctx context.Context, opts Options) (*Result, error) {
	dir, err := p.resolveBackupDir(opts.BackupDir)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(p.out, "Using backup: %s\n", dir)

	bindDir := filepath.Join(dir, "bind-mounts")
	existing, err := listArchives(bindDir)
	if err != nil {
		return nil, err
	}
	res := &Result{BackupDir: dir, Before: sortedKeys(existing)}

	sources, err := p.candidateSources(ctx)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, src := range sources {
		if !existing[pathenc.ArchiveName(src)] {
			missing = append(missing, src)
		}
	}

	fmt.Fprintf(p.out, "\nbind-mount archives present: %d\n", len(res.Before))
	if len(missing) == 0 {
		fmt.Fprintln(p.out, "Nothing missing; backup already covers all targeted bind mounts")
	}
	for _, src := range missing {
		arc := pathenc.ArchiveName(src)
		if opts.DryRun {
			fmt.Fprintf(p.out, "[dry-run] would archive %s -> bind-mounts/%s\n", src, arc)
			res.Created = append(res.Created, arc)
			continue
		}
		fmt.Fprintf(p.out, "Archiving %s -> bind-mounts/%s\n", src, arc)
		if err := os.MkdirAll(bindDir, 0o755); err != nil {
			return nil, err
		}
		dest := filepath.Join(bindDir, arc)
		rel := strings.TrimPrefix(filepath.Clean(src), "/")
		if err := backup.ArchiveHostPath(dest, "/", rel); err != nil {
			return nil, fmt.Errorf("archive %s: %w", src, err)
		}
		res.Created = append(res.Created, arc)
	}

	after, err := listArchives(bindDir)
	if err != nil {
		return nil, err
	}
	res.After = sortedKeys(after)
	fmt.Fprintf(p.out, "\nbind-mount archives now: %d\n", len(res.After))
	created := map[string]bool{}
	for _, c := range res.Created {
		created[c] = true
	}
	for _, name := range res.After {
		mark := ""
		if created[name] {
			mark = " (new)"
		}
		fmt.Fprintf(p.out, "  - %s%s\n", name, mark)
	}
	return res, nil
}

// resolveBackupDir picks the backup to patch: explicit flag, then the
// LATEST pointer, then the newest directory under the root.
func (p *Patcher) resolveBackupDir(explicit string) (string, error) {
	if explicit != "" {
		if info, err := os.Stat(explicit); err != nil || !info.IsDir() {
			return "", fmt.Errorf("backup directory %s not found", explicit)
		}
		return explicit, nil
	}
	if latest, err := backup.ReadLatest(p.cfg.Root); err == nil && latest != "" {
		if info, err := os.Stat(latest); err == nil && info.IsDir() {
			return latest, nil
		}
	}
	names, err := backup.Dirs(p.cfg.Root)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no backups under %s; run a backup first", p.cfg.Root)
	}
	return filepath.Join(p.cfg.Root, names[0]), nil
}

// candidateSources is the deduplicated list of paths that should have an
// archive: always-include paths first, then every allowed bind source of a
// running container. First occurrence wins.
func (p *Patcher) candidateSources(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(src string) {
		src = filepath.Clean(src)
		if seen[src] {
			return
		}
		seen[src] = true
		if !backup.UnderAny(src, p.cfg.AllowedPrefixes) {
			return
		}
		if _, err := os.Stat(src); err != nil {
			return
		}
		out = append(out, src)
	}
	for _, must := range p.cfg.AlwaysInclude {
		add(must)
	}
	containers, err := p.client.ListRunningContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	for _, ct := range containers {
		for _, m := range ct.Mounts {
			if dockerapi.IsBind(m) && m.Source != "" {
				add(m.Source)
			}
		}
	}
	return out, nil
}

func listArchives(dir string) (map[string]bool, error) {
	out := map[string]bool{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".tar.gz") {
			out[e.Name()] = true
		}
	}
	return out, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
