package restore

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"homelab-backup/src/archive"
	"homelab-backup/src/backup"
	"homelab-backup/src/config"
	"homelab-backup/src/dockerapi"
	"homelab-backup/src/pathenc"
)

// ComposeRestoreDir is the working subdirectory compose files are staged in
// before the stack is started.
const ComposeRestoreDir = "restored-compose"

// Orchestrator rebuilds volumes, the shared network, conventional bind
// bundles, and the stack itself from a completed backup directory.
type Orchestrator struct {
	cfg    config.Config
	client dockerapi.Client
	log    zerolog.Logger
	out    io.Writer
}

func NewOrchestrator(cfg config.Config, client dockerapi.Client, log zerolog.Logger, out io.Writer) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		client: client,
		log:    log.With().Str("component", "restore").Logger(),
		out:    out,
	}
}

// ValidateBackupDir rejects paths that are missing or not directories. The
// caller must run this before Run; nothing is mutated on rejection.
func ValidateBackupDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("backup directory %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup path %s is not a directory", path)
	}
	return nil
}

// Run restores from backupDir. Volume creation is idempotent, so restoring
// twice against the same backup succeeds.
func (o *Orchestrator) Run(ctx context.Context, backupDir string) error {
	if err := ValidateBackupDir(backupDir); err != nil {
		return err
	}
	if err := o.client.Ping(ctx); err != nil {
		return err
	}
	if err := o.restoreVolumes(ctx, backupDir); err != nil {
		return err
	}
	fmt.Fprintf(o.out, "==> network %s\n", o.cfg.Network)
	if err := o.client.EnsureNetwork(ctx, o.cfg.Network); err != nil {
		return fmt.Errorf("ensure network %s: %w", o.cfg.Network, err)
	}
	if err := o.restoreConventionalBinds(backupDir); err != nil {
		return err
	}
	if err := o.startStack(ctx, backupDir); err != nil {
		return err
	}
	o.reportCert(backupDir)
	return nil
}

// restoreVolumes recreates and refills every volume archived in the backup.
func (o *Orchestrator) restoreVolumes(ctx context.Context, backupDir string) error {
	volDir := filepath.Join(backupDir, "volumes")
	entries, err := os.ReadDir(volDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(o.out, "No volume archives in backup; skipping volumes")
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tar.gz") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".tar.gz")
		fmt.Fprintf(o.out, "==> volume %s\n", name)
		if err := o.client.EnsureVolume(ctx, name); err != nil {
			return fmt.Errorf("ensure volume %s: %w", name, err)
		}
		if err := o.fillVolume(ctx, name, filepath.Join(volDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) fillVolume(ctx context.Context, name, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("volume archive %s: %w", archivePath, err)
	}
	defer gz.Close()
	if err := o.client.ImportVolume(ctx, name, gz); err != nil {
		return fmt.Errorf("import volume %s: %w", name, err)
	}
	return nil
}

// restoreConventionalBinds extracts the conventional relative bundles
// (./public, ./config) back to matching paths under the working directory.
// Only these trusted relative bundles are auto-extracted; absolute-path
// archives stay in the backup for manual extraction.
func (o *Orchestrator) restoreConventionalBinds(backupDir string) error {
	for _, rel := range o.cfg.ConventionalPaths {
		src := filepath.Join(backupDir, "bind-mounts", rel+".tar.gz")
		f, err := os.Open(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		fmt.Fprintf(o.out, "==> bind bundle ./%s\n", rel)
		err = archive.Extract(f, o.cfg.WorkDir)
		f.Close()
		if err != nil {
			return fmt.Errorf("extract ./%s: %w", rel, err)
		}
	}
	return nil
}

// startStack stages captured compose files into a local subdirectory and
// brings the stack up from there. Without any captured compose file the
// operator is told to start things by hand.
func (o *Orchestrator) startStack(ctx context.Context, backupDir string) error {
	srcDir := filepath.Join(backupDir, "compose-files")
	entries, err := os.ReadDir(srcDir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	stageDir := filepath.Join(o.cfg.WorkDir, ComposeRestoreDir)
	staged := 0
	haveComposeFile := false
	seen := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if staged == 0 {
			if err := os.MkdirAll(stageDir, 0o755); err != nil {
				return err
			}
		}
		// Recover the original basename so compose finds its files; fall
		// back to the encoded name when two captured projects share one.
		// Files left by an earlier restore are overwritten, not dodged.
		base := pathenc.Basename(e.Name())
		dest := filepath.Join(stageDir, base)
		if seen[base] {
			dest = filepath.Join(stageDir, e.Name())
		}
		seen[base] = true
		if err := copyFile(filepath.Join(srcDir, e.Name()), dest); err != nil {
			return err
		}
		staged++
		if isComposeBasename(base) {
			haveComposeFile = true
		}
	}
	if staged == 0 || !haveComposeFile {
		fmt.Fprintln(o.out, "No compose files captured; start the stack manually")
		return nil
	}
	fmt.Fprintf(o.out, "==> starting stack from %s\n", stageDir)
	if err := o.client.StackUp(ctx, stageDir); err != nil {
		return err
	}
	return nil
}

func isComposeBasename(name string) bool {
	switch name {
	case "docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml":
		return true
	}
	return false
}

// reportCert points the operator at the captured root CA; re-trusting it on
// client machines is always a manual step.
func (o *Orchestrator) reportCert(backupDir string) {
	p := filepath.Join(backupDir, "certs", backup.CertFileName)
	if _, err := os.Stat(p); err != nil {
		return
	}
	fmt.Fprintf(o.out, "Root CA captured at %s; re-trust it on client machines manually\n", p)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
