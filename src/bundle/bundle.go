package bundle

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"homelab-backup/src/archive"
	"homelab-backup/src/backup"
	"homelab-backup/src/config"
	"homelab-backup/src/dockerapi"
)

//go:embed restore-fallback.sh
var fallbackRestoreScript []byte

// dockerfile is the whole image definition: the payload is the bundle tree,
// the container itself only describes what it carries.
const dockerfile = `FROM busybox:stable
COPY bundle /bundle
CMD ["sh", "-c", "echo 'homelab backup bundle; extract /bundle, then run /bundle/restore-tool <backup-dir>'"]
`

// Builder packages a fresh backup plus a restore tool into one
// distributable image.
type Builder struct {
	cfg    config.Config
	client dockerapi.Client
	log    zerolog.Logger
	out    io.Writer

	// RestoreToolPath overrides the restore tool copied into the bundle;
	// empty means the currently running executable.
	RestoreToolPath string
}

func NewBuilder(cfg config.Config, client dockerapi.Client, log zerolog.Logger, out io.Writer) *Builder {
	return &Builder{
		cfg:    cfg,
		client: client,
		log:    log.With().Str("component", "bundle").Logger(),
		out:    out,
	}
}

// Run drives the full bundle pipeline: a fresh backup, then the image build.
// Returns the image tag.
func (b *Builder) Run(ctx context.Context) (string, error) {
	runner := backup.NewRunner(b.cfg, b.client, b.log, b.out)
	report, err := runner.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("backup run: %w", err)
	}
	return b.BuildFrom(ctx, report.Dir)
}

// BuildFrom packages an existing backup directory into a bundle image, used
// standalone after patching a backup.
func (b *Builder) BuildFrom(ctx context.Context, backupDir string) (string, error) {
	fmt.Fprintf(b.out, "==> normalizing ownership to %d:%d\n", b.cfg.TargetUID, b.cfg.TargetGID)
	if err := chownTree(backupDir, b.cfg.TargetUID, b.cfg.TargetGID); err != nil {
		return "", fmt.Errorf("normalize ownership: %w", err)
	}

	ctxDir, err := os.MkdirTemp("", "homelab-bundle-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(ctxDir)
	if err := b.assembleContext(ctxDir, backupDir); err != nil {
		return "", err
	}

	tag := b.cfg.BundleRepo + ":" + filepath.Base(backupDir)
	fmt.Fprintf(b.out, "==> building %s\n", tag)
	var buildCtx bytes.Buffer
	if err := archive.TarTree(&buildCtx, ctxDir); err != nil {
		return "", fmt.Errorf("tar build context: %w", err)
	}
	if err := b.client.BuildImage(ctx, &buildCtx, tag); err != nil {
		return "", fmt.Errorf("build bundle image: %w", err)
	}
	fmt.Fprintf(b.out, "Bundle image built: %s\n", tag)
	return tag, nil
}

// assembleContext lays out <ctxDir>/Dockerfile and <ctxDir>/bundle with a
// byte-for-byte copy of the backup tree and a restore tool.
func (b *Builder) assembleContext(ctxDir, backupDir string) error {
	bundleDir := filepath.Join(ctxDir, "bundle")
	if err := copyTree(backupDir, filepath.Join(bundleDir, "backup")); err != nil {
		return fmt.Errorf("copy backup tree: %w", err)
	}
	toolDest := filepath.Join(bundleDir, "restore-tool")
	if err := b.copyRestoreTool(toolDest); err != nil {
		b.log.Warn().Err(err).Msg("no restore binary found; embedding fallback script")
		if err := os.WriteFile(toolDest, fallbackRestoreScript, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(ctxDir, "Dockerfile"), []byte(dockerfile), 0o644)
}

func (b *Builder) copyRestoreTool(dest string) error {
	src := b.RestoreToolPath
	if src == "" {
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		src = exe
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func chownTree(root string, uid, gid int) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(path, uid, gid)
	})
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
