package backup

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"homelab-backup/src/dockerapi"
	"homelab-backup/src/pathenc"
)

// composeFilePatterns are the filenames the fallback scan treats as
// deployment or environment files.
var composeFilePatterns = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"docker-compose.override.yml",
	"compose.yml",
	"compose.yaml",
	".env",
}

// collectComposeFiles copies the deployment definitions for active and known
// stacks. Primary strategy: compose labels on running containers. Fallback:
// a bounded-depth scan of the configured roots, which recovers stopped or
// unlabeled stacks. The fallback never overwrites a label-sourced copy.
func (r *Runner) collectComposeFiles(ctx context.Context, dir string) (string, error) {
	destDir := filepath.Join(dir, "compose-files")
	containers, err := r.client.ListRunningContainers(ctx)
	if err != nil {
		return "", fmt.Errorf("list containers: %w", err)
	}
	labeled := 0
	for _, ct := range containers {
		labeled += r.collectFromLabels(ct, destDir)
	}
	scanned := r.scanForComposeFiles(destDir)
	return fmt.Sprintf("%d from labels, %d from scan", labeled, scanned), nil
}

// collectFromLabels copies the files a container's compose labels point at,
// plus any adjacent env file. Unlabeled containers contribute nothing.
func (r *Runner) collectFromLabels(ct dockerapi.Container, destDir string) int {
	wd := ct.Labels[dockerapi.LabelComposeWorkingDir]
	files := ct.Labels[dockerapi.LabelComposeConfigFiles]
	if wd == "" || files == "" {
		return 0
	}
	copied := 0
	for _, f := range strings.Split(files, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		abs := f
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(wd, abs)
		}
		if r.copyComposeFile(abs, destDir, false) {
			copied++
		}
	}
	if envPath := filepath.Join(wd, ".env"); r.copyComposeFile(envPath, destDir, false) {
		copied++
	}
	return copied
}

// scanForComposeFiles walks the configured roots to a bounded depth and
// copies anything matching the compose or env naming patterns that wasn't
// already captured.
func (r *Runner) scanForComposeFiles(destDir string) int {
	copied := 0
	for _, root := range r.cfg.ComposeScanRoots {
		root = filepath.Clean(root)
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return fs.SkipDir
			}
			if d.IsDir() {
				if depth(root, path) > r.cfg.ScanDepth {
					return fs.SkipDir
				}
				// Skip the retention root itself: backups must not
				// recursively capture older backups' compose copies.
				if path == filepath.Clean(r.cfg.Root) {
					return fs.SkipDir
				}
				return nil
			}
			if !matchesComposePattern(d.Name()) {
				return nil
			}
			if strings.HasSuffix(d.Name(), ".yml") || strings.HasSuffix(d.Name(), ".yaml") {
				if !looksLikeComposeFile(path) {
					return nil
				}
			}
			if r.copyComposeFile(path, destDir, true) {
				copied++
			}
			return nil
		})
	}
	return copied
}

// copyComposeFile copies src to destDir under its encoded name. With
// skipExisting, an already-captured destination is left alone, making
// repeated scans idempotent.
func (r *Runner) copyComposeFile(src, destDir string, skipExisting bool) bool {
	abs, err := filepath.Abs(src)
	if err != nil {
		return false
	}
	if _, err := os.Stat(abs); err != nil {
		return false
	}
	dest := filepath.Join(destDir, pathenc.Encode(abs))
	if skipExisting {
		if _, err := os.Stat(dest); err == nil {
			return false
		}
	}
	if err := copyFile(abs, dest); err != nil {
		r.log.Warn().Err(err).Str("file", abs).Msg("compose file copy failed")
		return false
	}
	return true
}

func matchesComposePattern(name string) bool {
	for _, p := range composeFilePatterns {
		if name == p {
			return true
		}
	}
	return false
}

// looksLikeComposeFile guards the scan against unrelated YAML that happens
// to share a compose filename: a compose file declares services.
func looksLikeComposeFile(path string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var doc struct {
		Services map[string]any `yaml:"services"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return false
	}
	return len(doc.Services) > 0
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

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
