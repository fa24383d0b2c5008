package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// snapshotImages records which images back the running workloads and saves
// them as one combined archive. With nothing running the save is skipped
// entirely; no empty archive is produced.
func (r *Runner) snapshotImages(ctx context.Context, dir string) (string, error) {
	containers, err := r.client.ListRunningContainers(ctx)
	if err != nil {
		return "", fmt.Errorf("list containers: %w", err)
	}
	seen := map[string]bool{}
	var refs []string
	for _, ct := range containers {
		if ct.Image == "" || seen[ct.Image] {
			continue
		}
		seen[ct.Image] = true
		refs = append(refs, ct.Image)
	}
	listing := strings.Join(refs, "\n")
	if listing != "" {
		listing += "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, "running-images.txt"), []byte(listing), 0o644); err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return "no running containers", errStepSkipped
	}

	// Best-effort refresh so the archive holds current digests.
	for _, ref := range refs {
		fmt.Fprintf(r.out, "    pull %s\n", ref)
		if err := r.client.PullImage(ctx, ref); err != nil {
			r.log.Warn().Err(err).Str("image", ref).Msg("pull failed; saving local copy")
		}
	}
	fmt.Fprintf(r.out, "    save %d images\n", len(refs))
	f, err := os.Create(filepath.Join(dir, "images.tar"))
	if err != nil {
		return "", err
	}
	if err := r.client.SaveImages(ctx, refs, f); err != nil {
		f.Close()
		return "", fmt.Errorf("save images: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d images", len(refs)), nil
}
