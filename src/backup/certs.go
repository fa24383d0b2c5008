package backup

import (
	"context"
	"os"
	"path/filepath"

	"homelab-backup/src/archive"
)

// CertFileName is where the captured root CA lands inside a backup.
const CertFileName = "caddy-rootCA.crt"

// collectCert copies the reverse proxy's internal root CA certificate out of
// its container. The proxy may not be running or may not have generated a
// local CA; the step is guarded, so either case just skips it.
func (r *Runner) collectCert(ctx context.Context, dir string) (string, error) {
	rc, err := r.client.CopyFromContainer(ctx, r.cfg.CertContainer, r.cfg.CertPath)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := archive.FileFromTar(rc)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, "certs", CertFileName)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	return CertFileName, nil
}
