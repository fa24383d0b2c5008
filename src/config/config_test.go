package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"homelab-backup/src/config"
)

func TestDefault_SensibleValues(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, 7, cfg.Keep)
	require.Equal(t, 1, cfg.Workers)
	require.Equal(t, "caddy_net", cfg.Network)
	require.Equal(t, "busybox:stable", cfg.WorkerImage)
	require.True(t, filepath.IsAbs(cfg.Root))
	require.Contains(t, cfg.AllowedPrefixes, "/etc/pihole")
	require.Contains(t, cfg.AlwaysInclude, "/etc/dnsmasq.d")
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keep: 3\nnetwork: lab_net\nroot: /srv/backups\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Keep)
	require.Equal(t, "lab_net", cfg.Network)
	require.Equal(t, "/srv/backups", cfg.Root)
	// Untouched keys keep their defaults.
	require.Equal(t, 1, cfg.Workers)
}

func TestLoad_EnvironmentWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keep: 3\n"), 0o644))

	t.Setenv("HOMELAB_KEEP", "5")
	t.Setenv("HOMELAB_WORKERS", "4")
	t.Setenv("HOMELAB_ALLOWED_PREFIXES", "/srv/data,/etc/pihole")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Keep)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, []string{"/srv/data", "/etc/pihole"}, cfg.AllowedPrefixes)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_RejectsBrokenConfigs(t *testing.T) {
	base := config.Default()

	cfg := base
	cfg.Root = ""
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.Root = "relative/path"
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.Keep = 0
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.Workers = 0
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.Network = ""
	require.Error(t, cfg.Validate())
}
