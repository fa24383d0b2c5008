package bundle_test

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"homelab-backup/src/bundle"
	"homelab-backup/src/config"
	"homelab-backup/src/dockerapi"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Root = filepath.Join(t.TempDir(), "backups")
	cfg.WorkDir = t.TempDir()
	cfg.AllowedPrefixes = []string{cfg.WorkDir}
	cfg.AlwaysInclude = nil
	cfg.ComposeScanRoots = []string{cfg.WorkDir}
	return cfg
}

func readTarEntries(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	out := map[string][]byte{}
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = content
	}
}

func TestRun_BuildsImageFromBackupTree(t *testing.T) {
	cfg := testConfig(t)
	fake := dockerapi.NewFake()
	fake.AddVolume("data", map[string][]byte{"f": []byte("x")})

	tool := filepath.Join(t.TempDir(), "restore-tool")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\necho restore\n"), 0o755))

	b := bundle.NewBuilder(cfg, fake, zerolog.Nop(), io.Discard)
	b.RestoreToolPath = tool
	tag, err := b.Run(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(tag, cfg.BundleRepo+":"))
	require.Equal(t, []string{tag}, fake.BuiltTags)

	entries := readTarEntries(t, fake.BuildContexts[tag])
	require.Contains(t, string(entries["Dockerfile"]), "COPY bundle /bundle")
	require.Equal(t, "#!/bin/sh\necho restore\n", string(entries["bundle/restore-tool"]))
	require.Contains(t, entries, "bundle/backup/running-images.txt")
	require.Contains(t, entries, "bundle/backup/volumes/data.tar.gz")
}

func TestRun_MissingRestoreToolFallsBackToScript(t *testing.T) {
	cfg := testConfig(t)
	fake := dockerapi.NewFake()

	b := bundle.NewBuilder(cfg, fake, zerolog.Nop(), io.Discard)
	b.RestoreToolPath = filepath.Join(t.TempDir(), "no-such-binary")
	tag, err := b.Run(context.Background())
	require.NoError(t, err)

	entries := readTarEntries(t, fake.BuildContexts[tag])
	require.Contains(t, string(entries["bundle/restore-tool"]), "#!/bin/sh")
}

func TestRun_FailedBackupBuildsNothing(t *testing.T) {
	cfg := testConfig(t)
	fake := dockerapi.NewFake()
	fake.AddVolume("data", map[string][]byte{"f": []byte("x")})
	fake.ExportErr["data"] = io.ErrUnexpectedEOF

	b := bundle.NewBuilder(cfg, fake, zerolog.Nop(), io.Discard)
	_, err := b.Run(context.Background())
	require.Error(t, err)
	require.Empty(t, fake.BuiltTags)
}
