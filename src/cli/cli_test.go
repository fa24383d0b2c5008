package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"homelab-backup/src/backup"
	"homelab-backup/src/cli"
	"homelab-backup/src/dockerapi"
	"homelab-backup/src/pathenc"
	"homelab-backup/src/version"
)

// setTestEnv points the config layer at throwaway directories so commands
// never touch the invoking user's filesystem.
func setTestEnv(t *testing.T) (root, work string) {
	t.Helper()
	root = filepath.Join(t.TempDir(), "backups")
	work = t.TempDir()
	t.Setenv("HOMELAB_ROOT", root)
	t.Setenv("HOMELAB_WORKDIR", work)
	t.Setenv("HOMELAB_ALLOWED_PREFIXES", work)
	t.Setenv("HOMELAB_COMPOSE_SCAN_ROOTS", work)
	t.Setenv("HOMELAB_ALWAYS_INCLUDE", work)
	return root, work
}

func useFake(t *testing.T, fake *dockerapi.FakeClient) {
	t.Helper()
	reset := cli.SetClientConnectorForTest(func(ctx context.Context, workerImage string) (dockerapi.Client, error) {
		return fake, nil
	})
	t.Cleanup(reset)
}

func TestRootHelp_ShowsUsage(t *testing.T) {
	var out, errBuf bytes.Buffer
	cmd := cli.NewRootCmd(&out, &errBuf)
	cmd.SetArgs([]string{"--help"})

	_, err := cmd.ExecuteC()
	require.NoError(t, err)
	require.Contains(t, out.String(), "Usage:")
	require.Contains(t, out.String(), "homelab-backup")
}

func TestVersionCmd_PrintsVersion(t *testing.T) {
	var out, errBuf bytes.Buffer
	cmd := cli.NewRootCmd(&out, &errBuf)
	cmd.SetArgs([]string{"version"})

	_, err := cmd.ExecuteC()
	require.NoError(t, err)
	require.Equal(t, version.Version+"\n", out.String())
}

func TestBackupCmd_WritesBackupAndSummary(t *testing.T) {
	root, _ := setTestEnv(t)
	fake := dockerapi.NewFake()
	fake.AddVolume("pihole_data", map[string][]byte{"hosts": []byte("A")})
	useFake(t, fake)

	var out, errBuf bytes.Buffer
	cmd := cli.NewRootCmd(&out, &errBuf)
	cmd.SetArgs([]string{"backup"})

	_, err := cmd.ExecuteC()
	require.NoError(t, err, "stderr=%s", errBuf.String())
	require.Contains(t, out.String(), "STEP")
	require.Contains(t, out.String(), "volumes")

	latest, err := backup.ReadLatest(root)
	require.NoError(t, err)
	require.NotEmpty(t, latest)
	_, err = os.Stat(filepath.Join(latest, "volumes", "pihole_data.tar.gz"))
	require.NoError(t, err)
}

func TestRestoreCmd_DryRunNeverConnects(t *testing.T) {
	setTestEnv(t)
	reset := cli.SetClientConnectorForTest(func(ctx context.Context, workerImage string) (dockerapi.Client, error) {
		t.Fatal("dry-run must not connect to the daemon")
		return nil, nil
	})
	t.Cleanup(reset)

	backupDir := t.TempDir()
	var out, errBuf bytes.Buffer
	cmd := cli.NewRootCmd(&out, &errBuf)
	cmd.SetArgs([]string{"restore", backupDir, "--dry-run"})

	_, err := cmd.ExecuteC()
	require.NoError(t, err)
	require.Contains(t, out.String(), "[dry-run] would restore from")
}

func TestRestoreCmd_RunsOrchestrator(t *testing.T) {
	root, _ := setTestEnv(t)
	fake := dockerapi.NewFake()
	fake.AddVolume("data", map[string][]byte{"f": []byte("x")})
	useFake(t, fake)

	// A prior backup provides the restore source.
	var out, errBuf bytes.Buffer
	cmd := cli.NewRootCmd(&out, &errBuf)
	cmd.SetArgs([]string{"backup"})
	_, err := cmd.ExecuteC()
	require.NoError(t, err)
	latest, err := backup.ReadLatest(root)
	require.NoError(t, err)

	target := dockerapi.NewFake()
	useFake(t, target)
	out.Reset()
	cmd = cli.NewRootCmd(&out, &errBuf)
	cmd.SetArgs([]string{"restore", latest, "-y"})
	_, err = cmd.ExecuteC()
	require.NoError(t, err, "stderr=%s", errBuf.String())
	require.Equal(t, map[string][]byte{"f": []byte("x")}, target.Volumes["data"])
}

func TestListCmd_MarksLatest(t *testing.T) {
	root, _ := setTestEnv(t)
	older := filepath.Join(root, "2025-06-01_120000")
	newer := filepath.Join(root, "2025-06-02_120000")
	require.NoError(t, os.MkdirAll(older, 0o755))
	require.NoError(t, os.MkdirAll(newer, 0o755))
	require.NoError(t, backup.Finalize(root, newer))

	var out, errBuf bytes.Buffer
	cmd := cli.NewRootCmd(&out, &errBuf)
	cmd.SetArgs([]string{"list"})

	_, err := cmd.ExecuteC()
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3) // header + two backups
	require.Contains(t, lines[1], "2025-06-02_120000")
	require.Contains(t, lines[1], "*")
	require.NotContains(t, lines[2], "*")
}

func TestPruneCmd_DeletesBeyondKeep(t *testing.T) {
	root, _ := setTestEnv(t)
	for _, name := range []string{"2025-06-01_120000", "2025-06-02_120000", "2025-06-03_120000"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))
	}

	var out, errBuf bytes.Buffer
	cmd := cli.NewRootCmd(&out, &errBuf)
	cmd.SetArgs([]string{"prune", "--keep", "1", "-y"})

	_, err := cmd.ExecuteC()
	require.NoError(t, err)
	require.Contains(t, out.String(), "delete")

	names, err := backup.Dirs(root)
	require.NoError(t, err)
	require.Equal(t, []string{"2025-06-03_120000"}, names)
}

func TestPruneCmd_DryRunKeepsEverything(t *testing.T) {
	root, _ := setTestEnv(t)
	for _, name := range []string{"2025-06-01_120000", "2025-06-02_120000"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))
	}

	var out, errBuf bytes.Buffer
	cmd := cli.NewRootCmd(&out, &errBuf)
	cmd.SetArgs([]string{"prune", "--keep", "1", "--dry-run"})

	_, err := cmd.ExecuteC()
	require.NoError(t, err)

	names, err := backup.Dirs(root)
	require.NoError(t, err)
	require.Len(t, names, 2)
}

func TestPatchCmd_AddsMissingArchive(t *testing.T) {
	root, work := setTestEnv(t)
	dir := filepath.Join(root, "2025-06-01_120000")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bind-mounts"), 0o755))
	require.NoError(t, backup.Finalize(root, dir))

	fake := dockerapi.NewFake()
	useFake(t, fake)

	var out, errBuf bytes.Buffer
	cmd := cli.NewRootCmd(&out, &errBuf)
	cmd.SetArgs([]string{"patch"})

	_, err := cmd.ExecuteC()
	require.NoError(t, err, "stderr=%s", errBuf.String())
	// The always-include path (the work dir in tests) gets archived.
	entries, err := os.ReadDir(filepath.Join(dir, "bind-mounts"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, pathenc.ArchiveName(work), entries[0].Name())
	require.Contains(t, out.String(), "(new)")
}

func TestPatchCmd_RebuildBundleTagsPatchedBackup(t *testing.T) {
	root, _ := setTestEnv(t)
	dir := filepath.Join(root, "2025-06-01_120000")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bind-mounts"), 0o755))
	require.NoError(t, backup.Finalize(root, dir))

	fake := dockerapi.NewFake()
	useFake(t, fake)

	var out, errBuf bytes.Buffer
	cmd := cli.NewRootCmd(&out, &errBuf)
	cmd.SetArgs([]string{"patch", "--rebuild-bundle"})

	_, err := cmd.ExecuteC()
	require.NoError(t, err, "stderr=%s", errBuf.String())
	require.Equal(t, []string{"homelab-backup:2025-06-01_120000"}, fake.BuiltTags)
}
