package backup_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"homelab-backup/src/archive"
	"homelab-backup/src/backup"
	"homelab-backup/src/config"
	"homelab-backup/src/dockerapi"
	"homelab-backup/src/pathenc"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Root = filepath.Join(t.TempDir(), "backups")
	cfg.WorkDir = t.TempDir()
	cfg.AllowedPrefixes = []string{cfg.WorkDir}
	cfg.AlwaysInclude = nil
	cfg.ComposeScanRoots = []string{cfg.WorkDir}
	cfg.ScanDepth = 2
	return cfg
}

func testRunner(t *testing.T, cfg config.Config, fake *dockerapi.FakeClient) *backup.Runner {
	t.Helper()
	r := backup.NewRunner(cfg, fake, zerolog.Nop(), io.Discard)
	r.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func writeWorkFile(t *testing.T, workDir, rel, content string) {
	t.Helper()
	path := filepath.Join(workDir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRun_FullBackupTree(t *testing.T) {
	cfg := testConfig(t)
	stack := cfg.WorkDir
	writeWorkFile(t, stack, "docker-compose.yml", "services:\n  pihole:\n    image: pihole/pihole:latest\n")
	writeWorkFile(t, stack, ".env", "TZ=UTC\n")
	writeWorkFile(t, stack, "Caddyfile", "localhost {\n}\n")
	writeWorkFile(t, stack, "public/index.html", "<html></html>")
	writeWorkFile(t, stack, "config/app.conf", "x=1\n")
	writeWorkFile(t, stack, "shared/note.txt", "shared data")
	shared := filepath.Join(stack, "shared")

	fake := dockerapi.NewFake()
	fake.AddVolume("pihole_data", map[string][]byte{"etc/hosts": []byte("A")})
	fake.Containers = []dockerapi.Container{{
		ID: "c1", Name: "pihole", Image: "pihole/pihole:latest",
		Labels: map[string]string{
			dockerapi.LabelComposeWorkingDir:  stack,
			dockerapi.LabelComposeConfigFiles: "docker-compose.yml",
		},
		Mounts: []dockerapi.Mount{
			{Type: "volume", Name: "pihole_data", Destination: "/etc/pihole"},
			{Type: "bind", Source: shared, Destination: "/shared"},
		},
	}}
	fake.ContainerFiles["caddy"] = map[string][]byte{cfg.CertPath: []byte("CERT")}

	report, err := testRunner(t, cfg, fake).Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK())
	require.True(t, report.Latest)

	dir := filepath.Join(cfg.Root, "2025-06-01_120000")
	require.Equal(t, dir, report.Dir)

	for _, rel := range []string{
		filepath.Join("volumes", "pihole_data.tar.gz"),
		filepath.Join("bind-mounts", pathenc.ArchiveName(shared)),
		filepath.Join("bind-mounts", "public.tar.gz"),
		filepath.Join("bind-mounts", "config.tar.gz"),
		filepath.Join("bind-mounts", "Caddyfile.tar.gz"),
		filepath.Join("compose-files", pathenc.Encode(filepath.Join(stack, "docker-compose.yml"))),
		filepath.Join("compose-files", pathenc.Encode(filepath.Join(stack, ".env"))),
		"running-images.txt",
		"images.tar",
		filepath.Join("manifests", "containers.tsv"),
		filepath.Join("manifests", "containers.json"),
		filepath.Join("manifests", "images.txt"),
		filepath.Join("manifests", "networks.txt"),
		filepath.Join("manifests", "volumes.txt"),
		filepath.Join("certs", "caddy-rootCA.crt"),
	} {
		_, err := os.Stat(filepath.Join(dir, rel))
		require.NoError(t, err, "expected %s in backup tree", rel)
	}

	cert, err := os.ReadFile(filepath.Join(dir, "certs", backup.CertFileName))
	require.NoError(t, err)
	require.Equal(t, "CERT", string(cert))

	images, err := os.ReadFile(filepath.Join(dir, "running-images.txt"))
	require.NoError(t, err)
	require.Equal(t, "pihole/pihole:latest\n", string(images))

	latest, err := backup.ReadLatest(cfg.Root)
	require.NoError(t, err)
	require.Equal(t, dir, latest)

	// Bind archives must extract back to the original absolute layout.
	f, err := os.Open(filepath.Join(dir, "bind-mounts", pathenc.ArchiveName(shared)))
	require.NoError(t, err)
	defer f.Close()
	scratch := t.TempDir()
	require.NoError(t, archive.Extract(f, scratch))
	data, err := os.ReadFile(filepath.Join(scratch, shared, "note.txt"))
	require.NoError(t, err)
	require.Equal(t, "shared data", string(data))
}

func TestRun_SharedBindArchivedOnce(t *testing.T) {
	cfg := testConfig(t)
	writeWorkFile(t, cfg.WorkDir, "shared/f.txt", "x")
	shared := filepath.Join(cfg.WorkDir, "shared")

	fake := dockerapi.NewFake()
	mnt := []dockerapi.Mount{{Type: "bind", Source: shared, Destination: "/shared"}}
	fake.Containers = []dockerapi.Container{
		{ID: "a", Name: "one", Image: "img:1", Mounts: mnt},
		{ID: "b", Name: "two", Image: "img:2", Mounts: mnt},
	}

	report, err := testRunner(t, cfg, fake).Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Latest)

	entries, err := os.ReadDir(filepath.Join(report.Dir, "bind-mounts"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, pathenc.ArchiveName(shared), entries[0].Name())
}

func TestRun_DisallowedBindSkipped(t *testing.T) {
	cfg := testConfig(t)
	outside := t.TempDir() // not under any allowed prefix
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0o644))

	fake := dockerapi.NewFake()
	fake.Containers = []dockerapi.Container{{
		ID: "a", Name: "one", Image: "img:1",
		Mounts: []dockerapi.Mount{{Type: "bind", Source: outside, Destination: "/x"}},
	}}

	report, err := testRunner(t, cfg, fake).Run(context.Background())
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(report.Dir, "bind-mounts"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRun_NoContainersSkipsImageArchive(t *testing.T) {
	cfg := testConfig(t)
	fake := dockerapi.NewFake()

	report, err := testRunner(t, cfg, fake).Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Latest)

	var imageStep backup.StepResult
	for _, s := range report.Steps {
		if s.Name == "images" {
			imageStep = s
		}
	}
	require.Equal(t, backup.StatusSkipped, imageStep.Status)
	require.NoError(t, imageStep.Err)
	require.Equal(t, "no running containers", imageStep.Detail)

	_, err = os.Stat(filepath.Join(report.Dir, "images.tar"))
	require.True(t, os.IsNotExist(err))
	listing, err := os.ReadFile(filepath.Join(report.Dir, "running-images.txt"))
	require.NoError(t, err)
	require.Empty(t, listing)
}

func TestRun_MissingCertTolerated(t *testing.T) {
	cfg := testConfig(t)
	fake := dockerapi.NewFake() // no caddy container seeded

	report, err := testRunner(t, cfg, fake).Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK())
	require.True(t, report.Latest)

	var certStep backup.StepResult
	for _, s := range report.Steps {
		if s.Name == "certs" {
			certStep = s
		}
	}
	require.Equal(t, backup.StatusTolerated, certStep.Status)
}

func TestRun_FailedStepBlocksLatest(t *testing.T) {
	cfg := testConfig(t)
	fake := dockerapi.NewFake()
	fake.AddVolume("data", map[string][]byte{"f": []byte("x")})
	fake.ExportErr["data"] = errors.New("export boom")

	report, err := testRunner(t, cfg, fake).Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
	require.False(t, report.Latest)
	require.Len(t, report.Failed(), 1)
	require.Equal(t, "volumes", report.Failed()[0].Name)

	latest, readErr := backup.ReadLatest(cfg.Root)
	require.NoError(t, readErr)
	require.Empty(t, latest, "an incomplete backup must not become LATEST")
}

func TestRun_FailFastStopsAtFirstFailure(t *testing.T) {
	cfg := testConfig(t)
	fake := dockerapi.NewFake()
	fake.AddVolume("data", map[string][]byte{"f": []byte("x")})
	fake.ExportErr["data"] = errors.New("export boom")

	runner := testRunner(t, cfg, fake)
	runner.FailFast = true
	report, err := runner.Run(context.Background())
	require.Error(t, err)
	require.Len(t, report.Steps, 1)
	require.Equal(t, backup.StatusFailed, report.Steps[0].Status)
}

func TestRun_RotationPrunesBeyondKeep(t *testing.T) {
	cfg := testConfig(t)
	cfg.Keep = 3
	for _, name := range []string{"2025-05-29_120000", "2025-05-30_120000", "2025-05-31_120000"} {
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.Root, name), 0o755))
	}

	report, err := testRunner(t, cfg, dockerapi.NewFake()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(cfg.Root, "2025-05-29_120000")}, report.Pruned)

	names, err := backup.Dirs(cfg.Root)
	require.NoError(t, err)
	require.Equal(t, []string{"2025-06-01_120000", "2025-05-31_120000", "2025-05-30_120000"}, names)
}

func TestRun_TenSequentialRunsKeepSeven(t *testing.T) {
	cfg := testConfig(t)
	fake := dockerapi.NewFake()
	runner := backup.NewRunner(cfg, fake, zerolog.Nop(), io.Discard)

	var lastDir string
	for i := 0; i < 10; i++ {
		day := i + 1
		runner.Now = func() time.Time { return time.Date(2025, 6, day, 12, 0, 0, 0, time.UTC) }
		report, err := runner.Run(context.Background())
		require.NoError(t, err)
		lastDir = report.Dir
	}

	names, err := backup.Dirs(cfg.Root)
	require.NoError(t, err)
	require.Len(t, names, 7)
	require.Equal(t, "2025-06-10_120000", names[0])
	require.Equal(t, "2025-06-04_120000", names[6])

	latest, err := backup.ReadLatest(cfg.Root)
	require.NoError(t, err)
	require.Equal(t, lastDir, latest)
}

func TestRun_DaemonUnreachableTouchesNothing(t *testing.T) {
	cfg := testConfig(t)
	fake := dockerapi.NewFake()
	fake.PingErr = errors.New("cannot connect to the Docker daemon")

	report, err := testRunner(t, cfg, fake).Run(context.Background())
	require.Error(t, err)
	require.Nil(t, report)
	_, statErr := os.Stat(cfg.Root)
	require.True(t, os.IsNotExist(statErr))
}
