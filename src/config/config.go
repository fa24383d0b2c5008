package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// HOMELAB_ROOT, HOMELAB_KEEP, HOMELAB_NETWORK.
const EnvPrefix = "HOMELAB_"

// Config carries everything the backup, restore, and bundle cores need.
// Nothing in the cores reads the environment directly; ambient state (home
// directory, working directory, sudo caller identity) is resolved once here.
type Config struct {
	// Root is the retention root holding timestamped backup directories
	// and the LATEST pointer.
	Root string `koanf:"root"`
	// WorkDir anchors the conventional relative bind paths and the
	// compose restore directory.
	WorkDir string `koanf:"workdir"`
	// Keep is the retention window size.
	Keep int `koanf:"keep"`
	// Network is the shared network the reverse proxy expects to exist.
	Network string `koanf:"network"`
	// Workers bounds concurrent volume/bind-mount exports. 1 preserves
	// strictly sequential behavior.
	Workers int `koanf:"workers"`

	// AllowedPrefixes scope which bind-mount sources are archived; paths
	// outside every prefix are skipped.
	AllowedPrefixes []string `koanf:"allowed_prefixes"`
	// AlwaysInclude are host paths archived whenever they exist, whether
	// or not a running container currently mounts them.
	AlwaysInclude []string `koanf:"always_include"`
	// ConventionalPaths are relative paths under WorkDir archived
	// unconditionally when present.
	ConventionalPaths []string `koanf:"conventional_paths"`
	// ProxyConfigFile is a root-level file under WorkDir archived when
	// present (the reverse proxy's main config).
	ProxyConfigFile string `koanf:"proxy_config_file"`

	// ComposeScanRoots are the fallback filesystem-scan roots for compose
	// and env files; ScanDepth bounds the scan.
	ComposeScanRoots []string `koanf:"compose_scan_roots"`
	ScanDepth        int      `koanf:"scan_depth"`

	// WorkerImage backs the short-lived export/import containers.
	WorkerImage string `koanf:"worker_image"`
	// CertContainer/CertPath locate the root CA artifact to capture.
	CertContainer string `koanf:"cert_container"`
	CertPath      string `koanf:"cert_path"`

	// BundleRepo is the image repository bundle builds are tagged into.
	BundleRepo string `koanf:"bundle_repo"`
	// TargetUID/TargetGID receive ownership of the backup tree during
	// bundle assembly (the invoking non-root user under sudo).
	TargetUID int `koanf:"target_uid"`
	TargetGID int `koanf:"target_gid"`

	LogLevel string `koanf:"log_level"`
}

// Default returns the built-in configuration, anchored at the invoking
// user's home and working directories.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/root"
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = home
	}
	uid, gid := callerIdentity()
	return Config{
		Root:    filepath.Join(home, "homelab-backups"),
		WorkDir: cwd,
		Keep:    7,
		Network: "caddy_net",
		Workers: 1,
		AllowedPrefixes: []string{
			home,
			"/etc/pihole",
			"/etc/dnsmasq.d",
			"/etc/caddy",
			"/etc/caddy_config",
		},
		AlwaysInclude:     []string{"/etc/pihole", "/etc/dnsmasq.d"},
		ConventionalPaths: []string{"public", "config"},
		ProxyConfigFile:   "Caddyfile",
		ComposeScanRoots:  []string{cwd, home, filepath.Join(home, "homelab")},
		ScanDepth:         2,
		WorkerImage:       "busybox:stable",
		CertContainer:     "caddy",
		CertPath:          "/data/caddy/pki/authorities/local/root.crt",
		BundleRepo:        "homelab-backup",
		TargetUID:         uid,
		TargetGID:         gid,
		LogLevel:          "info",
	}
}

// Load layers configuration: struct defaults, then an optional YAML file,
// then HOMELAB_* environment variables. An empty path skips the file layer.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	p := env.ProviderWithValue(EnvPrefix, ".", envTransform)
	if err := k.Load(p, nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the cores cannot operate with.
func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("config: root must not be empty")
	}
	if !filepath.IsAbs(c.Root) {
		return fmt.Errorf("config: root must be an absolute path: %q", c.Root)
	}
	if c.Keep < 1 {
		return fmt.Errorf("config: keep must be >= 1, got %d", c.Keep)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be >= 1, got %d", c.Workers)
	}
	if c.Network == "" {
		return fmt.Errorf("config: network must not be empty")
	}
	return nil
}

var sliceKeys = map[string]bool{
	"allowed_prefixes":   true,
	"always_include":     true,
	"conventional_paths": true,
	"compose_scan_roots": true,
}

// envTransform maps HOMELAB_ALLOWED_PREFIXES=/home/tim,/etc/pihole style
// variables onto koanf keys, splitting list-valued keys on commas.
func envTransform(key, value string) (string, any) {
	k := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if sliceKeys[k] {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return k, parts
	}
	return k, value
}

// callerIdentity resolves the user backups should end up owned by. Under
// sudo that is the invoking user, not root.
func callerIdentity() (uid, gid int) {
	uid, gid = os.Getuid(), os.Getgid()
	if v := os.Getenv("SUDO_UID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			uid = n
		}
	}
	if v := os.Getenv("SUDO_GID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			gid = n
		}
	}
	return uid, gid
}
