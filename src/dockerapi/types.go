package dockerapi

import (
	"context"
	"io"
)

// Mount is the slice of a container mount this tool cares about.
type Mount struct {
	Type        string // "volume" or "bind"
	Name        string // volume name, empty for binds
	Source      string // host path for binds
	Destination string
}

// Container models a running workload as seen by the backup core.
type Container struct {
	ID     string
	Name   string
	Image  string
	Labels map[string]string
	Mounts []Mount
}

// Client is a narrow interface over the Docker control plane covering only
// the operations the backup/restore/bundle pipeline performs. Keeping it
// small keeps the fake honest.
type Client interface {
	// Ping verifies the daemon is reachable before a run mutates anything.
	Ping(ctx context.Context) error

	// Containers
	ListRunningContainers(ctx context.Context) ([]Container, error)
	// InspectContainerRaw returns the full inspect document as JSON, for
	// the observational manifests.
	InspectContainerRaw(ctx context.Context, nameOrID string) ([]byte, error)
	// CreateContainer creates (without starting) a container from image
	// with the given volume binds; RemoveContainer force-removes it.
	CreateContainer(ctx context.Context, image string, binds []string) (string, error)
	RemoveContainer(ctx context.Context, id string) error
	// CopyFromContainer streams a tar of srcPath out of a container.
	CopyFromContainer(ctx context.Context, nameOrID, srcPath string) (io.ReadCloser, error)

	// Volumes
	ListVolumes(ctx context.Context) ([]string, error)
	// EnsureVolume creates the named volume if absent. Creating an
	// existing volume is a no-op.
	EnsureVolume(ctx context.Context, name string) error
	// ExportVolume writes an uncompressed tar of the volume's contents to
	// w via a short-lived worker container mounting it read-only.
	ExportVolume(ctx context.Context, name string, w io.Writer) error
	// ImportVolume extracts a tar stream produced by ExportVolume into
	// the named volume, which must already exist.
	ImportVolume(ctx context.Context, name string, r io.Reader) error

	// Networks
	ListNetworks(ctx context.Context) ([]string, error)
	EnsureNetwork(ctx context.Context, name string) error

	// Images
	ListImages(ctx context.Context) ([]string, error)
	PullImage(ctx context.Context, ref string) error
	// SaveImages writes one combined image archive for refs to w.
	SaveImages(ctx context.Context, refs []string, w io.Writer) error
	// BuildImage builds a tar build context into an image tagged tag.
	BuildImage(ctx context.Context, buildContext io.Reader, tag string) error

	// StackUp starts a compose stack from dir (docker compose up -d).
	StackUp(ctx context.Context, dir string) error
}

// Compose label keys the manifest collector reads.
const (
	LabelComposeWorkingDir  = "com.docker.compose.project.working_dir"
	LabelComposeConfigFiles = "com.docker.compose.project.config_files"
)

// NotFoundError reports a missing resource.
type NotFoundError struct{ Resource, Name string }

func (e *NotFoundError) Error() string { return e.Resource + " not found: " + e.Name }

// ConflictError reports a resource that already exists.
type ConflictError struct{ Resource, Name string }

func (e *ConflictError) Error() string { return e.Resource + " already exists: " + e.Name }
