package dockerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
)

// RealClient wraps the official Docker SDK client.
type RealClient struct {
	api         *client.Client
	workerImage string
}

// ConnectLocal connects to the local daemon using the standard environment
// (DOCKER_HOST etc.), negotiating the API version. workerImage backs the
// short-lived export/import containers.
func ConnectLocal(ctx context.Context, workerImage string) (*RealClient, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect docker daemon: %w", err)
	}
	return &RealClient{api: api, workerImage: workerImage}, nil
}

func (c *RealClient) Ping(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

func (c *RealClient) ListRunningContainers(ctx context.Context) ([]Container, error) {
	list, err := c.api.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]Container, 0, len(list))
	for _, ct := range list {
		name := ""
		if len(ct.Names) > 0 {
			name = strings.TrimPrefix(ct.Names[0], "/")
		}
		mounts := make([]Mount, 0, len(ct.Mounts))
		for _, m := range ct.Mounts {
			mounts = append(mounts, Mount{
				Type:        string(m.Type),
				Name:        m.Name,
				Source:      m.Source,
				Destination: m.Destination,
			})
		}
		out = append(out, Container{
			ID:     ct.ID,
			Name:   name,
			Image:  ct.Image,
			Labels: ct.Labels,
			Mounts: mounts,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *RealClient) InspectContainerRaw(ctx context.Context, nameOrID string) ([]byte, error) {
	info, err := c.api.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(info)
}

func (c *RealClient) CreateContainer(ctx context.Context, img string, binds []string) (string, error) {
	resp, err := c.api.ContainerCreate(ctx,
		&container.Config{Image: img, Cmd: []string{"true"}},
		&container.HostConfig{Binds: binds},
		nil, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *RealClient) RemoveContainer(ctx context.Context, id string) error {
	return c.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (c *RealClient) CopyFromContainer(ctx context.Context, nameOrID, srcPath string) (io.ReadCloser, error) {
	rc, _, err := c.api.CopyFromContainer(ctx, nameOrID, srcPath)
	return rc, err
}

func (c *RealClient) ListVolumes(ctx context.Context) ([]string, error) {
	resp, err := c.api.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *RealClient) EnsureVolume(ctx context.Context, name string) error {
	// VolumeCreate with an existing name returns the existing volume, so
	// this is naturally idempotent.
	_, err := c.api.VolumeCreate(ctx, volume.CreateOptions{Name: name})
	return err
}

func (c *RealClient) ExportVolume(ctx context.Context, name string, w io.Writer) error {
	id, err := c.spawnWorker(ctx, []string{name + ":/volume:ro"})
	if err != nil {
		return fmt.Errorf("worker for volume %s: %w", name, err)
	}
	defer c.RemoveContainer(context.WithoutCancel(ctx), id)
	rc, _, err := c.api.CopyFromContainer(ctx, id, "/volume")
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

func (c *RealClient) ImportVolume(ctx context.Context, name string, r io.Reader) error {
	id, err := c.spawnWorker(ctx, []string{name + ":/volume"})
	if err != nil {
		return fmt.Errorf("worker for volume %s: %w", name, err)
	}
	defer c.RemoveContainer(context.WithoutCancel(ctx), id)
	// The stream's entries are rooted at "volume/", so extraction at /
	// lands in the mounted volume.
	return c.api.CopyToContainer(ctx, id, "/", r, container.CopyToContainerOptions{})
}

// spawnWorker creates an auto-removed helper container with the given binds.
// The worker is never started; docker cp operates on created containers.
func (c *RealClient) spawnWorker(ctx context.Context, binds []string) (string, error) {
	id, err := c.CreateContainer(ctx, c.workerImage, binds)
	if err == nil {
		return id, nil
	}
	// Image likely missing locally; pull once and retry.
	if perr := c.PullImage(ctx, c.workerImage); perr != nil {
		return "", err
	}
	return c.CreateContainer(ctx, c.workerImage, binds)
}

func (c *RealClient) ListNetworks(ctx context.Context) ([]string, error) {
	list, err := c.api.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list))
	for _, n := range list {
		names = append(names, n.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *RealClient) EnsureNetwork(ctx context.Context, name string) error {
	existing, err := c.ListNetworks(ctx)
	if err != nil {
		return err
	}
	for _, n := range existing {
		if n == name {
			return nil
		}
	}
	_, err = c.api.NetworkCreate(ctx, name, network.CreateOptions{})
	return err
}

func (c *RealClient) ListImages(ctx context.Context) ([]string, error) {
	list, err := c.api.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, img := range list {
		refs = append(refs, img.RepoTags...)
	}
	sort.Strings(refs)
	return refs, nil
}

func (c *RealClient) PullImage(ctx context.Context, ref string) error {
	rc, err := c.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	return jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil)
}

func (c *RealClient) SaveImages(ctx context.Context, refs []string, w io.Writer) error {
	rc, err := c.api.ImageSave(ctx, refs)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

func (c *RealClient) BuildImage(ctx context.Context, buildContext io.Reader, tag string) error {
	resp, err := c.api.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:   []string{tag},
		Remove: true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// The build stream carries errors in-band.
	return jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil)
}

// StackUp shells out to the compose plugin; stack startup is a CLI concern,
// not a daemon API.
func (c *RealClient) StackUp(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "docker", "compose", "up", "-d")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("docker compose up in %s: %w\n%s", dir, err, out)
	}
	return nil
}

// IsBind reports whether a mount entry is a host-path bind mount.
func IsBind(m Mount) bool { return m.Type == string(mount.TypeBind) }

// IsVolume reports whether a mount entry is a named volume.
func IsVolume(m Mount) bool { return m.Type == string(mount.TypeVolume) }
