package dockerapi

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// FakeClient is an in-memory Client for unit tests. Volumes hold file trees
// keyed by path; export/import move real tar streams so the archive plumbing
// gets exercised end to end.
type FakeClient struct {
	Containers  []Container
	RawInspects map[string][]byte

	Volumes        map[string]map[string][]byte
	EnsuredVolumes []string

	Networks        map[string]bool
	CreatedNetworks []string

	Images    []string
	Pulled    []string
	SaveCalls [][]string

	// ContainerFiles serves CopyFromContainer for named (pre-existing)
	// containers: container name -> path -> content.
	ContainerFiles map[string]map[string][]byte
	// ImagePayloads serves CopyFromContainer for containers created from
	// an image: image ref -> path -> content.
	ImagePayloads map[string]map[string][]byte

	// BuildContexts records the raw tar build context per built tag.
	BuildContexts map[string][]byte
	BuiltTags     []string

	StackUps []string

	// PingErr and ExportErr inject failures.
	PingErr   error
	ExportErr map[string]error

	created map[string]string // container id -> image
	nextID  int
}

func NewFake() *FakeClient {
	return &FakeClient{
		RawInspects:    map[string][]byte{},
		Volumes:        map[string]map[string][]byte{},
		Networks:       map[string]bool{},
		ContainerFiles: map[string]map[string][]byte{},
		ImagePayloads:  map[string]map[string][]byte{},
		BuildContexts:  map[string][]byte{},
		ExportErr:      map[string]error{},
		created:        map[string]string{},
	}
}

// AddVolume seeds a named volume with a file tree.
func (f *FakeClient) AddVolume(name string, files map[string][]byte) {
	if files == nil {
		files = map[string][]byte{}
	}
	f.Volumes[name] = files
}

func (f *FakeClient) Ping(ctx context.Context) error { return f.PingErr }

func (f *FakeClient) ListRunningContainers(ctx context.Context) ([]Container, error) {
	out := make([]Container, len(f.Containers))
	copy(out, f.Containers)
	return out, nil
}

func (f *FakeClient) InspectContainerRaw(ctx context.Context, nameOrID string) ([]byte, error) {
	if raw, ok := f.RawInspects[nameOrID]; ok {
		return raw, nil
	}
	for _, ct := range f.Containers {
		if ct.Name == nameOrID || ct.ID == nameOrID {
			return json.Marshal(map[string]any{
				"Name":   "/" + ct.Name,
				"Config": map[string]any{"Image": ct.Image},
				"Mounts": ct.Mounts,
			})
		}
	}
	return nil, &NotFoundError{Resource: "container", Name: nameOrID}
}

func (f *FakeClient) CreateContainer(ctx context.Context, image string, binds []string) (string, error) {
	if !f.hasImage(image) {
		return "", &NotFoundError{Resource: "image", Name: image}
	}
	f.nextID++
	id := fmt.Sprintf("fake-%d", f.nextID)
	f.created[id] = image
	return id, nil
}

func (f *FakeClient) RemoveContainer(ctx context.Context, id string) error {
	if _, ok := f.created[id]; !ok {
		return &NotFoundError{Resource: "container", Name: id}
	}
	delete(f.created, id)
	return nil
}

func (f *FakeClient) CopyFromContainer(ctx context.Context, nameOrID, srcPath string) (io.ReadCloser, error) {
	if img, ok := f.created[nameOrID]; ok {
		return f.copyFromPayload(f.ImagePayloads[img], srcPath)
	}
	if files, ok := f.ContainerFiles[nameOrID]; ok {
		if data, ok := files[srcPath]; ok {
			return tarStream(map[string][]byte{path.Base(srcPath): data}), nil
		}
		return nil, &NotFoundError{Resource: "path", Name: srcPath}
	}
	return nil, &NotFoundError{Resource: "container", Name: nameOrID}
}

// copyFromPayload mimics docker cp of a directory: entries come out rooted
// at the directory's basename.
func (f *FakeClient) copyFromPayload(payload map[string][]byte, srcPath string) (io.ReadCloser, error) {
	if data, ok := payload[srcPath]; ok {
		return tarStream(map[string][]byte{path.Base(srcPath): data}), nil
	}
	prefix := strings.TrimSuffix(srcPath, "/") + "/"
	out := map[string][]byte{}
	base := path.Base(strings.TrimSuffix(srcPath, "/"))
	for p, data := range payload {
		if strings.HasPrefix(p, prefix) {
			out[base+"/"+strings.TrimPrefix(p, prefix)] = data
		}
	}
	if len(out) == 0 {
		return nil, &NotFoundError{Resource: "path", Name: srcPath}
	}
	return tarStream(out), nil
}

func (f *FakeClient) ListVolumes(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(f.Volumes))
	for n := range f.Volumes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (f *FakeClient) EnsureVolume(ctx context.Context, name string) error {
	f.EnsuredVolumes = append(f.EnsuredVolumes, name)
	if _, ok := f.Volumes[name]; !ok {
		f.Volumes[name] = map[string][]byte{}
	}
	return nil
}

func (f *FakeClient) ExportVolume(ctx context.Context, name string, w io.Writer) error {
	if err := f.ExportErr[name]; err != nil {
		return err
	}
	files, ok := f.Volumes[name]
	if !ok {
		return &NotFoundError{Resource: "volume", Name: name}
	}
	prefixed := make(map[string][]byte, len(files))
	for p, data := range files {
		prefixed["volume/"+p] = data
	}
	_, err := io.Copy(w, tarStream(prefixed))
	return err
}

func (f *FakeClient) ImportVolume(ctx context.Context, name string, r io.Reader) error {
	files, ok := f.Volumes[name]
	if !ok {
		return &NotFoundError{Resource: "volume", Name: name}
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		files[strings.TrimPrefix(hdr.Name, "volume/")] = data
	}
}

func (f *FakeClient) ListNetworks(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(f.Networks))
	for n := range f.Networks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (f *FakeClient) EnsureNetwork(ctx context.Context, name string) error {
	if !f.Networks[name] {
		f.Networks[name] = true
		f.CreatedNetworks = append(f.CreatedNetworks, name)
	}
	return nil
}

func (f *FakeClient) ListImages(ctx context.Context) ([]string, error) {
	out := make([]string, len(f.Images))
	copy(out, f.Images)
	sort.Strings(out)
	return out, nil
}

func (f *FakeClient) PullImage(ctx context.Context, ref string) error {
	f.Pulled = append(f.Pulled, ref)
	if !f.hasImage(ref) {
		f.Images = append(f.Images, ref)
	}
	return nil
}

func (f *FakeClient) SaveImages(ctx context.Context, refs []string, w io.Writer) error {
	f.SaveCalls = append(f.SaveCalls, append([]string(nil), refs...))
	manifest, _ := json.Marshal(refs)
	_, err := io.Copy(w, tarStream(map[string][]byte{"manifest.json": manifest}))
	return err
}

func (f *FakeClient) BuildImage(ctx context.Context, buildContext io.Reader, tag string) error {
	data, err := io.ReadAll(buildContext)
	if err != nil {
		return err
	}
	f.BuildContexts[tag] = data
	f.BuiltTags = append(f.BuiltTags, tag)
	if !f.hasImage(tag) {
		f.Images = append(f.Images, tag)
	}
	return nil
}

func (f *FakeClient) StackUp(ctx context.Context, dir string) error {
	f.StackUps = append(f.StackUps, dir)
	return nil
}

func (f *FakeClient) hasImage(ref string) bool {
	for _, img := range f.Images {
		if img == ref {
			return true
		}
	}
	return false
}

// tarStream builds an in-memory tar with deterministic entry order.
func tarStream(files map[string][]byte) io.ReadCloser {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, n := range names {
		data := files[n]
		_ = tw.WriteHeader(&tar.Header{Name: n, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg})
		_, _ = tw.Write(data)
	}
	_ = tw.Close()
	return io.NopCloser(&buf)
}
