package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"homelab-backup/src/archive"
	"homelab-backup/src/backup"
	"homelab-backup/src/config"
	"homelab-backup/src/dockerapi"
	"homelab-backup/src/pathenc"
)

// Inspector verifies a built bundle image from the outside: it pulls the
// /bundle payload out of a never-started container and checks that the
// backup tree inside matches what the manifests claim was running.
type Inspector struct {
	cfg    config.Config
	client dockerapi.Client
	log    zerolog.Logger
	out    io.Writer
}

// Options selects the image to inspect.
type Options struct {
	// Image is an explicit tag; empty picks the newest bundle image
	// (tags sort by timestamp).
	Image string
}

// Check is one verified property of the bundle.
type Check struct {
	Name string
	OK   bool
	Note string
}

// Result is the full verification outcome.
type Result struct {
	Image  string
	Checks []Check
}

// OK reports whether every check passed.
func (r *Result) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

func New(cfg config.Config, client dockerapi.Client, log zerolog.Logger, out io.Writer) *Inspector {
	return &Inspector{
		cfg:    cfg,
		client: client,
		log:    log.With().Str("component", "inspect").Logger(),
		out:    out,
	}
}

// manifestContainer is the slice of a docker inspect document the
// cross-check reads back out of manifests/containers.json.
type manifestContainer struct {
	Name   string `json:"Name"`
	Config struct {
		Image string `json:"Image"`
	} `json:"Config"`
	Mounts []struct {
		Type        string `json:"Type"`
		Name        string `json:"Name"`
		Source      string `json:"Source"`
		Destination string `json:"Destination"`
	} `json:"Mounts"`
}

// Run extracts the bundle payload and verifies it. The image is never
// started; its filesystem is copied out of a created container.
func (i *Inspector) Run(ctx context.Context, opts Options) (*Result, error) {
	image, err := i.resolveImage(ctx, opts.Image)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(i.out, "Inspecting bundle image: %s\n", image)

	payloadDir, err := i.extractPayload(ctx, image)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(payloadDir)

	backupRoot := filepath.Join(payloadDir, "bundle", "backup")
	res := &Result{Image: image}
	res.Checks = append(res.Checks, i.layoutChecks(payloadDir, backupRoot)...)

	crossChecks, err := i.manifestCrossChecks(backupRoot)
	if err != nil {
		res.Checks = append(res.Checks, Check{Name: "manifests/containers.json parses", OK: false, Note: err.Error()})
	} else {
		res.Checks = append(res.Checks, Check{Name: "manifests/containers.json parses", OK: true})
		res.Checks = append(res.Checks, crossChecks...)
	}

	i.render(res)
	if !res.OK() {
		return res, fmt.Errorf("bundle verification failed")
	}
	return res, nil
}

// resolveImage returns the explicit tag, or the newest tag under the
// configured bundle repository.
func (i *Inspector) resolveImage(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	tags, err := i.client.ListImages(ctx)
	if err != nil {
		return "", fmt.Errorf("list images: %w", err)
	}
	prefix := i.cfg.BundleRepo + ":"
	var candidates []string
	for _, t := range tags {
		if strings.HasPrefix(t, prefix) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no %s images found; build a bundle first", i.cfg.BundleRepo)
	}
	sort.Strings(candidates)
	return candidates[len(candidates)-1], nil
}

// extractPayload copies /bundle out of a created (never started) container
// into a temp directory and returns that directory.
func (i *Inspector) extractPayload(ctx context.Context, image string) (string, error) {
	id, err := i.client.CreateContainer(ctx, image, nil)
	if err != nil {
		return "", fmt.Errorf("create inspection container: %w", err)
	}
	defer func() {
		if err := i.client.RemoveContainer(context.WithoutCancel(ctx), id); err != nil {
			i.log.Warn().Err(err).Str("container", id).Msg("failed to remove inspection container")
		}
	}()

	rc, err := i.client.CopyFromContainer(ctx, id, "/bundle")
	if err != nil {
		return "", fmt.Errorf("copy bundle payload: %w", err)
	}
	defer rc.Close()

	dir, err := os.MkdirTemp("", "homelab-inspect-*")
	if err != nil {
		return "", err
	}
	if err := archive.ExtractTar(rc, dir); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("extract bundle payload: %w", err)
	}
	return dir, nil
}

func (i *Inspector) layoutChecks(payloadDir, backupRoot string) []Check {
	var checks []Check
	dirCheck := func(name, rel string) {
		info, err := os.Stat(filepath.Join(backupRoot, rel))
		checks = append(checks, Check{Name: name, OK: err == nil && info.IsDir()})
	}
	fileCheck := func(name, path string) {
		info, err := os.Stat(path)
		ok := err == nil && info.Mode().IsRegular()
		note := ""
		if ok {
			note = fmt.Sprintf("%d bytes", info.Size())
		}
		checks = append(checks, Check{Name: name, OK: ok, Note: note})
	}
	// images.tar and the CA cert are legitimately absent when the backup
	// ran with no containers up, so their presence is reported but never
	// fails the verification.
	optionalCheck := func(name, path string) {
		info, err := os.Stat(path)
		note := "absent (optional)"
		if err == nil && info.Mode().IsRegular() {
			note = fmt.Sprintf("%d bytes", info.Size())
		}
		checks = append(checks, Check{Name: name, OK: true, Note: note})
	}
	dirCheck("volumes/ present", "volumes")
	dirCheck("bind-mounts/ present", "bind-mounts")
	dirCheck("compose-files/ present", "compose-files")
	dirCheck("manifests/ present", "manifests")
	optionalCheck("images.tar present", filepath.Join(backupRoot, "images.tar"))
	optionalCheck("certs/caddy-rootCA.crt present", filepath.Join(backupRoot, "certs", "caddy-rootCA.crt"))
	fileCheck("restore tool present", filepath.Join(payloadDir, "bundle", "restore-tool"))
	return checks
}

// manifestCrossChecks parses the inspect manifest and confirms every volume
// and allowed bind mount of the recorded containers has an archive.
func (i *Inspector) manifestCrossChecks(backupRoot string) ([]Check, error) {
	data, err := os.ReadFile(filepath.Join(backupRoot, "manifests", "containers.json"))
	if err != nil {
		return nil, err
	}
	var containers []manifestContainer
	if err := json.Unmarshal(data, &containers); err != nil {
		return nil, err
	}

	volArchives, err := archiveSet(filepath.Join(backupRoot, "volumes"))
	if err != nil {
		return nil, err
	}
	bindArchives, err := archiveSet(filepath.Join(backupRoot, "bind-mounts"))
	if err != nil {
		return nil, err
	}

	var checks []Check
	for _, ct := range containers {
		name := strings.TrimPrefix(ct.Name, "/")
		for _, m := range ct.Mounts {
			switch m.Type {
			case "volume":
				want := m.Name + ".tar.gz"
				checks = append(checks, Check{
					Name: fmt.Sprintf("%s: volume %s archived", name, m.Name),
					OK:   volArchives[want],
					Note: "volumes/" + want,
				})
			case "bind":
				if m.Source == "" || !backup.UnderAny(m.Source, i.cfg.AllowedPrefixes) {
					continue
				}
				want := pathenc.ArchiveName(m.Source)
				checks = append(checks, Check{
					Name: fmt.Sprintf("%s: bind %s archived", name, m.Source),
					OK:   bindArchives[want],
					Note: "bind-mounts/" + want,
				})
			}
		}
	}
	return checks, nil
}

func (i *Inspector) render(res *Result) {
	tw := tabwriter.NewWriter(i.out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tSTATUS\tDETAIL")
	for _, c := range res.Checks {
		status := "OK"
		if !c.OK {
			status = "MISSING"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, status, c.Note)
	}
	tw.Flush()
}

func archiveSet(dir string) (map[string]bool, error) {
	out := map[string]bool{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			out[e.Name()] = true
		}
	}
	return out, nil
}
