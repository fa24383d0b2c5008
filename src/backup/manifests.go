package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeManifests emits the observational snapshots: what was running, which
// images/networks/volumes existed. Purely diagnostic; every individual
// failure is logged and swallowed so the backup itself never fails here.
func (r *Runner) writeManifests(ctx context.Context, dir string) (string, error) {
	manDir := filepath.Join(dir, "manifests")
	written := 0

	containers, err := r.client.ListRunningContainers(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("container listing unavailable for manifests")
	} else {
		var tsv bytes.Buffer
		for _, ct := range containers {
			fmt.Fprintf(&tsv, "%s\t%s\n", ct.Name, ct.Image)
		}
		if r.writeManifest(filepath.Join(manDir, "containers.tsv"), tsv.Bytes()) {
			written++
		}

		var raws []json.RawMessage
		for _, ct := range containers {
			raw, err := r.client.InspectContainerRaw(ctx, ct.ID)
			if err != nil {
				r.log.Warn().Err(err).Str("container", ct.Name).Msg("inspect failed")
				continue
			}
			raws = append(raws, raw)
		}
		if dump, err := json.MarshalIndent(raws, "", "  "); err == nil {
			if r.writeManifest(filepath.Join(manDir, "containers.json"), dump) {
				written++
			}
		}
	}

	for _, m := range []struct {
		file string
		list func(context.Context) ([]string, error)
	}{
		{"images.txt", r.client.ListImages},
		{"networks.txt", r.client.ListNetworks},
		{"volumes.txt", r.client.ListVolumes},
	} {
		names, err := m.list(ctx)
		if err != nil {
			r.log.Warn().Err(err).Str("manifest", m.file).Msg("listing failed")
			continue
		}
		var buf bytes.Buffer
		for _, n := range names {
			fmt.Fprintln(&buf, n)
		}
		if r.writeManifest(filepath.Join(manDir, m.file), buf.Bytes()) {
			written++
		}
	}
	return fmt.Sprintf("%d manifests", written), nil
}

func (r *Runner) writeManifest(path string, data []byte) bool {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.log.Warn().Err(err).Str("manifest", filepath.Base(path)).Msg("write failed")
		return false
	}
	return true
}
