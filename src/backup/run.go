package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"homelab-backup/src/config"
	"homelab-backup/src/dockerapi"
)

// Step outcome states.
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusTolerated = "tolerated"
	StatusSkipped   = "skipped"
)

// StepResult records one collection step's outcome.
type StepResult struct {
	Name   string
	Status string
	Err    error
	Detail string
}

// Report aggregates a backup run: where it wrote, what each step did, and
// what rotation pruned.
type Report struct {
	Dir     string
	Steps   []StepResult
	Pruned  []string
	Latest  bool // whether the LATEST pointer was updated
	Elapsed time.Duration
}

// OK reports whether every unguarded step succeeded.
func (r *Report) OK() bool {
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			return false
		}
	}
	return true
}

// Failed returns the unguarded failures.
func (r *Report) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			out = append(out, s)
		}
	}
	return out
}

// Render writes the end-of-run summary table.
func (r *Report) Render(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tDETAIL")
	for _, s := range r.Steps {
		detail := s.Detail
		if s.Err != nil {
			detail = s.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.Status, detail)
	}
	_ = tw.Flush()
}

// Runner drives one backup run: collectors against a fresh timestamped
// directory, then pointer finalization and retention rotation.
type Runner struct {
	cfg    config.Config
	client dockerapi.Client
	log    zerolog.Logger
	out    io.Writer

	// FailFast aborts on the first unguarded step failure instead of
	// collecting failures into the report.
	FailFast bool
	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func NewRunner(cfg config.Config, client dockerapi.Client, log zerolog.Logger, out io.Writer) *Runner {
	return &Runner{
		cfg:    cfg,
		client: client,
		log:    log.With().Str("component", "backup").Logger(),
		out:    out,
		Now:    time.Now,
	}
}

type step struct {
	name    string
	guarded bool // failures tolerated, never fail the run
	fn      func(ctx context.Context, dir string) (string, error)
}

// errStepSkipped is returned by a step func that had nothing to do; the
// runner records the step as skipped rather than failed.
var errStepSkipped = errors.New("step skipped")

// Run executes the full pipeline. The returned report is non-nil whenever a
// backup directory was created, even on failure; partial directories are
// left in place for inspection.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if err := r.client.Ping(ctx); err != nil {
		return nil, err
	}
	start := r.Now()
	dir := filepath.Join(r.cfg.Root, start.Format(TimestampFormat))
	for _, sub := range []string{"volumes", "manifests", "certs", "bind-mounts", "compose-files"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create backup directory: %w", err)
		}
	}
	fmt.Fprintf(r.out, "Backing up to %s\n", dir)

	report := &Report{Dir: dir}
	steps := []step{
		{name: "volumes", fn: r.archiveVolumes},
		{name: "bind-mounts", fn: r.archiveBindMounts},
		{name: "compose-files", fn: r.collectComposeFiles},
		{name: "images", guarded: true, fn: r.snapshotImages},
		{name: "manifests", guarded: true, fn: r.writeManifests},
		{name: "certs", guarded: true, fn: r.collectCert},
	}
	for _, s := range steps {
		fmt.Fprintf(r.out, "==> %s\n", s.name)
		detail, err := s.fn(ctx, dir)
		res := StepResult{Name: s.name, Status: StatusOK, Detail: detail}
		switch {
		case errors.Is(err, errStepSkipped):
			res.Status = StatusSkipped
		case err != nil && s.guarded:
			res.Status, res.Err = StatusTolerated, err
			r.log.Warn().Err(err).Str("step", s.name).Msg("step failed; continuing")
		case err != nil:
			res.Status, res.Err = StatusFailed, err
			r.log.Error().Err(err).Str("step", s.name).Msg("step failed")
		}
		report.Steps = append(report.Steps, res)
		if res.Status == StatusFailed && r.FailFast {
			report.Elapsed = r.Now().Sub(start)
			return report, fmt.Errorf("step %s: %w", s.name, err)
		}
	}
	report.Elapsed = r.Now().Sub(start)

	if !r.OKToFinalize(report) {
		return report, fmt.Errorf("%d step(s) failed; LATEST not updated", len(report.Failed()))
	}
	if err := Finalize(r.cfg.Root, dir); err != nil {
		return report, fmt.Errorf("update %s: %w", LatestFile, err)
	}
	report.Latest = true
	pruned, err := Rotate(r.cfg.Root, r.cfg.Keep)
	if err != nil {
		return report, err
	}
	report.Pruned = pruned
	for _, p := range pruned {
		fmt.Fprintf(r.out, "Pruned old backup %s\n", p)
	}
	return report, nil
}

// OKToFinalize gates the LATEST write: an incomplete run must never become
// observable as the latest backup.
func (r *Runner) OKToFinalize(report *Report) bool { return report.OK() }
