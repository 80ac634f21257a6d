package orchestrator

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/k8ika0s/crossbuild/internal/history"
	"github.com/k8ika0s/crossbuild/internal/invoker"
	"github.com/k8ika0s/crossbuild/internal/packager"
	"github.com/k8ika0s/crossbuild/internal/publish"
)

// Run outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
)

// CellReport is one row of the status table.
type CellReport struct {
	Cell        string             `json:"cell"`
	Variant     string             `json:"variant"`
	Triplet     string             `json:"triplet"`
	Preset      string             `json:"preset,omitempty"`
	Status      string             `json:"status"`
	Summary     string             `json:"summary,omitempty"`
	ExitCode    int                `json:"exit_code,omitempty"`
	Fingerprint string             `json:"fingerprint,omitempty"`
	Artifacts   []invoker.Artifact `json:"artifacts,omitempty"`
	DurationMS  int64              `json:"duration_ms"`
}

// Report is produced for every run that got past configuration, whatever
// the cells did.
type Report struct {
	RunID      string              `json:"run_id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Outcome    string              `json:"outcome"`
	Cells      []CellReport        `json:"cells"`
	Package    *packager.Set       `json:"package,omitempty"`
	Archive    string              `json:"archive,omitempty"`
	Published  []publish.Published `json:"published,omitempty"`

	// Results keeps the full per-cell data in matrix order.
	Results []invoker.Result `json:"-"`
}

func newReport(runID string, started time.Time, results []invoker.Result) *Report {
	r := &Report{RunID: runID, StartedAt: started, Results: results}
	usable := 0
	for _, res := range results {
		if res.Status.Packageable() {
			usable++
		}
		r.Cells = append(r.Cells, CellReport{
			Cell:        res.Cell.ID(),
			Variant:     res.Cell.Variant.Name,
			Triplet:     res.Cell.Triplet.String(),
			Preset:      res.Cell.Preset,
			Status:      string(res.Status),
			Summary:     res.Summary(),
			ExitCode:    res.ExitCode,
			Fingerprint: res.Fingerprint,
			Artifacts:   res.Artifacts,
			DurationMS:  res.Duration.Milliseconds(),
		})
	}
	switch {
	case usable == len(results):
		r.Outcome = OutcomeSucceeded
	case usable == 0:
		r.Outcome = OutcomeFailed
	default:
		r.Outcome = OutcomePartial
	}
	return r
}

// Failed reports whether any cell is not usable.
func (r *Report) Failed() bool { return r.Outcome != OutcomeSucceeded }

// Counts tallies cells per status.
func (r *Report) Counts() map[string]int {
	out := map[string]int{}
	for _, c := range r.Cells {
		out[c.Status]++
	}
	return out
}

// WriteTable prints the status table, one row per cell in matrix order.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CELL\tSTATUS\tDURATION\tSUMMARY")
	for _, c := range r.Cells {
		d := (time.Duration(c.DurationMS) * time.Millisecond).Round(time.Millisecond)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Cell, c.Status, d, c.Summary)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "run %s: %s\n", r.RunID, r.Outcome)
	return err
}

func (r *Report) historyRun() history.Run {
	run := history.Run{ID: r.RunID, StartedAt: r.StartedAt, FinishedAt: r.FinishedAt, Outcome: r.Outcome}
	for _, c := range r.Cells {
		run.Cells = append(run.Cells, history.Cell{
			Cell:        c.Cell,
			Variant:     c.Variant,
			Triplet:     c.Triplet,
			Status:      c.Status,
			Fingerprint: c.Fingerprint,
			Summary:     c.Summary,
			DurationMS:  c.DurationMS,
		})
	}
	return run
}
