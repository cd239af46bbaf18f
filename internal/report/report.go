// Package report aggregates task outcomes into the per-run report and
// renders the local summary.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/SamHausmann/pymatrix/internal/runtimes"
	"github.com/SamHausmann/pymatrix/internal/sandbox"
)

// Verdict is the overall result of a run.
type Verdict string

const (
	// Passed means every outcome either passed or was skipped for an
	// unavailable runtime.
	Passed Verdict = "passed"
	// Failed means at least one outcome failed or errored.
	Failed Verdict = "failed"
)

// Row groups one runtime's two check outcomes side by side.
type Row struct {
	Runtime   string          `json:"runtime"`
	Version   string          `json:"version"`
	Impl      runtimes.Impl   `json:"implementation"`
	Available bool            `json:"available"`
	Style     sandbox.Outcome `json:"style"`
	Test      sandbox.Outcome `json:"test"`
}

// Report is the aggregated, immutable summary of one run. The ID is
// the correlation identifier the collector uses to deduplicate
// redelivered reports.
type Report struct {
	ID          string    `json:"id"`
	User        string    `json:"user"`
	Label       string    `json:"label"`
	Verdict     Verdict   `json:"verdict"`
	Rows        []Row     `json:"rows"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Aggregate builds the report from the outcome set. It is a pure
// function of its inputs: outcomes are keyed by runtime identity and
// check kind, so arrival order never affects the result.
//
// Every configured runtime must have exactly one outcome per check
// kind; anything else is an internal invariant violation and returns
// an error rather than a partial report.
func Aggregate(id, user, label string, specs []runtimes.Spec, outcomes []sandbox.Outcome) (*Report, error) {
	keyed := make(map[string]sandbox.Outcome, len(outcomes))
	for _, o := range outcomes {
		key := o.Runtime + "/" + string(o.Kind)
		if _, dup := keyed[key]; dup {
			return nil, fmt.Errorf("duplicate outcome for %s", key)
		}
		keyed[key] = o
	}

	ordered := make([]runtimes.Spec, len(specs))
	copy(ordered, specs)
	runtimes.Sort(ordered)

	rep := &Report{
		ID:          id,
		User:        user,
		Label:       label,
		Verdict:     Passed,
		Rows:        make([]Row, 0, len(ordered)),
		GeneratedAt: time.Now().UTC(),
	}

	for _, s := range ordered {
		row := Row{Runtime: s.ID(), Version: s.Version, Impl: s.Impl, Available: s.Available}
		for _, kind := range sandbox.Kinds() {
			o, ok := keyed[s.ID()+"/"+string(kind)]
			if !ok {
				return nil, fmt.Errorf("missing %s outcome for runtime %s", kind, s.ID())
			}
			delete(keyed, s.ID()+"/"+string(kind))
			switch kind {
			case sandbox.StyleCheck:
				row.Style = o
			case sandbox.TestSuite:
				row.Test = o
			}
			if o.Status != sandbox.Passed && o.Status != sandbox.SkippedUnavailable {
				rep.Verdict = Failed
			}
		}
		rep.Rows = append(rep.Rows, row)
	}

	if len(keyed) > 0 {
		extra := make([]string, 0, len(keyed))
		for key := range keyed {
			extra = append(extra, key)
		}
		sort.Strings(extra)
		return nil, fmt.Errorf("outcomes for unknown runtimes: %s", strings.Join(extra, ", "))
	}

	return rep, nil
}

// HasFailures reports whether any check ran and failed.
func (r *Report) HasFailures() bool {
	for _, row := range r.Rows {
		if row.Style.Status == sandbox.Failed || row.Test.Status == sandbox.Failed {
			return true
		}
	}
	return false
}

// HasInfraErrors reports whether any task errored for infrastructure
// reasons (launch failure, timeout, cancellation).
func (r *Report) HasInfraErrors() bool {
	for _, row := range r.Rows {
		if row.Style.Status == sandbox.ErroredInfrastructure || row.Test.Status == sandbox.ErroredInfrastructure {
			return true
		}
	}
	return false
}

var (
	okLabel      = color.New(color.FgGreen).Sprint("ok")
	failLabel    = color.New(color.FgRed).Sprint("FAIL")
	errorLabel   = color.New(color.FgRed).Sprint("ERROR")
	skippedLabel = color.New(color.FgYellow).Sprint("skipped")
)

func statusLabel(s sandbox.Status) string {
	switch s {
	case sandbox.Passed:
		return okLabel
	case sandbox.Failed:
		return failLabel
	case sandbox.SkippedUnavailable:
		return skippedLabel
	default:
		return errorLabel
	}
}

// Summary renders the human-readable per-runtime table that is always
// printed locally, whatever happens to remote delivery.
func (r *Report) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%-14s %-10s %-10s %s\n", "RUNTIME", "VERSION", "STYLE", "TESTS")
	for _, row := range r.Rows {
		fmt.Fprintf(&b, "%-14s %-10s %-10s %s\n",
			row.Runtime, row.Version, statusLabel(row.Style.Status), statusLabel(row.Test.Status))
	}
	fmt.Fprintln(&b)

	verdict := okLabel
	if r.Verdict == Failed {
		verdict = failLabel
	}
	fmt.Fprintf(&b, "overall: %s (run %s)\n", verdict, r.ID)
	return b.String()
}
