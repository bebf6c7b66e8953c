// Package artifacts persists the durable record of each execution run:
// the plan snapshot, the per-item decisions, and the final run summary,
// one directory per run. Files appear atomically, so a reader polling a
// run that is still executing sees files as absent, never half-written.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ribera-group/coordina-cli/internal/model"
)

const (
	planSnapshotFile = "plan.json"
	decisionsFile    = "decisions.json"
	runSummaryFile   = "run_summary.json"
)

// Dir is a run-artifact tree rooted at one base directory.
type Dir struct {
	base string
}

func NewDir(base string) *Dir {
	return &Dir{base: base}
}

// RunPath returns the directory holding one run's artifacts.
func (d *Dir) RunPath(runID string) string {
	return filepath.Join(d.base, runID)
}

// WritePlanSnapshot records the plan a run was accepted with.
func (d *Dir) WritePlanSnapshot(runID string, plan *model.SubmissionPlan) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	return d.writeJSON(runID, planSnapshotFile, plan, false)
}

// WriteDecisions records the per-item decisions of a run's plan.
func (d *Dir) WriteDecisions(runID string, decisions []model.Decision) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	return d.writeJSON(runID, decisionsFile, decisions, false)
}

// WriteRunSummary records the terminal outcome of a run. Each run is
// summarized exactly once; a second write for the same run reports
// RunAlreadySummarized and leaves the original record untouched.
func (d *Dir) WriteRunSummary(summary *model.RunSummary) error {
	if err := validRunID(summary.RunID); err != nil {
		return err
	}
	return d.writeJSON(summary.RunID, runSummaryFile, summary, true)
}

// ReadPlanSnapshot loads the plan a run was accepted with.
func (d *Dir) ReadPlanSnapshot(runID string) (*model.SubmissionPlan, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	var plan model.SubmissionPlan
	if err := d.readJSON(runID, planSnapshotFile, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ReadRunSummary loads a run's terminal record.
func (d *Dir) ReadRunSummary(runID string) (*model.RunSummary, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	var summary model.RunSummary
	if err := d.readJSON(runID, runSummaryFile, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListRunSummaries returns summarized runs, newest first. Runs whose
// summary is not yet on disk (still executing) are skipped. An empty
// platform matches all platforms.
func (d *Dir) ListRunSummaries(platform string, limit int) ([]model.RunSummary, error) {
	entries, err := os.ReadDir(d.base)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "artifacts: read base dir")
	}

	var summaries []model.RunSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var summary model.RunSummary
		if err := d.readJSON(entry.Name(), runSummaryFile, &summary); err != nil {
			if os.IsNotExist(eris.Cause(err)) {
				continue
			}
			return nil, err
		}
		if platform != "" && summary.Platform != platform {
			continue
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (d *Dir) writeJSON(runID, name string, v any, once bool) error {
	dir := d.RunPath(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "artifacts: create run dir %s", runID)
	}

	final := filepath.Join(dir, name)
	if once {
		if _, err := os.Lstat(final); err == nil {
			return alreadySummarized(runID)
		}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "artifacts: marshal %s", name)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, name+"-*.tmp")
	if err != nil {
		return eris.Wrapf(err, "artifacts: create temp for %s", name)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "artifacts: write temp for %s", name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "artifacts: close temp for %s", name)
	}

	if once {
		// Hard link publishes the finished temp file only if nothing
		// claimed the name first, which keeps the first summary intact
		// under concurrent completion attempts.
		err = os.Link(tmp.Name(), final)
		os.Remove(tmp.Name())
		if os.IsExist(err) {
			return alreadySummarized(runID)
		}
		if err != nil {
			return eris.Wrapf(err, "artifacts: publish %s", name)
		}
		return nil
	}

	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "artifacts: publish %s", name)
	}
	return nil
}

func (d *Dir) readJSON(runID, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(d.RunPath(runID), name))
	if err != nil {
		return eris.Wrapf(err, "artifacts: read %s for run %s", name, runID)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "artifacts: parse %s for run %s", name, runID)
	}
	return nil
}

func alreadySummarized(runID string) error {
	return model.NewStructured(model.CodeRunAlreadySummarized,
		fmt.Sprintf("run %s already has a summary", runID))
}

func validRunID(runID string) error {
	if strings.TrimSpace(runID) == "" {
		return eris.New("artifacts: empty run id")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return eris.Errorf("artifacts: invalid run id %q", runID)
	}
	return nil
}

// PruneOlderThan removes artifact directories whose summary is older
// than the retention window. Unsummarized runs are kept.
func (d *Dir) PruneOlderThan(retention time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(d.base)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "artifacts: read base dir")
	}

	cutoff := now.Add(-retention)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var summary model.RunSummary
		if err := d.readJSON(entry.Name(), runSummaryFile, &summary); err != nil {
			continue
		}
		if summary.CreatedAt.Before(cutoff) {
			if err := os.RemoveAll(d.RunPath(entry.Name())); err != nil {
				return removed, eris.Wrapf(err, "artifacts: prune run %s", entry.Name())
			}
			removed++
		}
	}
	return removed, nil
}
