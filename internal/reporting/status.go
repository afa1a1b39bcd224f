// internal/reporting/status.go
package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

// StatusFileName is the live status file written next to the results.
const StatusFileName = "status.json"

// Status is the live view of a run in progress.
type Status struct {
	RunID       string                     `json:"run_id"`
	URL         string                     `json:"url"`
	Iteration   int                        `json:"iteration,omitempty"`
	StartedAt   time.Time                  `json:"started_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
	Stage       int                        `json:"stage"`
	Solved      int                        `json:"solved"`
	Failed      int                        `json:"failed"`
	TotalStages int                        `json:"total_stages"`
	Last        *engine.StageAttemptRecord `json:"last,omitempty"`
	Finished    bool                       `json:"finished"`
}

// StatusWriter rewrites the status file after every stage. Readers never see
// a partially written file.
type StatusWriter struct {
	path string
	now  func() time.Time

	mu     sync.Mutex
	status Status
}

// NewStatusWriter prepares a status file at path for one run. The run ID is
// filled in by Finish.
func NewStatusWriter(path, url string, iteration, totalStages int) *StatusWriter {
	now := time.Now
	return &StatusWriter{
		path: path,
		now:  now,
		status: Status{
			URL:         url,
			Iteration:   iteration,
			StartedAt:   now().UTC(),
			TotalStages: totalStages,
		},
	}
}

// Path returns the status file location.
func (w *StatusWriter) Path() string { return w.path }

// Record folds one stage outcome into the status and rewrites the file.
func (w *StatusWriter) Record(rec engine.StageAttemptRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if rec.Success {
		w.status.Solved++
		w.status.Stage = max(w.status.Stage, rec.AdvancedTo)
	} else {
		w.status.Failed++
		w.status.Stage = max(w.status.Stage, rec.Stage)
	}
	last := rec
	w.status.Last = &last
	return w.flush()
}

// Finish marks the run as over and writes the final counts from report.
func (w *StatusWriter) Finish(report *engine.RunReport) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.status.Finished = true
	if report != nil {
		w.status.RunID = report.RunID
		w.status.Solved = report.Solved
		w.status.Stage = report.FurthestStage
	}
	return w.flush()
}

// Snapshot returns a copy of the current status.
func (w *StatusWriter) Snapshot() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *StatusWriter) flush() error {
	w.status.UpdatedAt = w.now().UTC()
	data, err := json.MarshalIndent(w.status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".status-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp status file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close status file: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace status file: %w", err)
	}
	return nil
}
