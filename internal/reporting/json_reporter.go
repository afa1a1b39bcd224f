// internal/reporting/json_reporter.go
package reporting

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Document is the results.json layout.
type Document struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Summary     Summary             `json:"summary"`
	Runs        []*engine.RunReport `json:"runs"`
}

// Summary aggregates every run in the document.
type Summary struct {
	Runs          int                   `json:"runs"`
	Completed     int                   `json:"completed"`
	BestSolved    int                   `json:"best_solved"`
	FurthestStage int                   `json:"furthest_stage"`
	Escalations   int                   `json:"escalations"`
	Sources       map[string]int        `json:"sources"`
	CostUSD       float64               `json:"cost_usd,omitempty"`
}

// Summarize folds reports into a Summary.
func Summarize(reports []*engine.RunReport) Summary {
	s := Summary{Sources: make(map[string]int)}
	for _, r := range reports {
		if r == nil {
			continue
		}
		s.Runs++
		if r.Completed {
			s.Completed++
		}
		s.BestSolved = max(s.BestSolved, r.Solved)
		s.FurthestStage = max(s.FurthestStage, r.FurthestStage)
		s.Escalations += r.Escalations
		for src, n := range r.SourceCounts() {
			s.Sources[src.String()] += n
		}
		if r.TokenUsage != nil {
			s.CostUSD += r.TokenUsage.CostUSD
		}
	}
	return s
}

// JSONReporter buffers runs and writes one document on Close.
// It is safe for concurrent use.
type JSONReporter struct {
	writer io.WriteCloser
	mu     sync.Mutex
	runs   []*engine.RunReport
	closed bool
	now    func() time.Time
}

func NewJSONReporter(w io.WriteCloser) *JSONReporter {
	return &JSONReporter{writer: w, now: time.Now}
}

func (r *JSONReporter) Write(report *engine.RunReport) error {
	if report == nil {
		return errors.New("nil report")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("reporter is closed")
	}
	r.runs = append(r.runs, report)
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	doc := Document{
		GeneratedAt: r.now().UTC(),
		Summary:     Summarize(r.runs),
		Runs:        r.runs,
	}
	if doc.Runs == nil {
		doc.Runs = []*engine.RunReport{}
	}

	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	encErr := enc.Encode(doc)
	closeErr := r.writer.Close()
	if encErr != nil {
		return fmt.Errorf("failed to encode report: %w", encErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close report output: %w", closeErr)
	}
	return nil
}
