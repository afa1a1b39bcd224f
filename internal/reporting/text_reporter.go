// internal/reporting/text_reporter.go
package reporting

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

// TextReporter prints a per-stage table for each run as it is written.
type TextReporter struct {
	writer io.WriteCloser
	mu     sync.Mutex
	runs   []*engine.RunReport
}

func NewTextReporter(w io.WriteCloser) *TextReporter {
	return &TextReporter{writer: w}
}

func (r *TextReporter) Write(report *engine.RunReport) error {
	if report == nil {
		return errors.New("nil report")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, report)
	return writeRun(r.writer, report)
}

// Close prints the summary when more than one run was written.
func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.runs) > 1 {
		s := Summarize(r.runs)
		fmt.Fprintf(r.writer, "\n%d runs, %d completed, best %d solved, furthest stage %d\n",
			s.Runs, s.Completed, s.BestSolved, s.FurthestStage)
	}
	return r.writer.Close()
}

func writeRun(w io.Writer, rep *engine.RunReport) error {
	status := "incomplete"
	switch {
	case rep.Completed:
		status = "completed"
	case rep.TimedOut:
		status = "timed out"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run %s", rep.RunID)
	if rep.Iteration > 0 {
		fmt.Fprintf(&b, " (iteration %d)", rep.Iteration)
	}
	fmt.Fprintf(&b, ": %s, %d/%d solved in %s\n", status, rep.Solved, rep.TotalStages, rep.Elapsed.Round(time.Millisecond))
	if rep.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", rep.Error)
	}

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tRESULT\tSOURCE\tRETRIES\tCODE\tELAPSED\tNOTE")
	for _, s := range rep.Stages {
		result := "ok"
		if !s.Success {
			result = "FAIL"
		}
		note := s.FailureReason
		if s.Escalated {
			note = strings.TrimSpace("escalated " + note)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			s.Stage, result, s.Source, s.Retries, s.CodeRedacted, s.Elapsed.Round(time.Millisecond), note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if counts := rep.SourceCounts(); len(counts) > 0 {
		srcs := make([]engine.Source, 0, len(counts))
		for src := range counts {
			srcs = append(srcs, src)
		}
		sort.Slice(srcs, func(i, j int) bool { return srcs[i] < srcs[j] })
		parts := make([]string, 0, len(srcs))
		for _, src := range srcs {
			parts = append(parts, fmt.Sprintf("%s=%d", src, counts[src]))
		}
		fmt.Fprintf(&b, "Sources: %s\n", strings.Join(parts, " "))
	}
	if u := rep.TokenUsage; u != nil && u.Calls > 0 {
		fmt.Fprintf(&b, "Escalation: %d calls, %d tokens, ~$%.4f\n", u.Calls, u.TotalTokens, u.CostUSD)
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}
