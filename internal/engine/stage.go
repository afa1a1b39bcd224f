package engine

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// TotalStages is the length of the standard challenge.
const TotalStages = 30

var (
	stageIndicator = regexp.MustCompile(`(?i)\bStep\s+(\d+)\s+of\s+(\d+)\b`)
	firstNumber    = regexp.MustCompile(`\d+`)
	completionText = regexp.MustCompile(`(?i)(congratulations|challenge complete|all (30 )?steps (are )?complete|you (have )?completed)`)
)

// ParseStageIndicator extracts N from "Step N of M" text.
func ParseStageIndicator(text string, total int) (int, bool) {
	m := stageIndicator.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > total {
		return 0, false
	}
	return n, true
}

// StageReader reads the page's own stage indicator.
type StageReader struct {
	page  Page
	total int
}

// NewStageReader returns a reader for a challenge of total stages.
func NewStageReader(page Page, total int) *StageReader {
	return &StageReader{page: page, total: total}
}

// Current returns the stage the page reports. It tries the visible "Step N of
// M" text, then a [data-step] attribute, then an aria-label mentioning the
// step. ok is false when no indicator exists (landing or completion screen).
func (r *StageReader) Current(ctx context.Context) (int, bool, error) {
	text, err := r.page.BodyText(ctx)
	if err != nil {
		return 0, false, capability("read body text", err)
	}
	if n, ok := ParseStageIndicator(text, r.total); ok {
		return n, true, nil
	}

	els, err := r.page.Elements(ctx, Query{Selector: "[data-step]"})
	if err != nil {
		return 0, false, capability("query data-step", err)
	}
	for _, el := range els {
		if n, err := strconv.Atoi(strings.TrimSpace(el.Attr("data-step"))); err == nil && n >= 1 && n <= r.total {
			return n, true, nil
		}
	}

	els, err = r.page.Elements(ctx, Query{Selector: "[aria-label]"})
	if err != nil {
		return 0, false, capability("query aria-label", err)
	}
	for _, el := range els {
		label := el.Attr("aria-label")
		if !strings.Contains(strings.ToLower(label), "step") {
			continue
		}
		if n, err := strconv.Atoi(firstNumber.FindString(label)); err == nil && n >= 1 && n <= r.total {
			return n, true, nil
		}
	}
	return 0, false, nil
}

// Completed reports whether the page shows the end-of-challenge banner.
func (r *StageReader) Completed(ctx context.Context) (bool, error) {
	text, err := r.page.BodyText(ctx)
	if err != nil {
		return false, capability("read body text", err)
	}
	return completionText.MatchString(text), nil
}

// Observation is what StageTracker did with a page report.
type Observation int

const (
	// ObservedStale: the report is at or slightly behind expected and was ignored.
	ObservedStale Observation = iota
	// ObservedAhead: the page is ahead and its value was adopted.
	ObservedAhead
	// ObservedRegressed: the page is far behind; expected was reset down to it.
	ObservedRegressed
)

func (o Observation) String() string {
	switch o {
	case ObservedAhead:
		return "ahead"
	case ObservedRegressed:
		return "regressed"
	default:
		return "stale"
	}
}

// StageTracker owns expected_stage. It only moves down through the
// regression guard.
type StageTracker struct {
	expected  int
	tolerance int
}

// NewStageTracker starts at stage start with the given regression tolerance.
func NewStageTracker(start, tolerance int) *StageTracker {
	if start < 1 {
		start = 1
	}
	return &StageTracker{expected: start, tolerance: tolerance}
}

// Expected is the stage currently targeted.
func (t *StageTracker) Expected() int { return t.expected }

// Observe folds a page report into the tracker. Reports ahead of expected are
// adopted verbatim, including skips. Reports more than tolerance behind reset
// expected downward. Everything else is stale.
func (t *StageTracker) Observe(page int) Observation {
	switch {
	case page > t.expected:
		t.expected = page
		return ObservedAhead
	case t.expected-page > t.tolerance:
		t.expected = page
		return ObservedRegressed
	default:
		return ObservedStale
	}
}

// Advance moves expected forward to stage after a confirmed advance.
// Lower values are ignored.
func (t *StageTracker) Advance(stage int) {
	if stage > t.expected {
		t.expected = stage
	}
}
