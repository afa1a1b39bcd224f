package engine

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const optionSelector = `[data-correct], [data-answer], input[type="radio"], input[type="checkbox"], [role="radio"], [role="option"], label, li, button, .option, [class*="option"]`

var (
	// confirmLabels are the only controls the solver will press, and only
	// inside the modal.
	confirmLabels = []string{"Submit & Continue", "Submit and Continue", "Submit", "Confirm", "Continue"}

	correctPhrase = regexp.MustCompile(`(?i)correct choice|correct answer|the correct one|right answer`)
	// correctWord matches "correct" not preceded by a letter, so "incorrect"
	// is skipped.
	correctWord = regexp.MustCompile(`(?i)(^|[^a-z])correct`)

	errNoConfirm = errors.New("content modal has no confirm control")
)

// ModalSolver selects the correct option in the content modal and confirms
// it with the modal's own control.
type ModalSolver struct {
	page   Page
	logger *zap.Logger
}

// NewModalSolver returns a solver over page.
func NewModalSolver(page Page, logger *zap.Logger) *ModalSolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModalSolver{page: page, logger: logger.Named("modal")}
}

// Solve reports whether a content modal was present. When it was, the
// chosen option (if any could be identified) has been clicked followed by
// the in-modal confirm control.
func (m *ModalSolver) Solve(ctx context.Context) (bool, error) {
	modal, ok, err := m.find(ctx)
	if err != nil || !ok {
		return false, err
	}

	if err := m.page.Scroll(ctx, modal.Ref); err != nil {
		m.logger.Debug("Scrolling the modal failed.", zap.Error(err))
	}

	options, err := m.page.Elements(ctx, Query{Selector: optionSelector, Within: modal.Ref})
	if err != nil {
		return true, capability("query modal options", err)
	}
	if opt, ok := pickOption(options); ok {
		m.logger.Debug("Selecting modal option.", zap.String("label", opt.Label()))
		if err := m.page.Click(ctx, opt.Ref); err != nil {
			return true, capability("click modal option", err)
		}
	} else {
		m.logger.Warn("No modal option identified as correct.")
	}

	controls, err := m.page.Elements(ctx, Query{Selector: controlSelector, Within: modal.Ref, VisibleOnly: true})
	if err != nil {
		return true, capability("query modal controls", err)
	}
	confirm, ok := findByLabel(controls, confirmLabels...)
	if !ok {
		return true, errNoConfirm
	}
	return true, capability("click modal confirm", m.page.Click(ctx, confirm.Ref))
}

// find returns the innermost visible content modal.
func (m *ModalSolver) find(ctx context.Context) (Element, bool, error) {
	overlays, err := findOverlays(ctx, m.page)
	if err != nil {
		return Element{}, false, err
	}
	for _, ov := range overlays {
		if ov.Verdict.Role == RoleContentModal {
			return ov.Element, true, nil
		}
	}
	return Element{}, false, nil
}

// pickOption chooses the option to click: an explicit correctness marker
// first, then option text, preferring the tightest element.
func pickOption(options []Element) (Element, bool) {
	var candidates []Element
	for _, el := range options {
		if isConfirmControl(el) {
			continue
		}
		candidates = append(candidates, el)
	}

	for _, el := range candidates {
		if hasCorrectMarker(el) {
			return el, true
		}
	}
	for _, re := range []*regexp.Regexp{correctPhrase, correctWord} {
		var best Element
		found := false
		for _, el := range candidates {
			label := el.Label()
			if !re.MatchString(label) {
				continue
			}
			if !found || len(label) < len(best.Label()) {
				best, found = el, true
			}
		}
		if found {
			return best, true
		}
	}
	return Element{}, false
}

func hasCorrectMarker(el Element) bool {
	if strings.EqualFold(el.Attr("data-correct"), "true") {
		return true
	}
	if strings.EqualFold(el.Attr("data-answer"), "correct") {
		return true
	}
	if el.Tag == "input" {
		v := strings.ToLower(el.Attr("value"))
		return strings.Contains(v, "correct") && !strings.Contains(v, "incorrect")
	}
	return false
}

func isConfirmControl(el Element) bool {
	for _, l := range confirmLabels {
		if labelMatches(el.Label(), l) {
			return true
		}
	}
	return false
}
