package engine

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// ErrNoCodeInput means no text input that could take a code was found.
var ErrNoCodeInput = errors.New("code input not found")

// pageSubmitLabels are page-level fallbacks when the code section has no
// submit control of its own.
var pageSubmitLabels = []string{"Submit Code", "Submit", "Proceed", "Go"}

// CodeEntry is the located code entry area. Section and Submit are nil when
// the page has no recognizable code section.
type CodeEntry struct {
	Section *Element
	Input   Element
	Submit  *Element
}

// Submitter locates the code input and submits codes through it.
type Submitter struct {
	page   Page
	logger *zap.Logger
}

// NewSubmitter returns a submitter over page.
func NewSubmitter(page Page, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{page: page, logger: logger.Named("submit")}
}

// Locate finds the code entry. It prefers an input inside the section that
// owns the "Submit Code" control, then any input whose attributes mention a
// code.
func (s *Submitter) Locate(ctx context.Context) (CodeEntry, error) {
	section, submit, err := smallestContaining(ctx, s.page, codeSectionText, submitCodeLabel)
	if err != nil {
		return CodeEntry{}, err
	}

	if section != nil {
		inputs, err := s.page.Elements(ctx, Query{Selector: inputSelector, Within: section.Ref, VisibleOnly: true})
		if err != nil {
			return CodeEntry{}, capability("query section inputs", err)
		}
		if in, ok := pickCodeInput(inputs); ok {
			return CodeEntry{Section: section, Input: in, Submit: submit}, nil
		}
	}

	inputs, err := s.page.Elements(ctx, Query{Selector: inputSelector, VisibleOnly: true})
	if err != nil {
		return CodeEntry{}, capability("query inputs", err)
	}
	for _, in := range inputs {
		if isCodeInput(in) {
			return CodeEntry{Section: section, Input: in, Submit: submit}, nil
		}
	}
	return CodeEntry{Section: section, Submit: submit}, ErrNoCodeInput
}

// pickCodeInput prefers an input that names a code, then any text entry.
func pickCodeInput(inputs []Element) (Element, bool) {
	for _, in := range inputs {
		if isCodeInput(in) {
			return in, true
		}
	}
	for _, in := range inputs {
		if isTextEntry(in) {
			return in, true
		}
	}
	return Element{}, false
}

// Submit fills code into the code input and presses the section's submit
// control. Without one it presses Enter, and only if the input still holds
// the code afterwards clicks a page-level submit button that is not a decoy.
func (s *Submitter) Submit(ctx context.Context, code string) error {
	entry, err := s.Locate(ctx)
	if err != nil {
		return err
	}
	if err := s.page.Fill(ctx, entry.Input.Ref, code); err != nil {
		return capability("fill code", err)
	}

	if entry.Submit != nil {
		s.logger.Debug("Submitting through section control.")
		return capability("click submit", s.page.Click(ctx, entry.Submit.Ref))
	}

	s.logger.Debug("Submitting with Enter.")
	if err := s.page.PressKey(ctx, KeyEnter); err != nil {
		return capability("press enter", err)
	}
	if !s.pending(ctx, entry.Input.Ref, code) {
		return nil
	}

	controls, err := s.page.Elements(ctx, Query{Selector: controlSelector, VisibleOnly: true})
	if err != nil {
		return capability("query controls", err)
	}
	var candidates []Element
	for _, el := range controls {
		if !isDecoyButton(el.Label()) {
			candidates = append(candidates, el)
		}
	}
	if el, ok := findByLabel(candidates, pageSubmitLabels...); ok {
		s.logger.Debug("Enter was not taken; submitting through page control.", zap.String("label", el.Label()))
		return capability("click submit", s.page.Click(ctx, el.Ref))
	}
	return nil
}

// pending reports whether the input at ref is still on the page holding code.
func (s *Submitter) pending(ctx context.Context, ref, code string) bool {
	entry, err := s.Locate(ctx)
	if err != nil {
		return false
	}
	return entry.Input.Ref == ref && strings.TrimSpace(entry.Input.Value) == code
}
