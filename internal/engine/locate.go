package engine

import (
	"context"
	"regexp"
	"strings"
)

// Selectors shared by the components that look for controls and containers.
const (
	controlSelector   = `button, a, [role="button"], input[type="button"], input[type="submit"]`
	containerSelector = `div, section, form, article, aside, main`
	inputSelector     = `input, textarea`
	overlaySelector   = `[role="dialog"], [role="alertdialog"], [aria-modal="true"], .modal, [class*="modal"], [class*="popup"], [class*="overlay"], [class*="cookie"], [class*="banner"]`
)

var (
	// decoyButtonLabel matches page-level buttons planted next to the real
	// controls.
	decoyButtonLabel = regexp.MustCompile(`(?i)^(here!|button!|try this!|click me!|continue reading|link!)$`)
	codeSectionText  = regexp.MustCompile(`(?i)enter code to proceed|proceed to step|enter (the )?code`)
	submitCodeLabel  = regexp.MustCompile(`(?i)^submit\s*code$`)
)

// isDecoyButton reports whether a control label is one of the planted decoys.
func isDecoyButton(label string) bool {
	return decoyButtonLabel.MatchString(strings.TrimSpace(label))
}

// isCodeInput reports whether an input's identifying attributes mention
// "code" and it is not a search, email, hidden or password field.
func isCodeInput(el Element) bool {
	if !isTextEntry(el) {
		return false
	}
	for _, attr := range []string{"placeholder", "name", "id", "aria-label"} {
		if strings.Contains(strings.ToLower(el.Attr(attr)), "code") {
			return true
		}
	}
	return false
}

// isTextEntry reports whether el accepts typed text and is not one of the
// input kinds that never hold a code.
func isTextEntry(el Element) bool {
	if el.Tag == "textarea" {
		return true
	}
	if el.Tag != "input" {
		return false
	}
	switch strings.ToLower(el.Attr("type")) {
	case "", "text", "tel", "number":
	default:
		return false
	}
	for _, attr := range []string{"name", "id", "placeholder", "aria-label"} {
		v := strings.ToLower(el.Attr(attr))
		if strings.Contains(v, "search") || strings.Contains(v, "email") {
			return false
		}
	}
	return true
}

// smallestContaining finds the innermost container matching textRe that also
// holds a control whose label matches labelRe. It returns the container and
// that control.
func smallestContaining(ctx context.Context, page Page, textRe, labelRe *regexp.Regexp) (*Element, *Element, error) {
	containers, err := page.Elements(ctx, Query{Selector: containerSelector, VisibleOnly: true})
	if err != nil {
		return nil, nil, capability("query containers", err)
	}

	var best, bestControl *Element
	for i := range containers {
		c := containers[i]
		if !textRe.MatchString(c.Text) {
			continue
		}
		if best != nil && len(c.Text) >= len(best.Text) {
			continue
		}
		controls, err := page.Elements(ctx, Query{Selector: controlSelector, Within: c.Ref, VisibleOnly: true})
		if err != nil {
			return nil, nil, capability("query section controls", err)
		}
		for j := range controls {
			if labelRe.MatchString(strings.TrimSpace(controls[j].Label())) {
				best, bestControl = &c, &controls[j]
				break
			}
		}
	}
	return best, bestControl, nil
}

// findByLabel returns the first element whose label equals one of labels,
// honoring the order of labels.
func findByLabel(els []Element, labels ...string) (Element, bool) {
	for _, want := range labels {
		for _, el := range els {
			if labelMatches(el.Label(), want) {
				return el, true
			}
		}
	}
	return Element{}, false
}

// refSet collects the refs of els.
func refSet(els []Element) map[string]bool {
	out := make(map[string]bool, len(els))
	for _, el := range els {
		out[el.Ref] = true
	}
	return out
}
