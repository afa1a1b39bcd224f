package engine

import (
	"regexp"
	"strings"
)

// MinCodeLength is the shortest string accepted as a code.
const MinCodeLength = 6

// defaultDecoyWords are labels and filler the challenge sprinkles around the
// page in code-like positions. Matching is case-insensitive and exact.
var defaultDecoyWords = []string{
	// Navigation and call to action wording.
	"Proceed", "Continue", "Advance", "Forward", "Reading", "Section", "Challenge",
	"Browser", "Navigation", "Hidden", "Complete", "Click", "Reveal", "Submit",
	"Enter", "Next", "Move", "Going", "Journey", "Page", "Step", "Content", "Block",
	"Loaded", "Automation", "Ultimate", "Test", "Inspect", "Element", "attributes",
	"labels", "tags", "somewhere", "Hint", "Check", "Required", "optional",
	"character", "filler", "Keep", "scrolling", "find", "button", "Choose",
	"option", "Wrong", "Correct", "Choice", "Pick", "Option", "Select", "Your",
	"This", "That", "The", "And", "For", "With", "From", "Have", "Will", "Would",
	"Scroll", "appeared", "revealed", "clicked", "loaded", "failed", "passed",
	"before", "after", "inside", "outside", "within", "without", "below", "above",
	"between", "during", "number", "string", "source", "target", "window",
	"screen", "element", "parent", "child", "sibling", "length", "height", "width",
	// Generic UI chrome.
	"Accept", "Cancel", "Close", "Dismiss", "Confirm", "Loading", "Settings",
	"Cookies", "Cookie", "Newsletter", "Subscribe", "Download", "Success",
	"Congratulations", "Message", "Notice", "Warning", "Important", "Popup",
	"Overlay", "Modal", "Dialog", "Banner", "Sidebar", "Header", "Footer",
	"Details", "Display", "Refresh", "Previous", "Back", "Finish", "Solution",
	"Answer", "Access", "Unlock", "Secret", "Password", "Please", "Thanks",
	"Proceed-to-step", "Submit-code", "Try-again",
}

var (
	codeCharset = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	allDigits   = regexp.MustCompile(`^[0-9]+$`)
	// Magnitudes with a CSS or timing unit ("1500ms", "120px", "2-5rem").
	unitMagnitude = regexp.MustCompile(`(?i)^[0-9][0-9_-]*(px|em|rem|ms|s|vh|vw|pt|deg|fr|dpi)$`)
	// Identifiers in CSS or DOM casing that happen to be long enough.
	chromeIdentifier = regexp.MustCompile(`(?i)^(btn|button|modal|popup|overlay|dialog|close|submit|input|section|container|wrapper|step|code)[_-][a-z_-]*$`)
)

// DecoyVocabulary is the case-insensitive set of known distractor strings.
type DecoyVocabulary struct {
	words map[string]struct{}
}

// NewDecoyVocabulary builds a vocabulary from the built-in list plus extra.
func NewDecoyVocabulary(extra ...string) DecoyVocabulary {
	v := DecoyVocabulary{words: make(map[string]struct{}, len(defaultDecoyWords)+len(extra))}
	for _, w := range defaultDecoyWords {
		v.words[strings.ToLower(w)] = struct{}{}
	}
	for _, w := range extra {
		if w = strings.TrimSpace(w); w != "" {
			v.words[strings.ToLower(w)] = struct{}{}
		}
	}
	return v
}

// Contains reports whether s is a vocabulary entry, ignoring case.
func (v DecoyVocabulary) Contains(s string) bool {
	_, ok := v.words[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// Words lists the vocabulary in lower case.
func (v DecoyVocabulary) Words() []string {
	out := make([]string, 0, len(v.words))
	for w := range v.words {
		out = append(out, w)
	}
	return out
}

// DecoyFilter applies the structural validity rule to candidate codes.
type DecoyFilter struct {
	vocab DecoyVocabulary
}

// NewDecoyFilter returns a filter over vocab.
func NewDecoyFilter(vocab DecoyVocabulary) *DecoyFilter {
	return &DecoyFilter{vocab: vocab}
}

var defaultFilter = NewDecoyFilter(NewDecoyVocabulary())

// IsValidCode checks candidate against the built-in vocabulary.
func IsValidCode(candidate string) bool {
	return defaultFilter.IsValidCode(candidate)
}

// IsValidCode reports whether candidate is a plausible code rather than a
// distractor.
func (f *DecoyFilter) IsValidCode(candidate string) bool {
	return f.Reject(candidate) == ""
}

// Reject returns why candidate fails the validity rule, or "" if it passes.
func (f *DecoyFilter) Reject(candidate string) string {
	s := strings.TrimSpace(candidate)
	switch {
	case len(s) < MinCodeLength:
		return "too short"
	case !codeCharset.MatchString(s):
		return "invalid characters"
	case f.vocab.Contains(s):
		return "decoy vocabulary"
	case allDigits.MatchString(s):
		return "bare number"
	case unitMagnitude.MatchString(s):
		return "unit magnitude"
	case chromeIdentifier.MatchString(s):
		return "ui identifier"
	}
	return ""
}
