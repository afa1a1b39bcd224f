package engine

import (
	"regexp"
	"sort"
	"strings"
)

// OverlayRole is the classification of an overlay.
type OverlayRole int

const (
	// RoleDistractor is noise to be closed with its own close control.
	RoleDistractor OverlayRole = iota
	// RoleFakeCloseTrap is an overlay whose obvious close control is itself a
	// decoy; only its designated dismiss control may be used.
	RoleFakeCloseTrap
	// RoleContentModal is the option selection modal. It is never dismissed.
	RoleContentModal
)

func (r OverlayRole) String() string {
	switch r {
	case RoleFakeCloseTrap:
		return "fake-close-trap"
	case RoleContentModal:
		return "content-modal"
	default:
		return "distractor"
	}
}

// OverlayKind refines a distractor so the right dismiss labels are tried.
type OverlayKind int

const (
	KindGeneric OverlayKind = iota
	KindCookie
	KindNewsletter
	KindWrongButton
)

func (k OverlayKind) String() string {
	switch k {
	case KindCookie:
		return "cookie"
	case KindNewsletter:
		return "newsletter"
	case KindWrongButton:
		return "wrong-button"
	default:
		return "generic"
	}
}

// OverlayVerdict is the result of ClassifyOverlay.
type OverlayVerdict struct {
	Role OverlayRole
	Kind OverlayKind
}

var (
	contentModalTitle = regexp.MustCompile(`(?i)please select an option|select your choice|select an option`)
	cookieText        = regexp.MustCompile(`(?i)cookie consent|we use cookies|cookies`)
	newsletterText    = regexp.MustCompile(`(?i)newsletter|subscribe|sign up for|stay updated|join our`)
	wrongButtonText   = regexp.MustCompile(`(?i)wrong button|try again`)
)

// ClassifyOverlay decides the role of an overlay from its text alone.
func ClassifyOverlay(text string) OverlayVerdict {
	lower := strings.ToLower(text)

	if contentModalTitle.MatchString(lower) {
		return OverlayVerdict{Role: RoleContentModal}
	}
	if isFakeCloseTrap(lower) {
		return OverlayVerdict{Role: RoleFakeCloseTrap}
	}

	v := OverlayVerdict{Role: RoleDistractor, Kind: KindGeneric}
	switch {
	case cookieText.MatchString(lower):
		v.Kind = KindCookie
	case wrongButtonText.MatchString(lower):
		v.Kind = KindWrongButton
	case newsletterText.MatchString(lower):
		v.Kind = KindNewsletter
	}
	return v
}

func isFakeCloseTrap(lower string) bool {
	has := func(s string) bool { return strings.Contains(lower, s) }
	switch {
	case has("fake") && (has("another way") || has("close")):
		return true
	case has("important") && has("note"):
		return true
	case has("popup") && has("message") && has("close"):
		return true
	}
	return false
}

// DismissLabels returns, in preference order, the control labels that may be
// used to close an overlay of the given verdict. Content modals have none.
func DismissLabels(v OverlayVerdict) []string {
	switch v.Role {
	case RoleContentModal:
		return nil
	case RoleFakeCloseTrap:
		return []string{"Dismiss", "Got it", "OK", "I understand", "Continue"}
	}
	switch v.Kind {
	case KindCookie:
		return []string{"Accept", "Accept All", "Allow", "I agree", "Got it", "OK", "Close", "Dismiss", "Continue"}
	case KindNewsletter:
		return []string{"No thanks", "Not now", "Maybe later", "Skip", "Close", "Dismiss", "×", "X"}
	case KindWrongButton:
		return []string{"Try Again", "Close", "OK", "Dismiss", "×", "✕"}
	default:
		return []string{"Close", "Dismiss", "×", "✕", "X", "OK", "Got it"}
	}
}

// allowsIconClose reports whether class or aria based close icons may be used.
func allowsIconClose(v OverlayVerdict) bool {
	return v.Role == RoleDistractor
}

// Overlay is a classified overlay element.
type Overlay struct {
	Element
	Verdict OverlayVerdict
	order   int
}

// orderTopmost sorts overlays by z-index descending, later document order
// first on ties.
func orderTopmost(overlays []Overlay) {
	sort.SliceStable(overlays, func(i, j int) bool {
		if overlays[i].ZIndex != overlays[j].ZIndex {
			return overlays[i].ZIndex > overlays[j].ZIndex
		}
		return overlays[i].order > overlays[j].order
	})
}

// normalizeLabel collapses whitespace for label comparison.
func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// labelMatches reports whether a control label equals want, ignoring case
// and surrounding whitespace.
func labelMatches(label, want string) bool {
	return normalizeLabel(label) == normalizeLabel(want)
}
