package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// maxBroadClicks bounds the generic close pass.
	maxBroadClicks    = 5
	iconCloseSelector = `.close, [class*="close"], [aria-label*="close"], [aria-label*="Close"], [title*="close"], [title*="Close"]`
)

// broadCloseLabels are tried page-wide after targeted dismissal.
var broadCloseLabels = []string{"Close", "Dismiss", "Accept", "OK", "×", "✕"}

// Normalizer clears distractor overlays and stray windows so the code entry
// and the option modal become reachable. It never dismisses the content modal
// and never uses the decoy close control of a fake-close trap.
type Normalizer struct {
	page   Page
	clock  Clock
	settle time.Duration
	logger *zap.Logger
}

// NewNormalizer returns a normalizer that waits settle between rounds.
func NewNormalizer(page Page, clock Clock, settle time.Duration, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{page: page, clock: clock, settle: settle, logger: logger.Named("normalizer")}
}

// Normalize runs up to rounds dismissal rounds followed by one broad close
// pass. It reports whether no dismissible overlay remains. Overlays that
// offer no usable control are left in place and counted as not clear.
func (n *Normalizer) Normalize(ctx context.Context, rounds int) (bool, error) {
	stuck := make(map[string]bool)

	for round := 0; round < rounds; round++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		n.closeStrayWindows(ctx)

		overlays, err := n.overlays(ctx)
		if err != nil {
			return false, err
		}
		acted := false
		for _, ov := range overlays {
			if ov.Verdict.Role == RoleContentModal || stuck[ov.Ref] {
				continue
			}
			ok, err := n.dismiss(ctx, ov)
			if err != nil {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				n.logger.Debug("Dismiss failed.", zap.String("ref", ov.Ref), zap.Error(err))
			}
			if ok {
				acted = true
				break
			}
			stuck[ov.Ref] = true
			n.logger.Debug("Overlay has no usable dismiss control.",
				zap.String("role", ov.Verdict.Role.String()),
				zap.String("kind", ov.Verdict.Kind.String()))
		}
		if !acted {
			break
		}
		if err := sleep(ctx, n.clock, n.settle); err != nil {
			return false, err
		}
	}

	if err := n.broadPass(ctx); err != nil {
		return false, err
	}

	remaining, err := n.overlays(ctx)
	if err != nil {
		return false, err
	}
	for _, ov := range remaining {
		if ov.Verdict.Role != RoleContentModal {
			return false, nil
		}
	}
	return true, nil
}

// overlays returns the visible overlays on the page, classified and ordered
// topmost first.
func (n *Normalizer) overlays(ctx context.Context) ([]Overlay, error) {
	return findOverlays(ctx, n.page)
}

func findOverlays(ctx context.Context, page Page) ([]Overlay, error) {
	els, err := page.Elements(ctx, Query{Selector: overlaySelector, VisibleOnly: true})
	if err != nil {
		return nil, capability("query overlays", err)
	}
	all := make([]Overlay, 0, len(els))
	for i, el := range els {
		if strings.TrimSpace(el.Text) == "" {
			continue
		}
		all = append(all, Overlay{Element: el, Verdict: ClassifyOverlay(el.Text), order: i})
	}

	// Parts of a protected overlay are not overlays of their own.
	nested := make(map[string]bool)
	for _, ov := range all {
		if ov.Verdict.Role == RoleDistractor {
			continue
		}
		inner, err := page.Elements(ctx, Query{Selector: overlaySelector, Within: ov.Ref})
		if err != nil {
			return nil, capability("query nested overlays", err)
		}
		for _, el := range inner {
			if el.Ref != ov.Ref {
				nested[el.Ref] = true
			}
		}
	}

	out := all[:0]
	for _, ov := range all {
		if nested[ov.Ref] {
			continue
		}
		out = append(out, ov)
	}
	orderTopmost(out)
	return out, nil
}

// dismiss clicks the first usable control inside ov. It returns false when
// the overlay has nothing it is allowed to click.
func (n *Normalizer) dismiss(ctx context.Context, ov Overlay) (bool, error) {
	controls, err := n.page.Elements(ctx, Query{Selector: controlSelector, Within: ov.Ref, VisibleOnly: true})
	if err != nil {
		return false, capability("query overlay controls", err)
	}
	if el, ok := findByLabel(controls, DismissLabels(ov.Verdict)...); ok {
		n.logger.Debug("Dismissing overlay.",
			zap.String("kind", ov.Verdict.Kind.String()),
			zap.String("label", el.Label()))
		return true, capability("click dismiss", n.page.Click(ctx, el.Ref))
	}
	if !allowsIconClose(ov.Verdict) {
		return false, nil
	}

	icons, err := n.page.Elements(ctx, Query{Selector: iconCloseSelector, Within: ov.Ref, VisibleOnly: true})
	if err != nil {
		return false, capability("query close icons", err)
	}
	for _, el := range icons {
		if el.Ref == ov.Ref {
			continue
		}
		return true, capability("click close icon", n.page.Click(ctx, el.Ref))
	}
	return false, nil
}

// broadPass presses Escape and clicks generic close controls that are not
// inside the content modal or a fake-close trap and are not decoy buttons.
// Escape is skipped while the content modal is open.
func (n *Normalizer) broadPass(ctx context.Context) error {
	overlays, err := n.overlays(ctx)
	if err != nil {
		return err
	}
	modalOpen := false
	excluded := make(map[string]bool)
	for _, ov := range overlays {
		if ov.Verdict.Role == RoleDistractor {
			continue
		}
		if ov.Verdict.Role == RoleContentModal {
			modalOpen = true
		}
		inner, err := n.page.Elements(ctx, Query{Selector: controlSelector, Within: ov.Ref})
		if err != nil {
			return capability("query protected controls", err)
		}
		for ref := range refSet(inner) {
			excluded[ref] = true
		}
	}

	if !modalOpen {
		if err := n.page.PressKey(ctx, KeyEscape); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.logger.Debug("Escape failed.", zap.Error(err))
		}
	}

	controls, err := n.page.Elements(ctx, Query{Selector: controlSelector, VisibleOnly: true})
	if err != nil {
		return capability("query controls", err)
	}
	clicks := 0
	for _, el := range controls {
		if clicks >= maxBroadClicks {
			break
		}
		label := el.Label()
		if excluded[el.Ref] || isDecoyButton(label) || !matchesAny(label, broadCloseLabels) {
			continue
		}
		if err := n.page.Click(ctx, el.Ref); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Controls detach as earlier clicks close their containers.
			n.logger.Debug("Broad close click failed.", zap.String("label", label), zap.Error(err))
			continue
		}
		clicks++
	}
	return nil
}

func (n *Normalizer) closeStrayWindows(ctx context.Context) {
	closed, err := closeStrayWindows(ctx, n.page)
	if err != nil && !errors.Is(err, context.Canceled) {
		n.logger.Debug("Closing stray windows failed.", zap.Error(err))
	}
	if closed > 0 {
		n.logger.Info("Closed stray windows.", zap.Int("count", closed))
	}
}

// closeStrayWindows closes popup windows when the page supports it.
func closeStrayWindows(ctx context.Context, page Page) (int, error) {
	wc, ok := page.(WindowCloser)
	if !ok {
		return 0, nil
	}
	closed, err := wc.CloseStrayWindows(ctx)
	return closed, capability("close stray windows", err)
}

func matchesAny(label string, wants []string) bool {
	for _, w := range wants {
		if labelMatches(label, w) {
			return true
		}
	}
	return false
}
