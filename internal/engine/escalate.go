package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Limits on the page context handed to an escalator.
const (
	maxContextText     = 4000
	maxContextControls = 40
)

// ActionKind is a UI primitive an escalation plan may request.
type ActionKind string

const (
	ActionClick  ActionKind = "click"
	ActionFill   ActionKind = "fill"
	ActionPress  ActionKind = "press"
	ActionScroll ActionKind = "scroll"
)

// ParseActionKind maps plan verbs onto the supported primitives. "type" is
// an alias for fill.
func ParseActionKind(s string) (ActionKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "click":
		return ActionClick, true
	case "fill", "type":
		return ActionFill, true
	case "press", "keypress", "key":
		return ActionPress, true
	case "scroll":
		return ActionScroll, true
	}
	return "", false
}

// PlanAction is one step of an escalation plan. Target is a control label
// or a CSS selector.
type PlanAction struct {
	Kind   ActionKind `json:"action"`
	Target string     `json:"target,omitempty"`
	Text   string     `json:"text,omitempty"`
	Key    string     `json:"key,omitempty"`
}

// Plan is an ordered list of UI actions proposed by an escalator.
type Plan struct {
	Actions   []PlanAction `json:"actions"`
	Reasoning string       `json:"reasoning,omitempty"`
}

// PageContext is what an escalator sees of the stuck page.
type PageContext struct {
	Stage    int      `json:"stage"`
	URL      string   `json:"url,omitempty"`
	BodyText string   `json:"body_text"`
	Controls []string `json:"controls"`
	Inputs   []string `json:"inputs"`
	Failure  string   `json:"failure,omitempty"`
}

// Escalator proposes UI actions for a stage the engine could not resolve.
// Its output is never used as a code: the engine only performs the actions
// and then extracts and validates as usual.
type Escalator interface {
	Plan(ctx context.Context, pc PageContext) (Plan, error)
}

var errTargetNotFound = errors.New("plan target not found")

// planExecutor carries out plans through the Page.
type planExecutor struct {
	page       Page
	submitter  *Submitter
	maxActions int
	logger     *zap.Logger
}

// execute runs at most maxActions actions and returns how many succeeded.
// Failing actions are skipped.
func (x *planExecutor) execute(ctx context.Context, plan Plan) (int, error) {
	actions := plan.Actions
	if x.maxActions > 0 && len(actions) > x.maxActions {
		actions = actions[:x.maxActions]
	}

	done := 0
	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := x.run(ctx, a); err != nil {
			x.logger.Debug("Plan action failed.", zap.Int("index", i), zap.String("action", string(a.Kind)), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

func (x *planExecutor) run(ctx context.Context, a PlanAction) error {
	switch a.Kind {
	case ActionPress:
		key := a.Key
		if key == "" {
			key = a.Text
		}
		switch strings.ToLower(key) {
		case "enter", "escape", "esc", "tab":
		default:
			return fmt.Errorf("unsupported key %q", key)
		}
		return x.page.PressKey(ctx, canonicalKey(key))
	case ActionClick, ActionFill, ActionScroll:
	default:
		return fmt.Errorf("unsupported action %q", a.Kind)
	}

	el, err := x.resolve(ctx, a)
	if err != nil {
		return err
	}
	switch a.Kind {
	case ActionClick:
		if isDecoyButton(el.Label()) {
			return fmt.Errorf("refusing decoy control %q", el.Label())
		}
		return x.page.Click(ctx, el.Ref)
	case ActionFill:
		if entry, err := x.submitter.Locate(ctx); err == nil && entry.Input.Ref == el.Ref {
			return errors.New("refusing to fill the code input")
		}
		return x.page.Fill(ctx, el.Ref, a.Text)
	default:
		return x.page.Scroll(ctx, el.Ref)
	}
}

// resolve finds the element an action targets: by CSS selector when the
// target looks like one, otherwise by visible label.
func (x *planExecutor) resolve(ctx context.Context, a PlanAction) (Element, error) {
	target := strings.TrimSpace(a.Target)
	if target == "" {
		return Element{}, errTargetNotFound
	}

	if looksLikeSelector(target) {
		els, err := x.page.Elements(ctx, Query{Selector: target, VisibleOnly: true})
		if err == nil && len(els) > 0 {
			return els[0], nil
		}
	}

	selector := controlSelector
	if a.Kind == ActionFill {
		selector = inputSelector
	}
	els, err := x.page.Elements(ctx, Query{Selector: selector, VisibleOnly: true})
	if err != nil {
		return Element{}, capability("query plan targets", err)
	}
	if el, ok := findByLabel(els, target); ok {
		return el, nil
	}
	for _, el := range els {
		if strings.EqualFold(el.Attr("placeholder"), target) || strings.EqualFold(el.Attr("name"), target) {
			return el, nil
		}
	}
	return Element{}, fmt.Errorf("%w: %q", errTargetNotFound, target)
}

func looksLikeSelector(s string) bool {
	return strings.ContainsAny(s[:1], "#.[") || strings.Contains(s, "[") || strings.Contains(s, ">")
}

func canonicalKey(k string) string {
	switch strings.ToLower(k) {
	case "enter":
		return KeyEnter
	case "tab":
		return KeyTab
	default:
		return KeyEscape
	}
}

// buildPageContext captures the stuck page for an escalator.
func buildPageContext(ctx context.Context, page Page, stage int, url string, failure error) (PageContext, error) {
	pc := PageContext{Stage: stage, URL: url}
	if failure != nil {
		pc.Failure = failure.Error()
	}

	text, err := page.BodyText(ctx)
	if err != nil {
		return pc, capability("read body text", err)
	}
	pc.BodyText = truncate(text, maxContextText)

	controls, err := page.Elements(ctx, Query{Selector: controlSelector, VisibleOnly: true})
	if err != nil {
		return pc, capability("query controls", err)
	}
	for _, el := range controls {
		if len(pc.Controls) >= maxContextControls {
			break
		}
		if label := el.Label(); label != "" {
			pc.Controls = append(pc.Controls, label)
		}
	}

	inputs, err := page.Elements(ctx, Query{Selector: inputSelector, VisibleOnly: true})
	if err != nil {
		return pc, capability("query inputs", err)
	}
	for _, el := range inputs {
		desc := el.Attr("placeholder")
		if desc == "" {
			desc = el.Attr("name")
		}
		if desc == "" {
			desc = el.Tag
		}
		pc.Inputs = append(pc.Inputs, desc)
	}
	return pc, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
