package engine

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

var (
	// codeToken pulls word-like tokens out of free text.
	codeToken = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9_-]{5,63}`)
	// codeShaped is the classic generated code: upper case letters and digits
	// with at least one of each.
	codeShaped = regexp.MustCompile(`^[A-Z0-9]{6,12}$`)
	hasDigit   = regexp.MustCompile(`[0-9]`)
	hasLetter  = regexp.MustCompile(`[A-Za-z]`)

	clickHereText = regexp.MustCompile(`(?i)click here`)
	revealPrompt  = regexp.MustCompile(`(?i)click to reveal|reveal the code|button to reveal`)
	anyLabel      = regexp.MustCompile(`\S`)

	// codeAttrs are read verbatim, in order, before any other attribute.
	codeAttrs = []string{"data-code", "data-challenge-code", "data-secret", "data-token", "data-value"}
)

var revealLabels = []string{"Reveal Code", "Reveal", "Show Code", "Get Code"}

const (
	maxClickHere  = 3
	challengeRoot = `[class*="challenge"], [id*="challenge"]`
)

// DOMScanner extracts candidate codes from the rendered document. Candidate
// and SectionCandidate only read; Reveal clicks reveal controls and is
// called by the controller between races.
type DOMScanner struct {
	page      Page
	filter    *DecoyFilter
	submitter *Submitter
	logger    *zap.Logger
}

// NewDOMScanner returns a DOM adapter. submitter is used to locate the code
// input and section.
func NewDOMScanner(page Page, filter *DecoyFilter, submitter *Submitter, logger *zap.Logger) *DOMScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DOMScanner{page: page, filter: filter, submitter: submitter, logger: logger.Named("dom")}
}

func (d *DOMScanner) Source() Source { return SourceDOM }

// Candidate checks, in order: a value already sitting in the code input,
// attributes of the code section, the challenge container and the body, and
// finally code-shaped tokens in the rendered text.
func (d *DOMScanner) Candidate(ctx context.Context, stage int) (string, error) {
	if entry, err := d.submitter.Locate(ctx); err == nil && d.filter.IsValidCode(entry.Input.Value) {
		return strings.TrimSpace(entry.Input.Value), nil
	} else if err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}

	doc, err := d.document(ctx)
	if err != nil {
		return "", err
	}
	section := codeSection(doc)

	roots := []*goquery.Selection{section, doc.Find(challengeRoot), doc.Find("body")}
	for i, root := range roots {
		if root == nil || root.Length() == 0 {
			continue
		}
		if code, ok := d.fromAttributes(root, i == 0); ok {
			return code, nil
		}
	}

	if section != nil {
		if code, ok := d.fromText(textOf(section), true); ok {
			return code, nil
		}
	}
	text, err := d.page.BodyText(ctx)
	if err != nil {
		return "", capability("read body text", err)
	}
	if code, ok := d.fromText(text, false); ok {
		return code, nil
	}
	return "", ErrNoCandidate
}

// SectionCandidate only looks inside the code entry section.
func (d *DOMScanner) SectionCandidate(ctx context.Context) (string, error) {
	doc, err := d.document(ctx)
	if err != nil {
		return "", err
	}
	section := codeSection(doc)
	if section == nil {
		return "", ErrNoCandidate
	}
	if code, ok := d.fromAttributes(section, true); ok {
		return code, nil
	}
	if code, ok := d.fromText(textOf(section), true); ok {
		return code, nil
	}
	return "", ErrNoCandidate
}

// Reveal clicks "click here" prompts and reveal buttons. It reports whether
// anything was clicked.
func (d *DOMScanner) Reveal(ctx context.Context) (bool, error) {
	clicked := false

	els, err := d.page.Elements(ctx, Query{Selector: controlSelector + `, span, p, div`, VisibleOnly: true})
	if err != nil {
		return false, capability("query reveal prompts", err)
	}
	var target *Element
	for i := range els {
		if !clickHereText.MatchString(els[i].Text) || isDecoyButton(els[i].Label()) {
			continue
		}
		// Ties go to the later, deeper element.
		if target == nil || len(els[i].Text) <= len(target.Text) {
			target = &els[i]
		}
	}
	if target != nil {
		for i := 0; i < maxClickHere; i++ {
			if err := d.page.Click(ctx, target.Ref); err != nil {
				if ctx.Err() != nil {
					return clicked, ctx.Err()
				}
				break
			}
			clicked = true
		}
	}

	_, control, err := smallestContaining(ctx, d.page, revealPrompt, anyLabel)
	if err != nil {
		return clicked, err
	}
	if control != nil && !isDecoyButton(control.Label()) {
		if err := d.page.Click(ctx, control.Ref); err == nil {
			clicked = true
		}
	}

	controls, err := d.page.Elements(ctx, Query{Selector: controlSelector, VisibleOnly: true})
	if err != nil {
		return clicked, capability("query reveal controls", err)
	}
	if el, ok := findByLabel(controls, revealLabels...); ok {
		if err := d.page.Click(ctx, el.Ref); err == nil {
			clicked = true
		}
	}
	if clicked {
		d.logger.Debug("Triggered reveal controls.")
	}
	return clicked, nil
}

func (d *DOMScanner) document(ctx context.Context) (*goquery.Document, error) {
	html, err := d.page.Snapshot(ctx)
	if err != nil {
		return nil, capability("snapshot", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, capability("parse snapshot", err)
	}
	return doc, nil
}

// fromAttributes scans root and its descendants. Dedicated code attributes
// win over tokens found in other data or aria attributes.
func (d *DOMScanner) fromAttributes(root *goquery.Selection, loose bool) (string, bool) {
	nodes := root.Find("*").AddSelection(root)

	for _, name := range codeAttrs {
		var found string
		nodes.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if v, ok := s.Attr(name); ok && d.filter.IsValidCode(v) {
				found = strings.TrimSpace(v)
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}

	var tokens []string
	nodes.Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			for _, a := range n.Attr {
				key := strings.ToLower(a.Key)
				if (strings.HasPrefix(key, "data-") && strings.Contains(key, "code")) ||
					key == "aria-label" || key == "aria-description" {
					tokens = append(tokens, codeToken.FindAllString(a.Val, -1)...)
				}
			}
		}
	})
	return d.rank(tokens, loose)
}

// fromText ranks tokens in text. Loose also admits digit-free tokens, which
// is only safe inside the code section.
func (d *DOMScanner) fromText(text string, loose bool) (string, bool) {
	return d.rank(codeToken.FindAllString(text, -1), loose)
}

// rank picks the most code-like valid token: generated-code shape first,
// then anything mixing letters and digits, then (when loose) any valid token.
func (d *DOMScanner) rank(tokens []string, loose bool) (string, bool) {
	passes := []func(string) bool{
		func(t string) bool { return codeShaped.MatchString(t) && hasDigit.MatchString(t) && hasLetter.MatchString(t) },
		func(t string) bool { return hasDigit.MatchString(t) && hasLetter.MatchString(t) },
	}
	if loose {
		passes = append(passes, func(string) bool { return true })
	}
	for _, pass := range passes {
		for _, t := range tokens {
			if pass(t) && d.filter.IsValidCode(t) {
				return t, true
			}
		}
	}
	return "", false
}

// codeSection finds the innermost container that reads like the code entry
// prompt and holds a "Submit Code" control.
func codeSection(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestLen := 0
	doc.Find(containerSelector).Each(func(_ int, s *goquery.Selection) {
		text := textOf(s)
		if !codeSectionText.MatchString(text) {
			return
		}
		if best != nil && len(text) >= bestLen {
			return
		}
		hasSubmit := false
		s.Find(`button, input[type="submit"], [role="button"], a`).EachWithBreak(func(_ int, c *goquery.Selection) bool {
			label := strings.TrimSpace(c.Text())
			if label == "" {
				label, _ = c.Attr("value")
			}
			hasSubmit = submitCodeLabel.MatchString(strings.TrimSpace(label))
			return !hasSubmit
		})
		if hasSubmit {
			best, bestLen = s, len(text)
		}
	})
	return best
}

// inlineTags do not break words when their text runs into a neighbour.
var inlineTags = map[string]bool{
	"b": true, "i": true, "em": true, "strong": true, "span": true, "code": true,
	"mark": true, "small": true, "sub": true, "sup": true, "u": true, "s": true, "abbr": true,
}

// textOf renders the text under s the way innerText separates it: text nodes
// on either side of a block or control element never run together.
func textOf(s *goquery.Selection) string {
	var b strings.Builder
	gap := false
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if gap && b.Len() > 0 {
				b.WriteByte(' ')
			}
			gap = false
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		block := n.Type == html.ElementNode && !inlineTags[n.Data]
		if block {
			gap = true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			gap = true
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return b.String()
}
