package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const refAttr = "data-gx-ref"

var zIndexStyle = regexp.MustCompile(`z-index:\s*(-?\d+)`)

// fakePage is an in-memory Page over an HTML document. Clicking an element
// with a data-removes attribute removes the nodes it selects; per-id click
// hooks model everything else.
type fakePage struct {
	mu      sync.Mutex
	doc     *goquery.Document
	nextRef int

	local   map[string]string
	session map[string]string

	clicks    []string
	fills     map[string]string
	keys      []string
	scrolls   []string
	navigated []string

	onClick    map[string]func(p *fakePage)
	onKey      func(p *fakePage, key string)
	onNavigate func(p *fakePage, url string)

	strayWindows int
	clickErr     error
	bodyErr      error
}

func newFakePage(html string) *fakePage {
	p := &fakePage{
		local:   make(map[string]string),
		session: make(map[string]string),
		fills:   make(map[string]string),
		onClick: make(map[string]func(p *fakePage)),
	}
	p.setHTML(html)
	return p
}

// setHTML replaces the document. Callers inside hooks already hold the lock.
func (p *fakePage) setHTML(html string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		panic(err)
	}
	p.doc = doc
}

func (p *fakePage) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setHTML(html)
}

func (p *fakePage) find(ref string) *goquery.Selection {
	return p.doc.Find(fmt.Sprintf(`[%s="%s"]`, refAttr, ref))
}

func (p *fakePage) ref(s *goquery.Selection) string {
	if r, ok := s.Attr(refAttr); ok {
		return r
	}
	p.nextRef++
	r := "r" + strconv.Itoa(p.nextRef)
	s.SetAttr(refAttr, r)
	return r
}

func hidden(s *goquery.Selection) bool {
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		if _, ok := cur.Attr("hidden"); ok {
			return true
		}
		style := strings.ReplaceAll(strings.ToLower(cur.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

func (p *fakePage) element(s *goquery.Selection) Element {
	el := Element{
		Ref:     p.ref(s),
		Tag:     goquery.NodeName(s),
		Text:    strings.Join(strings.Fields(s.Text()), " "),
		Value:   s.AttrOr("value", ""),
		Attrs:   make(map[string]string),
		Visible: !hidden(s),
	}
	for _, a := range s.Nodes[0].Attr {
		if a.Key != refAttr {
			el.Attrs[a.Key] = a.Val
		}
	}
	if m := zIndexStyle.FindStringSubmatch(s.AttrOr("style", "")); m != nil {
		el.ZIndex, _ = strconv.Atoi(m[1])
	}
	return el
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	if p.onNavigate != nil {
		p.onNavigate(p, url)
	}
	return nil
}

func (p *fakePage) Elements(_ context.Context, q Query) ([]Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	root := p.doc.Selection
	if q.Within != "" {
		root = p.find(q.Within)
		if root.Length() == 0 {
			return nil, fmt.Errorf("stale ref %s", q.Within)
		}
	}
	var out []Element
	root.Find(q.Selector).Each(func(_ int, s *goquery.Selection) {
		el := p.element(s)
		if q.VisibleOnly && !el.Visible {
			return
		}
		out = append(out, el)
	})
	return out, nil
}

func (p *fakePage) BodyText(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bodyErr != nil {
		return "", p.bodyErr
	}
	body := p.doc.Find("body").Clone()
	body.Find("script, style").Remove()
	body.Find("*").Each(func(_ int, s *goquery.Selection) {
		if _, ok := s.Attr("hidden"); ok {
			s.Remove()
			return
		}
		style := strings.ReplaceAll(strings.ToLower(s.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") {
			s.Remove()
		}
	})
	return strings.Join(strings.Fields(textOf(body)), " "), nil
}

func (p *fakePage) Snapshot(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Html()
}

func (p *fakePage) Click(_ context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clickErr != nil {
		return p.clickErr
	}
	s := p.find(ref)
	if s.Length() == 0 {
		return fmt.Errorf("node %s detached", ref)
	}
	el := p.element(s)
	name := el.Attr("id")
	if name == "" {
		name = el.Label()
	}
	p.clicks = append(p.clicks, name)

	if sel, ok := s.Attr("data-removes"); ok {
		p.doc.Find(sel).Remove()
	}
	if id := el.Attr("id"); id != "" {
		if hook := p.onClick[id]; hook != nil {
			hook(p)
		}
	}
	return nil
}

func (p *fakePage) Fill(_ context.Context, ref, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.find(ref)
	if s.Length() == 0 {
		return fmt.Errorf("node %s detached", ref)
	}
	s.SetAttr("value", text)
	key := s.AttrOr("id", ref)
	p.fills[key] = text
	return nil
}

func (p *fakePage) PressKey(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	if p.onKey != nil {
		p.onKey(p, key)
	}
	return nil
}

func (p *fakePage) Scroll(_ context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls = append(p.scrolls, ref)
	return nil
}

func (p *fakePage) area(a StorageArea) map[string]string {
	if a == SessionStorage {
		return p.session
	}
	return p.local
}

func (p *fakePage) ReadStorage(_ context.Context, a StorageArea, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.area(a)[key]
	return v, ok, nil
}

func (p *fakePage) DumpStorage(_ context.Context, a StorageArea) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.area(a)))
	for k, v := range p.area(a) {
		out[k] = v
	}
	return out, nil
}

func (p *fakePage) Changes() <-chan struct{} { return nil }

func (p *fakePage) CloseStrayWindows(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.strayWindows
	p.strayWindows = 0
	return n, nil
}

func (p *fakePage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func (p *fakePage) Filled(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills[id]
}

// fakeClock advances instantly: After moves Now forward by d and fires.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// challengeSite renders a small challenge whose stage advances only when the
// right code is submitted through the code section.
type challengeSite struct {
	total    int
	stage    int
	codes    map[int]string
	extra    map[int]string
	prefill  map[int]string
	attempts []string
}

func newChallengeSite(total int, codes map[int]string) *challengeSite {
	return &challengeSite{total: total, stage: 1, codes: codes, extra: map[int]string{}, prefill: map[int]string{}}
}

func (s *challengeSite) html() string {
	if s.stage > s.total {
		return `<html><body><h1>Congratulations! Challenge complete.</h1></body></html>`
	}
	return fmt.Sprintf(`<html><body>
<div class="challenge-container">
  <h2>Step %d of %d</h2>
  %s
  <div class="code-section">
    <p>Enter code to proceed to step %d</p>
    <input type="text" id="code" placeholder="Enter 6-character code" value="%s">
    <button id="submit-code">Submit Code</button>
  </div>
  <button id="decoy-1">Click Me!</button>
  <button id="decoy-2">Try This!</button>
</div>
</body></html>`, s.stage, s.total, s.extra[s.stage], s.stage+1, s.prefill[s.stage])
}

// attach wires the site into page.
func (s *challengeSite) attach(p *fakePage) {
	p.setHTML(s.html())
	p.onClick["submit-code"] = func(p *fakePage) {
		got := p.doc.Find("#code").AttrOr("value", "")
		s.attempts = append(s.attempts, got)
		if got == s.codes[s.stage] {
			s.stage++
		}
		p.setHTML(s.html())
	}
}
