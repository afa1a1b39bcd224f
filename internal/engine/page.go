// Package engine implements stage resolution for the 30 stage popup challenge:
// overlay normalization, the option modal, candidate code extraction from
// storage, network payloads and the DOM, submission and advance confirmation.
//
// The engine never talks to a browser directly. Everything it needs is
// expressed by the Page capability surface, which internal/browser implements
// on top of chromedp and the tests implement over static HTML.
package engine

import (
	"context"
	"strings"
)

// StorageArea selects a Web Storage area.
type StorageArea int

const (
	LocalStorage StorageArea = iota
	SessionStorage
)

func (a StorageArea) String() string {
	if a == SessionStorage {
		return "sessionStorage"
	}
	return "localStorage"
}

// Element is a snapshot of a DOM element returned by Page.Elements. Ref is an
// opaque handle that stays valid for as long as the node is attached.
type Element struct {
	Ref     string            `json:"ref"`
	Tag     string            `json:"tag"`
	Text    string            `json:"text"`
	Value   string            `json:"value"`
	Attrs   map[string]string `json:"attrs"`
	Visible bool              `json:"visible"`
	ZIndex  int               `json:"z"`
}

// Attr returns the attribute value, or "" when absent.
func (e Element) Attr(name string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

// Label is the text a user would read on a control.
func (e Element) Label() string {
	if t := strings.TrimSpace(e.Text); t != "" {
		return t
	}
	if v := e.Attr("aria-label"); v != "" {
		return strings.TrimSpace(v)
	}
	if v := e.Attr("title"); v != "" {
		return strings.TrimSpace(v)
	}
	if e.Tag == "input" {
		return strings.TrimSpace(e.Value)
	}
	return ""
}

// Query selects elements with a CSS selector, optionally scoped to the
// subtree of another element.
type Query struct {
	Selector    string
	Within      string
	VisibleOnly bool
}

// Page is the browser capability surface consumed by the engine.
//
// Elements, BodyText, Snapshot, ReadStorage and DumpStorage are reads and may
// be called concurrently. Click, Fill, PressKey, Scroll and Navigate mutate the
// page; the engine issues them from a single goroutine.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Elements(ctx context.Context, q Query) ([]Element, error)
	// BodyText returns the rendered (visible) text of the document body.
	BodyText(ctx context.Context) (string, error)
	// Snapshot returns the serialized HTML of the document.
	Snapshot(ctx context.Context) (string, error)
	Click(ctx context.Context, ref string) error
	Fill(ctx context.Context, ref, text string) error
	PressKey(ctx context.Context, key string) error
	Scroll(ctx context.Context, ref string) error
	ReadStorage(ctx context.Context, area StorageArea, key string) (string, bool, error)
	DumpStorage(ctx context.Context, area StorageArea) (map[string]string, error)
	// Changes delivers a signal whenever the document navigates or mutates
	// in a way that may affect the stage indicator. A nil channel is valid and
	// leaves waiters on their fallback poll.
	Changes() <-chan struct{}
}

// WindowCloser is implemented by pages that can close popup windows and tabs
// opened by the challenge.
type WindowCloser interface {
	CloseStrayWindows(ctx context.Context) (int, error)
}

// Key names accepted by Page.PressKey.
const (
	KeyEnter  = "Enter"
	KeyEscape = "Escape"
	KeyTab    = "Tab"
)
