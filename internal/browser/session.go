// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/gauntlet-cli/internal/config"
	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

const (
	defaultActionTimeout     = 5 * time.Second
	defaultNavigationTimeout = 30 * time.Second
)

var (
	_ engine.Page         = (*Session)(nil)
	_ engine.WindowCloser = (*Session)(nil)
)

// ErrNodeNotFound is returned when a ref no longer resolves to a node.
var ErrNodeNotFound = errors.New("node not found")

type actionRunner func(ctx context.Context, actions ...chromedp.Action) error

type evaluator func(ctx context.Context, script string, res any) error

// Session drives a single tab through chromedp. Reads may run concurrently;
// mutations are serialized and paced by a token bucket.
type Session struct {
	ctx      context.Context // tab context, carries the CDP target
	targetID target.ID
	cfg      config.BrowserConfig
	logger   *zap.Logger

	limiter *rate.Limiter
	// mu serializes mutating actions.
	mu sync.Mutex

	run  actionRunner
	eval evaluator

	changes chan struct{}

	listenerCtx    context.Context
	cancelListener context.CancelFunc
	observersMu    sync.RWMutex
	observers      []ResponseFunc
	responses      map[network.RequestID]string
	responsesMu    sync.Mutex
	bodyFetchWG    sync.WaitGroup
}

func newSession(tabCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return nil, errors.New("context has no attached chromedp target")
	}

	s := newDetachedSession(tabCtx, cfg, logger)
	s.targetID = c.Target.TargetID
	s.run = s.runActions
	s.eval = s.evaluate

	s.listen()

	err := s.run(tabCtx,
		network.Enable(),
		page.Enable(),
		runtime.AddBinding(changeBinding),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(observerJS).Do(ctx)
			return err
		}),
	)
	if err != nil {
		s.cancelListener()
		return nil, fmt.Errorf("failed to enable CDP domains: %w", err)
	}
	return s, nil
}

// newDetachedSession builds the Session state without touching CDP. The
// caller wires run and eval.
func newDetachedSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	aps, burst := cfg.ActionsPerSecond, cfg.ActionBurst
	if aps <= 0 {
		aps = 25
	}
	if burst <= 0 {
		burst = 5
	}
	listenerCtx, cancel := context.WithCancel(ctx)
	return &Session{
		ctx:            ctx,
		cfg:            cfg,
		logger:         logger.Named("session"),
		limiter:        rate.NewLimiter(rate.Limit(aps), burst),
		changes:        make(chan struct{}, 1),
		listenerCtx:    listenerCtx,
		cancelListener: cancel,
		responses:      make(map[network.RequestID]string),
	}
}

// runActions executes actions against the tab, bounded by ctx.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	tabCtx, cancel := onTab(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(tabCtx, actions...)
}

func (s *Session) evaluate(ctx context.Context, script string, res any) error {
	return s.run(ctx, chromedp.Evaluate(script, res))
}

func (s *Session) actionTimeout() time.Duration {
	if s.cfg.ActionTimeout > 0 {
		return s.cfg.ActionTimeout
	}
	return defaultActionTimeout
}

// read runs a side-effect free operation under the action timeout.
func (s *Session) read(ctx context.Context, script string, res any) error {
	opCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()
	return s.eval(opCtx, script, res)
}

// mutate paces and serializes fn. Once fn has been dispatched it runs on a
// detached context so caller cancellation cannot interrupt it halfway.
func (s *Session) mutate(ctx context.Context, fn func(opCtx context.Context) error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	opCtx, cancel := forAction(ctx, s.actionTimeout())
	defer cancel()
	return fn(opCtx)
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	s.signal()
	return nil
}

// Elements returns the elements matching q. Every returned element is
// stamped with a ref attribute the mutating calls address it by.
func (s *Session) Elements(ctx context.Context, q engine.Query) ([]engine.Element, error) {
	var out []engine.Element
	if err := s.read(ctx, elementsScript(q), &out); err != nil {
		return nil, fmt.Errorf("query %q failed: %w", q.Selector, err)
	}
	return out, nil
}

func (s *Session) BodyText(ctx context.Context) (string, error) {
	var text string
	if err := s.read(ctx, bodyTextJS, &text); err != nil {
		return "", fmt.Errorf("failed to read body text: %w", err)
	}
	return text, nil
}

func (s *Session) Snapshot(ctx context.Context) (string, error) {
	var html string
	if err := s.read(ctx, snapshotJS, &html); err != nil {
		return "", fmt.Errorf("failed to snapshot document: %w", err)
	}
	return html, nil
}

// Click dispatches a real mouse click on the node, falling back to
// HTMLElement.click() when the node cannot be clicked natively.
func (s *Session) Click(ctx context.Context, ref string) error {
	return s.mutate(ctx, func(opCtx context.Context) error {
		nativeCtx, cancel := context.WithTimeout(opCtx, s.actionTimeout()/2)
		err := s.run(nativeCtx, chromedp.Click(refSelector(ref), chromedp.ByQuery, chromedp.NodeVisible))
		cancel()
		if err == nil {
			return nil
		}

		s.logger.Debug("Native click failed, using script click.", zap.String("ref", ref), zap.Error(err))
		var found bool
		if err := s.eval(opCtx, clickScript(ref), &found); err != nil {
			return fmt.Errorf("click %s failed: %w", ref, err)
		}
		if !found {
			return fmt.Errorf("click %s: %w", ref, ErrNodeNotFound)
		}
		return nil
	})
}

// Fill replaces the value of an input with text. Keystrokes are sent so
// listeners see real input; the value is then verified and forced through
// the native setter when the page swallowed the keys.
func (s *Session) Fill(ctx context.Context, ref, text string) error {
	return s.mutate(ctx, func(opCtx context.Context) error {
		sel := refSelector(ref)
		typed := s.run(opCtx,
			chromedp.SetValue(sel, "", chromedp.ByQuery),
			chromedp.SendKeys(sel, text, chromedp.ByQuery),
		)

		var current *string
		if typed == nil {
			if err := s.eval(opCtx, valueScript(ref), &current); err == nil && current != nil && *current == text {
				return nil
			}
		}

		var ok bool
		if err := s.eval(opCtx, fillScript(ref, text), &ok); err != nil {
			return fmt.Errorf("fill %s failed: %w", ref, err)
		}
		if !ok {
			if typed != nil {
				return fmt.Errorf("fill %s failed: %w", ref, typed)
			}
			return fmt.Errorf("fill %s: value did not stick", ref)
		}
		return nil
	})
}

// keyFor maps engine key names onto chromedp key codes.
func keyFor(key string) string {
	switch key {
	case engine.KeyEnter:
		return kb.Enter
	case engine.KeyEscape:
		return kb.Escape
	case engine.KeyTab:
		return kb.Tab
	}
	return key
}

func (s *Session) PressKey(ctx context.Context, key string) error {
	return s.mutate(ctx, func(opCtx context.Context) error {
		if err := s.run(opCtx, chromedp.KeyEvent(keyFor(key))); err != nil {
			return fmt.Errorf("key %s failed: %w", key, err)
		}
		return nil
	})
}

func (s *Session) Scroll(ctx context.Context, ref string) error {
	return s.mutate(ctx, func(opCtx context.Context) error {
		var found bool
		if err := s.eval(opCtx, scrollScript(ref), &found); err != nil {
			return fmt.Errorf("scroll %s failed: %w", ref, err)
		}
		if !found {
			return fmt.Errorf("scroll %s: %w", ref, ErrNodeNotFound)
		}
		return nil
	})
}

func (s *Session) ReadStorage(ctx context.Context, area engine.StorageArea, key string) (string, bool, error) {
	var res storageResult
	if err := s.read(ctx, storageReadScript(area, key), &res); err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", area, err)
	}
	if res.Error != "" {
		s.logger.Debug("Storage access denied.", zap.Stringer("area", area), zap.String("error", res.Error))
	}
	return res.Value, res.Found, nil
}

func (s *Session) DumpStorage(ctx context.Context, area engine.StorageArea) (map[string]string, error) {
	out := make(map[string]string)
	if err := s.read(ctx, storageDumpScript(area), &out); err != nil {
		return nil, fmt.Errorf("failed to dump %s: %w", area, err)
	}
	return out, nil
}

// Changes signals navigations and DOM mutations. The channel holds at most
// one pending signal.
func (s *Session) Changes() <-chan struct{} { return s.changes }

func (s *Session) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// CloseStrayWindows closes every page target other than the session's own
// tab.
func (s *Session) CloseStrayWindows(ctx context.Context) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	var infos []*target.Info
	err := s.run(opCtx, onBrowser(func(ctx context.Context) error {
		var err error
		infos, err = target.GetTargets().Do(ctx)
		return err
	}))
	if err != nil {
		return 0, fmt.Errorf("failed to list targets: %w", err)
	}

	closed := 0
	for _, info := range strayTargets(infos, s.targetID) {
		err := s.run(opCtx, onBrowser(func(ctx context.Context) error {
			return target.CloseTarget(info.TargetID).Do(ctx)
		}))
		if err != nil {
			s.logger.Debug("Failed to close stray window.", zap.String("target_id", string(info.TargetID)), zap.Error(err))
			continue
		}
		closed++
		s.logger.Debug("Closed stray window.", zap.String("url", info.URL))
	}
	return closed, nil
}

// onBrowser runs fn against the browser-level executor; the Target domain
// commands are not addressed to a tab.
func onBrowser(fn func(ctx context.Context) error) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if c := chromedp.FromContext(ctx); c != nil && c.Browser != nil {
			ctx = cdp.WithExecutor(ctx, c.Browser)
		}
		return fn(ctx)
	}
}

func strayTargets(infos []*target.Info, own target.ID) []*target.Info {
	var out []*target.Info
	for _, info := range infos {
		if info == nil || info.TargetID == own {
			continue
		}
		if info.Type == "page" {
			out = append(out, info)
		}
	}
	return out
}
