// internal/browser/observer.go
package browser

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// maxObservedBody caps the response bodies handed to observers.
const maxObservedBody = 1 << 20

const bodyFetchTimeout = 5 * time.Second

// ResponseFunc receives the URL and body of a completed response.
type ResponseFunc func(url string, body []byte)

// blockedResources never reach the network when resource blocking is on.
var blockedResources = []network.ResourceType{
	network.ResourceTypeImage,
	network.ResourceTypeFont,
	network.ResourceTypeMedia,
}

// ObserveResponses registers fn for every completed XHR, fetch, document or
// script response. Register before Navigate so the first payloads are seen.
// fn runs on its own goroutine and must be safe for concurrent use.
func (s *Session) ObserveResponses(fn ResponseFunc) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, fn)
}

// EnableResourceBlocking fails image, font and media requests before they
// are sent.
func (s *Session) EnableResourceBlocking(ctx context.Context) error {
	patterns := make([]*fetch.RequestPattern, 0, len(blockedResources))
	for _, rt := range blockedResources {
		patterns = append(patterns, &fetch.RequestPattern{
			URLPattern:   "*",
			ResourceType: rt,
			RequestStage: fetch.RequestStageRequest,
		})
	}
	if err := s.run(ctx, fetch.Enable().WithPatterns(patterns)); err != nil {
		return err
	}
	s.logger.Debug("Resource blocking enabled.", zap.Int("patterns", len(patterns)))
	return nil
}

// listen installs the target listener. Handlers run on the CDP event loop
// and must not issue CDP commands synchronously.
func (s *Session) listen() {
	chromedp.ListenTarget(s.listenerCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				s.signal()
			}
		case *page.EventLoadEventFired:
			s.signal()
		case *runtime.EventBindingCalled:
			if e.Name == changeBinding {
				s.signal()
			}
		case *network.EventResponseReceived:
			s.handleResponseReceived(e)
		case *network.EventLoadingFinished:
			s.handleLoadingFinished(e)
		case *network.EventLoadingFailed:
			s.forget(e.RequestID)
		case *fetch.EventRequestPaused:
			s.bodyFetchWG.Add(1)
			go s.failPaused(e.RequestID)
		}
	})
}

// shouldCapture decides whether a response body may carry stage codes.
func shouldCapture(rt network.ResourceType, resp *network.Response) bool {
	if resp == nil || resp.Status >= 400 {
		return false
	}
	switch rt {
	case network.ResourceTypeXHR, network.ResourceTypeFetch, network.ResourceTypeDocument, network.ResourceTypeScript:
	default:
		return false
	}
	mime := strings.ToLower(resp.MimeType)
	return strings.Contains(mime, "json") ||
		strings.Contains(mime, "javascript") ||
		strings.HasPrefix(mime, "text/")
}

func (s *Session) handleResponseReceived(e *network.EventResponseReceived) {
	if !shouldCapture(e.Type, e.Response) {
		return
	}
	s.responsesMu.Lock()
	s.responses[e.RequestID] = e.Response.URL
	s.responsesMu.Unlock()
}

func (s *Session) handleLoadingFinished(e *network.EventLoadingFinished) {
	s.observersMu.RLock()
	watching := len(s.observers) > 0
	s.observersMu.RUnlock()

	url, ok := s.forget(e.RequestID)
	if !ok || !watching {
		return
	}
	if e.EncodedDataLength > maxObservedBody {
		s.logger.Debug("Skipping oversized response.", zap.String("url", url), zap.Float64("bytes", e.EncodedDataLength))
		return
	}
	s.bodyFetchWG.Add(1)
	go s.fetchBody(e.RequestID, url)
}

func (s *Session) forget(id network.RequestID) (string, bool) {
	s.responsesMu.Lock()
	defer s.responsesMu.Unlock()
	url, ok := s.responses[id]
	delete(s.responses, id)
	return url, ok
}

func (s *Session) fetchBody(id network.RequestID, url string) {
	defer s.bodyFetchWG.Done()

	ctx, cancel := context.WithTimeout(s.ctx, bodyFetchTimeout)
	defer cancel()

	var body []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(ctx)
		return err
	}))
	if err != nil {
		// Bodies of redirected or evicted responses are gone; nothing to do.
		s.logger.Debug("Response body unavailable.", zap.String("url", url), zap.Error(err))
		return
	}
	if len(body) > maxObservedBody {
		body = body[:maxObservedBody]
	}
	s.dispatch(url, body)
}

func (s *Session) dispatch(url string, body []byte) {
	s.observersMu.RLock()
	observers := append([]ResponseFunc(nil), s.observers...)
	s.observersMu.RUnlock()
	for _, fn := range observers {
		fn(url, body)
	}
}

func (s *Session) failPaused(id fetch.RequestID) {
	defer s.bodyFetchWG.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.actionTimeout())
	defer cancel()
	if err := s.run(ctx, fetch.FailRequest(id, network.ErrorReasonBlockedByClient)); err != nil {
		s.logger.Debug("Failed to block request.", zap.String("request_id", string(id)), zap.Error(err))
	}
}

// stop detaches the listener and waits for in-flight body fetches.
func (s *Session) stop(ctx context.Context) {
	s.cancelListener()

	done := make(chan struct{})
	go func() {
		s.bodyFetchWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for pending response fetches.")
	}
}
