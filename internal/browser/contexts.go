// internal/browser/contexts.go
package browser

import (
	"context"
	"time"
)

// onTab scopes a CDP call to the tab. The result carries the tab's values,
// so chromedp finds its target, and ends when either the tab or the caller
// does. context.Cause reports the caller's reason when it was the caller.
func onTab(tab, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(tab)
	stop := context.AfterFunc(caller, func() {
		cancel(context.Cause(caller))
	})
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// forAction bounds a dispatched click, fill or key press by timeout alone.
// Caller cancellation is ignored from here on so a stage that gives up never
// leaves a half-typed code in the input.
func forAction(caller context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(caller), timeout)
}
