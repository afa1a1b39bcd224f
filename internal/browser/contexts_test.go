// internal/browser/contexts_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey string

const targetKey ctxKey = "target"

func TestOnTab(t *testing.T) {
	t.Run("TabValuesWin", func(t *testing.T) {
		tab := context.WithValue(context.Background(), targetKey, "tab-1")
		caller := context.WithValue(context.Background(), targetKey, "other")

		ctx, cancel := onTab(tab, caller)
		defer cancel()

		assert.Equal(t, "tab-1", ctx.Value(targetKey))
		assert.NoError(t, ctx.Err())
	})

	t.Run("TabClosed", func(t *testing.T) {
		tab, closeTab := context.WithCancel(context.Background())
		ctx, cancel := onTab(tab, context.Background())
		defer cancel()

		closeTab()
		<-ctx.Done()
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("CallerDeadlineIsTheCause", func(t *testing.T) {
		tab, closeTab := context.WithCancel(context.Background())
		defer closeTab()
		caller, cancelCaller := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancelCaller()

		ctx, cancel := onTab(tab, caller)
		defer cancel()

		<-ctx.Done()
		assert.ErrorIs(t, context.Cause(ctx), context.DeadlineExceeded)
		assert.NoError(t, tab.Err(), "the tab outlives one operation")
	})

	t.Run("TabDeadlineInherited", func(t *testing.T) {
		deadline := time.Now().Add(time.Minute)
		tab, closeTab := context.WithDeadline(context.Background(), deadline)
		defer closeTab()

		ctx, cancel := onTab(tab, context.Background())
		defer cancel()

		got, ok := ctx.Deadline()
		require.True(t, ok)
		assert.True(t, got.Equal(deadline))
	})

	t.Run("CancelReleasesCaller", func(t *testing.T) {
		caller, cancelCaller := context.WithCancel(context.Background())
		defer cancelCaller()

		ctx, cancel := onTab(context.Background(), caller)
		cancel()
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
		assert.NoError(t, caller.Err())
	})
}

func TestForAction(t *testing.T) {
	t.Run("SurvivesCallerCancellation", func(t *testing.T) {
		caller, cancel := context.WithCancel(context.WithValue(context.Background(), targetKey, "tab-1"))
		ctx, done := forAction(caller, time.Minute)
		defer done()
		cancel()

		assert.ErrorIs(t, caller.Err(), context.Canceled)
		assert.NoError(t, ctx.Err())
		assert.Equal(t, "tab-1", ctx.Value(targetKey))
	})

	t.Run("OwnTimeoutOnly", func(t *testing.T) {
		caller, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()

		ctx, done := forAction(caller, 20*time.Millisecond)
		defer done()
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(20*time.Millisecond), deadline, time.Second)

		<-ctx.Done()
		assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
		assert.NoError(t, caller.Err())
	})
}
