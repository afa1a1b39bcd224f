// internal/browser/launcher_test.go
package browser

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/gauntlet-cli/internal/config"
)

func TestExecOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions)

	t.Run("Defaults", func(t *testing.T) {
		opts := execOptions(config.BrowserConfig{Headless: true})
		// NoSandbox, dev-shm and popup blocking on top of the chromedp defaults.
		assert.Len(t, opts, base+3)
	})

	t.Run("Headful", func(t *testing.T) {
		headless := execOptions(config.BrowserConfig{Headless: true})
		headful := execOptions(config.BrowserConfig{Headless: false})
		assert.Len(t, headful, len(headless)+1)
	})

	t.Run("WindowAndAgent", func(t *testing.T) {
		opts := execOptions(config.BrowserConfig{
			Headless:     true,
			DisableGPU:   true,
			WindowWidth:  1280,
			WindowHeight: 900,
			UserAgent:    "gauntlet-test",
		})
		assert.Len(t, opts, base+6)
	})

	t.Run("WindowNeedsBothDimensions", func(t *testing.T) {
		opts := execOptions(config.BrowserConfig{Headless: true, WindowWidth: 1280})
		assert.Len(t, opts, base+3)
	})

	t.Run("ExtraArgs", func(t *testing.T) {
		opts := execOptions(config.BrowserConfig{
			Headless: true,
			Args:     []string{"--no-zygote", "lang=en-US", "--", ""},
		})
		assert.Len(t, opts, base+5, "empty args are skipped")
	})
}
