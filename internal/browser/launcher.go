// internal/browser/launcher.go
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gauntlet-cli/internal/config"
)

// Browser owns one Chrome process and the tab the run drives.
type Browser struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	session *Session
}

// execOptions translates the browser config into chromedp allocator options.
func execOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		// Hardened hosts and containers refuse the sandbox.
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-popup-blocking", false),
	)

	// DefaultExecAllocatorOptions already carries headless; override it when
	// a visible window is wanted.
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimPrefix(arg, "--")
		if arg == "" {
			continue
		}
		key, value, hasValue := strings.Cut(arg, "=")
		if !hasValue {
			opts = append(opts, chromedp.Flag(key, true))
			continue
		}
		opts = append(opts, chromedp.Flag(key, value))
	}
	return opts
}

// Launch starts Chrome and attaches to its first tab. The returned Browser
// must be closed; ctx bounds the whole browser lifetime.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("browser")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Debugf),
	)

	b := &Browser{
		cfg:           cfg,
		logger:        log,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}

	// The first Run starts the process and attaches to the initial tab.
	if err := chromedp.Run(browserCtx); err != nil {
		b.shutdown()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	session, err := newSession(browserCtx, cfg, log)
	if err != nil {
		b.shutdown()
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}
	b.session = session

	log.Info("Browser launched.",
		zap.Bool("headless", cfg.Headless),
		zap.Bool("block_resources", cfg.BlockResources),
		zap.String("target_id", string(session.targetID)))
	return b, nil
}

// Session returns the tab driven by the run.
func (b *Browser) Session() *Session { return b.session }

// Close stops listeners, closes the browser gracefully and tears down the
// allocator.
func (b *Browser) Close(ctx context.Context) error {
	if b.session != nil {
		b.session.stop(ctx)
	}

	var err error
	// chromedp.Cancel asks the browser to close before canceling the context.
	if cerr := chromedp.Cancel(b.browserCtx); cerr != nil && ctx.Err() == nil {
		err = fmt.Errorf("failed to close browser: %w", cerr)
	}
	b.shutdown()
	b.logger.Debug("Browser closed.")
	return err
}

func (b *Browser) shutdown() {
	b.browserCancel()
	b.allocCancel()
}
