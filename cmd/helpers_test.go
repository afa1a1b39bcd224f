// cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gauntlet-cli/internal/browser"
	"github.com/xkilldash9x/gauntlet-cli/internal/config"
	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
	"github.com/xkilldash9x/gauntlet-cli/internal/learned"
)

var errOffline = errors.New("offline")

// offlinePage is a tab that cannot reach anything.
type offlinePage struct {
	mu        sync.Mutex
	navigated []string
	observers int
	blocking  bool
}

func (p *offlinePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return errOffline
}
func (p *offlinePage) Elements(context.Context, engine.Query) ([]engine.Element, error) {
	return nil, errOffline
}
func (p *offlinePage) BodyText(context.Context) (string, error) { return "", errOffline }
func (p *offlinePage) Snapshot(context.Context) (string, error) { return "", errOffline }
func (p *offlinePage) Click(context.Context, string) error { return errOffline }
func (p *offlinePage) Fill(context.Context, string, string) error { return errOffline }
func (p *offlinePage) PressKey(context.Context, string) error { return errOffline }
func (p *offlinePage) Scroll(context.Context, string) error { return errOffline }
func (p *offlinePage) Changes() <-chan struct{} { return nil }
func (p *offlinePage) EnableResourceBlocking(context.Context) error { p.blocking = true; return nil }
func (p *offlinePage) ObserveResponses(browser.ResponseFunc) { p.observers++ }
func (p *offlinePage) ReadStorage(context.Context, engine.StorageArea, string) (string, bool, error) {
	return "", false, errOffline
}
func (p *offlinePage) DumpStorage(context.Context, engine.StorageArea) (map[string]string, error) {
	return nil, errOffline
}

// fakeLauncher hands out offline pages, or fails when launchErr is set.
type fakeLauncher struct {
	mu        sync.Mutex
	launchErr error
	pages     []*offlinePage
	closed    int
}

func (l *fakeLauncher) Launch(context.Context, config.BrowserConfig, *zap.Logger) (runSession, func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, nil, l.launchErr
	}
	p := &offlinePage{}
	l.pages = append(l.pages, p)
	return p, func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.closed++
		return nil
	}, nil
}

// memProvider hands out a fixed store and records the directories asked for.
type memProvider struct {
	store learned.Store
	dirs  []string
}

func (p *memProvider) Create(_ context.Context, _ config.Interface, dir string) (learned.Store, error) {
	p.dirs = append(p.dirs, dir)
	return p.store, nil
}

// executeCommand runs a fresh command tree with args, isolated from any
// config file or environment of the developer machine.
func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// testConfig returns defaults pointed at a temporary output directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	out := t.TempDir()
	cfg.SetRunOutputDir(out)
	cfg.SetRunURL("https://challenge.test/")
	cfg.LearnedCfg.SharedDir = out
	return cfg
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
