// cmd/run_test.go
package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/gauntlet-cli/internal/mocks"
	"github.com/xkilldash9x/gauntlet-cli/internal/reporting"
)

func TestRunGauntlet_RequiresURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.SetRunURL(" ")
	err := runGauntlet(context.Background(), cfg, zaptest.NewLogger(t), &fakeLauncher{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no challenge URL")
}

func TestRunGauntlet_LaunchFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.SetRunIterations(2)
	l := &fakeLauncher{launchErr: errors.New("chrome not found")}

	err := runGauntlet(context.Background(), cfg, zaptest.NewLogger(t), l)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no iteration could be started")
}

func TestRunGauntlet_WritesReportAndStatus(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{}

	err := runGauntlet(context.Background(), cfg, zaptest.NewLogger(t), l)
	require.ErrorIs(t, err, errNotCompleted)

	require.Len(t, l.pages, 1)
	page := l.pages[0]
	assert.Equal(t, []string{"https://challenge.test/"}, page.navigated)
	assert.True(t, page.blocking, "resources are blocked by default")
	assert.Equal(t, 1, page.observers, "network cache is fed by the response observer")
	assert.Equal(t, 1, l.closed)

	results, err := filepath.Glob(filepath.Join(cfg.Run().OutputDir, "run_*", "results.json"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	data, err := os.ReadFile(results[0])
	require.NoError(t, err)
	var doc reporting.Document
	require.NoError(t, jsoniter.Unmarshal(data, &doc))
	require.Len(t, doc.Runs, 1)
	assert.Equal(t, 1, doc.Runs[0].Iteration)
	assert.Contains(t, doc.Runs[0].Error, "offline")
	assert.Nil(t, doc.Runs[0].TokenUsage, "no planner, no usage")

	statusPath := filepath.Join(filepath.Dir(results[0]), reporting.StatusFileName)
	data, err = os.ReadFile(statusPath)
	require.NoError(t, err)
	var st reporting.Status
	require.NoError(t, jsoniter.Unmarshal(data, &st))
	assert.True(t, st.Finished)
	assert.Equal(t, doc.Runs[0].RunID, st.RunID)
}

func TestRunGauntlet_Iterations(t *testing.T) {
	t.Run("StopsAfterOneRunByDefault", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SetRunIterations(3)
		l := &fakeLauncher{}
		_ = runGauntlet(context.Background(), cfg, zaptest.NewLogger(t), l)
		assert.Len(t, l.pages, 1)
	})

	t.Run("UntilSuccessUsesEveryIteration", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SetRunIterations(3)
		cfg.SetRunUntilSuccess(true)
		l := &fakeLauncher{}
		err := runGauntlet(context.Background(), cfg, zaptest.NewLogger(t), l)
		require.ErrorIs(t, err, errNotCompleted)
		assert.Len(t, l.pages, 3)
		assert.Equal(t, 3, l.closed, "every browser is closed")
	})

	t.Run("Canceled", func(t *testing.T) {
		cfg := testConfig(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := runGauntlet(ctx, cfg, zaptest.NewLogger(t), &fakeLauncher{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRunCmd_FlagsOverrideConfig(t *testing.T) {
	cfg := testConfig(t)
	cmd := newRunCmd(&fakeLauncher{})
	require.NoError(t, cmd.ParseFlags([]string{
		"--timeout", "90s",
		"--iterations", "4",
		"--until-success",
		"--continue-on-error",
		"--headful",
		"--no-block-resources",
		"--escalate",
		"--format", "text",
		"-o", "stdout",
		"-d", "elsewhere",
	}))

	applyRunFlags(cmd, cfg, []string{"https://arg.test/"})

	assert.Equal(t, "https://arg.test/", cfg.Run().URL)
	assert.Equal(t, 90*time.Second, cfg.Run().Timeout)
	assert.Equal(t, 4, cfg.Run().Iterations)
	assert.True(t, cfg.Run().UntilSuccess)
	assert.True(t, cfg.Run().ContinueOnError)
	assert.Equal(t, "elsewhere", cfg.Run().OutputDir)
	assert.False(t, cfg.Browser().Headless)
	assert.False(t, cfg.Browser().BlockResources)
	assert.True(t, cfg.Escalation().Enabled)
	assert.Equal(t, "text", cfg.Report().Format)
	assert.Equal(t, "stdout", cfg.Report().Output)
}

func TestRunCmd_URLFlagWinsOverArgument(t *testing.T) {
	cfg := testConfig(t)
	cmd := newRunCmd(&fakeLauncher{})
	require.NoError(t, cmd.ParseFlags([]string{"--url", "https://flag.test/"}))

	applyRunFlags(cmd, cfg, []string{"https://arg.test/"})
	assert.Equal(t, "https://flag.test/", cfg.Run().URL)
}

func TestRunCmd_UnsetFlagsKeepConfig(t *testing.T) {
	cfg := testConfig(t)
	cmd := newRunCmd(&fakeLauncher{})
	require.NoError(t, cmd.ParseFlags(nil))

	applyRunFlags(cmd, cfg, nil)
	assert.Equal(t, "https://challenge.test/", cfg.Run().URL)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 1, cfg.Run().Iterations)
}

func TestResolvePaths(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "run_1", "results.json"), resolveOutput(filepath.Join("out", "run_1"), "results.json"))
	assert.Equal(t, "stdout", resolveOutput("out", "stdout"))
	assert.Equal(t, "", resolveOutput("out", ""))
	assert.Equal(t, filepath.Join("out", reporting.StatusFileName), resolveStatus("out", ""))
	assert.Equal(t, "/tmp/live.json", resolveStatus("out", "/tmp/live.json"))
}

func TestRunCmd_EndToEnd(t *testing.T) {
	out := t.TempDir()
	t.Setenv("GAUNTLET_RUN_OUTPUT_DIR", out)
	l := &fakeLauncher{}
	root := newRootCommand(l, &memProvider{store: new(mocks.MockStore)})

	_, err := executeCommand(t, root, "run", "https://cli.test/")
	require.ErrorIs(t, err, errNotCompleted)
	require.Len(t, l.pages, 1)
	assert.Equal(t, []string{"https://cli.test/"}, l.pages[0].navigated)
}
