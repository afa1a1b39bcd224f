// cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gauntlet-cli/internal/browser"
	"github.com/xkilldash9x/gauntlet-cli/internal/config"
	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
	"github.com/xkilldash9x/gauntlet-cli/internal/escalation"
	"github.com/xkilldash9x/gauntlet-cli/internal/learned"
	"github.com/xkilldash9x/gauntlet-cli/internal/observability"
	"github.com/xkilldash9x/gauntlet-cli/internal/reporting"
)

// errNotCompleted is returned when no iteration finished every stage.
var errNotCompleted = errors.New("challenge not completed")

const closeTimeout = 10 * time.Second

// runSession is the part of a browser tab the run command drives.
type runSession interface {
	engine.Page
	ObserveResponses(fn browser.ResponseFunc)
	EnableResourceBlocking(ctx context.Context) error
}

// launcher starts a browser for one iteration. The returned close function
// releases it.
type launcher interface {
	Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (runSession, func(context.Context) error, error)
}

// defaultLauncher starts a local Chrome through chromedp.
type defaultLauncher struct{}

func (defaultLauncher) Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (runSession, func(context.Context) error, error) {
	b, err := browser.Launch(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return b.Session(), b.Close, nil
}

// applyRunFlags copies every run flag the user set onto cfg. A positional
// URL wins over run.url, --url wins over both.
func applyRunFlags(cmd *cobra.Command, cfg config.Interface, args []string) {
	f := cmd.Flags()
	if len(args) > 0 {
		cfg.SetRunURL(args[0])
	}
	if f.Changed("url") {
		v, _ := f.GetString("url")
		cfg.SetRunURL(v)
	}
	if f.Changed("output-dir") {
		v, _ := f.GetString("output-dir")
		cfg.SetRunOutputDir(v)
	}
	if f.Changed("timeout") {
		v, _ := f.GetDuration("timeout")
		cfg.SetRunTimeout(v)
	}
	if f.Changed("continue-on-error") {
		v, _ := f.GetBool("continue-on-error")
		cfg.SetRunContinueOnError(v)
	}
	if f.Changed("iterations") {
		v, _ := f.GetInt("iterations")
		cfg.SetRunIterations(v)
	}
	if f.Changed("until-success") {
		v, _ := f.GetBool("until-success")
		cfg.SetRunUntilSuccess(v)
	}
	if f.Changed("headful") {
		v, _ := f.GetBool("headful")
		cfg.SetBrowserHeadless(!v)
	}
	if f.Changed("no-block-resources") {
		v, _ := f.GetBool("no-block-resources")
		cfg.SetBrowserBlockResources(!v)
	}
	if f.Changed("escalate") {
		v, _ := f.GetBool("escalate")
		cfg.SetEscalationEnabled(v)
	}
	if f.Changed("format") {
		v, _ := f.GetString("format")
		cfg.SetReportFormat(v)
	}
	if f.Changed("output") {
		v, _ := f.GetString("output")
		cfg.SetReportOutput(v)
	}
}

// newRunCmd creates the `run` command.
func newRunCmd(l launcher) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [url]",
		Short: "Solve the challenge at url",
		Long: `Launches Chrome, opens the challenge and resolves every stage: overlays are
cleared, the option modal is solved, the stage code is taken from storage,
network payloads or the page and submitted until the page advances.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg, args)
			return runGauntlet(ctx, cfg, observability.GetLogger(), l)
		},
	}

	f := runCmd.Flags()
	f.StringP("url", "u", "", "Challenge URL. (Overrides config/env)")
	f.StringP("output-dir", "d", "", "Directory for run artifacts.")
	f.DurationP("timeout", "t", 0, "Wall clock limit of one iteration.")
	f.Bool("continue-on-error", false, "Keep going after a stage fails, up to run.max_failures.")
	f.IntP("iterations", "n", 0, "Maximum number of runs.")
	f.Bool("until-success", false, "Repeat runs until one completes every stage.")
	f.Bool("headful", false, "Show the browser window.")
	f.Bool("no-block-resources", false, "Let images, fonts and media load.")
	f.Bool("escalate", false, "Ask the language model for a plan when a stage is stuck.")
	f.StringP("format", "f", "", "Report format: json or text.")
	f.StringP("output", "o", "", "Report path, relative to the run directory, or 'stdout'.")

	return runCmd
}

// runGauntlet runs up to run.iterations iterations and writes the report.
func runGauntlet(ctx context.Context, cfg config.Interface, logger *zap.Logger, l launcher) (err error) {
	rc := cfg.Run()
	if strings.TrimSpace(rc.URL) == "" {
		return errors.New("no challenge URL: pass one as an argument or set run.url")
	}

	runDir := filepath.Join(rc.OutputDir, "run_"+time.Now().UTC().Format("2006-01-02T15-04-05"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	logger.Info("Run output.", zap.String("dir", runDir))

	store, err := learned.New(ctx, cfg, runDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open learned store: %w", err)
	}
	defer store.Close()

	reporter, err := reporting.New(cfg.Report().Format, resolveOutput(runDir, cfg.Report().Output))
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if cerr := reporter.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to write report: %w", cerr)
		}
	}()

	var best *engine.RunReport
	for i := 1; i <= rc.Iterations; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Info("Starting iteration.", zap.Int("iteration", i), zap.Int("of", rc.Iterations))

		report, runErr := runIteration(ctx, cfg, logger, l, store, runDir, i)
		if report == nil {
			// Nothing ran; the browser or a collaborator failed to start.
			logger.Error("Iteration did not start.", zap.Int("iteration", i), zap.Error(runErr))
			continue
		}
		if werr := reporter.Write(report); werr != nil {
			return fmt.Errorf("failed to record iteration %d: %w", i, werr)
		}
		if best == nil || report.Solved > best.Solved {
			best = report
		}
		logger.Info("Iteration finished.",
			zap.Int("iteration", i),
			zap.Int("solved", report.Solved),
			zap.Int("attempted", report.Attempted),
			zap.Duration("elapsed", report.Elapsed),
			zap.Bool("completed", report.Completed))

		if report.Completed {
			break
		}
		if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		if !rc.UntilSuccess {
			break
		}
	}

	if best == nil {
		return errors.New("no iteration could be started")
	}
	if !best.Completed {
		return fmt.Errorf("%w: best run solved %d of %d stages", errNotCompleted, best.Solved, best.TotalStages)
	}
	return nil
}

// runIteration drives one fresh browser through the challenge. A nil report
// means the iteration never reached the page.
func runIteration(
	ctx context.Context,
	cfg config.Interface,
	logger *zap.Logger,
	l launcher,
	store learned.Store,
	runDir string,
	iteration int,
) (*engine.RunReport, error) {
	page, closeBrowser, err := l.Launch(ctx, cfg.Browser(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := closeBrowser(closeCtx); cerr != nil {
			logger.Warn("Browser did not close cleanly.", zap.Error(cerr))
		}
	}()

	if cfg.Browser().BlockResources {
		if err := page.EnableResourceBlocking(ctx); err != nil {
			logger.Warn("Resource blocking unavailable.", zap.Error(err))
		}
	}

	cache := engine.NewNetworkCache(cfg.Engine().TotalStages, logger)
	page.ObserveResponses(func(url string, body []byte) {
		cache.Ingest(url, body)
	})

	methods, err := store.Load(ctx)
	if err != nil {
		logger.Warn("Starting without learned sources.", zap.Error(err))
	}
	learnedMap := engine.NewLearnedMap(methods)
	logger.Debug("Loaded learned sources.", zap.Int("stages", learnedMap.Len()))

	var planner *escalation.GeminiPlanner
	deps := engine.Deps{
		Page:       page,
		Cache:      cache,
		Learned:    learnedMap,
		Vocabulary: engine.NewDecoyVocabulary(cfg.Engine().DecoyWords...),
		Logger:     logger,
	}
	if cfg.Escalation().Enabled {
		planner, err = escalation.NewGeminiPlanner(ctx, cfg.Escalation(), logger)
		if err != nil {
			logger.Warn("Escalation disabled.", zap.Error(err))
		} else {
			deps.Escalator = planner
		}
	}

	status := reporting.NewStatusWriter(resolveStatus(runDir, cfg.Report().LiveStatus), cfg.Run().URL, iteration, cfg.Engine().TotalStages)
	deps.OnStage = func(rec engine.StageAttemptRecord) {
		if err := status.Record(rec); err != nil {
			logger.Debug("Failed to update status file.", zap.Error(err))
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Run().Timeout)
	defer cancel()

	controller := engine.NewController(deps, engine.OptionsFromConfig(cfg))
	report, runErr := controller.Run(runCtx, cfg.Run().URL)
	report.Iteration = iteration
	if planner != nil {
		usage := planner.Usage()
		report.TokenUsage = &usage
	}
	if err := status.Finish(report); err != nil {
		logger.Debug("Failed to finalize status file.", zap.Error(err))
	}

	// The map is advisory; losing it only costs speed next time.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), closeTimeout)
	defer saveCancel()
	if err := store.Save(saveCtx, learnedMap.Snapshot()); err != nil {
		logger.Warn("Failed to save learned sources.", zap.Error(err))
	}
	return report, runErr
}

// resolveOutput places relative report paths inside the run directory.
func resolveOutput(runDir, output string) string {
	switch {
	case output == "" || output == "stdout":
		return output
	case filepath.IsAbs(output):
		return output
	default:
		return filepath.Join(runDir, output)
	}
}

func resolveStatus(runDir, path string) string {
	if path == "" {
		return filepath.Join(runDir, reporting.StatusFileName)
	}
	return path
}
