package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gauntlet-cli/internal/config"
	"github.com/xkilldash9x/gauntlet-cli/internal/observability"
)

// Options tunes the controller. Zero durations and limits are replaced by
// DefaultOptions; a zero RetryBudget means a single attempt and a negative
// MaxEscalations disables escalation.
type Options struct {
	TotalStages         int
	RetryBudget         int
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	ExtractTimeout      time.Duration
	AdvanceTimeout      time.Duration
	ReadyTimeout        time.Duration
	PollInterval        time.Duration
	PostSubmitWait      time.Duration
	RegressionTolerance int
	NormalizeRounds     int
	ContinueOnError     bool
	MaxFailures         int
	MaxEscalations      int
	MaxPlanActions      int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		TotalStages:         TotalStages,
		RetryBudget:         3,
		BackoffBase:         40 * time.Millisecond,
		BackoffCap:          400 * time.Millisecond,
		ExtractTimeout:      1500 * time.Millisecond,
		AdvanceTimeout:      3 * time.Second,
		ReadyTimeout:        10 * time.Second,
		PollInterval:        50 * time.Millisecond,
		PostSubmitWait:      100 * time.Millisecond,
		RegressionTolerance: 2,
		NormalizeRounds:     3,
		MaxFailures:         5,
		MaxEscalations:      3,
		MaxPlanActions:      5,
	}
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg config.Interface) Options {
	e, r, esc := cfg.Engine(), cfg.Run(), cfg.Escalation()
	o := Options{
		TotalStages:         e.TotalStages,
		RetryBudget:         e.RetryBudget,
		BackoffBase:         e.BackoffBase,
		BackoffCap:          e.BackoffCap,
		ExtractTimeout:      e.ExtractTimeout,
		AdvanceTimeout:      e.AdvanceTimeout,
		PollInterval:        e.PollInterval,
		PostSubmitWait:      e.PostSubmitWait,
		RegressionTolerance: e.RegressionTolerance,
		NormalizeRounds:     e.NormalizeRounds,
		ContinueOnError:     r.ContinueOnError,
		MaxFailures:         r.MaxFailures,
		MaxPlanActions:      esc.MaxActions,
	}
	if esc.Enabled {
		o.MaxEscalations = esc.MaxCalls
	} else {
		o.MaxEscalations = -1
	}
	return o
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TotalStages <= 0 {
		o.TotalStages = d.TotalStages
	}
	if o.RetryBudget < 0 {
		o.RetryBudget = 0
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.BackoffCap < o.BackoffBase {
		o.BackoffCap = d.BackoffCap
	}
	if o.ExtractTimeout <= 0 {
		o.ExtractTimeout = d.ExtractTimeout
	}
	if o.AdvanceTimeout <= 0 {
		o.AdvanceTimeout = d.AdvanceTimeout
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = d.ReadyTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.NormalizeRounds <= 0 {
		o.NormalizeRounds = d.NormalizeRounds
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = d.MaxFailures
	}
	if o.MaxPlanActions <= 0 {
		o.MaxPlanActions = d.MaxPlanActions
	}
	if o.MaxEscalations == 0 {
		o.MaxEscalations = d.MaxEscalations
	}
	return o
}

// Deps are the collaborators of a Controller. Page and Cache are required.
type Deps struct {
	Page       Page
	Cache      *NetworkCache
	Learned    *LearnedMap
	Vocabulary DecoyVocabulary
	Escalator  Escalator
	Clock      Clock
	// Jitter feeds the retry backoff; nil uses math/rand.
	Jitter func() float64
	// OnStage is called after every resolved or failed stage.
	OnStage func(StageAttemptRecord)
	Logger  *zap.Logger
}

// Controller drives the page through the challenge one stage at a time.
// All page mutations are issued from the goroutine calling Run or
// ResolveStage.
type Controller struct {
	opts    Options
	page    Page
	cache   *NetworkCache
	learned *LearnedMap
	clock   Clock
	jitter  func() float64
	onStage func(StageAttemptRecord)
	logger  *zap.Logger

	filter     *DecoyFilter
	reader     *StageReader
	waiter     *Waiter
	normalizer *Normalizer
	modal      *ModalSolver
	submitter  *Submitter
	storage    *StorageReader
	dom        *DOMScanner
	racer      *Racer

	escalator   Escalator
	executor    *planExecutor
	escalations int
	url         string
}

// NewController wires the stage resolution components around deps.Page.
func NewController(deps Deps, opts Options) *Controller {
	opts = opts.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("engine")
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	vocab := deps.Vocabulary
	if vocab.words == nil {
		vocab = NewDecoyVocabulary()
	}
	learned := deps.Learned
	if learned == nil {
		learned = NewLearnedMap(nil)
	}

	c := &Controller{
		opts:      opts,
		page:      deps.Page,
		cache:     deps.Cache,
		learned:   learned,
		clock:     clock,
		jitter:    deps.Jitter,
		onStage:   deps.OnStage,
		logger:    logger,
		filter:    NewDecoyFilter(vocab),
		escalator: deps.Escalator,
	}
	c.reader = NewStageReader(c.page, opts.TotalStages)
	c.waiter = NewWaiter(clock, opts.PollInterval, c.page.Changes())
	c.normalizer = NewNormalizer(c.page, clock, opts.PollInterval, logger)
	c.modal = NewModalSolver(c.page, logger)
	c.submitter = NewSubmitter(c.page, logger)
	c.storage = NewStorageReader(c.page, c.filter, opts.TotalStages)
	c.dom = NewDOMScanner(c.page, c.filter, c.submitter, logger)
	c.racer = NewRacer([]Adapter{
		c.storage,
		NewNetworkCacheReader(c.cache, c.filter),
		c.dom,
	}, c.filter, opts.ExtractTimeout, logger)
	c.executor = &planExecutor{page: c.page, submitter: c.submitter, maxActions: opts.MaxPlanActions, logger: logger.Named("plan")}
	return c
}

// Learned exposes the learned source map for persistence.
func (c *Controller) Learned() *LearnedMap { return c.learned }

// ResolveStage drives stage to an advance or to a stage-fatal error. The
// returned record is complete in both cases.
func (c *Controller) ResolveStage(ctx context.Context, stage int) (StageAttemptRecord, error) {
	start := c.clock.Now()
	rec := StageAttemptRecord{Stage: stage, At: start}
	log := c.logger
	log.Info("Resolving stage.", observability.Event(observability.EventStageStarted, stage)...)

	var (
		winner  Candidate
		lastErr error
		attempt int
	)
	op := func() error {
		if attempt > 0 {
			rec.Retries++
		}
		attempt++

		if err := c.checkIndicator(ctx, stage); err != nil {
			lastErr = err
			return backoff.Permanent(err)
		}
		cand, advancedTo, err := c.attempt(ctx, stage, attempt > 1)
		if cand.Valid {
			winner = cand
		}
		if err == nil {
			rec.AdvancedTo = advancedTo
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, ErrPageInconsistent) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		rec.Waits = append(rec.Waits, d)
		log.Debug("Retrying stage.",
			append(observability.Event(observability.EventStageRetry, stage),
				zap.Int("retry", len(rec.Waits)),
				zap.Duration("wait", d),
				zap.Error(err))...)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(NewStageBackoff(c.opts.BackoffBase, c.opts.BackoffCap, c.jitter), uint64(c.opts.RetryBudget)),
		ctx,
	)
	err := backoff.RetryNotifyWithTimer(op, b, notify, &clockTimer{clock: c.clock})

	if err != nil && ctx.Err() == nil && !errors.Is(err, ErrPageInconsistent) && c.canEscalate() {
		if c.escalate(ctx, stage, lastErr) {
			rec.Escalated = true
			cand, advancedTo, escErr := c.extractAndSubmit(ctx, stage)
			if cand.Valid {
				winner = cand
			}
			if escErr == nil {
				err = nil
				rec.AdvancedTo = advancedTo
			} else {
				lastErr = escErr
			}
		}
	}

	rec.Elapsed = c.clock.Now().Sub(start)
	rec.CodeRedacted = Redact(winner.Value)
	if err == nil {
		rec.Success = true
		rec.Source = winner.Source
		c.learned.Record(stage, winner.Source)
		log.Info("Stage advanced.",
			append(observability.Event(observability.EventStageAdvanced, stage),
				zap.Stringer(observability.FieldSource, winner.Source),
				zap.Int("advanced_to", rec.AdvancedTo),
				zap.Int("retries", rec.Retries),
				zap.Duration("elapsed", rec.Elapsed))...)
		return rec, nil
	}

	if ctx.Err() != nil {
		rec.FailureReason = ctx.Err().Error()
		return rec, &StageError{Stage: stage, Reason: ctx.Err()}
	}
	if errors.Is(err, ErrPageInconsistent) {
		rec.FailureReason = err.Error()
		return rec, &StageError{Stage: stage, Reason: err}
	}
	if lastErr == nil {
		lastErr = err
	}
	reason := fmt.Errorf("%w: %w", ErrRetryBudgetExhausted, lastErr)
	rec.FailureReason = reason.Error()
	return rec, &StageError{Stage: stage, Reason: reason}
}

// attempt is one pass through the stage state machine.
func (c *Controller) attempt(ctx context.Context, stage int, retry bool) (Candidate, int, error) {
	if retry {
		if _, err := closeStrayWindows(ctx, c.page); err != nil {
			c.logger.Debug("Closing stray windows failed.", zap.Error(err))
		}
	}

	// ModalResolving, then Normalizing. The modal gets a second pass after
	// normalization in case a distractor was covering it, and confirming it
	// can leave a banner behind that needs one more round.
	if _, err := c.solveModal(ctx, stage); err != nil {
		return Candidate{}, 0, err
	}
	if _, err := c.normalizer.Normalize(ctx, c.opts.NormalizeRounds); err != nil {
		return Candidate{}, 0, err
	}
	solved, err := c.solveModal(ctx, stage)
	if err != nil {
		return Candidate{}, 0, err
	}
	if solved {
		if _, err := c.normalizer.Normalize(ctx, 1); err != nil {
			return Candidate{}, 0, err
		}
	}

	return c.extractAndSubmit(ctx, stage)
}

// solveModal answers the content modal when one is open and lets the page
// settle afterwards. Only context errors are returned.
func (c *Controller) solveModal(ctx context.Context, stage int) (bool, error) {
	solved, err := c.modal.Solve(ctx)
	if err != nil {
		c.logger.Debug("Option modal not resolved.", zap.Int("stage", stage), zap.Error(err))
		return false, ctx.Err()
	}
	if !solved {
		return false, nil
	}
	return true, sleep(ctx, c.clock, c.opts.PostSubmitWait)
}

// checkIndicator fails with a RegressionError when the page has fallen too
// far behind stage. A missing or unreadable indicator is not an error here.
func (c *Controller) checkIndicator(ctx context.Context, stage int) error {
	n, ok, err := c.reader.Current(ctx)
	if err != nil || !ok {
		return nil
	}
	return c.regression(stage, n)
}

func (c *Controller) regression(stage, page int) error {
	if stage-page > c.opts.RegressionTolerance {
		return &RegressionError{Expected: stage, Page: page}
	}
	return nil
}

// extractAndSubmit covers Extracting, Submitting and Confirming.
func (c *Controller) extractAndSubmit(ctx context.Context, stage int) (Candidate, int, error) {
	pref, ok := c.learned.Preferred(stage)
	cand, err := c.racer.Race(ctx, stage, pref, ok)
	if errors.Is(err, ErrNoValidCandidate) {
		cand, err = c.recoverCandidate(ctx, stage, pref, ok)
	}
	if err != nil {
		return Candidate{}, 0, err
	}
	c.logger.Debug("Selected candidate.",
		zap.Int("stage", stage),
		zap.Stringer("source", cand.Source),
		zap.String("code", Redact(cand.Value)))

	if err := c.submitter.Submit(ctx, cand.Value); err != nil {
		return cand, 0, err
	}
	advancedTo, err := c.confirm(ctx, stage)
	return cand, advancedTo, err
}

// recoverCandidate is the no-candidate path: one more normalization pass,
// reveal controls, a direct storage recheck and a code-section-only scan,
// then a final race.
func (c *Controller) recoverCandidate(ctx context.Context, stage int, pref Source, ok bool) (Candidate, error) {
	c.logger.Debug("No candidate; trying recovery.", zap.Int("stage", stage))
	if _, err := c.normalizer.Normalize(ctx, 1); err != nil {
		return Candidate{}, err
	}
	if _, err := c.dom.Reveal(ctx); err != nil && ctx.Err() != nil {
		return Candidate{}, ctx.Err()
	}

	if v, err := c.storage.Candidate(ctx, stage); err == nil && c.filter.IsValidCode(v) {
		return Candidate{Value: v, Source: SourceStorage, Valid: true}, nil
	}
	if v, err := c.dom.SectionCandidate(ctx); err == nil && c.filter.IsValidCode(v) {
		return Candidate{Value: v, Source: SourceDOM, Valid: true}, nil
	}
	return c.racer.Race(ctx, stage, pref, ok)
}

// confirm waits for the indicator to move past stage. It returns the stage
// the page now shows, or TotalStages+1 when the challenge is complete.
func (c *Controller) confirm(ctx context.Context, stage int) (int, error) {
	if err := sleep(ctx, c.clock, c.opts.PostSubmitWait); err != nil {
		return 0, err
	}
	observed := 0
	var regressed error
	advanced, err := c.waiter.Until(ctx, c.opts.AdvanceTimeout, func(ctx context.Context) (bool, error) {
		n, ok, err := c.reader.Current(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			if n > stage {
				observed = n
				return true, nil
			}
			if regressed = c.regression(stage, n); regressed != nil {
				return true, nil
			}
			return false, nil
		}
		done, err := c.reader.Completed(ctx)
		if err != nil {
			return false, err
		}
		if done || stage >= c.opts.TotalStages {
			observed = c.opts.TotalStages + 1
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return 0, err
	}
	if regressed != nil {
		return 0, regressed
	}
	if !advanced {
		return 0, ErrSubmitDidNotAdvance
	}
	return observed, nil
}

func (c *Controller) canEscalate() bool {
	return c.escalator != nil && c.opts.MaxEscalations > 0 && c.escalations < c.opts.MaxEscalations
}

// escalate asks the escalator for a plan and runs it. It reports whether any
// action was carried out.
func (c *Controller) escalate(ctx context.Context, stage int, cause error) bool {
	c.escalations++
	log := c.logger

	pc, err := buildPageContext(ctx, c.page, stage, c.url, cause)
	if err != nil {
		log.Warn("Could not capture page for escalation.", zap.Int("stage", stage), zap.Error(err))
		return false
	}
	plan, err := c.escalator.Plan(ctx, pc)
	if err != nil {
		log.Warn("Escalation failed.", zap.Int("stage", stage), zap.Error(err))
		return false
	}
	done, err := c.executor.execute(ctx, plan)
	log.Info("Escalation plan executed.",
		append(observability.Event(observability.EventEscalated, stage),
			zap.Int("actions", len(plan.Actions)),
			zap.Int("executed", done))...)
	return err == nil && done > 0
}

// Run navigates to url (when non-empty), enters the challenge and resolves
// stages until completion, ctx expiry or a stage-fatal failure.
func (c *Controller) Run(ctx context.Context, url string) (*RunReport, error) {
	report := &RunReport{
		RunID:       uuid.NewString(),
		URL:         url,
		StartedAt:   c.clock.Now(),
		TotalStages: c.opts.TotalStages,
	}
	c.url = url
	c.escalations = 0
	log := c.logger.With(zap.String(observability.FieldRunID, report.RunID))
	log.Info("Run started.", zap.String(observability.FieldEvent, observability.EventRunStarted), zap.String("url", url))

	defer func() {
		report.FinishedAt = c.clock.Now()
		report.Elapsed = report.FinishedAt.Sub(report.StartedAt)
		report.Learned = c.learned.Snapshot()
		report.Escalations = c.escalations
		log.Info("Run finished.",
			zap.String(observability.FieldEvent, observability.EventRunFinished),
			zap.Int("solved", report.Solved),
			zap.Int("attempted", report.Attempted),
			zap.Int("furthest_stage", report.FurthestStage),
			zap.Bool("completed", report.Completed),
			zap.Duration("elapsed", report.Elapsed))
	}()

	if c.cache != nil {
		c.cache.Reset()
	}
	if url != "" {
		if err := c.page.Navigate(ctx, url); err != nil {
			err = capability("navigate", err)
			report.Error = err.Error()
			return report, err
		}
	}

	start, err := c.enterChallenge(ctx)
	if err != nil {
		report.Error = err.Error()
		report.TimedOut = ctx.Err() != nil
		return report, err
	}

	tracker := NewStageTracker(start, c.opts.RegressionTolerance)
	report.FurthestStage = start
	failures, resets := 0, 0
	var runErr error

	for tracker.Expected() <= c.opts.TotalStages {
		if ctx.Err() != nil {
			break
		}
		if _, err := closeStrayWindows(ctx, c.page); err != nil {
			log.Debug("Closing stray windows failed.", zap.Error(err))
		}

		n, ok, err := c.reader.Current(ctx)
		switch {
		case err != nil:
			log.Debug("Reading stage indicator failed.", zap.Error(err))
		case ok:
			switch obs := tracker.Observe(n); obs {
			case ObservedRegressed:
				log.Warn("Stage indicator regressed; resetting expected stage.",
					zap.Int("page", n), zap.Error(ErrPageInconsistent))
			case ObservedAhead:
				log.Debug("Page is ahead of expected stage.", zap.Int("page", n))
			}
		case c.completionShown(ctx, log):
			tracker.Advance(c.opts.TotalStages + 1)
		}
		if tracker.Expected() > c.opts.TotalStages {
			break
		}

		stage := tracker.Expected()
		report.Attempted++
		rec, err := c.ResolveStage(ctx, stage)
		report.Stages = append(report.Stages, rec)
		if c.onStage != nil {
			c.onStage(rec)
		}
		if err == nil {
			report.Solved++
			tracker.Advance(rec.AdvancedTo)
			if adv := min(rec.AdvancedTo, c.opts.TotalStages); adv > report.FurthestStage {
				report.FurthestStage = adv
			}
			continue
		}
		if ctx.Err() != nil {
			break
		}

		var regressed *RegressionError
		if errors.As(err, &regressed) && resets < c.opts.TotalStages {
			resets++
			tracker.Observe(regressed.Page)
			log.Warn("Stage indicator regressed; resetting expected stage.",
				zap.Int(observability.FieldStage, stage),
				zap.Int("page", regressed.Page),
				zap.Error(ErrPageInconsistent))
			continue
		}

		failures++
		log.Error("Stage failed.",
			append(observability.Event(observability.EventStageFailed, stage),
				zap.Int("retries", rec.Retries),
				zap.Error(err))...)
		c.logDiagnostics(ctx, stage)
		if !c.opts.ContinueOnError || failures >= c.opts.MaxFailures {
			runErr = err
			break
		}
	}

	report.Completed = tracker.Expected() > c.opts.TotalStages
	if report.Completed {
		report.FurthestStage = c.opts.TotalStages
	}
	if ctx.Err() != nil && !report.Completed {
		report.TimedOut = true
		runErr = ctx.Err()
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}
	return report, runErr
}

// completionShown reports whether the completion banner is up. A failed read
// counts as not shown.
func (c *Controller) completionShown(ctx context.Context, log *zap.Logger) bool {
	done, err := c.reader.Completed(ctx)
	if err != nil {
		log.Debug("Reading completion banner failed.", zap.Error(err))
		return false
	}
	return done
}

var startLabels = []string{"START", "Start", "Start Challenge", "Begin", "Get Started"}

// enterChallenge clicks START when the page shows no stage yet and waits for
// the first stage to render. It returns the stage the page is on.
func (c *Controller) enterChallenge(ctx context.Context) (int, error) {
	if n, ok, err := c.reader.Current(ctx); err != nil {
		return 0, err
	} else if ok {
		return n, nil
	}

	controls, err := c.page.Elements(ctx, Query{Selector: controlSelector, VisibleOnly: true})
	if err != nil {
		return 0, capability("query start controls", err)
	}
	if el, ok := findByLabel(controls, startLabels...); ok {
		c.logger.Info("Starting challenge.")
		if err := c.page.Click(ctx, el.Ref); err != nil {
			return 0, capability("click start", err)
		}
	}

	stage := 0
	ready, err := c.waiter.Until(ctx, c.opts.ReadyTimeout, func(ctx context.Context) (bool, error) {
		n, ok, err := c.reader.Current(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			stage = n
			return true, nil
		}
		if _, err := c.submitter.Locate(ctx); err == nil {
			stage = 1
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return 0, err
	}
	if !ready {
		return 0, fmt.Errorf("%w: challenge did not start", ErrCapabilityFailure)
	}
	if _, err := c.normalizer.Normalize(ctx, c.opts.NormalizeRounds); err != nil {
		return 0, err
	}
	return stage, nil
}

// logDiagnostics records what the page looked like when a stage failed.
func (c *Controller) logDiagnostics(ctx context.Context, stage int) {
	fields := []zap.Field{zap.Int(observability.FieldStage, stage)}

	if controls, err := c.page.Elements(ctx, Query{Selector: controlSelector, VisibleOnly: true}); err == nil {
		labels := make([]string, 0, len(controls))
		for _, el := range controls {
			if l := el.Label(); l != "" && len(labels) < maxContextControls {
				labels = append(labels, l)
			}
		}
		fields = append(fields, zap.Strings("buttons", labels))
	}
	if inputs, err := c.page.Elements(ctx, Query{Selector: inputSelector, VisibleOnly: true}); err == nil {
		fields = append(fields, zap.Int("inputs", len(inputs)))
	}
	for _, area := range []StorageArea{LocalStorage, SessionStorage} {
		entries, err := c.page.DumpStorage(ctx, area)
		if err != nil {
			continue
		}
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields = append(fields, zap.Strings(area.String()+"_keys", keys))
	}
	if c.cache != nil {
		fields = append(fields, zap.Int("network_codes", c.cache.Len()))
	}
	c.logger.Warn("Stage failure diagnostics.", fields...)
}
