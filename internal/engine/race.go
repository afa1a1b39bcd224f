package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type raceResult struct {
	source Source
	value  string
	err    error
}

// Racer runs the source adapters concurrently for one stage and picks the
// highest ranked valid candidate.
type Racer struct {
	adapters []Adapter
	filter   *DecoyFilter
	wait     time.Duration
	logger   *zap.Logger
}

// NewRacer returns a racer that waits at most wait for adapters to report.
func NewRacer(adapters []Adapter, filter *DecoyFilter, wait time.Duration, logger *zap.Logger) *Racer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Racer{adapters: adapters, filter: filter, wait: wait, logger: logger.Named("race")}
}

// Race ranks sources with preferred first (when ok) and the default priority
// after it. It returns as soon as the best ranked source still in contention
// has a valid value, and otherwise once every adapter has reported or the
// wait elapsed. Every adapter goroutine has exited when Race returns.
func (r *Racer) Race(ctx context.Context, stage int, preferred Source, ok bool) (Candidate, error) {
	raceCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	results := make(chan raceResult, len(r.adapters))
	g, gctx := errgroup.WithContext(raceCtx)
	for _, a := range r.adapters {
		a := a
		g.Go(func() error {
			v, err := a.Candidate(gctx, stage)
			results <- raceResult{source: a.Source(), value: v, err: err}
			return nil
		})
	}

	cand, err := r.collect(raceCtx, stage, sourceOrder(preferred, ok), results)
	cancel()
	_ = g.Wait()
	if ctx.Err() != nil {
		return Candidate{}, ctx.Err()
	}
	return cand, err
}

func (r *Racer) collect(ctx context.Context, stage int, order []Source, results <-chan raceResult) (Candidate, error) {
	reported := make(map[Source]raceResult, len(r.adapters))
	present := make(map[Source]bool, len(r.adapters))
	for _, a := range r.adapters {
		present[a.Source()] = true
	}

	decide := func(final bool) (Candidate, bool) {
		for _, src := range order {
			if !present[src] {
				continue
			}
			res, done := reported[src]
			if !done {
				if final {
					continue
				}
				return Candidate{}, false
			}
			if res.err == nil && r.filter.IsValidCode(res.value) {
				return Candidate{Value: res.value, Source: src, Valid: true}, true
			}
		}
		return Candidate{}, final
	}

	for len(reported) < len(r.adapters) {
		select {
		case <-ctx.Done():
			r.logger.Debug("Source race timed out.", zap.Int("stage", stage), zap.Int("reported", len(reported)))
			if c, _ := decide(true); c.Valid {
				return c, nil
			}
			return Candidate{}, fmt.Errorf("%w: timed out after %d of %d sources", ErrNoValidCandidate, len(reported), len(r.adapters))
		case res := <-results:
			reported[res.source] = res
			r.logReport(stage, res)
			if c, done := decide(false); done && c.Valid {
				return c, nil
			}
		}
	}

	if c, _ := decide(true); c.Valid {
		return c, nil
	}
	failed := 0
	for _, res := range reported {
		if res.err != nil && !errors.Is(res.err, ErrNoCandidate) {
			failed++
		}
	}
	if failed > 0 {
		return Candidate{}, fmt.Errorf("%w: %d source(s) failed", ErrNoValidCandidate, failed)
	}
	return Candidate{}, ErrNoValidCandidate
}

func (r *Racer) logReport(stage int, res raceResult) {
	switch {
	case res.err != nil && !errors.Is(res.err, ErrNoCandidate):
		r.logger.Debug("Source failed.", zap.Int("stage", stage), zap.Stringer("source", res.source), zap.Error(res.err))
	case res.err != nil:
		r.logger.Debug("Source has no candidate.", zap.Int("stage", stage), zap.Stringer("source", res.source))
	default:
		if reason := r.filter.Reject(res.value); reason != "" {
			r.logger.Debug("Rejected candidate.", zap.Int("stage", stage), zap.Stringer("source", res.source), zap.String("reason", reason))
		}
	}
}
