package engine

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StageBackoff is the retry schedule for one stage: exponential in the
// attempt number with up to 50% jitter, capped, and strictly increasing
// between consecutive retries of the same stage.
type StageBackoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter func() float64

	attempt int
	prev    time.Duration
}

var _ backoff.BackOff = (*StageBackoff)(nil)

// NewStageBackoff returns a schedule starting at base. jitter returns values
// in [0,1); nil uses math/rand.
func NewStageBackoff(base, limit time.Duration, jitter func() float64) *StageBackoff {
	if jitter == nil {
		jitter = rand.Float64
	}
	return &StageBackoff{Base: base, Cap: limit, Jitter: jitter}
}

// NextBackOff implements backoff.BackOff. When the cap would make a delay no
// longer than the previous one, the previous delay plus a millisecond is used
// instead, so the cap is soft by that margin.
func (b *StageBackoff) NextBackOff() time.Duration {
	nominal := b.Base << uint(b.attempt)
	if nominal <= 0 || nominal > b.Cap {
		nominal = b.Cap
	}
	b.attempt++

	d := nominal + time.Duration(b.Jitter()*float64(nominal)/2)
	if d > b.Cap {
		d = b.Cap
	}
	if d <= b.prev {
		d = b.prev + time.Millisecond
	}
	b.prev = d
	return d
}

// Reset implements backoff.BackOff.
func (b *StageBackoff) Reset() {
	b.attempt = 0
	b.prev = 0
}
