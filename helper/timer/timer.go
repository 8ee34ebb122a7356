package timer

import (
	"context"
	"math/rand"
	"time"

	"github.com/lthibault/jitterbug"

	log "github.com/sirupsen/logrus"
)

// Interval describes a periodic schedule. Jitter, if non-zero, spreads ticks
// by up to +/-Jitter so that many nodes started together do not probe in
// lockstep.
type Interval struct {
	Duration time.Duration
	Jitter   time.Duration
}

type symmetricJitter struct {
	max time.Duration
}

func (j symmetricJitter) Jitter(d time.Duration) time.Duration {
	if j.max == 0 {
		return d
	}
	if j.max >= d {
		log.Fatalf("timer: jitter %v must be smaller than interval %v", j.max, d)
	}
	return d + time.Duration(rand.Int63n(int64(2*j.max))) - j.max
}

// RunWithTicker invokes f on every tick until the context is cancelled or f
// returns an error.
func RunWithTicker(ctx context.Context, interval Interval, f func(ctx context.Context) error) error {
	t := jitterbug.New(interval.Duration, symmetricJitter{max: interval.Jitter})
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := f(ctx); err != nil {
				return err
			}
		}
	}
}
