// Package sweep periodically finishes ACTIVE games whose side to move has run out of time,
// so an abandoned game still settles without anyone touching it.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/park285/chess-wager/internal/obslog"
	"go.uber.org/zap"
)

// Expirer is the slice of the session service the sweeper drives.
type Expirer interface {
	SweepTimeouts(ctx context.Context) (int, error)
}

type Sweeper struct {
	sched   gocron.Scheduler
	target  Expirer
	timeout time.Duration
}

// New schedules a sweep every interval. Runs never overlap; a tick that lands while the
// previous run is still going is rescheduled.
func New(target Expirer, interval time.Duration) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("new scheduler: %w", err)
	}
	s := &Sweeper{sched: sched, target: target, timeout: interval * 4}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.RunOnce),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("timeout-sweep"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	return s, nil
}

func (s *Sweeper) Start() { s.sched.Start() }

// RunOnce performs a single sweep and returns the number of games it finished.
func (s *Sweeper) RunOnce() int {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.target.SweepTimeouts(ctx)
	if err != nil {
		obslog.L().Warn("timeout_sweep_failed", zap.Int("expired", n), zap.Error(err))
		return n
	}
	if n > 0 {
		obslog.L().Info("timeout_sweep", zap.Int("expired", n))
	}
	return n
}

func (s *Sweeper) Stop() error { return s.sched.Shutdown() }
