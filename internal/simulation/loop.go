package simulation

import (
	"context"
	"time"
)

// DefaultInterval is the wall-clock period between kinematics ticks.
const DefaultInterval = 100 * time.Millisecond

// StepFunc advances the simulation by one fixed step.
type StepFunc func(step time.Duration)

// Loop invokes a StepFunc on a fixed period until cancelled. Missed periods are caught
// up so the number of steps tracks elapsed wall time.
type Loop struct {
	step     time.Duration
	stepFunc StepFunc
	maxBurst int
	ticker   *time.Ticker
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewLoop configures a loop that fires every interval.
func NewLoop(interval time.Duration, step StepFunc) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	return &Loop{
		step:     interval,
		stepFunc: step,
		maxBurst: 5,
	}
}

// Start begins ticking in a goroutine until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil {
		return
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.ticker = time.NewTicker(l.step)
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		defer l.ticker.Stop()
		last := time.Now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-l.ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				burst := 0
				for accumulator >= l.step && burst < l.maxBurst {
					l.stepFunc(l.step)
					accumulator -= l.step
					burst++
				}
				//2.- Drop backlog beyond the burst cap so a stalled host cannot spiral.
				if accumulator >= l.step {
					accumulator = 0
				}
			}
		}
	}()
}

// Run blocks until the context is cancelled, ticking on the calling goroutine's behalf.
func (l *Loop) Run(ctx context.Context) error {
	l.Start(ctx)
	<-ctx.Done()
	l.Stop()
	return nil
}

// Stop cancels the ticker and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
		l.done = nil
	}
}

// StepDuration exposes the configured period for testing.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}
