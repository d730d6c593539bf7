// Package cron runs the periodic re-drive jobs of the message bus.
package cron

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SweepFunc re-enqueues pending work and reports how many items it picked up.
type SweepFunc func(ctx context.Context) (int, error)

// SweepJob calls a SweepFunc on a fixed interval and on demand.
type SweepJob struct {
	name     string
	sweep    SweepFunc
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	forceCh chan struct{}
	wg      sync.WaitGroup
}

func NewSweepJob(name string, sweep SweepFunc, interval, perSweepTimeout time.Duration, logger zerolog.Logger) *SweepJob {
	if interval <= 0 {
		interval = time.Minute
	}
	if perSweepTimeout <= 0 {
		perSweepTimeout = 30 * time.Second
	}
	return &SweepJob{
		name:     name,
		sweep:    sweep,
		interval: interval,
		timeout:  perSweepTimeout,
		logger:   logger.With().Str("component", "sweep_cron").Str("job", name).Logger(),
	}
}

// Name returns the job name.
func (j *SweepJob) Name() string {
	return j.name
}

// Start launches the background loop and returns immediately.
// Subsequent calls are no-ops while the job is running.
func (j *SweepJob) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	if j.sweep == nil {
		return errors.New("cron: sweep function must be non-nil")
	}

	j.stopCh = make(chan struct{})
	j.forceCh = make(chan struct{}, 1)
	j.running = true
	j.wg.Add(1)

	go j.run(ctx, j.stopCh, j.forceCh)
	return nil
}

// Stop signals the loop to exit and waits for it to finish.
func (j *SweepJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stopCh)
	j.running = false
	j.mu.Unlock()
	j.wg.Wait()
}

// ForceSync requests an immediate sweep. It never blocks; a request made
// while another one is pending is coalesced.
func (j *SweepJob) ForceSync() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	select {
	case j.forceCh <- struct{}{}:
	default:
	}
}

// SweepOnce runs the sweep synchronously, outside the loop.
func (j *SweepJob) SweepOnce(ctx context.Context) (int, error) {
	if j.sweep == nil {
		return 0, errors.New("cron: sweep function must be non-nil")
	}
	return j.sweepOnce(ctx)
}

func (j *SweepJob) run(parent context.Context, stopCh, forceCh chan struct{}) {
	defer j.wg.Done()

	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-parent.Done():
			j.logger.Info().Msg("context canceled; stopping")
			return
		case <-stopCh:
			j.logger.Info().Msg("stop requested; stopping")
			return
		case <-t.C:
			j.tick(parent, "periodic")
		case <-forceCh:
			j.tick(parent, "forced")
		}
	}
}

func (j *SweepJob) tick(ctx context.Context, trigger string) {
	n, err := j.sweepOnce(ctx)
	if err != nil {
		j.logger.Warn().Err(err).Str("trigger", trigger).Msg("sweep failed")
		return
	}
	if n > 0 {
		j.logger.Info().Int("requeued", n).Str("trigger", trigger).Msg("sweep requeued pending messages")
	}
}

func (j *SweepJob) sweepOnce(parent context.Context) (int, error) {
	timeout := j.timeout
	if dl, ok := parent.Deadline(); ok {
		if remain := time.Until(dl); remain > 0 && remain < timeout {
			timeout = remain
		}
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	return j.sweep(ctx)
}
