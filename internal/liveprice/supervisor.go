package liveprice

import (
	"context"
	"time"

	"countervalue/internal/obs"
)

const (
	// RestartAfterError is how long the supervisor waits before relaunching
	// the pipeline after it returns an error.
	RestartAfterError = 60 * time.Second

	// RestartAfterCompletion is how long the supervisor waits before
	// relaunching the pipeline after it completes naturally (the provider
	// closed the stream without error).
	RestartAfterCompletion = 30 * time.Second

	// ForcedRebootAfter is the coarse uptime ceiling past which the
	// supervisor unsubscribes and relaunches even if the pipeline is
	// healthy, bounding any slow leak in the underlying transport.
	ForcedRebootAfter = 4 * time.Hour

	// ForcedRebootSettle is the pause between the forced unsubscribe and
	// the relaunch.
	ForcedRebootSettle = 10 * time.Second
)

// Supervisor wraps Pipeline.Run in a restart loop implementing the three
// timers of §4.H: restart-after-error, restart-after-completion, and a
// forced reboot after ForcedRebootAfter of uptime.
type Supervisor struct {
	pipeline *Pipeline
	logger   *obs.Logger
}

// NewSupervisor builds a Supervisor around pipeline.
func NewSupervisor(pipeline *Pipeline, logger *obs.Logger) *Supervisor {
	return &Supervisor{pipeline: pipeline, logger: logger}
}

// Run loops Pipeline.Run until ctx is cancelled. It never returns early on
// a pipeline error or natural completion; it only returns once ctx.Err()
// is non-nil.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		runCtx, cancel := context.WithTimeout(ctx, ForcedRebootAfter)
		started := time.Now()
		err := s.pipeline.Run(runCtx)
		cancel()

		uptime := time.Since(started)

		if ctx.Err() != nil {
			return
		}

		switch {
		case uptime >= ForcedRebootAfter:
			s.logger.Info("live-price pipeline forced reboot after uptime ceiling")
			if !sleepOrDone(ctx, ForcedRebootSettle) {
				return
			}
		case err != nil:
			s.logger.WithError(err).Warn("live-price pipeline exited with error, restarting")
			if !sleepOrDone(ctx, RestartAfterError) {
				return
			}
		default:
			s.logger.Info("live-price pipeline completed naturally, restarting")
			if !sleepOrDone(ctx, RestartAfterCompletion) {
				return
			}
		}
	}
}

// sleepOrDone waits for d or ctx cancellation, whichever is first.
// Returns false if ctx was cancelled during the wait.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
