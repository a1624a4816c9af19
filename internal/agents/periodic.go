package agents

import (
	"context"
	"fmt"
	"time"
)

// Run executes step every StepInterval until the context or the worker
// is cancelled. Step errors are logged and counted; the loop keeps
// going. Pauses skip cycles without stopping the ticker.
func (a *BaseAgent) Run(ctx context.Context, step func(context.Context) error) error {
	if a.cfg.StepInterval <= 0 {
		return fmt.Errorf("step interval must be positive, got %s", a.cfg.StepInterval)
	}

	a.log.Info().Dur("interval", a.cfg.StepInterval).Msg("Starting worker run loop")

	ticker := time.NewTicker(a.cfg.StepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("Worker run loop stopped by context")
			return nil
		case <-a.ctx.Done():
			a.log.Info().Msg("Worker run loop stopped by shutdown")
			return nil
		case <-ticker.C:
			if a.CheckPausedAndSkip() {
				continue
			}
			if err := a.step(ctx, step); err != nil {
				a.log.Error().Err(err).Msg("Worker step failed")
			}
		}
	}
}

// step wraps one decision cycle with duration and error accounting.
func (a *BaseAgent) step(ctx context.Context, fn func(context.Context) error) error {
	start := time.Now()
	defer func() {
		a.metrics.StepDuration.Observe(time.Since(start).Seconds())
		a.metrics.StepsTotal.Inc()
	}()

	if err := fn(ctx); err != nil {
		a.metrics.ErrorsTotal.Inc()
		return err
	}
	return nil
}
