package worker

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs functions on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

func NewScheduler(logger zerolog.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(), logger: logger}
}

// Add registers fn under name. expr uses the standard five-field syntax or a
// descriptor such as "@every 1h".
func (s *Scheduler) Add(name, expr string, fn func()) error {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("parse schedule %q for %s: %w", expr, name, err)
	}
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Str("job", name).Interface("panic", r).Msg("scheduled job panicked")
			}
		}()
		s.logger.Debug().Str("job", name).Msg("scheduled job firing")
		fn()
	}))
	s.logger.Info().Str("job", name).Str("schedule", expr).Msg("job scheduled")
	return nil
}

// Len is the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns a context that is done once running
// jobs have completed.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
