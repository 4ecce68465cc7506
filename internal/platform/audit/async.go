package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Async forwards events to a Sink on a background goroutine. Record never
// fails; delivery errors are logged. The caller's context only contributes
// its values, so a finished request does not cancel the write.
type Async struct {
	sink    Sink
	logger  zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsync(sink Sink, logger zerolog.Logger, timeout time.Duration) *Async {
	return &Async{sink: sink, logger: logger, timeout: timeout}
}

func (a *Async) Record(ctx context.Context, e *Event) error {
	ctx = context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error().Interface("panic", r).Msg("audit sink panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		if err := a.sink.Record(ctx, e); err != nil {
			a.logger.Warn().Err(err).
				Str("action", string(e.Action)).
				Str("entity_type", e.EntityType).
				Str("patient_id", e.PatientID.String()).
				Msg("audit event dropped")
		}
	}()
	return nil
}

// Wait blocks until in-flight events have been delivered.
func (a *Async) Wait() {
	a.wg.Wait()
}
