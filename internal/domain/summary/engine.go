package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/cds/internal/domain/rules"
	"github.com/ehr/cds/internal/platform/metrics"
)

// Evaluator computes the catalog keys the decision rules imply for a patient.
type Evaluator interface {
	Evaluate(ctx context.Context, patientID uuid.UUID) (*rules.Outcome, error)
}

// TxFunc runs fn inside a transaction carried by ctx.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// Engine brings the six auto-generated summary categories of a patient in
// line with the decision rules.
type Engine struct {
	eval     Evaluator
	catalog  *rules.Catalog
	sections []section
	ledger   Ledger
	tx       TxFunc
	logger   zerolog.Logger
	now      func() time.Time
}

func NewEngine(eval Evaluator, catalog *rules.Catalog, stores Stores, ledger Ledger, tx TxFunc, logger zerolog.Logger) *Engine {
	if tx == nil {
		tx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Engine{
		eval:     eval,
		catalog:  catalog,
		sections: buildSections(catalog, stores),
		ledger:   ledger,
		tx:       tx,
		logger:   logger.With().Str("component", "reconcile").Logger(),
		now:      time.Now,
	}
}

func (e *Engine) section(cat rules.Category) (section, error) {
	for _, s := range e.sections {
		if s.Category() == cat {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
}

// Reconcile evaluates the rules for the patient and applies the result to
// every category in one transaction. Nothing is written when any category
// fails.
func (e *Engine) Reconcile(ctx context.Context, patientID, doctorID uuid.UUID) (*Report, error) {
	start := e.now()
	sc := Scope{PatientID: patientID, DoctorID: doctorID}
	report := &Report{
		PatientID:  patientID,
		DoctorID:   doctorID,
		Categories: make(map[rules.Category]CategoryReport, len(e.sections)),
	}

	err := e.tx(ctx, func(ctx context.Context) error {
		outcome, err := e.eval.Evaluate(ctx, patientID)
		if err != nil {
			return fmt.Errorf("evaluate rules: %w", err)
		}
		for _, s := range e.sections {
			cat := s.Category()
			ignored, err := e.ledger.Ignored(ctx, sc, cat)
			if err != nil {
				return fmt.Errorf("load ignored %s: %w", cat, err)
			}
			r, err := s.reconcile(ctx, sc, outcome.Keys(cat), ignored)
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", cat, err)
			}
			report.Categories[cat] = r
		}
		return nil
	})
	report.Duration = e.now().Sub(start)
	if err != nil {
		e.logger.Error().Err(err).
			Str("patient_id", patientID.String()).
			Str("doctor_id", doctorID.String()).
			Msg("reconciliation failed")
		return nil, err
	}

	for cat, r := range report.Categories {
		metrics.RecordSummaryChanges(string(cat), "inserted", r.Inserted)
		metrics.RecordSummaryChanges(string(cat), "pruned", r.Pruned)
		metrics.RecordSummaryChanges(string(cat), "deduplicated", r.Deduplicated)
	}
	t := report.Totals()
	e.logger.Info().
		Str("patient_id", patientID.String()).
		Str("doctor_id", doctorID.String()).
		Int("inserted", t.Inserted).
		Int("pruned", t.Pruned).
		Int("deduplicated", t.Deduplicated).
		Int("suppressed", t.Suppressed).
		Dur("duration", report.Duration).
		Msg("summary reconciled")
	return report, nil
}

// Outcome evaluates the rules without touching persisted items.
func (e *Engine) Outcome(ctx context.Context, patientID uuid.UUID) (*rules.Outcome, error) {
	return e.eval.Evaluate(ctx, patientID)
}
