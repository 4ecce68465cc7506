package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/cds/internal/platform/metrics"
)

// ErrPatientNotFound is returned by a FactSource for an unknown patient.
var ErrPatientNotFound = errors.New("patient not found")

// Profile is the demographic data rules are stratified on.
type Profile struct {
	PatientID uuid.UUID
	BirthDate time.Time
	Gender    Gender
}

// ActiveFact is an unresolved clinical fact as seen by the evaluator.
type ActiveFact struct {
	Kind  FactKind
	Code  string
	Value *string
}

// FactSource supplies the evaluator with patient data.
type FactSource interface {
	Profile(ctx context.Context, patientID uuid.UUID) (*Profile, error)
	ActiveFacts(ctx context.Context, patientID uuid.UUID) ([]ActiveFact, error)
}

// Outcome is the set of catalog keys implied for a patient, per category.
// Every key resolves in the catalog the evaluator was built with.
type Outcome struct {
	Stratum *Stratum
	keys    map[Category]map[string]struct{}
}

func newOutcome() *Outcome {
	return &Outcome{keys: make(map[Category]map[string]struct{})}
}

func (o *Outcome) add(c Category, key string) {
	set, ok := o.keys[c]
	if !ok {
		set = make(map[string]struct{})
		o.keys[c] = set
	}
	set[key] = struct{}{}
}

// Keys returns the sorted keys for c.
func (o *Outcome) Keys(c Category) []string {
	set := o.keys[c]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (o *Outcome) Has(c Category, key string) bool {
	_, ok := o.keys[c][key]
	return ok
}

// Empty reports whether no category has any key.
func (o *Outcome) Empty() bool {
	for _, set := range o.keys {
		if len(set) > 0 {
			return false
		}
	}
	return true
}

// Evaluator computes which catalog entries a patient's facts imply.
type Evaluator struct {
	book    *Book
	catalog *Catalog
	facts   FactSource
	logger  zerolog.Logger
	now     func() time.Time
}

func NewEvaluator(ref *ReferenceData, facts FactSource, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		book:    ref.Book,
		catalog: ref.Catalog,
		facts:   facts,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the time source used for age calculation.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate returns the keys implied by the patient's active facts across all
// four fact kinds. An unknown patient yields an empty outcome.
func (e *Evaluator) Evaluate(ctx context.Context, patientID uuid.UUID) (*Outcome, error) {
	out := newOutcome()

	profile, err := e.facts.Profile(ctx, patientID)
	if errors.Is(err, ErrPatientNotFound) || (err == nil && profile == nil) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load patient profile: %w", err)
	}
	stratum := Stratify(profile.BirthDate, profile.Gender, e.now())
	out.Stratum = &stratum

	facts, err := e.facts.ActiveFacts(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load active facts: %w", err)
	}

	for _, f := range facts {
		var value float64
		if f.Kind.Thresholded() {
			v, ok := ParseValue(f.Value)
			if !ok {
				e.logger.Debug().Str("kind", string(f.Kind)).Str("code", f.Code).Msg("non-numeric value skipped")
				continue
			}
			value = v
		}
		for _, rule := range e.book.Candidates(f.Kind, f.Code, stratum) {
			if f.Kind.Thresholded() && !Match(value, rule.MinValue, rule.MaxValue) {
				continue
			}
			e.collect(out, f.Kind, rule)
		}
	}
	return out, nil
}

func (e *Evaluator) collect(out *Outcome, kind FactKind, rule DecisionRule) {
	for _, c := range allCategories {
		if !kind.Feeds(c) {
			continue
		}
		key, ok := rule.Key(c)
		if !ok {
			continue
		}
		if !e.catalog.Has(c, key) {
			metrics.RecordDanglingKey(string(c))
			e.logger.Warn().
				Int64("rule_id", rule.ID).
				Str("kind", string(kind)).
				Str("category", string(c)).
				Str("key", key).
				Msg("decision rule references missing catalog key")
			continue
		}
		out.add(c, key)
	}
}
