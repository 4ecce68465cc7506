package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/cds/internal/domain/clinical"
	"github.com/ehr/cds/internal/domain/rules"
	"github.com/ehr/cds/internal/platform/audit"
)

// Ownership confirms a doctor is assigned to a patient.
type Ownership interface {
	EnsureAssigned(ctx context.Context, doctorID, patientID uuid.UUID) error
}

// FactOverview supplies the active clinical facts shown with the summary.
type FactOverview interface {
	Overview(ctx context.Context, patientID uuid.UUID) (*clinical.Overview, error)
}

// Trigger schedules a background reconciliation.
type Trigger interface {
	Schedule(patientID, doctorID uuid.UUID)
}

type Service struct {
	engine  *Engine
	owners  Ownership
	facts   FactOverview
	trigger Trigger
	audit   audit.Sink
}

func NewService(engine *Engine, owners Ownership, facts FactOverview, trigger Trigger, sink audit.Sink) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Service{engine: engine, owners: owners, facts: facts, trigger: trigger, audit: sink}
}

func (s *Service) scoped(ctx context.Context, doctorID, patientID uuid.UUID, cat rules.Category) (Scope, section, error) {
	sc := Scope{PatientID: patientID, DoctorID: doctorID}
	if err := s.owners.EnsureAssigned(ctx, doctorID, patientID); err != nil {
		return sc, nil, err
	}
	sec, err := s.engine.section(cat)
	if err != nil {
		return sc, nil, err
	}
	return sc, sec, nil
}

func (s *Service) List(ctx context.Context, doctorID, patientID uuid.UUID, cat rules.Category) (any, error) {
	sc, sec, err := s.scoped(ctx, doctorID, patientID, cat)
	if err != nil {
		return nil, err
	}
	return sec.list(ctx, sc)
}

// Create adds a clinician-owned item. Reconciliation never removes it.
func (s *Service) Create(ctx context.Context, doctorID, patientID uuid.UUID, cat rules.Category, raw json.RawMessage) (any, error) {
	sc, sec, err := s.scoped(ctx, doctorID, patientID, cat)
	if err != nil {
		return nil, err
	}
	it, err := sec.create(ctx, sc, raw)
	if err != nil {
		return nil, err
	}
	s.record(ctx, sc, cat, it, audit.ActionCreate, "Added "+humanCategory(cat)+" item", nil)
	return it, nil
}

// UpdateItem edits an item addressed by ref. Changing the content of an
// auto-generated item claims it for the doctor; the ignore ledger is left
// alone, so a suggestion that still matches is inserted again on the next
// reconciliation.
func (s *Service) UpdateItem(ctx context.Context, doctorID, patientID uuid.UUID, cat rules.Category, ref ItemRef, raw json.RawMessage) (any, error) {
	sc, sec, err := s.scoped(ctx, doctorID, patientID, cat)
	if err != nil {
		return nil, err
	}
	var (
		it         any
		superseded string
	)
	err = s.engine.tx(ctx, func(ctx context.Context) error {
		var err error
		it, superseded, err = sec.update(ctx, sc, ref, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	details := map[string]any{"ref_kind": string(ref.Kind)}
	if superseded != "" {
		details["claimed_from"] = superseded
	}
	s.record(ctx, sc, cat, it, audit.ActionUpdate, "Updated "+humanCategory(cat)+" item", details)
	return it, nil
}

// Delete removes an item. Deleting an auto-generated item dismisses the
// catalog suggestion behind it.
func (s *Service) Delete(ctx context.Context, doctorID, patientID uuid.UUID, cat rules.Category, id uuid.UUID) error {
	sc, sec, err := s.scoped(ctx, doctorID, patientID, cat)
	if err != nil {
		return err
	}
	var dismissed string
	err = s.engine.tx(ctx, func(ctx context.Context) error {
		var err error
		dismissed, err = sec.remove(ctx, sc, id)
		if err != nil {
			return err
		}
		if dismissed != "" {
			return s.engine.ledger.RecordIgnored(ctx, sc, cat, dismissed)
		}
		return nil
	})
	if err != nil {
		return err
	}
	details := map[string]any{"item_id": id}
	if dismissed != "" {
		details["ignored_key"] = dismissed
	}
	_ = s.audit.Record(ctx, &audit.Event{
		PatientID:   patientID,
		DoctorID:    doctorID,
		Action:      audit.ActionDelete,
		EntityType:  string(cat),
		Description: "Deleted " + humanCategory(cat) + " item",
		Details:     details,
	})
	return nil
}

// Suggestions lists the catalog entries the rules currently imply.
func (s *Service) Suggestions(ctx context.Context, doctorID, patientID uuid.UUID, cat rules.Category) ([]Suggestion, error) {
	sc, sec, err := s.scoped(ctx, doctorID, patientID, cat)
	if err != nil {
		return nil, err
	}
	outcome, err := s.engine.Outcome(ctx, patientID)
	if err != nil {
		return nil, err
	}
	ignored, err := s.engine.ledger.Ignored(ctx, sc, cat)
	if err != nil {
		return nil, err
	}
	return sec.suggestions(ctx, sc, outcome.Keys(cat), ignored)
}

func (s *Service) Ignore(ctx context.Context, doctorID, patientID uuid.UUID, cat rules.Category, key string) error {
	sc, sec, err := s.scoped(ctx, doctorID, patientID, cat)
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if !sec.hasKey(key) {
		return fmt.Errorf("%w: %s %q", ErrCatalogEntryNotFound, cat, key)
	}
	if err := s.engine.ledger.RecordIgnored(ctx, sc, cat, key); err != nil {
		return err
	}
	_ = s.audit.Record(ctx, &audit.Event{
		PatientID:   patientID,
		DoctorID:    doctorID,
		Action:      audit.ActionCreate,
		EntityType:  "ignored_item",
		Description: "Dismissed " + humanCategory(cat) + " suggestion",
		Details:     map[string]any{"category": string(cat), "catalog_key": key},
	})
	return nil
}

func (s *Service) Ignored(ctx context.Context, doctorID, patientID uuid.UUID) ([]IgnoredItem, error) {
	if err := s.owners.EnsureAssigned(ctx, doctorID, patientID); err != nil {
		return nil, err
	}
	items, err := s.engine.ledger.ListIgnored(ctx, Scope{PatientID: patientID, DoctorID: doctorID})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []IgnoredItem{}
	}
	return items, nil
}

// Unignore lifts a dismissal and schedules reconciliation so the suggestion
// can return.
func (s *Service) Unignore(ctx context.Context, doctorID, patientID uuid.UUID, cat rules.Category, key string) error {
	sc, _, err := s.scoped(ctx, doctorID, patientID, cat)
	if err != nil {
		return err
	}
	if err := s.engine.ledger.Unignore(ctx, sc, cat, key); err != nil {
		return err
	}
	_ = s.audit.Record(ctx, &audit.Event{
		PatientID:   patientID,
		DoctorID:    doctorID,
		Action:      audit.ActionDelete,
		EntityType:  "ignored_item",
		Description: "Restored " + humanCategory(cat) + " suggestion",
		Details:     map[string]any{"category": string(cat), "catalog_key": key},
	})
	s.trigger.Schedule(patientID, doctorID)
	return nil
}

// Reconcile runs reconciliation synchronously.
func (s *Service) Reconcile(ctx context.Context, doctorID, patientID uuid.UUID) (*Report, error) {
	if err := s.owners.EnsureAssigned(ctx, doctorID, patientID); err != nil {
		return nil, err
	}
	return s.engine.Reconcile(ctx, patientID, doctorID)
}

// Overview assembles the active facts, every persisted category and the
// risks the rules imply right now. Risks are never stored.
func (s *Service) Overview(ctx context.Context, doctorID, patientID uuid.UUID) (*PatientSummary, error) {
	if err := s.owners.EnsureAssigned(ctx, doctorID, patientID); err != nil {
		return nil, err
	}
	sc := Scope{PatientID: patientID, DoctorID: doctorID}

	facts, err := s.facts.Overview(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	out := &PatientSummary{
		PatientID:  patientID,
		Facts:      facts,
		Categories: make(map[rules.Category]any, len(s.engine.sections)),
		Risks:      []rules.Entry[rules.Risk]{},
	}
	for _, sec := range s.engine.sections {
		items, err := sec.list(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", sec.Category(), err)
		}
		out.Categories[sec.Category()] = items
	}

	outcome, err := s.engine.Outcome(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("evaluate risks: %w", err)
	}
	out.Stratum = outcome.Stratum
	for _, key := range outcome.Keys(rules.Risks) {
		if e, ok := s.engine.catalog.Risks.Get(key); ok {
			out.Risks = append(out.Risks, e)
		}
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, sc Scope, cat rules.Category, it any, action audit.Action, desc string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	if v, ok := it.(identified); ok {
		details["item_id"] = v.itemID()
	}
	_ = s.audit.Record(ctx, &audit.Event{
		PatientID:   sc.PatientID,
		DoctorID:    sc.DoctorID,
		Action:      action,
		EntityType:  string(cat),
		Description: desc,
		Details:     details,
	})
}

func humanCategory(c rules.Category) string {
	return strings.ReplaceAll(string(c), "_", " ")
}
