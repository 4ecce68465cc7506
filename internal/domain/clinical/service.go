package clinical

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/cds/internal/domain/rules"
	"github.com/ehr/cds/internal/platform/audit"
)

// Trigger schedules a summary reconciliation for a patient and doctor. It
// must not block.
type Trigger interface {
	Schedule(patientID, doctorID uuid.UUID)
}

// Ownership confirms a doctor is assigned to a patient.
type Ownership interface {
	EnsureAssigned(ctx context.Context, doctorID, patientID uuid.UUID) error
}

// Dictionaries resolves the reference entries facts point at.
type Dictionaries interface {
	DictionaryEntry(kind rules.FactKind, code string) (rules.DictionaryEntry, bool)
	Dictionary(kind rules.FactKind) []rules.DictionaryEntry
}

type Service struct {
	repo    Repository
	dicts   Dictionaries
	owners  Ownership
	trigger Trigger
	audit   audit.Sink
	now     func() time.Time
}

func NewService(repo Repository, dicts Dictionaries, owners Ownership, trigger Trigger, sink audit.Sink) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Service{repo: repo, dicts: dicts, owners: owners, trigger: trigger, audit: sink, now: time.Now}
}

func (s *Service) Create(ctx context.Context, doctorID, patientID uuid.UUID, kind rules.FactKind, req CreateRequest) (*Fact, error) {
	if err := s.owners.EnsureAssigned(ctx, doctorID, patientID); err != nil {
		return nil, err
	}
	code := strings.TrimSpace(req.Code)
	entry, ok := s.dicts.DictionaryEntry(kind, code)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrUnknownDictionaryEntry, kind, code)
	}

	f := &Fact{
		PatientID: patientID,
		Kind:      kind,
		Code:      entry.Code,
		Name:      entry.Name,
		Unit:      entry.Unit,
		Value:     trimmedOrNil(req.Value),
		Notes:     trimmedOrNil(req.Notes),
	}
	if d := strings.TrimSpace(req.ObservedOn); d != "" {
		t, err := time.Parse(dateLayout, d)
		if err != nil {
			return nil, fmt.Errorf("%w: observed_on must be YYYY-MM-DD", ErrInvalidDate)
		}
		f.ObservedOn = &t
	}

	if err := s.repo.Create(ctx, f); err != nil {
		return nil, err
	}
	s.record(ctx, doctorID, f, audit.ActionCreate, fmt.Sprintf("Recorded %s %s", humanKind(kind), entry.Name),
		map[string]any{"code": f.Code, "value": f.Value})
	s.trigger.Schedule(patientID, doctorID)
	return f, nil
}

func (s *Service) Get(ctx context.Context, doctorID, patientID uuid.UUID, kind rules.FactKind, id uuid.UUID) (*Fact, error) {
	if err := s.owners.EnsureAssigned(ctx, doctorID, patientID); err != nil {
		return nil, err
	}
	return s.owned(ctx, patientID, kind, id)
}

// owned loads a fact and hides facts of other patients.
func (s *Service) owned(ctx context.Context, patientID uuid.UUID, kind rules.FactKind, id uuid.UUID) (*Fact, error) {
	f, err := s.repo.GetByID(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if f.PatientID != patientID {
		return nil, ErrNotFound
	}
	return f, nil
}

func (s *Service) List(ctx context.Context, doctorID, patientID uuid.UUID, kind rules.FactKind, filter ListFilter) ([]*Fact, int, error) {
	if err := s.owners.EnsureAssigned(ctx, doctorID, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, kind, patientID, filter)
}

// Resolve closes an active fact. The row is kept.
func (s *Service) Resolve(ctx context.Context, doctorID, patientID uuid.UUID, kind rules.FactKind, id uuid.UUID) (*Fact, error) {
	if err := s.owners.EnsureAssigned(ctx, doctorID, patientID); err != nil {
		return nil, err
	}
	f, err := s.owned(ctx, patientID, kind, id)
	if err != nil {
		return nil, err
	}
	if !f.Active() {
		return nil, ErrAlreadyResolved
	}
	at := s.now().UTC()
	if err := s.repo.Resolve(ctx, kind, id, at); err != nil {
		return nil, err
	}
	f.ResolvedAt = &at
	s.record(ctx, doctorID, f, audit.ActionUpdate, fmt.Sprintf("Resolved %s %s", humanKind(kind), f.Name),
		map[string]any{"code": f.Code, "resolved_at": at})
	s.trigger.Schedule(patientID, doctorID)
	return f, nil
}

// UpdateValue corrects the recorded value of a vital sign or test.
func (s *Service) UpdateValue(ctx context.Context, doctorID, patientID uuid.UUID, kind rules.FactKind, id uuid.UUID, req UpdateValueRequest) (*Fact, error) {
	if !kind.Thresholded() {
		return nil, ErrValueNotAllowed
	}
	value := strings.TrimSpace(req.Value)
	if value == "" {
		return nil, fmt.Errorf("%w: value is required", ErrInvalidValue)
	}
	if err := s.owners.EnsureAssigned(ctx, doctorID, patientID); err != nil {
		return nil, err
	}
	f, err := s.owned(ctx, patientID, kind, id)
	if err != nil {
		return nil, err
	}
	previous := f.Value
	if err := s.repo.UpdateValue(ctx, kind, id, value); err != nil {
		return nil, err
	}
	f.Value = &value
	s.record(ctx, doctorID, f, audit.ActionUpdate, fmt.Sprintf("Corrected %s %s", humanKind(kind), f.Name),
		map[string]any{"code": f.Code, "previous_value": previous, "value": value})
	s.trigger.Schedule(patientID, doctorID)
	return f, nil
}

func (s *Service) Delete(ctx context.Context, doctorID, patientID uuid.UUID, kind rules.FactKind, id uuid.UUID) error {
	if err := s.owners.EnsureAssigned(ctx, doctorID, patientID); err != nil {
		return err
	}
	f, err := s.owned(ctx, patientID, kind, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, kind, id); err != nil {
		return err
	}
	s.record(ctx, doctorID, f, audit.ActionDelete, fmt.Sprintf("Deleted %s %s", humanKind(kind), f.Name),
		map[string]any{"code": f.Code, "state": string(f.State())})
	s.trigger.Schedule(patientID, doctorID)
	return nil
}

func (s *Service) Dictionary(kind rules.FactKind) []rules.DictionaryEntry {
	return s.dicts.Dictionary(kind)
}

// Overview returns the active symptoms, personal history and vital signs,
// and the latest test per code whether or not it has been resolved. Callers
// check ownership.
func (s *Service) Overview(ctx context.Context, patientID uuid.UUID) (*Overview, error) {
	active, err := s.repo.Active(ctx, patientID)
	if err != nil {
		return nil, err
	}
	tests, err := s.repo.LatestTests(ctx, patientID)
	if err != nil {
		return nil, err
	}
	ov := &Overview{
		Symptoms:        []*Fact{},
		PersonalHistory: []*Fact{},
		VitalSigns:      []*Fact{},
		Tests:           tests,
	}
	if ov.Tests == nil {
		ov.Tests = []*Fact{}
	}
	for _, f := range active {
		switch f.Kind {
		case rules.KindSymptom:
			ov.Symptoms = append(ov.Symptoms, f)
		case rules.KindPersonalHistory:
			ov.PersonalHistory = append(ov.PersonalHistory, f)
		case rules.KindVitalSign:
			ov.VitalSigns = append(ov.VitalSigns, f)
		}
	}
	return ov, nil
}

func (s *Service) record(ctx context.Context, doctorID uuid.UUID, f *Fact, action audit.Action, desc string, details map[string]any) {
	details["fact_id"] = f.ID
	_ = s.audit.Record(ctx, &audit.Event{
		PatientID:   f.PatientID,
		DoctorID:    doctorID,
		Action:      action,
		EntityType:  string(f.Kind),
		Description: desc,
		Details:     details,
	})
}

func humanKind(k rules.FactKind) string {
	return strings.ReplaceAll(string(k), "_", " ")
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
