package patient

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/cds/internal/domain/rules"
	"github.com/ehr/cds/internal/platform/audit"
)

// Trigger schedules a summary reconciliation for a patient and doctor.
type Trigger interface {
	Schedule(patientID, doctorID uuid.UUID)
}

type nopTrigger struct{}

func (nopTrigger) Schedule(uuid.UUID, uuid.UUID) {}

type Service struct {
	repo    Repository
	audit   audit.Sink
	trigger Trigger
	now     func() time.Time
}

func NewService(repo Repository, sink audit.Sink) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Service{repo: repo, audit: sink, trigger: nopTrigger{}, now: time.Now}
}

// SetTrigger installs the reconciliation trigger used when demographics
// change. The engine reads profiles through this service, so the trigger is
// wired after construction.
func (s *Service) SetTrigger(t Trigger) {
	if t == nil {
		t = nopTrigger{}
	}
	s.trigger = t
}

// parse validates req and returns the patient it describes.
func (s *Service) parse(req CreateRequest) (*Patient, error) {
	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)
	if first == "" || last == "" {
		return nil, fmt.Errorf("%w: first_name and last_name are required", ErrInvalid)
	}
	gender, err := rules.ParseGender(req.Gender)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	dob, err := time.Parse(dateLayout, strings.TrimSpace(req.BirthDate))
	if err != nil {
		return nil, fmt.Errorf("%w: birth_date must be YYYY-MM-DD", ErrInvalidDate)
	}
	if dob.After(s.now()) {
		return nil, fmt.Errorf("%w: birth_date is in the future", ErrInvalidDate)
	}
	email := strings.TrimSpace(req.Email)
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return nil, fmt.Errorf("%w: email %q is not a valid address", ErrInvalid, email)
		}
	}
	return &Patient{
		FirstName: first,
		LastName:  last,
		Gender:    gender,
		BirthDate: dob,
		Contact: ContactInfo{
			Phone: strings.TrimSpace(req.Phone),
			Email: email,
		},
		Social: SocialInfo{
			Ethnicity:         strings.TrimSpace(req.Ethnicity),
			MaritalStatus:     strings.TrimSpace(req.MaritalStatus),
			Occupation:        strings.TrimSpace(req.Occupation),
			InsuranceProvider: strings.TrimSpace(req.InsuranceProvider),
			Address:           strings.TrimSpace(req.Address),
		},
	}, nil
}

func (s *Service) Create(ctx context.Context, doctorID uuid.UUID, req CreateRequest) (*Patient, error) {
	p, err := s.parse(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, p, doctorID); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	_ = s.audit.Record(ctx, &audit.Event{
		PatientID:   p.ID,
		DoctorID:    doctorID,
		Action:      audit.ActionCreate,
		EntityType:  "patient",
		Description: fmt.Sprintf("Registered patient %s %s", p.FirstName, p.LastName),
		Details:     map[string]any{"gender": string(p.Gender), "birth_date": p.BirthDate.Format(dateLayout)},
	})
	return p, nil
}

// Update replaces the patient's demographics. A change of gender or birth
// date moves the patient to another rule stratum, so every assigned doctor's
// summary is reconciled again.
func (s *Service) Update(ctx context.Context, doctorID, id uuid.UUID, req CreateRequest) (*Patient, error) {
	if err := s.EnsureAssigned(ctx, doctorID, id); err != nil {
		return nil, err
	}
	prev, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := s.parse(req)
	if err != nil {
		return nil, err
	}
	next.ID = id
	next.CreatedAt = prev.CreatedAt
	if err := s.repo.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("update patient: %w", err)
	}

	oldValues, newValues := diff(prev, next)
	_ = s.audit.Record(ctx, &audit.Event{
		PatientID:   id,
		DoctorID:    doctorID,
		Action:      audit.ActionUpdate,
		EntityType:  "patient",
		Description: fmt.Sprintf("Updated patient %s %s", next.FirstName, next.LastName),
		Details:     map[string]any{"old": oldValues, "new": newValues},
	})

	if prev.Gender != next.Gender || !prev.BirthDate.Equal(next.BirthDate) {
		doctors, err := s.repo.DoctorsFor(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list assigned doctors: %w", err)
		}
		for _, d := range doctors {
			s.trigger.Schedule(id, d)
		}
	}
	return next, nil
}

// diff returns the old and new values of the fields that changed.
func diff(prev, next *Patient) (map[string]any, map[string]any) {
	fields := []struct {
		name          string
		before, after string
	}{
		{"first_name", prev.FirstName, next.FirstName},
		{"last_name", prev.LastName, next.LastName},
		{"gender", string(prev.Gender), string(next.Gender)},
		{"birth_date", prev.BirthDate.Format(dateLayout), next.BirthDate.Format(dateLayout)},
		{"phone", prev.Contact.Phone, next.Contact.Phone},
		{"email", prev.Contact.Email, next.Contact.Email},
		{"ethnicity", prev.Social.Ethnicity, next.Social.Ethnicity},
		{"marital_status", prev.Social.MaritalStatus, next.Social.MaritalStatus},
		{"occupation", prev.Social.Occupation, next.Social.Occupation},
		{"insurance_provider", prev.Social.InsuranceProvider, next.Social.InsuranceProvider},
		{"address", prev.Social.Address, next.Social.Address},
	}
	oldValues := map[string]any{}
	newValues := map[string]any{}
	for _, f := range fields {
		if f.before != f.after {
			oldValues[f.name] = f.before
			newValues[f.name] = f.after
		}
	}
	return oldValues, newValues
}

// EnsureAssigned returns ErrNotFound for an unknown patient and
// ErrNotAssigned when the doctor is not linked to it.
func (s *Service) EnsureAssigned(ctx context.Context, doctorID, patientID uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, patientID); err != nil {
		return err
	}
	ok, err := s.repo.IsAssigned(ctx, doctorID, patientID)
	if err != nil {
		return fmt.Errorf("check assignment: %w", err)
	}
	if !ok {
		return ErrNotAssigned
	}
	return nil
}

func (s *Service) Get(ctx context.Context, doctorID, id uuid.UUID) (*Patient, error) {
	if err := s.EnsureAssigned(ctx, doctorID, id); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	return s.repo.ListForDoctor(ctx, doctorID, limit, offset)
}

// Delete removes the patient together with its facts, summaries and
// dismissals.
func (s *Service) Delete(ctx context.Context, doctorID, id uuid.UUID) error {
	if err := s.EnsureAssigned(ctx, doctorID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	_ = s.audit.Record(ctx, &audit.Event{
		PatientID:   id,
		DoctorID:    doctorID,
		Action:      audit.ActionDelete,
		EntityType:  "patient",
		Description: "Deleted patient",
	})
	return nil
}

func (s *Service) Assignments(ctx context.Context) ([]Assignment, error) {
	return s.repo.ListAssignments(ctx)
}

// Profile exposes the demographics rule evaluation is stratified on.
func (s *Service) Profile(ctx context.Context, id uuid.UUID) (*rules.Profile, error) {
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, rules.ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rules.Profile{PatientID: p.ID, BirthDate: p.BirthDate, Gender: p.Gender}, nil
}
