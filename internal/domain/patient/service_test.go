package patient

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/cds/internal/domain/rules"
	"github.com/ehr/cds/internal/platform/audit"
)

// =========== Mock Repository ===========

type mockRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
	links    map[Assignment]bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]*Patient), links: make(map[Assignment]bool)}
}

func (m *mockRepo) Create(_ context.Context, p *Patient, doctorID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.patients[p.ID] = p
	m.links[Assignment{PatientID: p.ID, DoctorID: doctorID}] = true
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now()
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) ListForDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Patient
	for a := range m.links {
		if a.DoctorID == doctorID {
			out = append(out, m.patients[a.PatientID])
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[id]; !ok {
		return ErrNotFound
	}
	delete(m.patients, id)
	for a := range m.links {
		if a.PatientID == id {
			delete(m.links, a)
		}
	}
	return nil
}

func (m *mockRepo) IsAssigned(_ context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[Assignment{PatientID: patientID, DoctorID: doctorID}], nil
}

func (m *mockRepo) DoctorsFor(_ context.Context, patientID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for a := range m.links {
		if a.PatientID == patientID {
			out = append(out, a.DoctorID)
		}
	}
	return out, nil
}

func (m *mockRepo) assign(patientID, doctorID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[Assignment{PatientID: patientID, DoctorID: doctorID}] = true
}

func (m *mockRepo) ListAssignments(_ context.Context) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for a := range m.links {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatientID.String() < out[j].PatientID.String() })
	return out, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *recordingSink) Record(_ context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

type recordingTrigger struct {
	mu    sync.Mutex
	calls []Assignment
}

func (r *recordingTrigger) Schedule(patientID, doctorID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Assignment{PatientID: patientID, DoctorID: doctorID})
}

// =========== Helper ===========

func newTestService() (*Service, *recordingSink) {
	sink := &recordingSink{}
	svc := NewService(newMockRepo(), sink)
	svc.now = func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) }
	return svc, sink
}

func validRequest() CreateRequest {
	return CreateRequest{FirstName: "Ada", LastName: "Lovelace", Gender: "Female", BirthDate: "1975-04-01"}
}

// =========== Tests ===========

func TestCreate_Success(t *testing.T) {
	svc, sink := newTestService()
	doctor := uuid.New()

	p, err := svc.Create(context.Background(), doctor, validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if p.Gender != rules.Female {
		t.Errorf("expected Female, got %q", p.Gender)
	}
	if err := svc.EnsureAssigned(context.Background(), doctor, p.ID); err != nil {
		t.Errorf("expected creating doctor to be assigned: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Action != audit.ActionCreate {
		t.Errorf("expected one CREATE audit event, got %+v", sink.events)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *CreateRequest)
		want   error
	}{
		{"missing first name", func(r *CreateRequest) { r.FirstName = " " }, ErrInvalid},
		{"bad gender", func(r *CreateRequest) { r.Gender = "unknown" }, ErrInvalid},
		{"malformed date", func(r *CreateRequest) { r.BirthDate = "01/04/1975" }, ErrInvalidDate},
		{"future date", func(r *CreateRequest) { r.BirthDate = "2030-01-01" }, ErrInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, sink := newTestService()
			req := validRequest()
			tt.mutate(&req)
			_, err := svc.Create(context.Background(), uuid.New(), req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(sink.events) != 0 {
				t.Error("expected no audit event for a rejected request")
			}
		})
	}
}

func TestCreate_ContactAndSocialInfo(t *testing.T) {
	svc, _ := newTestService()
	req := validRequest()
	req.Phone = " +44 20 7946 0000 "
	req.Email = "ada@example.org"
	req.Occupation = "Mathematician"

	p, err := svc.Create(context.Background(), uuid.New(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Contact.Phone != "+44 20 7946 0000" || p.Contact.Email != "ada@example.org" {
		t.Errorf("unexpected contact info %+v", p.Contact)
	}
	if p.Social.Occupation != "Mathematician" {
		t.Errorf("unexpected social info %+v", p.Social)
	}

	req.Email = "not an email"
	if _, err := svc.Create(context.Background(), uuid.New(), req); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for a malformed email, got %v", err)
	}
}

func TestUpdate_StratumChangeSchedulesEveryDoctor(t *testing.T) {
	svc, sink := newTestService()
	repo := svc.repo.(*mockRepo)
	trigger := &recordingTrigger{}
	svc.SetTrigger(trigger)
	d1, d2 := uuid.New(), uuid.New()
	p, _ := svc.Create(context.Background(), d1, validRequest())
	repo.assign(p.ID, d2)

	req := validRequest()
	req.BirthDate = "1950-04-01"
	req.Gender = "male"
	got, err := svc.Update(context.Background(), d1, p.ID, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Gender != rules.Male || got.BirthDate.Year() != 1950 {
		t.Errorf("update not applied: %+v", got)
	}
	stored, _ := svc.Get(context.Background(), d2, p.ID)
	if stored.Gender != rules.Male {
		t.Errorf("expected stored gender Male, got %q", stored.Gender)
	}

	if len(trigger.calls) != 2 {
		t.Fatalf("expected a reconciliation per assigned doctor, got %+v", trigger.calls)
	}
	seen := map[uuid.UUID]bool{}
	for _, c := range trigger.calls {
		if c.PatientID != p.ID {
			t.Errorf("scheduled wrong patient %s", c.PatientID)
		}
		seen[c.DoctorID] = true
	}
	if !seen[d1] || !seen[d2] {
		t.Errorf("expected both doctors scheduled, got %+v", trigger.calls)
	}

	last := sink.events[len(sink.events)-1]
	if last.Action != audit.ActionUpdate {
		t.Fatalf("expected UPDATE audit event, got %s", last.Action)
	}
	oldValues := last.Details["old"].(map[string]any)
	newValues := last.Details["new"].(map[string]any)
	if oldValues["birth_date"] != "1975-04-01" || newValues["birth_date"] != "1950-04-01" {
		t.Errorf("unexpected birth_date change %v -> %v", oldValues, newValues)
	}
	if _, ok := newValues["first_name"]; ok {
		t.Error("unchanged fields should not be audited")
	}
}

func TestUpdate_ContactChangeDoesNotReconcile(t *testing.T) {
	svc, sink := newTestService()
	trigger := &recordingTrigger{}
	svc.SetTrigger(trigger)
	doctor := uuid.New()
	p, _ := svc.Create(context.Background(), doctor, validRequest())

	req := validRequest()
	req.Phone = "555-0100"
	got, err := svc.Update(context.Background(), doctor, p.ID, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Contact.Phone != "555-0100" {
		t.Errorf("expected phone to be updated, got %q", got.Contact.Phone)
	}
	if len(trigger.calls) != 0 {
		t.Errorf("expected no reconciliation, got %+v", trigger.calls)
	}
	if got := sink.events[len(sink.events)-1].Action; got != audit.ActionUpdate {
		t.Errorf("expected UPDATE audit event, got %s", got)
	}
}

func TestUpdate_Errors(t *testing.T) {
	svc, sink := newTestService()
	trigger := &recordingTrigger{}
	svc.SetTrigger(trigger)
	doctor := uuid.New()
	p, _ := svc.Create(context.Background(), doctor, validRequest())

	bad := validRequest()
	bad.BirthDate = "2030-01-01"
	tests := []struct {
		name   string
		doctor uuid.UUID
		id     uuid.UUID
		req    CreateRequest
		want   error
	}{
		{"other doctor", uuid.New(), p.ID, validRequest(), ErrNotAssigned},
		{"unknown patient", doctor, uuid.New(), validRequest(), ErrNotFound},
		{"future birth date", doctor, p.ID, bad, ErrInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Update(context.Background(), tt.doctor, tt.id, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(sink.events) != 1 {
		t.Errorf("expected only the CREATE audit event, got %d", len(sink.events))
	}
	if len(trigger.calls) != 0 {
		t.Errorf("expected no reconciliation, got %+v", trigger.calls)
	}
	stored, _ := svc.Get(context.Background(), doctor, p.ID)
	if stored.BirthDate.Year() != 1975 {
		t.Errorf("rejected update changed the patient: %+v", stored)
	}
}

func TestEnsureAssigned(t *testing.T) {
	svc, _ := newTestService()
	doctor := uuid.New()
	p, _ := svc.Create(context.Background(), doctor, validRequest())

	if err := svc.EnsureAssigned(context.Background(), uuid.New(), p.ID); !errors.Is(err, ErrNotAssigned) {
		t.Errorf("expected ErrNotAssigned, got %v", err)
	}
	if err := svc.EnsureAssigned(context.Background(), doctor, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, sink := newTestService()
	doctor := uuid.New()
	p, _ := svc.Create(context.Background(), doctor, validRequest())

	if err := svc.Delete(context.Background(), uuid.New(), p.ID); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned for another doctor, got %v", err)
	}
	if err := svc.Delete(context.Background(), doctor, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Get(context.Background(), doctor, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if got := sink.events[len(sink.events)-1].Action; got != audit.ActionDelete {
		t.Errorf("expected DELETE audit event, got %s", got)
	}
}

func TestProfile(t *testing.T) {
	svc, _ := newTestService()
	p, _ := svc.Create(context.Background(), uuid.New(), validRequest())

	prof, err := svc.Profile(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !prof.BirthDate.Equal(time.Date(1975, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected birth date %s", prof.BirthDate)
	}

	if _, err := svc.Profile(context.Background(), uuid.New()); !errors.Is(err, rules.ErrPatientNotFound) {
		t.Errorf("expected rules.ErrPatientNotFound, got %v", err)
	}
}

func TestAssignments(t *testing.T) {
	svc, _ := newTestService()
	d1, d2 := uuid.New(), uuid.New()
	svc.Create(context.Background(), d1, validRequest())
	svc.Create(context.Background(), d2, validRequest())

	got, err := svc.Assignments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 assignments, got %d", len(got))
	}
}
