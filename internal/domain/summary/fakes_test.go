package summary

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ehr/cds/internal/domain/clinical"
	"github.com/ehr/cds/internal/domain/patient"
	"github.com/ehr/cds/internal/domain/rules"
	"github.com/ehr/cds/internal/platform/audit"
)

const referenceYAML = `
dictionaries:
  symptom:
    - {code: HEADACHE, name: Headache}
  test:
    - {code: BP_TEST, name: Blood pressure panel, unit: mmHg}

catalogs:
  follow_up_actions:
    - {key: BP_RECHECK, action: Recheck blood pressure, interval: 2 weeks}
  recommendations:
    - {key: HYPERTENSION_RISK, recommendation: Start home blood pressure monitoring}
    - {key: LOW_SODIUM, recommendation: Low-sodium diet}
  presumptive_diagnoses:
    - {key: MIGRAINE, diagnosis: Migraine, confidence_level: low}
  tests_to_order:
    - {key: ECG, test: Schedule ECG}
  risks:
    - {key: HYPERTENSION_RISK, level: high, reason: Elevated blood pressure}

rules:
  symptom:
    - fact: HEADACHE
      keys: {recommendations: LOW_SODIUM, tests_to_order: ECG, presumptive_diagnoses: MIGRAINE}
  test:
    - fact: BP_TEST
      min_value: ">140"
      keys: {recommendations: HYPERTENSION_RISK, risks: HYPERTENSION_RISK, follow_up_actions: BP_RECHECK, tests_to_order: ECG}
`

var testNow = time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC)

// memStore keeps items in insertion order and enforces content uniqueness
// per scope like the unique indexes do.
type memStore[C comparable] struct {
	mu      sync.Mutex
	items   []Item[C]
	tick    int
	listErr error
}

func (m *memStore[C]) List(_ context.Context, sc Scope) ([]Item[C], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []Item[C]
	for _, it := range m.items {
		if it.PatientID == sc.PatientID && it.DoctorID == sc.DoctorID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore[C]) Get(_ context.Context, sc Scope, id uuid.UUID) (Item[C], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ID == id && it.PatientID == sc.PatientID && it.DoctorID == sc.DoctorID {
			return it, nil
		}
	}
	return Item[C]{}, ErrNotFound
}

func (m *memStore[C]) clash(it *Item[C]) bool {
	for _, o := range m.items {
		if o.ID != it.ID && o.PatientID == it.PatientID && o.DoctorID == it.DoctorID && o.Content == it.Content {
			return true
		}
	}
	return false
}

func (m *memStore[C]) stamp() time.Time {
	m.tick++
	return testNow.Add(time.Duration(m.tick) * time.Second)
}

func (m *memStore[C]) Insert(_ context.Context, it *Item[C]) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.ID = uuid.New()
	if m.clash(it) {
		it.ID = uuid.Nil
		return false, nil
	}
	it.CreatedAt = m.stamp()
	it.UpdatedAt = it.CreatedAt
	m.items = append(m.items, *it)
	return true, nil
}

func (m *memStore[C]) Update(_ context.Context, it *Item[C]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID != it.ID {
			continue
		}
		if m.clash(it) {
			return ErrDuplicateContent
		}
		it.UpdatedAt = m.stamp()
		m.items[i].Content = it.Content
		m.items[i].AutoGenerated = it.AutoGenerated
		m.items[i].UpdatedAt = it.UpdatedAt
		return nil
	}
	return ErrNotFound
}

func (m *memStore[C]) Delete(_ context.Context, sc Scope, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.items {
		if it.ID == id && it.PatientID == sc.PatientID && it.DoctorID == sc.DoctorID {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// seed appends a row without the uniqueness check.
func (m *memStore[C]) seed(sc Scope, c C, auto bool) Item[C] {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := Item[C]{ID: uuid.New(), PatientID: sc.PatientID, DoctorID: sc.DoctorID, Content: c, AutoGenerated: auto}
	it.CreatedAt = m.stamp()
	it.UpdatedAt = it.CreatedAt
	m.items = append(m.items, it)
	return it
}

func (m *memStore[C]) all() []Item[C] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Item[C](nil), m.items...)
}

type memLedger struct {
	mu   sync.Mutex
	keys map[Scope]map[rules.Category]map[string]bool
}

func newMemLedger() *memLedger {
	return &memLedger{keys: make(map[Scope]map[rules.Category]map[string]bool)}
}

func (l *memLedger) RecordIgnored(_ context.Context, sc Scope, cat rules.Category, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys[sc] == nil {
		l.keys[sc] = make(map[rules.Category]map[string]bool)
	}
	if l.keys[sc][cat] == nil {
		l.keys[sc][cat] = make(map[string]bool)
	}
	l.keys[sc][cat][key] = true
	return nil
}

func (l *memLedger) IsIgnored(_ context.Context, sc Scope, cat rules.Category, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.keys[sc][cat][key], nil
}

func (l *memLedger) Ignored(_ context.Context, sc Scope, cat rules.Category) (map[string]bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]bool)
	for k := range l.keys[sc][cat] {
		out[k] = true
	}
	return out, nil
}

func (l *memLedger) ListIgnored(_ context.Context, sc Scope) ([]IgnoredItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []IgnoredItem
	for cat, keys := range l.keys[sc] {
		for k := range keys {
			out = append(out, IgnoredItem{PatientID: sc.PatientID, DoctorID: sc.DoctorID, Category: cat, CatalogKey: k})
		}
	}
	return out, nil
}

func (l *memLedger) Unignore(_ context.Context, sc Scope, cat rules.Category, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.keys[sc][cat][key] {
		return ErrNotIgnored
	}
	delete(l.keys[sc][cat], key)
	return nil
}

type fakeFacts struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*rules.Profile
	facts    map[uuid.UUID][]rules.ActiveFact
}

func (f *fakeFacts) Profile(_ context.Context, id uuid.UUID) (*rules.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, rules.ErrPatientNotFound
	}
	return p, nil
}

func (f *fakeFacts) ActiveFacts(_ context.Context, id uuid.UUID) ([]rules.ActiveFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rules.ActiveFact(nil), f.facts[id]...), nil
}

func (f *fakeFacts) set(id uuid.UUID, facts ...rules.ActiveFact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts[id] = facts
}

func (f *fakeFacts) Overview(_ context.Context, id uuid.UUID) (*clinical.Overview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ov := &clinical.Overview{
		Symptoms:        []*clinical.Fact{},
		PersonalHistory: []*clinical.Fact{},
		VitalSigns:      []*clinical.Fact{},
		Tests:           []*clinical.Fact{},
	}
	for _, a := range f.facts[id] {
		fact := &clinical.Fact{PatientID: id, Kind: a.Kind, Code: a.Code, Value: a.Value}
		switch a.Kind {
		case rules.KindSymptom:
			ov.Symptoms = append(ov.Symptoms, fact)
		case rules.KindTest:
			ov.Tests = append(ov.Tests, fact)
		}
	}
	return ov, nil
}

type fakeOwners struct {
	assigned map[Scope]bool
}

func (o *fakeOwners) EnsureAssigned(_ context.Context, doctorID, patientID uuid.UUID) error {
	if !o.assigned[Scope{PatientID: patientID, DoctorID: doctorID}] {
		return patient.ErrNotAssigned
	}
	return nil
}

type recordingTrigger struct {
	mu    sync.Mutex
	calls []Scope
}

func (r *recordingTrigger) Schedule(patientID, doctorID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Scope{PatientID: patientID, DoctorID: doctorID})
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

type fixture struct {
	ref     *rules.ReferenceData
	facts   *fakeFacts
	follow  *memStore[rules.FollowUpAction]
	recs    *memStore[rules.Recommendation]
	refs    *memStore[rules.Referral]
	advice  *memStore[rules.LifestyleAdvice]
	diags   *memStore[rules.PresumptiveDiagnosis]
	tests   *memStore[rules.TestToOrder]
	ledger  *memLedger
	engine  *Engine
	svc     *Service
	trigger *recordingTrigger
	sink    *recordingSink
	sc      Scope
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ref, err := rules.LoadYAML(strings.NewReader(referenceYAML))
	require.NoError(t, err)

	f := &fixture{
		ref:     ref,
		follow:  &memStore[rules.FollowUpAction]{},
		recs:    &memStore[rules.Recommendation]{},
		refs:    &memStore[rules.Referral]{},
		advice:  &memStore[rules.LifestyleAdvice]{},
		diags:   &memStore[rules.PresumptiveDiagnosis]{},
		tests:   &memStore[rules.TestToOrder]{},
		ledger:  newMemLedger(),
		trigger: &recordingTrigger{},
		sink:    &recordingSink{},
		sc:      Scope{PatientID: uuid.New(), DoctorID: uuid.New()},
	}
	f.facts = &fakeFacts{
		profiles: map[uuid.UUID]*rules.Profile{
			f.sc.PatientID: {PatientID: f.sc.PatientID, BirthDate: testNow.AddDate(-50, 0, 0), Gender: rules.Female},
		},
		facts: map[uuid.UUID][]rules.ActiveFact{},
	}
	stores := Stores{
		FollowUpActions:      f.follow,
		Recommendations:      f.recs,
		Referrals:            f.refs,
		LifestyleAdvice:      f.advice,
		PresumptiveDiagnoses: f.diags,
		TestsToOrder:         f.tests,
	}
	eval := rules.NewEvaluator(ref, f.facts, zerolog.Nop()).WithClock(func() time.Time { return testNow })
	f.engine = NewEngine(eval, ref.Catalog, stores, f.ledger, nil, zerolog.Nop())
	owners := &fakeOwners{assigned: map[Scope]bool{f.sc: true}}
	f.svc = NewService(f.engine, owners, f.facts, f.trigger, f.sink)
	return f
}

func (f *fixture) reconcile(t *testing.T) *Report {
	t.Helper()
	r, err := f.engine.Reconcile(context.Background(), f.sc.PatientID, f.sc.DoctorID)
	require.NoError(t, err)
	return r
}

func strp(s string) *string { return &s }

func bpTest(v string) rules.ActiveFact {
	return rules.ActiveFact{Kind: rules.KindTest, Code: "BP_TEST", Value: strp(v)}
}

var headache = rules.ActiveFact{Kind: rules.KindSymptom, Code: "HEADACHE"}
