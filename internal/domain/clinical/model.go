package clinical

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/cds/internal/domain/rules"
)

var (
	ErrNotFound               = errors.New("clinical fact not found")
	ErrDuplicateActive        = errors.New("an active fact with this code already exists for the patient")
	ErrUnknownDictionaryEntry = errors.New("unknown dictionary entry")
	ErrInvalidDate            = errors.New("invalid date")
	ErrAlreadyResolved        = errors.New("fact is already resolved")
	ErrValueNotAllowed        = errors.New("value corrections apply to vital signs and tests only")
	ErrInvalidValue           = errors.New("invalid value")
)

const dateLayout = "2006-01-02"

// State is the lifecycle position of a fact. Deletion is separate from
// resolution and removes the row.
type State string

const (
	StateActive   State = "active"
	StateResolved State = "resolved"
)

// Fact is a recorded symptom, personal-history item, vital sign or test
// result.
type Fact struct {
	ID         uuid.UUID      `json:"id"`
	PatientID  uuid.UUID      `json:"patient_id"`
	Kind       rules.FactKind `json:"kind"`
	Code       string         `json:"code"`
	Name       string         `json:"name"`
	Unit       string         `json:"unit,omitempty"`
	Value      *string        `json:"value,omitempty"`
	ObservedOn *time.Time     `json:"observed_on,omitempty"`
	Notes      *string        `json:"notes,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (f *Fact) State() State {
	if f.ResolvedAt != nil {
		return StateResolved
	}
	return StateActive
}

func (f *Fact) Active() bool { return f.ResolvedAt == nil }

// CreateRequest records a new fact. ObservedOn uses the YYYY-MM-DD form.
type CreateRequest struct {
	Code       string  `json:"code"`
	Value      *string `json:"value"`
	ObservedOn string  `json:"observed_on"`
	Notes      *string `json:"notes"`
}

type UpdateValueRequest struct {
	Value string `json:"value"`
}

// Overview lists what a patient currently presents with. Tests hold the
// latest recording per test code, resolved results included.
type Overview struct {
	Symptoms        []*Fact `json:"symptoms"`
	PersonalHistory []*Fact `json:"personal_history"`
	VitalSigns      []*Fact `json:"vital_signs"`
	Tests           []*Fact `json:"tests"`
}
