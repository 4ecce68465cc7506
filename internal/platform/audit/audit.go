package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Event is one clinician-initiated change to patient data.
type Event struct {
	ID          uuid.UUID      `json:"id"`
	PatientID   uuid.UUID      `json:"patient_id"`
	DoctorID    uuid.UUID      `json:"doctor_id"`
	Action      Action         `json:"action"`
	EntityType  string         `json:"entity_type"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Sink accepts audit events.
type Sink interface {
	Record(ctx context.Context, e *Event) error
}

// Lister reads back the audit trail of a patient, newest first.
type Lister interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Event, int, error)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, *Event) error { return nil }
