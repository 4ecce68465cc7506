package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists patients and their doctor assignments.
type Repository interface {
	// Create stores the patient and assigns it to doctorID.
	Create(ctx context.Context, p *Patient, doctorID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	ListForDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Patient, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
	IsAssigned(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error)
	// DoctorsFor lists the doctors assigned to the patient.
	DoctorsFor(ctx context.Context, patientID uuid.UUID) ([]uuid.UUID, error)
	ListAssignments(ctx context.Context) ([]Assignment, error)
}
