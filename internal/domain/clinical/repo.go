package clinical

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/cds/internal/domain/rules"
)

// ListFilter narrows a fact listing. A nil State lists every fact.
type ListFilter struct {
	State  *State
	Limit  int
	Offset int
}

// Repository persists facts in one table per kind.
type Repository interface {
	Create(ctx context.Context, f *Fact) error
	GetByID(ctx context.Context, kind rules.FactKind, id uuid.UUID) (*Fact, error)
	List(ctx context.Context, kind rules.FactKind, patientID uuid.UUID, filter ListFilter) ([]*Fact, int, error)
	// Active returns the unresolved facts of every kind for a patient.
	Active(ctx context.Context, patientID uuid.UUID) ([]*Fact, error)
	// LatestTests returns the newest test per code, resolved or not.
	LatestTests(ctx context.Context, patientID uuid.UUID) ([]*Fact, error)
	Resolve(ctx context.Context, kind rules.FactKind, id uuid.UUID, at time.Time) error
	UpdateValue(ctx context.Context, kind rules.FactKind, id uuid.UUID, value string) error
	Delete(ctx context.Context, kind rules.FactKind, id uuid.UUID) error
}
