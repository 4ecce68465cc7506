package summary

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/cds/internal/domain/patient"
	"github.com/ehr/cds/internal/platform/worker"
)

// Enqueuer accepts background tasks without blocking.
type Enqueuer interface {
	Enqueue(t worker.Task) bool
}

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Reconcile(ctx context.Context, patientID, doctorID uuid.UUID) (*Report, error)
}

// AssignmentSource lists every doctor-patient link.
type AssignmentSource interface {
	Assignments(ctx context.Context) ([]patient.Assignment, error)
}

// Dispatcher turns fact mutations into background reconciliation tasks.
// Failures are logged by the queue and never reach the caller; the periodic
// sweep repairs summaries a dropped or failed task left stale.
type Dispatcher struct {
	queue  Enqueuer
	rec    Reconciler
	logger zerolog.Logger
}

func NewDispatcher(queue Enqueuer, rec Reconciler, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, rec: rec, logger: logger}
}

// Schedule enqueues a reconciliation for the pair. It never blocks.
func (d *Dispatcher) Schedule(patientID, doctorID uuid.UUID) {
	ok := d.queue.Enqueue(worker.Task{
		Name: fmt.Sprintf("reconcile %s/%s", patientID, doctorID),
		Run: func(ctx context.Context) error {
			_, err := d.rec.Reconcile(ctx, patientID, doctorID)
			return err
		},
	})
	if !ok {
		d.logger.Warn().
			Str("patient_id", patientID.String()).
			Str("doctor_id", doctorID.String()).
			Msg("reconciliation not scheduled")
	}
}

// Sweep schedules every assignment and returns how many were accepted.
func (d *Dispatcher) Sweep(ctx context.Context, src AssignmentSource) (int, error) {
	links, err := src.Assignments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list assignments: %w", err)
	}
	n := 0
	for _, a := range links {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		pid, did := a.PatientID, a.DoctorID
		if d.queue.Enqueue(worker.Task{
			Name: fmt.Sprintf("sweep %s/%s", pid, did),
			Run: func(ctx context.Context) error {
				_, err := d.rec.Reconcile(ctx, pid, did)
				return err
			},
		}) {
			n++
		}
	}
	d.logger.Info().Int("assignments", len(links)).Int("scheduled", n).Msg("reconciliation sweep")
	return n, nil
}
