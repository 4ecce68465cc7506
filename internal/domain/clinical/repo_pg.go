package clinical

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cds/internal/domain/rules"
	"github.com/ehr/cds/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

var factTables = map[rules.FactKind]string{
	rules.KindSymptom:         "patient_symptom",
	rules.KindPersonalHistory: "patient_personal_history",
	rules.KindVitalSign:       "patient_vital_sign",
	rules.KindTest:            "patient_test",
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func tableFor(kind rules.FactKind) (string, error) {
	t, ok := factTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown fact kind %q", kind)
	}
	return t, nil
}

// selectFacts joins a fact table with its dictionary for display fields.
func selectFacts(kind rules.FactKind) string {
	return fmt.Sprintf(`
		SELECT f.id, f.patient_id, f.code, d.name, COALESCE(d.unit, ''), f.value, f.observed_on,
			f.notes, f.recorded_at, f.resolved_at, f.updated_at
		FROM %s f JOIN %s d ON d.code = f.code`, factTables[kind], rules.DictionaryTable(kind))
}

func scanFact(kind rules.FactKind, row pgx.Row) (*Fact, error) {
	f := Fact{Kind: kind}
	err := row.Scan(&f.ID, &f.PatientID, &f.Code, &f.Name, &f.Unit, &f.Value, &f.ObservedOn,
		&f.Notes, &f.RecordedAt, &f.ResolvedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &f, err
}

func collect(kind rules.FactKind, rows pgx.Rows) ([]*Fact, error) {
	defer rows.Close()
	var items []*Fact
	for rows.Next() {
		f, err := scanFact(kind, rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, f *Fact) error {
	table, err := tableFor(f.Kind)
	if err != nil {
		return err
	}
	f.ID = uuid.New()
	err = r.conn(ctx).QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, patient_id, code, value, observed_on, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING recorded_at, updated_at`, table),
		f.ID, f.PatientID, f.Code, f.Value, f.ObservedOn, f.Notes,
	).Scan(&f.RecordedAt, &f.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateActive
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, kind rules.FactKind, id uuid.UUID) (*Fact, error) {
	if _, err := tableFor(kind); err != nil {
		return nil, err
	}
	return scanFact(kind, r.conn(ctx).QueryRow(ctx, selectFacts(kind)+` WHERE f.id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, kind rules.FactKind, patientID uuid.UUID, filter ListFilter) ([]*Fact, int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, 0, err
	}
	where := ` WHERE f.patient_id = $1`
	if filter.State != nil {
		switch *filter.State {
		case StateActive:
			where += ` AND f.resolved_at IS NULL`
		case StateResolved:
			where += ` AND f.resolved_at IS NOT NULL`
		}
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+table+` f`+where, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		selectFacts(kind)+where+` ORDER BY f.recorded_at DESC, f.id LIMIT $2 OFFSET $3`,
		patientID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(kind, rows)
	return items, total, err
}

func (r *repoPG) Active(ctx context.Context, patientID uuid.UUID) ([]*Fact, error) {
	var out []*Fact
	for _, kind := range rules.FactKinds {
		rows, err := r.conn(ctx).Query(ctx,
			selectFacts(kind)+` WHERE f.patient_id = $1 AND f.resolved_at IS NULL ORDER BY f.recorded_at`, patientID)
		if err != nil {
			return nil, fmt.Errorf("load active %s facts: %w", kind, err)
		}
		items, err := collect(kind, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (r *repoPG) LatestTests(ctx context.Context, patientID uuid.UUID) ([]*Fact, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT ON (f.code) f.id, f.patient_id, f.code, d.name, COALESCE(d.unit, ''), f.value,
			f.observed_on, f.notes, f.recorded_at, f.resolved_at, f.updated_at
		FROM patient_test f JOIN test_dictionary d ON d.code = f.code
		WHERE f.patient_id = $1
		ORDER BY f.code, f.recorded_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	return collect(rules.KindTest, rows)
}

func (r *repoPG) Resolve(ctx context.Context, kind rules.FactKind, id uuid.UUID, at time.Time) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET resolved_at = $2, updated_at = NOW() WHERE id = $1 AND resolved_at IS NULL`, table), id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

func (r *repoPG) UpdateValue(ctx context.Context, kind rules.FactKind, id uuid.UUID, value string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET value = $2, updated_at = NOW() WHERE id = $1`, table), id, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, kind rules.FactKind, id uuid.UUID) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
