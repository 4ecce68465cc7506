package summary

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cds/internal/domain/rules"
)

// Ledger records catalog suggestions a doctor dismissed for a patient.
// Reconciliation never inserts an ignored key.
type Ledger interface {
	// RecordIgnored is idempotent.
	RecordIgnored(ctx context.Context, sc Scope, cat rules.Category, key string) error
	IsIgnored(ctx context.Context, sc Scope, cat rules.Category, key string) (bool, error)
	// Ignored returns the dismissed keys of one category as a set.
	Ignored(ctx context.Context, sc Scope, cat rules.Category) (map[string]bool, error)
	ListIgnored(ctx context.Context, sc Scope) ([]IgnoredItem, error)
	// Unignore returns ErrNotIgnored when nothing was recorded.
	Unignore(ctx context.Context, sc Scope, cat rules.Category, key string) error
}

type ledgerPG struct{ pool *pgxpool.Pool }

func NewLedgerPG(pool *pgxpool.Pool) Ledger {
	return &ledgerPG{pool: pool}
}

func (l *ledgerPG) RecordIgnored(ctx context.Context, sc Scope, cat rules.Category, key string) error {
	_, err := connFor(ctx, l.pool).Exec(ctx, `
		INSERT INTO ignored_auto_generated (patient_id, doctor_id, category, catalog_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`, sc.PatientID, sc.DoctorID, string(cat), key)
	return err
}

func (l *ledgerPG) IsIgnored(ctx context.Context, sc Scope, cat rules.Category, key string) (bool, error) {
	var ok bool
	err := connFor(ctx, l.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ignored_auto_generated
			WHERE patient_id = $1 AND doctor_id = $2 AND category = $3 AND catalog_key = $4
		)`, sc.PatientID, sc.DoctorID, string(cat), key).Scan(&ok)
	return ok, err
}

func (l *ledgerPG) Ignored(ctx context.Context, sc Scope, cat rules.Category) (map[string]bool, error) {
	rows, err := connFor(ctx, l.pool).Query(ctx, `
		SELECT catalog_key FROM ignored_auto_generated
		WHERE patient_id = $1 AND doctor_id = $2 AND category = $3`,
		sc.PatientID, sc.DoctorID, string(cat))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make(map[string]bool)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys[k] = true
	}
	return keys, rows.Err()
}

func (l *ledgerPG) ListIgnored(ctx context.Context, sc Scope) ([]IgnoredItem, error) {
	rows, err := connFor(ctx, l.pool).Query(ctx, `
		SELECT patient_id, doctor_id, category, catalog_key, created_at
		FROM ignored_auto_generated
		WHERE patient_id = $1 AND doctor_id = $2
		ORDER BY category, catalog_key`, sc.PatientID, sc.DoctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IgnoredItem
	for rows.Next() {
		var it IgnoredItem
		if err := rows.Scan(&it.PatientID, &it.DoctorID, &it.Category, &it.CatalogKey, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (l *ledgerPG) Unignore(ctx context.Context, sc Scope, cat rules.Category, key string) error {
	tag, err := connFor(ctx, l.pool).Exec(ctx, `
		DELETE FROM ignored_auto_generated
		WHERE patient_id = $1 AND doctor_id = $2 AND category = $3 AND catalog_key = $4`,
		sc.PatientID, sc.DoctorID, string(cat), key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotIgnored
	}
	return nil
}
