package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

type pgStore[C rules.Content[C]] struct {
	pool *pgxpool.Pool
	kind Kind[C]
	cols string
}

func NewPGStore[C rules.Content[C]](pool *pgxpool.Pool, k Kind[C]) Store[C] {
	return &pgStore[C]{
		pool: pool,
		kind: k,
		cols: "id, patient_id, doctor_id, " + strings.Join(k.Columns(), ", ") + ", auto_generated, created_at, updated_at",
	}
}

func (s *pgStore[C]) scan(row pgx.Row) (Item[C], error) {
	var it Item[C]
	dest := []any{&it.ID, &it.PatientID, &it.DoctorID}
	for _, f := range s.kind.Fields(&it.Content) {
		dest = append(dest, f)
	}
	dest = append(dest, &it.AutoGenerated, &it.CreatedAt, &it.UpdatedAt)
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return it, ErrNotFound
	}
	return it, err
}

func (s *pgStore[C]) List(ctx context.Context, sc Scope) ([]Item[C], error) {
	rows, err := connFor(ctx, s.pool).Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE patient_id = $1 AND doctor_id = $2 ORDER BY created_at, id`,
		s.cols, s.kind.Table()), sc.PatientID, sc.DoctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item[C]
	for rows.Next() {
		it, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *pgStore[C]) Get(ctx context.Context, sc Scope, id uuid.UUID) (Item[C], error) {
	return s.scan(connFor(ctx, s.pool).QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = $1 AND patient_id = $2 AND doctor_id = $3`,
		s.cols, s.kind.Table()), id, sc.PatientID, sc.DoctorID))
}

func (s *pgStore[C]) Insert(ctx context.Context, it *Item[C]) (bool, error) {
	it.ID = uuid.New()
	cols := s.kind.Columns()
	args := []any{it.ID, it.PatientID, it.DoctorID}
	placeholders := []string{"$1", "$2", "$3"}
	for _, f := range s.kind.Fields(&it.Content) {
		args = append(args, *f)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	args = append(args, it.AutoGenerated)
	placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))

	err := connFor(ctx, s.pool).QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, patient_id, doctor_id, %s, auto_generated)
		VALUES (%s)
		ON CONFLICT DO NOTHING
		RETURNING created_at, updated_at`,
		s.kind.Table(), strings.Join(cols, ", "), strings.Join(placeholders, ", ")),
		args...).Scan(&it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *pgStore[C]) Update(ctx context.Context, it *Item[C]) error {
	args := []any{it.ID, it.PatientID, it.DoctorID}
	var sets []string
	for i, f := range s.kind.Fields(&it.Content) {
		args = append(args, *f)
		sets = append(sets, fmt.Sprintf("%s = $%d", s.kind.Columns()[i], len(args)))
	}
	args = append(args, it.AutoGenerated)
	sets = append(sets, fmt.Sprintf("auto_generated = $%d", len(args)), "updated_at = NOW()")

	err := connFor(ctx, s.pool).QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s SET %s
		WHERE id = $1 AND patient_id = $2 AND doctor_id = $3
		RETURNING updated_at`, s.kind.Table(), strings.Join(sets, ", ")),
		args...).Scan(&it.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return ErrDuplicateContent
	}
	return err
}

func (s *pgStore[C]) Delete(ctx context.Context, sc Scope, id uuid.UUID) error {
	tag, err := connFor(ctx, s.pool).Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id = $1 AND patient_id = $2 AND doctor_id = $3`, s.kind.Table()),
		id, sc.PatientID, sc.DoctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
