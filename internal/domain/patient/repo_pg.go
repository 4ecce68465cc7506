package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cds/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
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

const patientCols = `p.id, p.first_name, p.last_name, p.gender, p.birth_date,
	p.phone, p.email, p.ethnicity, p.marital_status, p.occupation, p.insurance_provider, p.address,
	p.created_at, p.updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Gender, &p.BirthDate,
		&p.Contact.Phone, &p.Contact.Email,
		&p.Social.Ethnicity, &p.Social.MaritalStatus, &p.Social.Occupation, &p.Social.InsuranceProvider, &p.Social.Address,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient, doctorID uuid.UUID) error {
	p.ID = uuid.New()
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		if err := q.QueryRow(ctx, `
			INSERT INTO patient (id, first_name, last_name, gender, birth_date,
				phone, email, ethnicity, marital_status, occupation, insurance_provider, address)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING created_at, updated_at`,
			p.ID, p.FirstName, p.LastName, string(p.Gender), p.BirthDate,
			p.Contact.Phone, p.Contact.Email,
			p.Social.Ethnicity, p.Social.MaritalStatus, p.Social.Occupation, p.Social.InsuranceProvider, p.Social.Address,
		).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
		_, err := q.Exec(ctx, `INSERT INTO doctor_patient (doctor_id, patient_id) VALUES ($1, $2)`, doctorID, p.ID)
		return err
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient p WHERE p.id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET first_name = $2, last_name = $3, gender = $4, birth_date = $5,
			phone = $6, email = $7, ethnicity = $8, marital_status = $9, occupation = $10,
			insurance_provider = $11, address = $12, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, string(p.Gender), p.BirthDate,
		p.Contact.Phone, p.Contact.Email,
		p.Social.Ethnicity, p.Social.MaritalStatus, p.Social.Occupation, p.Social.InsuranceProvider, p.Social.Address,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) ListForDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM doctor_patient WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+patientCols+`
		FROM patient p JOIN doctor_patient dp ON dp.patient_id = p.id
		WHERE dp.doctor_id = $1
		ORDER BY p.last_name, p.first_name, p.id
		LIMIT $2 OFFSET $3`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) IsAssigned(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM doctor_patient WHERE doctor_id = $1 AND patient_id = $2)`,
		doctorID, patientID).Scan(&ok)
	return ok, err
}

func (r *repoPG) DoctorsFor(ctx context.Context, patientID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT doctor_id FROM doctor_patient WHERE patient_id = $1 ORDER BY doctor_id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *repoPG) ListAssignments(ctx context.Context) ([]Assignment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT patient_id, doctor_id FROM doctor_patient ORDER BY patient_id, doctor_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.PatientID, &a.DoctorID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
