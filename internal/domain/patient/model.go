package patient

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/cds/internal/domain/rules"
)

var (
	ErrNotFound    = errors.New("patient not found")
	ErrNotAssigned = errors.New("patient is not assigned to this doctor")
	ErrInvalid     = errors.New("invalid patient")
	ErrInvalidDate = errors.New("invalid date")
)

const dateLayout = "2006-01-02"

type Patient struct {
	ID        uuid.UUID    `json:"id"`
	FirstName string       `json:"first_name"`
	LastName  string       `json:"last_name"`
	Gender    rules.Gender `json:"gender"`
	BirthDate time.Time    `json:"birth_date"`
	Contact   ContactInfo  `json:"contact_info"`
	Social    SocialInfo   `json:"social_info"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type ContactInfo struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type SocialInfo struct {
	Ethnicity         string `json:"ethnicity,omitempty"`
	MaritalStatus     string `json:"marital_status,omitempty"`
	Occupation        string `json:"occupation,omitempty"`
	InsuranceProvider string `json:"insurance_provider,omitempty"`
	Address           string `json:"address,omitempty"`
}

// CreateRequest is the payload for registering or updating a patient.
// BirthDate uses the YYYY-MM-DD form.
type CreateRequest struct {
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Gender            string `json:"gender"`
	BirthDate         string `json:"birth_date"`
	Ethnicity         string `json:"ethnicity"`
	Phone             string `json:"phone"`
	Email             string `json:"email"`
	MaritalStatus     string `json:"marital_status"`
	Occupation        string `json:"occupation"`
	InsuranceProvider string `json:"insurance_provider"`
	Address           string `json:"address"`
}

// Assignment links a doctor to one of their patients.
type Assignment struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
}
