package summary

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/cds/internal/domain/clinical"
	"github.com/ehr/cds/internal/domain/rules"
)

var (
	ErrNotFound             = errors.New("summary item not found")
	ErrDuplicateContent     = errors.New("an item with the same content already exists")
	ErrUnknownCategory      = errors.New("unknown summary category")
	ErrCatalogEntryNotFound = errors.New("catalog entry not found")
	ErrInvalidContent       = errors.New("invalid content")
	ErrInvalidRef           = errors.New("invalid item reference")
	ErrNotIgnored           = errors.New("catalog key is not ignored")
)

// Scope is the (patient, doctor) pair summary items belong to.
type Scope struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
}

// Item is a persisted summary entry. AutoGenerated items are owned by
// reconciliation until a clinician changes their content.
type Item[C any] struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	Content       C         `json:"content"`
	AutoGenerated bool      `json:"auto_generated"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type RefKind string

const (
	RefPatientItem RefKind = "item"
	RefCatalog     RefKind = "catalog"
)

// ItemRef addresses either a persisted item or a catalog entry currently
// suggested for the patient.
type ItemRef struct {
	Kind      RefKind   `json:"kind"`
	ItemID    uuid.UUID `json:"item_id,omitempty"`
	CatalogID int64     `json:"catalog_id,omitempty"`
}

func PatientItem(id uuid.UUID) ItemRef { return ItemRef{Kind: RefPatientItem, ItemID: id} }

func CatalogItem(id int64) ItemRef { return ItemRef{Kind: RefCatalog, CatalogID: id} }

func (r ItemRef) Validate() error {
	switch r.Kind {
	case RefPatientItem:
		if r.ItemID == uuid.Nil {
			return fmt.Errorf("%w: item_id is required", ErrInvalidRef)
		}
	case RefCatalog:
		if r.CatalogID <= 0 {
			return fmt.Errorf("%w: catalog_id must be positive", ErrInvalidRef)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRef, r.Kind)
	}
	return nil
}

// CategoryReport counts the changes one reconciliation made to a category.
type CategoryReport struct {
	Inserted     int `json:"inserted"`
	Pruned       int `json:"pruned"`
	Deduplicated int `json:"deduplicated"`
	Suppressed   int `json:"suppressed"`
}

func (r CategoryReport) Changed() bool {
	return r.Inserted+r.Pruned+r.Deduplicated > 0
}

type Report struct {
	PatientID  uuid.UUID                         `json:"patient_id"`
	DoctorID   uuid.UUID                         `json:"doctor_id"`
	Categories map[rules.Category]CategoryReport `json:"categories"`
	Duration   time.Duration                     `json:"duration_ns"`
}

func (r *Report) Totals() CategoryReport {
	var t CategoryReport
	for _, c := range r.Categories {
		t.Inserted += c.Inserted
		t.Pruned += c.Pruned
		t.Deduplicated += c.Deduplicated
		t.Suppressed += c.Suppressed
	}
	return t
}

// Suggestion is a catalog entry the rules currently imply for a patient.
type Suggestion struct {
	Ref     ItemRef `json:"ref"`
	Key     string  `json:"key"`
	Content any     `json:"content"`
	Ignored bool    `json:"ignored"`
	Present bool    `json:"present"`
}

// IgnoredItem is a dismissed catalog suggestion.
type IgnoredItem struct {
	PatientID  uuid.UUID      `json:"patient_id"`
	DoctorID   uuid.UUID      `json:"doctor_id"`
	Category   rules.Category `json:"category"`
	CatalogKey string         `json:"catalog_key"`
	CreatedAt  time.Time      `json:"created_at"`
}

// PatientSummary is the full clinical summary of a patient for one doctor.
type PatientSummary struct {
	PatientID  uuid.UUID                 `json:"patient_id"`
	Stratum    *rules.Stratum            `json:"stratum,omitempty"`
	Facts      *clinical.Overview        `json:"facts"`
	Categories map[rules.Category]any    `json:"categories"`
	Risks      []rules.Entry[rules.Risk] `json:"risks"`
}

func (it *Item[C]) itemID() uuid.UUID { return it.ID }

type identified interface{ itemID() uuid.UUID }
