// Package clinical owns the records produced by care: prescriptions issued
// at consultation finalization, test reports uploaded by patients, and the
// aggregated patient history view. Prescriptions are immutable once
// created.
package clinical

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/venushealth/clinic/internal/domain/billing"
)

var (
	ErrNotFound              = errors.New("prescription not found")
	ErrReportNotFound        = errors.New("test report not found")
	ErrImmutable             = errors.New("prescriptions cannot be modified after creation")
	ErrDuplicatePrescription = errors.New("prescription already exists for this appointment")
	ErrPermissionDenied      = errors.New("not allowed to access this record")
	ErrNoRelationship        = errors.New("no appointment history with this patient")
)

// Prescription is issued exactly once per finalized consultation.
type Prescription struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	AppointmentID uuid.UUID    `json:"appointment_id" db:"appointment_id"`
	PatientID     uuid.UUID    `json:"patient_id" db:"patient_id"`
	DoctorID      uuid.UUID    `json:"doctor_id" db:"doctor_id"`
	Notes         string       `json:"notes,omitempty" db:"notes"`
	PDFURL        string       `json:"pdf_url,omitempty" db:"pdf_url"`
	IsImmutable   bool         `json:"is_immutable" db:"is_immutable"`
	Medications   []Medication `json:"medications" db:"-"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// Medication is one entry on a prescription.
type Medication struct {
	ID             uuid.UUID `json:"id" db:"id"`
	PrescriptionID uuid.UUID `json:"prescription_id" db:"prescription_id"`
	Name           string    `json:"name" db:"name"`
	Dosage         string    `json:"dosage" db:"dosage"`
	Frequency      string    `json:"frequency" db:"frequency"`
	Duration       string    `json:"duration" db:"duration"`
}

// CatalogEntry is a searchable medication from the formulary.
type CatalogEntry struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Name     string    `json:"name" db:"name"`
	Form     string    `json:"form" db:"form"`
	Strength string    `json:"strength" db:"strength"`
}

// TestReport is a document uploaded by a patient. The file itself lives in
// the blob store; ExtractedData optionally holds structured values pulled
// from the document.
type TestReport struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	PatientID     uuid.UUID       `json:"patient_id" db:"patient_id"`
	Title         string          `json:"title" db:"title"`
	FileName      string          `json:"file_name" db:"file_name"`
	ContentType   string          `json:"content_type" db:"content_type"`
	Size          int64           `json:"size" db:"size"`
	BlobID        string          `json:"-" db:"blob_id"`
	ExtractedData json.RawMessage `json:"extracted_data,omitempty" db:"extracted_data"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Visit is the slice of an appointment that history views need. The
// appointment domain provides these through a VisitSource.
type Visit struct {
	ID          uuid.UUID  `json:"id"`
	DoctorID    *uuid.UUID `json:"doctor_id,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Type        string     `json:"type"`
	Reason      string     `json:"reason,omitempty"`
	Diagnosis   string     `json:"diagnosis,omitempty"`
	Status      string     `json:"status"`
}

// PatientHistory aggregates everything on file for one patient.
type PatientHistory struct {
	PatientID     uuid.UUID          `json:"patient_id"`
	Visits        []Visit            `json:"visits"`
	Prescriptions []*Prescription    `json:"prescriptions"`
	Reports       []*TestReport      `json:"reports"`
	Invoices      []*billing.Invoice `json:"invoices"`
}
