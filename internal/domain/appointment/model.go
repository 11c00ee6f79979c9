// Package appointment owns the visit lifecycle: patients book, the admin
// assigns, doctors triage and consult, and finalization closes the visit
// out by writing clinical findings, issuing the prescription, and raising
// the invoice.
package appointment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("appointment not found")
	ErrPermissionDenied   = errors.New("not allowed to access this appointment")
	ErrAlreadyFinalized   = errors.New("appointment has already been finalized")
	ErrCompletedImmutable = errors.New("completed appointments cannot be deleted")
	ErrNoDoctorAssigned   = errors.New("appointment has no doctor assigned")
)

// Appointment statuses.
const (
	StatusPending     = "pending"
	StatusAccepted    = "accepted"
	StatusRescheduled = "rescheduled"
	StatusCompleted   = "completed"
	StatusCancelled   = "cancelled"
)

// Visit types.
const (
	TypeInPerson = "in-person"
	TypeOnline   = "online"
)

// Vitals are recorded at triage or during the consultation.
type Vitals struct {
	BloodPressure string  `json:"blood_pressure,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	Pulse         int     `json:"pulse,omitempty"`
	Weight        float64 `json:"weight,omitempty"`
}

// Appointment is one visit. Diagnosis, clinical notes, and vitals stay
// empty until a doctor works the visit.
type Appointment struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	PatientID     uuid.UUID  `json:"patient_id" db:"patient_id"`
	DoctorID      *uuid.UUID `json:"doctor_id,omitempty" db:"doctor_id"`
	ScheduledAt   time.Time  `json:"scheduled_at" db:"scheduled_at"`
	Type          string     `json:"type" db:"type"`
	Status        string     `json:"status" db:"status"`
	Reason        string     `json:"reason,omitempty" db:"reason"`
	Diagnosis     string     `json:"diagnosis,omitempty" db:"diagnosis"`
	ClinicalNotes string     `json:"clinical_notes,omitempty" db:"clinical_notes"`
	Vitals        *Vitals    `json:"vitals,omitempty" db:"-"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// PatientSummary is one row of a doctor's patient roster.
type PatientSummary struct {
	PatientID uuid.UUID `json:"patient_id" db:"patient_id"`
	LastVisit time.Time `json:"last_visit" db:"last_visit"`
}
