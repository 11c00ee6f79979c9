package appointment

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the storage contract for appointments.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, status string, limit, offset int) ([]*Appointment, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListCompletedByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error)
	// ExistsForDoctorPatient reports whether the doctor has ever had an
	// appointment with the patient, in any status.
	ExistsForDoctorPatient(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error)
	// DistinctPatients returns every patient the doctor has seen with the
	// date of the most recent visit.
	DistinctPatients(ctx context.Context, doctorID uuid.UUID) ([]PatientSummary, error)
}
