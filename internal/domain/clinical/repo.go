package clinical

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the storage contract for prescriptions, test reports, and
// the medication catalog. There are deliberately no update or delete
// methods for prescriptions.
type Repository interface {
	CreatePrescription(ctx context.Context, p *Prescription) error
	GetPrescriptionByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetPrescriptionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error)
	ListPrescriptionsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error)

	CreateReport(ctx context.Context, r *TestReport) error
	GetReportByID(ctx context.Context, id uuid.UUID) (*TestReport, error)
	ListReportsByPatient(ctx context.Context, patientID uuid.UUID) ([]*TestReport, error)

	SearchMedications(ctx context.Context, query string, limit int) ([]CatalogEntry, error)
}
