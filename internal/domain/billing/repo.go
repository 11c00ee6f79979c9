package billing

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the storage contract for invoices.
type Repository interface {
	// Create stores the invoice together with its line items.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status, paymentMethod string) error
	List(ctx context.Context, status string, limit, offset int) ([]*Invoice, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)
	GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]LineItem, error)
}
