package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/venushealth/clinic/internal/platform/audit"
	"github.com/venushealth/clinic/internal/platform/auth"
)

var validInvoiceStatuses = map[string]bool{
	StatusUnpaid:        true,
	StatusPaid:          true,
	StatusPartiallyPaid: true,
	StatusCancelled:     true,
}

var validPaymentMethods = map[string]bool{
	"cash":      true,
	"card":      true,
	"upi":       true,
	"insurance": true,
}

// statusNeedsMethod reports whether a payment method must accompany the
// status.
func statusNeedsMethod(status string) bool {
	return status == StatusPaid || status == StatusPartiallyPaid
}

type Service struct {
	repo   Repository
	trail  *audit.Trail
	logger zerolog.Logger
}

func NewService(repo Repository, trail *audit.Trail, logger zerolog.Logger) *Service {
	return &Service{repo: repo, trail: trail, logger: logger}
}

// CreateForConsultation issues an invoice for a completed consultation. It
// is called from the finalization flow, inside its transaction, so the
// invoice and the consultation record commit together. An empty status
// means unpaid.
func (s *Service) CreateForConsultation(ctx context.Context, patientID, appointmentID uuid.UUID, fee float64, status string) (*Invoice, error) {
	if fee <= 0 {
		return nil, fmt.Errorf("consultation fee must be positive")
	}
	if status == "" {
		status = StatusUnpaid
	}
	if !validInvoiceStatuses[status] {
		return nil, fmt.Errorf("invalid invoice status: %s", status)
	}

	if _, err := s.repo.GetByAppointment(ctx, appointmentID); err == nil {
		return nil, ErrDuplicateInvoice
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id := uuid.New()
	inv := &Invoice{
		ID:            id,
		Number:        NewInvoiceNumber(time.Now().UTC(), id),
		PatientID:     patientID,
		AppointmentID: &appointmentID,
		TotalAmount:   fee,
		Status:        status,
		LineItems: []LineItem{
			{ID: uuid.New(), InvoiceID: id, Description: "Consultation Fee", Amount: fee},
		},
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	s.trail.Record(ctx, "CREATE_INVOICE", "invoice:"+inv.ID.String(), inv.Number)
	return inv, nil
}

// UpdateStatus settles or reopens an invoice. Recording a payment requires
// a payment method; reverting to unpaid or cancelling clears it.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status, paymentMethod string) (*Invoice, error) {
	if !validInvoiceStatuses[status] {
		return nil, fmt.Errorf("invalid invoice status: %s", status)
	}
	if statusNeedsMethod(status) {
		if !validPaymentMethods[paymentMethod] {
			return nil, fmt.Errorf("invalid payment method: %s", paymentMethod)
		}
	} else {
		paymentMethod = ""
	}

	if err := s.repo.UpdateStatus(ctx, id, status, paymentMethod); err != nil {
		return nil, err
	}

	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.trail.Record(ctx, "UPDATE_INVOICE_STATUS", "invoice:"+id.String(), status)
	return inv, nil
}

// Get returns an invoice if the caller owns it or is a superadmin.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// GetByAppointment returns the invoice issued for an appointment.
func (s *Service) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// LookupByAppointment returns the invoice for an appointment without an
// ownership check. Lifecycle flows that enforce their own access rules use
// it; handlers must go through GetByAppointment instead.
func (s *Service) LookupByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	return s.repo.GetByAppointment(ctx, appointmentID)
}

func (s *Service) authorize(ctx context.Context, inv *Invoice) error {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return ErrPermissionDenied
	}
	if p.IsSuperadmin() || p.UserID == inv.PatientID {
		return nil
	}
	return ErrPermissionDenied
}

// List returns invoices across all patients, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Invoice, int, error) {
	if status != "" && !validInvoiceStatuses[status] {
		return nil, 0, fmt.Errorf("invalid invoice status: %s", status)
	}
	return s.repo.List(ctx, status, limit, offset)
}

// ListForPatient returns a patient's own invoices.
func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
