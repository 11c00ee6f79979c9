// Package billing owns invoices. One invoice is generated per finalized
// consultation; the front desk can settle it later by cash, card, UPI, or
// insurance.
package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("invoice not found")
	ErrDuplicateInvoice = errors.New("invoice already exists for this appointment")
	ErrPermissionDenied = errors.New("not allowed to access this invoice")
)

// Invoice payment statuses.
const (
	StatusUnpaid        = "unpaid"
	StatusPaid          = "paid"
	StatusPartiallyPaid = "partially-paid"
	StatusCancelled     = "cancelled"
)

// Invoice is a bill issued to a patient.
type Invoice struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Number        string     `json:"number" db:"number"`
	PatientID     uuid.UUID  `json:"patient_id" db:"patient_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty" db:"appointment_id"`
	TotalAmount   float64    `json:"total_amount" db:"total_amount"`
	Status        string     `json:"status" db:"status"`
	PaymentMethod string     `json:"payment_method,omitempty" db:"payment_method"`
	LineItems     []LineItem `json:"line_items,omitempty" db:"-"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// LineItem is a single charge on an invoice.
type LineItem struct {
	ID          uuid.UUID `json:"id" db:"id"`
	InvoiceID   uuid.UUID `json:"invoice_id" db:"invoice_id"`
	Description string    `json:"description" db:"description"`
	Amount      float64   `json:"amount" db:"amount"`
}

// NewInvoiceNumber builds a human-readable invoice number that stays unique
// under concurrent finalization: the issue date plus a slice of the invoice
// UUID. Uniqueness is also enforced by the database.
func NewInvoiceNumber(issuedAt time.Time, invoiceID uuid.UUID) string {
	hexID := strings.ReplaceAll(invoiceID.String(), "-", "")
	return fmt.Sprintf("INV-%s-%s", issuedAt.Format("20060102"), strings.ToUpper(hexID[:10]))
}
