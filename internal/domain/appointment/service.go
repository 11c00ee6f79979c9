package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/venushealth/clinic/internal/domain/billing"
	"github.com/venushealth/clinic/internal/domain/clinical"
	"github.com/venushealth/clinic/internal/platform/audit"
	"github.com/venushealth/clinic/internal/platform/auth"
	"github.com/venushealth/clinic/internal/platform/db"
	"github.com/venushealth/clinic/internal/platform/ws"
)

var validStatuses = map[string]bool{
	StatusPending:     true,
	StatusAccepted:    true,
	StatusRescheduled: true,
	StatusCompleted:   true,
	StatusCancelled:   true,
}

var validTypes = map[string]bool{
	TypeInPerson: true,
	TypeOnline:   true,
}

// InvoiceIssuer is the slice of the billing service the lifecycle needs.
type InvoiceIssuer interface {
	CreateForConsultation(ctx context.Context, patientID, appointmentID uuid.UUID, fee float64, status string) (*billing.Invoice, error)
	LookupByAppointment(ctx context.Context, appointmentID uuid.UUID) (*billing.Invoice, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status, paymentMethod string) (*billing.Invoice, error)
}

// PrescriptionWriter is the slice of the clinical service the lifecycle
// needs.
type PrescriptionWriter interface {
	CreatePrescription(ctx context.Context, in clinical.PrescriptionInput) (*clinical.Prescription, error)
}

type Service struct {
	repo          Repository
	invoices      InvoiceIssuer
	prescriptions PrescriptionWriter
	tx            db.TxRunner
	pub           ws.Publisher
	trail         *audit.Trail
	logger        zerolog.Logger
	defaultFee    float64
}

func NewService(repo Repository, invoices InvoiceIssuer, prescriptions PrescriptionWriter, tx db.TxRunner, pub ws.Publisher, trail *audit.Trail, logger zerolog.Logger, defaultFee float64) *Service {
	return &Service{
		repo:          repo,
		invoices:      invoices,
		prescriptions: prescriptions,
		tx:            tx,
		pub:           pub,
		trail:         trail,
		logger:        logger,
		defaultFee:    defaultFee,
	}
}

type BookInput struct {
	DoctorID    *uuid.UUID `json:"doctor_id,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Type        string     `json:"type"`
	Reason      string     `json:"reason"`
}

// Book creates a pending appointment for the authenticated patient and
// notifies staff with an untargeted broadcast.
func (s *Service) Book(ctx context.Context, in BookInput) (*Appointment, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	if err := validateSchedule(in.ScheduledAt, in.Type); err != nil {
		return nil, err
	}

	a := &Appointment{
		ID:          uuid.New(),
		PatientID:   principal.UserID,
		DoctorID:    in.DoctorID,
		ScheduledAt: in.ScheduledAt,
		Type:        in.Type,
		Status:      StatusPending,
		Reason:      in.Reason,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.trail.Record(ctx, "BOOK_APPOINTMENT", "appointment:"+a.ID.String(), "")
	s.publish(ctx, ws.ActionNewBooking, nil, "new appointment booked", a)
	return a, nil
}

type AssignInput struct {
	PatientID   uuid.UUID `json:"patient_id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Type        string    `json:"type"`
	Reason      string    `json:"reason"`
}

// Assign creates an appointment on behalf of a patient. Admin-created
// appointments start accepted, and the assigned doctor is notified
// directly.
func (s *Service) Assign(ctx context.Context, in AssignInput) (*Appointment, error) {
	if in.PatientID == uuid.Nil || in.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("patient_id and doctor_id are required")
	}
	if err := validateSchedule(in.ScheduledAt, in.Type); err != nil {
		return nil, err
	}

	doctorID := in.DoctorID
	a := &Appointment{
		ID:          uuid.New(),
		PatientID:   in.PatientID,
		DoctorID:    &doctorID,
		ScheduledAt: in.ScheduledAt,
		Type:        in.Type,
		Status:      StatusAccepted,
		Reason:      in.Reason,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.trail.Record(ctx, "ASSIGN_APPOINTMENT", "appointment:"+a.ID.String(), "doctor:"+doctorID.String())
	s.publish(ctx, ws.ActionAssignAppointment, &doctorID, "appointment assigned to you", a)
	return a, nil
}

func validateSchedule(at time.Time, typ string) error {
	if at.IsZero() {
		return fmt.Errorf("scheduled_at is required")
	}
	if !validTypes[typ] {
		return fmt.Errorf("invalid appointment type: %s", typ)
	}
	return nil
}

// canModify is the single write-access rule for an existing appointment:
// the assigned doctor, or a superadmin.
func canModify(ctx context.Context, a *Appointment) error {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return ErrPermissionDenied
	}
	if principal.IsSuperadmin() {
		return nil
	}
	if principal.Role == auth.RoleDoctor && a.DoctorID != nil && *a.DoctorID == principal.UserID {
		return nil
	}
	return ErrPermissionDenied
}

func canView(ctx context.Context, a *Appointment) error {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return ErrPermissionDenied
	}
	if principal.UserID == a.PatientID {
		return nil
	}
	return canModify(ctx, a)
}

// UpdateStatus moves an appointment between non-terminal states. Completion
// only happens through Finalize.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Appointment, error) {
	if !validStatuses[status] {
		return nil, fmt.Errorf("invalid appointment status: %s", status)
	}
	if status == StatusCompleted {
		return nil, fmt.Errorf("appointments are completed by finalizing the consultation")
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canModify(ctx, a); err != nil {
		return nil, err
	}
	if a.Status == StatusCompleted {
		return nil, ErrAlreadyFinalized
	}

	a.Status = status
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	s.trail.Record(ctx, "UPDATE_APPOINTMENT_STATUS", "appointment:"+a.ID.String(), status)
	s.publish(ctx, ws.ActionAppointmentUpdate, nil, "appointment "+status, a)
	return a, nil
}

// Reschedule moves the visit to a new time.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, error) {
	if at.IsZero() {
		return nil, fmt.Errorf("scheduled_at is required")
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canModify(ctx, a); err != nil {
		return nil, err
	}
	if a.Status == StatusCompleted {
		return nil, ErrAlreadyFinalized
	}

	a.ScheduledAt = at
	if a.Status == StatusAccepted {
		a.Status = StatusRescheduled
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	s.trail.Record(ctx, "RESCHEDULE_APPOINTMENT", "appointment:"+a.ID.String(), at.Format(time.RFC3339))
	s.publish(ctx, ws.ActionAppointmentUpdate, nil, "appointment rescheduled", a)
	return a, nil
}

// RecordVitals stores the triage measurements.
func (s *Service) RecordVitals(ctx context.Context, id uuid.UUID, v Vitals) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canModify(ctx, a); err != nil {
		return nil, err
	}
	if a.Status == StatusCompleted {
		return nil, ErrAlreadyFinalized
	}

	a.Vitals = &v
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	s.trail.Record(ctx, "RECORD_VITALS", "appointment:"+a.ID.String(), "")
	return a, nil
}

type FinalizeInput struct {
	Diagnosis         string                     `json:"diagnosis"`
	ClinicalNotes     string                     `json:"clinical_notes"`
	Vitals            *Vitals                    `json:"vitals,omitempty"`
	PrescriptionNotes string                     `json:"prescription_notes"`
	Medications       []clinical.MedicationInput `json:"medications"`
	Fee               float64                    `json:"fee"`
	InvoiceStatus     string                     `json:"invoice_status"`
}

// FinalizeResult carries everything a finalized consultation produced.
type FinalizeResult struct {
	Appointment  *Appointment           `json:"appointment"`
	Prescription *clinical.Prescription `json:"prescription"`
	Invoice      *billing.Invoice       `json:"invoice"`
}

// Finalize closes out a consultation: clinical findings are written, the
// appointment is completed, the prescription is issued, and the invoice is
// raised. All writes happen in one transaction so a failure leaves no
// partial state, and a second call fails with ErrAlreadyFinalized.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, in FinalizeInput) (*FinalizeResult, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}

	fee := in.Fee
	if fee == 0 {
		fee = s.defaultFee
	}

	var result FinalizeResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == StatusCompleted {
			return ErrAlreadyFinalized
		}
		if a.DoctorID == nil {
			if principal.Role != auth.RoleDoctor {
				return ErrNoDoctorAssigned
			}
			doctorID := principal.UserID
			a.DoctorID = &doctorID
		} else if err := canModify(ctx, a); err != nil {
			return err
		}

		a.Diagnosis = in.Diagnosis
		a.ClinicalNotes = in.ClinicalNotes
		if in.Vitals != nil {
			a.Vitals = in.Vitals
		}
		a.Status = StatusCompleted
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}

		prescription, err := s.prescriptions.CreatePrescription(ctx, clinical.PrescriptionInput{
			AppointmentID: a.ID,
			PatientID:     a.PatientID,
			DoctorID:      *a.DoctorID,
			Notes:         in.PrescriptionNotes,
			Medications:   in.Medications,
		})
		if errors.Is(err, clinical.ErrDuplicatePrescription) {
			return ErrAlreadyFinalized
		}
		if err != nil {
			return err
		}

		invoice, err := s.invoices.CreateForConsultation(ctx, a.PatientID, a.ID, fee, in.InvoiceStatus)
		if err != nil {
			return err
		}

		result = FinalizeResult{Appointment: a, Prescription: prescription, Invoice: invoice}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.trail.Record(ctx, "FINALIZE_CONSULTATION", "appointment:"+id.String(), "invoice:"+result.Invoice.Number)
	s.publish(ctx, ws.ActionAppointmentUpdate, nil, "consultation completed", result.Appointment)
	return &result, nil
}

// UpdatePayment records a payment against the appointment's invoice,
// creating the invoice at the default consultation fee if finalization
// never produced one.
func (s *Service) UpdatePayment(ctx context.Context, id uuid.UUID, status, paymentMethod string) (*billing.Invoice, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canModify(ctx, a); err != nil {
		return nil, err
	}

	var invoice *billing.Invoice
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.LookupByAppointment(ctx, a.ID)
		if errors.Is(err, billing.ErrNotFound) {
			inv, err = s.invoices.CreateForConsultation(ctx, a.PatientID, a.ID, s.defaultFee, "")
		}
		if err != nil {
			return err
		}
		invoice, err = s.invoices.UpdateStatus(ctx, inv.ID, status, paymentMethod)
		return err
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// Delete removes an appointment. Completed appointments are immutable to
// deletion.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == StatusCompleted {
		return ErrCompletedImmutable
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.trail.Record(ctx, "DELETE_APPOINTMENT", "appointment:"+id.String(), "")
	return nil
}

// Get returns an appointment to its patient, its doctor, or a superadmin.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canView(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns appointments across the clinic, optionally by status.
func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Appointment, int, error) {
	if status != "" && !validStatuses[status] {
		return nil, 0, fmt.Errorf("invalid appointment status: %s", status)
	}
	return s.repo.List(ctx, status, limit, offset)
}

// ListForPatient returns a patient's own appointments.
func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// ListForDoctor returns the appointments assigned to a doctor.
func (s *Service) ListForDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

// DoctorPatients returns every patient a doctor has seen with the date of
// the most recent visit.
func (s *Service) DoctorPatients(ctx context.Context, doctorID uuid.UUID) ([]PatientSummary, error) {
	return s.repo.DistinctPatients(ctx, doctorID)
}

// publish emits a notification. Broadcast is fire and forget: a publish
// failure never fails the state change that triggered it.
func (s *Service) publish(ctx context.Context, action string, target *uuid.UUID, message string, a *Appointment) {
	data, err := json.Marshal(a)
	if err != nil {
		s.logger.Warn().Err(err).Msg("marshal appointment event")
		return
	}
	event := ws.Event{
		Action:       action,
		TargetUserID: target,
		Message:      message,
		Data:         data,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.pub.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("publish appointment event")
	}
}
