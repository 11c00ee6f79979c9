package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/venushealth/clinic/internal/domain/billing"
	"github.com/venushealth/clinic/internal/domain/clinical"
	"github.com/venushealth/clinic/internal/platform/audit"
	"github.com/venushealth/clinic/internal/platform/auth"
	"github.com/venushealth/clinic/internal/platform/blobstore"
	"github.com/venushealth/clinic/internal/platform/db"
	"github.com/venushealth/clinic/internal/platform/ws"
)

type mockRepo struct {
	appts map[uuid.UUID]*Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func copyAppt(a *Appointment) *Appointment {
	cp := *a
	if a.Vitals != nil {
		v := *a.Vitals
		cp.Vitals = &v
	}
	if a.DoctorID != nil {
		id := *a.DoctorID
		cp.DoctorID = &id
	}
	return &cp
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.appts[a.ID] = copyAppt(a)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAppt(a), nil
}

func (m *mockRepo) Update(_ context.Context, a *Appointment) error {
	if _, ok := m.appts[a.ID]; !ok {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now()
	m.appts[a.ID] = copyAppt(a)
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.appts[id]; !ok {
		return ErrNotFound
	}
	delete(m.appts, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, status string, limit, offset int) ([]*Appointment, int, error) {
	var out []*Appointment
	for _, a := range m.appts {
		if status == "" || a.Status == status {
			out = append(out, copyAppt(a))
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var out []*Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID {
			out = append(out, copyAppt(a))
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var out []*Appointment
	for _, a := range m.appts {
		if a.DoctorID != nil && *a.DoctorID == doctorID {
			out = append(out, copyAppt(a))
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListCompletedByPatient(_ context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	var out []*Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID && a.Status == StatusCompleted {
			out = append(out, copyAppt(a))
		}
	}
	return out, nil
}

func (m *mockRepo) ExistsForDoctorPatient(_ context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	for _, a := range m.appts {
		if a.PatientID == patientID && a.DoctorID != nil && *a.DoctorID == doctorID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) DistinctPatients(_ context.Context, doctorID uuid.UUID) ([]PatientSummary, error) {
	last := make(map[uuid.UUID]time.Time)
	for _, a := range m.appts {
		if a.DoctorID != nil && *a.DoctorID == doctorID && a.ScheduledAt.After(last[a.PatientID]) {
			last[a.PatientID] = a.ScheduledAt
		}
	}
	var out []PatientSummary
	for id, visit := range last {
		out = append(out, PatientSummary{PatientID: id, LastVisit: visit})
	}
	return out, nil
}

type fakeInvoiceRepo struct {
	invoices map[uuid.UUID]*billing.Invoice
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{invoices: make(map[uuid.UUID]*billing.Invoice)}
}

func (f *fakeInvoiceRepo) Create(_ context.Context, inv *billing.Invoice) error {
	cp := *inv
	f.invoices[inv.ID] = &cp
	return nil
}

func (f *fakeInvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*billing.Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeInvoiceRepo) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*billing.Invoice, error) {
	for _, inv := range f.invoices {
		if inv.AppointmentID != nil && *inv.AppointmentID == appointmentID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, billing.ErrNotFound
}

func (f *fakeInvoiceRepo) UpdateStatus(_ context.Context, id uuid.UUID, status, paymentMethod string) error {
	inv, ok := f.invoices[id]
	if !ok {
		return billing.ErrNotFound
	}
	inv.Status = status
	inv.PaymentMethod = paymentMethod
	return nil
}

func (f *fakeInvoiceRepo) List(_ context.Context, status string, limit, offset int) ([]*billing.Invoice, int, error) {
	var out []*billing.Invoice
	for _, inv := range f.invoices {
		cp := *inv
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (f *fakeInvoiceRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*billing.Invoice, int, error) {
	var out []*billing.Invoice
	for _, inv := range f.invoices {
		if inv.PatientID == patientID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (f *fakeInvoiceRepo) GetLineItems(_ context.Context, invoiceID uuid.UUID) ([]billing.LineItem, error) {
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return inv.LineItems, nil
}

type fakeClinicalRepo struct {
	prescriptions map[uuid.UUID]*clinical.Prescription
}

func newFakeClinicalRepo() *fakeClinicalRepo {
	return &fakeClinicalRepo{prescriptions: make(map[uuid.UUID]*clinical.Prescription)}
}

func (f *fakeClinicalRepo) CreatePrescription(_ context.Context, p *clinical.Prescription) error {
	cp := *p
	f.prescriptions[p.ID] = &cp
	return nil
}

func (f *fakeClinicalRepo) GetPrescriptionByID(_ context.Context, id uuid.UUID) (*clinical.Prescription, error) {
	p, ok := f.prescriptions[id]
	if !ok {
		return nil, clinical.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeClinicalRepo) GetPrescriptionByAppointment(_ context.Context, appointmentID uuid.UUID) (*clinical.Prescription, error) {
	for _, p := range f.prescriptions {
		if p.AppointmentID == appointmentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, clinical.ErrNotFound
}

func (f *fakeClinicalRepo) ListPrescriptionsByPatient(_ context.Context, patientID uuid.UUID) ([]*clinical.Prescription, error) {
	var out []*clinical.Prescription
	for _, p := range f.prescriptions {
		if p.PatientID == patientID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeClinicalRepo) CreateReport(_ context.Context, _ *clinical.TestReport) error { return nil }

func (f *fakeClinicalRepo) GetReportByID(_ context.Context, _ uuid.UUID) (*clinical.TestReport, error) {
	return nil, clinical.ErrReportNotFound
}

func (f *fakeClinicalRepo) ListReportsByPatient(_ context.Context, _ uuid.UUID) ([]*clinical.TestReport, error) {
	return nil, nil
}

func (f *fakeClinicalRepo) SearchMedications(_ context.Context, _ string, _ int) ([]clinical.CatalogEntry, error) {
	return nil, nil
}

type failPublisher struct{}

func (failPublisher) Publish(_ context.Context, _ ws.Event) error {
	return errors.New("broker unavailable")
}

type lifecycleFixture struct {
	svc          *Service
	repo         *mockRepo
	invoiceRepo  *fakeInvoiceRepo
	clinicalRepo *fakeClinicalRepo
	pub          *ws.RecordingPublisher
	rec          *audit.MemoryRecorder
}

func fixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		repo:         newMockRepo(),
		invoiceRepo:  newFakeInvoiceRepo(),
		clinicalRepo: newFakeClinicalRepo(),
		pub:          &ws.RecordingPublisher{},
		rec:          audit.NewMemoryRecorder(),
	}
	trail := audit.NewTrail(f.rec, zerolog.Nop())
	invoices := billing.NewService(f.invoiceRepo, trail, zerolog.Nop())
	bridge := NewHistoryBridge(f.repo)
	prescriptions := clinical.NewService(f.clinicalRepo, blobstore.NewMemoryStore(), bridge, bridge, invoices, trail, zerolog.Nop())
	f.svc = NewService(f.repo, invoices, prescriptions, db.NoTxRunner{}, f.pub, trail, zerolog.Nop(), 500)
	return f
}

func as(role string, id uuid.UUID) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{UserID: id, Role: role})
}

func scheduledTomorrow() time.Time {
	return time.Now().Add(24 * time.Hour).Truncate(time.Second)
}

func TestBookStartsPendingAndBroadcasts(t *testing.T) {
	f := fixture(t)
	patient := uuid.New()

	a, err := f.svc.Book(as(auth.RolePatient, patient), BookInput{
		ScheduledAt: scheduledTomorrow(),
		Type:        TypeInPerson,
		Reason:      "persistent cough",
	})
	if err != nil {
		t.Fatalf("Book() error: %v", err)
	}
	if a.Status != StatusPending {
		t.Errorf("status = %q, want %q", a.Status, StatusPending)
	}
	if a.PatientID != patient {
		t.Errorf("patient = %s, want %s", a.PatientID, patient)
	}

	events := f.pub.Events()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Action != ws.ActionNewBooking {
		t.Errorf("action = %q, want %q", events[0].Action, ws.ActionNewBooking)
	}
	if events[0].TargetUserID != nil {
		t.Error("booking broadcast should be untargeted")
	}
}

func TestBookRejectsBadInput(t *testing.T) {
	f := fixture(t)
	ctx := as(auth.RolePatient, uuid.New())

	if _, err := f.svc.Book(ctx, BookInput{Type: TypeOnline}); err == nil {
		t.Error("expected error for missing schedule")
	}
	if _, err := f.svc.Book(ctx, BookInput{ScheduledAt: scheduledTomorrow(), Type: "house-call"}); err == nil {
		t.Error("expected error for invalid type")
	}
}

func TestAssignStartsAcceptedAndTargetsDoctor(t *testing.T) {
	f := fixture(t)
	patient, doctor := uuid.New(), uuid.New()

	a, err := f.svc.Assign(as(auth.RoleSuperadmin, uuid.New()), AssignInput{
		PatientID:   patient,
		DoctorID:    doctor,
		ScheduledAt: scheduledTomorrow(),
		Type:        TypeInPerson,
	})
	if err != nil {
		t.Fatalf("Assign() error: %v", err)
	}
	if a.Status != StatusAccepted {
		t.Errorf("status = %q, want %q", a.Status, StatusAccepted)
	}

	events := f.pub.Events()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Action != ws.ActionAssignAppointment {
		t.Errorf("action = %q, want %q", events[0].Action, ws.ActionAssignAppointment)
	}
	if events[0].TargetUserID == nil || *events[0].TargetUserID != doctor {
		t.Errorf("target = %v, want %s", events[0].TargetUserID, doctor)
	}
}

func TestUpdateStatusOwnership(t *testing.T) {
	f := fixture(t)
	doctor, other := uuid.New(), uuid.New()
	a, err := f.svc.Assign(as(auth.RoleSuperadmin, uuid.New()), AssignInput{
		PatientID: uuid.New(), DoctorID: doctor,
		ScheduledAt: scheduledTomorrow(), Type: TypeOnline,
	})
	if err != nil {
		t.Fatalf("assign error: %v", err)
	}

	if _, err := f.svc.UpdateStatus(as(auth.RoleDoctor, other), a.ID, StatusCancelled); err != ErrPermissionDenied {
		t.Errorf("other doctor error = %v, want ErrPermissionDenied", err)
	}

	updated, err := f.svc.UpdateStatus(as(auth.RoleDoctor, doctor), a.ID, StatusCancelled)
	if err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	if updated.Status != StatusCancelled {
		t.Errorf("status = %q, want %q", updated.Status, StatusCancelled)
	}

	events := f.pub.Events()
	last := events[len(events)-1]
	if last.Action != ws.ActionAppointmentUpdate || last.TargetUserID != nil {
		t.Errorf("unexpected event %+v", last)
	}
}

func TestUpdateStatusCannotComplete(t *testing.T) {
	f := fixture(t)
	doctor := uuid.New()
	a, err := f.svc.Assign(as(auth.RoleSuperadmin, uuid.New()), AssignInput{
		PatientID: uuid.New(), DoctorID: doctor,
		ScheduledAt: scheduledTomorrow(), Type: TypeInPerson,
	})
	if err != nil {
		t.Fatalf("assign error: %v", err)
	}
	if _, err := f.svc.UpdateStatus(as(auth.RoleDoctor, doctor), a.ID, StatusCompleted); err == nil {
		t.Error("expected error when setting completed directly")
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := fixture(t)
	f.svc.pub = failPublisher{}

	a, err := f.svc.Book(as(auth.RolePatient, uuid.New()), BookInput{
		ScheduledAt: scheduledTomorrow(), Type: TypeOnline,
	})
	if err != nil {
		t.Fatalf("Book() error with failing publisher: %v", err)
	}
	if _, err := f.repo.GetByID(context.Background(), a.ID); err != nil {
		t.Errorf("appointment not persisted: %v", err)
	}
}

func TestRescheduleMarksRescheduled(t *testing.T) {
	f := fixture(t)
	doctor := uuid.New()
	a, err := f.svc.Assign(as(auth.RoleSuperadmin, uuid.New()), AssignInput{
		PatientID: uuid.New(), DoctorID: doctor,
		ScheduledAt: scheduledTomorrow(), Type: TypeInPerson,
	})
	if err != nil {
		t.Fatalf("assign error: %v", err)
	}

	newTime := scheduledTomorrow().Add(48 * time.Hour)
	updated, err := f.svc.Reschedule(as(auth.RoleDoctor, doctor), a.ID, newTime)
	if err != nil {
		t.Fatalf("Reschedule() error: %v", err)
	}
	if updated.Status != StatusRescheduled {
		t.Errorf("status = %q, want %q", updated.Status, StatusRescheduled)
	}
	if !updated.ScheduledAt.Equal(newTime) {
		t.Errorf("scheduled_at = %v, want %v", updated.ScheduledAt, newTime)
	}
}

func TestRecordVitals(t *testing.T) {
	f := fixture(t)
	doctor := uuid.New()
	a, err := f.svc.Assign(as(auth.RoleSuperadmin, uuid.New()), AssignInput{
		PatientID: uuid.New(), DoctorID: doctor,
		ScheduledAt: scheduledTomorrow(), Type: TypeInPerson,
	})
	if err != nil {
		t.Fatalf("assign error: %v", err)
	}

	updated, err := f.svc.RecordVitals(as(auth.RoleDoctor, doctor), a.ID, Vitals{
		BloodPressure: "120/80", Temperature: 37.2, Pulse: 72, Weight: 68.5,
	})
	if err != nil {
		t.Fatalf("RecordVitals() error: %v", err)
	}
	if updated.Vitals == nil || updated.Vitals.BloodPressure != "120/80" {
		t.Errorf("vitals not stored: %+v", updated.Vitals)
	}
}

func TestFinalizeEndToEnd(t *testing.T) {
	f := fixture(t)
	patient, doctor := uuid.New(), uuid.New()

	a, err := f.svc.Assign(as(auth.RoleSuperadmin, uuid.New()), AssignInput{
		PatientID: patient, DoctorID: doctor,
		ScheduledAt: scheduledTomorrow(), Type: TypeInPerson,
	})
	if err != nil {
		t.Fatalf("assign error: %v", err)
	}

	result, err := f.svc.Finalize(as(auth.RoleDoctor, doctor), a.ID, FinalizeInput{
		Diagnosis:     "seasonal flu",
		ClinicalNotes: "rest, fluids, review in a week",
		Fee:           750,
		Medications: []clinical.MedicationInput{
			{Name: "Oseltamivir", Dosage: "75mg", Frequency: "2x daily", Duration: "5 days"},
		},
	})
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}

	if result.Appointment.Status != StatusCompleted {
		t.Errorf("appointment status = %q, want %q", result.Appointment.Status, StatusCompleted)
	}
	if result.Invoice.TotalAmount != 750 {
		t.Errorf("invoice total = %v, want 750", result.Invoice.TotalAmount)
	}
	if result.Invoice.Status != billing.StatusUnpaid {
		t.Errorf("invoice status = %q, want %q", result.Invoice.Status, billing.StatusUnpaid)
	}
	if !result.Prescription.IsImmutable {
		t.Error("prescription not flagged immutable")
	}
	if result.Prescription.DoctorID != doctor || result.Prescription.PatientID != patient {
		t.Errorf("prescription parties wrong: %+v", result.Prescription)
	}
}

func TestFinalizeIdempotence(t *testing.T) {
	f := fixture(t)
	patient, doctor := uuid.New(), uuid.New()
	a, err := f.svc.Assign(as(auth.RoleSuperadmin, uuid.New()), AssignInput{
		PatientID: patient, DoctorID: doctor,
		ScheduledAt: scheduledTomorrow(), Type: TypeInPerson,
	})
	if err != nil {
		t.Fatalf("assign error: %v", err)
	}

	ctx := as(auth.RoleDoctor, doctor)
	if _, err := f.svc.Finalize(ctx, a.ID, FinalizeInput{Diagnosis: "flu"}); err != nil {
		t.Fatalf("first finalize error: %v", err)
	}
	if _, err := f.svc.Finalize(ctx, a.ID, FinalizeInput{Diagnosis: "flu"}); err != ErrAlreadyFinalized {
		t.Errorf("second finalize error = %v, want ErrAlreadyFinalized", err)
	}

	if got := len(f.invoiceRepo.invoices); got != 1 {
		t.Errorf("invoice count = %d, want 1", got)
	}
	if got := len(f.clinicalRepo.prescriptions); got != 1 {
		t.Errorf("prescription count = %d, want 1", got)
	}
}

func TestFinalizeUsesDefaultFee(t *testing.T) {
	f := fixture(t)
	doctor := uuid.New()
	a, err := f.svc.Assign(as(auth.RoleSuperadmin, uuid.New()), AssignInput{
		PatientID: uuid.New(), DoctorID: doctor,
		ScheduledAt: scheduledTomorrow(), Type: TypeOnline,
	})
	if err != nil {
		t.Fatalf("assign error: %v", err)
	}

	result, err := f.svc.Finalize(as(auth.RoleDoctor, doctor), a.ID, FinalizeInput{Diagnosis: "migraine"})
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	if result.Invoice.TotalAmount != 500 {
		t.Errorf("invoice total = %v, want default 500", result.Invoice.TotalAmount)
	}
}

func TestFinalizeUnassignedTakenByDoctor(t *testing.T) {
	f := fixture(t)
	patient, doctor := uuid.New(), uuid.New()

	a, err := f.svc.Book(as(auth.RolePatient, patient), BookInput{
		ScheduledAt: scheduledTomorrow(), Type: TypeInPerson,
	})
	if err != nil {
		t.Fatalf("book error: %v", err)
	}

	result, err := f.svc.Finalize(as(auth.RoleDoctor, doctor), a.ID, FinalizeInput{Diagnosis: "sprain"})
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	if result.Appointment.DoctorID == nil || *result.Appointment.DoctorID != doctor {
		t.Errorf("doctor not recorded on appointment: %+v", result.Appointment.DoctorID)
	}
}

func TestDeleteCompletedRefused(t *testing.T) {
	f := fixture(t)
	doctor := uuid.New()
	admin := as(auth.RoleSuperadmin, uuid.New())

	a, err := f.svc.Assign(admin, AssignInput{
		PatientID: uuid.New(), DoctorID: doctor,
		ScheduledAt: scheduledTomorrow(), Type: TypeInPerson,
	})
	if err != nil {
		t.Fatalf("assign error: %v", err)
	}
	if _, err := f.svc.Finalize(as(auth.RoleDoctor, doctor), a.ID, FinalizeInput{Diagnosis: "flu"}); err != nil {
		t.Fatalf("finalize error: %v", err)
	}

	if err := f.svc.Delete(admin, a.ID); err != ErrCompletedImmutable {
		t.Errorf("delete error = %v, want ErrCompletedImmutable", err)
	}
}

func TestDeletePending(t *testing.T) {
	f := fixture(t)
	admin := as(auth.RoleSuperadmin, uuid.New())
	a, err := f.svc.Book(as(auth.RolePatient, uuid.New()), BookInput{
		ScheduledAt: scheduledTomorrow(), Type: TypeOnline,
	})
	if err != nil {
		t.Fatalf("book error: %v", err)
	}

	if err := f.svc.Delete(admin, a.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := f.repo.GetByID(context.Background(), a.ID); err != ErrNotFound {
		t.Error("appointment still present after delete")
	}
}

func TestUpdatePaymentCreatesInvoiceWhenMissing(t *testing.T) {
	f := fixture(t)
	doctor := uuid.New()
	a, err := f.svc.Assign(as(auth.RoleSuperadmin, uuid.New()), AssignInput{
		PatientID: uuid.New(), DoctorID: doctor,
		ScheduledAt: scheduledTomorrow(), Type: TypeInPerson,
	})
	if err != nil {
		t.Fatalf("assign error: %v", err)
	}

	inv, err := f.svc.UpdatePayment(as(auth.RoleDoctor, doctor), a.ID, billing.StatusPaid, "cash")
	if err != nil {
		t.Fatalf("UpdatePayment() error: %v", err)
	}
	if inv.TotalAmount != 500 {
		t.Errorf("fallback invoice total = %v, want default 500", inv.TotalAmount)
	}
	if inv.Status != billing.StatusPaid || inv.PaymentMethod != "cash" {
		t.Errorf("got status=%q method=%q", inv.Status, inv.PaymentMethod)
	}
	if got := len(f.invoiceRepo.invoices); got != 1 {
		t.Errorf("invoice count = %d, want 1", got)
	}
}

func TestUpdatePaymentReusesExistingInvoice(t *testing.T) {
	f := fixture(t)
	doctor := uuid.New()
	a, err := f.svc.Assign(as(auth.RoleSuperadmin, uuid.New()), AssignInput{
		PatientID: uuid.New(), DoctorID: doctor,
		ScheduledAt: scheduledTomorrow(), Type: TypeInPerson,
	})
	if err != nil {
		t.Fatalf("assign error: %v", err)
	}
	ctx := as(auth.RoleDoctor, doctor)
	if _, err := f.svc.Finalize(ctx, a.ID, FinalizeInput{Diagnosis: "flu", Fee: 900}); err != nil {
		t.Fatalf("finalize error: %v", err)
	}

	inv, err := f.svc.UpdatePayment(ctx, a.ID, billing.StatusPaid, "card")
	if err != nil {
		t.Fatalf("UpdatePayment() error: %v", err)
	}
	if inv.TotalAmount != 900 {
		t.Errorf("invoice total = %v, want 900", inv.TotalAmount)
	}
	if got := len(f.invoiceRepo.invoices); got != 1 {
		t.Errorf("invoice count = %d, want 1", got)
	}
}

func TestGetAccess(t *testing.T) {
	f := fixture(t)
	patient, doctor, stranger := uuid.New(), uuid.New(), uuid.New()
	a, err := f.svc.Assign(as(auth.RoleSuperadmin, uuid.New()), AssignInput{
		PatientID: patient, DoctorID: doctor,
		ScheduledAt: scheduledTomorrow(), Type: TypeInPerson,
	})
	if err != nil {
		t.Fatalf("assign error: %v", err)
	}

	if _, err := f.svc.Get(as(auth.RolePatient, patient), a.ID); err != nil {
		t.Errorf("patient read error: %v", err)
	}
	if _, err := f.svc.Get(as(auth.RoleDoctor, doctor), a.ID); err != nil {
		t.Errorf("doctor read error: %v", err)
	}
	if _, err := f.svc.Get(as(auth.RolePatient, stranger), a.ID); err != ErrPermissionDenied {
		t.Errorf("stranger read error = %v, want ErrPermissionDenied", err)
	}
}

func TestHistoryBridge(t *testing.T) {
	f := fixture(t)
	patient, doctor := uuid.New(), uuid.New()
	a, err := f.svc.Assign(as(auth.RoleSuperadmin, uuid.New()), AssignInput{
		PatientID: patient, DoctorID: doctor,
		ScheduledAt: scheduledTomorrow(), Type: TypeInPerson,
	})
	if err != nil {
		t.Fatalf("assign error: %v", err)
	}

	bridge := NewHistoryBridge(f.repo)
	treated, err := bridge.HasTreated(context.Background(), doctor, patient)
	if err != nil || !treated {
		t.Errorf("HasTreated() = %v, %v, want true", treated, err)
	}

	visits, err := bridge.CompletedVisits(context.Background(), patient)
	if err != nil {
		t.Fatalf("CompletedVisits() error: %v", err)
	}
	if len(visits) != 0 {
		t.Errorf("got %d completed visits before finalize, want 0", len(visits))
	}
	all, err := bridge.AllVisits(context.Background(), patient)
	if err != nil {
		t.Fatalf("AllVisits() error: %v", err)
	}
	if len(all) != 1 || all[0].Status != StatusAccepted {
		t.Errorf("unexpected visits %+v, want the accepted booking", all)
	}

	if _, err := f.svc.Finalize(as(auth.RoleDoctor, doctor), a.ID, FinalizeInput{Diagnosis: "flu"}); err != nil {
		t.Fatalf("finalize error: %v", err)
	}
	visits, err = bridge.CompletedVisits(context.Background(), patient)
	if err != nil {
		t.Fatalf("CompletedVisits() error: %v", err)
	}
	if len(visits) != 1 || visits[0].Diagnosis != "flu" {
		t.Errorf("unexpected visits %+v", visits)
	}
}
