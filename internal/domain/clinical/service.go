package clinical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/venushealth/clinic/internal/domain/billing"
	"github.com/venushealth/clinic/internal/platform/audit"
	"github.com/venushealth/clinic/internal/platform/auth"
	"github.com/venushealth/clinic/internal/platform/blobstore"
)

// VisitSource provides appointment summaries for history views. The
// appointment domain satisfies this through an adapter wired at startup.
type VisitSource interface {
	// AllVisits backs the patient's own history view.
	AllVisits(ctx context.Context, patientID uuid.UUID) ([]Visit, error)
	// CompletedVisits backs the doctor-facing view, which only shows
	// consultations that actually happened.
	CompletedVisits(ctx context.Context, patientID uuid.UUID) ([]Visit, error)
}

// RelationshipChecker reports whether a doctor has ever had an appointment
// with a patient. Doctor-facing history access requires it.
type RelationshipChecker interface {
	HasTreated(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error)
}

// InvoiceSource provides a patient's invoices for history views.
type InvoiceSource interface {
	ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*billing.Invoice, int, error)
}

const historyInvoiceLimit = 100

type Service struct {
	repo     Repository
	blobs    blobstore.BlobStore
	visits   VisitSource
	rels     RelationshipChecker
	invoices InvoiceSource
	trail    *audit.Trail
	logger   zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.BlobStore, visits VisitSource, rels RelationshipChecker, invoices InvoiceSource, trail *audit.Trail, logger zerolog.Logger) *Service {
	return &Service{repo: repo, blobs: blobs, visits: visits, rels: rels, invoices: invoices, trail: trail, logger: logger}
}

type MedicationInput struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

type PrescriptionInput struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	Notes         string
	Medications   []MedicationInput
}

// CreatePrescription writes the one prescription a consultation produces.
// The finalization flow calls it inside its transaction. The record is
// immutable from this point on.
func (s *Service) CreatePrescription(ctx context.Context, in PrescriptionInput) (*Prescription, error) {
	for _, med := range in.Medications {
		if strings.TrimSpace(med.Name) == "" {
			return nil, fmt.Errorf("medication name is required")
		}
	}

	if _, err := s.repo.GetPrescriptionByAppointment(ctx, in.AppointmentID); err == nil {
		return nil, ErrDuplicatePrescription
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	p := &Prescription{
		ID:            uuid.New(),
		AppointmentID: in.AppointmentID,
		PatientID:     in.PatientID,
		DoctorID:      in.DoctorID,
		Notes:         in.Notes,
		IsImmutable:   true,
	}
	for _, med := range in.Medications {
		p.Medications = append(p.Medications, Medication{
			ID:             uuid.New(),
			PrescriptionID: p.ID,
			Name:           med.Name,
			Dosage:         med.Dosage,
			Frequency:      med.Frequency,
			Duration:       med.Duration,
		})
	}
	if err := s.repo.CreatePrescription(ctx, p); err != nil {
		return nil, fmt.Errorf("create prescription: %w", err)
	}

	s.trail.Record(ctx, "CREATE_PRESCRIPTION", "prescription:"+p.ID.String(), "appointment:"+in.AppointmentID.String())
	return p, nil
}

// UpdatePrescription exists to make the immutability rule explicit: every
// update attempt against an existing prescription fails.
func (s *Service) UpdatePrescription(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetPrescriptionByID(ctx, id); err != nil {
		return err
	}
	s.trail.Record(ctx, "PRESCRIPTION_UPDATE_REJECTED", "prescription:"+id.String(), "")
	return ErrImmutable
}

// GetPrescription returns a prescription to its patient, its doctor, or a
// superadmin.
func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetPrescriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizePrescription(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPrescriptionByAppointment returns the prescription issued for an
// appointment, under the same access rule as GetPrescription.
func (s *Service) GetPrescriptionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetPrescriptionByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := authorizePrescription(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func authorizePrescription(ctx context.Context, p *Prescription) error {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return ErrPermissionDenied
	}
	if principal.IsSuperadmin() || principal.UserID == p.PatientID || principal.UserID == p.DoctorID {
		return nil
	}
	return ErrPermissionDenied
}

// ListPrescriptions returns a patient's own prescriptions.
func (s *Service) ListPrescriptions(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return s.repo.ListPrescriptionsByPatient(ctx, patientID)
}

type ReportUpload struct {
	PatientID     uuid.UUID
	Title         string
	FileName      string
	ContentType   string
	Content       io.Reader
	ExtractedData json.RawMessage
}

// UploadReport stores the document in the blob store and records it.
func (s *Service) UploadReport(ctx context.Context, in ReportUpload) (*TestReport, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}

	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    in.FileName,
		ContentType: in.ContentType,
		PatientID:   in.PatientID.String(),
		Category:    "test-report",
	}, in.Content)
	if err != nil {
		return nil, fmt.Errorf("store report file: %w", err)
	}

	report := &TestReport{
		ID:            uuid.New(),
		PatientID:     in.PatientID,
		Title:         in.Title,
		FileName:      in.FileName,
		ContentType:   in.ContentType,
		Size:          meta.Size,
		BlobID:        meta.ID,
		ExtractedData: in.ExtractedData,
	}
	if err := s.repo.CreateReport(ctx, report); err != nil {
		if delErr := s.blobs.Delete(ctx, meta.ID); delErr != nil {
			s.logger.Warn().Err(delErr).Str("blob_id", meta.ID).Msg("orphaned report blob")
		}
		return nil, fmt.Errorf("create test report: %w", err)
	}

	s.trail.Record(ctx, "UPLOAD_REPORT", "report:"+report.ID.String(), in.FileName)
	return report, nil
}

// DownloadReport streams a report's file to its patient, a doctor who has
// treated the patient, or a superadmin.
func (s *Service) DownloadReport(ctx context.Context, id uuid.UUID) (io.ReadCloser, *TestReport, error) {
	report, err := s.repo.GetReportByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authorizePatientData(ctx, report.PatientID); err != nil {
		return nil, nil, err
	}

	rc, _, err := s.blobs.Download(ctx, report.BlobID)
	if err != nil {
		return nil, nil, fmt.Errorf("download report file: %w", err)
	}
	return rc, report, nil
}

// ListReports returns a patient's own reports.
func (s *Service) ListReports(ctx context.Context, patientID uuid.UUID) ([]*TestReport, error) {
	return s.repo.ListReportsByPatient(ctx, patientID)
}

// authorizePatientData grants access to the patient themselves, any doctor
// with at least one appointment on record with the patient, and
// superadmins.
func (s *Service) authorizePatientData(ctx context.Context, patientID uuid.UUID) error {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return ErrPermissionDenied
	}
	if principal.IsSuperadmin() || principal.UserID == patientID {
		return nil
	}
	if principal.Role == auth.RoleDoctor {
		treated, err := s.rels.HasTreated(ctx, principal.UserID, patientID)
		if err != nil {
			return err
		}
		if treated {
			return nil
		}
		return ErrNoRelationship
	}
	return ErrPermissionDenied
}

// History aggregates a patient's visits, prescriptions, reports, and
// invoices. Patients and superadmins see every appointment; doctors must
// have an appointment on record with the patient and only see completed
// consultations.
func (s *Service) History(ctx context.Context, patientID uuid.UUID) (*PatientHistory, error) {
	if err := s.authorizePatientData(ctx, patientID); err != nil {
		return nil, err
	}

	principal, _ := auth.PrincipalFromContext(ctx)
	var visits []Visit
	var err error
	if principal.IsSuperadmin() || principal.UserID == patientID {
		visits, err = s.visits.AllVisits(ctx, patientID)
	} else {
		visits, err = s.visits.CompletedVisits(ctx, patientID)
	}
	if err != nil {
		return nil, fmt.Errorf("load visits: %w", err)
	}
	prescriptions, err := s.repo.ListPrescriptionsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load prescriptions: %w", err)
	}
	reports, err := s.repo.ListReportsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}
	invoices, _, err := s.invoices.ListForPatient(ctx, patientID, historyInvoiceLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("load invoices: %w", err)
	}

	return &PatientHistory{
		PatientID:     patientID,
		Visits:        visits,
		Prescriptions: prescriptions,
		Reports:       reports,
		Invoices:      invoices,
	}, nil
}

// SearchMedications queries the formulary for the prescribing UI.
func (s *Service) SearchMedications(ctx context.Context, query string, limit int) ([]CatalogEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	return s.repo.SearchMedications(ctx, query, limit)
}
