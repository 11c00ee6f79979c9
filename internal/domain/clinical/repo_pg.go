package clinical

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venushealth/clinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG returns a PostgreSQL-backed clinical repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const prescriptionCols = `id, appointment_id, patient_id, doctor_id, notes, pdf_url, is_immutable, created_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.AppointmentID, &p.PatientID, &p.DoctorID,
		&p.Notes, &p.PDFURL, &p.IsImmutable, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan prescription: %w", err)
	}
	return &p, nil
}

func (r *repoPG) CreatePrescription(ctx context.Context, p *Prescription) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription (id, appointment_id, patient_id, doctor_id, notes, pdf_url, is_immutable)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		p.ID, p.AppointmentID, p.PatientID, p.DoctorID, p.Notes, p.PDFURL, p.IsImmutable)
	if err := row.Scan(&p.CreatedAt); err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	for i := range p.Medications {
		med := &p.Medications[i]
		if med.ID == uuid.Nil {
			med.ID = uuid.New()
		}
		med.PrescriptionID = p.ID
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO prescription_medication (id, prescription_id, name, dosage, frequency, duration)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			med.ID, med.PrescriptionID, med.Name, med.Dosage, med.Frequency, med.Duration)
		if err != nil {
			return fmt.Errorf("insert medication: %w", err)
		}
	}
	return nil
}

func (r *repoPG) GetPrescriptionByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE id = $1`, id)
	return r.withMedications(ctx, row)
}

func (r *repoPG) GetPrescriptionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE appointment_id = $1`, appointmentID)
	return r.withMedications(ctx, row)
}

func (r *repoPG) withMedications(ctx context.Context, row pgx.Row) (*Prescription, error) {
	p, err := scanPrescription(row)
	if err != nil {
		return nil, err
	}
	p.Medications, err = r.medications(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) ListPrescriptionsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+prescriptionCols+` FROM prescription
		WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	var prescriptions []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		prescriptions = append(prescriptions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range prescriptions {
		p.Medications, err = r.medications(ctx, p.ID)
		if err != nil {
			return nil, err
		}
	}
	return prescriptions, nil
}

func (r *repoPG) medications(ctx context.Context, prescriptionID uuid.UUID) ([]Medication, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, prescription_id, name, dosage, frequency, duration
		FROM prescription_medication WHERE prescription_id = $1
		ORDER BY name`, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("get medications: %w", err)
	}
	defer rows.Close()

	var meds []Medication
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.PrescriptionID, &m.Name, &m.Dosage, &m.Frequency, &m.Duration); err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

const reportCols = `id, patient_id, title, file_name, content_type, size, blob_id, extracted_data, created_at`

func scanReport(row pgx.Row) (*TestReport, error) {
	var t TestReport
	err := row.Scan(&t.ID, &t.PatientID, &t.Title, &t.FileName, &t.ContentType,
		&t.Size, &t.BlobID, &t.ExtractedData, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan test report: %w", err)
	}
	return &t, nil
}

func (r *repoPG) CreateReport(ctx context.Context, t *TestReport) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_report (id, patient_id, title, file_name, content_type, size, blob_id, extracted_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		t.ID, t.PatientID, t.Title, t.FileName, t.ContentType, t.Size, t.BlobID, t.ExtractedData)
	if err := row.Scan(&t.CreatedAt); err != nil {
		return fmt.Errorf("insert test report: %w", err)
	}
	return nil
}

func (r *repoPG) GetReportByID(ctx context.Context, id uuid.UUID) (*TestReport, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+reportCols+` FROM test_report WHERE id = $1`, id)
	return scanReport(row)
}

func (r *repoPG) ListReportsByPatient(ctx context.Context, patientID uuid.UUID) ([]*TestReport, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+reportCols+` FROM test_report
		WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list test reports: %w", err)
	}
	defer rows.Close()

	var reports []*TestReport
	for rows.Next() {
		t, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, t)
	}
	return reports, rows.Err()
}

func (r *repoPG) SearchMedications(ctx context.Context, query string, limit int) ([]CatalogEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, form, strength FROM medication_catalog
		WHERE name ILIKE '%' || $1 || '%'
		ORDER BY name LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search medications: %w", err)
	}
	defer rows.Close()

	var entries []CatalogEntry
	for rows.Next() {
		var e CatalogEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Form, &e.Strength); err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
