package appointment

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

// NewRepoPG returns a PostgreSQL-backed appointment repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const appointmentCols = `id, patient_id, doctor_id, scheduled_at, type, status, reason,
	diagnosis, clinical_notes, blood_pressure, temperature, pulse, weight,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var bp *string
	var temp, weight *float64
	var pulse *int
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ScheduledAt, &a.Type, &a.Status,
		&a.Reason, &a.Diagnosis, &a.ClinicalNotes, &bp, &temp, &pulse, &weight,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan appointment: %w", err)
	}
	if bp != nil || temp != nil || pulse != nil || weight != nil {
		a.Vitals = &Vitals{}
		if bp != nil {
			a.Vitals.BloodPressure = *bp
		}
		if temp != nil {
			a.Vitals.Temperature = *temp
		}
		if pulse != nil {
			a.Vitals.Pulse = *pulse
		}
		if weight != nil {
			a.Vitals.Weight = *weight
		}
	}
	return &a, nil
}

func vitalsParams(a *Appointment) (bp *string, temp *float64, pulse *int, weight *float64) {
	if a.Vitals == nil {
		return nil, nil, nil, nil
	}
	v := a.Vitals
	if v.BloodPressure != "" {
		bp = &v.BloodPressure
	}
	if v.Temperature != 0 {
		temp = &v.Temperature
	}
	if v.Pulse != 0 {
		pulse = &v.Pulse
	}
	if v.Weight != 0 {
		weight = &v.Weight
	}
	return bp, temp, pulse, weight
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	bp, temp, pulse, weight := vitalsParams(a)
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, scheduled_at, type, status, reason,
			diagnosis, clinical_notes, blood_pressure, temperature, pulse, weight)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.ScheduledAt, a.Type, a.Status, a.Reason,
		a.Diagnosis, a.ClinicalNotes, bp, temp, pulse, weight)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointment WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	bp, temp, pulse, weight := vitalsParams(a)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET doctor_id = $2, scheduled_at = $3, type = $4, status = $5,
			reason = $6, diagnosis = $7, clinical_notes = $8,
			blood_pressure = $9, temperature = $10, pulse = $11, weight = $12,
			updated_at = now()
		WHERE id = $1`,
		a.ID, a.DoctorID, a.ScheduledAt, a.Type, a.Status, a.Reason,
		a.Diagnosis, a.ClinicalNotes, bp, temp, pulse, weight)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*Appointment, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM appointment WHERE ($1 = '' OR status = $1)`, status).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+appointmentCols+` FROM appointment
		WHERE ($1 = '' OR status = $1)
		ORDER BY scheduled_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	appts, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, err
	}
	return appts, total, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.listByUser(ctx, "patient_id", patientID, limit, offset)
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.listByUser(ctx, "doctor_id", doctorID, limit, offset)
}

func (r *repoPG) listByUser(ctx context.Context, col string, userID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM appointment WHERE `+col+` = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+appointmentCols+` FROM appointment
		WHERE `+col+` = $1
		ORDER BY scheduled_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	appts, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, err
	}
	return appts, total, nil
}

func (r *repoPG) ListCompletedByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+appointmentCols+` FROM appointment
		WHERE patient_id = $1 AND status = $2
		ORDER BY scheduled_at DESC`,
		patientID, StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list completed appointments: %w", err)
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	var appts []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

func (r *repoPG) ExistsForDoctorPatient(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM appointment WHERE doctor_id = $1 AND patient_id = $2)`,
		doctorID, patientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check doctor patient relationship: %w", err)
	}
	return exists, nil
}

func (r *repoPG) DistinctPatients(ctx context.Context, doctorID uuid.UUID) ([]PatientSummary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT patient_id, max(scheduled_at) AS last_visit
		FROM appointment WHERE doctor_id = $1
		GROUP BY patient_id ORDER BY last_visit DESC`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list doctor patients: %w", err)
	}
	defer rows.Close()

	var patients []PatientSummary
	for rows.Next() {
		var p PatientSummary
		if err := rows.Scan(&p.PatientID, &p.LastVisit); err != nil {
			return nil, fmt.Errorf("scan patient summary: %w", err)
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}
