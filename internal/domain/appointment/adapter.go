package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/venushealth/clinic/internal/domain/clinical"
)

// HistoryBridge adapts the appointment repository to the read interfaces
// the clinical domain consumes for history views. It keeps the package
// dependency one-way: clinical never imports appointment.
type HistoryBridge struct {
	repo Repository
}

func NewHistoryBridge(repo Repository) *HistoryBridge {
	return &HistoryBridge{repo: repo}
}

const historyVisitLimit = 200

func (b *HistoryBridge) CompletedVisits(ctx context.Context, patientID uuid.UUID) ([]clinical.Visit, error) {
	appts, err := b.repo.ListCompletedByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return toVisits(appts), nil
}

func (b *HistoryBridge) AllVisits(ctx context.Context, patientID uuid.UUID) ([]clinical.Visit, error) {
	appts, _, err := b.repo.ListByPatient(ctx, patientID, historyVisitLimit, 0)
	if err != nil {
		return nil, err
	}
	return toVisits(appts), nil
}

func toVisits(appts []*Appointment) []clinical.Visit {
	visits := make([]clinical.Visit, 0, len(appts))
	for _, a := range appts {
		visits = append(visits, clinical.Visit{
			ID:          a.ID,
			DoctorID:    a.DoctorID,
			ScheduledAt: a.ScheduledAt,
			Type:        a.Type,
			Reason:      a.Reason,
			Diagnosis:   a.Diagnosis,
			Status:      a.Status,
		})
	}
	return visits
}

func (b *HistoryBridge) HasTreated(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	return b.repo.ExistsForDoctorPatient(ctx, doctorID, patientID)
}
