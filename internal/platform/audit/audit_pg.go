package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venushealth/clinic/internal/platform/db"
)

// PGRecorder persists audit entries to PostgreSQL.
type PGRecorder struct {
	pool *pgxpool.Pool
}

func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

func (r *PGRecorder) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *PGRecorder) Record(ctx context.Context, entry Entry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, resource, details, origin_ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.ActorID, entry.Action, entry.Resource, entry.Details, entry.OriginIP, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *PGRecorder) List(ctx context.Context, limit, offset int) ([]Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, actor_id, action, resource, details, origin_ip, created_at
		FROM audit_log
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Resource, &e.Details, &e.OriginIP, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, total, nil
}
