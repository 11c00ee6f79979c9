// Package audit records security-relevant actions. Recording is best effort:
// a failed write must never fail the operation being audited.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/venushealth/clinic/internal/platform/auth"
)

// Entry is a single audit record.
type Entry struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty" db:"actor_id"`
	Action    string     `json:"action" db:"action"`
	Resource  string     `json:"resource" db:"resource"`
	Details   string     `json:"details,omitempty" db:"details"`
	OriginIP  string     `json:"origin_ip,omitempty" db:"origin_ip"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, limit, offset int) ([]Entry, int, error)
}

type originKey struct{}

// WithOrigin stores the request's origin IP in the context.
func WithOrigin(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, originKey{}, ip)
}

// OriginFromContext returns the origin IP stored by WithOrigin, if any.
func OriginFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(originKey{}).(string)
	return ip
}

// Trail is the recording front-end used by services. It fills in the actor
// and origin from the context and swallows recorder failures after logging
// them, so audit problems never surface to callers.
type Trail struct {
	rec    Recorder
	logger zerolog.Logger
}

func NewTrail(rec Recorder, logger zerolog.Logger) *Trail {
	return &Trail{rec: rec, logger: logger}
}

// Record writes an audit entry for the current caller.
func (t *Trail) Record(ctx context.Context, action, resource, details string) {
	entry := Entry{
		ID:        uuid.New(),
		Action:    action,
		Resource:  resource,
		Details:   details,
		OriginIP:  OriginFromContext(ctx),
		CreatedAt: time.Now().UTC(),
	}
	if actorID, ok := auth.UserIDFromContext(ctx); ok {
		entry.ActorID = &actorID
	}

	if err := t.rec.Record(ctx, entry); err != nil {
		t.logger.Warn().
			Err(err).
			Str("action", action).
			Str("resource", resource).
			Msg("audit record failed")
	}
}

// MemoryRecorder keeps entries in memory. Used in tests.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryRecorder) List(_ context.Context, limit, offset int) ([]Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := len(m.entries)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]Entry, end-offset)
	copy(out, m.entries[offset:end])
	return out, total, nil
}

// Entries returns a copy of everything recorded so far.
func (m *MemoryRecorder) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
