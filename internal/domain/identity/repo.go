package identity

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence contract for users. Lookups by email and
// phone include soft-deleted accounts so duplicate checks can distinguish
// archived conflicts.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	Update(ctx context.Context, u *User) error
	SetDeleted(ctx context.Context, id uuid.UUID, deleted bool) error
	List(ctx context.Context, role string, includeDeleted bool, limit, offset int) ([]*User, int, error)
}
