package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venushealth/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, name, email, phone, password_hash, role, specialization,
	display_id, email_verified, profile_created, is_deleted, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Role, &u.Specialization,
		&u.DisplayID, &u.EmailVerified, &u.ProfileCreated, &u.IsDeleted, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repoPG) Create(ctx context.Context, u *User) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO users (id, name, email, phone, password_hash, role, specialization,
			display_id, email_verified, profile_created, is_deleted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		u.ID, u.Name, u.Email, u.Phone, u.PasswordHash, u.Role, u.Specialization,
		u.DisplayID, u.EmailVerified, u.ProfileCreated, u.IsDeleted)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (r *repoPG) GetByPhone(ctx context.Context, phone string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE phone = $1`, phone))
}

func (r *repoPG) Update(ctx context.Context, u *User) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET name=$2, email=$3, phone=$4, password_hash=$5, specialization=$6,
			email_verified=$7, profile_created=$8, updated_at=NOW()
		WHERE id = $1`,
		u.ID, u.Name, u.Email, u.Phone, u.PasswordHash, u.Specialization,
		u.EmailVerified, u.ProfileCreated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SetDeleted(ctx context.Context, id uuid.UUID, deleted bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET is_deleted=$2, updated_at=NOW() WHERE id = $1`, id, deleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, role string, includeDeleted bool, limit, offset int) ([]*User, int, error) {
	where := `WHERE ($1 = '' OR role = $1)`
	if !includeDeleted {
		where += ` AND NOT is_deleted`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users `+where, role).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+userCols+` FROM users `+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		role, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}
