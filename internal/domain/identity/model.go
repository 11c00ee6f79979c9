// Package identity manages user accounts: patient self-registration with
// email verification, staff-created doctor and patient accounts, login, and
// soft deletion with restore.
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound            = errors.New("user not found")
	ErrEmailTaken          = errors.New("email already registered")
	ErrPhoneTaken          = errors.New("phone already registered")
	ErrEmailArchived       = errors.New("email belongs to an archived account")
	ErrPhoneArchived       = errors.New("phone belongs to an archived account")
	ErrSuperadminImmutable = errors.New("superadmin account cannot be deleted")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrInvalidCode         = errors.New("invalid or expired verification code")
	ErrAccountArchived     = errors.New("account is archived")
)

// User is an account in any role.
type User struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Email          string    `json:"email" db:"email"`
	Phone          string    `json:"phone" db:"phone"`
	PasswordHash   string    `json:"-" db:"password_hash"`
	Role           string    `json:"role" db:"role"`
	Specialization string    `json:"specialization,omitempty" db:"specialization"`
	DisplayID      string    `json:"display_id" db:"display_id"`
	EmailVerified  bool      `json:"email_verified" db:"email_verified"`
	ProfileCreated bool      `json:"profile_created" db:"profile_created"`
	IsDeleted      bool      `json:"is_deleted" db:"is_deleted"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// DisplayID derives the human-facing identifier shown on invoices and lists,
// e.g. "JOR-042". The prefix is the first three letters of the name; the
// digits come from the tail of the UUID so the value is stable for a user.
func DisplayID(name string, id uuid.UUID) string {
	prefix := namePrefix(name)

	hexID := strings.ReplaceAll(id.String(), "-", "")
	tail := hexID[len(hexID)-4:]
	n, err := strconv.ParseInt(tail, 16, 64)
	if err != nil {
		n = randomInRange(100, 999)
	}
	return fmt.Sprintf("%s-%03d", prefix, n%1000)
}

func namePrefix(name string) string {
	var letters []rune
	for _, r := range name {
		if unicode.IsLetter(r) {
			letters = append(letters, unicode.ToUpper(r))
			if len(letters) == 3 {
				break
			}
		}
	}
	for len(letters) < 3 {
		letters = append(letters, 'X')
	}
	return string(letters)
}

func randomInRange(lo, hi int64) int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(hi-lo+1))
	if err != nil {
		return lo
	}
	return lo + n.Int64()
}

// TemporaryPassword builds the initial password for staff-created accounts:
// the first word of the name followed by four random digits.
func TemporaryPassword(name string) string {
	var word []rune
	for _, r := range name {
		if unicode.IsLetter(r) {
			word = append(word, r)
		} else if len(word) > 0 {
			break
		}
	}
	if len(word) == 0 {
		word = []rune("user")
	}
	return fmt.Sprintf("%s%04d", string(word), randomInRange(0, 9999))
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether the plaintext matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}
