package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/venushealth/clinic/internal/platform/audit"
	"github.com/venushealth/clinic/internal/platform/auth"
	"github.com/venushealth/clinic/internal/platform/otp"
)

// MailSender is the slice of the notification facade this service needs.
type MailSender interface {
	OneTimeCode(ctx context.Context, to, name, code string, minutes int) error
	WelcomeCredentials(ctx context.Context, to, name, email, password string) error
	PasswordChanged(ctx context.Context, to, name string) error
}

// Key prefixes in the one-time-code store keep the verification and reset
// flows from consuming each other's codes.
const (
	verifyCodeKey = "verify:"
	resetCodeKey  = "reset:"
)

const otpMinutes = int(otp.CodeTTL / time.Minute)

// NewSuperadmin builds the bootstrap superadmin account used by the seed
// command.
func NewSuperadmin(name, email, password string) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	return &User{
		ID:             id,
		Name:           strings.TrimSpace(name),
		Email:          strings.ToLower(email),
		PasswordHash:   hash,
		Role:           auth.RoleSuperadmin,
		DisplayID:      DisplayID(name, id),
		EmailVerified:  true,
		ProfileCreated: true,
	}, nil
}

type Service struct {
	repo   Repository
	codes  otp.Store
	mail   MailSender
	tokens *auth.TokenIssuer
	trail  *audit.Trail
	logger zerolog.Logger
}

func NewService(repo Repository, codes otp.Store, mail MailSender, tokens *auth.TokenIssuer, trail *audit.Trail, logger zerolog.Logger) *Service {
	return &Service{repo: repo, codes: codes, mail: mail, tokens: tokens, trail: trail, logger: logger}
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type CreateStaffInput struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Specialization string `json:"specialization"`
}

func validateContact(name, email, phone string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address")
	}
	if strings.TrimSpace(phone) == "" {
		return fmt.Errorf("phone is required")
	}
	return nil
}

// checkDuplicates rejects emails and phones already in use, distinguishing
// archived accounts so support can restore them instead of re-registering.
func (s *Service) checkDuplicates(ctx context.Context, email, phone string) error {
	existing, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		if existing.IsDeleted {
			return ErrEmailArchived
		}
		return ErrEmailTaken
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	existing, err = s.repo.GetByPhone(ctx, phone)
	if err == nil {
		if existing.IsDeleted {
			return ErrPhoneArchived
		}
		return ErrPhoneTaken
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Register creates an unverified patient account and mails a verification
// code.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if err := validateContact(in.Name, in.Email, in.Phone); err != nil {
		return nil, err
	}
	if len(in.Password) < 6 {
		return nil, fmt.Errorf("password must be at least 6 characters")
	}

	// Re-registering an address that never finished verification rotates
	// the code instead of failing.
	if existing, err := s.repo.GetByEmail(ctx, in.Email); err == nil && !existing.IsDeleted && !existing.EmailVerified {
		hash, err := HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		existing.PasswordHash = hash
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("update unverified account: %w", err)
		}
		if err := s.sendCode(ctx, verifyCodeKey, existing); err != nil {
			return nil, err
		}
		s.trail.Record(ctx, "REGISTER_RETRY", "user:"+existing.ID.String(), existing.Email)
		return existing, nil
	}

	if err := s.checkDuplicates(ctx, in.Email, in.Phone); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	user := &User{
		ID:           id,
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.ToLower(in.Email),
		Phone:        in.Phone,
		PasswordHash: hash,
		Role:         auth.RolePatient,
		DisplayID:    DisplayID(in.Name, id),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.sendCode(ctx, verifyCodeKey, user); err != nil {
		return nil, err
	}

	s.trail.Record(ctx, "REGISTER", "user:"+user.ID.String(), user.Email)
	return user, nil
}

func (s *Service) sendCode(ctx context.Context, prefix string, user *User) error {
	code, err := otp.GenerateCode()
	if err != nil {
		return err
	}
	if err := s.codes.Set(ctx, prefix+user.Email, code, otp.CodeTTL); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}
	// The account and code exist either way; code mail is best effort.
	if err := s.mail.OneTimeCode(ctx, user.Email, user.Name, code, otpMinutes); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("one-time code mail failed")
	}
	return nil
}

// VerifyEmail consumes a verification code, marks the account verified, and
// returns a session token.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) (*User, string, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if user.IsDeleted {
		return nil, "", ErrAccountArchived
	}

	if err := s.consumeCode(ctx, verifyCodeKey+user.Email, code); err != nil {
		return nil, "", err
	}

	user.EmailVerified = true
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, "", fmt.Errorf("mark verified: %w", err)
	}

	token, err := s.tokens.Issue(user.ID, user.Role, user.Name)
	if err != nil {
		return nil, "", err
	}

	s.trail.Record(ctx, "VERIFY_EMAIL", "user:"+user.ID.String(), "")
	return user, token, nil
}

func (s *Service) consumeCode(ctx context.Context, key, code string) error {
	stored, err := s.codes.Get(ctx, key)
	if errors.Is(err, otp.ErrCodeNotFound) {
		return ErrInvalidCode
	}
	if err != nil {
		return err
	}
	if stored != code {
		return ErrInvalidCode
	}
	return s.codes.Delete(ctx, key)
}

// Login authenticates by email and password and returns a session token.
// Patients must have verified their email first.
func (s *Service) Login(ctx context.Context, email, password string) (*User, string, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if user.IsDeleted {
		return nil, "", ErrAccountArchived
	}
	if !user.CheckPassword(password) {
		s.trail.Record(ctx, "LOGIN_FAILED", "user:"+user.ID.String(), "")
		return nil, "", ErrInvalidCredentials
	}
	if user.Role == auth.RolePatient && !user.EmailVerified {
		return nil, "", ErrEmailNotVerified
	}

	token, err := s.tokens.Issue(user.ID, user.Role, user.Name)
	if err != nil {
		return nil, "", err
	}

	s.trail.Record(ctx, "LOGIN", "user:"+user.ID.String(), "")
	return user, token, nil
}

// ForgotPassword mails a reset code to the account's email.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.IsDeleted {
		return ErrAccountArchived
	}
	if err := s.sendCode(ctx, resetCodeKey, user); err != nil {
		return err
	}
	s.trail.Record(ctx, "FORGOT_PASSWORD", "user:"+user.ID.String(), "")
	return nil
}

// ResetPassword consumes a reset code and replaces the password.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.IsDeleted {
		return ErrAccountArchived
	}

	if err := s.consumeCode(ctx, resetCodeKey+user.Email, code); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.repo.Update(ctx, user); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.mail.PasswordChanged(ctx, user.Email, user.Name); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("password changed mail failed")
	}

	s.trail.Record(ctx, "RESET_PASSWORD", "user:"+user.ID.String(), "")
	return nil
}

// CreateDoctor provisions a doctor account with a temporary password and
// mails the credentials.
func (s *Service) CreateDoctor(ctx context.Context, in CreateStaffInput) (*User, error) {
	if err := validateContact(in.Name, in.Email, in.Phone); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Specialization) == "" {
		return nil, fmt.Errorf("specialization is required")
	}
	return s.createStaff(ctx, in, auth.RoleDoctor, "CREATE_DOCTOR")
}

// CreatePatient provisions a patient account at the front desk. The account
// is pre-verified since staff vouch for the contact details.
func (s *Service) CreatePatient(ctx context.Context, in CreateStaffInput) (*User, error) {
	if err := validateContact(in.Name, in.Email, in.Phone); err != nil {
		return nil, err
	}
	return s.createStaff(ctx, in, auth.RolePatient, "CREATE_PATIENT")
}

func (s *Service) createStaff(ctx context.Context, in CreateStaffInput, role, action string) (*User, error) {
	if err := s.checkDuplicates(ctx, in.Email, in.Phone); err != nil {
		return nil, err
	}

	password := TemporaryPassword(in.Name)
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	user := &User{
		ID:             id,
		Name:           strings.TrimSpace(in.Name),
		Email:          strings.ToLower(in.Email),
		Phone:          in.Phone,
		PasswordHash:   hash,
		Role:           role,
		Specialization: in.Specialization,
		DisplayID:      DisplayID(in.Name, id),
		EmailVerified:  true,
		ProfileCreated: true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	// The account exists either way; credentials mail is best effort.
	if err := s.mail.WelcomeCredentials(ctx, user.Email, user.Name, user.Email, password); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("welcome mail failed")
	}

	s.trail.Record(ctx, action, "user:"+user.ID.String(), user.Email)
	return user, nil
}

// SoftDelete archives an account. Superadmin accounts cannot be archived.
func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID) error {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user.Role == auth.RoleSuperadmin {
		return ErrSuperadminImmutable
	}

	if err := s.repo.SetDeleted(ctx, id, true); err != nil {
		return err
	}
	s.trail.Record(ctx, "DELETE_USER", "user:"+id.String(), user.Email)
	return nil
}

// Restore clears the archived flag. Everything else about the account is
// left untouched.
func (s *Service) Restore(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SetDeleted(ctx, id, false); err != nil {
		return err
	}
	s.trail.Record(ctx, "RESTORE_USER", "user:"+id.String(), "")
	return nil
}

// Get returns a single user.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns users, optionally filtered by role. includeDeleted is only
// honored for admin views.
func (s *Service) List(ctx context.Context, role string, includeDeleted bool, limit, offset int) ([]*User, int, error) {
	if role != "" && !auth.ValidRole(role) {
		return nil, 0, fmt.Errorf("invalid role: %s", role)
	}
	return s.repo.List(ctx, role, includeDeleted, limit, offset)
}

// ListDoctors returns active doctors for the booking flow.
func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.repo.List(ctx, auth.RoleDoctor, false, limit, offset)
}
