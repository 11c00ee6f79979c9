package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/venushealth/clinic/internal/platform/audit"
	"github.com/venushealth/clinic/internal/platform/auth"
	"github.com/venushealth/clinic/internal/platform/notification"
	"github.com/venushealth/clinic/internal/platform/otp"
)

type mockRepo struct {
	users map[uuid.UUID]*User
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockRepo) Create(_ context.Context, u *User) error {
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) GetByPhone(_ context.Context, phone string) (*User, error) {
	for _, u := range m.users {
		if u.Phone == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(_ context.Context, u *User) error {
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockRepo) SetDeleted(_ context.Context, id uuid.UUID, deleted bool) error {
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsDeleted = deleted
	return nil
}

func (m *mockRepo) List(_ context.Context, role string, includeDeleted bool, limit, offset int) ([]*User, int, error) {
	var all []*User
	for _, u := range m.users {
		if role != "" && u.Role != role {
			continue
		}
		if !includeDeleted && u.IsDeleted {
			continue
		}
		cp := *u
		all = append(all, &cp)
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type fixture struct {
	svc   *Service
	repo  *mockRepo
	mail  *notification.MockEmailSender
	codes *otp.MemoryStore
	rec   *audit.MemoryRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMockRepo()
	mail := &notification.MockEmailSender{}
	codes := otp.NewMemoryStore()
	rec := audit.NewMemoryRecorder()
	svc := NewService(
		repo,
		codes,
		notification.NewNotifier(mail, notification.NewTemplateEngine()),
		auth.NewTokenIssuer("0123456789abcdef0123456789abcdef", time.Hour),
		audit.NewTrail(rec, zerolog.Nop()),
		zerolog.Nop(),
	)
	return &fixture{svc: svc, repo: repo, mail: mail, codes: codes, rec: rec}
}

func (f *fixture) storedCode(t *testing.T, prefix, email string) string {
	t.Helper()
	code, err := f.codes.Get(context.Background(), prefix+strings.ToLower(email))
	if err != nil {
		t.Fatalf("no stored code for %s: %v", email, err)
	}
	return code
}

func TestRegisterCreatesUnverifiedPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, RegisterInput{
		Name: "Jordan Smith", Email: "Jordan@Example.com", Phone: "555-0100", Password: "secret1",
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if user.Role != auth.RolePatient {
		t.Errorf("expected patient role, got %s", user.Role)
	}
	if user.EmailVerified {
		t.Error("expected unverified account")
	}
	if user.Email != "jordan@example.com" {
		t.Errorf("expected lowercased email, got %s", user.Email)
	}
	if !strings.HasPrefix(user.DisplayID, "JOR-") {
		t.Errorf("unexpected display id %s", user.DisplayID)
	}
	if len(f.mail.Calls()) != 1 {
		t.Fatalf("expected 1 verification mail, got %d", len(f.mail.Calls()))
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := RegisterInput{Name: "Jordan", Email: "j@example.com", Phone: "555-0100", Password: "secret1"}
	user, err := f.svc.Register(ctx, in)
	if err != nil {
		t.Fatalf("first Register() error: %v", err)
	}
	code := f.storedCode(t, verifyCodeKey, user.Email)
	if _, _, err := f.svc.VerifyEmail(ctx, user.Email, code); err != nil {
		t.Fatalf("VerifyEmail() error: %v", err)
	}

	in.Phone = "555-0199"
	if _, err := f.svc.Register(ctx, in); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterUnverifiedRetryRotatesCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := RegisterInput{Name: "Jordan", Email: "j@example.com", Phone: "555-0100", Password: "secret1"}
	first, err := f.svc.Register(ctx, in)
	if err != nil {
		t.Fatalf("first Register() error: %v", err)
	}
	firstCode := f.storedCode(t, verifyCodeKey, first.Email)

	in.Password = "secret2"
	second, err := f.svc.Register(ctx, in)
	if err != nil {
		t.Fatalf("retry Register() error: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("retry created a new account: %s vs %s", second.ID, first.ID)
	}

	code := f.storedCode(t, verifyCodeKey, first.Email)
	if code == firstCode {
		t.Error("expected a fresh verification code on retry")
	}
	if _, _, err := f.svc.VerifyEmail(ctx, first.Email, code); err != nil {
		t.Fatalf("VerifyEmail() error: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, first.Email, "secret2"); err != nil {
		t.Errorf("Login() with retried password error: %v", err)
	}
}

func TestRegisterDuplicatePhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, RegisterInput{Name: "Jordan", Email: "j@example.com", Phone: "555-0100", Password: "secret1"}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	_, err := f.svc.Register(ctx, RegisterInput{Name: "Casey", Email: "c@example.com", Phone: "555-0100", Password: "secret1"})
	if !errors.Is(err, ErrPhoneTaken) {
		t.Errorf("expected ErrPhoneTaken, got %v", err)
	}
}

func TestRegisterArchivedEmailConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, RegisterInput{Name: "Jordan", Email: "j@example.com", Phone: "555-0100", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := f.repo.SetDeleted(ctx, user.ID, true); err != nil {
		t.Fatalf("SetDeleted() error: %v", err)
	}

	_, err = f.svc.Register(ctx, RegisterInput{Name: "Jordan", Email: "j@example.com", Phone: "555-0199", Password: "secret1"})
	if !errors.Is(err, ErrEmailArchived) {
		t.Errorf("expected ErrEmailArchived, got %v", err)
	}
}

func TestVerifyEmailFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, RegisterInput{Name: "Jordan", Email: "j@example.com", Phone: "555-0100", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	// Login before verification must be refused.
	if _, _, err := f.svc.Login(ctx, "j@example.com", "secret1"); !errors.Is(err, ErrEmailNotVerified) {
		t.Errorf("expected ErrEmailNotVerified, got %v", err)
	}

	code := f.storedCode(t, verifyCodeKey, user.Email)
	verified, token, err := f.svc.VerifyEmail(ctx, "j@example.com", code)
	if err != nil {
		t.Fatalf("VerifyEmail() error: %v", err)
	}
	if !verified.EmailVerified {
		t.Error("expected verified account")
	}
	if token == "" {
		t.Error("expected session token")
	}

	// Code is consumed.
	if _, _, err := f.svc.VerifyEmail(ctx, "j@example.com", code); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("expected ErrInvalidCode on reuse, got %v", err)
	}

	if _, _, err := f.svc.Login(ctx, "j@example.com", "secret1"); err != nil {
		t.Errorf("Login() after verify error: %v", err)
	}
}

func TestVerifyEmailWrongCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, RegisterInput{Name: "Jordan", Email: "j@example.com", Phone: "555-0100", Password: "secret1"}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if _, _, err := f.svc.VerifyEmail(ctx, "j@example.com", "000000x"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("expected ErrInvalidCode, got %v", err)
	}
}

func TestLoginBadPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doctor, err := f.svc.CreateDoctor(ctx, CreateStaffInput{Name: "Amy Lee", Email: "amy@example.com", Phone: "555-0101", Specialization: "Cardiology"})
	if err != nil {
		t.Fatalf("CreateDoctor() error: %v", err)
	}

	if _, _, err := f.svc.Login(ctx, doctor.Email, "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "ghost@example.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestCreateDoctorMailsCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doctor, err := f.svc.CreateDoctor(ctx, CreateStaffInput{Name: "Amy Lee", Email: "amy@example.com", Phone: "555-0101", Specialization: "Cardiology"})
	if err != nil {
		t.Fatalf("CreateDoctor() error: %v", err)
	}
	if doctor.Role != auth.RoleDoctor || !doctor.EmailVerified {
		t.Errorf("unexpected doctor account: %+v", doctor)
	}

	calls := f.mail.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 welcome mail, got %d", len(calls))
	}
	if !strings.Contains(calls[0].Body, "Amy") {
		t.Errorf("welcome mail missing name: %s", calls[0].Body)
	}
}

func TestCreateDoctorRequiresSpecialization(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.CreateDoctor(context.Background(), CreateStaffInput{Name: "Amy", Email: "amy@example.com", Phone: "555-0101"}); err == nil {
		t.Error("expected error for missing specialization")
	}
}

func TestRegisterSurvivesMailFailure(t *testing.T) {
	f := newFixture(t)
	f.mail.ShouldFail = true
	f.mail.FailError = "relay down"
	ctx := context.Background()

	user, err := f.svc.Register(ctx, RegisterInput{Name: "Jordan", Email: "j@example.com", Phone: "555-0100", Password: "secret1"})
	if err != nil {
		t.Fatalf("expected registration despite mail failure, got %v", err)
	}
	if _, err := f.repo.GetByID(ctx, user.ID); err != nil {
		t.Errorf("user not persisted: %v", err)
	}

	// The code was stored, so verification still works once the user
	// obtains it through support.
	code := f.storedCode(t, verifyCodeKey, user.Email)
	if _, _, err := f.svc.VerifyEmail(ctx, user.Email, code); err != nil {
		t.Errorf("VerifyEmail() error: %v", err)
	}
}

func TestForgotPasswordSurvivesMailFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.CreatePatient(ctx, CreateStaffInput{Name: "Jordan", Email: "j@example.com", Phone: "555-0100"})
	if err != nil {
		t.Fatalf("CreatePatient() error: %v", err)
	}

	f.mail.ShouldFail = true
	f.mail.FailError = "relay down"
	if err := f.svc.ForgotPassword(ctx, user.Email); err != nil {
		t.Fatalf("expected ForgotPassword to succeed despite mail failure, got %v", err)
	}
	code := f.storedCode(t, resetCodeKey, user.Email)
	if err := f.svc.ResetPassword(ctx, user.Email, code, "newpass1"); err != nil {
		t.Errorf("ResetPassword() error: %v", err)
	}
}

func TestCreateDoctorSurvivesMailFailure(t *testing.T) {
	f := newFixture(t)
	f.mail.ShouldFail = true
	f.mail.FailError = "relay down"

	doctor, err := f.svc.CreateDoctor(context.Background(), CreateStaffInput{Name: "Amy Lee", Email: "amy@example.com", Phone: "555-0101", Specialization: "Cardiology"})
	if err != nil {
		t.Fatalf("expected account creation despite mail failure, got %v", err)
	}
	if _, err := f.repo.GetByID(context.Background(), doctor.ID); err != nil {
		t.Errorf("doctor not persisted: %v", err)
	}
}

func TestResetPasswordFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.CreatePatient(ctx, CreateStaffInput{Name: "Jordan", Email: "j@example.com", Phone: "555-0100"})
	if err != nil {
		t.Fatalf("CreatePatient() error: %v", err)
	}

	if err := f.svc.ForgotPassword(ctx, user.Email); err != nil {
		t.Fatalf("ForgotPassword() error: %v", err)
	}
	code := f.storedCode(t, resetCodeKey, user.Email)

	if err := f.svc.ResetPassword(ctx, user.Email, code, "newpass1"); err != nil {
		t.Fatalf("ResetPassword() error: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, user.Email, "newpass1"); err != nil {
		t.Errorf("Login() with new password error: %v", err)
	}

	// Reset code is single use.
	if err := f.svc.ResetPassword(ctx, user.Email, code, "another1"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("expected ErrInvalidCode on reuse, got %v", err)
	}
}

func TestSoftDeleteRefusesSuperadmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := uuid.New()
	f.repo.users[id] = &User{ID: id, Name: "Root", Email: "root@example.com", Role: auth.RoleSuperadmin}

	if err := f.svc.SoftDelete(ctx, id); !errors.Is(err, ErrSuperadminImmutable) {
		t.Errorf("expected ErrSuperadminImmutable, got %v", err)
	}
	if f.repo.users[id].IsDeleted {
		t.Error("superadmin must not be archived")
	}
}

func TestSoftDeleteAndRestoreOnlyToggleFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.CreatePatient(ctx, CreateStaffInput{Name: "Jordan Smith", Email: "j@example.com", Phone: "555-0100"})
	if err != nil {
		t.Fatalf("CreatePatient() error: %v", err)
	}
	before := *f.repo.users[user.ID]

	if err := f.svc.SoftDelete(ctx, user.ID); err != nil {
		t.Fatalf("SoftDelete() error: %v", err)
	}
	if !f.repo.users[user.ID].IsDeleted {
		t.Fatal("expected account to be archived")
	}

	if err := f.svc.Restore(ctx, user.ID); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}

	after := *f.repo.users[user.ID]
	if after.IsDeleted {
		t.Error("expected archived flag cleared")
	}
	if after.Name != before.Name || after.Email != before.Email || after.DisplayID != before.DisplayID ||
		after.PasswordHash != before.PasswordHash || after.Role != before.Role {
		t.Errorf("restore modified fields beyond the flag: before %+v after %+v", before, after)
	}
}

func TestListExcludesDeletedByDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active, _ := f.svc.CreatePatient(ctx, CreateStaffInput{Name: "Active", Email: "a@example.com", Phone: "555-0001"})
	archived, _ := f.svc.CreatePatient(ctx, CreateStaffInput{Name: "Archived", Email: "b@example.com", Phone: "555-0002"})
	if err := f.svc.SoftDelete(ctx, archived.ID); err != nil {
		t.Fatalf("SoftDelete() error: %v", err)
	}

	users, total, err := f.svc.List(ctx, auth.RolePatient, false, 50, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total != 1 || len(users) != 1 || users[0].ID != active.ID {
		t.Errorf("expected only the active user, got total=%d", total)
	}

	_, total, err = f.svc.List(ctx, auth.RolePatient, true, 50, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 with include_deleted, got %d", total)
	}
}

func TestAuditTrailRecordsIdentityActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, RegisterInput{Name: "Jordan", Email: "j@example.com", Phone: "555-0100", Password: "secret1"}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	entries := f.rec.Entries()
	if len(entries) != 1 || entries[0].Action != "REGISTER" {
		t.Errorf("expected one REGISTER entry, got %+v", entries)
	}
}
