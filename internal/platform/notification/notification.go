// Package notification delivers transactional email to patients and staff
// with template rendering.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template defines a reusable notification template.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders registered templates with {{key}} replacement.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in clinic
// templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

// Template IDs used by the identity flows.
const (
	TemplateOneTimeCode        = "one-time-code"
	TemplateWelcomeCredentials = "welcome-credentials"
	TemplatePasswordChanged    = "password-changed"
)

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateOneTimeCode,
			Subject: "Your verification code",
			Body:    "Dear {{name}}, your verification code is {{code}}. It expires in {{minutes}} minutes.",
		},
		{
			ID:      TemplateWelcomeCredentials,
			Subject: "Welcome to the clinic",
			Body:    "Dear {{name}}, your account has been created. Login email: {{email}}, temporary password: {{password}}. Please change it after your first login.",
		},
		{
			ID:      TemplatePasswordChanged,
			Subject: "Your password was changed",
			Body:    "Dear {{name}}, your password was changed. If this was not you, contact the clinic immediately.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) SendEmail(_ context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// Notifier is the high-level facade services use for identity mail flows.
type Notifier struct {
	sender    EmailSender
	templates *TemplateEngine
}

func NewNotifier(sender EmailSender, templates *TemplateEngine) *Notifier {
	return &Notifier{sender: sender, templates: templates}
}

// OneTimeCode mails a verification code to the user.
func (n *Notifier) OneTimeCode(ctx context.Context, to, name, code string, minutes int) error {
	subject, body, err := n.templates.Render(TemplateOneTimeCode, map[string]string{
		"name":    name,
		"code":    code,
		"minutes": fmt.Sprintf("%d", minutes),
	})
	if err != nil {
		return err
	}
	return n.sender.SendEmail(ctx, to, subject, body)
}

// WelcomeCredentials mails login credentials to a staff-created account.
func (n *Notifier) WelcomeCredentials(ctx context.Context, to, name, email, password string) error {
	subject, body, err := n.templates.Render(TemplateWelcomeCredentials, map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})
	if err != nil {
		return err
	}
	return n.sender.SendEmail(ctx, to, subject, body)
}

// PasswordChanged mails a confirmation after a password reset.
func (n *Notifier) PasswordChanged(ctx context.Context, to, name string) error {
	subject, body, err := n.templates.Render(TemplatePasswordChanged, map[string]string{"name": name})
	if err != nil {
		return err
	}
	return n.sender.SendEmail(ctx, to, subject, body)
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
