package notification

import (
	"context"
	"strings"
	"testing"
)

func TestRenderReplacesPlaceholders(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render(TemplateOneTimeCode, map[string]string{
		"name":    "Jordan",
		"code":    "123456",
		"minutes": "10",
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if subject != "Your verification code" {
		t.Errorf("unexpected subject: %s", subject)
	}
	if !strings.Contains(body, "123456") || !strings.Contains(body, "Jordan") {
		t.Errorf("body missing replacements: %s", body)
	}
}

func TestRenderLeavesUnknownKeys(t *testing.T) {
	e := NewTemplateEngine()
	_, body, err := e.Render(TemplateOneTimeCode, map[string]string{"name": "Jordan"})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(body, "{{code}}") {
		t.Errorf("expected unreplaced placeholder to remain: %s", body)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	e := NewTemplateEngine()
	if _, _, err := e.Render("no-such-template", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestNotifierOneTimeCode(t *testing.T) {
	mock := &MockEmailSender{}
	n := NewNotifier(mock, NewTemplateEngine())

	if err := n.OneTimeCode(context.Background(), "jordan@example.com", "Jordan", "654321", 10); err != nil {
		t.Fatalf("OneTimeCode() error: %v", err)
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 email, got %d", len(calls))
	}
	if calls[0].To != "jordan@example.com" {
		t.Errorf("unexpected recipient: %s", calls[0].To)
	}
	if !strings.Contains(calls[0].Body, "654321") {
		t.Errorf("code missing from body: %s", calls[0].Body)
	}
}

func TestNotifierWelcomeCredentials(t *testing.T) {
	mock := &MockEmailSender{}
	n := NewNotifier(mock, NewTemplateEngine())

	if err := n.WelcomeCredentials(context.Background(), "amy@example.com", "Amy", "amy@example.com", "Amy4821"); err != nil {
		t.Fatalf("WelcomeCredentials() error: %v", err)
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 email, got %d", len(calls))
	}
	if !strings.Contains(calls[0].Body, "Amy4821") {
		t.Errorf("password missing from body: %s", calls[0].Body)
	}
}

func TestNotifierPropagatesSendFailure(t *testing.T) {
	mock := &MockEmailSender{ShouldFail: true, FailError: "relay down"}
	n := NewNotifier(mock, NewTemplateEngine())

	if err := n.OneTimeCode(context.Background(), "x@example.com", "X", "111111", 10); err == nil {
		t.Error("expected error when sender fails")
	}
}
