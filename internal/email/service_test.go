package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "ops@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "ops@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "ops@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

type captured struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingService(t *testing.T) (*Service, *captured) {
	t.Helper()
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "ops@example.com", FromName: "Buildtrack"})
	got := &captured{}
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		got.addr, got.from, got.to, got.msg = addr, from, to, string(msg)
		return nil
	}
	return svc, got
}

func TestSendApprovalDecisionEmail(t *testing.T) {
	svc, got := newCapturingService(t)

	err := svc.SendApprovalDecisionEmail("pm@example.com", ApprovalDecisionData{
		UserName:     "Jordan",
		ProjectName:  "Riverside",
		SubjectType:  "commitment",
		SubjectTitle: "Concrete supply",
		Decision:     "Approved",
		DecidedBy:    "Sam",
		Note:         "Within budget",
	})
	if err != nil {
		t.Fatalf("SendApprovalDecisionEmail() error = %v", err)
	}
	if got.addr != "smtp.example.com:587" || got.from != "ops@example.com" {
		t.Fatalf("unexpected envelope %s %s", got.addr, got.from)
	}
	if len(got.to) != 1 || got.to[0] != "pm@example.com" {
		t.Fatalf("unexpected recipients %v", got.to)
	}
	for _, want := range []string{
		"Subject: Commitment approved: Concrete supply",
		"From: Buildtrack <ops@example.com>",
		"Within budget",
		"<strong>Approved</strong>",
		"text/plain",
	} {
		if !strings.Contains(got.msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendRequiresConfiguration(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendPasswordResetEmail("a@example.com", "A", "https://x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendWrapsTransportError(t *testing.T) {
	svc, _ := newCapturingService(t)
	boom := errors.New("connection refused")
	svc.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }

	if err := svc.SendVerificationEmail("a@example.com", "A", "https://x"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestRenderTemplates(t *testing.T) {
	html, err := renderTemplate(verificationTemplate, VerificationData{
		AppName:         appName,
		UserName:        "Test User",
		VerificationURL: "https://example.com/verify?token=abc123",
	})
	if err != nil {
		t.Fatalf("render verification: %v", err)
	}
	if !strings.Contains(html, "Test User") || !strings.Contains(html, "token=abc123") {
		t.Error("verification template missing user or link")
	}

	html, err = renderTemplate(passwordResetTemplate, PasswordResetData{
		AppName:  appName,
		UserName: "Test User",
		ResetURL: "https://example.com/reset?token=xyz789",
	})
	if err != nil {
		t.Fatalf("render reset: %v", err)
	}
	if !strings.Contains(html, "1 hour") {
		t.Error("reset template should mention expiration time")
	}

	html, err = renderTemplate(approvalDecisionTemplate, ApprovalDecisionData{
		AppName:      appName,
		SubjectTitle: "<script>alert(1)</script>",
	})
	if err != nil {
		t.Fatalf("render approval: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("approval template must escape subject titles")
	}
}

func TestBuildMessageHeaders(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	msg := string(buildMessage("ops@example.com", []string{"a@example.com", "b@example.com"}, "Hello", "plain", "<p>html</p>", now))

	if !strings.Contains(msg, "To: a@example.com, b@example.com\r\n") {
		t.Error("missing joined To header")
	}
	if !strings.Contains(msg, "Date: Mon, 10 Mar 2025 09:00:00 +0000") {
		t.Error("missing Date header")
	}
	if !strings.HasSuffix(msg, "--\r\n") {
		t.Error("missing closing boundary")
	}
}
