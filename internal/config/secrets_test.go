package config

import (
	"strings"
	"testing"
)

func setAllSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("SMTP_SERVER", "smtp.example.com")
	t.Setenv("SMTP_PORT", "587")
	t.Setenv("EMAIL_ADDRESS", "campaign@example.com")
	t.Setenv("EMAIL_PASSWORD", "hunter2")
	t.Setenv("ADMIN_EMAIL", "ops@example.com")
}

func TestLoadSecrets(t *testing.T) {
	setAllSecrets(t)

	s, err := LoadSecrets("")
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	if s.SMTPServer != "smtp.example.com" || s.SMTPPort != 587 {
		t.Fatalf("unexpected SMTP coordinates: %s:%d", s.SMTPServer, s.SMTPPort)
	}
	if s.AdminEmail != "ops@example.com" {
		t.Fatalf("AdminEmail = %q", s.AdminEmail)
	}
}

func TestLoadSecretsMissingVar(t *testing.T) {
	setAllSecrets(t)
	t.Setenv("EMAIL_PASSWORD", "")

	_, err := LoadSecrets("")
	if err == nil {
		t.Fatal("expected error for missing EMAIL_PASSWORD")
	}
	if !strings.Contains(err.Error(), "EMAIL_PASSWORD") {
		t.Fatalf("error does not name the variable: %v", err)
	}
}

func TestLoadSecretsBadPort(t *testing.T) {
	setAllSecrets(t)
	t.Setenv("SMTP_PORT", "not-a-port")

	if _, err := LoadSecrets(""); err == nil {
		t.Fatal("expected error for non-numeric SMTP_PORT")
	}
}

func TestLoadSecretsPortRange(t *testing.T) {
	setAllSecrets(t)
	t.Setenv("SMTP_PORT", "0")

	if _, err := LoadSecrets(""); err == nil {
		t.Fatal("expected error for out-of-range SMTP_PORT")
	}
}
