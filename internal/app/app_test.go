package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("SMTP_SERVER", "smtp.example.com")
	t.Setenv("SMTP_PORT", "587")
	t.Setenv("EMAIL_ADDRESS", "campaigns@example.com")
	t.Setenv("EMAIL_PASSWORD", "hunter2")
	t.Setenv("ADMIN_EMAIL", "admin@example.com")
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestOneShotDryRun(t *testing.T) {
	setSecrets(t)
	dir := t.TempDir()
	outbox := filepath.Join(dir, "outbox")

	recPath := filepath.Join(dir, "recipients.json")
	writeFile(t, recPath, `[
	  {"email": "ada@example.com", "name": "Ada",
	   "trip_name": "Everest Base Camp Trek", "trip_date": "2026-10-05",
	   "trip_cost": 2450.50, "trip_description": "14 days of trails."}
	]`)

	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, `
logging:
  level: error
  console: false
  file:
    enabled: true
    path: `+filepath.Join(dir, "packmail.log")+`
scheduler:
  enabled: false
campaign:
  recipients_path: `+recPath+`
  dry_run: true
  dry_run_dir: `+outbox+`
`)

	a, err := New(Options{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	entries, err := os.ReadDir(outbox)
	if err != nil {
		t.Fatalf("read outbox: %v", err)
	}
	// one promo (html + envelope) plus the admin report (envelope only)
	var promos, envelopes, reports int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".html"):
			promos++
		case strings.HasSuffix(e.Name(), ".json"):
			envelopes++
			if strings.Contains(e.Name(), "email_campaign_logs") {
				reports++
			}
		}
	}
	if promos != 1 || envelopes != 2 || reports != 1 {
		t.Fatalf("outbox promos/envelopes/reports = %d/%d/%d, want 1/2/1 (entries: %v)",
			promos, envelopes, reports, entries)
	}
}

func TestNewRejectsMissingSecret(t *testing.T) {
	setSecrets(t)
	t.Setenv("EMAIL_PASSWORD", "")

	_, err := New(Options{ConfigPath: filepath.Join(t.TempDir(), "config.yaml")})
	if err == nil {
		t.Fatal("expected error for empty EMAIL_PASSWORD")
	}
	if !strings.Contains(err.Error(), "EMAIL_PASSWORD") {
		t.Fatalf("error does not name the variable: %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	setSecrets(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, `
campaign:
  recipients_path: ./recipients.json
scheduler:
  enabled: true
  spec: "not a schedule"
`)

	if _, err := New(Options{ConfigPath: cfgPath}); err == nil {
		t.Fatal("expected error for invalid schedule spec")
	}
}
