package campaign

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"packmail/internal/mail"
	"packmail/internal/render"
	"packmail/internal/storage"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []mail.Message
	fail func(mail.Message) error
}

func (f *fakeSender) Send(ctx context.Context, msg mail.Message) error {
	if f.fail != nil {
		if err := f.fail(msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) sent() []mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]mail.Message, len(f.msgs))
	copy(out, f.msgs)
	return out
}

type memStore struct {
	mu       sync.Mutex
	entries  []storage.DeliveryEntry
	suppress map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{suppress: make(map[string]time.Time)}
}

func (m *memStore) AppendDelivery(ctx context.Context, e storage.DeliveryEntry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *memStore) PutSuppression(ctx context.Context, email string, until time.Time) error {
	m.mu.Lock()
	m.suppress[email] = until
	m.mu.Unlock()
	return nil
}

func (m *memStore) GetSuppression(ctx context.Context, email string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.suppress[email]
	return t, ok, nil
}

func (m *memStore) Close() error { return nil }

const recipientsJSON = `[
  {
    "email": "ada@example.com",
    "name": "Ada",
    "trip_name": "Everest Base Camp Trek",
    "trip_date": "2026-10-05",
    "trip_cost": 2450.50,
    "trip_description": "14 days of Himalayan trails."
  },
  {
    "email": "noel@example.com",
    "name": "Noel",
    "trip_name": "Patagonia Circuit",
    "trip_date": "2026-11-20",
    "trip_cost": "1890",
    "trip_description": "Glaciers and granite towers."
  },
  {
    "email": "broken@example.com",
    "name": "Broken"
  }
]`

func writeRecipients(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recipients.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write recipients: %v", err)
	}
	return path
}

func newRenderer(t *testing.T) *render.Renderer {
	t.Helper()
	r, err := render.New()
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	return r
}

func TestRunSendsToValidRecipients(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := New(Config{RecipientsPath: writeRecipients(t, recipientsJSON)},
		newRenderer(t), sender,
		WithAdminReport("admin@example.com", nil),
	)

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	report := svc.LastReport()
	if report == nil {
		t.Fatal("LastReport is nil")
	}
	if report.Sent != 2 || report.Failed != 1 || report.Suppressed != 0 {
		t.Fatalf("sent/failed/suppressed = %d/%d/%d, want 2/1/0",
			report.Sent, report.Failed, report.Suppressed)
	}
	if len(report.Failures) != 1 || !strings.HasPrefix(report.Failures[0].Reason, "Missing fields:") {
		t.Fatalf("failures = %+v", report.Failures)
	}

	msgs := sender.sent()
	// 2 promos + 1 admin report
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	promo := msgs[0]
	if promo.Subject != "Join Our Everest Base Camp Trek – Your Adventure Awaits!" &&
		promo.Subject != "Join Our Patagonia Circuit – Your Adventure Awaits!" {
		t.Fatalf("promo subject = %q", promo.Subject)
	}
	if promo.BodyHTML == "" || promo.BodyText != "" {
		t.Fatal("promo should be HTML-only")
	}

	reportMsg := msgs[len(msgs)-1]
	if reportMsg.To[0] != "admin@example.com" {
		t.Fatalf("report recipient = %v", reportMsg.To)
	}
	if !strings.Contains(reportMsg.Subject, "Email Campaign Logs") {
		t.Fatalf("report subject = %q", reportMsg.Subject)
	}
	if !strings.Contains(reportMsg.BodyText, "Sent: 2") || !strings.Contains(reportMsg.BodyText, "Failed: 1") {
		t.Fatalf("report body = %q", reportMsg.BodyText)
	}
	if !strings.Contains(reportMsg.BodyText, "Missing fields:") {
		t.Fatalf("report body missing failure reasons: %q", reportMsg.BodyText)
	}
}

func TestRunCountsSendFailures(t *testing.T) {
	t.Parallel()
	smtpErr := errors.New("550 mailbox unavailable")
	sender := &fakeSender{fail: func(m mail.Message) error {
		if len(m.To) == 1 && m.To[0] == "noel@example.com" {
			return smtpErr
		}
		return nil
	}}
	svc := New(Config{RecipientsPath: writeRecipients(t, recipientsJSON)},
		newRenderer(t), sender)

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	report := svc.LastReport()
	if report.Sent != 1 || report.Failed != 2 {
		t.Fatalf("sent/failed = %d/%d, want 1/2", report.Sent, report.Failed)
	}
	var found bool
	for _, f := range report.Failures {
		if f.Email == "noel@example.com" && strings.HasPrefix(f.Reason, "SMTP error:") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no SMTP failure recorded: %+v", report.Failures)
	}
}

func TestRunSuppressionWindow(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	store := newMemStore()
	svc := New(Config{
		RecipientsPath: writeRecipients(t, recipientsJSON),
		SuppressWindow: time.Hour,
	}, newRenderer(t), sender, WithStore(store))

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if got := svc.LastReport().Sent; got != 2 {
		t.Fatalf("first run sent = %d, want 2", got)
	}

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	report := svc.LastReport()
	if report.Sent != 0 || report.Suppressed != 2 {
		t.Fatalf("second run sent/suppressed = %d/%d, want 0/2",
			report.Sent, report.Suppressed)
	}

	store.mu.Lock()
	audited := len(store.entries)
	store.mu.Unlock()
	if audited != 2 {
		t.Fatalf("delivery entries = %d, want 2", audited)
	}
}

func TestRunMissingRecipientsFile(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := New(Config{RecipientsPath: filepath.Join(t.TempDir(), "nope.json")},
		newRenderer(t), sender,
		WithAdminReport("admin@example.com", nil),
	)

	// A missing list is logged, not fatal; the admin still gets a report.
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	report := svc.LastReport()
	if report.Loaded != 0 || report.Sent != 0 || report.Failed != 0 {
		t.Fatalf("report = %+v, want empty run", report)
	}
	msgs := sender.sent()
	if len(msgs) != 1 || msgs[0].To[0] != "admin@example.com" {
		t.Fatalf("messages = %+v, want only the admin report", msgs)
	}
	if !strings.Contains(msgs[0].BodyText, "Sent: 0") {
		t.Fatalf("report body = %q", msgs[0].BodyText)
	}
}

func TestRunAttachesLogToReport(t *testing.T) {
	t.Parallel()
	logFile := filepath.Join(t.TempDir(), "packmail.log")
	if err := os.WriteFile(logFile, []byte("log line\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	sender := &fakeSender{}
	svc := New(Config{RecipientsPath: writeRecipients(t, recipientsJSON)},
		newRenderer(t), sender,
		WithAdminReport("admin@example.com", func() string { return logFile }),
	)

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := sender.sent()
	reportMsg := msgs[len(msgs)-1]
	if len(reportMsg.Attachments) != 1 || reportMsg.Attachments[0] != logFile {
		t.Fatalf("attachments = %v", reportMsg.Attachments)
	}
}
