package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

// DevSender implements Sender for dry runs. Instead of dialing SMTP it
// writes each message as an HTML file plus a JSON envelope to a directory,
// so a campaign can be previewed against real recipient data.
type DevSender struct {
	dir string
	seq atomic.Uint64
}

func NewDevSender(dir string) *DevSender {
	if strings.TrimSpace(dir) == "" {
		dir = "./dev_emails"
	}
	return &DevSender{dir: dir}
}

type devEnvelope struct {
	Timestamp   string   `json:"timestamp"`
	To          []string `json:"to"`
	Subject     string   `json:"subject"`
	BodyText    string   `json:"body_text,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

func (d *DevSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("dev sender: %w", err)
	}

	now := time.Now()
	// Sequence suffix keeps names unique within one second.
	base := fmt.Sprintf("%s_%04d_%s",
		now.Format("2006_01_02_150405"),
		d.seq.Add(1),
		sanitizeFilename(msg.Subject),
	)

	if msg.BodyHTML != "" {
		if err := os.WriteFile(filepath.Join(d.dir, base+".html"), []byte(msg.BodyHTML), 0o644); err != nil {
			return fmt.Errorf("dev sender: %w", err)
		}
	}

	env := devEnvelope{
		Timestamp:   now.Format(time.RFC3339),
		To:          msg.To,
		Subject:     msg.Subject,
		BodyText:    msg.BodyText,
		Attachments: msg.Attachments,
	}
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("dev sender: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.dir, base+".json"), b, 0o644); err != nil {
		return fmt.Errorf("dev sender: %w", err)
	}
	return nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func sanitizeFilename(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = unsafeFilenameChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 60 {
		s = s[:60]
	}
	if s == "" {
		s = "message"
	}
	return s
}
