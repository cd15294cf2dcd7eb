package campaign

import (
	"context"
	"fmt"
	"os"

	"packmail/internal/mail"
	"packmail/internal/render"
	logx "packmail/pkg/logx"
)

// sendAdminReport mails the run summary to the admin address, attaching the
// current log file when one exists on disk.
func (s *Service) sendAdminReport(ctx context.Context, cfg Config, report RunReport) error {
	body, err := s.renderer.Report(render.ReportContext{
		SenderName: cfg.SenderName,
		Succeeded:  report.Sent,
		Failed:     report.Failed,
		Rejected:   report.Failures,
	})
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	msg := mail.Message{
		To:       []string{s.adminEmail},
		Subject:  cfg.SenderName + " - Email Campaign Logs",
		BodyText: body,
	}
	if s.logPath != nil {
		if p := s.logPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				msg.Attachments = append(msg.Attachments, p)
			}
		}
	}

	if err := s.sender.Send(ctx, msg); err != nil {
		return err
	}
	s.log.Info("admin report sent",
		logx.String("to", s.adminEmail),
		logx.Int("attachments", len(msg.Attachments)),
	)
	return nil
}
