package mail

import (
	"context"
	"crypto/tls"
	"time"

	"gopkg.in/gomail.v2"

	logx "packmail/pkg/logx"
)

// SMTPSender sends mail through a gomail dialer with STARTTLS and
// exponential-backoff retries.
type SMTPSender struct {
	cfg    Config
	dialer *gomail.Dialer
	log    logx.Logger

	// send is swappable for tests; defaults to dialer.DialAndSend.
	send func(m *gomail.Message) error
}

func NewSMTPSender(cfg Config, log logx.Logger) *SMTPSender {
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 32 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.InsecureSkipVerify {
		log.Warn("mail TLS verification disabled", logx.String("host", cfg.Host))
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	s := &SMTPSender{cfg: cfg, dialer: d, log: log}
	s.send = func(m *gomail.Message) error { return d.DialAndSend(m) }
	return s
}

func (s *SMTPSender) Host() string { return s.dialer.Host }
func (s *SMTPSender) Port() int    { return s.dialer.Port }

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m := gomail.NewMessage()
	if s.cfg.FromName != "" {
		m.SetAddressHeader("From", s.cfg.FromAddress, s.cfg.FromName)
	} else {
		m.SetHeader("From", s.cfg.FromAddress)
	}
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	if msg.BodyHTML != "" {
		m.SetBody("text/html", msg.BodyHTML)
		if msg.BodyText != "" {
			m.AddAlternative("text/plain", msg.BodyText)
		}
	} else {
		m.SetBody("text/plain", msg.BodyText)
	}
	for _, path := range msg.Attachments {
		m.Attach(path)
	}

	var lastErr error
	delay := s.cfg.RetryBase
	for attempt := 0; attempt <= s.cfg.RetryMax; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.send(m)
		if err == nil {
			if attempt > 0 {
				s.log.Info("mail sent after retry", logx.Int("attempt", attempt+1))
			}
			return nil
		}
		lastErr = err

		if attempt >= s.cfg.RetryMax {
			break
		}
		s.log.Debug("mail send failed; retrying",
			logx.Err(err),
			logx.Int("attempt", attempt+1),
			logx.Duration("backoff", delay),
		)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		}
		delay *= 2
		if delay > s.cfg.RetryMaxDelay {
			delay = s.cfg.RetryMaxDelay
		}
	}
	return lastErr
}
