// Package campaign drives a promotional email run: load and validate the
// recipient list, render one email per recipient, deliver through the
// configured sender with bounded concurrency and rate, then mail a summary
// report to the admin address.
package campaign

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"packmail/internal/eventbus"
	"packmail/internal/mail"
	"packmail/internal/recipients"
	"packmail/internal/render"
	"packmail/internal/runtime/supervisor"
	"packmail/internal/storage"
	logx "packmail/pkg/logx"
)

// Service runs campaigns. One run at a time; the scheduler enforces that,
// and Run itself is safe to call from multiple goroutines.
type Service struct {
	mu  sync.Mutex
	cfg Config

	renderer *render.Renderer
	sender   mail.Sender
	store    storage.Store // nil when persistence is disabled
	bus      eventbus.Bus  // nil when nobody listens
	log      logx.Logger

	adminEmail string
	logPath    func() string // report attachment, empty when unavailable

	runSeq atomic.Uint64

	lastMu  sync.Mutex
	lastRun *RunReport
}

type Option func(*Service)

func WithStore(st storage.Store) Option {
	return func(s *Service) { s.store = st }
}

func WithBus(b eventbus.Bus) Option {
	return func(s *Service) { s.bus = b }
}

func WithLogger(log logx.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithAdminReport enables the post-run summary email. logPath may return ""
// when there is no log file to attach.
func WithAdminReport(adminEmail string, logPath func() string) Option {
	return func(s *Service) {
		s.adminEmail = adminEmail
		s.logPath = logPath
	}
}

func New(cfg Config, renderer *render.Renderer, sender mail.Sender, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg.withDefaults(),
		renderer: renderer,
		sender:   sender,
		log:      logx.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply swaps the config snapshot. In-flight runs finish on the old one.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// LastReport returns the report of the most recent completed run, or nil.
func (s *Service) LastReport() *RunReport {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	cp := *s.lastRun
	return &cp
}

// Run executes one campaign. Per-recipient failures are counted and
// reported, not fatal. Even an unavailable recipient list only logs an
// error: the run proceeds with zero recipients and still mails the admin
// report. The returned error covers cancellation only.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	runID := fmt.Sprintf("%s-%04d", time.Now().UTC().Format("20060102T150405"), s.runSeq.Add(1))
	started := time.Now()

	recs, rejected, err := recipients.Load(cfg.RecipientsPath)
	if err != nil {
		s.log.Error("recipient list unavailable",
			logx.String("path", cfg.RecipientsPath), logx.Err(err))
		recs, rejected = nil, nil
	}
	s.log.Info("campaign starting",
		logx.String("run_id", runID),
		logx.Int("recipients", len(recs)),
		logx.Int("rejected", len(rejected)),
	)
	s.publish(eventbus.TypeRunStarted, map[string]any{
		"run_id": runID, "recipients": len(recs), "rejected": len(rejected),
	})

	var (
		sent       atomic.Int64
		failed     atomic.Int64
		suppressed atomic.Int64

		failMu   sync.Mutex
		failures []recipients.Rejected
	)
	failed.Add(int64(len(rejected)))
	failures = append(failures, rejected...)
	recordFailure := func(f recipients.Rejected) {
		failMu.Lock()
		failures = append(failures, f)
		failMu.Unlock()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}

	jobs := make(chan recipients.Recipient)
	sup := supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false))
	for i := 0; i < cfg.Workers; i++ {
		sup.Go0(fmt.Sprintf("worker-%d", i), func(ctx context.Context) {
			for rec := range jobs {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				res, reason := s.deliver(ctx, cfg, runID, rec)
				switch res {
				case deliverSent:
					sent.Add(1)
				case deliverSuppressed:
					suppressed.Add(1)
				case deliverFailed:
					failed.Add(1)
					recordFailure(recipients.Rejected{
						Name:   rec.Name,
						Email:  rec.Email,
						Reason: reason,
					})
				}
			}
		})
	}

feed:
	for _, rec := range recs {
		select {
		case jobs <- rec:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	_ = sup.Wait(context.Background())

	report := RunReport{
		RunID:      runID,
		Started:    started,
		Duration:   time.Since(started),
		Loaded:     len(recs),
		Sent:       int(sent.Load()),
		Failed:     int(failed.Load()),
		Suppressed: int(suppressed.Load()),
		Failures:   failures,
	}
	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].Email < report.Failures[j].Email
	})

	s.lastMu.Lock()
	s.lastRun = &report
	s.lastMu.Unlock()

	s.log.Info("campaign finished",
		logx.String("run_id", runID),
		logx.Int("sent", report.Sent),
		logx.Int("failed", report.Failed),
		logx.Int("suppressed", report.Suppressed),
		logx.Duration("took", report.Duration),
	)
	s.publish(eventbus.TypeRunFinished, map[string]any{
		"run_id": runID, "sent": report.Sent, "failed": report.Failed,
		"suppressed": report.Suppressed,
	})

	if s.adminEmail != "" {
		if err := s.sendAdminReport(ctx, cfg, report); err != nil {
			s.log.Error("admin report not delivered", logx.Err(err))
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("campaign interrupted: %w", err)
	}
	return nil
}

type deliverResult int

const (
	deliverSent deliverResult = iota
	deliverSuppressed
	deliverFailed
)

func (s *Service) deliver(ctx context.Context, cfg Config, runID string, rec recipients.Recipient) (deliverResult, string) {
	start := time.Now()

	if cfg.SuppressWindow > 0 && s.store != nil {
		until, ok, err := s.store.GetSuppression(ctx, rec.Email)
		if err != nil {
			s.log.Warn("suppression lookup failed",
				logx.String("email", rec.Email), logx.Err(err))
		} else if ok && time.Now().Before(until) {
			s.log.Info("recipient suppressed",
				logx.String("email", rec.Email), logx.Time("until", until))
			s.publish(eventbus.TypeSuppressed, map[string]any{
				"run_id": runID, "email": rec.Email,
			})
			return deliverSuppressed, ""
		}
	}

	subject, body, err := s.renderer.Promo(render.PromoContext{
		Recipient:  rec,
		SenderName: cfg.SenderName,
		BookingURL: cfg.BookingURL,
	})
	if err != nil {
		cause := fmt.Errorf("render: %w", err)
		s.failDelivery(ctx, runID, rec, start, cause)
		return deliverFailed, cause.Error()
	}

	sendCtx := ctx
	if cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
	}
	err = s.sender.Send(sendCtx, mail.Message{
		To:       []string{rec.Email},
		Subject:  subject,
		BodyHTML: body,
	})
	if err != nil {
		cause := fmt.Errorf("SMTP error: %w", err)
		s.failDelivery(ctx, runID, rec, start, cause)
		return deliverFailed, cause.Error()
	}

	s.log.Info("promotional email sent",
		logx.String("name", rec.Name), logx.String("email", rec.Email))
	s.publish(eventbus.TypeSent, map[string]any{"run_id": runID, "email": rec.Email})
	s.audit(ctx, storage.DeliveryEntry{
		At: time.Now(), RunID: runID,
		Email: rec.Email, Name: rec.Name, TripName: rec.TripName,
		OK: true, TookMS: time.Since(start).Milliseconds(),
	})
	if cfg.SuppressWindow > 0 && s.store != nil {
		if err := s.store.PutSuppression(ctx, rec.Email, time.Now().Add(cfg.SuppressWindow)); err != nil {
			s.log.Warn("suppression mark failed",
				logx.String("email", rec.Email), logx.Err(err))
		}
	}
	return deliverSent, ""
}

func (s *Service) failDelivery(ctx context.Context, runID string, rec recipients.Recipient, start time.Time, cause error) {
	s.log.Error("delivery failed",
		logx.String("name", rec.Name),
		logx.String("email", rec.Email),
		logx.Err(cause),
	)
	s.publish(eventbus.TypeFailed, map[string]any{
		"run_id": runID, "email": rec.Email, "error": cause.Error(),
	})
	s.audit(ctx, storage.DeliveryEntry{
		At: time.Now(), RunID: runID,
		Email: rec.Email, Name: rec.Name, TripName: rec.TripName,
		OK: false, Error: cause.Error(), TookMS: time.Since(start).Milliseconds(),
	})
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func (s *Service) audit(ctx context.Context, e storage.DeliveryEntry) {
	if s.store == nil {
		return
	}
	if err := s.store.AppendDelivery(ctx, e); err != nil {
		s.log.Warn("delivery audit write failed", logx.Err(err))
	}
}
