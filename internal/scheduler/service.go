package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "packmail/pkg/logx"
)

// ErrRunInFlight is returned by RunNow when a run is already executing.
// Scheduled triggers that overlap are skipped silently (logged, recorded).
var ErrRunInFlight = errors.New("scheduler: campaign run already in flight")

// Job is the work triggered on schedule (the campaign run).
type Job func(ctx context.Context) error

// Service triggers the campaign job on a cron cadence and exposes manual
// dispatch. At most one run is in flight at any time; overlapping triggers
// are skipped, never queued.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	job Job

	parser cron.Parser
	c      *cron.Cron
	loc    *time.Location
	entry  cron.EntryID

	runCtx    context.Context
	runCancel context.CancelFunc

	running atomic.Bool
	runWG   sync.WaitGroup

	hmu     sync.Mutex
	history []RunInfo
}

func New(cfg Config, job Job, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		job: job,
		log: log,
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	specChanged := normalizeSpec(cfg.Spec) != normalizeSpec(s.cfg.Spec)
	tzChanged := strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg

	if s.c == nil {
		return nil
	}
	if specChanged || tzChanged {
		// restart cron with the new spec/location
		s.stopCronLocked()
		return s.startCronLocked()
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	return s.startCronLocked()
}

func (s *Service) startCronLocked() error {
	loc, err := s.loadLocationLocked()
	if err != nil {
		return err
	}
	s.loc = loc

	spec, err := ParseSchedule(normalizeSpec(s.cfg.Spec))
	if err != nil {
		return err
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	trigger := func() { s.run(false) }
	switch spec.Kind {
	case SpecCron:
		id, err := c.AddFunc(spec.Cron, trigger)
		if err != nil {
			return fmt.Errorf("schedule %q: %w", spec.Cron, err)
		}
		s.entry = id
	case SpecInterval:
		id := c.Schedule(cron.Every(spec.Every), cron.FuncJob(trigger))
		s.entry = id
	}
	s.c = c
	c.Start()

	s.log.Info("scheduler started",
		logx.String("spec", normalizeSpec(s.cfg.Spec)),
		logx.String("tz", loc.String()),
		logx.Time("next", c.Entry(s.entry).Next),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return
	}
	s.stopCronLocked()
	cancel := s.runCancel
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Wait for an in-flight run best-effort until ctx deadline.
	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) stopCronLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
}

// NextRun returns the next scheduled activation (zero when stopped).
func (s *Service) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// RunNow dispatches the campaign immediately, independent of the schedule.
func (s *Service) RunNow(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInFlight
	}
	defer s.running.Store(false)
	return s.execute(ctx, true)
}

// run is the cron trigger path: overlap-skip, background context.
func (s *Service) run(manual bool) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("campaign run skipped: previous run still in flight")
		s.appendHistory(RunInfo{Started: time.Now(), Manual: manual, Skipped: true})
		return
	}
	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		defer s.running.Store(false)
		_ = s.execute(ctx, manual)
	}()
}

// Trigger is the SIGUSR1 path: like RunNow but asynchronous and overlap-skipping.
func (s *Service) Trigger() {
	s.run(true)
}

func (s *Service) execute(ctx context.Context, manual bool) error {
	start := time.Now()
	s.log.Info("campaign run starting", logx.Bool("manual", manual))

	err := s.job(ctx)

	info := RunInfo{Started: start, Duration: time.Since(start), Manual: manual}
	if err != nil {
		info.Error = err.Error()
		s.log.Error("campaign run failed", logx.Err(err), logx.Duration("took", info.Duration))
	} else {
		s.log.Info("campaign run finished", logx.Duration("took", info.Duration))
	}
	s.appendHistory(info)
	return err
}

func (s *Service) appendHistory(info RunInfo) {
	s.hmu.Lock()
	s.history = append(s.history, info)
	if len(s.history) > 50 {
		s.history = s.history[len(s.history)-50:]
	}
	s.hmu.Unlock()
}

// History returns a copy of recent run outcomes.
func (s *Service) History() []RunInfo {
	s.hmu.Lock()
	out := append([]RunInfo(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) loadLocationLocked() (*time.Location, error) {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func normalizeSpec(spec string) string {
	s := strings.TrimSpace(spec)
	if s == "" {
		return DefaultSpec
	}
	return s
}
