package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	logx "packmail/pkg/logx"
)

// newTestParser matches the parser the Service uses.
func newTestParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// The default spec must fire exactly once per week, Monday 06:00 UTC.
func TestDefaultSpecWeeklyMondaySixUTC(t *testing.T) {
	t.Parallel()
	sched, err := newTestParser().Parse(DefaultSpec)
	if err != nil {
		t.Fatalf("parse %q: %v", DefaultSpec, err)
	}

	from := time.Date(2026, time.August, 29, 12, 0, 0, 0, time.UTC) // a Saturday
	next := sched.Next(from)
	for i := 0; i < 8; i++ {
		if next.Weekday() != time.Monday {
			t.Fatalf("activation %d on %v, want Monday", i, next.Weekday())
		}
		if next.Hour() != 6 || next.Minute() != 0 || next.Second() != 0 {
			t.Fatalf("activation %d at %02d:%02d:%02d, want 06:00:00",
				i, next.Hour(), next.Minute(), next.Second())
		}
		after := sched.Next(next)
		if got := after.Sub(next); got != 7*24*time.Hour {
			t.Fatalf("activation spacing = %v, want 168h", got)
		}
		next = after
	}
}

func TestStartStopAndNextRun(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Spec: DefaultSpec}, func(ctx context.Context) error { return nil }, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	next := s.NextRun()
	if next.IsZero() {
		t.Fatal("NextRun is zero after Start")
	}
	if next.Weekday() != time.Monday || next.Hour() != 6 {
		t.Fatalf("next = %v, want Monday 06:00", next)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if !s.NextRun().IsZero() {
		t.Fatal("NextRun should be zero after Stop")
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Spec: "nonsense"}, func(ctx context.Context) error { return nil }, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestStartRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "Mars/Olympus"}, func(ctx context.Context) error { return nil }, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestRunNowManualDispatch(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	s := New(Config{Enabled: true}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, logx.Nop())

	// Manual dispatch works without Start (schedule-independent).
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}

	hist := s.History()
	if len(hist) != 1 || !hist[0].Manual || hist[0].Skipped {
		t.Fatalf("history = %+v", hist)
	}
}

func TestRunNowPropagatesJobError(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("campaign failed")
	s := New(Config{Enabled: true}, func(ctx context.Context) error { return wantErr }, logx.Nop())

	if err := s.RunNow(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	hist := s.History()
	if len(hist) != 1 || hist[0].Error == "" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestRunNowRejectsOverlap(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{})
	s := New(Config{Enabled: true}, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, logx.Nop())

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background()) }()
	<-started

	if err := s.RunNow(context.Background()); !errors.Is(err, ErrRunInFlight) {
		t.Fatalf("err = %v, want ErrRunInFlight", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first RunNow: %v", err)
	}
}

func TestApplyRestartsOnSpecChange(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Spec: DefaultSpec}, func(ctx context.Context) error { return nil }, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		s.Stop(stopCtx)
	}()

	weekly := s.NextRun()
	if err := s.Apply(Config{Enabled: true, Spec: "0 12 * * *"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	daily := s.NextRun()
	if daily.IsZero() || daily.Equal(weekly) {
		t.Fatalf("next run did not change: %v -> %v", weekly, daily)
	}
	if daily.Hour() != 12 {
		t.Fatalf("next = %v, want 12:00", daily)
	}
}
