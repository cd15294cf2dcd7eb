package scheduler

import "time"

// DefaultSpec is the campaign cadence when config omits one:
// weekly, Monday 06:00 in the scheduler timezone.
const DefaultSpec = "0 6 * * 1"

// Config controls the campaign trigger.
type Config struct {
	Enabled  bool
	Spec     string // cron expression, "@every ...", duration or HH:MM interval
	Timezone string // IANA TZ; empty means UTC
}

// RunInfo captures the outcome of one triggered run for /status-style
// introspection and tests.
type RunInfo struct {
	Started  time.Time
	Duration time.Duration
	Manual   bool
	Skipped  bool // an earlier run was still in flight
	Error    string
}
