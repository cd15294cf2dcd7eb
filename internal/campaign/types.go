package campaign

import (
	"time"

	"packmail/internal/recipients"
)

const (
	defaultWorkers    = 4
	defaultSenderName = "All Packers Expeditions"
	defaultBookingURL = "https://allpackersexpeditions.com/"
)

// Config is a resolved snapshot of the campaign settings. Durations are
// already parsed; Apply swaps the whole snapshot atomically between runs.
type Config struct {
	RecipientsPath string

	Workers    int
	RatePerSec int // 0 means unlimited

	// SendTimeout bounds a single delivery including retries. 0 disables.
	SendTimeout time.Duration

	// SuppressWindow skips recipients mailed within the window. 0 disables.
	SuppressWindow time.Duration

	SenderName string
	BookingURL string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.SenderName == "" {
		c.SenderName = defaultSenderName
	}
	if c.BookingURL == "" {
		c.BookingURL = defaultBookingURL
	}
	return c
}

// RunReport summarizes one campaign run.
type RunReport struct {
	RunID    string
	Started  time.Time
	Duration time.Duration

	Loaded     int // valid recipients handed to the send pipeline
	Sent       int
	Failed     int // rejected rows plus send failures
	Suppressed int

	// Failures lists every recipient that was not mailed, with the reason.
	Failures []recipients.Rejected
}
