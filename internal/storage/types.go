package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryEntry records one attempted campaign send.
// Keep it compact and schema-stable.
type DeliveryEntry struct {
	At       time.Time
	RunID    string
	Email    string
	Name     string
	TripName string
	OK       bool
	Error    string
	Attempts int
	TookMS   int64
}
