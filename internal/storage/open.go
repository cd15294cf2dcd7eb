package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "packmail/pkg/logx"
)

// Store is the minimal persistence API used by the campaign service.
//
// Suppression entries record "recipient was mailed; skip until" marks so a
// re-triggered campaign does not double-send within the configured window.
type Store interface {
	AppendDelivery(ctx context.Context, e DeliveryEntry) error
	PutSuppression(ctx context.Context, email string, until time.Time) error
	GetSuppression(ctx context.Context, email string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
