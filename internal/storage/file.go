package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "packmail/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.deliveries.jsonl       (append-only JSON Lines)
//   - <prefix>.suppress.snapshot.json (periodic snapshot)
//   - <prefix>.suppress.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	deliveryFile *os.File

	suppressSnapshotPath string
	suppressJournalFile  *os.File
	suppress             map[string]int64 // unix milli

	suppressWrites int
}

type suppressRecord struct {
	Email string `json:"email"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	deliveryPath := prefix + ".deliveries.jsonl"
	snapPath := prefix + ".suppress.snapshot.json"
	journalPath := prefix + ".suppress.journal.jsonl"

	df, err := os.OpenFile(deliveryPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load suppression marks from snapshot + journal.
	suppress := map[string]int64{}
	_ = loadSuppressSnapshot(snapPath, suppress)
	_ = replaySuppressJournal(journalPath, suppress)
	pruneExpired(suppress)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = df.Close()
		return nil, err
	}

	return &fileStore{
		log:                  log,
		deliveryFile:         df,
		suppressSnapshotPath: snapPath,
		suppressJournalFile:  jf,
		suppress:             suppress,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.deliveryFile != nil {
		err1 = s.deliveryFile.Close()
		s.deliveryFile = nil
	}
	if s.suppressJournalFile != nil {
		err2 = s.suppressJournalFile.Close()
		s.suppressJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendDelivery(ctx context.Context, e DeliveryEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveryFile == nil {
		return errors.New("delivery file closed")
	}
	return json.NewEncoder(s.deliveryFile).Encode(e)
}

func (s *fileStore) PutSuppression(ctx context.Context, email string, until time.Time) error {
	_ = ctx
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suppressJournalFile == nil {
		return errors.New("suppression journal closed")
	}
	if s.suppress == nil {
		s.suppress = map[string]int64{}
	}
	s.suppress[email] = ms

	if err := json.NewEncoder(s.suppressJournalFile).Encode(suppressRecord{Email: email, Until: ms}); err != nil {
		return err
	}
	s.suppressWrites++
	if s.suppressWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("suppression compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetSuppression(ctx context.Context, email string) (time.Time, bool, error) {
	_ = ctx
	email = normalizeEmail(email)
	if email == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.suppress[email]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked() error {
	if s.suppress == nil {
		return nil
	}
	pruneExpired(s.suppress)

	tmp := s.suppressSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.suppress); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.suppressSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.suppressJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.suppressJournalFile.Seek(0, 2)
	return err
}

func loadSuppressSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replaySuppressJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r suppressRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Email == "" {
			continue
		}
		out[r.Email] = r.Until
	}
	return sc.Err()
}

func pruneExpired(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
