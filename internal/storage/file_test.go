package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "packmail/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st != nil {
		t.Fatal("expected nil store when driver is empty")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestAppendDelivery(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st := openTestStore(t, dir)
	defer st.Close()

	e := DeliveryEntry{
		RunID:    "run-1",
		Email:    "ana@example.com",
		Name:     "Ana",
		TripName: "Patagonia Trek",
		OK:       true,
		Attempts: 1,
		TookMS:   42,
	}
	if err := st.AppendDelivery(context.Background(), e); err != nil {
		t.Fatalf("AppendDelivery: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "store.deliveries.jsonl"))
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatal("no delivery line written")
	}
	var got DeliveryEntry
	if err := json.Unmarshal(sc.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Email != e.Email || !got.OK || got.RunID != "run-1" {
		t.Fatalf("got %+v", got)
	}
	if got.At.IsZero() {
		t.Fatal("At was not stamped")
	}
}

func TestSuppressionRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st := openTestStore(t, dir)
	defer st.Close()

	until := time.Now().Add(time.Hour)
	if err := st.PutSuppression(context.Background(), "Ana@Example.com", until); err != nil {
		t.Fatalf("PutSuppression: %v", err)
	}

	// Lookup is case-insensitive on the address.
	got, ok, err := st.GetSuppression(context.Background(), "ana@example.com")
	if err != nil || !ok {
		t.Fatalf("GetSuppression: ok=%v err=%v", ok, err)
	}
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until = %v, want %v", got, until)
	}

	if _, ok, _ := st.GetSuppression(context.Background(), "other@example.com"); ok {
		t.Fatal("unexpected suppression hit")
	}
}

func TestSuppressionSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	st := openTestStore(t, dir)
	until := time.Now().Add(time.Hour)
	if err := st.PutSuppression(context.Background(), "ana@example.com", until); err != nil {
		t.Fatalf("PutSuppression: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2 := openTestStore(t, dir)
	defer st2.Close()
	_, ok, err := st2.GetSuppression(context.Background(), "ana@example.com")
	if err != nil || !ok {
		t.Fatalf("suppression lost across reopen: ok=%v err=%v", ok, err)
	}
}

func TestExpiredSuppressionPrunedOnOpen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	st := openTestStore(t, dir)
	if err := st.PutSuppression(context.Background(), "old@example.com", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("PutSuppression: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2 := openTestStore(t, dir)
	defer st2.Close()
	if _, ok, _ := st2.GetSuppression(context.Background(), "old@example.com"); ok {
		t.Fatal("expired suppression survived reopen")
	}
}
