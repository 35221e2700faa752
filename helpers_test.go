package fieldsync_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperengineering/fieldsync"
)

const testCollection = "jobs"

func newTestStore(t *testing.T) *fieldsync.Store {
	t.Helper()
	s, err := fieldsync.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// eventually polls cond until it holds or five seconds pass.
func eventually(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// addPending stores a record and queues its add, the way a user mutation does.
func addPending(t *testing.T, s *fieldsync.Store, r fieldsync.Record) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := s.AddRecord(ctx, r)
	if err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}
	r.LocalID = id
	if _, err := s.Enqueue(ctx, fieldsync.OutboxEntry{Op: fieldsync.OpAdd, Payload: r, LocalID: &id}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return id
}

func mustRecords(t *testing.T, s *fieldsync.Store) []fieldsync.Record {
	t.Helper()
	recs, err := s.AllRecords(context.Background())
	if err != nil {
		t.Fatalf("AllRecords failed: %v", err)
	}
	return recs
}

func mustOutbox(t *testing.T, s *fieldsync.Store) []fieldsync.OutboxEntry {
	t.Helper()
	entries, err := s.ListOutbox(context.Background())
	if err != nil {
		t.Fatalf("ListOutbox failed: %v", err)
	}
	return entries
}
