package fieldsync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestOutbox_EnqueueListRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, id2 := int64(1), int64(2)
	first, err := s.Enqueue(ctx, OutboxEntry{Op: OpAdd, LocalID: &id1, Payload: Record{LocalID: 1, Customer: "a"}})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	second, _ := s.Enqueue(ctx, OutboxEntry{Op: OpUpdate, LocalID: &id2, Payload: Record{LocalID: 2, Customer: "b"}})
	third, _ := s.Enqueue(ctx, OutboxEntry{Op: OpDelete, Payload: Record{RemoteID: "r3"}})

	entries, err := s.ListOutbox(ctx)
	if err != nil {
		t.Fatalf("ListOutbox failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	wantIDs := []int64{first, second, third}
	for i, e := range entries {
		if e.ID != wantIDs[i] {
			t.Errorf("entries[%d].ID = %d, want %d", i, e.ID, wantIDs[i])
		}
	}
	if entries[0].Op != OpAdd || *entries[0].LocalID != 1 || entries[0].Payload.Customer != "a" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[2].LocalID != nil {
		t.Errorf("entries[2].LocalID = %v, want nil", *entries[2].LocalID)
	}
	if entries[0].QueuedAt.IsZero() {
		t.Error("QueuedAt not stamped")
	}

	if err := s.RemoveOutbox(ctx, second); err != nil {
		t.Fatalf("RemoveOutbox failed: %v", err)
	}
	if err := s.RemoveOutbox(ctx, second); err != nil {
		t.Errorf("RemoveOutbox on absent entry = %v, want nil", err)
	}
	entries, _ = s.ListOutbox(ctx)
	if len(entries) != 2 || entries[0].ID != first || entries[1].ID != third {
		t.Errorf("after remove: %+v", entries)
	}
}

func TestOutbox_RejectsUnknownOp(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Enqueue(context.Background(), OutboxEntry{Op: "upsert"})
	if !errors.Is(err, ErrInvalidOp) {
		t.Errorf("Enqueue error = %v, want ErrInvalidOp", err)
	}
}

// TestOutbox_PayloadIsSnapshot verifies editing a record after enqueue does
// not alter the queued payload.
func TestOutbox_PayloadIsSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.AddRecord(ctx, Record{Customer: "original"})
	rec, _ := s.GetRecord(ctx, id)
	_, _ = s.Enqueue(ctx, OutboxEntry{Op: OpAdd, LocalID: &id, Payload: *rec})

	rec.Customer = "edited"
	_ = s.PutRecord(ctx, *rec)

	entries, _ := s.ListOutbox(ctx)
	if entries[0].Payload.Customer != "original" {
		t.Errorf("payload Customer = %q, want original", entries[0].Payload.Customer)
	}
}

// TestOutbox_SurvivesRestart verifies entries enqueued before a restart are
// listed identically afterwards.
func TestOutbox_SurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	id, _ := s.AddRecord(ctx, Record{Customer: "offline"})
	rec, _ := s.GetRecord(ctx, id)
	_, _ = s.Enqueue(ctx, OutboxEntry{Op: OpAdd, LocalID: &id, Payload: *rec})
	_, _ = s.Enqueue(ctx, OutboxEntry{Op: OpDelete, Payload: Record{RemoteID: "gone"}})
	before, _ := s.ListOutbox(ctx)
	_ = s.Close()

	s, err = NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	after, err := s.ListOutbox(ctx)
	if err != nil {
		t.Fatalf("ListOutbox failed: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("len(after) = %d, want %d", len(after), len(before))
	}
	for i := range before {
		b, a := before[i], after[i]
		if a.ID != b.ID || a.Op != b.Op || a.Payload.Customer != b.Payload.Customer ||
			a.Payload.RemoteID != b.Payload.RemoteID || !a.QueuedAt.Equal(b.QueuedAt) {
			t.Errorf("entry %d changed across restart: before %+v, after %+v", i, b, a)
		}
	}
}

func TestOutbox_PendingForRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, b := int64(1), int64(2)
	_, _ = s.Enqueue(ctx, OutboxEntry{Op: OpAdd, LocalID: &a})
	_, _ = s.Enqueue(ctx, OutboxEntry{Op: OpAdd, LocalID: &b})
	_, _ = s.Enqueue(ctx, OutboxEntry{Op: OpUpdate, LocalID: &a})

	pending, err := s.PendingForRecord(ctx, a)
	if err != nil {
		t.Fatalf("PendingForRecord failed: %v", err)
	}
	if len(pending) != 2 || pending[0].Op != OpAdd || pending[1].Op != OpUpdate {
		t.Errorf("PendingForRecord = %+v", pending)
	}
}
