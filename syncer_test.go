package fieldsync_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperengineering/fieldsync"
	"github.com/hyperengineering/fieldsync/internal/authority"
)

type syncFixture struct {
	store  *fieldsync.Store
	mem    *authority.Memory
	online *fieldsync.OnlineState
	syncer *fieldsync.Syncer
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	f := &syncFixture{
		store:  newTestStore(t),
		mem:    authority.NewMemory(),
		online: &fieldsync.OnlineState{},
	}
	f.online.Set(true)
	f.syncer = fieldsync.NewSyncer(f.store, f.store, f.mem, testCollection,
		fieldsync.StaticIdentity("client-a"), f.online, nil)
	return f
}

func (f *syncFixture) drain(t *testing.T) *fieldsync.DrainResult {
	t.Helper()
	res, err := f.syncer.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	return res
}

// flakyOutbox wraps an Outbox with injectable failures.
type flakyOutbox struct {
	fieldsync.Outbox
	listErr      error
	removeErrors int
}

func (o *flakyOutbox) ListOutbox(ctx context.Context) ([]fieldsync.OutboxEntry, error) {
	if o.listErr != nil {
		return nil, o.listErr
	}
	return o.Outbox.ListOutbox(ctx)
}

func (o *flakyOutbox) RemoveOutbox(ctx context.Context, id int64) error {
	if o.removeErrors > 0 {
		o.removeErrors--
		return errors.New("process killed")
	}
	return o.Outbox.RemoveOutbox(ctx, id)
}

func TestDrain_OfflineIsNoop(t *testing.T) {
	f := newSyncFixture(t)
	addPending(t, f.store, fieldsync.Record{Customer: "a"})
	f.online.Set(false)

	res := f.drain(t)
	if res.Skipped != fieldsync.SkipOffline {
		t.Errorf("Skipped = %q, want %q", res.Skipped, fieldsync.SkipOffline)
	}
	if f.mem.Calls("create") != 0 {
		t.Error("offline drain reached the authority")
	}
	if len(mustOutbox(t, f.store)) != 1 {
		t.Error("offline drain changed the outbox")
	}
}

func TestDrain_WithoutIdentityIsNoop(t *testing.T) {
	f := newSyncFixture(t)
	addPending(t, f.store, fieldsync.Record{Customer: "a"})
	s := fieldsync.NewSyncer(f.store, f.store, f.mem, testCollection, fieldsync.StaticIdentity(""), f.online, nil)

	res, err := s.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Skipped != fieldsync.SkipNoIdentity {
		t.Errorf("Skipped = %q, want %q", res.Skipped, fieldsync.SkipNoIdentity)
	}
	if f.mem.Calls("create") != 0 {
		t.Error("drain without identity reached the authority")
	}
}

// TestDrain_OfflineCreateThenReconnect verifies a record created offline is
// created remotely with the origin tag and gets its remote id on reconnect.
func TestDrain_OfflineCreateThenReconnect(t *testing.T) {
	f := newSyncFixture(t)
	f.online.Set(false)
	id := addPending(t, f.store, fieldsync.Record{Customer: "Acme", Area: "10", Unit: "ha"})
	f.drain(t)

	f.online.Set(true)
	res := f.drain(t)
	if res.Processed != 1 || res.Failed != 0 || res.Remaining != 0 {
		t.Errorf("result = %+v", res)
	}

	rec, err := f.store.GetRecord(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.RemoteID == "" {
		t.Fatal("remote id not written back")
	}
	doc, ok := f.mem.Documents(testCollection)[rec.RemoteID]
	if !ok {
		t.Fatalf("remote document %s missing", rec.RemoteID)
	}
	if doc[fieldsync.FieldClientID] != "client-a" || doc[fieldsync.FieldCustomer] != "Acme" {
		t.Errorf("remote doc = %v", doc)
	}
	if len(mustOutbox(t, f.store)) != 0 {
		t.Error("outbox not empty after drain")
	}
}

// TestDrain_StampKeepsLaterLocalEdits verifies writing back the remote id
// does not overwrite edits made after the add was queued.
func TestDrain_StampKeepsLaterLocalEdits(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	id := addPending(t, f.store, fieldsync.Record{Customer: "draft"})

	rec, _ := f.store.GetRecord(ctx, id)
	rec.Customer = "final"
	_ = f.store.PutRecord(ctx, *rec)

	f.drain(t)
	rec, _ = f.store.GetRecord(ctx, id)
	if rec.Customer != "final" || rec.RemoteID == "" {
		t.Errorf("record = %+v, want final customer with remote id", rec)
	}
}

// TestDrain_UpdateAfterAddInSamePass verifies an update queued behind a
// pending add merges into the document that add created.
func TestDrain_UpdateAfterAddInSamePass(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	id := addPending(t, f.store, fieldsync.Record{Customer: "v1"})

	edited := fieldsync.Record{LocalID: id, Customer: "v2"}
	_ = f.store.PutRecord(ctx, edited)
	_, _ = f.store.Enqueue(ctx, fieldsync.OutboxEntry{Op: fieldsync.OpUpdate, Payload: edited, LocalID: &id})

	res := f.drain(t)
	if res.Processed != 2 {
		t.Fatalf("Processed = %d, want 2", res.Processed)
	}
	if f.mem.Calls("create") != 1 || f.mem.Calls("merge") != 1 {
		t.Errorf("create calls = %d, merge calls = %d; want 1 and 1", f.mem.Calls("create"), f.mem.Calls("merge"))
	}
	docs := f.mem.Documents(testCollection)
	if len(docs) != 1 {
		t.Fatalf("remote has %d documents, want 1", len(docs))
	}
	for _, doc := range docs {
		if doc[fieldsync.FieldCustomer] != "v2" {
			t.Errorf("customer = %v, want v2", doc[fieldsync.FieldCustomer])
		}
	}
}

// TestDrain_UpdateWithoutRemoteIDPromotesToCreate verifies an update for a
// record never created remotely creates it and stores the new id.
func TestDrain_UpdateWithoutRemoteIDPromotesToCreate(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	id, _ := f.store.AddRecord(ctx, fieldsync.Record{Customer: "orphan"})
	rec, _ := f.store.GetRecord(ctx, id)
	_, _ = f.store.Enqueue(ctx, fieldsync.OutboxEntry{Op: fieldsync.OpUpdate, Payload: *rec, LocalID: &id})

	f.drain(t)
	if f.mem.Calls("create") != 1 || f.mem.Calls("merge") != 0 {
		t.Errorf("create calls = %d, merge calls = %d; want 1 and 0", f.mem.Calls("create"), f.mem.Calls("merge"))
	}
	rec, _ = f.store.GetRecord(ctx, id)
	if rec.RemoteID == "" {
		t.Error("promoted create did not persist the remote id")
	}
}

func TestDrain_UpdateWithRemoteIDMerges(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	remoteID, _ := f.mem.Create(ctx, testCollection, fieldsync.Fields{"customer": "old"})
	id, _ := f.store.AddRecord(ctx, fieldsync.Record{Customer: "new", RemoteID: remoteID})
	rec, _ := f.store.GetRecord(ctx, id)
	_, _ = f.store.Enqueue(ctx, fieldsync.OutboxEntry{Op: fieldsync.OpUpdate, Payload: *rec, LocalID: &id})

	f.drain(t)
	doc := f.mem.Documents(testCollection)[remoteID]
	if doc[fieldsync.FieldCustomer] != "new" || doc[fieldsync.FieldClientID] != "client-a" {
		t.Errorf("doc = %v", doc)
	}
	if _, ok := doc[fieldsync.FieldUpdatedAt]; !ok {
		t.Error("merge did not stamp updatedAt")
	}
}

func TestDrain_DeleteRemovesRemoteAndLocal(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	remoteID, _ := f.mem.Create(ctx, testCollection, fieldsync.Fields{})
	id, _ := f.store.AddRecord(ctx, fieldsync.Record{RemoteID: remoteID})
	rec, _ := f.store.GetRecord(ctx, id)
	_ = f.store.DeleteRecord(ctx, id)
	_, _ = f.store.Enqueue(ctx, fieldsync.OutboxEntry{Op: fieldsync.OpDelete, Payload: *rec, LocalID: &id})

	res := f.drain(t)
	if res.Processed != 1 {
		t.Errorf("Processed = %d, want 1", res.Processed)
	}
	if _, ok := f.mem.Documents(testCollection)[remoteID]; ok {
		t.Error("remote document not deleted")
	}
	if len(mustRecords(t, f.store)) != 0 {
		t.Error("local record not deleted")
	}
}

// TestDrain_FailingEntryDoesNotBlockOthers verifies entries for different
// records are replayed independently of one failing entry.
func TestDrain_FailingEntryDoesNotBlockOthers(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	a := addPending(t, f.store, fieldsync.Record{Customer: "a"})
	b := addPending(t, f.store, fieldsync.Record{Customer: "b"})
	c := addPending(t, f.store, fieldsync.Record{Customer: "c"})

	f.mem.FailNext("create", &fieldsync.RemoteError{Operation: "create", StatusCode: 503, Err: errors.New("busy")})
	res := f.drain(t)
	if res.Processed != 2 || res.Failed != 1 || res.Remaining != 1 {
		t.Fatalf("first pass = %+v, want 2 processed, 1 failed, 1 remaining", res)
	}
	ra, _ := f.store.GetRecord(ctx, a)
	rb, _ := f.store.GetRecord(ctx, b)
	rc, _ := f.store.GetRecord(ctx, c)
	if ra.RemoteID != "" || rb.RemoteID == "" || rc.RemoteID == "" {
		t.Errorf("remote ids after first pass: a=%q b=%q c=%q", ra.RemoteID, rb.RemoteID, rc.RemoteID)
	}

	res = f.drain(t)
	if res.Processed != 1 || res.Remaining != 0 {
		t.Errorf("second pass = %+v", res)
	}
	ra, _ = f.store.GetRecord(ctx, a)
	if ra.RemoteID == "" {
		t.Error("failed entry not replayed on the next pass")
	}
	if len(f.mem.Documents(testCollection)) != 3 {
		t.Errorf("remote has %d documents, want 3", len(f.mem.Documents(testCollection)))
	}
}

// TestDrain_InterruptedPassConverges verifies that a pass interrupted after
// the remote write but before the entry is removed converges on the next
// pass. The remote may hold a duplicate document.
func TestDrain_InterruptedPassConverges(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	id := addPending(t, f.store, fieldsync.Record{Customer: "once"})

	outbox := &flakyOutbox{Outbox: f.store, removeErrors: 1}
	s := fieldsync.NewSyncer(f.store, outbox, f.mem, testCollection, fieldsync.StaticIdentity("client-a"), f.online, nil)

	res, err := s.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Failed != 1 || len(mustOutbox(t, f.store)) != 1 {
		t.Fatalf("interrupted pass = %+v", res)
	}

	if _, err := s.Drain(ctx); err != nil {
		t.Fatalf("second Drain failed: %v", err)
	}
	if len(mustOutbox(t, f.store)) != 0 {
		t.Error("outbox not empty after recovery")
	}
	recs := mustRecords(t, f.store)
	if len(recs) != 1 || recs[0].LocalID != id || recs[0].RemoteID == "" {
		t.Errorf("local records = %+v, want one synced record", recs)
	}
	docs := f.mem.Documents(testCollection)
	if _, ok := docs[recs[0].RemoteID]; !ok {
		t.Error("local remote id does not name a remote document")
	}
	if len(docs) < 1 || len(docs) > 2 {
		t.Errorf("remote has %d documents, want 1 or 2", len(docs))
	}
}

func TestDrain_ListFailureAbortsPass(t *testing.T) {
	f := newSyncFixture(t)
	addPending(t, f.store, fieldsync.Record{Customer: "a"})

	boom := errors.New("read failed")
	outbox := &flakyOutbox{Outbox: f.store, listErr: boom}
	s := fieldsync.NewSyncer(f.store, outbox, f.mem, testCollection, fieldsync.StaticIdentity("client-a"), f.online, nil)

	_, err := s.Drain(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Drain error = %v, want read failure", err)
	}
	if f.mem.Calls("create") != 0 {
		t.Error("aborted pass reached the authority")
	}
}

// TestDrain_OrderIndependentAcrossRecords verifies the final state does not
// depend on the order entries for different records are queued in.
func TestDrain_OrderIndependentAcrossRecords(t *testing.T) {
	final := func(order []string) map[string]bool {
		f := newSyncFixture(t)
		for _, name := range order {
			addPending(t, f.store, fieldsync.Record{Customer: name})
		}
		f.drain(t)

		got := map[string]bool{}
		for _, doc := range f.mem.Documents(testCollection) {
			got[doc[fieldsync.FieldCustomer].(string)] = true
		}
		for _, r := range mustRecords(t, f.store) {
			if r.RemoteID == "" {
				t.Errorf("record %q not synced", r.Customer)
			}
		}
		return got
	}

	a := final([]string{"x", "y", "z"})
	b := final([]string{"z", "x", "y"})
	if len(a) != 3 || len(b) != 3 {
		t.Fatalf("documents: %v vs %v", a, b)
	}
	for k := range a {
		if !b[k] {
			t.Errorf("document %q missing in reordered run", k)
		}
	}
}
