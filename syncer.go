package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/fieldsync/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// Reasons a drain pass did nothing.
const (
	SkipOffline    = "offline"
	SkipNoIdentity = "no_identity"
)

// Connectivity reports whether the remote authority is believed reachable.
type Connectivity interface {
	Online() bool
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Remaining int           `json:"remaining"`
	Skipped   string        `json:"skipped,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Syncer replays outbox entries against the remote authority.
//
// Each entry is replayed independently: a failing entry stays queued and
// does not block the ones after it. Concurrent drains are not excluded;
// every local write they make is an upsert keyed by local id.
type Syncer struct {
	store      LocalStore
	outbox     Outbox
	authority  Authority
	collection string
	identity   IdentitySource
	online     Connectivity
	log        *log.Logger
}

// NewSyncer creates a new syncer. online may be nil, meaning always online.
func NewSyncer(store LocalStore, outbox Outbox, authority Authority, collection string,
	identity IdentitySource, online Connectivity, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = discardLogger()
	}
	return &Syncer{
		store:      store,
		outbox:     outbox,
		authority:  authority,
		collection: collection,
		identity:   identity,
		online:     online,
		log:        logger,
	}
}

// Drain makes one pass over the outbox in insertion order.
//
// Offline, or without an identity, the pass is skipped. Failing to read the
// outbox aborts the pass with an error; callers retry on a later trigger.
func (s *Syncer) Drain(ctx context.Context) (*DrainResult, error) {
	if s.online != nil && !s.online.Online() {
		metrics.DrainPassesTotal.WithLabelValues(metrics.Skipped).Inc()
		return &DrainResult{Skipped: SkipOffline}, nil
	}
	clientID, ok := s.identity.ClientID()
	if !ok {
		metrics.DrainPassesTotal.WithLabelValues(metrics.Skipped).Inc()
		return &DrainResult{Skipped: SkipNoIdentity}, nil
	}

	start := time.Now()
	entries, err := s.outbox.ListOutbox(ctx)
	if err != nil {
		metrics.DrainPassesTotal.WithLabelValues(metrics.Fail).Inc()
		s.log.WithField("err", err).Warn("drain: read outbox failed")
		return nil, fmt.Errorf("drain: %w", err)
	}

	res := &DrainResult{}
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		entryLog := s.log.WithFields(log.Fields{"entry": e.ID, "op": e.Op})

		if err := s.replay(ctx, clientID, e); err != nil {
			res.Failed++
			metrics.OutboxEntriesTotal.WithLabelValues(string(e.Op), metrics.Fail).Inc()
			entryLog.WithField("err", err).Warn("drain: entry failed, left queued")
			continue
		}
		if err := s.outbox.RemoveOutbox(ctx, e.ID); err != nil {
			res.Failed++
			metrics.OutboxEntriesTotal.WithLabelValues(string(e.Op), metrics.Fail).Inc()
			entryLog.WithField("err", err).Warn("drain: remove entry failed, it will be replayed")
			continue
		}
		res.Processed++
		metrics.OutboxEntriesTotal.WithLabelValues(string(e.Op), metrics.Ok).Inc()
		entryLog.Debug("drain: entry replayed")
	}

	res.Remaining = len(entries) - res.Processed
	res.Duration = time.Since(start)
	metrics.OutboxPending.Set(float64(res.Remaining))
	metrics.DrainDurationSeconds.Observe(res.Duration.Seconds())
	metrics.DrainPassesTotal.WithLabelValues(metrics.Ok).Inc()

	if len(entries) > 0 {
		s.log.WithFields(log.Fields{
			"processed": res.Processed,
			"failed":    res.Failed,
			"remaining": res.Remaining,
		}).Info("drain: pass complete")
	}
	return res, nil
}

func (s *Syncer) replay(ctx context.Context, clientID string, e OutboxEntry) error {
	switch e.Op {
	case OpAdd:
		return s.create(ctx, clientID, e)

	case OpUpdate:
		remoteID, err := s.resolveRemoteID(ctx, e)
		if err != nil {
			return err
		}
		if remoteID == "" {
			// Never confirmed remotely: promote to a create.
			return s.create(ctx, clientID, e)
		}
		return s.authority.Merge(ctx, s.collection, remoteID, e.Payload.Fields(clientID))

	case OpDelete:
		remoteID, err := s.resolveRemoteID(ctx, e)
		if err != nil {
			return err
		}
		if remoteID != "" {
			if err := s.authority.Delete(ctx, s.collection, remoteID); err != nil {
				return err
			}
		}
		if e.LocalID != nil {
			return s.store.DeleteRecord(ctx, *e.LocalID)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidOp, e.Op)
}

// resolveRemoteID prefers the payload's remote id, then the one stamped on
// the current local record by an earlier create.
func (s *Syncer) resolveRemoteID(ctx context.Context, e OutboxEntry) (string, error) {
	if e.Payload.RemoteID != "" {
		return e.Payload.RemoteID, nil
	}
	if e.LocalID == nil {
		return "", nil
	}
	cur, err := s.store.GetRecord(ctx, *e.LocalID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cur.RemoteID, nil
}

func (s *Syncer) create(ctx context.Context, clientID string, e OutboxEntry) error {
	remoteID, err := s.authority.Create(ctx, s.collection, e.Payload.Fields(clientID))
	if err != nil {
		return err
	}
	return s.stampRemoteID(ctx, e, remoteID, clientID)
}

// stampRemoteID writes a newly issued remote id back to the local record.
// The current row is updated when it exists so later local edits are kept;
// otherwise the queued snapshot is written under the entry's local id.
func (s *Syncer) stampRemoteID(ctx context.Context, e OutboxEntry, remoteID, clientID string) error {
	rec := e.Payload
	rec.RemoteID = remoteID
	rec.ClientID = clientID

	if e.LocalID == nil {
		rec.LocalID = 0
		_, err := s.store.AddRecord(ctx, rec)
		return err
	}

	cur, err := s.store.GetRecord(ctx, *e.LocalID)
	switch {
	case err == nil:
		cur.RemoteID = remoteID
		cur.ClientID = clientID
		return s.store.PutRecord(ctx, *cur)
	case errors.Is(err, ErrNotFound):
		rec.LocalID = *e.LocalID
		return s.store.PutRecord(ctx, rec)
	default:
		return err
	}
}
