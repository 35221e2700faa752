package fieldsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hyperengineering/fieldsync/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// listenOrderKey is the field remote changes are ordered by.
const listenOrderKey = FieldCreatedAt

// BatchResult summarizes how one batch of remote changes was applied.
type BatchResult struct {
	Applied int
	Echoes  int
	Failed  int
}

// Listener applies remote changes to the local store, skipping the ones
// this client wrote itself.
//
// At most one subscription is active; Start replaces the previous one.
// Callbacks from a replaced subscription are ignored.
type Listener struct {
	store      LocalStore
	authority  Authority
	collection string
	refresh    func()
	log        *log.Logger

	mu     sync.Mutex // serializes Start and Stop
	sub    Subscription
	gen    atomic.Uint64
	active atomic.Bool
}

// NewListener creates a listener. refresh may be nil.
func NewListener(store LocalStore, authority Authority, collection string, refresh func(), logger *log.Logger) *Listener {
	if logger == nil {
		logger = discardLogger()
	}
	if refresh == nil {
		refresh = func() {}
	}
	return &Listener{
		store:      store,
		authority:  authority,
		collection: collection,
		refresh:    refresh,
		log:        logger,
	}
}

// Start subscribes to the collection, stopping any existing subscription.
// filter identifies changes written by this client.
func (l *Listener) Start(ctx context.Context, filter OriginFilter) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopLocked()
	gen := l.gen.Add(1)

	onBatch := func(changes []Change) {
		if l.gen.Load() != gen {
			return
		}
		l.ApplyBatch(ctx, filter, changes)
	}
	onError := func(err error) {
		if l.gen.Load() != gen {
			return
		}
		l.active.Store(false)
		metrics.FeedErrorsTotal.Inc()

		var fe *FeedError
		if !errors.As(err, &fe) {
			err = &FeedError{Collection: l.collection, Err: err}
		}
		l.log.WithFields(log.Fields{"collection": l.collection, "err": err}).
			Error("listener: change feed failed, listener inactive until restarted")
	}

	l.active.Store(true)
	sub, err := l.authority.Subscribe(ctx, l.collection, listenOrderKey, onBatch, onError)
	if err != nil {
		l.active.Store(false)
		metrics.FeedErrorsTotal.Inc()
		return &FeedError{Collection: l.collection, Err: err}
	}
	l.sub = sub
	l.log.WithField("collection", l.collection).Info("listener: subscribed")
	return nil
}

// Stop ends the current subscription, if any.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

func (l *Listener) stopLocked() {
	l.gen.Add(1)
	l.active.Store(false)
	if l.sub != nil {
		l.sub.Stop()
		l.sub = nil
	}
}

// Active reports whether a subscription is live and has not failed.
func (l *Listener) Active() bool { return l.active.Load() }

// ApplyBatch applies one batch of remote changes and then refreshes.
// A change that fails to apply is logged and does not stop the batch.
func (l *Listener) ApplyBatch(ctx context.Context, filter OriginFilter, changes []Change) BatchResult {
	var res BatchResult
	for _, c := range changes {
		if filter != nil && filter.IsSelfOriginated(c) {
			res.Echoes++
			metrics.FeedChangesTotal.WithLabelValues(string(c.Type), metrics.Echo).Inc()
			continue
		}
		if err := l.apply(ctx, c); err != nil {
			res.Failed++
			metrics.FeedChangesTotal.WithLabelValues(string(c.Type), metrics.Fail).Inc()
			l.log.WithFields(log.Fields{"remote_id": c.RemoteID, "type": c.Type, "err": err}).
				Warn("listener: apply change failed")
			continue
		}
		res.Applied++
		metrics.FeedChangesTotal.WithLabelValues(string(c.Type), metrics.Applied).Inc()
	}
	l.refresh()
	return res
}

func (l *Listener) apply(ctx context.Context, c Change) error {
	existing, err := l.store.FindByRemoteID(ctx, c.RemoteID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	switch c.Type {
	case ChangeAdded, ChangeModified:
		rec := RecordFromFields(c.RemoteID, c.Fields)
		if existing != nil {
			rec.LocalID = existing.LocalID
			return l.store.PutRecord(ctx, rec)
		}
		_, err := l.store.AddRecord(ctx, rec)
		return err

	case ChangeRemoved:
		if existing == nil {
			return nil
		}
		return l.store.DeleteRecord(ctx, existing.LocalID)
	}
	return errors.New("unknown change type " + string(c.Type))
}
