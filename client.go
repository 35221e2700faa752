package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client is the main interface for working with field records. Mutations
// are written locally first and replayed to the remote authority when
// online.
type Client struct {
	store     *Store
	authority Authority
	auth      Authenticator
	config    Config
	log       *log.Logger
	refresh   func()

	online   OnlineState
	identity *AnonymousIdentity
	syncer   *Syncer
	listener *Listener

	idMu     sync.RWMutex
	clientID string
	idErr    error

	ctx       context.Context
	cancel    context.CancelFunc
	bgMu      sync.Mutex // guards closing and wg.Add
	closing   bool
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithAuthority sets the remote authority. If it can also issue identities
// it is used as the Authenticator unless one is set explicitly.
func WithAuthority(a Authority) Option {
	return func(c *Client) { c.authority = a }
}

// WithAuthenticator sets the identity issuer.
func WithAuthenticator(a Authenticator) Option {
	return func(c *Client) { c.auth = a }
}

// WithRefresh sets a callback run after every local mutation, every drain
// that replayed at least one entry and every applied batch of remote
// changes.
func WithRefresh(fn func()) Option {
	return func(c *Client) { c.refresh = fn }
}

// WithLogger sets the client logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithClientID fixes the client identity instead of signing in.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// New creates a new fieldsync client. Without an authority the client
// works offline only.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{config: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = NewLogger(cfg.Debug, cfg.LogPath)
	}
	if c.refresh == nil {
		c.refresh = func() {}
	}
	if c.auth == nil {
		if a, ok := c.authority.(Authenticator); ok {
			c.auth = a
		}
	}

	store, err := NewStore(cfg.LocalPath, WithStoreLogger(c.log))
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	c.store = store
	c.identity = NewAnonymousIdentity(store, c.auth, c.log)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if c.authority != nil {
		c.online.Set(true)
		c.syncer = NewSyncer(store, store, c.authority, cfg.Collection, c, &c.online, c.log)
		c.listener = NewListener(store, c.authority, cfg.Collection, c.refresh, c.log)
	}

	return c, nil
}

// Collection returns the collection the client syncs with.
func (c *Client) Collection() string { return c.config.Collection }

// ClientID returns the client identity once one is available.
// It implements IdentitySource.
func (c *Client) ClientID() (string, bool) {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.clientID, c.clientID != ""
}

// SaveRecord stores a record and queues it for sync. A zero LocalID adds a
// new record; otherwise the existing record is replaced. Failures to write
// locally are returned; sync failures are not.
func (c *Client) SaveRecord(ctx context.Context, r Record) (*Record, error) {
	var op Op
	if r.LocalID == 0 {
		op = OpAdd
		r.RemoteID = ""
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		id, err := c.store.AddRecord(ctx, r)
		if err != nil {
			return nil, err
		}
		r.LocalID = id
	} else {
		op = OpUpdate
		existing, err := c.store.GetRecord(ctx, r.LocalID)
		if err != nil {
			return nil, err
		}
		r.RemoteID = existing.RemoteID
		r.ClientID = existing.ClientID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = existing.CreatedAt
		}
		if err := c.store.PutRecord(ctx, r); err != nil {
			return nil, err
		}
	}

	localID := r.LocalID
	if _, err := c.store.Enqueue(ctx, OutboxEntry{Op: op, Payload: r, LocalID: &localID}); err != nil {
		return nil, err
	}
	c.log.WithFields(log.Fields{"local_id": localID, "op": op}).Debug("client: record saved")

	c.afterMutation(ctx)
	return &r, nil
}

// DeleteRecord removes a record locally and queues its remote deletion.
// Pending creates and updates for a record that was never confirmed
// remotely are dropped first so the deletion is not undone by a later
// replay.
func (c *Client) DeleteRecord(ctx context.Context, localID int64) error {
	rec, err := c.store.GetRecord(ctx, localID)
	if err != nil {
		return err
	}
	if err := c.store.DeleteRecord(ctx, localID); err != nil {
		return err
	}

	if rec.RemoteID == "" {
		pending, err := c.store.PendingForRecord(ctx, localID)
		if err != nil {
			return err
		}
		for _, e := range pending {
			if e.Op != OpAdd && e.Op != OpUpdate {
				continue
			}
			if err := c.store.RemoveOutbox(ctx, e.ID); err != nil {
				return err
			}
			c.log.WithFields(log.Fields{"local_id": localID, "entry": e.ID, "op": e.Op}).
				Debug("client: dropped pending entry for deleted record")
		}
	}

	if _, err := c.store.Enqueue(ctx, OutboxEntry{Op: OpDelete, Payload: *rec, LocalID: &localID}); err != nil {
		return err
	}

	c.afterMutation(ctx)
	return nil
}

// Record returns one record by local id.
func (c *Client) Record(ctx context.Context, localID int64) (*Record, error) {
	return c.store.GetRecord(ctx, localID)
}

// Records returns all records, newest first.
func (c *Client) Records(ctx context.Context) ([]Record, error) {
	recs, err := c.store.AllRecords(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].LocalID > recs[j].LocalID })
	return recs, nil
}

// Pending returns the queued outbox entries.
func (c *Client) Pending(ctx context.Context) ([]OutboxEntry, error) {
	return c.store.ListOutbox(ctx)
}

// afterMutation drains when online and refreshes once.
func (c *Client) afterMutation(ctx context.Context) {
	if c.syncer != nil && c.online.Online() {
		res, err := c.drain(ctx)
		if err != nil {
			c.log.WithField("err", err).Debug("client: drain after mutation failed")
		} else if res.Processed > 0 {
			return
		}
	}
	c.refresh()
}

// Drain replays the outbox now. It returns ErrOffline if no authority is
// configured.
//
// Until a client identity is available the pass is skipped with
// SkipNoIdentity and changes stay queued. If sign-in fails for good, Stats
// reports the reason in IdentityError.
func (c *Client) Drain(ctx context.Context) (*DrainResult, error) {
	if c.syncer == nil {
		return nil, ErrOffline
	}
	return c.drain(ctx)
}

func (c *Client) drain(ctx context.Context) (*DrainResult, error) {
	res, err := c.syncer.Drain(ctx)
	if err != nil {
		return nil, err
	}
	if res.Skipped == "" {
		if err := c.store.SetMetadata(ctx, metaLastDrain, formatTime(time.Now().UTC())); err != nil {
			c.log.WithField("err", err).Debug("client: record drain time failed")
		}
	}
	if res.Processed > 0 {
		c.refresh()
	}
	return res, nil
}

// goBackground runs fn on a tracked goroutine unless the client is closing.
func (c *Client) goBackground(fn func()) bool {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.closing {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

func (c *Client) goDrain() {
	c.goBackground(func() {
		if _, err := c.drain(c.ctx); err != nil {
			c.log.WithField("err", err).Debug("client: background drain failed")
		}
	})
}

// Online reports whether the client believes the authority is reachable.
func (c *Client) Online() bool { return c.syncer != nil && c.online.Online() }

// SetOnline records connectivity. Coming online starts a drain in the
// background.
func (c *Client) SetOnline(online bool) {
	if c.syncer == nil {
		return
	}
	if c.online.Set(online) {
		c.log.Info("client: online, draining outbox")
		c.goDrain()
	} else if !online {
		c.log.Debug("client: offline")
	}
}

// EnsureIdentity loads or issues the client identity without starting the
// listener.
func (c *Client) EnsureIdentity(ctx context.Context) (string, error) {
	if id, ok := c.ClientID(); ok {
		return id, nil
	}
	id, err := c.identity.Acquire(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			c.idMu.Lock()
			c.idErr = err
			c.idMu.Unlock()
		}
		return "", err
	}
	c.idMu.Lock()
	c.clientID = id
	c.idErr = nil
	c.idMu.Unlock()
	return id, nil
}

// Start acquires the client identity in the background and, once it is
// available, starts the listener and drains the outbox. It also starts the
// connectivity monitor when the authority can be probed. Start returns
// immediately; work stops when ctx is done or the client is closed.
func (c *Client) Start(ctx context.Context) {
	if c.authority == nil {
		return
	}
	c.startOnce.Do(func() {
		context.AfterFunc(ctx, c.cancel)

		if !c.goBackground(c.runIdentity) {
			return
		}
		if hc, ok := c.authority.(HealthChecker); ok && c.config.ProbeInterval > 0 {
			mon := NewConnectivityMonitor(hc, c.config.ProbeInterval, c.SetOnline, c.log)
			c.goBackground(func() { mon.Run(c.ctx) })
		}
	})
}

func (c *Client) runIdentity() {
	id, ok := c.ClientID()
	if ok {
		if err := c.store.SetMetadata(c.ctx, metaClientID, id); err != nil {
			c.log.WithField("err", err).Warn("client: persist identity failed")
		}
	} else {
		var err error
		id, err = c.EnsureIdentity(c.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.log.WithField("err", err).Error("client: identity unavailable, sync disabled")
			}
			return
		}
	}

	if err := c.listener.Start(c.ctx, ClientIDFilter(id)); err != nil {
		c.log.WithField("err", err).Error("client: start listener failed")
	}
	if _, err := c.drain(c.ctx); err != nil {
		c.log.WithField("err", err).Debug("client: drain after identity failed")
	}
}

// ListenerActive reports whether the remote change listener is live.
func (c *Client) ListenerActive() bool {
	return c.listener != nil && c.listener.Active()
}

// Stats returns local and sync statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	ss, err := c.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	c.idMu.RLock()
	id, idErr := c.clientID, c.idErr
	c.idMu.RUnlock()
	if id == "" {
		id, _, _ = c.store.GetMetadata(ctx, metaClientID)
	}
	st := &Stats{
		StoreStats:     *ss,
		ClientID:       id,
		Online:         c.Online(),
		ListenerActive: c.ListenerActive(),
	}
	if idErr != nil {
		st.IdentityError = idErr.Error()
	}
	return st, nil
}

// Close stops the listener and background work and closes the store.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.bgMu.Lock()
		c.closing = true
		c.bgMu.Unlock()
		c.cancel()
		if c.listener != nil {
			c.listener.Stop()
		}
		c.wg.Wait()
		err = c.store.Close()
	})
	return err
}
