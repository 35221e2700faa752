package authority

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperengineering/fieldsync"
	"github.com/hyperengineering/fieldsync/internal/metrics"
	"github.com/oklog/ulid/v2"
)

// errUnreachable is returned by every operation while a Memory is marked
// unreachable.
var errUnreachable = errors.New("authority unreachable")

// Memory is an in-process fieldsync.Authority. Commits are totally ordered
// and fanned out to subscribers, each of which is delivered to by its own
// goroutine.
type Memory struct {
	mu          sync.Mutex
	seq         uint64
	collections map[string]map[string]*document
	subs        map[string]map[*memorySub]struct{}
	failures    map[string][]error
	calls       map[string]int
	unreachable bool
	now         func() time.Time
}

type document struct {
	seq    uint64
	fields fieldsync.Fields
}

var (
	_ fieldsync.Authority     = (*Memory)(nil)
	_ fieldsync.Authenticator = (*Memory)(nil)
	_ fieldsync.HealthChecker = (*Memory)(nil)
)

// NewMemory returns an empty in-process authority.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]*document),
		subs:        make(map[string]map[*memorySub]struct{}),
		failures:    make(map[string][]error),
		calls:       make(map[string]int),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// FailNext makes the next call of op fail with err. Calls queue up.
// op is one of "create", "merge", "delete", "get", "subscribe", "sign_in"
// or "health_check".
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// SetUnreachable makes every operation fail as if the network were down.
func (m *Memory) SetUnreachable(unreachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = unreachable
}

// Calls returns how many times op has been invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Documents returns a copy of every document in collection keyed by id.
func (m *Memory) Documents(collection string) map[string]fieldsync.Fields {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]fieldsync.Fields, len(m.collections[collection]))
	for id, d := range m.collections[collection] {
		out[id] = copyFields(d.fields)
	}
	return out
}

// BreakFeeds fails every live subscription on collection with err.
func (m *Memory) BreakFeeds(collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs[collection] {
		s := sub
		s.push(func() {
			s.onError(err)
			s.close()
		})
	}
	delete(m.subs, collection)
}

// begin records a call and returns the error it should fail with, if any.
// Must hold m.mu.
func (m *Memory) begin(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return &fieldsync.RemoteError{Operation: op, Err: err}
	}
	if m.unreachable {
		return &fieldsync.RemoteError{Operation: op, Err: errUnreachable}
	}
	if q := m.failures[op]; len(q) > 0 {
		err := q[0]
		m.failures[op] = q[1:]
		return err
	}
	return nil
}

func (m *Memory) collection(name string) map[string]*document {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]*document)
		m.collections[name] = c
	}
	return c
}

// Create stores a new document with a server-assigned id and createdAt.
func (m *Memory) Create(ctx context.Context, collection string, fields fieldsync.Fields) (id string, err error) {
	defer func() { metrics.AuthorityDocumentsTotal.WithLabelValues(opCreate, metrics.Status(err)).Inc() }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, opCreate); err != nil {
		return "", err
	}

	id = strings.ToLower(ulid.Make().String())
	m.insertLocked(collection, id, fields)
	return id, nil
}

func (m *Memory) insertLocked(collection, id string, fields fieldsync.Fields) {
	f := copyFields(fields)
	f[fieldsync.FieldCreatedAt] = m.now()
	m.seq++
	m.collection(collection)[id] = &document{seq: m.seq, fields: f}
	m.broadcastLocked(collection, fieldsync.Change{Type: fieldsync.ChangeAdded, RemoteID: id, Fields: copyFields(f)})
}

// Merge sets the given fields on a document and stamps updatedAt. A
// missing document is created.
func (m *Memory) Merge(ctx context.Context, collection, remoteID string, fields fieldsync.Fields) (err error) {
	defer func() { metrics.AuthorityDocumentsTotal.WithLabelValues(opMerge, metrics.Status(err)).Inc() }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, opMerge); err != nil {
		return err
	}

	d, ok := m.collection(collection)[remoteID]
	if !ok {
		m.insertLocked(collection, remoteID, fields)
		return nil
	}
	for k, v := range fields {
		if k == fieldsync.FieldCreatedAt {
			continue
		}
		d.fields[k] = v
	}
	d.fields[fieldsync.FieldUpdatedAt] = m.now()
	m.broadcastLocked(collection, fieldsync.Change{Type: fieldsync.ChangeModified, RemoteID: remoteID, Fields: copyFields(d.fields)})
	return nil
}

// Delete removes a document. Deleting a missing document succeeds.
func (m *Memory) Delete(ctx context.Context, collection, remoteID string) (err error) {
	defer func() { metrics.AuthorityDocumentsTotal.WithLabelValues(opDelete, metrics.Status(err)).Inc() }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, opDelete); err != nil {
		return err
	}

	c := m.collection(collection)
	if _, ok := c[remoteID]; !ok {
		return nil
	}
	delete(c, remoteID)
	m.broadcastLocked(collection, fieldsync.Change{Type: fieldsync.ChangeRemoved, RemoteID: remoteID})
	return nil
}

// Get returns a copy of a document's fields.
func (m *Memory) Get(ctx context.Context, collection, remoteID string) (fieldsync.Fields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, opGet); err != nil {
		return nil, err
	}

	d, ok := m.collection(collection)[remoteID]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", collection, remoteID, fieldsync.ErrNotFound)
	}
	return copyFields(d.fields), nil
}

// SignInAnonymously issues a fresh random identity.
func (m *Memory) SignInAnonymously(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, opSignIn); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}

// HealthCheck fails while the authority is unreachable.
func (m *Memory) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin(ctx, opHealth)
}

// Subscribe registers a change feed. The current documents, ordered by
// orderKey, arrive first as one batch of added changes. The subscription
// ends when ctx is done or Stop is called.
func (m *Memory) Subscribe(ctx context.Context, collection, orderKey string,
	onBatch func([]fieldsync.Change), onError func(error)) (fieldsync.Subscription, error) {

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, opSubscribe); err != nil {
		return nil, err
	}

	docs := make([]*document, 0, len(m.collections[collection]))
	ids := make(map[*document]string, len(m.collections[collection]))
	for id, d := range m.collections[collection] {
		docs = append(docs, d)
		ids[d] = id
	}
	sort.Slice(docs, func(i, j int) bool {
		if c := compareValues(docs[i].fields[orderKey], docs[j].fields[orderKey]); c != 0 {
			return c < 0
		}
		return docs[i].seq < docs[j].seq
	})
	initial := make([]fieldsync.Change, 0, len(docs))
	for _, d := range docs {
		initial = append(initial, fieldsync.Change{Type: fieldsync.ChangeAdded, RemoteID: ids[d], Fields: copyFields(d.fields)})
	}

	sub := &memorySub{
		m:          m,
		collection: collection,
		onBatch:    onBatch,
		onError:    onError,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	if m.subs[collection] == nil {
		m.subs[collection] = make(map[*memorySub]struct{})
	}
	m.subs[collection][sub] = struct{}{}
	sub.push(func() { sub.onBatch(initial) })

	go sub.run()
	context.AfterFunc(ctx, sub.Stop)
	return sub, nil
}

// broadcastLocked queues change for every subscriber of collection.
// Must hold m.mu.
func (m *Memory) broadcastLocked(collection string, change fieldsync.Change) {
	for sub := range m.subs[collection] {
		s := sub
		c := change
		c.Fields = copyFields(change.Fields)
		s.push(func() { s.onBatch([]fieldsync.Change{c}) })
	}
}

func (m *Memory) unsubscribe(sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs[sub.collection], sub)
}

// memorySub delivers queued callbacks in order on its own goroutine.
type memorySub struct {
	m          *Memory
	collection string
	onBatch    func([]fieldsync.Change)
	onError    func(error)

	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (s *memorySub) push(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySub) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			fn := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			fn()
		}
	}
}

func (s *memorySub) close() {
	s.once.Do(func() { close(s.done) })
}

// Stop ends the subscription and waits for a callback in progress to
// return. Queued but undelivered batches are dropped.
func (s *memorySub) Stop() {
	s.close()
	s.m.unsubscribe(s)
	<-s.exited
}

func copyFields(f fieldsync.Fields) fieldsync.Fields {
	out := make(fieldsync.Fields, len(f)+2)
	for k, v := range f {
		out[k] = v
	}
	return out
}

// compareValues orders missing values first, then times, numbers and
// strings by their natural order.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case nil:
		if b == nil {
			return 0
		}
		return -1
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	}
	if b == nil {
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
