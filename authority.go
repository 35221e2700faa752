package fieldsync

import "context"

// Authority is the remote document store that holds the canonical copy of
// every record.
//
// The authority stamps createdAt on Create and updatedAt on Merge. Merge on
// a missing document creates it. Delete of a missing document succeeds.
type Authority interface {
	Create(ctx context.Context, collection string, fields Fields) (string, error)
	Merge(ctx context.Context, collection, remoteID string, fields Fields) error
	Delete(ctx context.Context, collection, remoteID string) error
	Get(ctx context.Context, collection, remoteID string) (Fields, error)

	// Subscribe delivers change batches for collection ordered by orderKey,
	// starting with the current documents as "added" changes. onBatch and
	// onError are called from a goroutine owned by the subscription, never
	// from Subscribe itself.
	Subscribe(ctx context.Context, collection, orderKey string,
		onBatch func([]Change), onError func(error)) (Subscription, error)
}

// Subscription is a live change feed. Stop is idempotent and must not be
// called from within the subscription's own callbacks.
type Subscription interface {
	Stop()
}

// Authenticator issues anonymous client identities.
type Authenticator interface {
	SignInAnonymously(ctx context.Context) (string, error)
}

// HealthChecker is implemented by authorities that can be probed for
// reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// OriginFilter decides whether a remote change was written by this client.
type OriginFilter interface {
	IsSelfOriginated(c Change) bool
}

// ClientIDFilter treats a change as self-originated when its clientId field
// equals the filter's identity. An empty identity matches nothing.
type ClientIDFilter string

// IsSelfOriginated implements OriginFilter.
func (f ClientIDFilter) IsSelfOriginated(c Change) bool {
	if f == "" {
		return false
	}
	id, _ := c.Fields[FieldClientID].(string)
	return id == string(f)
}
