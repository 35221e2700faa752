package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
)

// IdentitySource reports this client's identity once one is available.
type IdentitySource interface {
	ClientID() (string, bool)
}

// StaticIdentity is an IdentitySource with a fixed identity.
type StaticIdentity string

// ClientID implements IdentitySource.
func (s StaticIdentity) ClientID() (string, bool) { return string(s), s != "" }

type metadataStore interface {
	GetMetadata(ctx context.Context, key string) (string, bool, error)
	SetMetadata(ctx context.Context, key, value string) error
}

// AnonymousIdentity loads the persisted client identity or obtains a new
// one by anonymous sign-in. A successfully issued identity is persisted so
// it is stable across sessions.
type AnonymousIdentity struct {
	store   metadataStore
	auth    Authenticator
	backoff func() retry.Backoff
	log     *log.Logger
}

// NewAnonymousIdentity returns an identity provider backed by store and auth.
// auth may be nil, in which case only a persisted identity can be returned.
func NewAnonymousIdentity(store metadataStore, auth Authenticator, logger *log.Logger) *AnonymousIdentity {
	if logger == nil {
		logger = discardLogger()
	}
	return &AnonymousIdentity{
		store:   store,
		auth:    auth,
		backoff: defaultIdentityBackoff,
		log:     logger,
	}
}

func defaultIdentityBackoff() retry.Backoff {
	b := retry.NewExponential(500 * time.Millisecond)
	b = retry.WithJitterPercent(10, b)
	return retry.WithCappedDuration(time.Minute, b)
}

// Acquire returns the client identity, signing in if none is persisted.
// Transient sign-in failures are retried with exponential backoff until
// ctx is done; a rejected sign-in is returned immediately.
func (a *AnonymousIdentity) Acquire(ctx context.Context) (string, error) {
	id, ok, err := a.store.GetMetadata(ctx, metaClientID)
	if err != nil {
		return "", fmt.Errorf("identity: load: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}
	if a.auth == nil {
		return "", ErrIdentityUnavailable
	}

	attempt := 0
	err = retry.Do(ctx, a.backoff(), func(ctx context.Context) error {
		attempt++
		var err error
		id, err = a.auth.SignInAnonymously(ctx)
		if err == nil && id == "" {
			err = errors.New("empty identity issued")
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRemoteRejected) {
			return err
		}
		a.log.WithFields(log.Fields{"attempt": attempt, "err": err}).Warn("identity: sign-in failed, retrying")
		return retry.RetryableError(err)
	})
	if err != nil {
		return "", fmt.Errorf("identity: sign in: %w", errors.Join(ErrIdentityUnavailable, err))
	}

	if err := a.store.SetMetadata(ctx, metaClientID, id); err != nil {
		return "", fmt.Errorf("identity: persist: %w", err)
	}
	a.log.WithField("client_id", id).Info("identity: signed in anonymously")
	return id, nil
}
