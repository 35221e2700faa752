// Package authority implements the remote document authority fieldsync
// clients sync with: an HTTP and WebSocket client, an in-process
// implementation, and a server exposing the in-process implementation.
package authority

import "github.com/hyperengineering/fieldsync"

// DocumentRequest is the body of a create or merge request.
type DocumentRequest struct {
	Fields fieldsync.Fields `json:"fields"`
}

// DocumentResponse is a single stored document.
type DocumentResponse struct {
	ID     string           `json:"id"`
	Fields fieldsync.Fields `json:"fields"`
}

// FeedMessage is one frame of the change feed. A frame carrying Error ends
// the feed.
type FeedMessage struct {
	Changes []fieldsync.Change `json:"changes,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// AnonymousSignInResponse carries a newly issued client identity.
type AnonymousSignInResponse struct {
	UID string `json:"uid"`
}

// HealthResponse represents the authority health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	Collections int    `json:"collections"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Operation names used in errors and metrics.
const (
	opCreate    = "create"
	opMerge     = "merge"
	opDelete    = "delete"
	opGet       = "get"
	opSubscribe = "subscribe"
	opSignIn    = "sign_in"
	opHealth    = "health_check"
)
