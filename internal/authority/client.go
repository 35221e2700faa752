package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperengineering/fieldsync"
	"github.com/hyperengineering/fieldsync/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// HTTPClient implements fieldsync.Authority over the REST and WebSocket API
// served by Server.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *log.Logger
}

var (
	_ fieldsync.Authority     = (*HTTPClient)(nil)
	_ fieldsync.Authenticator = (*HTTPClient)(nil)
	_ fieldsync.HealthChecker = (*HTTPClient)(nil)
)

// NewHTTPClient creates a new authority client. apiKey is optional.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	l := log.New()
	l.SetOutput(io.Discard)
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: l,
	}
}

// WithHTTPClient sets a custom http.Client (for testing or custom timeouts).
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	c.httpClient = client
	return c
}

// WithLogger sets the logger used for request tracing.
func (c *HTTPClient) WithLogger(l *log.Logger) *HTTPClient {
	c.log = l
	return c
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", "fieldsync-client/1.0")
}

func documentsPath(collection string) string {
	return "/api/v1/collections/" + url.PathEscape(collection) + "/documents"
}

func newRemoteError(op string, statusCode int, body []byte) *fieldsync.RemoteError {
	msg := ""
	if len(body) > 0 && statusCode >= 400 {
		var er ErrorResponse
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			msg = er.Error
		} else if len(body) > 200 {
			msg = string(body[:200]) + "..."
		} else {
			msg = string(body)
		}
	}
	return &fieldsync.RemoteError{
		Operation:  op,
		StatusCode: statusCode,
		Err:        fmt.Errorf("HTTP %d: %s", statusCode, msg),
	}
}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. Any status other than want is an error.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, in any, want int, out any) (err error) {
	defer func() {
		metrics.RemoteRequestsTotal.WithLabelValues(op, metrics.Status(err)).Inc()
	}()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &fieldsync.RemoteError{Operation: op, Err: err}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &fieldsync.RemoteError{Operation: op, Err: err}
	}
	c.setHeaders(req)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.WithFields(log.Fields{"op": op, "method": method, "path": path}).Debug("authority: request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &fieldsync.RemoteError{Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		respBody, _ := io.ReadAll(resp.Body)
		return newRemoteError(op, resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &fieldsync.RemoteError{Operation: op, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

// Create adds a document and returns its server-assigned id.
func (c *HTTPClient) Create(ctx context.Context, collection string, fields fieldsync.Fields) (string, error) {
	var doc DocumentResponse
	err := c.do(ctx, opCreate, http.MethodPost, documentsPath(collection),
		DocumentRequest{Fields: fields}, http.StatusCreated, &doc)
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

// Merge updates the given fields of a document, creating it if missing.
func (c *HTTPClient) Merge(ctx context.Context, collection, remoteID string, fields fieldsync.Fields) error {
	return c.do(ctx, opMerge, http.MethodPatch, documentsPath(collection)+"/"+url.PathEscape(remoteID),
		DocumentRequest{Fields: fields}, http.StatusOK, nil)
}

// Delete removes a document. Deleting a missing document succeeds.
func (c *HTTPClient) Delete(ctx context.Context, collection, remoteID string) error {
	return c.do(ctx, opDelete, http.MethodDelete, documentsPath(collection)+"/"+url.PathEscape(remoteID),
		nil, http.StatusNoContent, nil)
}

// Get fetches a document. A missing document is an error matching
// fieldsync.ErrNotFound.
func (c *HTTPClient) Get(ctx context.Context, collection, remoteID string) (fieldsync.Fields, error) {
	var doc DocumentResponse
	err := c.do(ctx, opGet, http.MethodGet, documentsPath(collection)+"/"+url.PathEscape(remoteID),
		nil, http.StatusOK, &doc)
	if err != nil {
		return nil, err
	}
	return doc.Fields, nil
}

// SignInAnonymously obtains a new client identity.
func (c *HTTPClient) SignInAnonymously(ctx context.Context) (string, error) {
	var resp AnonymousSignInResponse
	if err := c.do(ctx, opSignIn, http.MethodPost, "/api/v1/auth/anonymous", nil, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	return resp.UID, nil
}

// HealthCheck reports whether the authority is reachable and healthy.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	var health HealthResponse
	if err := c.do(ctx, opHealth, http.MethodGet, "/api/v1/health", nil, http.StatusOK, &health); err != nil {
		return err
	}
	if health.Status != "ok" {
		return &fieldsync.RemoteError{Operation: opHealth, StatusCode: http.StatusServiceUnavailable,
			Err: fmt.Errorf("status %q", health.Status)}
	}
	return nil
}
