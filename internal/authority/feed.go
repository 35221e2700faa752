package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/hyperengineering/fieldsync"
	"github.com/hyperengineering/fieldsync/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// maxFeedMessage bounds a single change feed frame.
const maxFeedMessage = 16 << 20

func changesPath(collection, orderKey string) string {
	return "/api/v1/collections/" + url.PathEscape(collection) + "/changes?order_by=" + url.QueryEscape(orderKey)
}

func websocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return baseURL
}

// Subscribe opens the collection's change feed over a WebSocket. The first
// frame holds the current documents; each later frame is one batch.
func (c *HTTPClient) Subscribe(ctx context.Context, collection, orderKey string,
	onBatch func([]fieldsync.Change), onError func(error)) (fieldsync.Subscription, error) {

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	subCtx, cancel := context.WithCancel(ctx)
	conn, resp, err := websocket.Dial(subCtx, websocketURL(c.baseURL)+changesPath(collection, orderKey),
		&websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		cancel()
		metrics.RemoteRequestsTotal.WithLabelValues(opSubscribe, metrics.Fail).Inc()
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &fieldsync.RemoteError{Operation: opSubscribe, StatusCode: status, Err: err}
	}
	metrics.RemoteRequestsTotal.WithLabelValues(opSubscribe, metrics.Ok).Inc()
	conn.SetReadLimit(maxFeedMessage)

	sub := &feedSubscription{conn: conn, cancel: cancel, exited: make(chan struct{})}
	go sub.readLoop(subCtx, collection, onBatch, onError, c.log)
	return sub, nil
}

type feedSubscription struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	once   sync.Once
	exited chan struct{}
}

func (s *feedSubscription) readLoop(ctx context.Context, collection string,
	onBatch func([]fieldsync.Change), onError func(error), logger *log.Logger) {

	defer close(s.exited)
	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		onError(&fieldsync.FeedError{Collection: collection, Err: err})
		s.close()
	}

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			fail(err)
			return
		}

		var msg FeedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			fail(fmt.Errorf("decode feed message: %w", err))
			return
		}
		if msg.Error != "" {
			fail(errors.New(msg.Error))
			return
		}
		logger.WithFields(log.Fields{"collection": collection, "changes": len(msg.Changes)}).Debug("authority: feed batch")
		onBatch(msg.Changes)
	}
}

func (s *feedSubscription) close() {
	s.once.Do(func() {
		s.cancel()
		_ = s.conn.CloseNow()
	})
}

// Stop closes the feed and waits for a batch in progress to be delivered.
// It is safe to call more than once.
func (s *feedSubscription) Stop() {
	s.close()
	<-s.exited
}
