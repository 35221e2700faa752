package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/hyperengineering/fieldsync"
	log "github.com/sirupsen/logrus"
)

// Server exposes a Memory authority over the REST and WebSocket API that
// HTTPClient speaks.
type Server struct {
	mem    *Memory
	apiKey string
	log    *log.Logger
	mux    *http.ServeMux
}

// NewServer returns a handler serving mem. A non-empty apiKey is required
// as a bearer token on every route except the health check.
func NewServer(mem *Memory, apiKey string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New()
	}
	s := &Server{mem: mem, apiKey: apiKey, log: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.Handle("POST /api/v1/auth/anonymous", s.authorize(s.handleSignIn))
	s.mux.Handle("POST /api/v1/collections/{collection}/documents", s.authorize(s.handleCreate))
	s.mux.Handle("GET /api/v1/collections/{collection}/documents/{id}", s.authorize(s.handleGet))
	s.mux.Handle("PATCH /api/v1/collections/{collection}/documents/{id}", s.authorize(s.handleMerge))
	s.mux.Handle("DELETE /api/v1/collections/{collection}/documents/{id}", s.authorize(s.handleDelete))
	s.mux.Handle("GET /api/v1/collections/{collection}/changes", s.authorize(s.handleChanges))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) authorize(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeMemoryError maps a Memory failure onto an HTTP status.
func writeMemoryError(w http.ResponseWriter, err error) {
	var re *fieldsync.RemoteError
	switch {
	case errors.Is(err, fieldsync.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &re) && re.StatusCode != 0:
		writeError(w, re.StatusCode, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func decodeDocument(w http.ResponseWriter, r *http.Request) (fieldsync.Fields, bool) {
	var req DocumentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFeedMessage)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	if req.Fields == nil {
		req.Fields = fieldsync.Fields{}
	}
	return req.Fields, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.mem.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		return
	}
	s.mem.mu.Lock()
	n := len(s.mem.collections)
	s.mem.mu.Unlock()
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Collections: n})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	uid, err := s.mem.SignInAnonymously(r.Context())
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AnonymousSignInResponse{UID: uid})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	collection := r.PathValue("collection")
	id, err := s.mem.Create(r.Context(), collection, fields)
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	doc, err := s.mem.Get(r.Context(), collection, id)
	if err != nil {
		doc = fields
	}
	writeJSON(w, http.StatusCreated, DocumentResponse{ID: id, Fields: doc})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := s.mem.Get(r.Context(), r.PathValue("collection"), id)
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentResponse{ID: id, Fields: doc})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := s.mem.Merge(r.Context(), r.PathValue("collection"), id, fields); err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentResponse{ID: id})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.mem.Delete(r.Context(), r.PathValue("collection"), r.PathValue("id")); err != nil {
		writeMemoryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChanges streams the change feed as JSON FeedMessage frames until
// the client disconnects.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	orderKey := r.URL.Query().Get("order_by")
	if orderKey == "" {
		orderKey = fieldsync.FieldCreatedAt
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.WithField("err", err).Warn("authority: websocket accept failed")
		return
	}
	defer func() { _ = conn.CloseNow() }()
	ctx := conn.CloseRead(context.Background())

	send := func(msg FeedMessage) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return conn.Write(writeCtx, websocket.MessageText, data)
	}

	feedErr := make(chan error, 1)
	sub, err := s.mem.Subscribe(ctx, collection, orderKey,
		func(changes []fieldsync.Change) {
			if err := send(FeedMessage{Changes: changes}); err != nil {
				s.log.WithFields(log.Fields{"collection": collection, "err": err}).Debug("authority: feed write failed")
			}
		},
		func(err error) {
			select {
			case feedErr <- err:
			default:
			}
		})
	if err != nil {
		_ = send(FeedMessage{Error: err.Error()})
		_ = conn.Close(websocket.StatusInternalError, truncate(err.Error()))
		return
	}
	defer sub.Stop()

	s.log.WithField("collection", collection).Debug("authority: feed subscriber connected")
	select {
	case <-ctx.Done():
	case err := <-feedErr:
		_ = send(FeedMessage{Error: err.Error()})
		_ = conn.Close(websocket.StatusInternalError, truncate(err.Error()))
	}
}

// truncate keeps a close reason within the WebSocket control frame limit.
func truncate(s string) string {
	if len(s) > 120 {
		return strings.TrimSpace(s[:120])
	}
	return s
}
