// Package live serves search results over a websocket so the page can
// replace its results area without reloading.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	apperrors "country-stats/internal/errors"
	"country-stats/internal/metrics"
	"country-stats/internal/render"
	"country-stats/internal/stats"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Searcher runs a query against the dataset
type Searcher interface {
	ParseQuery(term, field string) (stats.Query, error)
	Search(ctx context.Context, q stats.Query) (*stats.Summary, error)
}

// Options control keepalive and message limits
type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// Request is a search sent by the page
type Request struct {
	Term  string `json:"term"`
	Field string `json:"field"`
}

// Response carries either a rendered fragment or an error message
type Response struct {
	HTML  string `json:"html,omitempty"`
	Error string `json:"error,omitempty"`
}

const invalidRequestMessage = "Invalid search request."

// Handler upgrades requests and serves one session per connection
type Handler struct {
	ctx      context.Context
	searcher Searcher
	opts     Options
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu       sync.Mutex
	closing  bool
	sessions map[*session]struct{}
	wg       sync.WaitGroup
}

func NewHandler(ctx context.Context, searcher Searcher, opts Options, m *metrics.Metrics) *Handler {
	if m == nil {
		m = metrics.GetMetrics()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= opts.PingInterval {
		opts.PongTimeout = 2 * opts.PingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 1024
	}

	return &Handler{
		ctx:      ctx,
		searcher: searcher,
		opts:     opts,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		sessions: make(map[*session]struct{}),
	}
}

// ServeHTTP upgrades the connection and blocks until the session ends
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.acquire() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		log.Debugf("Live upgrade failed: %v", err)
		return
	}

	s := &session{
		id:      uuid.NewString(),
		conn:    conn,
		handler: h,
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, s)
		h.mu.Unlock()
	}()

	s.run(r.Context())
}

// acquire counts a new session unless Wait has been called.
func (h *Handler) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.wg.Add(1)
	return true
}

// Wait refuses new sessions and blocks until the open ones have finished.
// When ctx ends first the remaining connections are closed and ctx.Err()
// is returned.
func (h *Handler) Wait(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	h.mu.Lock()
	for s := range h.sessions {
		s.conn.Close()
	}
	h.mu.Unlock()
	return ctx.Err()
}

type session struct {
	id      string
	conn    *websocket.Conn
	handler *Handler
	writeMu sync.Mutex
	done    chan struct{}
}

func (s *session) run(reqCtx context.Context) {
	h := s.handler
	h.metrics.LiveSessionOpened()
	entry := log.WithField("session", s.id)
	entry.Debug("Live session opened")

	defer func() {
		close(s.done)
		s.conn.Close()
		h.metrics.LiveSessionClosed()
		entry.Debug("Live session closed")
	}()

	s.conn.SetReadLimit(h.opts.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	})

	go s.keepalive()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				entry.Debugf("Live read error: %v", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))

		resp := s.handle(reqCtx, data)
		if err := s.write(websocket.TextMessage, resp); err != nil {
			entry.Debugf("Live write failed: %v", err)
			return
		}
	}
}

// keepalive pings the client and closes the connection on shutdown.
func (s *session) keepalive() {
	ticker := time.NewTicker(s.handler.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.handler.ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			s.write(websocket.CloseMessage, msg)
			s.conn.Close()
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}

func (s *session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.handler.opts.WriteTimeout))
	return s.conn.WriteMessage(messageType, data)
}

func (s *session) handle(ctx context.Context, data []byte) []byte {
	var req Request
	var resp Response

	if err := json.Unmarshal(data, &req); err != nil {
		resp.Error = invalidRequestMessage
		return encode(resp)
	}

	q, err := s.handler.searcher.ParseQuery(req.Term, req.Field)
	if err != nil {
		resp.Error = apperrors.UserMessage(err)
		return encode(resp)
	}

	summary, err := s.handler.searcher.Search(ctx, q)
	if err != nil && !apperrors.Is(err, apperrors.ErrNoMatches) {
		resp.Error = apperrors.UserMessage(err)
		return encode(resp)
	}

	html, err := render.Fragment(summary, err)
	if err != nil {
		log.WithField("session", s.id).Errorf("Live render failed: %v", err)
		resp.Error = apperrors.UserMessage(err)
		return encode(resp)
	}
	resp.HTML = html
	return encode(resp)
}

func encode(resp Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"error":"` + invalidRequestMessage + `"}`)
	}
	return b
}
