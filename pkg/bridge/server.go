// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package bridge

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Thermoquad/speedwire/pkg/speedwire"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 5 * time.Second

	// Frames waiting for a client before it is dropped as too slow
	clientQueueSize = 64
)

// Options configures a Server
type Options struct {
	Format Format

	// Basic auth is required when Username is set
	Username string
	Password string

	Logger *slog.Logger
}

// Server pushes frames to websocket clients and keeps the latest reading of
// every energy meter for late joiners
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	latestMu sync.RWMutex
	latest   map[uint32]Frame
}

type message struct {
	messageType int
	data        []byte
}

// client owns one websocket connection. Only writeLoop writes data frames to
// it, so publishing never waits on the network.
type client struct {
	session   string
	conn      *websocket.Conn
	queue     chan message
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, queueSize int) *client {
	return &client{
		session: uuid.New().String(),
		conn:    conn,
		queue:   make(chan message, queueSize),
		done:    make(chan struct{}),
	}
}

// enqueue reports false when the client is gone or its queue is full
func (c *client) enqueue(messageType int, data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- message{messageType: messageType, data: data}:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop(logger *slog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case m := <-c.queue:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(m.messageType, m.data); err != nil {
				logger.Debug("bridge client write failed", "session", c.session, "error", err)
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewServer creates a server without clients
func NewServer(opts Options) *Server {
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
		latest:  make(map[uint32]Frame),
	}
}

// Handler returns the HTTP routes: "/" status, "/latest" and "/ws"
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/latest", s.handleLatest)
	mux.HandleFunc("/ws", s.handleWebSocket)

	if s.opts.Username == "" {
		return mux
	}
	return s.basicAuth(mux)
}

// Publish forwards a decoded telegram to every client
func (s *Server) Publish(t speedwire.Telegram) {
	f := FrameFromTelegram(t)
	if f.Type == FrameReading {
		s.latestMu.Lock()
		s.latest[f.Serial] = f
		s.latestMu.Unlock()
	}
	s.broadcast(f)
}

// PublishError forwards a listener error to every client
func (s *Server) PublishError(err error) {
	s.broadcast(FrameFromError(err))
}

// Clients returns the number of connected clients
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Latest returns the most recent reading of every meter, ordered by serial
func (s *Server) Latest() []Frame {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()

	frames := make([]Frame, 0, len(s.latest))
	for _, f := range s.latest {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Serial < frames[j].Serial })
	return frames
}

// Close disconnects every client
func (s *Server) Close() {
	s.clientsMu.Lock()
	clients := s.clients
	s.clients = make(map[*client]struct{})
	s.clientsMu.Unlock()

	for c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down"),
			time.Now().Add(time.Second))
		c.close()
	}
}

func (s *Server) broadcast(f Frame) {
	messageType, data, err := EncodeFrame(s.opts.Format, f)
	if err != nil {
		s.logger.Error("failed to encode frame", "type", f.Type, "error", err)
		return
	}

	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(messageType, data) {
			s.logger.Warn("dropping slow bridge client", "session", c.session)
			s.removeClient(c)
		}
	}
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
	c.close()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Speedwire Bridge",
		"status":  "running",
		"format":  s.opts.Format,
		"clients": s.Clients(),
		"meters":  len(s.Latest()),
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	frames := s.Latest()

	if serial := r.URL.Query().Get("serial"); serial != "" {
		want, err := strconv.ParseUint(serial, 10, 32)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid serial"})
			return
		}
		filtered := frames[:0]
		for _, f := range frames {
			if f.Serial == uint32(want) {
				filtered = append(filtered, f)
			}
		}
		frames = filtered
	}

	if len(frames) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "No readings available yet"})
		return
	}
	writeJSON(w, http.StatusOK, frames)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	latest := s.Latest()
	c := newClient(conn, clientQueueSize+len(latest)+1)
	s.logger.Info("bridge client connected", "session", c.session, "remote", r.RemoteAddr)
	go c.writeLoop(s.logger)

	// Greet and replay the latest readings, then join the broadcast
	initial := append([]Frame{{Type: FrameHello, Time: time.Now(), Session: c.session}}, latest...)
	for _, f := range initial {
		messageType, data, err := EncodeFrame(s.opts.Format, f)
		if err != nil {
			s.logger.Error("failed to encode frame", "type", f.Type, "error", err)
			continue
		}
		if !c.enqueue(messageType, data) {
			s.logger.Debug("bridge client gone during greeting", "session", c.session)
			c.close()
			return
		}
	}
	s.addClient(c)

	// Keep connection alive until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.removeClient(c)
	s.logger.Info("bridge client disconnected", "session", c.session)
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.opts.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.opts.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="speedwire"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
