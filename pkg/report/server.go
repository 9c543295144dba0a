// Package report serves machine status reports over HTTP and websocket.
// Clients poll GET /status for a one-shot JSON report, POST /command to
// inject a G-code line or control character, or connect to /websocket to
// receive pushed status_report notifications at the configured interval.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package report

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tinyg-go-migration/pkg/log"
)

// Status is one machine status report.
type Status struct {
	Line     int        `json:"line"`
	State    string     `json:"stat"`
	Hold     string     `json:"hold"`
	Velocity float64    `json:"vel"`
	Position [6]float64 `json:"pos"`
	Queue    int        `json:"qd"` // occupied planner buffers
}

// MachineProvider is what the server needs from the controller.
type MachineProvider interface {
	// Status returns the current status report.
	Status() Status

	// Submit hands one input line (G-code or control character) to the
	// front end. BUFFER_FULL errors surface to the caller.
	Submit(line string) error
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (e.g. ":8080").
	Addr string

	// Interval between pushed websocket reports.
	Interval time.Duration
}

// Server is the status report server.
type Server struct {
	machine  MachineProvider
	logger   *log.Logger
	addr     string
	interval time.Duration

	httpServer *http.Server
	upgrader   websocket.Upgrader

	clients  map[int64]*wsClient
	clientMu sync.RWMutex
	nextID   int64

	running atomic.Bool
}

// New creates a status report server.
func New(cfg Config, machine MachineProvider, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New("report")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	return &Server{
		machine:  machine,
		logger:   logger,
		addr:     cfg.Addr,
		interval: cfg.Interval,
		clients:  make(map[int64]*wsClient),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start runs the server; blocks until Stop or a listen error.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/command", s.handleCommand)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running.Store(true)
	s.logger.Info("status report server on %s", s.addr)
	go s.broadcastLoop()

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down and closes all websocket clients.
func (s *Server) Stop() error {
	s.running.Store(false)
	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.machine.Status())
}

// handleCommand accepts one line per request in the request body.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if err := s.machine.Submit(string(body)); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

// notification is the websocket push envelope.
type notification struct {
	Method string `json:"method"`
	Params Status `json:"params"`
}

type wsClient struct {
	id     int64
	conn   *websocket.Conn
	sendCh chan notification
	done   chan struct{}
	once   sync.Once
}

func (c *wsClient) send(n notification) {
	select {
	case c.sendCh <- n:
	case <-c.done:
	default:
		// Slow client; drop the report. The next tick resends.
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade: %v", err)
		return
	}
	client := &wsClient{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		sendCh: make(chan notification, 8),
		done:   make(chan struct{}),
	}
	s.clientMu.Lock()
	s.clients[client.id] = client
	s.clientMu.Unlock()
	s.logger.Debug("websocket client %d connected", client.id)

	go s.writePump(client)

	// First report immediately on connect.
	client.send(notification{Method: "status_report", Params: s.machine.Status()})

	s.readPump(client)
}

// readPump accepts input lines from the client until it disconnects.
func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.removeClient(c)
		c.close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read: %v", err)
			}
			return
		}
		if err := s.machine.Submit(string(message)); err != nil {
			c.send(notification{Method: "error", Params: Status{State: err.Error()}})
		}
	}
}

func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case n := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) removeClient(c *wsClient) {
	s.clientMu.Lock()
	delete(s.clients, c.id)
	s.clientMu.Unlock()
	s.logger.Debug("websocket client %d disconnected", c.id)
}

// broadcastLoop pushes a status report to every client at the interval.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	var last Status
	first := true
	for s.running.Load() {
		<-ticker.C
		status := s.machine.Status()
		if !first && status == last {
			continue // nothing changed; stay quiet
		}
		first = false
		last = status
		n := notification{Method: "status_report", Params: status}
		s.clientMu.RLock()
		for _, c := range s.clients {
			c.send(n)
		}
		s.clientMu.RUnlock()
	}
}
