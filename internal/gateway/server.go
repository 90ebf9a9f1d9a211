// Package gateway hosts the HTTP/WebSocket surface the CLI's run command
// binds: a thin event broadcaster over the agent/session/cron machinery,
// trimmed to the methods this build actually implements.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asteroniris-dev/asteroniris/internal/bus"
	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/store"
	"github.com/asteroniris-dev/asteroniris/internal/supervisor"
	"github.com/asteroniris-dev/asteroniris/internal/tools"
	"github.com/asteroniris-dev/asteroniris/pkg/protocol"
)

// Server binds the gateway's HTTP mux: a /ws event stream, a /healthz
// probe, and a /v1/chat.send endpoint that drives a ChannelProcess turn.
// Every field is optional except cfg; nil dependencies simply disable the
// routes that need them.
type Server struct {
	cfg      *config.Config
	eventPub bus.EventPublisher
	process  *supervisor.ChannelProcess
	sessions store.SessionStore
	toolsReg *tools.Registry
	pairing  store.PairingStore

	upgrader websocket.Upgrader
	clients  map[*wsClient]bool
	mu       sync.Mutex

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer builds a gateway Server. process may be nil if the run command
// is only exposing cron/health surfaces without a chat-capable agent.
func NewServer(cfg *config.Config, eventPub bus.EventPublisher, process *supervisor.ChannelProcess, sessions store.SessionStore, toolsReg *tools.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		process:  process,
		sessions: sessions,
		toolsReg: toolsReg,
		clients:  make(map[*wsClient]bool),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin mirrors the gateway's CORS allowlist: no origins configured
// means allow all (dev mode); an empty Origin header (CLI/SDK clients,
// never browsers) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux constructs (and caches) the HTTP mux so callers needing the raw
// handler — e.g. to bind it under a tailscale listener instead of a plain
// TCP listener — can grab it before Start.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/pair", capBody(s.handlePair))
	mux.HandleFunc("/webhook", capBody(s.handleWebhook))
	mux.HandleFunc("/whatsapp", capBody(s.handleWhatsApp))
	mux.HandleFunc("/v1/chat.send", capBody(s.handleChatSend))
	s.mux = mux
	return mux
}

// handler wraps the mux with the gateway-wide request timeout. The
// websocket route bypasses the timeout wrapper (long-lived connection).
func (s *Server) handler() http.Handler {
	mux := s.BuildMux()
	timed := http.TimeoutHandler(mux, time.Duration(requestTimeout)*time.Second, "request timed out")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			mux.ServeHTTP(w, r)
			return
		}
		timed.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server on addr until ctx is cancelled, then shuts
// down gracefully within 5s.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.handler()}

	slog.Info("gateway starting", "addr", addr)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// ServeOn runs the HTTP server over ln (e.g. a tsnet listener) until ctx is
// cancelled, then shuts down gracefully within 5s. Unlike Start, the caller
// owns the listener's lifecycle.
func (s *Server) ServeOn(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","tools":%d}`, len(s.toolsRegList()))
}

func (s *Server) toolsRegList() []string {
	if s.toolsReg == nil {
		return nil
	}
	return s.toolsReg.List()
}

type chatSendRequest struct {
	EntityID string `json:"entity_id"`
	Message  string `json:"message"`
}

type chatSendResponse struct {
	FinalText string `json:"final_text"`
	Error     string `json:"error,omitempty"`
}

// handleChatSend is the thin HTTP analogue of the websocket protocol's
// chat.send method (pkg/protocol.MethodChatSend): a synchronous request
// that drives one ChannelProcess turn and returns its answer.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	if s.process == nil {
		http.Error(w, "chat is not configured on this gateway", http.StatusServiceUnavailable)
		return
	}
	var req chatSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.EntityID == "" || req.Message == "" {
		http.Error(w, "entity_id and message are required", http.StatusBadRequest)
		return
	}

	result, err := s.process.HandleMessage(r.Context(), req.EntityID, req.Message)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		json.NewEncoder(w).Encode(chatSendResponse{Error: err.Error()})
		return
	}
	json.NewEncoder(w).Encode(chatSendResponse{FinalText: result.FinalText})

	if s.eventPub != nil {
		s.eventPub.Broadcast(bus.Event{Name: protocol.EventChat, Payload: map[string]string{
			"type":      protocol.ChatEventMessage,
			"entity_id": req.EntityID,
		}})
	}
}

// wsClient buffers outbound events for one websocket connection so a slow
// reader can't block Broadcast's fan-out to every other subscriber.
type wsClient struct {
	conn *websocket.Conn
	send chan bus.Event
	id   string
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan bus.Event, 32), id: fmt.Sprintf("%p", conn)}
	s.registerClient(client)
	defer s.unregisterClient(client)

	go client.writeLoop()
	client.readLoop()
}

func (s *Server) registerClient(c *wsClient) {
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	if s.eventPub != nil {
		s.eventPub.Subscribe(c.id, func(e bus.Event) {
			select {
			case c.send <- e:
			default:
				slog.Warn("gateway: dropping event for slow websocket client", "client", c.id)
			}
		})
	}
}

func (s *Server) unregisterClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	if s.eventPub != nil {
		s.eventPub.Unsubscribe(c.id)
	}
	close(c.send)
	c.conn.Close()
}

func (c *wsClient) writeLoop() {
	for event := range c.send {
		if err := c.conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// readLoop only drains incoming frames to keep the connection's read
// deadline fresh and detect client disconnects; this build doesn't accept
// inbound RPC methods over the socket, only the HTTP chat.send route.
func (c *wsClient) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
