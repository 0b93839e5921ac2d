package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"claude-synapse/internal/protocol"
	"claude-synapse/internal/session"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBufSize   = 256
)

// Options configures a Server.
type Options struct {
	StaticDir   string
	ProjectsDir string
	// ClientRate and ClientBurst bound websocket commands per client.
	ClientRate  float64
	ClientBurst int
	// AllowedOrigins lists browser origins accepted besides loopback ones,
	// e.g. "http://devbox.lan:8420".
	AllowedOrigins []string
}

// Server exposes the session registry over REST and websocket. Events
// reach websocket clients through the Hub, which the registry uses as its
// EventSink.
type Server struct {
	registry *session.Registry
	hub      *Hub
	opts     Options
	log      *slog.Logger
	upgrader websocket.Upgrader
}

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	server  *Server
	limiter *rate.Limiter
}

// New creates a new realtime server.
func New(registry *session.Registry, hub *Hub, opts Options, logger *slog.Logger) *Server {
	if opts.ClientRate <= 0 {
		opts.ClientRate = 20
	}
	if opts.ClientBurst <= 0 {
		opts.ClientBurst = 40
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		registry: registry,
		hub:      hub,
		opts:     opts,
		log:      logger,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}
	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("POST /sessions", s.handleSpawnSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/output", s.handleGetOutput)
	mux.HandleFunc("POST /sessions/{id}/input", s.handleWriteInput)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleTerminateSession)
	mux.HandleFunc("GET /projects", s.handleListProjects)
	mux.HandleFunc("GET /projects/{id}", s.handleGetProject)

	// Static file serving.
	if s.opts.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(s.opts.StaticDir))
		mux.Handle("/", fileServer)
	}

	return s.corsMiddleware(mux)
}

// corsMiddleware refuses requests from foreign browser origins and echoes
// allowed ones back.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !s.originAllowed(r) {
			s.log.Warn("request from foreign origin refused", "origin", origin, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, protocol.ErrOriginNotAllowed, "origin not allowed")
			return
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, sendBufSize),
		server:  s,
		limiter: rate.NewLimiter(rate.Limit(s.opts.ClientRate), s.opts.ClientBurst),
	}

	// Queue the snapshot before registering so it precedes any event.
	s.sendSessionList(c, "")
	s.hub.add(c)
	s.log.Debug("websocket client connected", "client_id", c.id)

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.hub.remove(c)
		c.conn.Close()
		c.server.log.Debug("websocket client disconnected", "client_id", c.id)
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.server.sendError(c, "", protocol.ErrRateLimited, "too many messages")
			continue
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, "", protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeSessionSpawn:
		var p protocol.SessionSpawnPayload
		json.Unmarshal(msg.Payload, &p)

		id, err := s.registry.Spawn(p.ProjectID)
		if err != nil {
			s.sendError(c, msg.RequestID, protocol.ErrorCode(err), err.Error())
			return
		}
		s.reply(c, protocol.TypeSessionSpawned, msg.RequestID, protocol.SessionSpawnedPayload{SessionID: id})

	case protocol.TypeSessionInput:
		var p protocol.SessionInputPayload
		json.Unmarshal(msg.Payload, &p)

		if err := s.registry.WriteInput(p.SessionID, p.Text); err != nil {
			s.sendError(c, msg.RequestID, protocol.ErrorCode(err), err.Error())
			return
		}
		s.reply(c, protocol.TypeAck, msg.RequestID, protocol.SessionIDPayload{SessionID: p.SessionID})

	case protocol.TypeSessionTerminate:
		var p protocol.SessionIDPayload
		json.Unmarshal(msg.Payload, &p)

		if err := s.registry.Terminate(p.SessionID); err != nil {
			s.sendError(c, msg.RequestID, protocol.ErrorCode(err), err.Error())
			return
		}
		s.reply(c, protocol.TypeAck, msg.RequestID, p)

	case protocol.TypeSessionListReq:
		s.sendSessionList(c, msg.RequestID)

	case protocol.TypeSessionGet:
		var p protocol.SessionIDPayload
		json.Unmarshal(msg.Payload, &p)

		summary, err := s.registry.Get(p.SessionID)
		if err != nil {
			s.sendError(c, msg.RequestID, protocol.ErrorCode(err), err.Error())
			return
		}
		s.reply(c, protocol.TypeSessionInfo, msg.RequestID, summary)

	case protocol.TypeSessionOutputReq:
		var p protocol.SessionIDPayload
		json.Unmarshal(msg.Payload, &p)

		lines, err := s.registry.Output(p.SessionID)
		if err != nil {
			s.sendError(c, msg.RequestID, protocol.ErrorCode(err), err.Error())
			return
		}
		s.reply(c, protocol.TypeSessionHistory, msg.RequestID, protocol.SessionHistoryPayload{
			SessionID: p.SessionID,
			Lines:     lines,
		})
	}
}

// sendSessionList sends the current session summaries to a client.
func (s *Server) sendSessionList(c *client, requestID string) {
	s.reply(c, protocol.TypeSessionList, requestID, protocol.SessionListPayload{
		Sessions: s.registry.List(),
	})
}

func (s *Server) reply(c *client, msgType, requestID string, payload interface{}) {
	msg, err := protocol.NewReply(msgType, requestID, payload)
	if err != nil {
		s.log.Warn("encode reply", "type", msgType, "error", err)
		return
	}
	s.enqueue(c, msg)
}

func (s *Server) sendError(c *client, requestID, code, message string) {
	msg, err := protocol.NewErrorMessage(code, message)
	if err != nil {
		return
	}
	msg.RequestID = requestID
	s.enqueue(c, msg)
}

func (s *Server) enqueue(c *client, msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// OnProjectsChanged is the callback for the projects watcher.
func (s *Server) OnProjectsChanged(projectIDs []string) {
	s.hub.Notify(protocol.TypeProjectsChange, protocol.ProjectsChangedPayload{ProjectIDs: projectIDs})
}
