package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"claude-synapse/internal/session"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewReply creates a message answering the client request requestID.
func NewReply(msgType, requestID string, payload interface{}) (*Message, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	msg.RequestID = requestID
	return msg, nil
}

// Server → Client message types. Session events use the event topic
// names from the session package verbatim.
const (
	TypeSessionCreated      = session.TopicSessionCreated
	TypeSessionStateChanged = session.TopicSessionStateChanged
	TypeSessionOutput       = session.TopicSessionOutput
	TypeSessionTerminated   = session.TopicSessionTerminated
	TypeSessionCompleted    = session.TopicSessionCompleted

	TypeSessionSpawned = "session.spawned"
	TypeSessionList    = "session.list"
	TypeSessionInfo    = "session.info"
	TypeSessionHistory = "session.history"
	TypeAck            = "ack"
	TypeProjectsChange = "projects.changed"
	TypeError          = "error"
)

// Client → Server message types.
const (
	TypeSessionSpawn     = "session.spawn"
	TypeSessionInput     = "session.input"
	TypeSessionTerminate = "session.terminate"
	TypeSessionListReq   = "session.list"
	TypeSessionGet       = "session.get"
	TypeSessionOutputReq = "session.output"
)

// Error codes.
const (
	ErrSessionNotFound  = "SESSION_NOT_FOUND"
	ErrChannelClosed    = "CHANNEL_CLOSED"
	ErrInvalidMessage   = "INVALID_MESSAGE"
	ErrMaxSessions      = "MAX_SESSIONS"
	ErrSpawnFailed      = "SPAWN_FAILED"
	ErrRateLimited      = "RATE_LIMITED"
	ErrProjectNotFound  = "PROJECT_NOT_FOUND"
	ErrShuttingDown     = "SHUTTING_DOWN"
	ErrOriginNotAllowed = "ORIGIN_NOT_ALLOWED"
	ErrInternal         = "INTERNAL"
)

// Server → Client payloads.

type SessionSpawnedPayload struct {
	SessionID string `json:"sessionId"`
}

type SessionListPayload struct {
	Sessions []session.Summary `json:"sessions"`
}

type SessionHistoryPayload struct {
	SessionID string               `json:"sessionId"`
	Lines     []session.OutputLine `json:"lines"`
}

type ProjectsChangedPayload struct {
	ProjectIDs []string `json:"projectIds"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type SessionSpawnPayload struct {
	ProjectID string `json:"projectId"`
}

type SessionInputPayload struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type SessionIDPayload struct {
	SessionID string `json:"sessionId"`
}
