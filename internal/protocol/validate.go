package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"claude-synapse/internal/session"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeSessionSpawn:     true,
	TypeSessionInput:     true,
	TypeSessionTerminate: true,
	TypeSessionListReq:   true,
	TypeSessionGet:       true,
	TypeSessionOutputReq: true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	// Validate required payload fields per type.
	switch msg.Type {
	case TypeSessionSpawn:
		var p SessionSpawnPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.ProjectID == "" {
			return nil, fmt.Errorf("missing required field 'projectId' in %s payload", msg.Type)
		}

	case TypeSessionInput:
		var p SessionInputPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s payload", msg.Type)
		}

	case TypeSessionTerminate, TypeSessionGet, TypeSessionOutputReq:
		var p SessionIDPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s payload", msg.Type)
		}
	}

	return &msg, nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}

// ErrorCode maps a registry error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrAdmission):
		return ErrMaxSessions
	case errors.Is(err, session.ErrSpawn):
		return ErrSpawnFailed
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrChannelClosed):
		return ErrChannelClosed
	case errors.Is(err, session.ErrInvalidProject):
		return ErrInvalidMessage
	case errors.Is(err, session.ErrClosed):
		return ErrShuttingDown
	default:
		return ErrInternal
	}
}
