package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AltairaLabs/acro-recorder/internal/types"
)

// Message is the envelope for all page-agent messages
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a recorder-originated message with the current timestamp
func NewMessage(id, msgType string, payload any) (*Message, error) {
	msg := &Message{
		ID:        id,
		Type:      msgType,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// Recorder -> agent commands. Each is answered by an ack or error carrying the same id.
const (
	TypeMediaPause      = "media.pause"
	TypeMediaResume     = "media.resume"
	TypeUIInject        = "ui.inject"
	TypeUIRemove        = "ui.remove"
	TypeListenersAttach = "listeners.attach"
	TypeListenersDetach = "listeners.detach"
	TypeCapture         = "capture"
)

// Recorder -> agent notifications
const (
	TypeBadgeUpdate   = "badge.update"
	TypeUploadWarning = "upload.warning"
)

// Agent -> recorder message types
const (
	TypeAck   = "ack"
	TypeError = "error"
	TypeEvent = "event"
)

// Error codes
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeEventRejected  = "EVENT_REJECTED"
)

// CaptureResultPayload answers a capture command
type CaptureResultPayload struct {
	Image string `json:"image"` // PNG as data URI or bare base64
}

// ErrorPayload answers a command that failed in the page
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BadgePayload is pushed on every session transition
type BadgePayload struct {
	SessionID string              `json:"sessionId,omitempty"`
	Status    types.SessionStatus `json:"status"`
	StepCount int                 `json:"stepCount"`
	Color     string              `json:"color"`
	Text      string              `json:"text"`
}

// WarningPayload is pushed when steps could not be uploaded
type WarningPayload struct {
	SessionID    string `json:"sessionId"`
	OrderIndexes []int  `json:"orderIndexes"`
	Message      string `json:"message"`
}

// AgentError is a command failure reported by the page agent
type AgentError struct {
	Command string
	Code    string
	Message string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s failed: %s: %s", e.Command, e.Code, e.Message)
}

var validAgentTypes = map[string]bool{
	TypeAck:   true,
	TypeError: true,
	TypeEvent: true,
}

// ValidateAgentMessage parses and validates a raw message from the page agent
func ValidateAgentMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, errors.New("missing 'type' field")
	}
	if !validAgentTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	switch msg.Type {
	case TypeAck, TypeError:
		if msg.ID == "" {
			return nil, fmt.Errorf("missing required field 'id' in %s", msg.Type)
		}
	case TypeEvent:
		var req types.CaptureRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if !req.ActionType.Valid() {
			return nil, fmt.Errorf("invalid action type %q in %s payload", req.ActionType, msg.Type)
		}
	}

	return &msg, nil
}
