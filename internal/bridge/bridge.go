// Package bridge connects the recorder to the in-page agent over a websocket.
// It implements the capture adapter, media stream, status UI and capture
// listener contracts by sending commands and waiting for the agent's ack.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/ingest"
	"github.com/AltairaLabs/acro-recorder/internal/types"
	"github.com/AltairaLabs/acro-recorder/internal/upload"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 64
	eventBuffer   = 256
)

var (
	// ErrAgentNotConnected is returned when a command is issued with no agent connected
	ErrAgentNotConnected = errors.New(config.ErrAgentNotConnected)
	// ErrAgentDisconnected is returned when the agent went away before answering
	ErrAgentDisconnected = errors.New("page agent disconnected")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // The agent runs inside arbitrary pages
	},
}

// EventHandler receives interactions reported by the agent
type EventHandler func(ctx context.Context, req types.CaptureRequest) error

// Bridge serves the page-agent websocket. One agent is active at a time;
// a new connection replaces the previous one.
type Bridge struct {
	logger         *slog.Logger
	commandTimeout time.Duration

	mu      sync.RWMutex
	agent   *agentConn
	onEvent EventHandler

	pendingMu sync.Mutex
	pending   map[string]chan *Message
}

type agentConn struct {
	conn      *websocket.Conn
	send      chan []byte
	events    chan *Message
	closed    chan struct{}
	closeOnce sync.Once
	bridge    *Bridge
}

var (
	_ types.CaptureAdapter   = (*Bridge)(nil)
	_ types.MediaStream      = (*Bridge)(nil)
	_ types.StatusUI         = (*Bridge)(nil)
	_ types.CaptureListeners = (*Bridge)(nil)
	_ upload.Notifier        = (*Bridge)(nil)
)

// New creates a new page-agent bridge
func New(cfg config.ServerConfig, logger *slog.Logger) *Bridge {
	timeout := cfg.AgentCommandTimeout
	if timeout <= 0 {
		timeout = config.DefaultAgentCommandTimeout
	}
	return &Bridge{
		logger:         logger,
		commandTimeout: timeout,
		pending:        make(map[string]chan *Message),
	}
}

// SetEventHandler sets the handler for agent-reported interactions
func (b *Bridge) SetEventHandler(fn EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onEvent = fn
}

// Handler returns an http.Handler serving the agent endpoint
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/agent", b.handleWebSocket)
	return mux
}

// Connected reports whether an agent is connected
func (b *Bridge) Connected() bool {
	return b.current() != nil
}

// Close disconnects the current agent
func (b *Bridge) Close() {
	if c := b.current(); c != nil {
		c.close()
	}
}

func (b *Bridge) current() *agentConn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.agent
}

func (b *Bridge) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("Websocket upgrade failed", "error", err)
		return
	}

	c := &agentConn{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		events: make(chan *Message, eventBuffer),
		closed: make(chan struct{}),
		bridge: b,
	}

	b.mu.Lock()
	previous := b.agent
	b.agent = c
	b.mu.Unlock()

	if previous != nil {
		b.logger.Info("Page agent replaced by a new connection")
		previous.close()
	}
	b.logger.Info("Page agent connected", "remote_addr", r.RemoteAddr)

	go c.writePump()
	go c.eventPump()
	go c.readPump()
}

func (b *Bridge) removeAgent(c *agentConn) {
	b.mu.Lock()
	if b.agent == c {
		b.agent = nil
	}
	b.mu.Unlock()
	c.close()
	b.logger.Info("Page agent disconnected")
}

func (c *agentConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// enqueue hands data to the write pump without blocking
func (c *agentConn) enqueue(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.closed:
		return false
	default:
		return false
	}
}

func (c *agentConn) readPump() {
	defer c.bridge.removeAgent(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.bridge.logger.Warn("Websocket read error", "error", err)
			}
			return
		}
		c.bridge.handleMessage(c, raw)
	}
}

// eventPump hands agent events to the handler one at a time, in arrival order
func (c *agentConn) eventPump() {
	for {
		select {
		case msg := <-c.events:
			c.bridge.handleEvent(c, msg)
		case <-c.closed:
			return
		}
	}
}

func (c *agentConn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeDeadline))
			return
		}
	}
}

func (b *Bridge) handleMessage(c *agentConn, raw []byte) {
	msg, err := ValidateAgentMessage(raw)
	if err != nil {
		b.logger.Warn("Invalid agent message", "error", err)
		b.sendError(c, "", ErrCodeInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case TypeAck, TypeError:
		b.resolve(msg)
	case TypeEvent:
		// Handled off the read pump: the handler issues a capture command whose ack arrives here
		select {
		case c.events <- msg:
		case <-c.closed:
		default:
			b.logger.Warn("Agent event queue full, rejecting event", "id", msg.ID)
			b.sendError(c, msg.ID, ErrCodeEventRejected, "event queue full")
		}
	}
}

func (b *Bridge) resolve(msg *Message) {
	b.pendingMu.Lock()
	reply, ok := b.pending[msg.ID]
	delete(b.pending, msg.ID)
	b.pendingMu.Unlock()

	if !ok {
		b.logger.Debug("Reply for unknown command", "id", msg.ID, "type", msg.Type)
		return
	}
	reply <- msg
}

func (b *Bridge) handleEvent(c *agentConn, msg *Message) {
	var req types.CaptureRequest
	_ = json.Unmarshal(msg.Payload, &req)

	b.mu.RLock()
	handler := b.onEvent
	b.mu.RUnlock()

	if handler == nil {
		b.logger.Debug("Dropping agent event, no handler", "action_type", req.ActionType)
		return
	}
	if err := handler(context.Background(), req); err != nil {
		b.sendError(c, msg.ID, ErrCodeEventRejected, err.Error())
	}
}

func (b *Bridge) sendError(c *agentConn, id, code, message string) {
	msg, err := NewMessage(id, TypeError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	data, _ := json.Marshal(msg)
	c.enqueue(data)
}

// command sends a command to the agent and waits for its ack
func (b *Bridge) command(ctx context.Context, msgType string, payload any) (*Message, error) {
	c := b.current()
	if c == nil {
		return nil, fmt.Errorf("%s: %w", msgType, ErrAgentNotConnected)
	}

	id := uuid.NewString()
	msg, err := NewMessage(id, msgType, payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msgType, err)
	}

	reply := make(chan *Message, 1)
	b.pendingMu.Lock()
	b.pending[id] = reply
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, b.commandTimeout)
	defer cancel()

	if !c.enqueue(data) {
		return nil, fmt.Errorf("%s: %w", msgType, ErrAgentDisconnected)
	}

	select {
	case r := <-reply:
		if r.Type == TypeError {
			var p ErrorPayload
			_ = json.Unmarshal(r.Payload, &p)
			return nil, &AgentError{Command: msgType, Code: p.Code, Message: p.Message}
		}
		return r, nil
	case <-c.closed:
		return nil, fmt.Errorf("%s: %w", msgType, ErrAgentDisconnected)
	case <-ctx.Done():
		return nil, fmt.Errorf("agent %s not acknowledged: %w", msgType, ctx.Err())
	}
}

func (b *Bridge) notify(msgType string, payload any) {
	c := b.current()
	if c == nil {
		return
	}
	msg, err := NewMessage("", msgType, payload)
	if err != nil {
		b.logger.Error("Failed to build notification", "type", msgType, "error", err)
		return
	}
	data, _ := json.Marshal(msg)
	if !c.enqueue(data) {
		b.logger.Debug("Notification dropped", "type", msgType)
	}
}

// Capture asks the agent for a screenshot of the interaction
func (b *Bridge) Capture(ctx context.Context, req types.CaptureRequest) ([]byte, error) {
	r, err := b.command(ctx, TypeCapture, req)
	if err != nil {
		return nil, err
	}

	var result CaptureResultPayload
	if err := json.Unmarshal(r.Payload, &result); err != nil {
		return nil, fmt.Errorf("invalid capture result: %w", err)
	}
	if result.Image == "" {
		return nil, errors.New("capture result has no image")
	}
	image, err := ingest.DecodeImage(result.Image)
	if err != nil {
		return nil, fmt.Errorf("invalid capture image: %w", err)
	}
	return image, nil
}

// Pause pauses the page media stream
func (b *Bridge) Pause(ctx context.Context) error {
	_, err := b.command(ctx, TypeMediaPause, nil)
	return err
}

// Resume resumes the page media stream
func (b *Bridge) Resume(ctx context.Context) error {
	_, err := b.command(ctx, TypeMediaResume, nil)
	return err
}

// InjectStatusUI shows the in-page pause UI
func (b *Bridge) InjectStatusUI(ctx context.Context) error {
	_, err := b.command(ctx, TypeUIInject, nil)
	return err
}

// RemoveStatusUI removes the in-page pause UI
func (b *Bridge) RemoveStatusUI(ctx context.Context) error {
	_, err := b.command(ctx, TypeUIRemove, nil)
	return err
}

// Attach arms the in-page interaction listeners
func (b *Bridge) Attach(ctx context.Context) error {
	_, err := b.command(ctx, TypeListenersAttach, nil)
	return err
}

// Detach disarms the in-page interaction listeners
func (b *Bridge) Detach(ctx context.Context) error {
	_, err := b.command(ctx, TypeListenersDetach, nil)
	return err
}

// PublishBadge pushes the badge for a session state. Its signature matches session.Observer.
func (b *Bridge) PublishBadge(session types.Session, badge types.Badge) {
	b.notify(TypeBadgeUpdate, BadgePayload{
		SessionID: session.ID,
		Status:    session.Status,
		StepCount: session.StepCount,
		Color:     badge.Color,
		Text:      badge.Text,
	})
}

// UploadWarning pushes a permanent upload failure to the agent
func (b *Bridge) UploadWarning(ctx context.Context, w upload.Warning) {
	b.notify(TypeUploadWarning, WarningPayload{
		SessionID:    w.SessionID,
		OrderIndexes: w.OrderIndexes,
		Message:      w.Message,
	})
}
