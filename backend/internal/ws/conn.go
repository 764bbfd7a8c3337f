package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabboard/backend/internal/board"
	"collabboard/backend/internal/protocol"
	"collabboard/backend/internal/room"
)

var (
	ErrSendQueueFull = errors.New("send queue full")
	ErrConnClosed    = errors.New("connection closed")
)

// State of a board connection.
type State int

const (
	StateConnecting State = iota // open, no identity yet
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is one session: a read loop that feeds the room and a write loop
// that drains a bounded send queue.
type Conn struct {
	id       string
	boardID  string
	ws       *websocket.Conn
	registry *room.Registry
	opts     Options
	logger   *zap.Logger

	mu         sync.Mutex
	state      State
	room       *room.Room
	userID     string
	send       chan []byte
	overflowed bool
}

func newConn(id, boardID string, ws *websocket.Conn, registry *room.Registry, opts Options, logger *zap.Logger) *Conn {
	return &Conn{
		id:       id,
		boardID:  boardID,
		ws:       ws,
		registry: registry,
		opts:     opts,
		logger:   logger.With(zap.String("board", boardID), zap.String("session", id)),
		send:     make(chan []byte, opts.SendQueue),
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send queues payload for the write loop without blocking. It implements
// room.Recipient. A full queue means the client has already missed a frame,
// so the connection is dropped and the client rejoins to a fresh Welcome.
func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrConnClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
	}
	if !c.overflowed {
		c.overflowed = true
		c.logger.Warn("send queue full, dropping connection", zap.String("user", c.userID))
		_ = c.ws.Close()
	}
	return ErrSendQueueFull
}

// Close ends the connection from the server side, as when its board is
// deleted. The read loop then runs the normal cleanup.
func (c *Conn) Close() error {
	deadline := time.Now().Add(c.opts.WriteWait)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "board closed"), deadline)
	return c.ws.Close()
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.finish()

	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Info("connection lost", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		c.handle(ctx, data)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle processes one inbound frame. Nothing that goes wrong here may take
// the connection, the room or the process down.
func (c *Conn) handle(ctx context.Context, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("panic while handling frame", zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()

	msg, err := protocol.Decode(data)
	switch {
	case errors.Is(err, protocol.ErrUnknownType), errors.Is(err, board.ErrUnknownMutation):
		c.logger.Debug("ignored frame", zap.Error(err))
		return
	case err != nil:
		c.logger.Warn("dropped malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}

	switch m := msg.(type) {
	case protocol.Join:
		c.join(ctx, m)

	case protocol.CursorMessage:
		r := c.joinedRoom()
		if r == nil {
			return
		}
		if err := r.RelayCursor(c.id, data); err != nil {
			c.logger.Debug("cursor not relayed", zap.Error(err))
		}

	case protocol.Action:
		r := c.joinedRoom()
		if r == nil {
			c.logger.Debug("action before join dropped")
			return
		}
		if b, ok := m.Mutation.(board.Batch); ok && b.Skipped > 0 {
			c.logger.Debug("batch entries ignored", zap.Int("skipped", b.Skipped))
		}
		if _, err := r.Commit(m, data, c.id); err != nil {
			c.logger.Debug("action not committed", zap.Error(err))
		}

	default:
		c.logger.Debug("ignored server-side frame", zap.String("type", string(msg.MessageType())))
	}
}

func (c *Conn) join(ctx context.Context, m protocol.Join) {
	if c.State() != StateConnecting {
		c.logger.Debug("repeated join ignored", zap.String("user", m.UserID))
		return
	}
	if m.Color == "" {
		m.Color = protocol.AssignColor(m.UserID)
	}

	openCtx, cancel := context.WithTimeout(ctx, c.opts.JoinTimeout)
	defer cancel()
	r, err := c.registry.Open(openCtx, c.boardID)
	if err != nil {
		c.logger.Error("open room", zap.Error(err))
		_ = c.Close()
		return
	}

	// publish the joined state first so frames queued by Join are accepted
	c.mu.Lock()
	c.state = StateJoined
	c.room = r
	c.userID = m.UserID
	c.mu.Unlock()

	if err := r.Join(c.id, m, c); err != nil {
		c.logger.Warn("join rejected", zap.Error(err))
		c.mu.Lock()
		c.state = StateConnecting
		c.room = nil
		c.mu.Unlock()
		_ = c.Close()
		return
	}
	c.logger.Info("session joined", zap.String("user", m.UserID))
}

func (c *Conn) joinedRoom() *room.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateJoined {
		return nil
	}
	return c.room
}

// finish runs once the read loop ends: the session leaves its room and the
// write loop is told to stop.
func (c *Conn) finish() {
	c.mu.Lock()
	r := c.room
	c.state = StateClosed
	close(c.send)
	c.mu.Unlock()

	if r != nil {
		if r.Leave(c.id) {
			c.logger.Info("user left", zap.String("user", c.userID))
		}
	}
}
