package client

import (
	"net/url"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"collabboard/backend/internal/board"
	"collabboard/backend/internal/protocol"
)

type Options struct {
	// BaseURL is the websocket endpoint prefix, e.g. ws://localhost:8080/ws
	BaseURL  string
	Identity protocol.Join
	Dialer   Dialer

	Backoff        time.Duration
	CursorInterval time.Duration
	Clock          clock.Clock
	Logger         *zap.Logger

	OnEvent func(protocol.Message)
	OnState func(State)
}

// Client joins one board at a time and keeps a Mirror of it in sync.
type Client struct {
	opts      Options
	mirror    *Mirror
	transport *Transport
	cursor    *CursorThrottle
	logger    *zap.Logger
}

func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Identity.Color == "" {
		opts.Identity.Color = protocol.AssignColor(opts.Identity.UserID)
	}

	c := &Client{opts: opts, logger: opts.Logger}
	c.transport = NewTransport(opts.Dialer, TransportOptions{
		Backoff: opts.Backoff,
		Clock:   opts.Clock,
		Logger:  opts.Logger,
		Hello:   func() ([]byte, error) { return protocol.Encode(opts.Identity) },
		OnMessage: func(data []byte) {
			if err := c.mirror.HandleFrame(data); err != nil {
				c.logger.Warn("bad frame from relay", zap.Error(err))
			}
		},
		OnState: opts.OnState,
	})
	c.mirror = NewMirror(opts.Identity, c.transport.Send, opts.Logger)
	c.mirror.OnEvent = opts.OnEvent
	c.cursor = NewCursorThrottle(opts.CursorInterval, opts.Clock, c.sendCursor)
	return c
}

// BoardURL joins the base URL and a board id.
func BoardURL(base, boardID string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(boardID)
}

func (c *Client) Connect(boardID string) {
	c.mirror.Reset()
	c.transport.Connect(BoardURL(c.opts.BaseURL, boardID))
}

func (c *Client) Disconnect() {
	c.cursor.Stop()
	c.transport.Disconnect()
}

// Apply makes a local change. It stays applied locally even when the
// returned error says it could not be sent.
func (c *Client) Apply(m board.Mutation) error {
	return c.mirror.ApplyLocal(m)
}

func (c *Client) MoveCursor(x, y float64) {
	c.cursor.Move(x, y)
}

func (c *Client) Mirror() *Mirror { return c.mirror }

func (c *Client) State() State { return c.transport.State() }

func (c *Client) sendCursor(x, y float64) {
	id := c.opts.Identity
	frame, err := protocol.Encode(protocol.CursorMessage{Cursor: protocol.Cursor{
		UserID: id.UserID, Name: id.Name, Color: id.Color, X: x, Y: y,
	}})
	if err != nil {
		return
	}
	// cursors are hints; a frame lost while disconnected does not matter
	_ = c.transport.Send(frame)
}
