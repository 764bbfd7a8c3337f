package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabboard/backend/internal/limiter"
	"collabboard/backend/internal/room"
)

type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendQueue       int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	JoinTimeout     time.Duration
	// AllowedOrigins are prefixes; "*" allows any origin.
	AllowedOrigins []string
}

func DefaultOptions() Options {
	return Options{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		SendQueue:       256,
		MaxMessageSize:  1 << 20,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingInterval:    54 * time.Second,
		JoinTimeout:     5 * time.Second,
		AllowedOrigins:  []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"},
	}
}

// Manager accepts board connections and tracks them until they end.
type Manager struct {
	registry *room.Registry
	upgrader websocket.Upgrader
	opts     Options
	sem      *limiter.SemaphoreControl
	logger   *zap.Logger

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewManager(registry *room.Registry, sem *limiter.SemaphoreControl, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		registry: registry,
		opts:     opts,
		sem:      sem,
		logger:   logger,
		conns:    make(map[*Conn]struct{}),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     m.checkOrigin,
	}
	return m
}

func (m *Manager) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	for _, p := range m.opts.AllowedOrigins {
		if p == "*" || strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}

// WebSocketConnect serves GET /ws/:boardId. It blocks until the connection ends.
func (m *Manager) WebSocketConnect(c *gin.Context) {
	boardID := strings.TrimSpace(c.Param("boardId"))
	if boardID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing board id"})
		return
	}

	if m.sem != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
		err := m.sem.Acquire(ctx)
		cancel()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
			return
		}
		defer m.sem.Release()
	}

	wsConn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade", zap.Error(err), zap.String("origin", c.Request.Header.Get("Origin")))
		return
	}
	defer wsConn.Close()

	conn := newConn(uuid.NewString(), boardID, wsConn, m.registry, m.opts, m.logger)
	m.track(conn)
	defer m.untrack(conn)

	go conn.writeLoop()
	conn.readLoop(context.WithoutCancel(c.Request.Context()))
}

// Close ends every tracked connection, joined or not.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Live returns the number of open connections.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *Manager) track(c *Conn) {
	m.mu.Lock()
	m.conns[c] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) untrack(c *Conn) {
	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()
}
