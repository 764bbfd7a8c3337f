package cache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"collabboard/backend/internal/protocol"
)

type presenceUpdate struct {
	boardID string
	p       protocol.Presence
}

type memberKey struct{ boardID, userID string }

// PresenceMirror copies room presence into a PresenceCache from a single
// goroutine. Rooms hand it updates without waiting. Updates are kept per
// member until Run applies them, and a newer update replaces an older one
// for the same member, so nothing is lost while redis is slow.
type PresenceMirror struct {
	cache   PresenceCache
	ttl     time.Duration
	timeout time.Duration
	clock   clock.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[memberKey]presenceUpdate
	wake    chan struct{}

	// owned by Run
	online map[memberKey]Member
}

type MirrorOptions struct {
	TTL time.Duration
	// Timeout bounds each redis call.
	Timeout time.Duration
	Clock   clock.Clock
}

func NewPresenceMirror(c PresenceCache, opt MirrorOptions, logger *zap.Logger) *PresenceMirror {
	if opt.TTL <= 0 {
		opt.TTL = 60 * time.Second
	}
	if opt.Timeout <= 0 {
		opt.Timeout = time.Second
	}
	if opt.Clock == nil {
		opt.Clock = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceMirror{
		cache:   c,
		ttl:     opt.TTL,
		timeout: opt.Timeout,
		clock:   opt.Clock,
		logger:  logger,
		pending: make(map[memberKey]presenceUpdate),
		wake:    make(chan struct{}, 1),
		online:  make(map[memberKey]Member),
	}
}

// PresenceChanged implements room.PresenceObserver.
func (m *PresenceMirror) PresenceChanged(boardID string, p protocol.Presence) {
	m.mu.Lock()
	m.pending[memberKey{boardID, p.UserID}] = presenceUpdate{boardID: boardID, p: p}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run applies updates and refreshes TTLs until ctx is done.
func (m *PresenceMirror) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
			m.drain(ctx)
		case <-ticker.C:
			m.drain(ctx)
			m.refresh(ctx)
		}
	}
}

func (m *PresenceMirror) drain(ctx context.Context) {
	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[memberKey]presenceUpdate, len(batch))
	m.mu.Unlock()

	for _, u := range batch {
		m.apply(ctx, u)
	}
}

func (m *PresenceMirror) apply(ctx context.Context, u presenceUpdate) {
	key := memberKey{u.boardID, u.p.UserID}
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if u.p.Online {
		member := Member{UserID: u.p.UserID, Name: u.p.Name, Color: u.p.Color}
		m.online[key] = member
		if err := m.cache.AddMember(cctx, u.boardID, member, m.ttl); err != nil {
			m.logger.Warn("mirror add member", zap.String("board", u.boardID), zap.Error(err))
		}
		return
	}
	delete(m.online, key)
	if err := m.cache.RemoveMember(cctx, u.boardID, u.p.UserID); err != nil {
		m.logger.Warn("mirror remove member", zap.String("board", u.boardID), zap.Error(err))
	}
}

func (m *PresenceMirror) refresh(ctx context.Context) {
	for key, member := range m.online {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.cache.AddMember(cctx, key.boardID, member, m.ttl)
		cancel()
		if err != nil {
			m.logger.Warn("mirror refresh", zap.String("board", key.boardID), zap.Error(err))
		}
	}

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	dropped, err := m.cache.Sweep(cctx)
	if err != nil {
		m.logger.Warn("mirror sweep", zap.Error(err))
		return
	}
	if dropped > 0 {
		m.logger.Debug("expired presence swept", zap.Int("members", dropped))
	}
}
