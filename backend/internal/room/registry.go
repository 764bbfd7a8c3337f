package room

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"collabboard/backend/internal/board"
)

// SnapshotLoader returns the last externally stored state of a board.
// A board that was never stored yields an empty map and revision 0.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, boardID string) (map[string]board.Object, uint64, error)
}

// Registry owns every live room. It is built once at startup and handed to
// whatever needs to reach a room.
type Registry struct {
	logger   *zap.Logger
	loader   SnapshotLoader
	actions  ActionObserver
	presence PresenceObserver

	sf singleflight.Group

	mu    sync.RWMutex
	rooms map[string]*Room
}

type Option func(*Registry)

func WithLogger(l *zap.Logger) Option { return func(g *Registry) { g.logger = l } }

// WithSnapshotLoader seeds rooms opened through Open.
func WithSnapshotLoader(l SnapshotLoader) Option { return func(g *Registry) { g.loader = l } }

func WithActionObserver(o ActionObserver) Option { return func(g *Registry) { g.actions = o } }

func WithPresenceObserver(o PresenceObserver) Option { return func(g *Registry) { g.presence = o } }

func NewRegistry(opts ...Option) *Registry {
	g := &Registry{logger: zap.NewNop(), rooms: make(map[string]*Room)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GetOrCreateRoom returns the room for boardID, creating an empty one.
func (g *Registry) GetOrCreateRoom(boardID string) *Room {
	g.mu.RLock()
	r, ok := g.rooms[boardID]
	g.mu.RUnlock()
	if ok {
		return r
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[boardID]; ok {
		return r
	}
	r = newRoom(boardID, g.logger, g.actions, g.presence)
	g.rooms[boardID] = r
	return r
}

// Open is GetOrCreateRoom for the connection path: a room that does not
// exist yet is seeded from the snapshot loader, once, however many sessions
// race to open it.
func (g *Registry) Open(ctx context.Context, boardID string) (*Room, error) {
	if r, ok := g.Room(boardID); ok {
		return r, nil
	}
	if g.loader == nil {
		return g.GetOrCreateRoom(boardID), nil
	}

	v, err, _ := g.sf.Do(boardID, func() (any, error) {
		if r, ok := g.Room(boardID); ok {
			return r, nil
		}
		objects, revision, err := g.loader.LoadSnapshot(ctx, boardID)
		if err != nil {
			return nil, fmt.Errorf("load snapshot %s: %w", boardID, err)
		}

		g.mu.Lock()
		defer g.mu.Unlock()
		if r, ok := g.rooms[boardID]; ok {
			return r, nil
		}
		r := newRoom(boardID, g.logger, g.actions, g.presence)
		r.seed(objects, revision)
		g.rooms[boardID] = r
		if len(objects) > 0 {
			g.logger.Info("room seeded from snapshot",
				zap.String("board", boardID), zap.Int("objects", len(objects)), zap.Uint64("revision", revision))
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// Room looks up a live room without creating it.
func (g *Registry) Room(boardID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[boardID]
	return r, ok
}

// DeleteRoom force-closes every session of the room and discards its state.
// It reports whether a room existed.
func (g *Registry) DeleteRoom(boardID string) bool {
	g.mu.Lock()
	r, ok := g.rooms[boardID]
	delete(g.rooms, boardID)
	g.mu.Unlock()
	if !ok {
		return false
	}
	r.shutdown()
	g.logger.Info("room deleted", zap.String("board", boardID))
	return true
}

// Broadcast delivers payload to every session of boardID except
// excludeSessionID. Unknown boards are ignored.
func (g *Registry) Broadcast(boardID string, payload []byte, excludeSessionID string) {
	if r, ok := g.Room(boardID); ok {
		r.Broadcast(payload, excludeSessionID)
	}
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Rooms returns the live rooms in no particular order.
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}

// Close shuts every room down.
func (g *Registry) Close() {
	g.mu.Lock()
	rooms := g.rooms
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()
	for _, r := range rooms {
		r.shutdown()
	}
}
