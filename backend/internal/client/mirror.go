package client

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"collabboard/backend/internal/board"
	"collabboard/backend/internal/protocol"
)

// Mirror is the client-side copy of a board.
//
// Local mutations are applied before they are sent and never rolled back.
// Remote actions are applied as they arrive. A Welcome or Sync replaces the
// whole object map, so whatever was applied locally while the relay could
// not hear it disappears at that point.
type Mirror struct {
	self   protocol.Join
	send   func([]byte) error
	logger *zap.Logger

	mu      sync.RWMutex
	store   *board.Store
	users   map[string]protocol.Presence
	cursors map[string]protocol.Cursor

	// OnEvent, when set, sees every handled message after it is applied.
	OnEvent func(protocol.Message)
}

func NewMirror(self protocol.Join, send func([]byte) error, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		self:    self,
		send:    send,
		logger:  logger,
		store:   board.NewStore(),
		users:   make(map[string]protocol.Presence),
		cursors: make(map[string]protocol.Cursor),
	}
}

func (m *Mirror) Self() protocol.Join { return m.self }

// ApplyLocal applies mut right away and forwards it to the relay. The local
// change stays even when sending fails.
func (m *Mirror) ApplyLocal(mut board.Mutation) error {
	m.mu.Lock()
	m.store.Apply(mut)
	m.mu.Unlock()

	frame, err := protocol.Encode(protocol.Action{Mutation: mut, UserID: m.self.UserID})
	if err != nil {
		return err
	}
	return m.send(frame)
}

// ApplyRemote applies a mutation authored elsewhere.
func (m *Mirror) ApplyRemote(mut board.Mutation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store.Apply(mut)
}

// HandleFrame decodes and applies one frame from the relay. Unknown frames
// are skipped.
func (m *Mirror) HandleFrame(data []byte) error {
	msg, err := protocol.Decode(data)
	if errors.Is(err, protocol.ErrUnknownType) || errors.Is(err, board.ErrUnknownMutation) {
		m.logger.Debug("ignored frame", zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	m.Handle(msg)
	return nil
}

func (m *Mirror) Handle(msg protocol.Message) {
	m.mu.Lock()
	switch v := msg.(type) {
	case protocol.Welcome:
		m.store.Replace(v.Objects)
		m.users = make(map[string]protocol.Presence, len(v.Users))
		for _, p := range v.Users {
			m.users[p.UserID] = p
		}
		m.cursors = make(map[string]protocol.Cursor)
	case protocol.Sync:
		m.store.Replace(v.Objects)
	case protocol.Join:
		m.users[v.UserID] = protocol.Presence{UserID: v.UserID, Name: v.Name, Color: v.Color, Online: true}
	case protocol.Leave:
		delete(m.users, v.UserID)
		delete(m.cursors, v.UserID)
	case protocol.CursorMessage:
		if v.Cursor.UserID != m.self.UserID {
			m.cursors[v.Cursor.UserID] = v.Cursor
		}
	case protocol.Action:
		m.store.Apply(v.Mutation)
	}
	m.mu.Unlock()

	if m.OnEvent != nil {
		m.OnEvent(msg)
	}
}

// Reset empties the mirror, used when switching boards.
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = board.NewStore()
	m.users = make(map[string]protocol.Presence)
	m.cursors = make(map[string]protocol.Cursor)
}

func (m *Mirror) Objects() map[string]board.Object {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Snapshot()
}

func (m *Mirror) Object(id string) (board.Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Get(id)
}

// NextZ is the zIndex for an object created now.
func (m *Mirror) NextZ() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return board.NextZ(m.store)
}

func (m *Mirror) Users() []protocol.Presence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.Presence, 0, len(m.users))
	for _, p := range m.users {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (m *Mirror) Cursors() map[string]protocol.Cursor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]protocol.Cursor, len(m.cursors))
	for k, v := range m.cursors {
		out[k] = v
	}
	return out
}
