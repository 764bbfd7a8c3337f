package room

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"collabboard/backend/internal/board"
	"collabboard/backend/internal/protocol"
)

var (
	ErrRoomClosed = errors.New("room closed")
	ErrNotJoined  = errors.New("session has not joined")
)

// Recipient is the one thing a room needs from a connection: a send that
// either queues the frame or fails. A failure never affects other recipients.
type Recipient interface {
	Send(payload []byte) error
}

// ActionObserver sees every committed action in commit order.
// It is called with the room locked and must not block.
type ActionObserver interface {
	ActionCommitted(boardID string, revision uint64, userID string, action []byte)
}

// PresenceObserver sees presence going online or offline.
// It is called with the room locked and must not block.
type PresenceObserver interface {
	PresenceChanged(boardID string, p protocol.Presence)
}

// Session binds one connection to a user identity.
type Session struct {
	ID     string
	UserID string
	Name   string
	Color  string

	recipient Recipient
}

// Room is the authoritative state of one board.
// One mutex serializes joins, leaves, cursor relays and commits, so the
// order frames are handed to recipients is the commit order.
type Room struct {
	id     string
	logger *zap.Logger

	actions  ActionObserver
	presence PresenceObserver

	mu       sync.Mutex
	store    *board.Store
	sessions map[string]*Session
	users    map[string]protocol.Presence
	revision uint64
	closed   bool
}

func newRoom(id string, logger *zap.Logger, actions ActionObserver, presence PresenceObserver) *Room {
	return &Room{
		id:       id,
		logger:   logger.With(zap.String("board", id)),
		actions:  actions,
		presence: presence,
		store:    board.NewStore(),
		sessions: make(map[string]*Session),
		users:    make(map[string]protocol.Presence),
	}
}

func (r *Room) ID() string { return r.id }

// Join binds sessionID to who, sends the joiner a Welcome with the complete
// object map and presence list, then tells everyone else about the join.
func (r *Room) Join(sessionID string, who protocol.Join, rcpt Recipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}

	r.sessions[sessionID] = &Session{ID: sessionID, UserID: who.UserID, Name: who.Name, Color: who.Color, recipient: rcpt}
	p := protocol.Presence{UserID: who.UserID, Name: who.Name, Color: who.Color, Online: true}
	r.users[who.UserID] = p

	welcome, err := protocol.Encode(protocol.Welcome{Users: r.usersLocked(), Objects: r.store.Snapshot()})
	if err != nil {
		delete(r.sessions, sessionID)
		return err
	}
	if err := rcpt.Send(welcome); err != nil {
		r.logger.Debug("welcome not delivered", zap.String("session", sessionID), zap.Error(err))
	}

	notice, err := protocol.Encode(who)
	if err != nil {
		return err
	}
	r.broadcastLocked(notice, sessionID)

	if r.presence != nil {
		r.presence.PresenceChanged(r.id, p)
	}
	return nil
}

// Leave drops sessionID. Presence goes away, with a leave notice, only when
// it was the user's last session in the room. It reports whether that happened.
func (r *Room) Leave(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	delete(r.sessions, sessionID)

	for _, other := range r.sessions {
		if other.UserID == s.UserID {
			return false
		}
	}

	p := r.users[s.UserID]
	delete(r.users, s.UserID)
	if notice, err := protocol.Encode(protocol.Leave{UserID: s.UserID}); err == nil {
		r.broadcastLocked(notice, sessionID)
	}
	if r.presence != nil {
		p.Online = false
		r.presence.PresenceChanged(r.id, p)
	}
	return true
}

// RelayCursor forwards a cursor frame as is to everyone but the sender.
func (r *Room) RelayCursor(sessionID string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return ErrNotJoined
	}
	r.broadcastLocked(payload, sessionID)
	return nil
}

// Commit applies the action to the store and hands it to every session but
// excludeSessionID. payload is the frame to relay; when nil it is encoded
// from a. The returned revision counts commits on this room.
func (r *Room) Commit(a protocol.Action, payload []byte, excludeSessionID string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRoomClosed
	}

	if payload == nil {
		var err error
		if payload, err = protocol.Encode(a); err != nil {
			return 0, err
		}
	}

	r.store.Apply(a.Mutation)
	r.revision++
	r.broadcastLocked(payload, excludeSessionID)

	if r.actions != nil {
		r.actions.ActionCommitted(r.id, r.revision, a.UserID, payload)
	}
	return r.revision, nil
}

// Broadcast hands payload to every session except excludeSessionID.
func (r *Room) Broadcast(payload []byte, excludeSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(payload, excludeSessionID)
}

// Resync sends every session the full object map.
func (r *Room) Resync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	payload, err := protocol.Encode(protocol.Sync{Objects: r.store.Snapshot()})
	if err != nil {
		return err
	}
	r.broadcastLocked(payload, "")
	return nil
}

// Snapshot is a consistent copy of the room state.
type Snapshot struct {
	Objects  map[string]board.Object
	Users    []protocol.Presence
	Revision uint64
	Closed   bool
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{Objects: r.store.Snapshot(), Users: r.usersLocked(), Revision: r.revision, Closed: r.closed}
}

func (r *Room) Revision() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revision
}

// Sessions returns the number of live sessions.
func (r *Room) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Ordered returns the objects in paint order.
func (r *Room) Ordered() []board.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Ordered()
}

// seed loads a stored snapshot. Only used before the room is published.
func (r *Room) seed(objects map[string]board.Object, revision uint64) {
	r.store.Apply(board.Seed(objects))
	r.revision = revision
}

// shutdown force-closes every session and discards the state. Connections
// are closed after the room lock is released, since a close may wait on a
// stalled peer.
func (r *Room) shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true

	type closer interface{ Close() error }
	closers := make(map[string]closer, len(r.sessions))
	for id, s := range r.sessions {
		if c, ok := s.recipient.(closer); ok {
			closers[id] = c
		}
	}
	if r.presence != nil {
		for _, p := range r.users {
			p.Online = false
			r.presence.PresenceChanged(r.id, p)
		}
	}
	r.sessions = make(map[string]*Session)
	r.users = make(map[string]protocol.Presence)
	r.store = board.NewStore()
	r.mu.Unlock()

	for id, c := range closers {
		if err := c.Close(); err != nil {
			r.logger.Debug("close session", zap.String("session", id), zap.Error(err))
		}
	}
}

// Closed reports whether the room was shut down.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) broadcastLocked(payload []byte, excludeSessionID string) {
	for id, s := range r.sessions {
		if id == excludeSessionID {
			continue
		}
		if err := s.recipient.Send(payload); err != nil {
			r.logger.Debug("broadcast skipped recipient",
				zap.String("session", id), zap.String("user", s.UserID), zap.Error(err))
		}
	}
}

func (r *Room) usersLocked() []protocol.Presence {
	out := make([]protocol.Presence, 0, len(r.users))
	for _, p := range r.users {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
