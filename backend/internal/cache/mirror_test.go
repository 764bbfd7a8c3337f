package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collabboard/backend/internal/protocol"
)

// memoryPresence is a PresenceCache kept in a map.
type memoryPresence struct {
	mu      sync.Mutex
	members map[string]map[string]Member
	adds    int
	removes int
	sweeps  int
}

func newMemoryPresence() *memoryPresence {
	return &memoryPresence{members: make(map[string]map[string]Member)}
}

func (p *memoryPresence) AddMember(_ context.Context, boardID string, m Member, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.members[boardID] == nil {
		p.members[boardID] = make(map[string]Member)
	}
	p.members[boardID][m.UserID] = m
	p.adds++
	return nil
}

func (p *memoryPresence) RemoveMember(_ context.Context, boardID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members[boardID], userID)
	p.removes++
	return nil
}

func (p *memoryPresence) GetAliveMembers(_ context.Context, boardID string) ([]Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Member
	for _, m := range p.members[boardID] {
		out = append(out, m)
	}
	return out, nil
}

func (p *memoryPresence) CountAlive(_ context.Context, boardIDs []string) (map[string]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int64)
	for _, id := range boardIDs {
		out[id] = int64(len(p.members[id]))
	}
	return out, nil
}

func (p *memoryPresence) ClearBoard(_ context.Context, boardID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members, boardID)
	return nil
}

func (p *memoryPresence) Sweep(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweeps++
	return 0, nil
}

func (p *memoryPresence) calls() (adds, removes, sweeps int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adds, p.removes, p.sweeps
}

func (p *memoryPresence) count(boardID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members[boardID])
}

func (p *memoryPresence) addCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adds
}

func TestMirrorFollowsPresence(t *testing.T) {
	store := newMemoryPresence()
	mock := clock.NewMock()
	m := NewPresenceMirror(store, MirrorOptions{TTL: time.Minute, Clock: mock}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.PresenceChanged("b1", protocol.Presence{UserID: "u1", Name: "Ann", Online: true})
	m.PresenceChanged("b1", protocol.Presence{UserID: "u2", Name: "Bo", Online: true})
	require.Eventually(t, func() bool { return store.count("b1") == 2 }, time.Second, 5*time.Millisecond)

	m.PresenceChanged("b1", protocol.Presence{UserID: "u1", Online: false})
	require.Eventually(t, func() bool { return store.count("b1") == 1 }, time.Second, 5*time.Millisecond)
}

func TestMirrorRefreshesOnlineMembers(t *testing.T) {
	store := newMemoryPresence()
	mock := clock.NewMock()
	m := NewPresenceMirror(store, MirrorOptions{TTL: time.Minute, Clock: mock}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.PresenceChanged("b1", protocol.Presence{UserID: "u1", Online: true})
	require.Eventually(t, func() bool { return store.addCalls() == 1 }, time.Second, 5*time.Millisecond)

	mock.Add(30 * time.Second)
	assert.Eventually(t, func() bool { return store.addCalls() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestMirrorKeepsLeaveQueuedBeforeRun(t *testing.T) {
	store := newMemoryPresence()
	mock := clock.NewMock()
	m := NewPresenceMirror(store, MirrorOptions{TTL: time.Minute, Clock: mock}, zap.NewNop())

	m.PresenceChanged("b1", protocol.Presence{UserID: "u1", Online: true})
	m.PresenceChanged("b1", protocol.Presence{UserID: "u1", Online: false})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		_, removes, _ := store.calls()
		return removes == 1
	}, time.Second, 5*time.Millisecond)

	for i := 1; i <= 5; i++ {
		mock.Add(30 * time.Second)
		require.Eventually(t, func() bool {
			_, _, sweeps := store.calls()
			return sweeps >= i
		}, time.Second, 5*time.Millisecond)
	}

	adds, _, _ := store.calls()
	assert.Zero(t, adds, "a member that left must not be refreshed")
	assert.Zero(t, store.count("b1"))
}

func TestMirrorAppliesBurstOfUpdates(t *testing.T) {
	store := newMemoryPresence()
	m := NewPresenceMirror(store, MirrorOptions{TTL: time.Minute, Clock: clock.NewMock()}, zap.NewNop())

	const users = 5000
	for i := 0; i < users; i++ {
		m.PresenceChanged("b1", protocol.Presence{UserID: fmt.Sprintf("u%d", i), Online: true})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool { return store.count("b1") == users }, 2*time.Second, 5*time.Millisecond)
}
