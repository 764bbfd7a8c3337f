package store

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"collabboard/backend/internal/board"
	"collabboard/backend/internal/room"
)

type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, boardID string, rev uint64, objects map[string]board.Object) error
}

type RoomSource interface {
	Rooms() []*room.Room
}

// Snapshotter periodically copies every room whose revision moved since its
// last save into the snapshot store.
type Snapshotter struct {
	rooms    RoomSource
	saver    SnapshotSaver
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	mu    sync.Mutex
	saved map[string]uint64
}

func NewSnapshotter(rooms RoomSource, saver SnapshotSaver, interval time.Duration, clk clock.Clock, logger *zap.Logger) *Snapshotter {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{
		rooms:    rooms,
		saver:    saver,
		interval: interval,
		clock:    clk,
		logger:   logger,
		saved:    make(map[string]uint64),
	}
}

// Run saves on every tick until ctx is done, then makes one last pass.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.SaveAll(final)
			cancel()
			return
		case <-ticker.C:
			s.SaveAll(ctx)
		}
	}
}

// SaveAll returns how many rooms were written.
func (s *Snapshotter) SaveAll(ctx context.Context) int {
	n := 0
	for _, r := range s.rooms.Rooms() {
		saved, err := s.save(ctx, r, false)
		if err != nil {
			s.logger.Warn("snapshot failed", zap.String("board", r.ID()), zap.Error(err))
			continue
		}
		if saved {
			n++
		}
	}
	return n
}

// SaveRoom writes r now, even if nothing changed since the last save.
// A room that was shut down is not written.
func (s *Snapshotter) SaveRoom(ctx context.Context, r *room.Room) (uint64, error) {
	saved, err := s.save(ctx, r, true)
	if err != nil {
		return 0, err
	}
	if !saved {
		return 0, room.ErrRoomClosed
	}
	return s.lastSaved(r.ID()), nil
}

// Forget drops bookkeeping for a deleted board.
func (s *Snapshotter) Forget(boardID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, boardID)
}

func (s *Snapshotter) save(ctx context.Context, r *room.Room, force bool) (bool, error) {
	snap := r.Snapshot()
	// a deleted board must not be written back after its snapshots were purged
	if snap.Closed {
		return false, nil
	}
	last := s.lastSaved(r.ID())
	if !force && (snap.Revision == 0 || snap.Revision <= last) {
		return false, nil
	}
	if err := s.saver.SaveSnapshot(ctx, r.ID(), snap.Revision, snap.Objects); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.saved[r.ID()] = snap.Revision
	s.mu.Unlock()
	return true, nil
}

func (s *Snapshotter) lastSaved(boardID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[boardID]
}
