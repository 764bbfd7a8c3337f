package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"collabboard/backend/internal/board"
)

var ErrNoSnapshot = errors.New("no snapshot")

type Snapshot struct {
	BoardID   string
	Revision  uint64
	Objects   map[string]board.Object
	CreatedAt time.Time
}

// SnapshotStore keeps point-in-time copies of board objects. It is the
// only state that outlives a restart.
type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// SaveSnapshot stores objects at revision. Saving the same revision twice is
// not an error.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, boardID string, rev uint64, objects map[string]board.Object) error {
	content, err := json.Marshal(objects)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO board_snapshots (board_id, revision, content) VALUES (?, ?, ?)`,
		boardID,
		rev,
		content,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return err
	}
	return nil
}

func (s *SnapshotStore) LatestSnapshot(ctx context.Context, boardID string) (Snapshot, error) {
	var (
		snap    = Snapshot{BoardID: boardID}
		content []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT revision, content, created_at FROM board_snapshots
		WHERE board_id = ? ORDER BY revision DESC LIMIT 1`,
		boardID,
	).Scan(&snap.Revision, &content, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, err
	}
	if err := json.Unmarshal(content, &snap.Objects); err != nil {
		return Snapshot{}, err
	}
	if snap.Objects == nil {
		snap.Objects = map[string]board.Object{}
	}
	return snap, nil
}

// LoadSnapshot implements room.SnapshotLoader.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, boardID string) (map[string]board.Object, uint64, error) {
	snap, err := s.LatestSnapshot(ctx, boardID)
	if errors.Is(err, ErrNoSnapshot) {
		return map[string]board.Object{}, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return snap.Objects, snap.Revision, nil
}

func (s *SnapshotStore) DeleteSnapshots(ctx context.Context, boardID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM board_snapshots WHERE board_id = ?`, boardID)
	return err
}
