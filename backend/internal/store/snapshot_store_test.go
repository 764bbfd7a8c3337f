package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabboard/backend/internal/board"
)

func newMockStore(t *testing.T) (*SnapshotStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSnapshotStore(db), mock
}

func TestSaveSnapshot(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO board_snapshots").
		WithArgs("b1", uint64(4), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.SaveSnapshot(context.Background(), "b1", 4, map[string]board.Object{"a": {ID: "a", Type: board.TypeText}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSnapshotDuplicateIsNotAnError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO board_snapshots").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	assert.NoError(t, s.SaveSnapshot(context.Background(), "b1", 4, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestSnapshot(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("SELECT revision, content, created_at FROM board_snapshots").
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"revision", "content", "created_at"}).
			AddRow(uint64(9), []byte(`{"a":{"id":"a","type":"sticky","x":5}}`), created))

	snap, err := s.LatestSnapshot(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), snap.Revision)
	assert.Equal(t, created, snap.CreatedAt)
	assert.Equal(t, 5.0, snap.Objects["a"].X)
	assert.Equal(t, board.TypeSticky, snap.Objects["a"].Type)
}

func TestLoadSnapshotWithoutRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT revision, content, created_at FROM board_snapshots").
		WithArgs("fresh").
		WillReturnError(sql.ErrNoRows)

	objects, rev, err := s.LoadSnapshot(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Empty(t, objects)
	assert.Zero(t, rev)

	mock.ExpectQuery("SELECT revision").WithArgs("fresh").WillReturnError(sql.ErrNoRows)
	_, err = s.LatestSnapshot(context.Background(), "fresh")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestDeleteSnapshots(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM board_snapshots").WithArgs("b1").WillReturnResult(sqlmock.NewResult(0, 3))
	require.NoError(t, s.DeleteSnapshots(context.Background(), "b1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
