package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collabboard/backend/internal/cache"
	"collabboard/backend/internal/httpapi/middleware"
	"collabboard/backend/internal/room"
	"collabboard/backend/internal/store"
)

// Rooms is the part of the room registry the hub needs.
type Rooms interface {
	Room(boardID string) (*room.Room, bool)
	DeleteRoom(boardID string) bool
}

type Snapshotter interface {
	SaveRoom(ctx context.Context, r *room.Room) (uint64, error)
	Forget(boardID string)
}

type SnapshotPurger interface {
	DeleteSnapshots(ctx context.Context, boardID string) error
}

// BoardHandler serves the board hub and the per-board admin triggers.
// Everything but repo and rooms may be nil.
type BoardHandler struct {
	repo        store.BoardRepository
	rooms       Rooms
	presence    cache.PresenceCache
	snapshotter Snapshotter
	purger      SnapshotPurger
	logger      *zap.Logger
}

type BoardDeps struct {
	Repo        store.BoardRepository
	Rooms       Rooms
	Presence    cache.PresenceCache
	Snapshotter Snapshotter
	Purger      SnapshotPurger
	Logger      *zap.Logger
}

func NewBoardHandler(d BoardDeps) *BoardHandler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &BoardHandler{
		repo:        d.Repo,
		rooms:       d.Rooms,
		presence:    d.Presence,
		snapshotter: d.Snapshotter,
		purger:      d.Purger,
		logger:      d.Logger,
	}
}

type BoardView struct {
	store.Board
	Online int64 `json:"online"`
}

type createBoardReq struct {
	Name     string `json:"name" binding:"required"`
	IsPublic bool   `json:"isPublic"`
}

type joinBoardReq struct {
	InviteCode string `json:"inviteCode" binding:"required"`
}

func (h *BoardHandler) requireUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return userID, ok
}

func (h *BoardHandler) requireRepo(c *gin.Context) bool {
	if h.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "board hub not configured"})
		return false
	}
	return true
}

// List serves GET /api/boards.
func (h *BoardHandler) List(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok || !h.requireRepo(c) {
		return
	}
	boards, err := h.repo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	online := h.onlineCounts(c.Request.Context(), boards)
	views := make([]BoardView, 0, len(boards))
	for _, b := range boards {
		views = append(views, BoardView{Board: b, Online: online[b.ID]})
	}
	c.JSON(http.StatusOK, gin.H{"boards": views})
}

// onlineCounts prefers the shared presence mirror and falls back to the
// rooms of this process.
func (h *BoardHandler) onlineCounts(ctx context.Context, boards []store.Board) map[string]int64 {
	ids := make([]string, 0, len(boards))
	for _, b := range boards {
		ids = append(ids, b.ID)
	}
	if h.presence != nil && len(ids) > 0 {
		ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		counts, err := h.presence.CountAlive(ctx, ids)
		if err == nil {
			return counts
		}
		h.logger.Warn("presence counts unavailable", zap.Error(err))
	}

	counts := make(map[string]int64, len(ids))
	for _, id := range ids {
		if r, ok := h.rooms.Room(id); ok {
			counts[id] = int64(len(r.Snapshot().Users))
		}
	}
	return counts
}

// Create serves POST /api/boards.
func (h *BoardHandler) Create(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok || !h.requireRepo(c) {
		return
	}
	var req createBoardReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	b := &store.Board{Name: strings.TrimSpace(req.Name), OwnerID: userID, IsPublic: req.IsPublic}
	if err := h.repo.Create(c.Request.Context(), b); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("board created", zap.String("board", b.ID), zap.String("user", userID))
	c.JSON(http.StatusCreated, b)
}

// Join serves POST /api/boards/join.
func (h *BoardHandler) Join(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok || !h.requireRepo(c) {
		return
	}
	var req joinBoardReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "inviteCode is required"})
		return
	}

	b, err := h.repo.JoinByInviteCode(c.Request.Context(), req.InviteCode, userID)
	if errors.Is(err, store.ErrBoardNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid invite code"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, b)
}

// Delete serves DELETE /api/boards/:id. Only the owner may delete; live
// sessions are closed and the room state is discarded.
func (h *BoardHandler) Delete(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok || !h.requireRepo(c) {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	b, err := h.repo.Get(ctx, id)
	if errors.Is(err, store.ErrBoardNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "board not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if b.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the owner can delete a board"})
		return
	}
	if err := h.repo.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrBoardNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	closed := h.rooms.DeleteRoom(id)
	if h.snapshotter != nil {
		h.snapshotter.Forget(id)
	}
	if h.purger != nil {
		if err := h.purger.DeleteSnapshots(ctx, id); err != nil {
			h.logger.Warn("delete snapshots", zap.String("board", id), zap.Error(err))
		}
	}
	if h.presence != nil {
		if err := h.presence.ClearBoard(ctx, id); err != nil {
			h.logger.Warn("clear presence", zap.String("board", id), zap.Error(err))
		}
	}
	h.logger.Info("board deleted", zap.String("board", id), zap.Bool("roomClosed", closed))
	c.JSON(http.StatusOK, gin.H{"deleted": true, "roomClosed": closed})
}

// Members serves GET /api/boards/:id/members: who is online on the board,
// from the shared presence mirror when there is one.
func (h *BoardHandler) Members(c *gin.Context) {
	id := c.Param("id")
	if h.presence != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
		defer cancel()
		members, err := h.presence.GetAliveMembers(ctx, id)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"members": memberViews(members)})
			return
		}
		h.logger.Warn("presence members unavailable", zap.String("board", id), zap.Error(err))
	}

	out := []memberView{}
	if r, ok := h.rooms.Room(id); ok {
		for _, p := range r.Snapshot().Users {
			out = append(out, memberView{UserID: p.UserID, Name: p.Name, Color: p.Color})
		}
	}
	c.JSON(http.StatusOK, gin.H{"members": out})
}

type memberView struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

func memberViews(members []cache.Member) []memberView {
	out := make([]memberView, 0, len(members))
	for _, m := range members {
		out = append(out, memberView{UserID: m.UserID, Name: m.Name, Color: m.Color})
	}
	return out
}

// Snapshot serves POST /api/boards/:id/snapshot.
func (h *BoardHandler) Snapshot(c *gin.Context) {
	if h.snapshotter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshots not configured"})
		return
	}
	r, ok := h.rooms.Room(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "board is not live"})
		return
	}
	rev, err := h.snapshotter.SaveRoom(c.Request.Context(), r)
	if errors.Is(err, room.ErrRoomClosed) {
		c.JSON(http.StatusNotFound, gin.H{"error": "board is not live"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revision": rev})
}

// Resync serves POST /api/boards/:id/resync: every session of the live
// room is sent the full object map.
func (h *BoardHandler) Resync(c *gin.Context) {
	r, ok := h.rooms.Room(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "board is not live"})
		return
	}
	if err := r.Resync(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": r.Sessions()})
}
