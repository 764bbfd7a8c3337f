package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrBoardNotFound = errors.New("board not found")

// Board is the hub record of a board. A room can exist without one.
type Board struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	OwnerID    string    `gorm:"size:64;not null;index" json:"ownerId"`
	InviteCode string    `gorm:"size:16;not null;uniqueIndex" json:"inviteCode"`
	IsPublic   bool      `gorm:"not null;default:false" json:"isPublic"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type BoardMember struct {
	BoardID  string    `gorm:"primaryKey;size:64"`
	UserID   string    `gorm:"primaryKey;size:64;index"`
	JoinedAt time.Time `gorm:"autoCreateTime"`
}

type BoardRepository interface {
	Create(ctx context.Context, b *Board) error
	Get(ctx context.Context, id string) (*Board, error)
	ListForUser(ctx context.Context, userID string) ([]Board, error)
	JoinByInviteCode(ctx context.Context, code, userID string) (*Board, error)
	Delete(ctx context.Context, id string) error
}

type gormBoardRepository struct {
	db *gorm.DB
}

func NewBoardRepository(db *gorm.DB) BoardRepository {
	return &gormBoardRepository{db: db}
}

// NewInviteCode returns a short uppercase code.
func NewInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

func (r *gormBoardRepository) Create(ctx context.Context, b *Board) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.InviteCode == "" {
		b.InviteCode = NewInviteCode()
	}
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *gormBoardRepository) Get(ctx context.Context, id string) (*Board, error) {
	var b Board
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBoardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListForUser returns boards the user owns, joined, or that are public.
func (r *gormBoardRepository) ListForUser(ctx context.Context, userID string) ([]Board, error) {
	var boards []Board
	joined := r.db.Model(&BoardMember{}).Select("board_id").Where("user_id = ?", userID)
	err := r.db.WithContext(ctx).
		Where("owner_id = ? OR is_public = ? OR id IN (?)", userID, true, joined).
		Order("updated_at DESC").
		Find(&boards).Error
	return boards, err
}

func (r *gormBoardRepository) JoinByInviteCode(ctx context.Context, code, userID string) (*Board, error) {
	var b Board
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("invite_code = ?", strings.ToUpper(strings.TrimSpace(code))).First(&b).Error; err != nil {
			return err
		}
		if b.OwnerID == userID {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&BoardMember{BoardID: b.ID, UserID: userID}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBoardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *gormBoardRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("board_id = ?", id).Delete(&BoardMember{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Board{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrBoardNotFound
		}
		return nil
	})
}
