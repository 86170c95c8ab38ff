package repository

import (
	"context"
	"errors"

	"github.com/notifykit/fanout/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenRepository maps users to their current push device token.
type TokenRepository interface {
	Get(ctx context.Context, userID string) (*domain.PushToken, error)
	Save(ctx context.Context, token *domain.PushToken) error
	Delete(ctx context.Context, userID string) error
}

type GormTokenRepo struct {
	db *gorm.DB
}

func NewGormTokenRepo(db *gorm.DB) *GormTokenRepo {
	return &GormTokenRepo{db: db}
}

func (r *GormTokenRepo) Get(ctx context.Context, userID string) (*domain.PushToken, error) {
	var model PushTokenModel
	err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &domain.PushToken{
		UserID:    model.UserID,
		Token:     model.Token,
		UpdatedAt: model.UpdatedAt,
	}, nil
}

// Save overwrites any previous token for the user; a device re-registration
// replaces the old token in place.
func (r *GormTokenRepo) Save(ctx context.Context, token *domain.PushToken) error {
	if token == nil {
		return domain.ErrValidation
	}

	model := PushTokenModel{
		UserID:    token.UserID,
		Token:     token.Token,
		UpdatedAt: token.UpdatedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
}

func (r *GormTokenRepo) Delete(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Delete(&PushTokenModel{}, "user_id = ?", userID).Error
}
