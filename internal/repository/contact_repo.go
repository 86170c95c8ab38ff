package repository

import (
	"context"
	"errors"

	"github.com/notifykit/fanout/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContactRepository resolves the email address on file for a user.
type ContactRepository interface {
	GetEmail(ctx context.Context, userID string) (string, error)
	Save(ctx context.Context, contact *domain.UserContact) error
}

type GormContactRepo struct {
	db *gorm.DB
}

func NewGormContactRepo(db *gorm.DB) *GormContactRepo {
	return &GormContactRepo{db: db}
}

func (r *GormContactRepo) GetEmail(ctx context.Context, userID string) (string, error) {
	var model UserContactModel
	err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return model.Email, nil
}

func (r *GormContactRepo) Save(ctx context.Context, contact *domain.UserContact) error {
	if contact == nil {
		return domain.ErrValidation
	}

	model := UserContactModel{
		UserID:    contact.UserID,
		Email:     contact.Email,
		UpdatedAt: contact.UpdatedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
}
