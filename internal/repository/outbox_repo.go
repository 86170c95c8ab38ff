package repository

import (
	"context"
	"errors"
	"time"

	"github.com/notifykit/fanout/internal/domain"
	"gorm.io/gorm"
)

// OutboxRepository persists the durable fan-out work queue. PROCESSING acts
// as a lease; every transition into or out of it is a conditional update so
// concurrent workers cannot double-claim an entry.
type OutboxRepository interface {
	Create(ctx context.Context, e *domain.OutboxEntry) error
	GetByID(ctx context.Context, id string) (*domain.OutboxEntry, error)
	Claim(ctx context.Context, id string, now time.Time) (*domain.OutboxEntry, error)
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEntry, error)
	MarkSent(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	ReclaimStuck(ctx context.Context, stuckBefore time.Time) (int64, error)
}

type GormOutboxRepo struct {
	db *gorm.DB
}

func NewGormOutboxRepo(db *gorm.DB) *GormOutboxRepo {
	return &GormOutboxRepo{db: db}
}

func (r *GormOutboxRepo) Create(ctx context.Context, e *domain.OutboxEntry) error {
	model := outboxModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *outboxModelToDomain(model)
	}
	return nil
}

func (r *GormOutboxRepo) GetByID(ctx context.Context, id string) (*domain.OutboxEntry, error) {
	var model OutboxModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return outboxModelToDomain(&model), nil
}

// Claim attempts the PENDING -> PROCESSING lease transition for one entry.
// Returns nil without error when the entry is not claimable (already leased,
// terminal, or not yet due): callers treat that as "someone else owns it".
func (r *GormOutboxRepo) Claim(ctx context.Context, id string, now time.Time) (*domain.OutboxEntry, error) {
	result := r.db.WithContext(ctx).
		Model(&OutboxModel{}).
		Where("id = ? AND status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			id, domain.OutboxPending, now).
		Update("status", domain.OutboxProcessing)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	return r.GetByID(ctx, id)
}

// ClaimDue scans for due pending entries and claims each via the conditional
// update, so two concurrent sweeps never return the same entry.
func (r *GormOutboxRepo) ClaimDue(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var candidates []OutboxModel
	err := r.db.WithContext(ctx).
		Select("id").
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", domain.OutboxPending, now).
		Order("next_attempt_at ASC NULLS FIRST, created_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]domain.OutboxEntry, 0, len(candidates))
	for i := range candidates {
		entry, err := r.Claim(ctx, candidates[i].ID, now)
		if err != nil {
			return claimed, err
		}
		if entry == nil {
			continue
		}
		claimed = append(claimed, *entry)
	}

	return claimed, nil
}

func (r *GormOutboxRepo) MarkSent(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&OutboxModel{}).
		Where("id = ? AND status = ?", id, domain.OutboxProcessing).
		Updates(map[string]any{
			"status":     domain.OutboxSent,
			"last_error": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// Reschedule releases the lease back to PENDING with an incremented attempt
// count; the next scheduler sweep reclaims the entry once due.
func (r *GormOutboxRepo) Reschedule(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error {
	result := r.db.WithContext(ctx).
		Model(&OutboxModel{}).
		Where("id = ? AND status = ?", id, domain.OutboxProcessing).
		Updates(map[string]any{
			"status":          domain.OutboxPending,
			"attempts":        gorm.Expr("attempts + 1"),
			"next_attempt_at": nextAttemptAt,
			"last_error":      nullableString(lastError),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormOutboxRepo) MarkFailed(ctx context.Context, id string, lastError string) error {
	result := r.db.WithContext(ctx).
		Model(&OutboxModel{}).
		Where("id = ? AND status = ?", id, domain.OutboxProcessing).
		Updates(map[string]any{
			"status":     domain.OutboxFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": nullableString(lastError),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ReclaimStuck returns entries held in PROCESSING past the visibility
// timeout to PENDING so the next sweep can retry them.
func (r *GormOutboxRepo) ReclaimStuck(ctx context.Context, stuckBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&OutboxModel{}).
		Where("status = ? AND updated_at < ?", domain.OutboxProcessing, stuckBefore).
		Update("status", domain.OutboxPending)
	return result.RowsAffected, result.Error
}
