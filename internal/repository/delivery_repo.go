package repository

import (
	"context"
	"errors"
	"time"

	"github.com/notifykit/fanout/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeliveryRepository persists per-(notification, user, channel) delivery
// status. The dedupe triple is unique; upserts on it are conflict-safe.
type DeliveryRepository interface {
	UpsertQueued(ctx context.Context, records []*domain.DeliveryRecord) error
	MarkSent(ctx context.Context, notificationID, userID string, channel domain.Channel, sentAt time.Time) error
	MarkSkipped(ctx context.Context, notificationID, userID string, channel domain.Channel, reason string) error
	MarkFailed(ctx context.Context, notificationID, userID string, channel domain.Channel, errMsg string) error
	GetStatus(ctx context.Context, notificationID, userID string, channel domain.Channel) (domain.DeliveryStatus, error)
	ListByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryRecord, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

// UpsertQueued inserts QUEUED rows for each record, ignoring rows whose
// dedupe key already exists. Re-enqueuing an existing pair is a no-op.
func (r *GormDeliveryRepo) UpsertQueued(ctx context.Context, records []*domain.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}

	models := make([]DeliveryModel, 0, len(records))
	for _, record := range records {
		model := deliveryModelFromDomain(record)
		if model == nil {
			continue
		}
		model.Status = domain.DeliveryQueued
		models = append(models, *model)
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "notification_id"},
				{Name: "user_id"},
				{Name: "channel"},
			},
			DoNothing: true,
		}).
		Create(&models).Error
}

// MarkSent records a successful send. SENT is terminal, so overwriting an
// already-sent row with SENT again is safe and idempotent.
func (r *GormDeliveryRepo) MarkSent(ctx context.Context, notificationID, userID string, channel domain.Channel, sentAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("notification_id = ? AND user_id = ? AND channel = ?", notificationID, userID, channel).
		Updates(map[string]any{
			"status":  domain.DeliverySent,
			"sent_at": sentAt,
			"error":   nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkSkipped never downgrades a SENT row.
func (r *GormDeliveryRepo) MarkSkipped(ctx context.Context, notificationID, userID string, channel domain.Channel, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("notification_id = ? AND user_id = ? AND channel = ? AND status <> ?",
			notificationID, userID, channel, domain.DeliverySent).
		Updates(map[string]any{
			"status": domain.DeliverySkipped,
			"error":  nullableString(reason),
		})
	return result.Error
}

// MarkFailed only touches rows still QUEUED; sent and skipped outcomes stand.
func (r *GormDeliveryRepo) MarkFailed(ctx context.Context, notificationID, userID string, channel domain.Channel, errMsg string) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("notification_id = ? AND user_id = ? AND channel = ? AND status = ?",
			notificationID, userID, channel, domain.DeliveryQueued).
		Updates(map[string]any{
			"status": domain.DeliveryFailed,
			"error":  nullableString(errMsg),
		})
	return result.Error
}

func (r *GormDeliveryRepo) GetStatus(ctx context.Context, notificationID, userID string, channel domain.Channel) (domain.DeliveryStatus, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).
		Select("status").
		Where("notification_id = ? AND user_id = ? AND channel = ?", notificationID, userID, channel).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return model.Status, nil
}

func (r *GormDeliveryRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryRecord, error) {
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("user_id ASC, channel ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.DeliveryRecord, 0, len(models))
	for i := range models {
		records = append(records, *deliveryModelToDomain(&models[i]))
	}
	return records, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
