package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/notifykit/fanout/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_notifications",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.NotificationModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.NotificationModel{})
			},
		},
		{
			ID: "000002_create_delivery_records",
			Migrate: func(tx *gorm.DB) error {
				// The unique dedupe index on (notification_id, user_id, channel)
				// comes from the model tags; the status index serves the
				// operator listing endpoints.
				if err := tx.AutoMigrate(&repository.DeliveryModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_delivery_notification ON delivery_records (notification_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeliveryModel{})
			},
		},
		{
			ID: "000003_create_outbox_entries",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.OutboxModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox_entries (status, next_attempt_at)`,
					`CREATE INDEX IF NOT EXISTS idx_outbox_notification_user ON outbox_entries (notification_id, user_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.OutboxModel{})
			},
		},
		{
			ID: "000004_create_push_tokens",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.PushTokenModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.PushTokenModel{})
			},
		},
		{
			ID: "000005_create_user_contacts",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.UserContactModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.UserContactModel{})
			},
		},
	})

	return m.Migrate()
}
