package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_templates",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Template{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_templates_trigger_identifier ON templates (organization_id, environment_id, trigger_identifier)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Template{})
			},
		},
		{
			ID: "000002_create_subscribers",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Subscriber{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE TABLE IF NOT EXISTS topic_memberships (
					topic_id VARCHAR(64) NOT NULL,
					subscriber_id VARCHAR(64) NOT NULL,
					organization_id VARCHAR(64) NOT NULL,
					environment_id VARCHAR(64) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					PRIMARY KEY (topic_id, subscriber_id, environment_id)
				)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				if err := tx.Exec(`DROP TABLE IF EXISTS topic_memberships`).Error; err != nil {
					return err
				}
				return tx.Migrator().DropTable(&domain.Subscriber{})
			},
		},
		{
			ID: "000003_create_triggers",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Trigger{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_triggers_template_id ON triggers (template_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Trigger{})
			},
		},
		{
			ID: "000004_create_jobs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Job{}); err != nil {
					return err
				}
				indexes := []string{
					// Natural key: one job per (trigger, step, subscriber) tuple.
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_tuple ON jobs (transaction_id, step_index, subscriber_id)`,
					`CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs (scheduled_at) WHERE status = 'PENDING'`,
					`CREATE INDEX IF NOT EXISTS idx_jobs_digest_open ON jobs (digest_key) WHERE status = 'PENDING_DIGEST'`,
					`CREATE INDEX IF NOT EXISTS idx_jobs_retry ON jobs (next_retry_at) WHERE status = 'READY' AND next_retry_at IS NOT NULL`,
					`CREATE INDEX IF NOT EXISTS idx_jobs_transaction ON jobs (transaction_id, status)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Job{})
			},
		},
		{
			ID: "000005_create_job_attempts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.JobAttempt{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_job_attempts_job_id ON job_attempts (job_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.JobAttempt{})
			},
		},
		{
			ID: "000006_create_messages",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Message{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_messages_transaction ON messages (transaction_id, channel)`,
					`CREATE INDEX IF NOT EXISTS idx_messages_subscriber ON messages (subscriber_id, created_at)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Message{})
			},
		},
		{
			ID: "000007_create_provider_credentials",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&domain.ProviderCredential{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.ProviderCredential{})
			},
		},
	})

	return m.Migrate()
}
