package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TriggerRepository interface {
	// Create persists the trigger; a duplicate transaction id is a no-op
	// reported through the created return value.
	Create(ctx context.Context, trigger *domain.Trigger) (created bool, err error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Trigger, error)
}

type GormTriggerRepo struct {
	db *gorm.DB
}

func NewGormTriggerRepo(db *gorm.DB) *GormTriggerRepo {
	return &GormTriggerRepo{db: db}
}

func (r *GormTriggerRepo) Create(ctx context.Context, trigger *domain.Trigger) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(trigger)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormTriggerRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Trigger, error) {
	var trigger domain.Trigger
	err := r.db.WithContext(ctx).First(&trigger, "transaction_id = ?", transactionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &trigger, nil
}
