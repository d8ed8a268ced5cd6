package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"gorm.io/gorm"
)

// MessageFilter narrows message lookups. TransactionID is required by the
// HTTP surface; Channel is optional.
type MessageFilter struct {
	OrganizationID string
	EnvironmentID  string
	TransactionID  string
	Channel        *domain.Channel
}

type MessageRepository interface {
	Create(ctx context.Context, message *domain.Message) error
	Find(ctx context.Context, filter MessageFilter) ([]domain.Message, error)
	// DeleteByTransaction removes every matching message and returns how many
	// rows were deleted.
	DeleteByTransaction(ctx context.Context, filter MessageFilter) (int64, error)
}

type GormMessageRepo struct {
	db *gorm.DB
}

func NewGormMessageRepo(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

func (r *GormMessageRepo) Create(ctx context.Context, message *domain.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *GormMessageRepo) Find(ctx context.Context, filter MessageFilter) ([]domain.Message, error) {
	var messages []domain.Message
	err := applyMessageFilter(r.db.WithContext(ctx), filter).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *GormMessageRepo) DeleteByTransaction(ctx context.Context, filter MessageFilter) (int64, error) {
	result := applyMessageFilter(r.db.WithContext(ctx), filter).Delete(&domain.Message{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func applyMessageFilter(db *gorm.DB, filter MessageFilter) *gorm.DB {
	query := db.Model(&domain.Message{}).
		Where("organization_id = ? AND environment_id = ? AND transaction_id = ?",
			filter.OrganizationID, filter.EnvironmentID, filter.TransactionID)
	if filter.Channel != nil {
		query = query.Where("channel = ?", filter.Channel.String())
	}
	return query
}

type AttemptRepository interface {
	Create(ctx context.Context, attempt *domain.JobAttempt) error
	GetByJobID(ctx context.Context, jobID string) ([]domain.JobAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, attempt *domain.JobAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *GormAttemptRepo) GetByJobID(ctx context.Context, jobID string) ([]domain.JobAttempt, error) {
	var attempts []domain.JobAttempt
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("attempt_number ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

type CredentialRepository interface {
	Get(ctx context.Context, organizationID, providerID string) (*domain.ProviderCredential, error)
	Upsert(ctx context.Context, credential *domain.ProviderCredential) error
}

type GormCredentialRepo struct {
	db *gorm.DB
}

func NewGormCredentialRepo(db *gorm.DB) *GormCredentialRepo {
	return &GormCredentialRepo{db: db}
}

func (r *GormCredentialRepo) Get(ctx context.Context, organizationID, providerID string) (*domain.ProviderCredential, error) {
	var credential domain.ProviderCredential
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND provider_id = ?", organizationID, providerID).
		First(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

func (r *GormCredentialRepo) Upsert(ctx context.Context, credential *domain.ProviderCredential) error {
	return r.db.WithContext(ctx).Save(credential).Error
}
