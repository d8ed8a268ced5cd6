package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"gorm.io/gorm"
)

// TopicMembership links a subscriber to a broadcast topic.
type TopicMembership struct {
	TopicID        string `gorm:"primaryKey;type:varchar(64)"`
	SubscriberID   string `gorm:"primaryKey;type:varchar(64)"`
	OrganizationID string `gorm:"type:varchar(64);not null"`
	EnvironmentID  string `gorm:"primaryKey;type:varchar(64)"`
	CreatedAt      time.Time
}

func (TopicMembership) TableName() string {
	return "topic_memberships"
}

// SubscriberRepository is the subscriber directory consumed by the resolver.
// Topic membership is read at resolution time, not trigger time.
type SubscriberRepository interface {
	GetByID(ctx context.Context, organizationID, environmentID, id string) (*domain.Subscriber, error)
	GetByTopic(ctx context.Context, organizationID, environmentID, topicID string) ([]domain.Subscriber, error)
	Create(ctx context.Context, subscriber *domain.Subscriber) error
	AddToTopic(ctx context.Context, membership *TopicMembership) error
}

type GormSubscriberRepo struct {
	db *gorm.DB
}

func NewGormSubscriberRepo(db *gorm.DB) *GormSubscriberRepo {
	return &GormSubscriberRepo{db: db}
}

func (r *GormSubscriberRepo) GetByID(ctx context.Context, organizationID, environmentID, id string) (*domain.Subscriber, error) {
	var subscriber domain.Subscriber
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND environment_id = ? AND id = ?", organizationID, environmentID, id).
		First(&subscriber).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &subscriber, nil
}

func (r *GormSubscriberRepo) GetByTopic(ctx context.Context, organizationID, environmentID, topicID string) ([]domain.Subscriber, error) {
	var subscribers []domain.Subscriber
	err := r.db.WithContext(ctx).
		Joins("JOIN topic_memberships ON topic_memberships.subscriber_id = subscribers.id AND topic_memberships.environment_id = subscribers.environment_id").
		Where("topic_memberships.topic_id = ? AND subscribers.organization_id = ? AND subscribers.environment_id = ?",
			topicID, organizationID, environmentID).
		Find(&subscribers).Error
	if err != nil {
		return nil, err
	}
	return subscribers, nil
}

func (r *GormSubscriberRepo) Create(ctx context.Context, subscriber *domain.Subscriber) error {
	return r.db.WithContext(ctx).Create(subscriber).Error
}

func (r *GormSubscriberRepo) AddToTopic(ctx context.Context, membership *TopicMembership) error {
	return r.db.WithContext(ctx).Create(membership).Error
}
