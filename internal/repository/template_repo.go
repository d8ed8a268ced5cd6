package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"gorm.io/gorm"
)

type TemplateRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Template, error)
	GetByTriggerIdentifier(ctx context.Context, organizationID, environmentID, identifier string) (*domain.Template, error)
	Create(ctx context.Context, template *domain.Template) error
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

func (r *GormTemplateRepo) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	var template domain.Template
	err := r.db.WithContext(ctx).First(&template, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (r *GormTemplateRepo) GetByTriggerIdentifier(ctx context.Context, organizationID, environmentID, identifier string) (*domain.Template, error) {
	var template domain.Template
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND environment_id = ? AND trigger_identifier = ?",
			organizationID, environmentID, strings.TrimSpace(identifier)).
		First(&template).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (r *GormTemplateRepo) Create(ctx context.Context, template *domain.Template) error {
	return r.db.WithContext(ctx).Create(template).Error
}
