package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/framer-cd/framer/db"
	"github.com/framer-cd/framer/domain"
)

type buildRepository struct {
	db     *gorm.DB
	mapper *BuildMapper
}

func NewBuildRepository(db *gorm.DB) BuildRepository {
	return &buildRepository{db: db, mapper: &BuildMapper{}}
}

func (r *buildRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Build, error) {
	var m db.BuildModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *buildRepository) Create(ctx context.Context, build *domain.Build) error {
	m := r.mapper.ToModel(build)
	if err := r.db.WithContext(ctx).Omit("Project").Create(m).Error; err != nil {
		return err
	}
	*build = *r.mapper.ToDomain(m)
	return nil
}

func (r *buildRepository) Update(ctx context.Context, build *domain.Build) error {
	m := r.mapper.ToModel(build)
	res := r.db.WithContext(ctx).Model(&db.BuildModel{}).
		Where("id = ?", m.ID).
		Select("*").
		Omit("created_at", "Project").
		Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	build.UpdatedAt = m.UpdatedAt
	return nil
}

func (r *buildRepository) ListByProjectID(ctx context.Context, projectID uuid.UUID) ([]*domain.Build, error) {
	var models []db.BuildModel
	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	builds := make([]*domain.Build, len(models))
	for i := range models {
		builds[i] = r.mapper.ToDomain(&models[i])
	}
	return builds, nil
}
