package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/framer-cd/framer/db"
	"github.com/framer-cd/framer/domain"
)

type jobRepository struct {
	db     *gorm.DB
	mapper *JobMapper
}

func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db, mapper: &JobMapper{}}
}

func (r *jobRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var m db.JobModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *jobRepository) Create(ctx context.Context, job *domain.Job) error {
	m, err := r.mapper.ToModel(job)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	job.CreatedAt = m.CreatedAt
	job.UpdatedAt = m.UpdatedAt
	return nil
}

// Update rewrites the whole row in one statement so status, state and data never diverge
func (r *jobRepository) Update(ctx context.Context, job *domain.Job) error {
	m, err := r.mapper.ToModel(job)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&db.JobModel{}).
		Where("id = ?", m.ID).
		Select("*").
		Omit("created_at").
		Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	job.UpdatedAt = m.UpdatedAt
	return nil
}

func (r *jobRepository) List(ctx context.Context, limit int) ([]*domain.Job, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []db.JobModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.toDomainList(models), nil
}

func (r *jobRepository) ListByProjectID(ctx context.Context, projectID uuid.UUID) ([]*domain.Job, error) {
	var models []db.JobModel
	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return r.toDomainList(models), nil
}

func (r *jobRepository) toDomainList(models []db.JobModel) []*domain.Job {
	jobs := make([]*domain.Job, len(models))
	for i := range models {
		jobs[i] = r.mapper.ToDomain(&models[i])
	}
	return jobs
}
