package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/framer-cd/framer/db"
	"github.com/framer-cd/framer/domain"
)

type projectRepository struct {
	db     *gorm.DB
	mapper *ProjectMapper
}

func NewProjectRepository(db *gorm.DB, sealer CredentialSealer) ProjectRepository {
	return &projectRepository{
		db:     db,
		mapper: NewProjectMapper(sealer),
	}
}

func (r *projectRepository) List(ctx context.Context) ([]*domain.Project, error) {
	var models []db.ProjectModel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&models).Error; err != nil {
		return nil, err
	}

	projects := make([]*domain.Project, len(models))
	for i := range models {
		projects[i] = r.mapper.ToDomain(&models[i])
	}
	return projects, nil
}

func (r *projectRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	var m db.ProjectModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		slog.Debug("Database operation failed",
			"layer", "repository",
			"operation", "find_project",
			"project_id", id,
			"error", err)
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *projectRepository) FindByName(ctx context.Context, name string) (*domain.Project, error) {
	var m db.ProjectModel
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&m).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToDomain(&m), nil
}

func (r *projectRepository) Create(ctx context.Context, project *domain.Project) error {
	m, err := r.mapper.ToModel(project)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "create_project",
			"project_id", project.ID,
			"project_name", project.Name,
			"error", err)
		return err
	}
	project.CreatedAt = m.CreatedAt
	project.UpdatedAt = m.UpdatedAt
	return nil
}

func (r *projectRepository) Update(ctx context.Context, project *domain.Project) error {
	m, err := r.mapper.ToModel(project)
	if err != nil {
		return err
	}

	// Select("*") writes zero values too; CreatedAt is never rewritten
	res := r.db.WithContext(ctx).Model(&db.ProjectModel{}).
		Where("id = ?", m.ID).
		Select("*").
		Omit("created_at").
		Updates(m)
	if res.Error != nil {
		slog.Error("Database operation failed",
			"layer", "repository",
			"operation", "update_project",
			"project_id", project.ID,
			"error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	project.UpdatedAt = m.UpdatedAt
	return nil
}

func (r *projectRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ProjectStatus) error {
	res := r.db.WithContext(ctx).Model(&db.ProjectModel{}).
		Where("id = ?", id).
		Update("status", status.String())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
