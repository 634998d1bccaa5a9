package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/framer-cd/framer/db"
	"github.com/framer-cd/framer/domain"
)

type logRepository struct {
	db *gorm.DB
}

func NewLogRepository(db *gorm.DB) LogRepository {
	return &logRepository{db: db}
}

// Append inserts a log entry; entries are never updated or deleted
func (r *logRepository) Append(ctx context.Context, entry *domain.LogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	return r.db.WithContext(ctx).Create(&db.LogModel{
		ID:        entry.ID,
		SubjectID: entry.SubjectID,
		Source:    entry.Source,
		Text:      entry.Text,
		CreatedAt: entry.CreatedAt,
	}).Error
}

func (r *logRepository) ListBySubjectID(ctx context.Context, subjectID uuid.UUID) ([]*domain.LogEntry, error) {
	var models []db.LogModel
	if err := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at, rowid").
		Find(&models).Error; err != nil {
		return nil, err
	}

	entries := make([]*domain.LogEntry, len(models))
	for i, m := range models {
		entries[i] = &domain.LogEntry{
			ID:        m.ID,
			SubjectID: m.SubjectID,
			Source:    m.Source,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		}
	}
	return entries, nil
}
