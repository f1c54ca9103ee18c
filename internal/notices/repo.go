package notices

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

// Repository persists patron notices.
type Repository interface {
	// Create inserts the notice and reports false when one already exists for the event.
	Create(ctx context.Context, notice *models.PatronNotice) (bool, error)
	ListByPatron(ctx context.Context, patronID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.PatronNotice, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a notices repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) Create(ctx context.Context, notice *models.PatronNotice) (bool, error) {
	if notice.ID == uuid.Nil {
		notice.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(notice).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repository) ListByPatron(ctx context.Context, patronID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.PatronNotice, error) {
	query := r.db.WithContext(ctx).Model(&models.PatronNotice{}).Where("patron_id = ?", patronID)
	var rows []models.PatronNotice
	if err := query.Scopes(pagination.Keyset("created_at", pagination.Newest, cursor)).Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
