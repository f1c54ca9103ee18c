package assets

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an asset repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateTitle(ctx context.Context, title *models.Title) (*models.Title, error) {
	if err := r.db.WithContext(ctx).Create(title).Error; err != nil {
		return nil, err
	}
	return title, nil
}

func (r *repository) FindTitleByID(ctx context.Context, id uuid.UUID) (*models.Title, error) {
	var title models.Title
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&title).Error; err != nil {
		return nil, err
	}
	return &title, nil
}

func (r *repository) CreateAsset(ctx context.Context, asset *models.Asset) (*models.Asset, error) {
	if err := r.db.WithContext(ctx).Create(asset).Error; err != nil {
		return nil, err
	}
	return asset, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// LockByID selects the asset FOR UPDATE; callers must be inside a transaction.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&asset).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// CompareAndSwapState moves custody only if neither the state nor the version moved underneath.
func (r *repository) CompareAndSwapState(ctx context.Context, in stateSwap) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("id = ? AND version = ? AND custody_state = ?", in.id, in.version, in.from).
		Updates(map[string]any{
			"custody_state":    in.to,
			"state_changed_at": in.at,
			"updated_at":       in.at,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
