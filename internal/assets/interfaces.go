package assets

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// Repository persists titles and assets.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateTitle(ctx context.Context, title *models.Title) (*models.Title, error)
	FindTitleByID(ctx context.Context, id uuid.UUID) (*models.Title, error)
	CreateAsset(ctx context.Context, asset *models.Asset) (*models.Asset, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	CompareAndSwapState(ctx context.Context, in stateSwap) (bool, error)
}

type stateSwap struct {
	id      uuid.UUID
	version int64
	from    enums.CustodyState
	to      enums.CustodyState
	at      time.Time
}
