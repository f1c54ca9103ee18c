package assets

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
)

// RegisterTitleInput describes a catalog title. Rates left nil fall back to
// the circulation defaults.
type RegisterTitleInput struct {
	ISBN            *string
	Name            string
	Author          *string
	DailyFineRate   *decimal.Decimal
	ReplacementCost *decimal.Decimal
	ActorID         string
}

// AccessionInput adds a physical copy of a known title.
type AccessionInput struct {
	TitleID uuid.UUID
	Barcode string
	ActorID string
}

// AssetView is the asset projection returned to callers.
type AssetView struct {
	Asset models.Asset
	Title models.Title
}
