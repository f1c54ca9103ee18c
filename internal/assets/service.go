package assets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
	"github.com/angelmondragon/circulation-backend/pkg/outbox/payloads"
)

const (
	opMarkBorrowed = "mark_borrowed"
	opMarkReturned = "mark_returned"
	opMarkLost     = "mark_lost"
	opMarkRestored = "mark_restored"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Registry owns asset custody. The Mark* transitions and Lock run inside the
// caller's transaction; the caller holds the asset lock key.
type Registry interface {
	RegisterTitle(ctx context.Context, input RegisterTitleInput) (*models.Title, error)
	Accession(ctx context.Context, input AccessionInput) (*models.Asset, error)
	Get(ctx context.Context, assetID uuid.UUID) (*AssetView, error)

	Lock(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) (*models.Asset, error)
	FindTitle(ctx context.Context, tx *gorm.DB, titleID uuid.UUID) (*models.Title, error)
	MarkBorrowed(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, at time.Time) (*models.Asset, error)
	MarkReturned(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, at time.Time) (*models.Asset, error)
	MarkLost(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, at time.Time) (*models.Asset, error)
	MarkRestored(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, at time.Time) (*models.Asset, error)
}

// RegistryParams bundles the dependencies required to build a Registry.
type RegistryParams struct {
	Repo   Repository
	Tx     txRunner
	Outbox outboxPublisher
	Logger *logger.Logger
	Clock  func() time.Time
}

type registry struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
	now    func() time.Time
}

// NewRegistry constructs the asset registry.
func NewRegistry(params RegistryParams) (Registry, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("asset repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	now := params.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &registry{
		repo:   params.Repo,
		tx:     params.Tx,
		outbox: params.Outbox,
		logg:   params.Logger,
		now:    now,
	}, nil
}

func (r *registry) RegisterTitle(ctx context.Context, input RegisterTitleInput) (*models.Title, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	rate, err := optionalAmount(input.DailyFineRate, "daily_fine_rate")
	if err != nil {
		return nil, err
	}
	cost, err := optionalAmount(input.ReplacementCost, "replacement_cost")
	if err != nil {
		return nil, err
	}

	title := &models.Title{
		ID:              uuid.New(),
		ISBN:            trimmed(input.ISBN),
		Name:            name,
		Author:          trimmed(input.Author),
		DailyFineRate:   rate,
		ReplacementCost: cost,
	}
	created, err := r.repo.CreateTitle(ctx, title)
	if err != nil {
		return nil, db.WrapError(err, "create title")
	}
	if r.logg != nil {
		logCtx := r.logg.WithField(ctx, "title_id", created.ID.String())
		r.logg.Info(logCtx, "title registered")
	}
	return created, nil
}

func (r *registry) Accession(ctx context.Context, input AccessionInput) (*models.Asset, error) {
	if input.TitleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title_id is required")
	}
	barcode := strings.TrimSpace(input.Barcode)
	if barcode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "barcode is required")
	}

	now := r.now()
	asset := &models.Asset{
		ID:             uuid.New(),
		TitleID:        input.TitleID,
		Barcode:        barcode,
		CustodyState:   enums.CustodyAvailable,
		StateChangedAt: now,
	}

	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		if _, err := repo.FindTitleByID(ctx, input.TitleID); err != nil {
			return db.WrapError(err, "title not found")
		}
		if _, err := repo.CreateAsset(ctx, asset); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "barcode already accessioned").
					WithDetails(map[string]any{"barcode": barcode})
			}
			return db.WrapError(err, "create asset")
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAssetAccessioned,
			AggregateType: enums.AggregateAsset,
			AggregateID:   asset.ID,
			Actor:         outbox.NewActorRef(input.ActorID),
			OccurredAt:    now,
			Data: payloads.AssetAccessionedEvent{
				AssetID: asset.ID,
				TitleID: asset.TitleID,
				Barcode: asset.Barcode,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if r.logg != nil {
		r.logg.Info(r.logg.WithAssetID(ctx, asset.ID.String()), "asset accessioned")
	}
	return asset, nil
}

func (r *registry) Get(ctx context.Context, assetID uuid.UUID) (*AssetView, error) {
	if assetID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset id required")
	}
	asset, err := r.repo.FindByID(ctx, assetID)
	if err != nil {
		return nil, db.WrapError(err, "asset not found")
	}
	title, err := r.repo.FindTitleByID(ctx, asset.TitleID)
	if err != nil {
		return nil, db.WrapError(err, "load title")
	}
	return &AssetView{Asset: *asset, Title: *title}, nil
}

func (r *registry) Lock(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) (*models.Asset, error) {
	asset, err := r.repo.WithTx(tx).LockByID(ctx, assetID)
	if err != nil {
		return nil, db.WrapError(err, "lock asset")
	}
	return asset, nil
}

func (r *registry) FindTitle(ctx context.Context, tx *gorm.DB, titleID uuid.UUID) (*models.Title, error) {
	title, err := r.repo.WithTx(tx).FindTitleByID(ctx, titleID)
	if err != nil {
		return nil, db.WrapError(err, "load title")
	}
	return title, nil
}

func (r *registry) MarkBorrowed(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, at time.Time) (*models.Asset, error) {
	return r.transition(ctx, tx, assetID, enums.CustodyAvailable, enums.CustodyOnLoan, opMarkBorrowed, at)
}

func (r *registry) MarkReturned(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, at time.Time) (*models.Asset, error) {
	return r.transition(ctx, tx, assetID, enums.CustodyOnLoan, enums.CustodyAvailable, opMarkReturned, at)
}

func (r *registry) MarkLost(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, at time.Time) (*models.Asset, error) {
	return r.transition(ctx, tx, assetID, enums.CustodyOnLoan, enums.CustodyLost, opMarkLost, at)
}

func (r *registry) MarkRestored(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, at time.Time) (*models.Asset, error) {
	return r.transition(ctx, tx, assetID, enums.CustodyLost, enums.CustodyAvailable, opMarkRestored, at)
}

func (r *registry) transition(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, from, to enums.CustodyState, op string, at time.Time) (*models.Asset, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := r.repo.WithTx(tx)
	asset, err := repo.LockByID(ctx, assetID)
	if err != nil {
		return nil, db.WrapError(err, "lock asset")
	}
	if asset.CustodyState != from || !from.CanTransition(to) {
		return nil, InvalidState(asset, op)
	}

	ok, err := repo.CompareAndSwapState(ctx, stateSwap{
		id:      asset.ID,
		version: asset.Version,
		from:    from,
		to:      to,
		at:      at,
	})
	if err != nil {
		return nil, db.WrapError(err, "update custody state")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeVersionConflict, "asset changed concurrently").
			WithDetails(map[string]any{"asset_id": asset.ID})
	}

	asset.CustodyState = to
	asset.StateChangedAt = at
	asset.UpdatedAt = at
	asset.Version++
	return asset, nil
}

// InvalidState reports a custody precondition failure with the actual state attached.
func InvalidState(asset *models.Asset, operation string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("asset is %s", asset.CustodyState)).
		WithDetails(map[string]any{
			"asset_id":      asset.ID,
			"custody_state": asset.CustodyState,
			"operation":     operation,
		})
}

func optionalAmount(value *decimal.Decimal, field string) (decimal.NullDecimal, error) {
	if value == nil {
		return decimal.NullDecimal{}, nil
	}
	if value.IsNegative() {
		return decimal.NullDecimal{}, pkgerrors.New(pkgerrors.CodeValidation, field+" must be >= 0")
	}
	return decimal.NewNullDecimal(value.Round(2)), nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
