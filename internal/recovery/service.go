package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/assets"
	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/internal/locks"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
	"github.com/angelmondragon/circulation-backend/pkg/outbox/payloads"
)

const opRestore = "restore"

type assetRegistry interface {
	Get(ctx context.Context, assetID uuid.UUID) (*assets.AssetView, error)
	Lock(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) (*models.Asset, error)
	MarkRestored(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, at time.Time) (*models.Asset, error)
}

type loanRepository interface {
	WithTx(tx *gorm.DB) loans.Repository
	LatestLostByAsset(ctx context.Context, assetID uuid.UUID) (*models.LoanRecord, error)
}

type mutationRunner interface {
	Run(ctx context.Context, operation string, keys []string, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// RestoreInput puts a lost asset back on the shelf.
type RestoreInput struct {
	AssetID uuid.UUID
	ActorID string
}

// RestoreResult carries the restored asset and the loan that governed its loss.
type RestoreResult struct {
	Asset         models.Asset
	GoverningLoan models.LoanRecord
}

// Eligibility is the restore rule evaluated without side effects.
type Eligibility struct {
	AssetID              uuid.UUID
	CustodyState         enums.CustodyState
	Restorable           bool
	GoverningLoanID      *uuid.UUID
	GoverningStatus      *enums.PaymentStatus
	BlockingLoanRecordID *uuid.UUID
	BlockingAmount       *decimal.Decimal
}

// Service coordinates the Lost -> Available edge with the fine that governs it.
type Service interface {
	Restore(ctx context.Context, input RestoreInput) (*RestoreResult, error)
	Eligibility(ctx context.Context, assetID uuid.UUID) (*Eligibility, error)
}

// ServiceParams bundles the dependencies required to build a recovery service.
type ServiceParams struct {
	Assets   assetRegistry
	LoanRepo loanRepository
	Runner   mutationRunner
	Outbox   outboxPublisher
	Logger   *logger.Logger
	Clock    func() time.Time
}

type service struct {
	assets assetRegistry
	loans  loanRepository
	runner mutationRunner
	outbox outboxPublisher
	logg   *logger.Logger
	now    func() time.Time
}

// NewService constructs the recovery coordinator.
func NewService(params ServiceParams) (Service, error) {
	if params.Assets == nil {
		return nil, fmt.Errorf("asset registry required")
	}
	if params.LoanRepo == nil {
		return nil, fmt.Errorf("loan repository required")
	}
	if params.Runner == nil {
		return nil, fmt.Errorf("mutation runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	now := params.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		assets: params.Assets,
		loans:  params.LoanRepo,
		runner: params.Runner,
		outbox: params.Outbox,
		logg:   params.Logger,
		now:    now,
	}, nil
}

// Restore checks the governing fine and flips custody inside one transaction,
// holding the asset lock that settlement operations on the same asset take.
func (s *service) Restore(ctx context.Context, input RestoreInput) (*RestoreResult, error) {
	if input.AssetID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset id required")
	}

	var result *RestoreResult
	err := s.runner.Run(ctx, opRestore, []string{locks.AssetKey(input.AssetID)}, func(tx *gorm.DB) error {
		asset, err := s.assets.Lock(ctx, tx, input.AssetID)
		if err != nil {
			return err
		}
		if asset.CustodyState != enums.CustodyLost {
			return assets.InvalidState(asset, opRestore)
		}

		governing, err := s.loans.WithTx(tx).LockLatestLostByAsset(ctx, asset.ID)
		if err != nil {
			return governingLoadError(err, asset.ID, "lock governing loan record")
		}
		if Blocks(governing) {
			return unpaidFine(governing)
		}

		now := s.now()
		restored, err := s.assets.MarkRestored(ctx, tx, asset.ID, now)
		if err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAssetRestored,
			AggregateType: enums.AggregateAsset,
			AggregateID:   asset.ID,
			Actor:         outbox.NewActorRef(input.ActorID),
			OccurredAt:    now,
			Data: payloads.AssetRestoredEvent{
				AssetID:             asset.ID,
				GoverningLoanID:     governing.ID,
				GoverningFineStatus: governing.PaymentStatus,
				RestoredAt:          now,
			},
		}); err != nil {
			return err
		}

		result = &RestoreResult{Asset: *restored, GoverningLoan: *governing}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithAssetID(ctx, result.Asset.ID.String())
		logCtx = s.logg.WithLoanID(logCtx, result.GoverningLoan.ID.String())
		s.logg.Info(logCtx, "lost asset restored")
	}
	return result, nil
}

func (s *service) Eligibility(ctx context.Context, assetID uuid.UUID) (*Eligibility, error) {
	if assetID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset id required")
	}
	view, err := s.assets.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}

	out := &Eligibility{AssetID: assetID, CustodyState: view.Asset.CustodyState}
	if view.Asset.CustodyState != enums.CustodyLost {
		return out, nil
	}

	governing, err := s.loans.LatestLostByAsset(ctx, assetID)
	if err != nil {
		return nil, governingLoadError(err, assetID, "load governing loan record")
	}
	out.GoverningLoanID = &governing.ID
	out.GoverningStatus = &governing.PaymentStatus
	if Blocks(governing) {
		out.BlockingLoanRecordID = &governing.ID
		out.BlockingAmount = &governing.PenaltyAmount
		return out, nil
	}
	out.Restorable = true
	return out, nil
}

// Blocks reports whether the governing loan's fine keeps its asset Lost.
// None, Paid and Waived all allow the restore.
func Blocks(governing *models.LoanRecord) bool {
	return governing.PaymentStatus == enums.PaymentStatusPending
}

// governingLoadError maps a Lost asset without a lost loan record to INTERNAL:
// the custody row and the ledger disagree.
func governingLoadError(err error, assetID uuid.UUID, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeInternal, "lost asset has no governing loan record").
			WithDetails(map[string]any{"asset_id": assetID})
	}
	return db.WrapError(err, message)
}

func unpaidFine(governing *models.LoanRecord) error {
	return pkgerrors.New(pkgerrors.CodeUnpaidFineBlocksRestore, "pay or waive the fine before restoring").
		WithDetails(map[string]any{
			"loan_record_id": governing.ID,
			"penalty_amount": governing.PenaltyAmount,
			"payment_status": governing.PaymentStatus,
		})
}
