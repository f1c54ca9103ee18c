package loans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/assets"
	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/internal/locks"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
	"github.com/angelmondragon/circulation-backend/pkg/outbox/payloads"
)

const (
	opBorrow     = "borrow"
	opReturn     = "return"
	opReportLost = "report_lost"
)

type assetRegistry interface {
	Get(ctx context.Context, assetID uuid.UUID) (*assets.AssetView, error)
	Lock(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) (*models.Asset, error)
	FindTitle(ctx context.Context, tx *gorm.DB, titleID uuid.UUID) (*models.Title, error)
	MarkBorrowed(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, at time.Time) (*models.Asset, error)
	MarkReturned(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, at time.Time) (*models.Asset, error)
	MarkLost(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, at time.Time) (*models.Asset, error)
}

type mutationRunner interface {
	Run(ctx context.Context, operation string, keys []string, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the loan state machine: Active -> Returned, optionally tagged lost.
type Service interface {
	Borrow(ctx context.Context, input BorrowInput) (*LoanView, error)
	Return(ctx context.Context, input ReturnInput) (*LoanView, error)
	ReportLost(ctx context.Context, input ReportLostInput) (*LoanView, error)
	Get(ctx context.Context, loanID uuid.UUID) (*LoanView, error)
}

// ServiceParams bundles the dependencies required to build a loan service.
type ServiceParams struct {
	Repo                    Repository
	Assets                  assetRegistry
	Runner                  mutationRunner
	Outbox                  outboxPublisher
	Policy                  fines.Policy
	MaxActiveLoansPerPatron int
	Logger                  *logger.Logger
	Clock                   func() time.Time
}

type service struct {
	repo      Repository
	assets    assetRegistry
	runner    mutationRunner
	outbox    outboxPublisher
	policy    fines.Policy
	maxActive int
	logg      *logger.Logger
	now       func() time.Time
}

// NewService constructs the loan ledger.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("loan repository required")
	}
	if params.Assets == nil {
		return nil, fmt.Errorf("asset registry required")
	}
	if params.Runner == nil {
		return nil, fmt.Errorf("mutation runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Policy.LoanPeriod <= 0 {
		return nil, fmt.Errorf("loan period must be positive")
	}
	if params.MaxActiveLoansPerPatron < 0 {
		return nil, fmt.Errorf("max active loans per patron must be >= 0")
	}
	now := params.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:      params.Repo,
		assets:    params.Assets,
		runner:    params.Runner,
		outbox:    params.Outbox,
		policy:    params.Policy,
		maxActive: params.MaxActiveLoansPerPatron,
		logg:      params.Logger,
		now:       now,
	}, nil
}

func (s *service) Borrow(ctx context.Context, input BorrowInput) (*LoanView, error) {
	if input.AssetID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset id required")
	}
	if input.PatronID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "patron_id is required")
	}

	var view *LoanView
	keys := []string{locks.AssetKey(input.AssetID), locks.PatronKey(input.PatronID)}
	err := s.runner.Run(ctx, opBorrow, keys, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		asset, err := s.assets.Lock(ctx, tx, input.AssetID)
		if err != nil {
			return err
		}
		if asset.CustodyState != enums.CustodyAvailable {
			return assetUnavailable(asset)
		}

		if s.maxActive > 0 {
			active, err := repo.CountActiveByPatron(ctx, input.PatronID)
			if err != nil {
				return db.WrapError(err, "count active loans")
			}
			if active >= int64(s.maxActive) {
				return pkgerrors.New(pkgerrors.CodeDuplicatePatronLoan, "patron holds the maximum number of loans").
					WithDetails(map[string]any{
						"patron_id":    input.PatronID,
						"active_loans": active,
						"limit":        s.maxActive,
					})
			}
		}

		now := s.now()
		dueAt := s.policy.DueAt(now)
		if input.DueAt != nil {
			dueAt = input.DueAt.UTC()
			if !dueAt.After(now) {
				return pkgerrors.New(pkgerrors.CodeValidation, "due_at must be after the borrow time")
			}
		}

		loan := &models.LoanRecord{
			ID:            uuid.New(),
			AssetID:       asset.ID,
			PatronID:      input.PatronID,
			BorrowedAt:    now,
			DueAt:         dueAt,
			PenaltyAmount: decimal.Zero,
			PaymentStatus: enums.PaymentStatusNone,
		}
		if _, err := repo.Create(ctx, loan); err != nil {
			if db.IsUniqueViolation(err, "") {
				return assetUnavailable(asset)
			}
			return db.WrapError(err, "create loan record")
		}

		updated, err := s.assets.MarkBorrowed(ctx, tx, asset.ID, now)
		if err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLoanBorrowed,
			AggregateType: enums.AggregateLoanRecord,
			AggregateID:   loan.ID,
			Actor:         outbox.NewActorRef(input.ActorID),
			OccurredAt:    now,
			Data: payloads.LoanBorrowedEvent{
				LoanRecordID: loan.ID,
				AssetID:      loan.AssetID,
				PatronID:     loan.PatronID,
				BorrowedAt:   loan.BorrowedAt,
				DueAt:        loan.DueAt,
			},
		}); err != nil {
			return err
		}

		view = &LoanView{Loan: *loan, Asset: *updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, view, "loan borrowed")
	return view, nil
}

func (s *service) Return(ctx context.Context, input ReturnInput) (*LoanView, error) {
	if input.AssetID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset id required")
	}

	var view *LoanView
	err := s.runner.Run(ctx, opReturn, []string{locks.AssetKey(input.AssetID)}, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		asset, loan, err := s.lockActive(ctx, tx, input.AssetID)
		if err != nil {
			return err
		}
		title, err := s.assets.FindTitle(ctx, tx, asset.TitleID)
		if err != nil {
			return err
		}

		now := s.now()
		penalty := s.policy.LatePenalty(fines.LateInput{
			BorrowedAt: loan.BorrowedAt,
			DueAt:      loan.DueAt,
			ReturnedAt: now,
			TitleRate:  title.DailyFineRate,
		})
		closed, err := s.close(ctx, repo, loan, now, false, penalty)
		if err != nil {
			return err
		}

		updated, err := s.assets.MarkReturned(ctx, tx, asset.ID, now)
		if err != nil {
			return err
		}

		if err := s.assess(ctx, tx, repo, closed, input.ActorID); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLoanReturned,
			AggregateType: enums.AggregateLoanRecord,
			AggregateID:   closed.ID,
			Actor:         outbox.NewActorRef(input.ActorID),
			OccurredAt:    now,
			Data: payloads.LoanReturnedEvent{
				LoanRecordID:  closed.ID,
				AssetID:       closed.AssetID,
				PatronID:      closed.PatronID,
				ReturnedAt:    now,
				DaysLate:      fines.DaysLate(closed.DueAt, now),
				PenaltyAmount: closed.PenaltyAmount,
				PaymentStatus: closed.PaymentStatus,
			},
		}); err != nil {
			return err
		}

		view = &LoanView{Loan: *closed, Asset: *updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, view, "loan returned")
	return view, nil
}

func (s *service) ReportLost(ctx context.Context, input ReportLostInput) (*LoanView, error) {
	if input.AssetID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset id required")
	}
	if input.ReplacementCost != nil && input.ReplacementCost.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "replacement_cost must be >= 0")
	}

	var view *LoanView
	err := s.runner.Run(ctx, opReportLost, []string{locks.AssetKey(input.AssetID)}, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		asset, loan, err := s.lockActive(ctx, tx, input.AssetID)
		if err != nil {
			return err
		}
		title, err := s.assets.FindTitle(ctx, tx, asset.TitleID)
		if err != nil {
			return err
		}

		now := s.now()
		penalty := s.policy.LostPenalty(fines.LostInput{
			DueAt:                loan.DueAt,
			ReportedAt:           now,
			TitleRate:            title.DailyFineRate,
			TitleReplacementCost: title.ReplacementCost,
			Override:             input.ReplacementCost,
		})
		closed, err := s.close(ctx, repo, loan, now, true, penalty)
		if err != nil {
			return err
		}

		updated, err := s.assets.MarkLost(ctx, tx, asset.ID, now)
		if err != nil {
			return err
		}

		if err := s.assess(ctx, tx, repo, closed, input.ActorID); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAssetReportedLost,
			AggregateType: enums.AggregateAsset,
			AggregateID:   asset.ID,
			Actor:         outbox.NewActorRef(input.ActorID),
			OccurredAt:    now,
			Data: payloads.AssetReportedLostEvent{
				LoanRecordID:  closed.ID,
				AssetID:       closed.AssetID,
				PatronID:      closed.PatronID,
				ReportedAt:    now,
				PenaltyAmount: closed.PenaltyAmount,
				PaymentStatus: closed.PaymentStatus,
			},
		}); err != nil {
			return err
		}

		view = &LoanView{Loan: *closed, Asset: *updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logMutation(ctx, view, "asset reported lost")
	return view, nil
}

func (s *service) Get(ctx context.Context, loanID uuid.UUID) (*LoanView, error) {
	if loanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	loan, err := s.repo.FindByID(ctx, loanID)
	if err != nil {
		return nil, db.WrapError(err, "loan record not found")
	}
	asset, err := s.assets.Get(ctx, loan.AssetID)
	if err != nil {
		return nil, err
	}
	return &LoanView{Loan: *loan, Asset: asset.Asset}, nil
}

// lockActive locks the asset and its open loan. A missing open loan is
// reported as ALREADY_RETURNED when the latest loan was returned normally.
func (s *service) lockActive(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) (*models.Asset, *models.LoanRecord, error) {
	repo := s.repo.WithTx(tx)
	asset, err := s.assets.Lock(ctx, tx, assetID)
	if err != nil {
		return nil, nil, err
	}
	loan, err := repo.LockActiveByAsset(ctx, assetID)
	if err == nil {
		return asset, loan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, db.WrapError(err, "lock active loan")
	}

	latest, err := repo.LatestByAsset(ctx, assetID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, db.WrapError(err, "load latest loan")
	}
	if latest != nil && latest.ReturnedAt != nil && !latest.Lost {
		return nil, nil, pkgerrors.New(pkgerrors.CodeAlreadyReturned, "loan already returned").
			WithDetails(map[string]any{
				"asset_id":       asset.ID,
				"loan_record_id": latest.ID,
				"returned_at":    latest.ReturnedAt,
				"penalty_amount": latest.PenaltyAmount,
				"payment_status": latest.PaymentStatus,
			})
	}
	return nil, nil, pkgerrors.New(pkgerrors.CodeNoActiveLoan, "asset has no active loan").
		WithDetails(map[string]any{
			"asset_id":      asset.ID,
			"custody_state": asset.CustodyState,
		})
}

func (s *service) close(ctx context.Context, repo Repository, loan *models.LoanRecord, at time.Time, lost bool, penalty decimal.Decimal) (*models.LoanRecord, error) {
	status := enums.PaymentStatusNone
	if penalty.IsPositive() {
		status = enums.PaymentStatusPending
	} else {
		penalty = decimal.Zero
	}

	ok, err := repo.Close(ctx, CloseParams{
		ID:            loan.ID,
		Version:       loan.Version,
		ReturnedAt:    at,
		Lost:          lost,
		PenaltyAmount: penalty,
		PaymentStatus: status,
	})
	if err != nil {
		return nil, db.WrapError(err, "close loan record")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeVersionConflict, "loan record changed concurrently").
			WithDetails(map[string]any{"loan_record_id": loan.ID})
	}

	closed := *loan
	closed.ReturnedAt = &at
	closed.Lost = lost
	closed.PenaltyAmount = penalty
	closed.PaymentStatus = status
	closed.UpdatedAt = at
	closed.Version++
	return &closed, nil
}

// assess writes the assessed fine event and its outbox event when a penalty landed.
func (s *service) assess(ctx context.Context, tx *gorm.DB, repo Repository, loan *models.LoanRecord, actorID string) error {
	if loan.PaymentStatus != enums.PaymentStatusPending {
		return nil
	}
	at := *loan.ReturnedAt
	event := NewFineEvent(loan, enums.FineEventAssessed, enums.PaymentStatusNone, enums.PaymentStatusPending, actorID, nil, at)
	if err := repo.AppendFineEvent(ctx, event); err != nil {
		return db.WrapError(err, "append fine event")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventFineAssessed,
		AggregateType: enums.AggregateLoanRecord,
		AggregateID:   loan.ID,
		Actor:         outbox.NewActorRef(actorID),
		OccurredAt:    at,
		Data: payloads.FineAssessedEvent{
			LoanRecordID: loan.ID,
			PatronID:     loan.PatronID,
			Amount:       loan.PenaltyAmount,
			Lost:         loan.Lost,
		},
	})
}

func (s *service) logMutation(ctx context.Context, view *LoanView, msg string) {
	if s.logg == nil || view == nil {
		return
	}
	ctx = s.logg.WithLoanID(ctx, view.Loan.ID.String())
	ctx = s.logg.WithAssetID(ctx, view.Asset.ID.String())
	ctx = s.logg.WithPatronID(ctx, view.Loan.PatronID.String())
	s.logg.Info(ctx, msg)
}

func assetUnavailable(asset *models.Asset) error {
	return pkgerrors.New(pkgerrors.CodeAssetUnavailable, fmt.Sprintf("asset is %s", asset.CustodyState)).
		WithDetails(map[string]any{
			"asset_id":      asset.ID,
			"custody_state": asset.CustodyState,
		})
}

// NewFineEvent builds the audit row for a settlement transition on loan.
func NewFineEvent(loan *models.LoanRecord, eventType enums.FineEventType, from, to enums.PaymentStatus, actorID string, reason *string, at time.Time) *models.FineEvent {
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	return &models.FineEvent{
		ID:           uuid.New(),
		LoanRecordID: loan.ID,
		PatronID:     loan.PatronID,
		ActorID:      actor,
		Type:         eventType,
		Amount:       loan.PenaltyAmount,
		FromStatus:   from,
		ToStatus:     to,
		Reason:       reason,
		CreatedAt:    at,
	}
}
