package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

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

const (
	opPay    = "pay"
	opWaive  = "waive"
	opRevert = "revert_to_unpaid"
)

type mutationRunner interface {
	Run(ctx context.Context, operation string, keys []string, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the payment status of fines after assessment.
type Service interface {
	Pay(ctx context.Context, input PayInput) (*models.LoanRecord, error)
	Waive(ctx context.Context, input WaiveInput) (*models.LoanRecord, error)
	RevertToUnpaid(ctx context.Context, input RevertInput) (*models.LoanRecord, error)
	History(ctx context.Context, loanID uuid.UUID) ([]models.FineEvent, error)
}

// ServiceParams bundles the dependencies required to build a settlement service.
type ServiceParams struct {
	Repo   loans.Repository
	Runner mutationRunner
	Outbox outboxPublisher
	Logger *logger.Logger
	Clock  func() time.Time
}

type service struct {
	repo   loans.Repository
	runner mutationRunner
	outbox outboxPublisher
	logg   *logger.Logger
	now    func() time.Time
}

// NewService constructs the settlement engine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
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
		repo:   params.Repo,
		runner: params.Runner,
		outbox: params.Outbox,
		logg:   params.Logger,
		now:    now,
	}, nil
}

// transition describes one edge of the settlement graph.
type transition struct {
	operation string
	logLine   string
	to        enums.PaymentStatus
	eventType enums.FineEventType
	outbox    enums.OutboxEventType
	reason    *string
	// check rejects the loan when the edge does not apply
	check func(loan *models.LoanRecord) error
	// apply fills the timestamp and reason columns for the new status
	apply func(update *loans.SettlementUpdate, at time.Time)
}

func (s *service) Pay(ctx context.Context, input PayInput) (*models.LoanRecord, error) {
	return s.settle(ctx, input.LoanRecordID, input.ActorID, transition{
		operation: opPay,
		logLine:   "fine paid",
		to:        enums.PaymentStatusPaid,
		eventType: enums.FineEventPaid,
		outbox:    enums.EventFinePaid,
		check:     requireOutstanding,
		apply: func(update *loans.SettlementUpdate, at time.Time) {
			update.PaidAt = &at
		},
	})
}

func (s *service) Waive(ctx context.Context, input WaiveInput) (*models.LoanRecord, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	return s.settle(ctx, input.LoanRecordID, input.ActorID, transition{
		operation: opWaive,
		logLine:   "fine waived",
		to:        enums.PaymentStatusWaived,
		eventType: enums.FineEventWaived,
		outbox:    enums.EventFineWaived,
		reason:    &reason,
		check:     requireOutstanding,
		apply: func(update *loans.SettlementUpdate, at time.Time) {
			update.WaivedAt = &at
			update.WaiveReason = &reason
		},
	})
}

// RevertToUnpaid reopens a settled fine. The settlement columns are cleared;
// fine_events keeps the history.
func (s *service) RevertToUnpaid(ctx context.Context, input RevertInput) (*models.LoanRecord, error) {
	var reason *string
	if trimmed := strings.TrimSpace(input.Reason); trimmed != "" {
		reason = &trimmed
	}
	return s.settle(ctx, input.LoanRecordID, input.ActorID, transition{
		operation: opRevert,
		logLine:   "fine reverted to unpaid",
		to:        enums.PaymentStatusPending,
		eventType: enums.FineEventReverted,
		outbox:    enums.EventFineReverted,
		reason:    reason,
		check: func(loan *models.LoanRecord) error {
			if loan.PaymentStatus.IsSettled() {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeNothingToRevert, fmt.Sprintf("fine is %s", loan.PaymentStatus)).
				WithDetails(statusDetails(loan))
		},
		apply: func(*loans.SettlementUpdate, time.Time) {},
	})
}

func (s *service) History(ctx context.Context, loanID uuid.UUID) ([]models.FineEvent, error) {
	if loanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	if _, err := s.repo.FindByID(ctx, loanID); err != nil {
		return nil, db.WrapError(err, "loan record not found")
	}
	events, err := s.repo.ListFineEvents(ctx, loanID)
	if err != nil {
		return nil, db.WrapError(err, "list fine events")
	}
	return events, nil
}

func (s *service) settle(ctx context.Context, loanID uuid.UUID, actorID string, t transition) (*models.LoanRecord, error) {
	if loanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	// asset_id never changes, so it is safe to read before locking
	current, err := s.repo.FindByID(ctx, loanID)
	if err != nil {
		return nil, db.WrapError(err, "loan record not found")
	}

	var updated *models.LoanRecord
	keys := []string{locks.LoanKey(loanID), locks.AssetKey(current.AssetID)}
	err = s.runner.Run(ctx, t.operation, keys, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loan, err := repo.LockByID(ctx, loanID)
		if err != nil {
			return db.WrapError(err, "lock loan record")
		}
		if err := t.check(loan); err != nil {
			return err
		}
		from := loan.PaymentStatus
		if !from.CanTransition(t.to) {
			return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("fine cannot move from %s to %s", from, t.to)).
				WithDetails(statusDetails(loan))
		}

		now := s.now()
		update := loans.SettlementUpdate{
			ID:      loan.ID,
			Version: loan.Version,
			From:    from,
			To:      t.to,
			At:      now,
		}
		t.apply(&update, now)

		ok, err := repo.UpdateSettlement(ctx, update)
		if err != nil {
			return db.WrapError(err, "update payment status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeVersionConflict, "loan record changed concurrently").
				WithDetails(map[string]any{"loan_record_id": loan.ID})
		}

		next := *loan
		next.PaymentStatus = t.to
		next.PaidAt = update.PaidAt
		next.WaivedAt = update.WaivedAt
		next.WaiveReason = update.WaiveReason
		next.UpdatedAt = now
		next.Version++

		event := loans.NewFineEvent(&next, t.eventType, from, t.to, actorID, t.reason, now)
		if err := repo.AppendFineEvent(ctx, event); err != nil {
			return db.WrapError(err, "append fine event")
		}

		reason := ""
		if t.reason != nil {
			reason = *t.reason
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     t.outbox,
			AggregateType: enums.AggregateLoanRecord,
			AggregateID:   next.ID,
			Actor:         outbox.NewActorRef(actorID),
			OccurredAt:    now,
			Data: payloads.FineSettlementEvent{
				LoanRecordID: next.ID,
				PatronID:     next.PatronID,
				Amount:       next.PenaltyAmount,
				FromStatus:   from,
				ToStatus:     t.to,
				Reason:       reason,
				OccurredAt:   now,
			},
		}); err != nil {
			return err
		}

		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithLoanID(ctx, updated.ID.String())
		logCtx = s.logg.WithPatronID(logCtx, updated.PatronID.String())
		logCtx = s.logg.WithField(logCtx, "payment_status", updated.PaymentStatus)
		s.logg.Info(logCtx, t.logLine)
	}
	return updated, nil
}

// requireOutstanding accepts only a pending fine.
func requireOutstanding(loan *models.LoanRecord) error {
	switch loan.PaymentStatus {
	case enums.PaymentStatusPending:
		return nil
	case enums.PaymentStatusPaid, enums.PaymentStatusWaived:
		details := statusDetails(loan)
		if loan.PaidAt != nil {
			details["paid_at"] = loan.PaidAt
		}
		if loan.WaivedAt != nil {
			details["waived_at"] = loan.WaivedAt
		}
		return pkgerrors.New(pkgerrors.CodeAlreadySettled, fmt.Sprintf("fine already %s", loan.PaymentStatus)).
			WithDetails(details)
	default:
		return pkgerrors.New(pkgerrors.CodeNoOutstandingFine, "loan has no outstanding fine").
			WithDetails(statusDetails(loan))
	}
}

func statusDetails(loan *models.LoanRecord) map[string]any {
	return map[string]any{
		"loan_record_id": loan.ID,
		"payment_status": loan.PaymentStatus,
		"penalty_amount": loan.PenaltyAmount,
	}
}
