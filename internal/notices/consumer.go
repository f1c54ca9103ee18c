package notices

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
	"github.com/angelmondragon/circulation-backend/pkg/outbox/payloads"
)

const consumerName = "patron-notices"

type noticeWriter interface {
	Create(ctx context.Context, notice *models.PatronNotice) (bool, error)
}

type claimGuard interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer turns circulation events into patron notices.
type Consumer struct {
	repo         noticeWriter
	subscription *pubsub.Subscriber
	guard        claimGuard
	logg         *logger.Logger
}

// NewConsumer builds a notices consumer over the circulation subscription.
func NewConsumer(repo noticeWriter, subscription *pubsub.Subscriber, guard claimGuard, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notices repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("circulation subscription required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		guard:        guard,
		logg:         logg,
	}, nil
}

// Run receives messages until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.handle(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// handle reports whether msg should be acked. Malformed messages are acked so
// they do not loop; storage failures are nacked for redelivery.
func (c *Consumer) handle(ctx context.Context, msg *pubsub.Message) bool {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if !handled(eventType) {
		return true
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return true
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return true
	}

	notice, err := buildNotice(eventType, envelope)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return true
	}
	if notice == nil {
		return true
	}
	notice.EventID = eventID

	claimed, err := c.guard.Claim(ctx, consumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	if !claimed {
		c.logg.Info(logCtx, "event already processed")
		return true
	}

	created, err := c.repo.Create(ctx, notice)
	if err != nil {
		c.logg.Error(logCtx, "failed to store notice", err)
		if relErr := c.guard.Release(ctx, consumerName, eventID); relErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency claim", relErr)
		}
		return false
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"patron_id": notice.PatronID.String(),
		"kind":      notice.Kind,
		"created":   created,
	})
	c.logg.Info(logCtx, "patron notice queued")
	return true
}

func handled(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventLoanOverdue, enums.EventFineAssessed, enums.EventAssetReportedLost, enums.EventFineWaived:
		return true
	}
	return false
}

// buildNotice returns nil for events that carry nothing worth telling the patron.
func buildNotice(eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) (*models.PatronNotice, error) {
	notice := &models.PatronNotice{CreatedAt: envelope.OccurredAt.UTC()}

	switch eventType {
	case enums.EventLoanOverdue:
		var p payloads.LoanOverdueEvent
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			return nil, err
		}
		notice.PatronID, notice.LoanRecordID = p.PatronID, p.LoanRecordID
		notice.Kind = enums.NoticeOverdue
		notice.Message = fmt.Sprintf("Your loan was due %s and is %d day(s) late. Fine so far: %s.",
			p.DueAt.UTC().Format("2006-01-02"), p.DaysLate, p.AccruedPenalty.StringFixed(2))

	case enums.EventFineAssessed:
		var p payloads.FineAssessedEvent
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			return nil, err
		}
		if p.Lost {
			// the asset_reported_lost event carries this notice
			return nil, nil
		}
		notice.PatronID, notice.LoanRecordID = p.PatronID, p.LoanRecordID
		notice.Kind = enums.NoticeFineAssessed
		notice.Message = fmt.Sprintf("A late fee of %s was assessed on your returned item.", p.Amount.StringFixed(2))

	case enums.EventAssetReportedLost:
		var p payloads.AssetReportedLostEvent
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			return nil, err
		}
		notice.PatronID, notice.LoanRecordID = p.PatronID, p.LoanRecordID
		notice.Kind = enums.NoticeAssetLost
		notice.Message = fmt.Sprintf("An item on your account was reported lost. Replacement charge: %s.", p.PenaltyAmount.StringFixed(2))

	case enums.EventFineWaived:
		var p payloads.FineSettlementEvent
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			return nil, err
		}
		notice.PatronID, notice.LoanRecordID = p.PatronID, p.LoanRecordID
		notice.Kind = enums.NoticeFineWaived
		notice.Message = fmt.Sprintf("Your fine of %s was waived.", p.Amount.StringFixed(2))

	default:
		return nil, nil
	}

	if notice.PatronID == uuid.Nil || notice.LoanRecordID == uuid.Nil {
		return nil, fmt.Errorf("%s payload missing patron or loan record", eventType)
	}
	return notice, nil
}
