package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
	"github.com/angelmondragon/circulation-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	loanID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.LoanReturnedEvent{
		LoanRecordID:  loanID,
		AssetID:       uuid.New(),
		PatronID:      uuid.New(),
		ReturnedAt:    time.Date(2024, 6, 13, 9, 0, 0, 0, time.UTC),
		DaysLate:      3,
		PenaltyAmount: decimal.RequireFromString("1.50"),
		PaymentStatus: enums.PaymentStatusPending,
	})

	event := models.OutboxEvent{
		EventType:     enums.EventLoanReturned,
		AggregateType: enums.AggregateLoanRecord,
		AggregateID:   loanID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "circulation-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.LoanReturnedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.LoanRecordID != loanID || payload.DaysLate != 3 {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if !payload.PenaltyAmount.Equal(decimal.RequireFromString("1.50")) {
		t.Fatalf("unexpected penalty %s", payload.PenaltyAmount)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
}

func TestEventRegistryCoversEveryEventType(t *testing.T) {
	reg := newTestEventRegistry(t)

	registered := map[enums.OutboxEventType]bool{}
	for _, eventType := range reg.EventTypes() {
		registered[eventType] = true
	}
	for _, eventType := range []enums.OutboxEventType{
		enums.EventAssetAccessioned,
		enums.EventLoanBorrowed,
		enums.EventLoanReturned,
		enums.EventLoanOverdue,
		enums.EventAssetReportedLost,
		enums.EventAssetRestored,
		enums.EventFineAssessed,
		enums.EventFinePaid,
		enums.EventFineWaived,
		enums.EventFineReverted,
	} {
		if !registered[eventType] {
			t.Fatalf("event type %s not registered", eventType)
		}
	}
}

func TestEventRegistrySettlementEventsShareShape(t *testing.T) {
	reg := newTestEventRegistry(t)

	payloadBytes := mustMarshal(t, payloads.FineSettlementEvent{
		LoanRecordID: uuid.New(),
		PatronID:     uuid.New(),
		Amount:       decimal.RequireFromString("20.00"),
		FromStatus:   enums.PaymentStatusPending,
		ToStatus:     enums.PaymentStatusWaived,
		Reason:       "damaged in flood",
	})
	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventFineWaived,
		AggregateType: enums.AggregateLoanRecord,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, payloadBytes),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload, ok := resolved.Payload.(*payloads.FineSettlementEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.ToStatus != enums.PaymentStatusWaived || payload.Reason != "damaged in flood" {
		t.Fatalf("payload mismatch %+v", payload)
	}
}

func TestEventRegistryResolveUnknownEvent(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.OutboxEventType("shelf_reorganized"),
		AggregateType: enums.AggregateAsset,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"shelf":"A1"}`)),
	}

	assertNonRetryable(t, reg, event)
}

func TestEventRegistryResolveAggregateMismatch(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventLoanBorrowed,
		AggregateType: enums.AggregateAsset,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"loan_record_id":"00000000-0000-0000-0000-000000000000"}`)),
	}

	assertNonRetryable(t, reg, event)
}

func TestEventRegistryResolveMissingAggregateID(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventAssetAccessioned,
		AggregateType: enums.AggregateAsset,
		AggregateID:   uuid.Nil,
		Payload:       mustEnvelope(t, []byte(`{}`)),
	}

	assertNonRetryable(t, reg, event)
}

func TestEventRegistryResolveNullPayload(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventAssetRestored,
		AggregateType: enums.AggregateAsset,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte("null")),
	}

	assertNonRetryable(t, reg, event)
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{CirculationTopic: "  "}); err == nil {
		t.Fatalf("expected error for blank topic")
	}
}

func assertNonRetryable(t *testing.T, reg *EventRegistry, event models.OutboxEvent) {
	t.Helper()
	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %T", err)
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{CirculationTopic: "circulation-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
