package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/dbtest"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
	"github.com/angelmondragon/circulation-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/circulation-backend/pkg/outbox/registry"
)

type recordedMetrics struct {
	batches    int
	dispatched map[string]int
}

func (m *recordedMetrics) ObserveDispatch(eventType, outcome string) {
	if m.dispatched == nil {
		m.dispatched = map[string]int{}
	}
	m.dispatched[outcome]++
}

func (m *recordedMetrics) ObserveBatch(time.Time, error) {
	m.batches++
}

func emitCirculationEvent(t *testing.T, client *db.Client, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, data any, at time.Time) {
	t.Helper()
	events := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return events.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: aggregate,
			AggregateID:   uuid.New(),
			Data:          data,
			OccurredAt:    at,
		})
	})
	if err != nil {
		t.Fatalf("emit %s: %v", eventType, err)
	}
}

func findOutboxRow(t *testing.T, client *db.Client, eventType enums.OutboxEventType) models.OutboxEvent {
	t.Helper()
	var row models.OutboxEvent
	if err := client.DB().Where("event_type = ?", eventType).First(&row).Error; err != nil {
		t.Fatalf("load %s row: %v", eventType, err)
	}
	return row
}

func TestProcessBatchDeadLettersIntoStoreAndCommitsPublishedRows(t *testing.T) {
	client := dbtest.Open(t)
	base := time.Now().UTC().Add(-time.Hour)

	emitCirculationEvent(t, client, enums.EventAssetAccessioned, enums.AggregateAsset,
		payloads.AssetAccessionedEvent{AssetID: uuid.New(), TitleID: uuid.New(), Barcode: "LIB-0001"}, base)
	emitCirculationEvent(t, client, enums.EventFinePaid, enums.AggregateLoanRecord, nil, base.Add(time.Minute))
	emitCirculationEvent(t, client, enums.EventLoanBorrowed, enums.AggregateLoanRecord,
		payloads.LoanBorrowedEvent{LoanRecordID: uuid.New(), AssetID: uuid.New(), PatronID: uuid.New()}, base.Add(2*time.Minute))

	eventRegistry, err := registry.NewEventRegistry(config.PubSubConfig{CirculationTopic: "circulation-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{},
		fakePublishResult{err: status.Error(codes.InvalidArgument, "attribute too long")},
	}}
	recorder := &recordedMetrics{}
	dlq := outbox.NewDLQRepository(client.DB())
	service, err := NewService(ServiceParams{
		Config: &config.Config{Outbox: config.OutboxConfig{BatchSize: 10, PollIntervalMS: 50, MaxAttempts: 3}},
		Logger: logger.New(logger.Options{
			ServiceName: "outbox-publisher-test",
			Output:      io.Discard,
		}),
		DB:               client,
		PubSub:           &fakePubSubClient{},
		Repository:       outbox.NewRepository(client.DB()),
		Registry:         eventRegistry,
		DLQRepository:    dlq,
		PublisherFactory: func(string) publisher { return pub },
		Metrics:          recorder,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected rows to be claimed")
	}

	if row := findOutboxRow(t, client, enums.EventAssetAccessioned); row.PublishedAt == nil {
		t.Fatalf("published row was not committed")
	}

	fineRow := findOutboxRow(t, client, enums.EventFinePaid)
	if fineRow.PublishedAt != nil || fineRow.AttemptCount != 3 {
		t.Fatalf("unresolvable row should be parked, got attempts=%d", fineRow.AttemptCount)
	}
	entry, err := dlq.FindByEventID(context.Background(), fineRow.ID)
	if err != nil {
		t.Fatalf("find dlq entry: %v", err)
	}
	if entry == nil || entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("expected non_retryable dlq entry, got %+v", entry)
	}

	entries, err := dlq.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two dead letters, got %d", len(entries))
	}
	if recorder.dispatched["published"] != 1 || recorder.dispatched["dead_lettered"] != 2 {
		t.Fatalf("unexpected dispatch counts %v", recorder.dispatched)
	}

	processed, err = service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("second batch returned error: %v", err)
	}
	if processed {
		t.Fatalf("nothing should be left to claim")
	}
	if len(pub.sent) != 2 {
		t.Fatalf("rows were republished: %d sends", len(pub.sent))
	}
	if recorder.batches != 1 {
		t.Fatalf("empty polls should not be observed, got %d batches", recorder.batches)
	}
}
