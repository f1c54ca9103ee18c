package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateAsset      OutboxAggregateType = "asset"
	AggregateLoanRecord OutboxAggregateType = "loan_record"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateAsset,
	AggregateLoanRecord,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventAssetAccessioned  OutboxEventType = "asset_accessioned"
	EventLoanBorrowed      OutboxEventType = "loan_borrowed"
	EventLoanReturned      OutboxEventType = "loan_returned"
	EventLoanOverdue       OutboxEventType = "loan_overdue"
	EventAssetReportedLost OutboxEventType = "asset_reported_lost"
	EventAssetRestored     OutboxEventType = "asset_restored"
	EventFineAssessed      OutboxEventType = "fine_assessed"
	EventFinePaid          OutboxEventType = "fine_paid"
	EventFineWaived        OutboxEventType = "fine_waived"
	EventFineReverted      OutboxEventType = "fine_reverted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventAssetAccessioned,
	EventLoanBorrowed,
	EventLoanReturned,
	EventLoanOverdue,
	EventAssetReportedLost,
	EventAssetRestored,
	EventFineAssessed,
	EventFinePaid,
	EventFineWaived,
	EventFineReverted,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
