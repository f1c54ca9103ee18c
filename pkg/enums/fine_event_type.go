package enums

import "fmt"

// FineEventType maps to the fine_event_type_enum enum in Postgres.
type FineEventType string

const (
	FineEventAssessed FineEventType = "assessed"
	FineEventPaid     FineEventType = "paid"
	FineEventWaived   FineEventType = "waived"
	FineEventReverted FineEventType = "reverted"
)

var validFineEventTypes = []FineEventType{
	FineEventAssessed,
	FineEventPaid,
	FineEventWaived,
	FineEventReverted,
}

// IsValid reports whether the value matches the canonical fine event enum.
func (t FineEventType) IsValid() bool {
	for _, candidate := range validFineEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseFineEventType converts raw input into FineEventType.
func ParseFineEventType(value string) (FineEventType, error) {
	for _, candidate := range validFineEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fine event type %q", value)
}
