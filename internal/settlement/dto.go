package settlement

import "github.com/google/uuid"

// PayInput records a payment of the pending fine on a loan.
type PayInput struct {
	LoanRecordID uuid.UUID
	ActorID      string
}

// WaiveInput cancels the pending fine without payment. Reason is required.
type WaiveInput struct {
	LoanRecordID uuid.UUID
	Reason       string
	ActorID      string
}

// RevertInput reopens a paid or waived fine for correction.
type RevertInput struct {
	LoanRecordID uuid.UUID
	Reason       string
	ActorID      string
}
