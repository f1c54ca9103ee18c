package controllers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/internal/queries"
	"github.com/angelmondragon/circulation-backend/internal/recovery"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// Amounts are rendered as fixed two-place strings so clients never see
// float rounding.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func optionalMoney(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	v := money(d.Decimal)
	return &v
}

type titleResponse struct {
	ID              uuid.UUID `json:"id"`
	ISBN            *string   `json:"isbn,omitempty"`
	Name            string    `json:"name"`
	Author          *string   `json:"author,omitempty"`
	DailyFineRate   *string   `json:"daily_fine_rate,omitempty"`
	ReplacementCost *string   `json:"replacement_cost,omitempty"`
}

func newTitleResponse(t models.Title) titleResponse {
	return titleResponse{
		ID:              t.ID,
		ISBN:            t.ISBN,
		Name:            t.Name,
		Author:          t.Author,
		DailyFineRate:   optionalMoney(t.DailyFineRate),
		ReplacementCost: optionalMoney(t.ReplacementCost),
	}
}

type assetResponse struct {
	ID             uuid.UUID          `json:"id"`
	TitleID        uuid.UUID          `json:"title_id"`
	Barcode        string             `json:"barcode"`
	CustodyState   enums.CustodyState `json:"custody_state"`
	Version        int64              `json:"version"`
	StateChangedAt time.Time          `json:"state_changed_at"`
	Title          *titleResponse     `json:"title,omitempty"`
}

func newAssetResponse(a models.Asset, title *models.Title) assetResponse {
	out := assetResponse{
		ID:             a.ID,
		TitleID:        a.TitleID,
		Barcode:        a.Barcode,
		CustodyState:   a.CustodyState,
		Version:        a.Version,
		StateChangedAt: a.StateChangedAt,
	}
	if title != nil {
		t := newTitleResponse(*title)
		out.Title = &t
	}
	return out
}

type loanResponse struct {
	ID            uuid.UUID           `json:"id"`
	AssetID       uuid.UUID           `json:"asset_id"`
	PatronID      uuid.UUID           `json:"patron_id"`
	BorrowedAt    time.Time           `json:"borrowed_at"`
	DueAt         time.Time           `json:"due_at"`
	ReturnedAt    *time.Time          `json:"returned_at"`
	Lost          bool                `json:"lost"`
	PenaltyAmount string              `json:"penalty_amount"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	WaivedAt      *time.Time          `json:"waived_at,omitempty"`
	WaiveReason   *string             `json:"waive_reason,omitempty"`
	Version       int64               `json:"version"`
}

func newLoanResponse(l models.LoanRecord) loanResponse {
	return loanResponse{
		ID:            l.ID,
		AssetID:       l.AssetID,
		PatronID:      l.PatronID,
		BorrowedAt:    l.BorrowedAt,
		DueAt:         l.DueAt,
		ReturnedAt:    l.ReturnedAt,
		Lost:          l.Lost,
		PenaltyAmount: money(l.PenaltyAmount),
		PaymentStatus: l.PaymentStatus,
		PaidAt:        l.PaidAt,
		WaivedAt:      l.WaivedAt,
		WaiveReason:   l.WaiveReason,
		Version:       l.Version,
	}
}

func newLoanResponses(rows []models.LoanRecord) []loanResponse {
	out := make([]loanResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, newLoanResponse(row))
	}
	return out
}

type loanWithAssetResponse struct {
	Loan  loanResponse  `json:"loan"`
	Asset assetResponse `json:"asset"`
}

type fineEventResponse struct {
	ID         uuid.UUID           `json:"id"`
	Type       enums.FineEventType `json:"type"`
	Amount     string              `json:"amount"`
	FromStatus enums.PaymentStatus `json:"from_status"`
	ToStatus   enums.PaymentStatus `json:"to_status"`
	ActorID    *string             `json:"actor_id,omitempty"`
	Reason     *string             `json:"reason,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

func newFineEventResponses(rows []models.FineEvent) []fineEventResponse {
	out := make([]fineEventResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, fineEventResponse{
			ID:         row.ID,
			Type:       row.Type,
			Amount:     money(row.Amount),
			FromStatus: row.FromStatus,
			ToStatus:   row.ToStatus,
			ActorID:    row.ActorID,
			Reason:     row.Reason,
			CreatedAt:  row.CreatedAt,
		})
	}
	return out
}

type restoreResponse struct {
	Asset         assetResponse `json:"asset"`
	GoverningLoan loanResponse  `json:"governing_loan"`
}

type eligibilityResponse struct {
	AssetID              uuid.UUID            `json:"asset_id"`
	CustodyState         enums.CustodyState   `json:"custody_state"`
	Restorable           bool                 `json:"restorable"`
	GoverningLoanID      *uuid.UUID           `json:"governing_loan_id,omitempty"`
	GoverningStatus      *enums.PaymentStatus `json:"governing_payment_status,omitempty"`
	BlockingLoanRecordID *uuid.UUID           `json:"blocking_loan_record_id,omitempty"`
	BlockingAmount       *string              `json:"blocking_amount,omitempty"`
}

func newEligibilityResponse(e recovery.Eligibility) eligibilityResponse {
	out := eligibilityResponse{
		AssetID:              e.AssetID,
		CustodyState:         e.CustodyState,
		Restorable:           e.Restorable,
		GoverningLoanID:      e.GoverningLoanID,
		GoverningStatus:      e.GoverningStatus,
		BlockingLoanRecordID: e.BlockingLoanRecordID,
	}
	if e.BlockingAmount != nil {
		v := money(*e.BlockingAmount)
		out.BlockingAmount = &v
	}
	return out
}

type patronStatsResponse struct {
	TotalLoans   int64  `json:"total_loans"`
	ActiveLoans  int64  `json:"active_loans"`
	OverdueLoans int64  `json:"overdue_loans"`
	LostLoans    int64  `json:"lost_loans"`
	TotalFines   string `json:"total_fines"`
	PendingFines string `json:"pending_fines"`
	PaidFines    string `json:"paid_fines"`
	WaivedFines  string `json:"waived_fines"`
}

type patronHistoryResponse struct {
	PatronID uuid.UUID           `json:"patron_id"`
	AsOf     time.Time           `json:"as_of"`
	Stats    patronStatsResponse `json:"stats"`
	Loans    []loanResponse      `json:"loans"`
	Cursor   string              `json:"cursor"`
}

func newPatronHistoryResponse(h queries.PatronHistory) patronHistoryResponse {
	return patronHistoryResponse{
		PatronID: h.PatronID,
		AsOf:     h.AsOf,
		Stats: patronStatsResponse{
			TotalLoans:   h.Stats.TotalLoans,
			ActiveLoans:  h.Stats.ActiveLoans,
			OverdueLoans: h.Stats.OverdueLoans,
			LostLoans:    h.Stats.LostLoans,
			TotalFines:   money(h.Stats.TotalFines),
			PendingFines: money(h.Stats.PendingFines),
			PaidFines:    money(h.Stats.PaidFines),
			WaivedFines:  money(h.Stats.WaivedFines),
		},
		Loans:  newLoanResponses(h.Loans),
		Cursor: h.Cursor,
	}
}

type outstandingFinesResponse struct {
	Items  []loanResponse `json:"items"`
	Total  string         `json:"total"`
	Cursor string         `json:"cursor"`
}

type lostAssetResponse struct {
	Asset           assetResponse       `json:"asset"`
	GoverningLoanID *uuid.UUID          `json:"governing_loan_id,omitempty"`
	PenaltyAmount   string              `json:"penalty_amount"`
	PaymentStatus   enums.PaymentStatus `json:"payment_status,omitempty"`
	Restorable      bool                `json:"restorable"`
}

type lostAssetsResponse struct {
	Items  []lostAssetResponse `json:"items"`
	Cursor string              `json:"cursor"`
}

func newLostAssetsResponse(page queries.LostAssets) lostAssetsResponse {
	items := make([]lostAssetResponse, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, lostAssetResponse{
			Asset:           newAssetResponse(item.Asset, nil),
			GoverningLoanID: item.GoverningLoanID,
			PenaltyAmount:   money(item.PenaltyAmount),
			PaymentStatus:   item.PaymentStatus,
			Restorable:      item.Restorable,
		})
	}
	return lostAssetsResponse{Items: items, Cursor: page.Cursor}
}

type overdueLoanResponse struct {
	Loan           loanResponse `json:"loan"`
	TitleID        uuid.UUID    `json:"title_id"`
	DaysOverdue    int64        `json:"days_overdue"`
	AccruedPenalty string       `json:"accrued_penalty"`
}

type overdueLoansResponse struct {
	AsOf   time.Time             `json:"as_of"`
	Items  []overdueLoanResponse `json:"items"`
	Cursor string                `json:"cursor"`
}

func newOverdueLoansResponse(page queries.OverdueLoans) overdueLoansResponse {
	items := make([]overdueLoanResponse, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, overdueLoanResponse{
			Loan:           newLoanResponse(item.Loan),
			TitleID:        item.TitleID,
			DaysOverdue:    item.DaysOverdue,
			AccruedPenalty: money(item.AccruedPenalty),
		})
	}
	return overdueLoansResponse{AsOf: page.AsOf, Items: items, Cursor: page.Cursor}
}

type changeResponse struct {
	ID            uuid.UUID                 `json:"id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   uuid.UUID                 `json:"aggregate_id"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Payload       json.RawMessage           `json:"payload"`
}

type changesResponse struct {
	Items   []changeResponse `json:"items"`
	Cursor  string           `json:"cursor"`
	HasMore bool             `json:"has_more"`
}

func newChangesResponse(page queries.Changes) changesResponse {
	items := make([]changeResponse, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, changeResponse{
			ID:            item.ID,
			EventType:     item.EventType,
			AggregateType: item.AggregateType,
			AggregateID:   item.AggregateID,
			OccurredAt:    item.OccurredAt,
			Payload:       item.Payload,
		})
	}
	return changesResponse{Items: items, Cursor: page.Cursor, HasMore: page.HasMore}
}
