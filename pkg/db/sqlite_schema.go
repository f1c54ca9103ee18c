package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// SQLiteSchema mirrors the goose migrations for local sqlite runs and tests.
// Enum columns become CHECK constraints; uuids are stored as text.
var SQLiteSchema = []string{
	`CREATE TABLE IF NOT EXISTS titles (
		id TEXT PRIMARY KEY,
		isbn TEXT,
		name TEXT NOT NULL,
		author TEXT,
		daily_fine_rate NUMERIC CHECK (daily_fine_rate IS NULL OR daily_fine_rate >= 0),
		replacement_cost NUMERIC CHECK (replacement_cost IS NULL OR replacement_cost >= 0),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		title_id TEXT NOT NULL REFERENCES titles(id),
		barcode TEXT NOT NULL,
		custody_state TEXT NOT NULL CHECK (custody_state IN ('available','on_loan','lost')),
		version INTEGER NOT NULL DEFAULT 0,
		state_changed_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_assets_barcode ON assets (barcode)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_custody_state ON assets (custody_state, state_changed_at)`,
	`CREATE TABLE IF NOT EXISTS loan_records (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id),
		patron_id TEXT NOT NULL,
		borrowed_at TIMESTAMP NOT NULL,
		due_at TIMESTAMP NOT NULL,
		returned_at TIMESTAMP,
		lost BOOLEAN NOT NULL DEFAULT 0,
		penalty_amount NUMERIC NOT NULL DEFAULT 0 CHECK (penalty_amount >= 0),
		payment_status TEXT NOT NULL DEFAULT 'none' CHECK (payment_status IN ('none','pending','paid','waived')),
		paid_at TIMESTAMP,
		waived_at TIMESTAMP,
		waive_reason TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK ((payment_status = 'none') = (penalty_amount = 0)),
		CHECK (due_at > borrowed_at)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_loan_records_active_asset ON loan_records (asset_id) WHERE returned_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_loan_records_asset_borrowed ON loan_records (asset_id, borrowed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_loan_records_patron ON loan_records (patron_id, borrowed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_loan_records_payment_status ON loan_records (payment_status)`,
	`CREATE TABLE IF NOT EXISTS fine_events (
		id TEXT PRIMARY KEY,
		loan_record_id TEXT NOT NULL REFERENCES loan_records(id),
		patron_id TEXT NOT NULL,
		actor_id TEXT,
		type TEXT NOT NULL CHECK (type IN ('assessed','paid','waived','reverted')),
		amount NUMERIC NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		reason TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fine_events_loan ON fine_events (loan_record_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		published_at TIMESTAMP,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_events_event_aggregate ON outbox_events (event_type, aggregate_type, aggregate_id) WHERE event_type = 'loan_overdue'`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_created ON outbox_events (created_at, id)`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS patron_notices (
		id TEXT PRIMARY KEY,
		patron_id TEXT NOT NULL,
		loan_record_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('overdue','fine_assessed','asset_lost','fine_waived')),
		message TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_patron_notices_event ON patron_notices (event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_patron_notices_patron ON patron_notices (patron_id, created_at)`,
}

// EnsureSQLiteSchema creates the circulation tables when missing.
func EnsureSQLiteSchema(ctx context.Context, conn *gorm.DB) error {
	for _, stmt := range SQLiteSchema {
		if err := conn.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}
