package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matching %s", pattern)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestLoanRecordsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_loan_records.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS loan_records",
		"FOREIGN KEY (asset_id) REFERENCES assets(id) ON DELETE RESTRICT",
		"CHECK ((payment_status = 'none') = (penalty_amount = 0))",
		"CHECK (due_at > borrowed_at)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_loan_records_active_asset",
		"WHERE returned_at IS NULL",
		"DROP TABLE IF EXISTS loan_records",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestAssetsMigrationContainsSchemas(t *testing.T) {
	content := readMigration(t, "*_create_titles_and_assets.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS titles",
		"CREATE TABLE IF NOT EXISTS assets",
		"custody_state custody_state_enum NOT NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_assets_barcode",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestOutboxMigrationScopesOverdueDedupe(t *testing.T) {
	content := readMigration(t, "*_create_outbox.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS outbox_events",
		"CREATE TABLE IF NOT EXISTS outbox_dlq",
		"ux_outbox_events_event_aggregate",
		"WHERE event_type = 'loan_overdue'",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
