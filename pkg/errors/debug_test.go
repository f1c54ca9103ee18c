package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDumpSurfacesPostgresConstraint(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "ux_loan_records_active_asset",
		TableName:      "loan_records",
		Message:        "duplicate key value violates unique constraint",
	}
	err := Wrap(CodeConflict, fmt.Errorf("insert loan record: %w", pgErr), "asset already on loan")

	dump := Dump(err)
	if dump.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %q", dump.Code)
	}
	if dump.PGConstraint != "ux_loan_records_active_asset" || dump.PGTable != "loan_records" {
		t.Fatalf("postgres fields not extracted: %+v", dump)
	}
	if len(dump.Chain) < 2 {
		t.Fatalf("expected wrapped chain, got %v", dump.Chain)
	}

	fields := dump.Fields()
	if fields["pg_code"] != "23505" {
		t.Fatalf("expected pg_code field, got %v", fields)
	}
	if _, ok := fields["pg_column"]; ok {
		t.Fatalf("empty pg_column should be omitted: %v", fields)
	}
}

func TestDumpReadsLibPQErrors(t *testing.T) {
	dump := Dump(fmt.Errorf("update fine: %w", &pq.Error{Code: "40001", Table: "loan_records"}))
	if dump.PGCode != "40001" || dump.PGTable != "loan_records" {
		t.Fatalf("pq fields not extracted: %+v", dump)
	}
	if dump.Code != "" {
		t.Fatalf("untyped error should carry no code, got %q", dump.Code)
	}
}

func TestDumpOfPlainErrorHasNoPostgresFields(t *testing.T) {
	fields := Dump(New(CodeNotFound, "loan record not found")).Fields()
	for _, key := range []string{"pg_code", "pg_table", "pg_constraint"} {
		if _, ok := fields[key]; ok {
			t.Fatalf("unexpected %s in %v", key, fields)
		}
	}
	if len(Dump(nil).Chain) != 0 {
		t.Fatal("nil error should dump empty")
	}
}
