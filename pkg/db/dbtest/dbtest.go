// Package dbtest opens isolated in-memory sqlite databases with the circulation schema.
package dbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/db"
)

// Open returns a client backed by a fresh in-memory database that is closed
// when the test finishes.
func Open(t testing.TB) *db.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	client, err := db.NewSQLite(context.Background(), dsn, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}
