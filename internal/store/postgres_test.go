package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestPostgresKV(t *testing.T) {
	databaseURL := strings.TrimSpace(os.Getenv("LABPORTAL_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("LABPORTAL_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	kv, err := OpenPostgres(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer kv.Close()

	// Re-applying is a no-op.
	if err := ApplyMigrations(ctx, kv.db, Migrations()); err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}

	_ = kv.Remove(ctx, "user")
	exerciseKV(t, kv)
}
