package repo

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/xxxsen/recall/internal/config"
	"github.com/xxxsen/recall/internal/db"
)

const testEmbeddingDim = 4

// testDB opens the database named by TEST_DB_HOST and friends, applying
// migrations on first use. Tests are skipped when no database is
// configured so the rest of the suite stays runnable offline.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping database tests")
	}
	port := 5432
	if v := os.Getenv("TEST_DB_PORT"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			t.Fatalf("bad TEST_DB_PORT: %v", err)
		}
		port = parsed
	}
	database, err := db.Open(config.DatabaseConfig{
		Host:     host,
		Port:     port,
		User:     envOr("TEST_DB_USER", "postgres"),
		Password: envOr("TEST_DB_PASSWORD", "postgres"),
		DBName:   envOr("TEST_DB_NAME", "recall_test"),
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// cleanupUser removes one test user's rows so runs stay independent.
func cleanupUser(t *testing.T, database *sql.DB, userID string) {
	t.Helper()
	for _, table := range []string{"note_chunks", "query_logs"} {
		if _, err := database.Exec(fmt.Sprintf("DELETE FROM %s WHERE user_id = $1", table), userID); err != nil {
			t.Fatalf("cleanup %s: %v", table, err)
		}
	}
}
