// Package testutil provides shared test infrastructure.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ragstack/ragstack/db"
	"github.com/ragstack/ragstack/internal/database"
	"github.com/ragstack/ragstack/internal/log"
)

// TestDB is an isolated PostgreSQL instance with the pgvector extension and
// the full schema applied.
type TestDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

// SetupTestDB starts a pgvector-enabled PostgreSQL container, runs the
// migrations and returns a ready connection pool. Cleanup is registered on t.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("ragstack_test"),
		postgres.WithUsername("ragstack_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	if err := db.Migrate(connStr, log.NewNop()); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	pool, err := database.NewPool(ctx, connStr)
	if err != nil {
		t.Fatalf("creating connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return &TestDB{Pool: pool, ConnStr: connStr}
}
