// Package testutil provides shared test infrastructure: a PostgreSQL
// container with the pgvector extension, and a deterministic embedder
// for similarity tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xpert-ai/xpert-sub004/internal/database"
)

// TestDB is a PostgreSQL test container with the schema applied and a
// connection pool ready for use.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB starts a pgvector-enabled PostgreSQL container, applies
// the embedded migrations and opens a pool. Returns the database and a
// cleanup function; use SetupTestDBForMain when sharing one container
// across a package's tests via TestMain.
func SetupTestDB(t *testing.T) (*TestDB, func()) {
	t.Helper()
	db, cleanup, err := SetupTestDBForMain()
	if err != nil {
		t.Fatalf("starting test database: %v", err)
	}
	return db, cleanup
}

// SetupTestDBForMain is the TestMain-friendly variant of SetupTestDB:
// it reports errors instead of failing a *testing.T.
func SetupTestDBForMain() (*TestDB, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("xpert_test"),
		postgres.WithUsername("xpert_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("starting postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("resolving connection string: %w", err)
	}

	if err := database.Migrate(connStr); err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("applying migrations: %w", err)
	}

	pool, err := database.Open(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	db := &TestDB{Container: container, Pool: pool, ConnStr: connStr}
	cleanup := func() {
		pool.Close()
		_ = container.Terminate(context.Background())
	}
	return db, cleanup, nil
}

// CleanTables truncates all application tables for test isolation.
func CleanTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`TRUNCATE conversations, messages, executions, memories CASCADE`)
	if err != nil {
		t.Fatalf("truncating tables: %v", err)
	}
}
