package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/database"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/retry"
)

// PostgresImage is the server image integration tests run against.
const PostgresImage = "postgres:17-alpine"

// TestDB holds a shared test database container and connection pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	// ConnStr always carries a query string, so callers may append
	// "&key=value" parameters.
	ConnStr string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error

	registryOnce sync.Once
	registryErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

// GetRegistryDB returns the shared test database with the code registry
// bootstrap applied.
func GetRegistryDB(t *testing.T) *TestDB {
	t.Helper()

	testDB := GetTestDB(t)

	registryOnce.Do(func() {
		ctx := context.Background()
		sqlDB, err := database.Open(ctx, testDB.ConnStr)
		if err != nil {
			registryErr = err
			return
		}
		registryErr = database.RunMigrations(sqlDB, zap.NewNop())
	})

	if registryErr != nil {
		t.Fatalf("Failed to bootstrap code registry: %v", registryErr)
	}

	return testDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "harmony_test",
			"POSTGRES_USER":     "harmony",
			"POSTGRES_PASSWORD": "test_password",
		},
		// The entrypoint restarts the server once after initdb.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://harmony:test_password@%s:%s/harmony_test?sslmode=disable",
		host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	cfg := &retry.Config{MaxRetries: 10, InitialDelay: 250 * time.Millisecond, MaxDelay: time.Second, Multiplier: 1.5}
	if err := retry.Do(ctx, cfg, func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("test database not reachable: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
	}, nil
}
