//go:build integration

// Package testutil provides integration-test helpers: a disposable
// Postgres instance for exercising the Dispatch Store against a real
// database, following the teacher's testcontainers-go harness.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/latticerun/dispatcher/internal/infrastructure/storage"
)

// TestDB encapsulates a disposable Postgres-backed Dispatch Store.
type TestDB struct {
	DB        *bun.DB
	Store     *storage.DispatchStore
	container testcontainers.Container
	dsn       string
}

// SetupTestDB starts a Postgres 16 container, opens a bun.DB against it,
// and creates the dispatches table (§4.6).
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "dispatcher_test",
			"POSTGRES_PASSWORD": "dispatcher_test",
			"POSTGRES_DB":       "dispatcher_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://dispatcher_test:dispatcher_test@%s:%s/dispatcher_test?sslmode=disable", host, port.Port())

	// Give Postgres a moment past "ready to accept connections" before the
	// first real connection attempt, matching the teacher's harness.
	time.Sleep(500 * time.Millisecond)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	require.NoError(t, db.Ping(), "failed to connect to PostgreSQL")

	store := storage.NewDispatchStore(db)
	require.NoError(t, store.CreateSchema(ctx), "failed to create dispatches table")

	testDB := &TestDB{DB: db, Store: store, container: container, dsn: dsn}
	t.Cleanup(func() { testDB.Cleanup(t) })

	return testDB
}

// GetDSN returns the connection string for the running container.
func (td *TestDB) GetDSN() string {
	return td.dsn
}

// Reset truncates the dispatches table between tests.
func (td *TestDB) Reset(t *testing.T) {
	t.Helper()
	_, err := td.DB.NewTruncateTable().Table("dispatches").Exec(context.Background())
	if err != nil {
		t.Logf("warning: failed to truncate dispatches table: %v", err)
	}
}

// Cleanup closes the database handle and terminates the container.
func (td *TestDB) Cleanup(t *testing.T) {
	t.Helper()

	if td.DB != nil {
		_ = td.DB.Close()
	}
	if td.container != nil {
		if err := td.container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}
}
