//go:build integration

// Package testutil provides testing utilities for integration tests
// against real external services, run behind the "integration" build tag.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// PostgresPort is the port Postgres listens on inside the container.
	PostgresPort = "5432/tcp"

	// PostgresUser, PostgresPassword, PostgresDB are the credentials the
	// container is seeded with.
	PostgresUser     = "instanceresolver"
	PostgresPassword = "instanceresolver"
	PostgresDB       = "instanceresolver"

	// StartupTimeout bounds how long to wait for Postgres to accept
	// connections.
	StartupTimeout = 60 * time.Second
)

// PostgresContainer holds testcontainer configuration and state for a
// Postgres instance backing internal/persistence/sqlstore integration
// tests.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgresContainer starts a Postgres container for integration
// testing, following the same build-request/wait-strategy/mapped-port
// shape a Keycloak container would use.
func StartPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{PostgresPort},
		Env: map[string]string{
			"POSTGRES_USER":     PostgresUser,
			"POSTGRES_PASSWORD": PostgresPassword,
			"POSTGRES_DB":       PostgresDB,
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp").WithStartupTimeout(StartupTimeout),
			wait.ForLog("database system is ready to accept connections"),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get host: %w", err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		PostgresUser, PostgresPassword, host, mappedPort.Port(), PostgresDB)

	return &PostgresContainer{Container: container, DSN: dsn}, nil
}

// Stop terminates the Postgres container.
func (pc *PostgresContainer) Stop(ctx context.Context) error {
	if pc.Container != nil {
		return pc.Container.Terminate(ctx)
	}
	return nil
}

// Open opens a *sql.DB against the container, using lib/pq.
func (pc *PostgresContainer) Open() (*sql.DB, error) {
	return sql.Open("postgres", pc.DSN)
}
