//go:build integration

/*
Package testutil provides testing utilities for integration tests with external services.

# Overview

This package contains infrastructure for running integration tests against real
external services using testcontainers. It's designed to provide high-fidelity
testing while maintaining isolation and reproducibility.

# Postgres Integration Testing

The primary component is PostgresContainer, which manages a Docker-based
Postgres instance for testing internal/persistence/sqlstore against a real
database.

## Usage

	func TestMain(m *testing.M) {
		ctx := context.Background()

		pg, err := testutil.StartPostgresContainer(ctx)
		if err != nil {
			log.Fatal(err)
		}

		code := m.Run()

		pg.Stop(ctx)
		os.Exit(code)
	}

	func TestStoreAgainstPostgres(t *testing.T) {
		db, err := pg.Open()
		// ...
	}

# Build Tags

This package uses the `integration` build tag to prevent accidental inclusion
in regular test runs. Integration tests require Docker and take longer to run.

Run integration tests with:

	go test -tags=integration ./...

# Architecture

	┌─────────────────────────────────────────────────────────┐
	│                   Integration Test                       │
	├─────────────────────────────────────────────────────────┤
	│  testutil.StartPostgresContainer()                      │
	│           │                                              │
	│           ▼                                              │
	│  ┌─────────────────────────────────────┐                │
	│  │      PostgresContainer              │                │
	│  │  ┌─────────────────────────────┐   │                │
	│  │  │  Docker Container           │   │                │
	│  │  │  (postgres:16-alpine)       │   │                │
	│  │  └─────────────────────────────┘   │                │
	│  │  • Open()                          │                │
	│  │  • Stop()                          │                │
	│  └─────────────────────────────────────┘                │
	└─────────────────────────────────────────────────────────┘

# Related Documentation

  - [Testcontainers for Go](https://golang.testcontainers.org/)
*/
package testutil
