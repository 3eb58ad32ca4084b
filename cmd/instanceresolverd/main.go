// Command instanceresolverd runs the Instance Resolver's ambient service
// shell: HTTP serving, CLI/config, persistence, the BPM bridge, pub/sub
// transport, and identity resolution. The declarative model definitions,
// the generated GraphQL schema, and the resolver registration that binds
// them together are all out of scope (spec.md §1) and are supplied by the
// deployment, not by this binary.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"instanceresolver/internal/bpm"
	idb "instanceresolver/internal/db"
	"instanceresolver/internal/identity"
	"instanceresolver/internal/logger"
	"instanceresolver/internal/persistence/sqlstore"
	"instanceresolver/internal/pubsub"
	"instanceresolver/internal/sequence"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "instanceresolverd",
		Usage:   "Instance Resolver - generic BPM-mediated editorial workflow resolver",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the resolver server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "host", Value: "0.0.0.0", EnvVars: []string{"INSTANCERESOLVER_HOST"}},
					&cli.IntFlag{Name: "port", Value: 8080, EnvVars: []string{"INSTANCERESOLVER_PORT"}},
					&cli.StringFlag{Name: "database", Value: "sqlite://./data/instanceresolver.db", EnvVars: []string{"INSTANCERESOLVER_DATABASE"}},
					&cli.StringFlag{Name: "bpm-url", Value: "http://localhost:8081/engine-rest", EnvVars: []string{"INSTANCERESOLVER_BPM_URL"}},
					&cli.StringFlag{Name: "redis-addr", EnvVars: []string{"INSTANCERESOLVER_REDIS_ADDR"}},
					&cli.StringFlag{Name: "identity-issuer-url", EnvVars: []string{"INSTANCERESOLVER_IDENTITY_ISSUER_URL"}},
					&cli.StringFlag{Name: "identity-realm", EnvVars: []string{"INSTANCERESOLVER_IDENTITY_REALM"}},
					&cli.StringFlag{Name: "identity-client-id", EnvVars: []string{"INSTANCERESOLVER_IDENTITY_CLIENT_ID"}},
					&cli.StringFlag{Name: "identity-client-secret", EnvVars: []string{"INSTANCERESOLVER_IDENTITY_CLIENT_SECRET"}},
					&cli.DurationFlag{Name: "rate-limit-window", Value: time.Minute, EnvVars: []string{"INSTANCERESOLVER_RATE_LIMIT_WINDOW"}},
					&cli.IntFlag{Name: "rate-limit-requests", Value: 300, EnvVars: []string{"INSTANCERESOLVER_RATE_LIMIT_REQUESTS"}},
					&cli.StringSliceFlag{Name: "audit-topics", EnvVars: []string{"INSTANCERESOLVER_AUDIT_TOPICS"}, Usage: "pub/sub lifecycle topics to audit-log, e.g. Manuscript.updated"},
				},
				Action: runServe,
			},
			{
				Name:  "migrate",
				Usage: "Apply a SQL schema file to the configured database",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "database", Value: "sqlite://./data/instanceresolver.db", EnvVars: []string{"INSTANCERESOLVER_DATABASE"}},
					&cli.StringFlag{Name: "schema-file", Required: true, Usage: "path to a SQL file with the instance tables/sequences DDL"},
				},
				Action: runMigrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// parseDatabase mirrors the teacher's sqlite://|postgresql:// URL scheme
// dispatch, adding directory creation for sqlite targets.
func parseDatabase(dbURL string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(dbURL, "sqlite://"):
		driver = "sqlite3"
		dsn = strings.TrimPrefix(dbURL, "sqlite://")
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return "", "", fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_fk=1"
		}
		return driver, dsn, nil
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		return "postgres", dbURL, nil
	default:
		return "", "", fmt.Errorf("unsupported database URL format: %s (use sqlite:// or postgresql://)", dbURL)
	}
}

// services bundles the collaborators every resolver.Resolver needs, built
// once per process and shared by every instance-type registration the
// (out-of-scope) model-definition loader performs on top of this shell.
type services struct {
	Store     *sqlstore.Store
	Sequences sequence.Allocator
	BPM       bpm.Client
	PubSub    pubsub.PubSub
	Identity  *identity.Resolver
}

func buildServices(ctx context.Context, c *cli.Context, conn *sql.DB, driver string) (*services, error) {
	store := sqlstore.New(conn, strings.ToLower)

	var sequences sequence.Allocator
	if driver == "postgres" {
		sequences = &sequence.PostgresAllocator{DB: conn}
	} else {
		sequences = sequence.NewMemoryAllocator()
	}

	bpmClient := bpm.NewHTTPClient(c.String("bpm-url"), http.DefaultClient, nil)

	var ps pubsub.PubSub
	if addr := c.String("redis-addr"); addr != "" {
		ps = pubsub.NewRedisPubSub(redis.NewClient(&redis.Options{Addr: addr}))
	} else {
		ps = pubsub.NewMemoryPubSub()
	}

	var identityResolver *identity.Resolver
	if issuer := c.String("identity-issuer-url"); issuer != "" {
		resolver, err := identity.NewResolver(ctx, identity.Config{
			URL:          issuer,
			IssuerURL:    issuer,
			Realm:        c.String("identity-realm"),
			ClientID:     c.String("identity-client-id"),
			ClientSecret: c.String("identity-client-secret"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize identity resolver: %w", err)
		}
		identityResolver = resolver
	}

	return &services{Store: store, Sequences: sequences, BPM: bpmClient, PubSub: ps, Identity: identityResolver}, nil
}

func runServe(c *cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, zlog := logger.PrepareLogger(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		zlog.Info("shutdown signal received, cleaning up")
		cancel()
	}()

	driver, dsn, err := parseDatabase(c.String("database"))
	if err != nil {
		return err
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed opening connection to %s: %w", driver, err)
	}
	defer conn.Close()

	svc, err := buildServices(ctx, c, conn, driver)
	if err != nil {
		return err
	}
	defer svc.PubSub.Close()

	for _, topic := range c.StringSlice("audit-topics") {
		startAuditSubscriber(ctx, zlog, svc.PubSub, topic)
	}

	// The GraphQL schema binds a resolver.Resolver per instance type,
	// constructed from the deployment's declarative model definitions
	// (spec.md §1, out of scope here); handler.NewDefaultServer is wired
	// against that generated schema at deploy time. This shell only
	// proves out the ambient transport around it.
	srv := handler.NewDefaultServer(nil)

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))
	router.Use(httprate.LimitByIP(c.Int("rate-limit-requests"), c.Duration("rate-limit-window")))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Handle("/", playground.Handler("Instance Resolver Playground", "/query"))
	router.Handle("/query", srv)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	host := c.String("host")
	port := c.Int("port")
	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	zlog.Info("instance resolver starting",
		zap.String("database", fmt.Sprintf("%s (%s)", driver, dsn)),
		zap.String("graphql_endpoint", fmt.Sprintf("http://%s/query", addr)),
		zap.Bool("identity_enabled", svc.Identity != nil),
	)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	zlog.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("server shutdown error", zap.Error(err))
	}

	return nil
}

func runMigrate(c *cli.Context) error {
	ctx := context.Background()

	driver, dsn, err := parseDatabase(c.String("database"))
	if err != nil {
		return err
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed opening connection to %s: %w", driver, err)
	}
	defer conn.Close()

	schemaPath := c.String("schema-file")
	ddl, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("reading schema file %s: %w", schemaPath, err)
	}

	log.Printf("applying %s to %s...\n", schemaPath, driver)
	if err := idb.WithTx(ctx, conn, func(tx *sql.Tx) error {
		for _, stmt := range strings.Split(string(ddl), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("executing migration statement: %w", err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	log.Println("migrations completed successfully")
	return nil
}
