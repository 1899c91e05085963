// Package main provides the FHIR gateway server entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang/glog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/openmedrec/fhirgate/pkg/identity"
	"github.com/openmedrec/fhirgate/pkg/registry"
	"github.com/openmedrec/fhirgate/pkg/server"
	"github.com/openmedrec/fhirgate/pkg/tenancy"
)

func main() {
	var (
		listenAddr    string
		resourcesPath string
		databaseType  string
		databaseDSN   string
		poolSize      int
		multiTenant   bool
	)

	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&resourcesPath, "resources", "/config/resources.yaml", "Path to resource registry config")
	flag.StringVar(&databaseType, "db-type", "postgres", "Database type (postgres, mysql, or sqlite)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string")
	flag.IntVar(&poolSize, "async-workers", 4, "Async plugin worker count")
	flag.BoolVar(&multiTenant, "multi-tenant", false, "Require the tenant header on every request")
	flag.Parse()

	_ = flag.Set("logtostderr", "true")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting fhir gateway",
		"listen", listenAddr,
		"resources", resourcesPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg, err := registry.LoadConfig(resourcesPath)
	if err != nil {
		glog.Fatalf("Failed to load resource config: %v", err)
	}

	reg := registry.New(cfg)

	logger.Info("loaded resource config",
		"apiVersion", cfg.APIVersion,
		"kind", cfg.Kind,
		"resources", len(cfg.Resources),
	)

	gormDB, err := setupDatabase(databaseType, databaseDSN)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	if !multiTenant {
		multiTenant, _ = strconv.ParseBool(os.Getenv("FHIR_MULTI_TENANT"))
	}

	serverOpts := []server.Option{
		server.WithTenancy(tenancy.Config{
			Enabled: multiTenant,
			Header:  envOrDefault("FHIR_TENANT_HEADER", tenancy.DefaultHeader),
		}),
		server.WithAsyncPoolSize(poolSize),
	}

	if b, _ := strconv.ParseBool(envOrDefault("FHIR_UPDATES_AS_CREATE", "true")); b {
		serverOpts = append(serverOpts, server.WithUpdatesAsCreate(true))
	}

	if b, _ := strconv.ParseBool(envOrDefault("FHIR_AUDIT_ENABLED", "true")); b {
		retentionDays := 90
		if v, err := strconv.Atoi(os.Getenv("FHIR_AUDIT_RETENTION_DAYS")); err == nil && v > 0 {
			retentionDays = v
		}
		serverOpts = append(serverOpts, server.WithAudit(retentionDays))
	}

	authMode := os.Getenv("FHIR_AUTH_MODE")
	switch authMode {
	case "jwt", "jwt-required":
		jwtCfg := identity.ExtractorConfig{
			UserClaim:     envOrDefault("FHIR_JWT_USER_CLAIM", "sub"),
			ClientClaim:   envOrDefault("FHIR_JWT_CLIENT_CLAIM", "azp"),
			PublicKeyPath: os.Getenv("FHIR_JWT_PUBLIC_KEY_PATH"),
			Issuer:        os.Getenv("FHIR_JWT_ISSUER"),
			Audience:      os.Getenv("FHIR_JWT_AUDIENCE"),
			Logger:        logger,
		}
		serverOpts = append(serverOpts, server.WithIdentity(jwtCfg, authMode == "jwt-required"))
		logger.Info("using JWT identity",
			"required", authMode == "jwt-required",
			"hasPublicKey", jwtCfg.PublicKeyPath != "")
	case "":
		logger.Info("identity extraction disabled")
	default:
		glog.Fatalf("Unknown auth mode: %q (expected jwt, jwt-required, or empty)", authMode)
	}

	srv := server.NewServer(gormDB, reg, logger, serverOpts...)
	if err := srv.Init(ctx); err != nil {
		glog.Fatalf("Failed to initialize server: %v", err)
	}

	router := srv.MountRoutes()

	if err := srv.Start(ctx); err != nil {
		glog.Fatalf("Failed to start background workers: %v", err)
	}

	logger.Info("fhir gateway ready",
		"listen", listenAddr,
		"multiTenant", multiTenant,
	)

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("fhir gateway stopped")
}

func setupDatabase(dbType, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required (use -db-dsn flag or DATABASE_DSN environment variable)")
		}
	}

	if dbType == "" {
		dbType = os.Getenv("DATABASE_TYPE")
		if dbType == "" {
			dbType = "postgres"
		}
	}

	var dialector gorm.Dialector
	switch dbType {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q (expected postgres, mysql, or sqlite)", dbType)
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", dbType, err)
	}

	// Attached sqlite schemas are per-connection, so sqlite must run on a
	// single connection.
	if dbType == "sqlite" {
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return gormDB, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
