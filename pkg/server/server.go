// Package server assembles the FHIR gateway: storage bootstrap, tenant
// resolution, plugin orchestration, and the HTTP routers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/openmedrec/fhirgate/pkg/admin"
	"github.com/openmedrec/fhirgate/pkg/audit"
	"github.com/openmedrec/fhirgate/pkg/conformance"
	"github.com/openmedrec/fhirgate/pkg/identity"
	"github.com/openmedrec/fhirgate/pkg/pipeline"
	"github.com/openmedrec/fhirgate/pkg/plugins"
	"github.com/openmedrec/fhirgate/pkg/registry"
	"github.com/openmedrec/fhirgate/pkg/service"
	"github.com/openmedrec/fhirgate/pkg/storage"
	"github.com/openmedrec/fhirgate/pkg/tenancy"
	"github.com/openmedrec/fhirgate/pkg/validation"
)

// DefaultShutdownGrace bounds the async pool drain on Stop.
const DefaultShutdownGrace = 10 * time.Second

// Server wires every component of the gateway together.
type Server struct {
	mu sync.RWMutex

	db     *gorm.DB
	reg    *registry.Registry
	logger *slog.Logger

	tenancyConfig    tenancy.Config
	poolSize         int
	updatesAsCreate  bool
	auditEnabled     bool
	retentionDays    int
	identityConfig   *identity.ExtractorConfig
	identityRequired bool
	shutdownGrace    time.Duration
	engine           conformance.Engine
	extraPlugins     []plugins.Plugin

	tenantStore    *tenancy.Store
	resolver       *tenancy.Resolver
	pluginRegistry *plugins.Registry
	pool           *plugins.AsyncPool
	orchestrator   *plugins.Orchestrator
	svc            *service.Service
	auditStore     *audit.Store
	retention      *audit.RetentionWorker
	handler        *pipeline.Handler
	router         chi.Router

	initialized     bool
	retentionCancel context.CancelFunc
}

// Option customizes the Server.
type Option func(*Server)

// WithTenancy enables multi-tenant resolution with the given config.
func WithTenancy(cfg tenancy.Config) Option {
	return func(s *Server) { s.tenancyConfig = cfg }
}

// WithAsyncPoolSize sets the async worker count.
func WithAsyncPoolSize(n int) Option {
	return func(s *Server) { s.poolSize = n }
}

// WithUpdatesAsCreate lets PUT create resources under client-chosen ids.
func WithUpdatesAsCreate(enabled bool) Option {
	return func(s *Server) { s.updatesAsCreate = enabled }
}

// WithAudit enables the async audit recorder and its retention worker.
func WithAudit(retentionDays int) Option {
	return func(s *Server) {
		s.auditEnabled = true
		s.retentionDays = retentionDays
	}
}

// WithIdentity installs the JWT identity plugin.
func WithIdentity(cfg identity.ExtractorConfig, required bool) Option {
	return func(s *Server) {
		s.identityConfig = &cfg
		s.identityRequired = required
	}
}

// WithEngine swaps the conformance engine.
func WithEngine(engine conformance.Engine) Option {
	return func(s *Server) { s.engine = engine }
}

// WithPlugin registers an additional plugin at Init.
func WithPlugin(p plugins.Plugin) Option {
	return func(s *Server) { s.extraPlugins = append(s.extraPlugins, p) }
}

// WithShutdownGrace bounds the async pool drain on Stop.
func WithShutdownGrace(grace time.Duration) Option {
	return func(s *Server) { s.shutdownGrace = grace }
}

// NewServer creates a Server. Call Init before MountRoutes.
func NewServer(db *gorm.DB, reg *registry.Registry, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:            db,
		reg:           reg,
		logger:        logger,
		poolSize:      plugins.DefaultPoolSize,
		shutdownGrace: DefaultShutdownGrace,
		engine:        conformance.NewDefaultEngine(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init migrates storage, seeds the default tenant, and wires the pipeline.
func (s *Server) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := storage.Bootstrap(s.db, s.reg); err != nil {
		return fmt.Errorf("bootstrap resource storage: %w", err)
	}

	s.tenantStore = tenancy.NewStore(s.db)
	if err := s.tenantStore.AutoMigrate(); err != nil {
		return fmt.Errorf("bootstrap tenant storage: %w", err)
	}
	s.resolver = tenancy.NewResolver(s.tenancyConfig, s.tenantStore)

	router, err := storage.NewRouter(s.db, s.reg)
	if err != nil {
		return fmt.Errorf("build storage router: %w", err)
	}

	profileCfg := validation.ProfileConfigFromEnv()
	profiles := validation.NewProfileChecker(profileCfg, nil, s.logger)
	searchParams := validation.NewSearchParamValidator(s.logger)

	s.svc = service.New(router, s.reg, s.engine, profiles, searchParams,
		service.Options{UpdatesAsCreate: s.updatesAsCreate}, s.logger)

	s.pluginRegistry = plugins.NewRegistry()
	s.pool = plugins.NewAsyncPool(s.poolSize, s.logger)
	s.orchestrator = plugins.NewOrchestrator(s.pluginRegistry, s.pool, s.logger)

	if s.identityConfig != nil {
		extractor, err := identity.NewExtractor(*s.identityConfig)
		if err != nil {
			return fmt.Errorf("build identity extractor: %w", err)
		}
		if err := s.pluginRegistry.Register(identity.NewPlugin(extractor, s.identityRequired, s.logger)); err != nil {
			return err
		}
	}

	if s.auditEnabled {
		store, err := audit.NewStore(s.db)
		if err != nil {
			return fmt.Errorf("bootstrap audit storage: %w", err)
		}
		s.auditStore = store
		s.retention = audit.NewRetentionWorker(store, s.retentionDays, s.logger)
		if err := s.pluginRegistry.Register(audit.NewRecorder(store, s.logger)); err != nil {
			return err
		}
	}

	for _, p := range s.extraPlugins {
		if err := s.pluginRegistry.Register(p); err != nil {
			return fmt.Errorf("register plugin %s: %w", p.Name(), err)
		}
	}

	s.handler = pipeline.NewHandler(s.svc, s.orchestrator, s.resolver,
		s.tenancyConfig.HeaderName(), s.engine, s.reg, s.logger)

	s.initialized = true
	return nil
}

// MountRoutes builds the full HTTP router.
func (s *Server) MountRoutes() chi.Router {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "If-Match",
			s.tenancyConfig.HeaderName()},
		ExposedHeaders:   []string{"ETag", "Location", "Last-Modified", "X-FHIR-Version"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Mount("/fhir", s.handler)
	r.Mount("/api/admin", admin.Router(s.tenantStore, s.resolver, s.pluginRegistry, s.auditStore))

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	s.router = r
	return r
}

// Start launches background workers. It returns immediately.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retention != nil {
		runCtx, cancel := context.WithCancel(ctx)
		s.retentionCancel = cancel
		go s.retention.Run(runCtx)
	}
	return nil
}

// Stop drains the async pool within the configured grace period and stops
// background workers.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retentionCancel != nil {
		s.retentionCancel()
	}
	if s.orchestrator != nil {
		s.orchestrator.Shutdown(s.shutdownGrace)
	}
	return nil
}

// Router returns the mounted router.
func (s *Server) Router() chi.Router {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.router
}

// Service returns the resource service.
func (s *Server) Service() *service.Service { return s.svc }

// PluginRegistry returns the plugin registry.
func (s *Server) PluginRegistry() *plugins.Registry { return s.pluginRegistry }

// Resolver returns the tenant resolver.
func (s *Server) Resolver() *tenancy.Resolver { return s.resolver }

// AuditStore returns the audit store, or nil when auditing is disabled.
func (s *Server) AuditStore() *audit.Store { return s.auditStore }

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.initialized
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"initializing"}`))
		return
	}
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"database unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
