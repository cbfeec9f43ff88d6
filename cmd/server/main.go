package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-re-case-workflow/internal/approval"
	"github.com/pesio-ai/be-re-case-workflow/internal/blob"
	"github.com/pesio-ai/be-re-case-workflow/internal/checklist"
	"github.com/pesio-ai/be-re-case-workflow/internal/client"
	"github.com/pesio-ai/be-re-case-workflow/internal/config"
	"github.com/pesio-ai/be-re-case-workflow/internal/database"
	"github.com/pesio-ai/be-re-case-workflow/internal/handler"
	"github.com/pesio-ai/be-re-case-workflow/internal/logger"
	"github.com/pesio-ai/be-re-case-workflow/internal/repository"
	"github.com/pesio-ai/be-re-case-workflow/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting case workflow service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	var (
		caseStore     service.CaseStore
		claimStore    service.ClaimDocumentStore
		financeStatus service.FinanceStatusStore
	)
	switch cfg.Database.Backend {
	case config.StoreBackendMemory:
		caseStore = repository.NewMemoryCaseRepository()
		claimStore = repository.NewMemoryClaimDocumentRepository()
		financeStatus = repository.NewMemoryFinanceStatusRepository()
		log.Warn().Msg("Using in-memory store; data is lost on restart")
	default:
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("Database connection established")

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("Failed to apply schema")
			}
			log.Info().Msg("Database schema applied")
		}

		caseStore = repository.NewCaseRepository(db)
		claimStore = repository.NewClaimDocumentRepository(db)
		financeStatus = repository.NewFinanceStatusRepository(db)
	}

	// Blob storage
	blobs, closeBlobs, err := openBlobStore(ctx, cfg.Blob)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Blob.Backend).Msg("Failed to initialize blob storage")
	}
	defer closeBlobs()
	log.Info().Str("backend", cfg.Blob.Backend).Str("bucket", cfg.Blob.Bucket).Msg("Blob storage initialized")

	// Workflow events
	events := client.NewEventPublisher(nil, cfg.NATS.SubjectPrefix, log.Logger)
	if cfg.NATS.URL != "" {
		events, err = client.ConnectEventPublisher(cfg.NATS.URL, cfg.Service.Name, cfg.NATS.SubjectPrefix, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS event publisher connected")
	} else {
		log.Warn().Msg("NATS_URL not set; workflow events are disabled")
	}
	defer events.Close()

	// Checklist templates
	templates, err := checklist.LoadTemplates(cfg.Checklist.TemplatesPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Checklist.TemplatesPath).Msg("Failed to load checklist templates")
	}
	log.Info().Strs("templates", templates.Names()).Msg("Checklist templates loaded")

	// Initialize services
	caseService := service.NewCaseService(caseStore, blobs, templates, approval.NewGate(), events, log)
	claimService := service.NewClaimFinanceService(claimStore, financeStatus, blobs, events, log)

	if cfg.Auth.TrustHeaders {
		log.Warn().Msg("DEV_TRUST_HEADERS enabled; actor headers are accepted without a token")
	}

	// HTTP server
	httpHandler := handler.NewHTTPHandler(caseService, claimService, log, cfg.Auth.TrustHeaders)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Routes(cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLogger(log.Logger)))
	handler.RegisterWorkflowServiceServer(grpcServer, handler.NewGRPCHandler(caseService, claimService, log.WithField("handler", "grpc").Logger, cfg.Auth.TrustHeaders))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.WorkflowServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

// openBlobStore builds the configured blob backend. The returned close function is never nil.
func openBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, func(), error) {
	switch cfg.Backend {
	case config.BlobBackendGCS:
		s, err := blob.NewGCSStore(ctx, cfg.Bucket)
		if err != nil {
			return nil, func() {}, err
		}
		return s, func() { s.Close() }, nil
	case config.BlobBackendS3:
		s, err := blob.NewS3Store(ctx, cfg.Bucket, cfg.Region, cfg.Endpoint)
		if err != nil {
			return nil, func() {}, err
		}
		return s, func() {}, nil
	default:
		return blob.NewMemoryStore(), func() {}, nil
	}
}
