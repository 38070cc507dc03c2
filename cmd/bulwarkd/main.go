package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/bulwark-io/bulwark/internal/api"
	"github.com/bulwark-io/bulwark/internal/audit"
	"github.com/bulwark-io/bulwark/internal/registry"
	"github.com/bulwark-io/bulwark/internal/scaling"
	"github.com/bulwark-io/bulwark/pkg/config"
	"github.com/bulwark-io/bulwark/pkg/health"
	"github.com/bulwark-io/bulwark/pkg/logging"
	"github.com/bulwark-io/bulwark/pkg/metrics"
	"github.com/bulwark-io/bulwark/pkg/resilience"
	"github.com/bulwark-io/bulwark/pkg/tracing"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Skipping .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "bulwarkd",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(metrics.DefaultConfig())

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracing", "error", err)
	}

	instanceRegistry, err := registry.NewRedisRegistry(&cfg.Redis, 30*time.Second)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", "error", err)
	}
	defer instanceRegistry.Close()

	var auditStore *audit.Store
	if cfg.Database.Enabled() {
		auditStore, err = audit.NewStore(&cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to audit database", "error", err)
		}
		defer auditStore.Close()
		logger.Info("Audit store connected", "host", cfg.Database.Host)
	}

	alerts := resilience.NewAlertManager()
	alerts.AddHandler(resilience.NewLoggingAlertHandler())

	resilienceRegistry := resilience.NewRegistry(resilience.RegistryConfig{
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
			RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		},
		Degradation: resilience.DegradationConfig{
			FallbackTimeout:     cfg.Degradation.FallbackTimeout,
			HealthCheckInterval: cfg.Degradation.HealthCheckInterval,
			MaxDegradationTime:  cfg.Degradation.MaxDegradationTime,
		},
		Sink: resilience.MultiSink{
			resilience.NewLoggingSink(logger),
			metrics.NewResilienceSink(m),
		},
		Alerts: alerts,
	})
	defer resilienceRegistry.StopAll()

	providerConfig := scaling.DefaultProcessProviderConfig()
	provider := scaling.NewProcessProvider(providerConfig)

	var recorder scaling.EventRecorder
	if auditStore != nil {
		recorder = auditStore
	}

	controller := scaling.NewController(scaling.Config{
		Enabled:            cfg.Scaling.Enabled,
		EvaluationInterval: cfg.Scaling.EvaluationInterval,
		MinInstances:       cfg.Scaling.MinInstances,
		MaxInstances:       cfg.Scaling.MaxInstances,
		TargetCPUPercent:   cfg.Scaling.TargetCPUPercent,
		TargetMemoryPct:    cfg.Scaling.TargetMemoryPct,
		TargetResponseMs:   cfg.Scaling.TargetResponseMs,
		TargetRequestRate:  cfg.Scaling.TargetRequestRate,
		TargetErrorRate:    cfg.Scaling.TargetErrorRate,
		ScaleUpThreshold:   cfg.Scaling.ScaleUpThreshold,
		ScaleDownThreshold: cfg.Scaling.ScaleDownThreshold,
		DataPointsToAlarm:  cfg.Scaling.DataPointsToAlarm,
		ScaleUpCooldown:    cfg.Scaling.ScaleUpCooldown,
		ScaleDownCooldown:  cfg.Scaling.ScaleDownCooldown,
	}, provider, instanceRegistry, recorder, m)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Register this process and keep its heartbeat fresh
	hostname, _ := os.Hostname()
	instance := registry.Instance{
		ID:        uuid.New().String(),
		Hostname:  hostname,
		StartedAt: time.Now(),
	}
	if err := instanceRegistry.Register(appCtx, instance); err != nil {
		logger.Fatal("Failed to register instance", "error", err)
	}
	go instanceRegistry.StartHeartbeat(appCtx, instance.ID, 10*time.Second)

	go controller.Run(appCtx)

	healthService := health.NewService(logger, &health.Config{
		Timeout: 5 * time.Second,
		Metadata: map[string]string{
			"service":     "bulwarkd",
			"version":     version,
			"instance_id": instance.ID,
		},
	})
	healthService.RegisterChecker("redis", health.NewRedisChecker(instanceRegistry.Client(), "redis"))
	healthService.RegisterChecker("breakers", health.NewBreakerChecker(resilienceRegistry, "breakers"))
	if auditStore != nil {
		healthService.RegisterChecker("database", health.NewDatabaseChecker(auditStore.DB(), "database"))
	}

	router := api.NewRouter(api.Dependencies{
		Config:     cfg,
		Registry:   resilienceRegistry,
		Controller: controller,
		Provider:   provider,
		AuditStore: auditStore,
		Health:     healthService,
		Metrics:    m,
		Tracing:    tracer,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	controller.Stop()
	appCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := instanceRegistry.Deregister(shutdownCtx, instance.ID); err != nil {
		logger.Warn("Failed to deregister instance", "error", err)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracer shutdown failed", "error", err)
	}

	logger.Info("Server exited")
}
