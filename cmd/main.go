package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/tejusbharadwaj/poschodech/internal/api"
	"github.com/tejusbharadwaj/poschodech/internal/config"
	"github.com/tejusbharadwaj/poschodech/internal/coordinator"
	"github.com/tejusbharadwaj/poschodech/internal/entity"
	server "github.com/tejusbharadwaj/poschodech/internal/grpc"
	"github.com/tejusbharadwaj/poschodech/internal/httpserver"
	"github.com/tejusbharadwaj/poschodech/internal/metrics"
	"github.com/tejusbharadwaj/poschodech/internal/scheduler"
)

// Command poschodech polls the Poschodoch metering portal for the daily
// readings of one flat and exposes every meter as a sensor.
//
// The service provides:
//   - a JSON API with one sensor per meter and a manual refresh action
//   - Prometheus metrics, including the latest state of every meter
//   - gRPC health checking that follows the last refresh result
//   - live reload of the flat name, refresh interval and logging options
//
// Usage:
//
//	poschodech [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
//	-env string
//	      optional .env file loaded before the config (default ".env")
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional .env file loaded before the config")
	flag.Parse()

	// A missing .env file is fine, the environment may already be set
	_ = godotenv.Load(*envFile)

	appConfig, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := appConfig.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	logger := appConfig.Logging.NewLogger()
	logger.WithFields(logrus.Fields{
		"instance": appConfig.InstanceID(),
		"interval": appConfig.Refresh.Interval.String(),
	}).Info("Starting poschodech")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Shared by every request to the portal, owned by main
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	client, err := api.NewClient(httpClient, api.Config{
		BaseURL:  appConfig.Upstream.BaseURL,
		Username: appConfig.Upstream.Username,
		Password: appConfig.Upstream.Password,
		PortalID: appConfig.Upstream.PortalID,
		MenuID:   appConfig.Upstream.MenuID,
		Timeout:  appConfig.Upstream.Timeout,
	}, logger, api.WithObserver(m))
	if err != nil {
		logger.Fatalf("Failed to create API client: %v", err)
	}

	coord := coordinator.New(client, appConfig.Upstream.FlatName, logger, coordinator.WithObserver(m))

	registry, err := entity.NewRegistry(appConfig.Registry.MaxEntities, m, logger)
	if err != nil {
		logger.Fatalf("Failed to create entity registry: %v", err)
	}
	health := server.NewHealthChecker()
	coord.AddListener(registry)
	coord.AddListener(health)

	// Create a context that will be canceled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.FirstRefresh(ctx); err != nil {
		logger.WithFields(logrus.Fields{
			"instance": appConfig.InstanceID(),
			"reason":   api.Classify(err),
		}).WithError(err).Fatal("Setup failed")
	}

	sched := scheduler.NewScheduler(ctx, coord, appConfig.Refresh.Interval, logger)
	if err := sched.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	grpcServer, err := server.SetupServer(health, server.ServerConfig{
		RateLimit:      appConfig.Server.RateLimit,
		RateLimitBurst: appConfig.Server.RateLimitBurst,
	}, logger, m)
	if err != nil {
		logger.Fatalf("Failed to setup gRPC server: %v", err)
	}

	handler := httpserver.NewHandler(registry, coord, reg, appConfig.Server.AllowedOrigins, logger)
	httpServer := &http.Server{
		Addr:              net.JoinHostPort(appConfig.Server.Host, strconv.Itoa(appConfig.Server.HTTPPort)),
		Handler:           handler.Init(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", net.JoinHostPort(appConfig.Server.Host, strconv.Itoa(appConfig.Server.GRPCPort)))
	if err != nil {
		logger.Fatalf("Failed to listen: %v", err)
	}

	if err := config.Watch(*configPath, logger, func(updated *config.Config) {
		applyConfig(updated, coord, sched, logger)
	}); err != nil {
		logger.WithError(err).Warn("Configuration reload disabled")
	}

	errChan := make(chan error, 2)

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcServer.Serve(lis); err != nil {
			errChan <- fmt.Errorf("grpc server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal %v, initiating shutdown", sig)
	case err := <-errChan:
		logger.WithError(err).Error("Service error, initiating shutdown")
	}

	shutdown(cancel, sched, httpServer, grpcServer, logger)
}

// applyConfig takes over the options that can change without a restart.
// Credentials and listen addresses need one.
func applyConfig(updated *config.Config, coord *coordinator.Coordinator, sched *scheduler.Scheduler, logger *logrus.Logger) {
	updated.Logging.Apply(logger)
	coord.SetFlatName(updated.Upstream.FlatName)

	if err := sched.Reschedule(updated.Refresh.Interval); err != nil {
		logger.WithError(err).Error("Failed to apply refresh interval")
	}
}

// Handle graceful shutdown
func shutdown(cancel context.CancelFunc, sched *scheduler.Scheduler, httpServer *http.Server, grpcServer *grpc.Server, logger *logrus.Logger) {
	cancel()
	sched.Stop()

	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown")
	}

	logger.Info("Gracefully stopping gRPC server...")
	grpcServer.GracefulStop()
	logger.Info("Server stopped")
}
