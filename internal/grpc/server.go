package server

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	middleware "github.com/tejusbharadwaj/poschodech/internal/grpc/middlewares"
	"github.com/tejusbharadwaj/poschodech/internal/metrics"
)

// ServerConfig holds configuration options for the gRPC server
type ServerConfig struct {
	RateLimit      float64 // Requests per second
	RateLimitBurst int     // Maximum burst size for rate limiting
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RateLimit:      5.0, // 5 requests per second
		RateLimitBurst: 10,  // Burst of 10 requests
	}
}

// SetupServer initializes and configures the gRPC server with all middleware
func SetupServer(health *HealthChecker, config ServerConfig, logger *logrus.Logger, m *metrics.Metrics) (*grpc.Server, error) {
	if health == nil {
		return nil, errors.New("health checker is required")
	}
	if config.RateLimit <= 0 || config.RateLimitBurst <= 0 {
		return nil, errors.New("rate limit and burst must be positive")
	}

	server := grpc.NewServer(
		grpc.UnaryInterceptor(
			chainUnaryInterceptors(
				middleware.ContextMiddleware,                                                 // Add request ID first
				middleware.NewRateLimitingInterceptor(config.RateLimit, config.RateLimitBurst), // Rate limit early
				middleware.NewLoggingInterceptor(logger),                                     // Log all requests (with request ID)
				middleware.NewMetricsInterceptor(m.Requests, m.Latency),                      // Collect metrics
			),
		),
	)

	grpc_health_v1.RegisterHealthServer(server, health)

	return server, nil
}

// chainUnaryInterceptors creates a single interceptor from multiple interceptors
func chainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			chainedInterceptor := chain
			chain = func(currentCtx context.Context, currentReq interface{}) (interface{}, error) {
				return interceptor(currentCtx, currentReq, info, chainedInterceptor)
			}
		}
		return chain(ctx, req)
	}
}
