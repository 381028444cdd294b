package server

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/tejusbharadwaj/poschodech/internal/models"
)

// RefreshService is the health service name that follows refresh results.
const RefreshService = "poschodech.Refresh"

// HealthChecker implements the gRPC health checking protocol. The overall
// ("") and RefreshService statuses follow the result of the last refresh.
type HealthChecker struct {
	grpc_health_v1.UnimplementedHealthServer
	mu     sync.RWMutex
	status map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
}

func NewHealthChecker() *HealthChecker {
	h := &HealthChecker{
		status: make(map[string]grpc_health_v1.HealthCheckResponse_ServingStatus),
	}
	h.setRefreshStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *HealthChecker) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if status, ok := h.status[req.Service]; ok {
		return &grpc_health_v1.HealthCheckResponse{
			Status: status,
		}, nil
	}

	return nil, status.Error(codes.NotFound, "unknown service")
}

func (h *HealthChecker) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watching is not supported")
}

// SetServingStatus sets the serving status of a service
func (h *HealthChecker) SetServingStatus(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status[service] = status
}

// RefreshSucceeded marks the service as serving.
func (h *HealthChecker) RefreshSucceeded(*models.Snapshot) {
	h.setRefreshStatus(grpc_health_v1.HealthCheckResponse_SERVING)
}

// RefreshFailed marks the service as not serving until the next success.
func (h *HealthChecker) RefreshFailed(error) {
	h.setRefreshStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

func (h *HealthChecker) setRefreshStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.SetServingStatus("", status)
	h.SetServingStatus(RefreshService, status)
}
