package middleware

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var testInfo = &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

func okHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "ok", nil
}

func TestContextMiddleware(t *testing.T) {
	var seen string
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = RequestIDFromContext(ctx)
		return nil, nil
	}

	_, err := ContextMiddleware(context.Background(), nil, testInfo, handler)
	require.NoError(t, err)
	assert.Len(t, seen, 36)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDHeader, "abc-123"))
	_, err = ContextMiddleware(ctx, nil, testInfo, handler)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", seen)
}

func TestRequestIDFromContext_Missing(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestRateLimitingInterceptor(t *testing.T) {
	interceptor := NewRateLimitingInterceptor(1, 2)

	for i := 0; i < 2; i++ {
		resp, err := interceptor(context.Background(), nil, testInfo, okHandler)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
	}

	resp, err := interceptor(context.Background(), nil, testInfo, okHandler)
	assert.Nil(t, resp)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestLoggingInterceptor(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	interceptor := NewLoggingInterceptor(logger)
	ctx := WithRequestID(context.Background(), "req-1")

	_, err := interceptor(ctx, nil, testInfo, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Contains(t, out, `"method":"/grpc.health.v1.Health/Check"`)
	assert.Contains(t, out, `"code":"Unavailable"`)
	assert.Contains(t, out, `"level":"warning"`)
}

func TestMetricsInterceptor(t *testing.T) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "requests_total"}, []string{"method", "code"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "latency_seconds"}, []string{"method"})
	interceptor := NewMetricsInterceptor(requests, latency)

	_, err := interceptor(context.Background(), nil, testInfo, okHandler)
	require.NoError(t, err)
	_, err = interceptor(context.Background(), nil, testInfo, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("Check", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("Check", "Unknown")))
	assert.Equal(t, 1, testutil.CollectAndCount(latency))
}
