package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestLivenessHandler(t *testing.T) {
	hc := NewHealthChecker(nil, zap.NewNop())

	w := httptest.NewRecorder()
	hc.LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "alive", status.Status)
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		backend    error
		wantCode   int
		wantStatus string
		wantGRPC   healthpb.HealthCheckResponse_ServingStatus
	}{
		{"healthy", nil, http.StatusOK, "ready", healthpb.HealthCheckResponse_SERVING},
		{"backend down", errors.New("connection refused"), http.StatusServiceUnavailable, "not_ready", healthpb.HealthCheckResponse_NOT_SERVING},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker(map[string]Pinger{
				"backend": pingFunc(func(context.Context) error { return tt.backend }),
			}, zap.NewNop())

			w := httptest.NewRecorder()
			hc.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			var status HealthStatus
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Contains(t, status.Checks, "backend")

			resp, err := hc.GRPCServer().Check(context.Background(), &healthpb.HealthCheckRequest{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantGRPC, resp.Status)
		})
	}
}
