package http

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"intel_server/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

func TestHealthHandler_Ready(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }
	pool := func(inUse int) PoolStats {
		return func() metrics.DBPoolStats {
			return metrics.DBPoolStats{InUse: inUse, MaxOpenConnections: 10}
		}
	}

	tests := []struct {
		name       string
		ping       Pinger
		pool       PoolStats
		wantStatus int
		wantPool   metrics.PoolHealthStatus
	}{
		{"all healthy", ok, pool(2), 200, metrics.PoolHealthy},
		{"degraded pool stays ready", ok, pool(8), 200, metrics.PoolDegraded},
		{"exhausted pool", ok, pool(10), 503, metrics.PoolUnhealthy},
		{"failed ping", down, pool(2), 503, metrics.PoolHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			NewHealthHandler(map[string]Pinger{"postgres": tt.ping}, nil).
				AddPool("analysis", tt.pool).
				Register(app)

			resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			raw, _ := io.ReadAll(resp.Body)
			var body struct {
				Pools map[string]metrics.PoolHealth `json:"pools"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Fatalf("decode: %v (%s)", err, raw)
			}
			if got := body.Pools["analysis"].Status; got != tt.wantPool {
				t.Errorf("pool status = %s, want %s", got, tt.wantPool)
			}
		})
	}
}

func TestHealthHandler_MetricsMountedOnlyWithGatherer(t *testing.T) {
	app := fiber.New()
	NewHealthHandler(nil, nil).Register(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
