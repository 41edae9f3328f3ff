package database

import (
	"context"
	"strings"
	"testing"

	"intel_server/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestWithSimpleProtocol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u@h/db", "postgres://u@h/db?default_query_exec_mode=simple_protocol"},
		{"postgres://u@h/db?sslmode=disable", "postgres://u@h/db?sslmode=disable&default_query_exec_mode=simple_protocol"},
		{"postgres://u@h/db?default_query_exec_mode=simple_protocol", "postgres://u@h/db?default_query_exec_mode=simple_protocol"},
	}
	for _, tt := range tests {
		if got := withSimpleProtocol(tt.in); got != tt.want {
			t.Errorf("withSimpleProtocol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSchemaStatements(t *testing.T) {
	ddl := strings.Join(SchemaStatements(768), "\n")
	for _, want := range []string{
		"vector(768)",
		"PRIMARY KEY (user_id, message_id)",
		"vector_cosine_ops",
		"CREATE EXTENSION IF NOT EXISTS vector",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("schema missing %q", want)
		}
	}
}

func TestGetPoolStats(t *testing.T) {
	if got := GetPoolStats(nil); got != (metrics.DBPoolStats{}) {
		t.Errorf("nil pool = %+v", got)
	}

	// pgxpool connects lazily, so an idle pool needs no server.
	pool, err := pgxpool.New(context.Background(), "postgres://u:p@127.0.0.1:1/db?pool_max_conns=7")
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()

	stats := GetPoolStats(pool)
	if stats.MaxOpenConnections != 7 || stats.InUse != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if metrics.AssessDBPoolHealth(stats).Status != metrics.PoolHealthy {
		t.Errorf("idle pool should be healthy")
	}
}
