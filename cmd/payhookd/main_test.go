package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/payhook"
	"github.com/xraph/payhook/merchant"
	"github.com/xraph/payhook/store/memory"
)

const sampleConfig = `
server:
  addr: ":9090"
store:
  driver: sqlite
  dsn: "file:payhook.db"
delivery:
  concurrency: 4
  request_timeout: 3s
  max_backoff: 30m
kafka:
  brokers: "localhost:9092"
  topic: payment-events
merchants:
  - id: m1
    secret: s1
    active: true
  - id: m2
    secret: s2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.MetricsPath != "/metrics" {
		t.Errorf("metrics path default not applied: %q", cfg.Server.MetricsPath)
	}
	if cfg.Store.Driver != driverSQLite || cfg.Store.DSN != "file:payhook.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Delivery.Concurrency != 4 || cfg.Delivery.RequestTimeout != 3*time.Second || cfg.Delivery.MaxBackoff != 30*time.Minute {
		t.Errorf("delivery = %+v", cfg.Delivery)
	}
	if cfg.Delivery.MaxAttempts != payhook.DefaultConfig().MaxAttempts {
		t.Errorf("max attempts default not applied: %d", cfg.Delivery.MaxAttempts)
	}
	if cfg.Kafka.GroupID != "payhook" || cfg.Kafka.RetryDelay != time.Second {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	if len(cfg.Merchants) != 2 || cfg.Merchants[0].Secret != "s1" || !cfg.Merchants[0].Active || cfg.Merchants[1].Active {
		t.Errorf("merchants = %+v", cfg.Merchants)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PAYHOOK_STORE_DRIVER", "redis")
	t.Setenv("PAYHOOK_STORE_DSN", "redis://localhost:6379/0")
	t.Setenv("PAYHOOK_DELIVERY_MAX_ATTEMPTS", "9")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Driver != driverRedis || cfg.Store.DSN != "redis://localhost:6379/0" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Delivery.MaxAttempts != 9 {
		t.Errorf("max attempts = %d", cfg.Delivery.MaxAttempts)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no merchants", "store:\n  driver: memory\n", "at least one merchant"},
		{"unknown driver", "store:\n  driver: cassandra\nmerchants:\n  - id: m1\n    secret: s1\n", "unknown store.driver"},
		{"missing dsn", "store:\n  driver: postgres\nmerchants:\n  - id: m1\n    secret: s1\n", "store.dsn is required"},
		{"duplicate merchant", "merchants:\n  - id: m1\n    secret: a\n  - id: m1\n    secret: b\n", "duplicate merchant"},
		{"merchant without secret", "merchants:\n  - id: m1\n", "need an id and a secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "at least one merchant") {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenMemoryStore(t *testing.T) {
	s, err := openStore(context.Background(), StoreConfig{Driver: driverMemory})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	ph, err := payhook.New(
		payhook.WithStore(memory.New()),
		payhook.WithMerchants(merchant.NewStatic(merchant.Merchant{ID: "m1", Secret: "s1", Active: true})),
		payhook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		payhook.WithRegisterer(reg),
	)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(newMux(ph, reg, "/metrics"))
	defer srv.Close()

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/liveness", http.StatusOK, ""},
		{"/readiness", http.StatusOK, ""},
		{"/metrics", http.StatusOK, "payhook_jobs_in_flight"},
		{"/queue/metrics", http.StatusOK, "successRate"},
		{"/jobs/unknown", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.status, body)
			}
			if tt.contains != "" && !strings.Contains(string(body), tt.contains) {
				t.Fatalf("body does not contain %q: %s", tt.contains, body)
			}
		})
	}
}
