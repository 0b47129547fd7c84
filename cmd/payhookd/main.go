// Command payhookd runs the payhook webhook delivery service: the delivery
// workers, the admin API, Prometheus metrics and, when configured, the
// Kafka payment event consumer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/payhook"
	"github.com/xraph/payhook/ingest"
	"github.com/xraph/payhook/internal/logging"
	"github.com/xraph/payhook/merchant"
)

func main() {
	configDir := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	if err := run(*configDir); err != nil {
		fmt.Fprintln(os.Stderr, "payhookd:", err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	cfg, err := LoadConfig(configDir)
	if err != nil {
		return err
	}

	logger, stopLogs, err := logging.New(cfg.Logs)
	if err != nil {
		return err
	}
	defer stopLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ph, err := payhook.New(
		payhook.WithStore(st),
		payhook.WithMerchants(merchant.NewStatic(cfg.Merchants...)),
		payhook.WithConfig(cfg.Delivery),
		payhook.WithLogger(logger),
		payhook.WithRegisterer(reg),
	)
	if err != nil {
		return err
	}

	ph.Start(ctx)

	consumerDone := make(chan struct{})
	if cfg.Kafka.Brokers != "" {
		reader := ingest.NewReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
		consumer := ingest.NewConsumer(reader, ph, ingest.Config{
			Attempts:   cfg.Kafka.Attempts,
			RetryDelay: cfg.Kafka.RetryDelay,
			Metrics:    ph.Metrics(),
		}, logger)

		go func() {
			defer close(consumerDone)
			defer reader.Close()
			if err := consumer.Run(ctx); err != nil {
				logger.Error("ingest consumer stopped", "error", err)
			}
		}()
		logger.Info("ingest consumer started", "topic", cfg.Kafka.Topic, "group_id", cfg.Kafka.GroupID)
	} else {
		close(consumerDone)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newMux(ph, reg, cfg.Server.MetricsPath),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("payhookd listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if err != nil {
			logger.Error("http server failed", "error", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("payhookd shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	<-consumerDone
	ph.Stop(shutdownCtx)
	return err
}

func newMux(ph *payhook.Payhook, gatherer prometheus.Gatherer, metricsPath string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readiness", func(w http.ResponseWriter, r *http.Request) {
		if err := ph.Store().Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET "+metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/", ph.Handler())
	return mux
}
