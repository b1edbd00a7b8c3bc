/*
Copyright 2025 The Courier Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// The worker binary drains the delivery queue and runs retention.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/config"
	"github.com/courierhq/courier/internal/engine"
	"github.com/courierhq/courier/internal/metrics"
	"github.com/courierhq/courier/internal/provider"
	"github.com/courierhq/courier/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("worker exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := store.Migrate(ctx, db); err != nil {
		return err
	}

	st := store.New(db, logger)
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Dispatcher and janitor counters live in this process; expose them on
	// their own scrape port.
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler:           metricsMux(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("worker metrics listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	broker := provider.NewBroker(logger)
	broker.Register(provider.NewMockEmail())

	dispatcher := engine.NewDispatcher(st, broker, m, logger, engine.DispatcherConfig{
		PollInterval: cfg.Worker.PollInterval.Std(),
		BatchSize:    cfg.Worker.BatchSize,
	})
	janitor := engine.NewJanitor(st, m, logger)

	supervisor := engine.NewSupervisor(dispatcher, janitor, logger)
	return supervisor.Run(ctx)
}

func metricsMux(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}
