// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// notifyd is the exchange notification daemon: coalesced polling,
// durable watches, and push-token callbacks over one HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianNotify/pkg/logging"
	"github.com/AleutianAI/AleutianNotify/services/notify/config"
	"github.com/AleutianAI/AleutianNotify/services/notify/exchange"
	"github.com/AleutianAI/AleutianNotify/services/notify/poll"
	"github.com/AleutianAI/AleutianNotify/services/notify/pushtoken"
	"github.com/AleutianAI/AleutianNotify/services/notify/routes"
	"github.com/AleutianAI/AleutianNotify/services/notify/store"
	"github.com/AleutianAI/AleutianNotify/services/notify/store/badgerstore"
	"github.com/AleutianAI/AleutianNotify/services/notify/telemetry"
	"github.com/AleutianAI/AleutianNotify/services/notify/watch"
)

// WatchExchangeName is the watcher registered for exchange watches.
const WatchExchangeName = "watchExchange"

func main() {
	root := &cobra.Command{
		Use:   "notifyd",
		Short: "Exchange notification daemon",
	}

	var configPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the notification service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	serve.Flags().StringVar(&configPath, "config", "", "path to YAML configuration")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "notifyd",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// Metrics: OpenTelemetry meter provider exporting via the
	// Prometheus pull endpoint.
	promExporter, err := otelprom.New()
	if err != nil {
		return fmt.Errorf("init prometheus exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("notifyd"),
	))
	if err != nil {
		return fmt.Errorf("build otel resource: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = meterProvider.Shutdown(ctx)
	}()

	// Store: embedded BadgerDB when a path is configured, in-memory
	// otherwise.
	var watchStore store.Store
	if cfg.Store.Path != "" {
		bs, err := badgerstore.Open(badgerstore.DefaultConfig(cfg.Store.Path))
		if err != nil {
			return err
		}
		defer bs.Close()
		watchStore = bs
		slog.Info("watch store opened", "path", cfg.Store.Path)
	} else {
		watchStore = store.NewMemoryStore()
		slog.Warn("using in-memory watch store; watches do not survive restart")
	}

	// Push tokens.
	var tokens *pushtoken.Tokens
	if cfg.Push.HMACKey != nil {
		key, err := pushtoken.DecodeKey(cfg.Push.HMACKey.ID, cfg.Push.HMACKey.SecretKeyMultibase)
		if err != nil {
			return fmt.Errorf("decode push hmac key: %w", err)
		}
		defer key.Destroy()
		tokens = pushtoken.New(key)
		slog.Info("push notification enabled", "key_id", key.ID)
	} else {
		slog.Info("Push notification is disabled.")
	}

	// Exchange access: one client shared by the poll and watch paths.
	client := exchange.NewHTTPClient(cfg.Exchange.BaseURL)
	adapterCfg := watch.ExchangeAdapterConfig{
		Client:     client,
		Capability: cfg.Exchange.Capability,
	}
	poller := watch.NewExchangePoller(adapterCfg, nil)

	coalescer := poll.NewCoalescer(
		poll.WithMaxInFlight(cfg.Caches.Poll.Max),
		poll.WithMaxResults(cfg.Caches.PollResult.Max),
		poll.WithResultTTL(cfg.PollResultTTL()),
	)

	// Watches.
	registry := watch.NewRegistry()
	if err := registry.Register(WatchExchangeName, watch.NewExchangeWatcher(adapterCfg, nil)); err != nil {
		return err
	}
	watchService := watch.NewService(watchStore)

	scheduler := watch.NewScheduler(watchStore, registry, watch.SchedulerConfig{
		MarkLimit: cfg.Scheduler.MarkLimit,
		LockTTL:   cfg.SchedulerLockTTL(),
		Baseline:  cfg.SchedulerBaseline(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	// HTTP surface.
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("notifyd"))
	router.Use(telemetry.RequestMetrics())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes.SetupRoutes(router, routes.Deps{
		Coalescer:     coalescer,
		Poller:        poller,
		Watches:       watchService,
		Tokens:        tokens,
		CallbackRate:  rate.Limit(cfg.Push.CallbackRatePerSecond),
		CallbackBurst: cfg.Push.CallbackBurst,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("notifyd listening", "addr", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
