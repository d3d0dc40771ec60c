// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/omnichat-app/omnichat/pkg/logging"
	"github.com/omnichat-app/omnichat/services/chat/observability"
	"github.com/omnichat-app/omnichat/services/gateway/handlers"
	"github.com/omnichat-app/omnichat/services/gateway/middleware"
	"github.com/omnichat-app/omnichat/services/gateway/routes"
)

const serviceName = "omnichat-gateway"

// shutdownGrace bounds how long in-flight requests get on SIGTERM.
const shutdownGrace = 10 * time.Second

// initTracer configures the tracer provider with a stdout span exporter.
// Returns a cleanup function that flushes and shuts the provider down.
func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// runServe starts the HTTP gateway: the SSE chat relay, its WebSocket
// sibling, health, and metrics, behind rate limiting and tracing.
func runServe(cmd *cobra.Command, args []string) {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: serviceName,
		JSON:    true,
		LogDir:  serveLogDir,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if !serveNoTrace {
		cleanup, err := initTracer()
		if err != nil {
			log.Fatalf("failed to setup the trace exporter: %v", err)
		}
		defer cleanup(context.Background())
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	router := gin.Default()
	if !serveNoTrace {
		router.Use(otelgin.Middleware(serviceName))
	}

	var limiter *middleware.RateLimiter
	if serveRate > 0 {
		limiter = middleware.NewRateLimiter(serveRate, serveBurst)
	}

	routes.SetupRoutes(router, handlers.ChatDeps{
		Metrics: metrics,
		Logger:  logger.Slog(),
	}, limiter)

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Gateway listening", "addr", serveAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Gateway failed: %v", err)
	}
	logger.Info("Gateway stopped")
}
