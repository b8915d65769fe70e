package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgersync/internal/pipeline"
	"github.com/ajitpratap0/ledgersync/pkg/clock"
	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/connector/core"
	"github.com/ajitpratap0/ledgersync/pkg/connector/registry"
	"github.com/ajitpratap0/ledgersync/pkg/metrics"
	"github.com/ajitpratap0/ledgersync/pkg/watermark"
)

// app holds the long-lived components of one pipeline
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	source  core.Source
	sink    core.Destination
	store   watermark.Store
	tracker *watermark.Tracker
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	source, err := registry.CreateSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create source connector '%s': %w", cfg.Source.Type, err)
	}

	sink, err := registry.CreateDestination(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination connector '%s': %w", cfg.Destination.Type, err)
	}

	store, tracker, err := openTracker(ctx, cfg, log)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		log:     log,
		source:  source,
		sink:    sink,
		store:   store,
		tracker: tracker,
	}, nil
}

func openTracker(ctx context.Context, cfg *config.Config, log *zap.Logger) (watermark.Store, *watermark.Tracker, error) {
	store, err := watermark.NewStore(ctx, cfg.Watermark, watermark.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open watermark store '%s': %w", cfg.Watermark.Store, err)
	}

	initial := cfg.Service.StartingWatermark(time.Now())
	tracker, err := watermark.NewTracker(ctx, store, initial, log)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, tracker, nil
}

func (a *app) orchestrator(collector *metrics.Collector) *pipeline.Orchestrator {
	return pipeline.New(a.source, a.sink, a.tracker, pipeline.ConfigFromService(a.cfg.Service),
		pipeline.WithLogger(a.log),
		pipeline.WithClock(clock.System{}),
		pipeline.WithMetrics(collector),
	)
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("failed to close watermark store", zap.Error(err))
	}
}

// serveMetrics starts the /metrics listener. The returned function stops it.
func serveMetrics(addr string, collector *metrics.Collector, log *zap.Logger) func(context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics listener started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics listener failed", zap.Error(err))
		}
	}()

	return func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("metrics listener shutdown failed", zap.Error(err))
		}
	}
}
