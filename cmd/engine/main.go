// Command engine is the dealer gamma engine's process entrypoint: it
// loads configuration, wires the caches, book, ingest supervisor, gamma
// sink, and status API, then runs the four concurrent tasks until a
// termination signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/dealer-gamma-engine/internal/api"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/book"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/config"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/engine"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/gammastore"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/ingest"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/quotecache"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/resilience"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/snapshot"
	"github.com/eddiefleurent/dealer-gamma-engine/internal/surface"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the engine's YAML configuration")
	flag.Parse()

	logger := log.New(os.Stdout, "[ENGINE] ", log.LstdFlags)

	if err := run(*configPath, logger); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}

func run(configPath string, logger *log.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	quotes := quotecache.New()
	surf := surface.New(surface.Config{
		TTL:         cfg.Engine.SurfaceTTL,
		FallbackTTL: cfg.Engine.SurfaceFallbackTTL,
	})
	bk := book.New()

	var snapshotSpot float64
	if cfg.Engine.SnapshotInputPath != "" {
		snapshotSpot = seedFromSnapshot(cfg.Engine.SnapshotInputPath, logger)
	}

	params := engine.Params{
		RiskFreeRate:       cfg.Engine.RiskFreeRate,
		DividendYield:      cfg.Engine.DividendYield,
		ContractMultiplier: cfg.Engine.ContractMultiplier,
		QuoteStale:         cfg.Engine.QuoteStale,
		SurfaceTTL:         cfg.Engine.SurfaceTTL,
		SurfaceFallbackTTL: cfg.Engine.SurfaceFallbackTTL,
		MoneynessBucket:    cfg.Engine.MoneynessBucketWidth,
		BaseIV:             cfg.Engine.BaseIV,
		Slope:              cfg.Engine.Slope,
		SnapshotSpot:       snapshotSpot,
	}
	engCtx := engine.NewEngineContext(quotes, surf, bk, params)
	eng := engine.New(engCtx)

	fileSink, err := gammastore.NewFileSink(cfg.Storage.Path)
	if err != nil {
		return err
	}
	sink := resilience.NewCircuitBreakerSink(fileSink)

	header := http.Header{}
	if cfg.Feed.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.Feed.AuthToken)
	}
	supervisor := ingest.NewSupervisor(ingest.SupervisorConfig{
		URL:              cfg.Feed.URL,
		Header:           header,
		Symbols:          cfg.Feed.Symbols,
		ChannelCapacity:  cfg.Feed.ChannelCapacity,
		SubscribeBatch:   cfg.Feed.SubscribeBatch,
		ReconnectInitial: cfg.Feed.ReconnectInitial,
		ReconnectCap:     cfg.Feed.ReconnectCap,
		Logger:           logger,
	})

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiLogger := logrus.New()
		if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
			apiLogger.SetLevel(level)
		}
		if cfg.Environment.LogFormat == "json" {
			apiLogger.SetFormatter(&logrus.JSONFormatter{})
		} else {
			apiLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
		apiServer = api.New(api.Config{
			Addr:      cfg.API.Addr,
			AuthToken: cfg.API.AuthToken,
			Logger:    apiLogger,
			Book:      bk,
			Counters:  engCtx.Counters,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("shutdown signal received")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return supervisor.Run(gctx)
	})

	g.Go(func() error {
		return runEngineLoop(gctx, eng, supervisor, quotes, logger)
	})

	g.Go(func() error {
		return runSnapshotLoop(gctx, bk, sink, cfg.Engine.SnapshotInterval, logger)
	})

	if apiServer != nil {
		g.Go(func() error {
			return apiServer.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return apiServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// seedFromSnapshot loads the startup chain snapshot and returns the
// underlying price it was captured at, used by the engine only as a
// fallback when no live underlying quote is usable yet. It does not touch
// the live quote cache: a snapshot spot is not a live, staleness-tracked
// observation, and seeding it there would make it expire under the quote
// staleness window shortly after startup. Snapshot load failures are
// logged, not fatal: the feed itself will eventually populate the cache.
func seedFromSnapshot(path string, logger *log.Logger) float64 {
	loader := snapshot.NewLoader()
	snap, err := loader.Load(path)
	if err != nil {
		logger.Printf("snapshot: failed to load %q: %v", path, err)
		return 0
	}
	logger.Printf("snapshot: seeded %d rows from %q", len(snap.Rows), path)
	return snap.UnderPx
}

// runEngineLoop drains the ingest supervisor's frame channel: trades are
// handed to the engine, quotes update the quote cache directly. Index-level
// quotes (spec's "I:"-prefixed underlying symbol) are additionally mirrored
// into the "UNDERLYING" key the engine's pricing step reads.
func runEngineLoop(ctx context.Context, eng *engine.Engine, sup *ingest.Supervisor, quotes *quotecache.Cache, logger *log.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-sup.Messages():
			if !ok {
				return nil
			}
			switch {
			case frame.IsQuote():
				ts := time.UnixMilli(frame.Time)
				quotes.Update(frame.Symbol, frame.Bid, frame.Ask, ts)
				if frame.IsUnderlyingQuote() {
					quotes.Update("UNDERLYING", frame.Bid, frame.Ask, ts)
				}
			case frame.IsTrade():
				if _, err := eng.HandleTrade(ctx, frame); err != nil {
					logger.Printf("engine: dropped trade %s: %v", frame.Symbol, err)
				}
			}
		}
	}
}

// runSnapshotLoop periodically writes the book's aggregate gamma to the
// durable sink.
func runSnapshotLoop(ctx context.Context, bk *book.Book, sink *resilience.CircuitBreakerSink, interval time.Duration, logger *log.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			gamma := bk.AggregateGamma()
			writeCtx, cancel := context.WithTimeout(context.Background(), interval)
			err := sink.Append(writeCtx, float64(t.Unix()), gamma)
			cancel()
			if err != nil {
				logger.Printf("snapshot: write failed: %v", err)
			}
		}
	}
}
