// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine assembles the AleutianTale turn-orchestration service.
//
// This package contains the main service type that coordinates all
// components: the session store, the two-phase turn pipeline, the
// per-session scheduler with its countdown machinery, the generator
// backends, and observability infrastructure.
//
// # Usage
//
//	mgr, err := config.NewManager("engine.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := engine.New(mgr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianTale/services/engine/clock"
	"github.com/AleutianAI/AleutianTale/services/engine/config"
	"github.com/AleutianAI/AleutianTale/services/engine/frames"
	"github.com/AleutianAI/AleutianTale/services/engine/generators"
	"github.com/AleutianAI/AleutianTale/services/engine/lore"
	"github.com/AleutianAI/AleutianTale/services/engine/observability"
	"github.com/AleutianAI/AleutianTale/services/engine/routes"
	"github.com/AleutianAI/AleutianTale/services/engine/scheduler"
	"github.com/AleutianAI/AleutianTale/services/engine/store"
	"github.com/AleutianAI/AleutianTale/services/engine/turn"
	"github.com/AleutianAI/AleutianTale/services/engine/world"
	"github.com/AleutianAI/AleutianTale/services/llm"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the engine service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Close releases background resources (lore cache, tracer).
	// Called automatically when Run returns.
	Close()
}

// =============================================================================
// Implementation
// =============================================================================

// service wires the engine components together.
//
// # Fields
//
//   - cfgMgr: live configuration source (hot-reloads tunables)
//   - store: on-disk session store
//   - frames: process-lifetime frame buffer
//   - sched: per-session turn scheduler
//   - loreCache: badger-backed lore store (may be nil)
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	cfgMgr        *config.Manager
	router        *gin.Engine
	store         *store.Store
	frames        *frames.Buffer
	sched         *scheduler.Scheduler
	loreCache     *lore.Cache
	llmClient     llm.LLMClient
	tracerCleanup func(context.Context)
}

// New creates the engine Service from a live configuration manager.
//
// # Description
//
// New initializes all components:
//  1. OpenTelemetry tracing (optional)
//  2. Prometheus metrics
//  3. Session store under the configured data dir
//  4. LLM client for the configured backend
//  5. Generator seams (narrative, image, choices, evolver, extractor)
//  6. Turn pipeline and scheduler
//  7. HTTP routes
//
// # Assumptions
//
//   - Environment variables are set for the chosen backends (API keys)
//   - The data dir is writable
func New(cfgMgr *config.Manager) (Service, error) {
	cfg := cfgMgr.Get()
	s := &service{cfgMgr: cfgMgr}

	if cfg.Trace.Enabled {
		cleanup, err := initTracer(cfg.Trace.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	observability.InitMetrics()

	wall := clock.NewWall()
	mono := clock.NewMonotonic()

	st, err := store.New(cfg.Engine.DataDir, cfg.Engine.IntroPrompt, wall)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	s.store = st
	s.frames = frames.NewBuffer()

	if err := s.initLLMClient(cfg); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	imageGen, err := initImageClient(cfg)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize image client: %w", err)
	}

	evolverGen := generators.NewLLMEvolver(s.llmClient)
	extractor := generators.NewLLMExtractor(s.llmClient)
	pipeline := turn.New(
		st, s.frames,
		world.NewEvolver(evolverGen, extractor),
		generators.NewLLMNarrative(s.llmClient),
		imageGen,
		generators.NewLLMChoices(s.llmClient),
		wall,
		nil, // production fate roller
		turn.Config{
			NarrativeTimeout:  cfg.NarrativeTimeout(),
			ReferenceCount:    cfg.Engine.ReferenceCount,
			BrandingFrame:     cfg.Engine.BrandingFrame,
			AllowFateOverride: cfg.Engine.AllowFateOverride,
		},
	)

	s.sched = scheduler.New(st, pipeline, s.frames, mono, wall, scheduler.Config{
		CountdownDuration: cfg.CountdownDuration(),
		PlayAgainWindow:   cfg.PlayAgainWindow(),
		ReplayBudgetBytes: cfg.ReplayBudgetBytes(),
		AutoAdvance:       cfg.Engine.AutoAdvance,
	})

	s.loreCache, err = lore.Open(cfg.Engine.LoreDir, loreLoader(s.llmClient))
	if err != nil {
		slog.Warn("lore cache unavailable, continuing without it", "error", err)
		s.loreCache = nil
	}

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until it stops.
func (s *service) Run() error {
	defer s.Close()

	cfg := s.cfgMgr.Get()
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	slog.Info("starting engine server", "addr", addr, "data_dir", cfg.Engine.DataDir)
	return s.router.Run(addr)
}

// Router returns the configured Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close releases background resources.
func (s *service) Close() {
	if s.loreCache != nil {
		if err := s.loreCache.Close(); err != nil {
			slog.Warn("lore cache close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Private Initialization
// =============================================================================

func (s *service) initLLMClient(cfg config.Config) error {
	var err error
	switch cfg.LLM.Backend {
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("using OpenAI LLM backend", "model", cfg.LLM.Model)
	case "anthropic":
		s.llmClient, err = llm.NewAnthropicClient()
		slog.Info("using Anthropic LLM backend", "model", cfg.LLM.Model)
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient()
		slog.Info("using Ollama LLM backend", "model", cfg.LLM.Model)
	case "local":
		s.llmClient, err = llm.NewLocalLlamaCppClient()
		slog.Info("using local llama.cpp LLM backend")
	default:
		return fmt.Errorf("unknown LLM backend %q", cfg.LLM.Backend)
	}
	return err
}

func initImageClient(cfg config.Config) (generators.Image, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set for the image backend")
	}
	client := openai.NewClient(apiKey)
	return generators.NewOpenAIImage(client, cfg.Image.Model, cfg.Image.Size,
		cfg.Image.RequestsPerMinute), nil
}

// loreLoader adapts the LLM client into the lore cache's loader seam.
func loreLoader(client llm.LLMClient) lore.Loader {
	return func(ctx context.Context, element string) (string, error) {
		prompt := fmt.Sprintf("Write a 60-90 word piece of background lore for %q, "+
			"an element of a grounded survival story. Mysterious, concrete, no spoilers. "+
			"Respond with only the lore text.", element)
		return client.Generate(ctx, prompt, llm.GenerationParams{})
	}
}

func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("tale-engine"))
	routes.SetupRoutes(s.router, s.store, s.sched, s.frames, s.loreCache)
}

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("tale-engine")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
