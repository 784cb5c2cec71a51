package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/docstore"
	"github.com/kadirpekel/conductor/pkg/embedders"
	"github.com/kadirpekel/conductor/pkg/heartbeat"
	"github.com/kadirpekel/conductor/pkg/kv"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/memory"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/orchestrator"
	"github.com/kadirpekel/conductor/pkg/patterns"
	"github.com/kadirpekel/conductor/pkg/rag"
	"github.com/kadirpekel/conductor/pkg/server"
	"github.com/kadirpekel/conductor/pkg/tokens"
	"github.com/kadirpekel/conductor/pkg/tools"
	"github.com/kadirpekel/conductor/pkg/vector"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage. Disabled backends fall back to in-memory implementations
	// so a bare `conductor serve` works standalone.
	var store kv.Store
	if cfg.Storage.Redis.Enabled {
		redisStore, err := kv.NewRedisStore(ctx, cfg.Storage.Redis.RedisConfig)
		if err != nil {
			return err
		}
		store = redisStore
		slog.Info("Using Redis", "addr", cfg.Storage.Redis.Addr)
	} else {
		store = kv.NewMemoryStore()
		slog.Info("Using in-memory KV store")
	}
	defer store.Close()

	var messages docstore.MessageStore
	if cfg.Storage.Mongo.Enabled {
		mongoStore, err := docstore.NewMongoStore(ctx, cfg.Storage.Mongo.MongoConfig)
		if err != nil {
			return err
		}
		messages = mongoStore
		slog.Info("Using MongoDB", "database", cfg.Storage.Mongo.Database)
	} else {
		messages = docstore.NewMemoryStore()
		slog.Info("Using in-memory message store")
	}
	defer messages.Close(context.Background())
	if err := messages.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure message indexes: %w", err)
	}

	// Models.
	models := llms.NewRegistry()
	defer models.Close()
	primary, err := llms.NewOpenAIProvider(cfg.LLM.Primary)
	if err != nil {
		return err
	}
	if err := models.RegisterProvider("primary", primary); err != nil {
		return err
	}
	fast, err := llms.NewOpenAIProvider(cfg.LLM.Fast)
	if err != nil {
		return err
	}
	if err := models.RegisterProvider("fast", fast); err != nil {
		return err
	}

	counter, err := tokens.NewCounter(cfg.LLM.Primary.Model)
	if err != nil {
		return err
	}

	mem := memory.NewService(messages, store, fast, counter, cfg.Memory)

	// Retrieval.
	var embedder embedders.Embedder
	if cfg.Embedder.Type == "openai" {
		embedder, err = embedders.NewOpenAIEmbedder(cfg.Embedder.OpenAI)
		if err != nil {
			return err
		}
	} else {
		embedder = embedders.NewMockEmbedder(cfg.Embedder.OpenAI.Dimension)
		slog.Warn("Using deterministic mock embedder; configure embedder.openai for real retrieval")
	}
	defer embedder.Close()

	vectors, err := vector.New(cfg.Vector)
	if err != nil {
		return err
	}
	defer vectors.Close()

	chunker, err := rag.NewChunker(rag.ChunkerConfig{})
	if err != nil {
		return err
	}
	pipeline := rag.NewPipeline(chunker, embedder, vectors)

	// Tool servers.
	registry := tools.NewRegistry(0)
	defer registry.Close()

	commandCfg := tools.CommandConfig{
		WorkingDirectory: cfg.Tools.Command.WorkingDirectory,
		MaxExecutionTime: time.Duration(cfg.Tools.Command.MaxExecutionSecs) * time.Second,
		MaxOutputBytes:   cfg.Tools.Command.MaxOutputBytes,
	}
	webCfg := tools.WebConfig{
		Timeout:         time.Duration(cfg.Tools.Web.TimeoutSecs) * time.Second,
		MaxContentChars: cfg.Tools.Web.MaxContentChars,
		UserAgent:       cfg.Tools.Web.UserAgent,
	}
	searchCfg := tools.SearchConfig{
		BaseURL:    cfg.Tools.Search.BaseURL,
		Timeout:    time.Duration(cfg.Tools.Search.TimeoutSecs) * time.Second,
		MaxResults: cfg.Tools.Search.MaxResults,
	}

	servers := []struct {
		name string
		srv  func() (*tools.MCPSource, error)
	}{
		{"command", func() (*tools.MCPSource, error) {
			return tools.NewInProcessSource(ctx, "command", tools.NewCommandServer(commandCfg))
		}},
		{"web", func() (*tools.MCPSource, error) {
			return tools.NewInProcessSource(ctx, "web", tools.NewWebServer(webCfg))
		}},
		{"search", func() (*tools.MCPSource, error) {
			return tools.NewInProcessSource(ctx, "search", tools.NewSearchServer(searchCfg))
		}},
		{"rag", func() (*tools.MCPSource, error) {
			return tools.NewInProcessSource(ctx, "rag", tools.NewRAGServer(pipeline))
		}},
		{"memory", func() (*tools.MCPSource, error) {
			return tools.NewInProcessSource(ctx, "memory", tools.NewMemoryServer(mem))
		}},
	}
	for _, s := range servers {
		src, err := s.srv()
		if err != nil {
			return fmt.Errorf("failed to start %s tool server: %w", s.name, err)
		}
		if err := registry.AddSource(ctx, src); err != nil {
			return err
		}
	}

	// Metrics.
	var metrics *observability.Metrics
	if cfg.Observability.Enabled {
		metrics, err = observability.New()
		if err != nil {
			return err
		}
		defer metrics.Shutdown(context.Background())
	}

	// Orchestrator.
	pats := patterns.NewRegistry()
	orch, err := orchestrator.New(orchestrator.Capabilities{
		Fast:     fast,
		Primary:  primary,
		Memory:   mem,
		Tools:    registry,
		Patterns: pats,
		Bus:      store,
		Metrics:  metrics,
	}, cfg.Orchestrator)
	if err != nil {
		return err
	}
	if err := orch.RefreshPatterns(ctx); err != nil {
		slog.Warn("Pattern load failed, precheck disabled until refresh", "error", err)
	}

	// Node membership.
	beater := heartbeat.New(store, heartbeat.Config{})
	beater.Start(ctx)
	defer beater.Stop(context.Background())

	httpServer := server.New(orch, cfg.Server)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)

	var metricsServer *http.Server
	if metrics != nil {
		metricsServer = &http.Server{Addr: cfg.Observability.Addr(), Handler: metrics.Handler()}
		g.Go(func() error {
			slog.Info("Metrics listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	slog.Info("Conductor started", "node_id", beater.NodeID())
	return g.Wait()
}
