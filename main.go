// Package main is the entry point for the NPC relay.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ireland-samantha/npc-relay/internal/claude"
	"github.com/ireland-samantha/npc-relay/internal/config"
	"github.com/ireland-samantha/npc-relay/internal/metrics"
	"github.com/ireland-samantha/npc-relay/internal/ratelimit"
	"github.com/ireland-samantha/npc-relay/internal/server"
	"github.com/ireland-samantha/npc-relay/internal/storage"
)

// limiterIdle is how long a client's rate limit state is kept without requests.
const limiterIdle = 24 * time.Hour

func main() {
	// Setup logger
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting NPC relay...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.SlogLevel())
	logger.Info("Configuration loaded",
		"model", cfg.ModelName,
		"store", cfg.StoreBackend,
		"log_level", cfg.LogLevel,
	)

	// Setup stores
	var memory storage.Store
	switch cfg.StoreBackend {
	case config.StoreMemory:
		memory = storage.NewMemoryStore()
	default:
		fileStore, err := storage.NewFileStore(cfg.MemoryPath)
		if err != nil {
			logger.Error("Failed to open memory store", "error", err)
			os.Exit(1)
		}
		logger.Info("Memory store ready", "path", fileStore.Root())
		memory = fileStore
	}

	prepromptStore, err := storage.NewFileStore(cfg.PrepromptsPath)
	if err != nil {
		logger.Error("Failed to open preprompts", "error", err)
		os.Exit(1)
	}
	prompts := claude.NewPromptLibrary(prepromptStore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	names, err := prompts.Names(ctx)
	if err != nil {
		logger.Warn("Failed to list preprompts", "error", err)
	} else {
		logger.Info("Preprompts loaded", "names", names)
		if !slices.Contains(names, claude.SystemPromptName) {
			logger.Warn("System preprompt is missing; conversation turns will fail",
				"path", prepromptStore.Root(),
				"name", claude.SystemPromptName,
			)
		}
	}

	// Create metrics, backend client and conversation manager
	m := metrics.New()
	client := claude.NewClient(claude.ClientConfig{
		APIKey:      cfg.AnthropicAPIKey,
		BaseURL:     cfg.AnthropicBaseURL,
		Model:       cfg.ModelName,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, m, logger)
	manager := claude.NewConversationManager(client, memory, prompts, m, logger)

	// Limits were validated by config.Load.
	defaultLimits, _ := ratelimit.ParseLimits(cfg.RateLimitDefault)
	endpointLimits, _ := ratelimit.ParseLimits(cfg.RateLimitEndpoint)

	srv := server.New(server.Config{
		Addr:           cfg.ListenAddr(),
		APIToken:       cfg.APIToken,
		DefaultLimits:  defaultLimits,
		EndpointLimits: endpointLimits,
		Handler: server.HandlerOptions{
			SummaryThreshold: cfg.SummaryThreshold,
			BackendTimeout:   cfg.BackendTimeout,
		},
		Metrics:      m,
		ServeMetrics: cfg.MetricsEnabled,
	}, manager, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	g.Go(func() error {
		maintain(ctx, cfg, memory, srv, logger)
		return nil
	})

	logger.Info("NPC relay is running. Press Ctrl+C to stop.", "addr", cfg.ListenAddr())
	if err := g.Wait(); err != nil {
		logger.Error("Relay error", "error", err)
		os.Exit(1)
	}

	logger.Info("NPC relay stopped.")
}

// maintain periodically expires old conversations and forgets idle rate
// limit clients until the context is cancelled.
func maintain(ctx context.Context, cfg *config.Config, memory storage.Store, srv *server.Server, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if cfg.MemoryTTL > 0 {
			removed, err := memory.Cleanup(ctx, cfg.MemoryTTL)
			if err != nil {
				logger.Warn("Failed to expire conversations", "error", err)
			} else if removed > 0 {
				logger.Info("Expired conversations", "removed", removed, "ttl", cfg.MemoryTTL)
			}
		}

		if removed := srv.SweepLimiters(limiterIdle); removed > 0 {
			logger.Debug("Swept idle rate limit clients", "removed", removed)
		}
	}
}
