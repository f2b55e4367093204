// Package main is the bubbles engine daemon: it loads configuration, wires
// the providers for the configured mode, and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/bubbles/internal/api"
	"github.com/thebtf/bubbles/internal/config"
	"github.com/thebtf/bubbles/internal/coordinator"
	"github.com/thebtf/bubbles/internal/pipeline"
	"github.com/thebtf/bubbles/internal/provider"
	"github.com/thebtf/bubbles/internal/store"
	"github.com/thebtf/bubbles/internal/telemetry"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "bubbles.yaml", "Path to the YAML config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load config")
	}

	embedder, labeler, voter, err := buildProviders(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("mode", cfg.Providers.Mode).Msg("Failed to initialize providers")
	}

	coord, err := coordinator.New(labeler, voter, coordinator.Config{
		MinBubbleSizeForLabel: cfg.Labeling.MinBubbleSizeForLabel,
		MaxRepresentatives:    cfg.Labeling.MaxRepresentatives,
		TokenBudget:           cfg.Labeling.TokenBudget,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize coordinator")
	}

	metrics, err := telemetry.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register metrics")
	}

	pipe := pipeline.New(embedder, coord, metrics, pipeline.Config{
		AssignThreshold: cfg.Clustering.AssignThreshold,
		SplitThreshold:  cfg.Clustering.SplitThreshold,
		MergeThreshold:  cfg.Clustering.MergeThreshold,
	})
	posts := store.New(pipe)

	// Threshold changes take effect without a restart; provider and server
	// settings still require one.
	watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
		pipe.SetConfig(pipeline.Config{
			AssignThreshold: next.Clustering.AssignThreshold,
			SplitThreshold:  next.Clustering.SplitThreshold,
			MergeThreshold:  next.Clustering.MergeThreshold,
		})
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable, hot reload disabled")
	} else if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Config watcher failed to start, hot reload disabled")
	} else {
		defer watcher.Stop()
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(posts).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("mode", cfg.Providers.Mode).
			Str("version", Version).
			Msg("Bubbles engine listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// buildProviders wires the embedding, labeling, and voting backends for the
// configured mode. Selection happens here, once, by configuration.
func buildProviders(cfg *config.Config) (provider.EmbeddingProvider, provider.Labeler, provider.Voter, error) {
	if cfg.Providers.Mode == "local" {
		return provider.NewLocalEmbedder(cfg.Providers.EmbeddingDim),
			provider.NewLocalLabeler(),
			provider.NewLocalVoter(),
			nil
	}

	key, err := cfg.APIKey()
	if err != nil {
		return nil, nil, nil, err
	}
	openaiCfg := provider.OpenAIConfig{
		APIKey:         key,
		EmbeddingModel: cfg.Providers.EmbeddingModel,
		EmbeddingDim:   cfg.Providers.EmbeddingDim,
		ChatModel:      cfg.Providers.ChatModel,
	}

	embedder, err := provider.NewOpenAIEmbedder(openaiCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	labeler, err := provider.NewOpenAILabeler(openaiCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	voter, err := provider.NewOpenAIVoter(openaiCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return embedder, labeler, voter, nil
}
