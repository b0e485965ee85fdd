package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jonathan/fleet-diagnostics/internal/agent"
	"github.com/jonathan/fleet-diagnostics/internal/config"
	"github.com/jonathan/fleet-diagnostics/internal/db"
	"github.com/jonathan/fleet-diagnostics/internal/llm"
)

// loadConfig reads and validates the configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore connects to PostgreSQL when a database URL is configured and
// falls back to the in-memory store otherwise
func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Printf("No database configured; using in-memory store")
		return db.NewMemoryStore(), nil
	}
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// newAgent builds the model client and store for cfg. The returned cleanup
// closes the model client; the store is closed by whoever owns the agent.
func newAgent(ctx context.Context, cfg *config.Config) (*agent.Agent, func(), error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, nil, err
	}
	client, err := llm.NewClient(ctx, cfg.LLMConfig(), cfg.APIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Printf("Error closing LLM client: %v", err)
		}
	}
	return agent.New(client, store, cfg, agent.Options{}), cleanup, nil
}
