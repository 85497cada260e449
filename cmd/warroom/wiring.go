package main

import (
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/warroom/internal/backend"
	"github.com/mtzanidakis/warroom/internal/capability"
	"github.com/mtzanidakis/warroom/internal/config"
	"github.com/mtzanidakis/warroom/internal/registry"
	"github.com/mtzanidakis/warroom/internal/store"
	"github.com/mtzanidakis/warroom/internal/vault"
)

// openStore opens the run store. When a vault passphrase is configured it
// also resolves secret references in c; secrets is nil otherwise.
func openStore(c *config.Config) (*store.Store, *vault.Secrets, error) {
	db, err := store.New(c.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	if c.Vault.Passphrase == "" {
		return db, nil, nil
	}
	secrets := vault.NewSecrets(vault.New(c.Vault.Passphrase), db)
	secrets.ResolveConfig(c)
	return db, secrets, nil
}

func buildRoster(c *config.Config) (*registry.Registry, error) {
	caps := capability.NewRegistry()
	if err := capability.RegisterBuiltins(caps, c.Capabilities.Disabled...); err != nil {
		return nil, fmt.Errorf("register capabilities: %w", err)
	}
	return registry.New(caps, c.Agents), nil
}

// resolveBackend returns the breaker-wrapped backend, or nil and the reason
// none is configured. The embedder is nil unless a Google key is set.
func resolveBackend(c *config.Config, logger *slog.Logger) (backend.Backend, string, backend.Embedder) {
	res := backend.Resolve(c.LLM, backend.WithLogger(logger))
	if res.Status != backend.Configured {
		return nil, res.Reason, nil
	}
	b := backend.NewBreaker(res.Backend, c.Breaker, logger)
	emb, ok := backend.ResolveEmbedder(c.LLM, backend.WithLogger(logger))
	if !ok {
		emb = nil
	}
	logger.Debug("backend resolved", "identity", backend.Identity(b), "embedder", ok)
	return b, "", emb
}
