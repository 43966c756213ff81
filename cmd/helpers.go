package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/csa-normalizer/internal/agent"
	"github.com/sells-group/csa-normalizer/internal/limiter"
	"github.com/sells-group/csa-normalizer/internal/store"
	"github.com/sells-group/csa-normalizer/pkg/anthropic"
)

// initStore opens the configured persistence backend and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error

	switch cfg.Store.Driver {
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initBackend wires the shared reasoning backend from config.
func initBackend() (*agent.Backend, error) {
	lim, err := limiter.New(cfg.Concurrency.Sustained, cfg.Concurrency.Burst)
	if err != nil {
		return nil, eris.Wrap(err, "init limiter")
	}

	client := anthropic.NewClient(cfg.Anthropic.Key)
	if cfg.Anthropic.RequestsPerSecond > 0 {
		client = anthropic.Throttled(client, cfg.Anthropic.RequestsPerSecond, cfg.Anthropic.RequestBurst)
	}

	b := agent.NewBackend(client, lim)
	if cfg.Anthropic.HaikuModel != "" {
		b.HaikuModel = cfg.Anthropic.HaikuModel
	}
	if cfg.Anthropic.SonnetModel != "" {
		b.SonnetModel = cfg.Anthropic.SonnetModel
	}
	if cfg.Anthropic.MaxTokens > 0 {
		b.MaxTokens = int64(cfg.Anthropic.MaxTokens)
	}
	if cfg.Retry.MaxAttempts > 0 {
		b.Retry.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialBackoffMs > 0 {
		b.Retry.InitialBackoff = time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond
	}
	if cfg.Retry.MaxBackoffMs > 0 {
		b.Retry.MaxBackoff = time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond
	}
	if cfg.Retry.Multiplier > 0 {
		b.Retry.Multiplier = cfg.Retry.Multiplier
	}
	return b, nil
}

// readJSONFile decodes a JSON file into dst.
func readJSONFile(path string, dst any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return eris.Wrapf(err, "parse %s", path)
	}
	return nil
}

// printJSON writes v to stdout, indented.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
