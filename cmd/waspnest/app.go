// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/jllopis/waspnest/pkg/audit"
	"github.com/jllopis/waspnest/pkg/config"
	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/hooks"
	"github.com/jllopis/waspnest/pkg/llm"
	"github.com/jllopis/waspnest/pkg/telemetry"
)

// MockProvider is the llm.provider value that answers locally by echoing the
// prompt, for trying pipelines without credentials.
const MockProvider = "mock"

// app holds everything built from one configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider llm.Provider
	hooks    *hooks.Registry
	audit    audit.Store
	closers  []func(context.Context) error
}

func newApp(cfg *config.Config, logOutput io.Writer) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: telemetry.ConfigureSlog(logOutput, cfg.Log.Level, cfg.Log.Format),
	}

	shutdown, err := telemetry.InitWithConfig("waspnest", version, cfg.TelemetryExporter())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	a.provider, err = buildProvider(cfg.LLM)
	if err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}

	a.hooks, err = buildRegistry(cfg, a.logger)
	if err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}

	if cfg.Audit.Enabled {
		store, closeStore, err := openAudit(cfg.Audit)
		if err != nil {
			_ = a.Close(context.Background())
			return nil, err
		}
		if closeStore != nil {
			a.closers = append(a.closers, func(context.Context) error { return closeStore() })
		}
		if err := audit.Register(a.hooks, store); err != nil {
			_ = a.Close(context.Background())
			return nil, err
		}
		a.audit = store
	}
	return a, nil
}

// Close releases the audit store and flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func buildProvider(cfg config.LLMConfig) (llm.Provider, error) {
	var p llm.Provider
	if strings.EqualFold(cfg.Provider, MockProvider) {
		p = echoProvider()
	} else {
		gp, err := llm.NewGollmProvider(cfg.Provider,
			llm.WithAPIKey(cfg.APIKey),
			llm.WithModel(cfg.Model),
			llm.WithMaxTokens(cfg.MaxTokens),
			llm.WithTemperature(cfg.Temperature),
		)
		if err != nil {
			return nil, err
		}
		p = gp
	}
	return llm.WithTimeout(p, cfg.Timeout), nil
}

func buildRegistry(cfg *config.Config, logger *slog.Logger) (*hooks.Registry, error) {
	policy, err := hooks.ParseFailurePolicy(cfg.Hooks.FailurePolicy)
	if err != nil {
		return nil, err
	}
	reg := hooks.NewRegistry(hooks.WithFailurePolicy(policy), hooks.WithLogger(logger))
	if err := telemetry.RegisterLogging(reg, logger); err != nil {
		return nil, err
	}
	if cfg.Telemetry.Enabled {
		metrics, err := telemetry.NewRunMetrics()
		if err != nil {
			return nil, err
		}
		if err := metrics.Register(reg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func openAudit(cfg config.AuditConfig) (audit.Store, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return audit.NewMemoryStore(), nil, nil
	case "sqlite":
		store, err := audit.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return nil, nil, errors.Configurationf("unknown audit driver %q", cfg.Driver).
		WithContext("driver", cfg.Driver)
}

// echoProvider answers every request with {"text": <last user message>}.
func echoProvider() llm.Provider {
	return llm.ProviderFunc(func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		body, err := json.Marshal(map[string]string{"text": req.LastUser()})
		if err != nil {
			return nil, err
		}
		return &llm.ChatResponse{Content: string(body), Model: req.Model}, nil
	})
}
