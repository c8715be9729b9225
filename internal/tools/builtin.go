package tools

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hession/toolgate/internal/cache"
	"github.com/hession/toolgate/internal/config"
	"github.com/hession/toolgate/internal/sources"
)

// BuiltinTools returns the default tool set in registration order.
func BuiltinTools(cfg config.ToolsConfig, log *slog.Logger) []Tool {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return []Tool{
		NewWeatherTool(sources.NewWttrProvider(cfg.WeatherBaseURL, cfg.UserAgent, timeout), log),
		NewWikipediaTool(sources.NewWikipediaProvider(cfg.WikipediaBaseURL, cfg.UserAgent, timeout), log),
		NewMathTool(),
	}
}

// NewDefaultRegistry registers the built-in tools and seals the registry.
// store may be nil, in which case no tool is cached.
func NewDefaultRegistry(cfg *config.Config, store cache.Store, log *slog.Logger) (*Registry, error) {
	registry := NewRegistry(WithParameterValidation(cfg.Dispatch.ValidateParameters))

	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	for _, t := range BuiltinTools(cfg.Tools, log) {
		if store != nil && slices.Contains(cfg.Cache.Tools, t.Name()) {
			t = WithCache(t, store, ttl, log)
		}
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("register builtin tools: %w", err)
		}
	}

	registry.Seal()
	return registry, nil
}
