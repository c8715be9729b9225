package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hession/toolgate/internal/cache"
	"github.com/hession/toolgate/internal/logger"
)

// CachedTool serves repeated calls with the same parameters from a store.
// Only successful, non-soft-error results are stored. Store failures are
// logged and otherwise ignored.
type CachedTool struct {
	Tool
	store cache.Store
	ttl   time.Duration
	log   *slog.Logger
}

// WithCache wraps t with a result cache.
func WithCache(t Tool, store cache.Store, ttl time.Duration, log *slog.Logger) *CachedTool {
	return &CachedTool{Tool: t, store: store, ttl: ttl, log: logger.OrDefault(log)}
}

// Execute returns a cached json.RawMessage on a hit.
func (c *CachedTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	key, err := cacheKey(c.Name(), params)
	if err != nil {
		return c.Tool.Execute(ctx, params)
	}

	if raw, ok, err := c.store.Get(ctx, key); err != nil {
		c.log.Warn("tool cache read failed", "tool", c.Name(), "error", err)
	} else if ok {
		c.log.Debug("tool cache hit", "tool", c.Name())
		return json.RawMessage(raw), nil
	}

	result, err := c.Tool.Execute(ctx, params)
	if err != nil || IsSoftError(result) {
		return result, err
	}

	raw, merr := json.Marshal(result)
	if merr != nil {
		c.log.Warn("tool result not cacheable", "tool", c.Name(), "error", merr)
		return result, nil
	}
	if perr := c.store.Put(ctx, key, raw, c.ttl); perr != nil {
		c.log.Warn("tool cache write failed", "tool", c.Name(), "error", perr)
	}
	return result, nil
}

// cacheKey is the tool name plus the params as JSON. encoding/json sorts map keys.
func cacheKey(name string, params map[string]any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return name + ":" + string(raw), nil
}
