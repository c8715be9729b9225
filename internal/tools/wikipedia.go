package tools

import (
	"context"
	"log/slog"

	"github.com/hession/toolgate/internal/logger"
	"github.com/hession/toolgate/internal/sources"
)

const wikipediaNotFound = "未找到相关词条，请尝试更准确的关键词。"

// WikipediaTool looks up a topic summary.
type WikipediaTool struct {
	provider sources.EncyclopediaProvider
	log      *slog.Logger
}

// WikipediaSummary is the result of search_wikipedia.
type WikipediaSummary struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
	URL     string `json:"url"`
}

// NewWikipediaTool creates the search_wikipedia tool.
func NewWikipediaTool(provider sources.EncyclopediaProvider, log *slog.Logger) *WikipediaTool {
	return &WikipediaTool{provider: provider, log: logger.OrDefault(log)}
}

func (t *WikipediaTool) Name() string { return "search_wikipedia" }

func (t *WikipediaTool) Description() string {
	return "搜索维基百科上某个主题的简要介绍"
}

func (t *WikipediaTool) InputSchema() InputSchema {
	return ObjectSchema(map[string]Property{
		"query": {Type: "string", Description: "要搜索的主题，例如 Albert Einstein, Python programming"},
	}, "query")
}

func (t *WikipediaTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	query, ok := stringParam(params, "query")
	if !ok {
		return SoftError(wikipediaNotFound), nil
	}

	s, err := t.provider.Summary(ctx, query)
	if err != nil {
		t.log.Warn("wikipedia lookup failed", "query", query, "error", err)
		return SoftError(wikipediaNotFound), nil
	}

	return WikipediaSummary{Title: s.Title, Extract: s.Extract, URL: s.URL}, nil
}
