package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Summary is an encyclopedia page abstract.
type Summary struct {
	Title   string
	Extract string
	URL     string
}

// EncyclopediaProvider looks up page summaries.
type EncyclopediaProvider interface {
	Summary(ctx context.Context, query string) (Summary, error)
}

// WikipediaProvider uses the Wikipedia REST summary API.
type WikipediaProvider struct {
	httpSource
}

// NewWikipediaProvider creates a client rooted at the rest_v1 base URL.
func NewWikipediaProvider(baseURL, userAgent string, timeout time.Duration) *WikipediaProvider {
	return &WikipediaProvider{httpSource: newHTTPSource(baseURL, "https://en.wikipedia.org/api/rest_v1", userAgent, timeout)}
}

type wikiSummary struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Summary implements EncyclopediaProvider.
func (p *WikipediaProvider) Summary(ctx context.Context, query string) (Summary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Summary{}, fmt.Errorf("query cannot be empty")
	}

	endpoint := p.baseURL + "/page/summary/" + url.PathEscape(query)

	var payload wikiSummary
	if err := p.getJSON(ctx, endpoint, &payload); err != nil {
		return Summary{}, err
	}
	if payload.Title == "" {
		return Summary{}, ErrNotFound
	}

	page := payload.ContentURLs.Desktop.Page
	if page == "" {
		page = p.pageURL(query)
	}

	return Summary{
		Title:   payload.Title,
		Extract: payload.Extract,
		URL:     page,
	}, nil
}

// pageURL builds https://<host>/wiki/<query> from the API base URL.
func (p *WikipediaProvider) pageURL(query string) string {
	host := "en.wikipedia.org"
	scheme := "https"
	if u, err := url.Parse(p.baseURL); err == nil && u.Host != "" {
		host = u.Host
		scheme = u.Scheme
	}
	return scheme + "://" + host + "/wiki/" + url.PathEscape(query)
}
