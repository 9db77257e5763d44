// Package newsapi is a small HTTP client against NewsAPI.org's "everything"
// endpoint, implementing spec.md §6's news API contract (search(terms,
// from_date) -> []Article, with rate-limit responses distinguishable by
// error code). Grounded on original_source/penny/penny/tools/news.py's
// NewsTool: a query cache keyed on (normalized query, from_date day) and a
// sticky rate-limit backoff window, adapted from the teacher's plain
// net/http JSON client style used throughout internal/llm's non-SDK
// providers rather than a generated SDK.
package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Article is one news item returned by the search contract (spec.md §6).
type Article struct {
	Title       string
	Description string
	URL         string
	PublishedAt time.Time
	Source      string
}

// ErrRateLimited is returned when the API reports a rate-limit response, so
// callers can distinguish it from other transient failures (spec.md §6
// "Rate-limit responses are distinguishable by error code", §4.5, §7).
var ErrRateLimited = fmt.Errorf("newsapi: rate limited")

const (
	cacheTTL           = 10 * time.Minute
	rateLimitedCode    = "rateLimited"
	defaultBackoff     = 12 * time.Hour
	defaultBaseURL     = "https://newsapi.org/v2/everything"
)

type cacheEntry struct {
	at       time.Time
	articles []Article
}

// Client is a cached, backoff-aware NewsAPI.org client.
type Client struct {
	apiKey  string
	http    *http.Client
	backoff time.Duration
	// baseURL overrides the NewsAPI endpoint; only ever set by tests.
	baseURL string

	mu               sync.Mutex
	cache            map[string]cacheEntry
	rateLimitedUntil time.Time
	// pendingBackoffNotice is set once per backoff event so the
	// notification layer can inform the user (spec.md §4.5 "A
	// consume-notification flag is set once per backoff event").
	pendingBackoffNotice bool
}

// New constructs a Client. backoff overrides the default rate-limit window
// (config.Timings.NewsRateLimitBackoff); zero selects the default.
func New(apiKey string, backoff time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Client{apiKey: apiKey, http: httpClient, backoff: backoff, baseURL: defaultBaseURL, cache: make(map[string]cacheEntry)}
}

// Search implements spec.md §6's news API contract. During an active
// rate-limit backoff window it short-circuits to an empty result without
// calling the API (spec.md §4.5 "all further news calls short-circuit to
// empty").
func (c *Client) Search(ctx context.Context, terms []string, fromDate time.Time) ([]Article, error) {
	query := strings.Join(terms, " OR ")
	key := c.cacheKey(query, fromDate)

	c.mu.Lock()
	if !c.rateLimitedUntil.IsZero() && time.Now().Before(c.rateLimitedUntil) {
		c.mu.Unlock()
		return nil, nil
	}
	if entry, ok := c.cache[key]; ok && time.Since(entry.at) < cacheTTL {
		c.mu.Unlock()
		return entry.articles, nil
	}
	c.mu.Unlock()

	articles, err := c.fetch(ctx, query, fromDate)
	if err != nil {
		if err == ErrRateLimited {
			c.enterBackoff()
		}
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{at: time.Now(), articles: articles}
	c.mu.Unlock()

	return articles, nil
}

// ConsumeBackoffNotice reports and clears the pending-notice flag, once per
// backoff event (spec.md §4.5).
func (c *Client) ConsumeBackoffNotice() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pendingBackoffNotice
	c.pendingBackoffNotice = false
	return pending
}

func (c *Client) enterBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimitedUntil = time.Now().Add(c.backoff)
	c.pendingBackoffNotice = true
}

// cacheKey derives a cache key from the normalized query and from_date's
// calendar day, per spec.md §8 scenario 5 ("cache key derived from
// (normalized query, from_date_day) such that the same query within the
// same day hits cache").
func (c *Client) cacheKey(query string, fromDate time.Time) string {
	norm := strings.ToLower(strings.TrimSpace(query))
	if fromDate.IsZero() {
		return norm + "|none"
	}
	return norm + "|" + fromDate.UTC().Format("2006-01-02")
}

func (c *Client) fetch(ctx context.Context, query string, fromDate time.Time) ([]Article, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("sortBy", "relevancy")
	q.Set("language", "en")
	if !fromDate.IsZero() {
		q.Set("from", fromDate.UTC().Format(time.RFC3339))
	}

	reqURL := c.baseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Status  string `json:"status"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Articles []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
			PublishedAt string `json:"publishedAt"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("newsapi: decode: %w", err)
	}

	if parsed.Status == "error" {
		if parsed.Code == rateLimitedCode || resp.StatusCode == http.StatusTooManyRequests {
			return nil, ErrRateLimited
		}
		return nil, fmt.Errorf("newsapi: %s: %s", parsed.Code, parsed.Message)
	}

	out := make([]Article, 0, len(parsed.Articles))
	for _, a := range parsed.Articles {
		published, _ := time.Parse(time.RFC3339, a.PublishedAt)
		out = append(out, Article{
			Title:       a.Title,
			Description: a.Description,
			URL:         a.URL,
			PublishedAt: published,
			Source:      a.Source.Name,
		})
	}
	return out, nil
}
