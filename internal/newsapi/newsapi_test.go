package newsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSearchReturnsArticles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","articles":[{"title":"A","description":"d","url":"https://x/a","publishedAt":"2024-01-01T00:00:00Z","source":{"name":"src"}}]}`))
	}))
	defer srv.Close()

	c := New("key", time.Hour, srv.Client())
	c.baseURL = srv.URL

	articles, err := c.Search(context.Background(), []string{"foo"}, time.Now())
	require.NoError(t, err)
	require.Len(t, articles, 1)
	require.Equal(t, "A", articles[0].Title)
}

func TestSearchCachesWithinTTL(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","articles":[]}`))
	}))
	defer srv.Close()

	c := New("key", time.Hour, srv.Client())
	c.baseURL = srv.URL

	from := time.Now()
	_, err := c.Search(context.Background(), []string{"foo"}, from)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), []string{"foo"}, from)
	require.NoError(t, err)

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSearchRateLimitEntersBackoffAndShortCircuits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"error","code":"rateLimited","message":"too many requests"}`))
	}))
	defer srv.Close()

	c := New("key", time.Hour, srv.Client())
	c.baseURL = srv.URL

	_, err := c.Search(context.Background(), []string{"foo"}, time.Now())
	require.ErrorIs(t, err, ErrRateLimited)
	require.True(t, c.ConsumeBackoffNotice())
	require.False(t, c.ConsumeBackoffNotice())

	articles, err := c.Search(context.Background(), []string{"bar"}, time.Now())
	require.NoError(t, err)
	require.Empty(t, articles)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCacheKeyIsStableForSameDay(t *testing.T) {
	c := New("key", time.Hour, nil)
	morning := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 1, 1, 22, 0, 0, 0, time.UTC)
	require.Equal(t, c.cacheKey("Foo Bar", morning), c.cacheKey("foo bar", evening))
	require.NotEqual(t, c.cacheKey("foo bar", morning), c.cacheKey("foo bar", morning.Add(48*time.Hour)))
}
