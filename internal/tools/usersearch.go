package tools

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jaredlockhart/penny/internal/store"
)

// userContextKey scopes the context value this package owns so other
// packages can't collide with it by accident.
type userContextKey struct{}

// WithUser attaches the store user id that issued the current request to
// ctx, so a SearchBackend further down the call chain can attribute the
// search it performs (spec.md §3 SearchLog.user) without the Tool/Registry
// surface needing a user parameter of its own.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the user id attached by WithUser, or "" if none.
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userContextKey{}).(string)
	return user
}

// LoggingSearchBackend wraps a SearchBackend and records every call as a
// SearchLog row tagged user_message, the source the extraction pipeline's
// search-log phase mines (spec.md §4.3 phase 1). Used as the backend of the
// registry's search tool, which the foreground message agent and the
// research runner share — the enrichment agent logs its own
// searches directly (tagged penny_enrichment) since it consumes the result
// itself instead of handing it to the batch extraction pass.
type LoggingSearchBackend struct {
	Backend SearchBackend
	Store   *store.Store
	Log     zerolog.Logger
}

func NewLoggingSearchBackend(backend SearchBackend, st *store.Store, log zerolog.Logger) *LoggingSearchBackend {
	return &LoggingSearchBackend{Backend: backend, Store: st, Log: log}
}

func (l *LoggingSearchBackend) Search(ctx context.Context, query string) (SearchResult, error) {
	result, err := l.Backend.Search(ctx, query)
	if err != nil {
		return result, err
	}

	user := UserFromContext(ctx)
	if user == "" {
		return result, nil
	}

	if _, logErr := l.Store.LogSearch(ctx, store.SearchLog{
		User:     user,
		Query:    query,
		Response: result.Answer,
		Trigger:  store.TriggerUserMessage,
	}); logErr != nil {
		l.Log.Warn().Err(logErr).Str("user", user).Msg("failed to log user-message search")
	}

	return result, nil
}
