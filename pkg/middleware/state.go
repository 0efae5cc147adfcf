package middleware

import (
	"context"
	"net/http"
	"sync"
)

type contextKey string

const (
	stateContextKey  contextKey = "accesslog_state"
	apiKeyContextKey contextKey = "api_key"
)

// requestState is owned by the AccessLog hook and filled in by the
// handlers it wraps, which only see derived contexts.
type requestState struct {
	mu         sync.Mutex
	dispatched bool
	user       string
}

func stateFrom(ctx context.Context) *requestState {
	st, _ := ctx.Value(stateContextKey).(*requestState)
	return st
}

func (s *requestState) markDispatched() {
	s.mu.Lock()
	s.dispatched = true
	s.mu.Unlock()
}

func (s *requestState) isDispatched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatched
}

func (s *requestState) setUser(name string) {
	s.mu.Lock()
	s.user = name
	s.mu.Unlock()
}

func (s *requestState) getUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Dispatched marks requests that reach next as handled by the application.
// Only those report a status and byte count in the access log.
func Dispatched(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if st := stateFrom(r.Context()); st != nil {
			st.markDispatched()
		}
		next.ServeHTTP(w, r)
	})
}

// SetUser records the authenticated user for the access log. It is a no-op
// outside an AccessLog-wrapped request.
func SetUser(ctx context.Context, name string) {
	if st := stateFrom(ctx); st != nil {
		st.setUser(name)
	}
}

// UserFromContext returns the user recorded by SetUser.
func UserFromContext(ctx context.Context) string {
	if st := stateFrom(ctx); st != nil {
		return st.getUser()
	}
	return ""
}
