package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoyal88/accesslog/pkg/accesslog"
	"github.com/ngoyal88/accesslog/pkg/cache"
	"github.com/ngoyal88/accesslog/pkg/keymanager"
	"github.com/ngoyal88/accesslog/pkg/middleware"
	"github.com/ngoyal88/accesslog/pkg/storage"
)

const adminKey = "secret"

type fixture struct {
	mux   *http.ServeMux
	km    *keymanager.Manager
	store *storage.RedisStore
	mr    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := cache.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		mux:   http.NewServeMux(),
		km:    keymanager.New(rdb),
		store: storage.NewRedisStore(rdb, 24*time.Hour),
		mr:    mr,
	}
	NewAdminAPI(f.km, f.store, adminKey).RegisterRoutes(f.mux)
	return f
}

func (f *fixture) do(method, target, body string, authed bool) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if authed {
		r.Header.Set("X-Admin-Key", adminKey)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestAdmin_RequiresKey(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/admin/keys?user_id=alice", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodGet, "/admin/logs", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdmin_EmptyAdminKeyRejectsEverything(t *testing.T) {
	mux := http.NewServeMux()
	NewAdminAPI(nil, nil, "").RegisterRoutes(mux)

	r := httptest.NewRequest(http.MethodGet, "/admin/logs", nil)
	r.Header.Set("X-Admin-Key", "")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdmin_KeyLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/admin/keys/create", `{"name":"ci","user_id":"alice","quota":10,"expires_in_days":7}`, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		APIKey keymanager.APIKey `json:"api_key"`
	}
	decode(t, w, &created)
	assert.True(t, strings.HasPrefix(created.APIKey.Key, keymanager.KeyPrefix))
	assert.Equal(t, int64(10), created.APIKey.Quota)
	require.NotNil(t, created.APIKey.ExpiresAt)

	w = f.do(http.MethodGet, "/admin/keys?user_id=alice", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Keys []keymanager.APIKey `json:"keys"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Keys, 1)
	assert.Equal(t, created.APIKey.Key, listed.Keys[0].Key)

	w = f.do(http.MethodPost, "/admin/keys/rotate", `{"old_key":"`+created.APIKey.Key+`"}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rotated struct {
		NewKey keymanager.APIKey `json:"new_key"`
	}
	decode(t, w, &rotated)
	assert.NotEqual(t, created.APIKey.Key, rotated.NewKey.Key)

	old, err := f.km.GetKey(context.Background(), created.APIKey.Key)
	require.NoError(t, err)
	assert.False(t, old.Active)

	w = f.do(http.MethodPost, "/admin/keys/revoke", `{"key":"`+rotated.NewKey.Key+`"}`, true)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodDelete, "/admin/keys/delete?key="+rotated.NewKey.Key, "", true)
	require.Equal(t, http.StatusOK, w.Code)

	_, err = f.km.GetKey(context.Background(), rotated.NewKey.Key)
	assert.ErrorIs(t, err, keymanager.ErrKeyNotFound)
}

func TestAdmin_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"list without user", http.MethodGet, "/admin/keys", "", http.StatusBadRequest},
		{"list wrong method", http.MethodPost, "/admin/keys?user_id=a", "", http.StatusMethodNotAllowed},
		{"create bad json", http.MethodPost, "/admin/keys/create", "{", http.StatusBadRequest},
		{"create missing user", http.MethodPost, "/admin/keys/create", `{"name":"x"}`, http.StatusBadRequest},
		{"revoke unknown", http.MethodPost, "/admin/keys/revoke", `{"key":"alog_nope"}`, http.StatusNotFound},
		{"delete without key", http.MethodDelete, "/admin/keys/delete", "", http.StatusBadRequest},
		{"rotate unknown", http.MethodPost, "/admin/keys/rotate", `{"old_key":"alog_nope"}`, http.StatusNotFound},
		{"logs bad from", http.MethodGet, "/admin/logs?from=yesterday", "", http.StatusBadRequest},
		{"logs bad limit", http.MethodGet, "/admin/logs?limit=0", "", http.StatusBadRequest},
		{"logs bad offset", http.MethodGet, "/admin/logs?offset=-1", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.method, tt.target, tt.body, true)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestAdmin_Logs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	for i, line := range []string{"GET /a", "GET /b", "POST /a"} {
		require.NoError(t, f.store.SaveRecord(ctx, &storage.Record{
			ID:        string(rune('x' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Line:      line,
		}))
	}

	w := f.do(http.MethodGet, "/admin/logs?contains=/a&limit=10", "", true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got struct {
		Logs  []storage.Record `json:"logs"`
		Count int              `json:"count"`
	}
	decode(t, w, &got)
	require.Equal(t, 2, got.Count)
	assert.Equal(t, "POST /a", got.Logs[0].Line)
	assert.Equal(t, "GET /a", got.Logs[1].Line)

	from := base.Add(30 * time.Second).Format(time.RFC3339)
	w = f.do(http.MethodGet, "/admin/logs?from="+from, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &got)
	assert.Equal(t, 2, got.Count)
}

func TestAdmin_WithoutBackends(t *testing.T) {
	mux := http.NewServeMux()
	NewAdminAPI(nil, nil, adminKey).RegisterRoutes(mux)

	for _, target := range []string{"/admin/keys?user_id=a", "/admin/logs"} {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		r.Header.Set("X-Admin-Key", adminKey)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, r)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, target)
	}
}

func TestAdmin_Health(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/admin/health", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	decode(t, w, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "healthy", health["storage"])

	f.mr.Close()

	w = f.do(http.MethodGet, "/admin/health", "", false)
	decode(t, w, &health)
	assert.Equal(t, "degraded", health["status"])
}

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return nil
}

func (s *lineSink) last(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.lines)
	return s.lines[len(s.lines)-1]
}

func TestAdmin_AccessLineReportsStatusAndBytes(t *testing.T) {
	mux := http.NewServeMux()
	NewAdminAPI(nil, nil, adminKey).RegisterRoutes(mux)
	mux.Handle("/static/", http.NotFoundHandler())

	sink := &lineSink{}
	logger := accesslog.NewLogger(accesslog.Config{Enabled: true}, sink, nil)
	h := middleware.AccessLog(logger, middleware.AccessLogOptions{})(mux)

	serveLogged := func(target string) (*httptest.ResponseRecorder, string) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		return w, sink.last(t)
	}

	w, line := serveLogged("/admin/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, line, `"/admin/health" 200 `+strconv.Itoa(w.Body.Len())+` ""`)

	w, line = serveLogged("/admin/logs")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, line, `"/admin/logs" 401 `)

	_, line = serveLogged("/static/app.css")
	assert.Contains(t, line, `"/static/app.css" - -`)
}
