package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ngoyal88/accesslog/pkg/keymanager"
	"github.com/ngoyal88/accesslog/pkg/middleware"
	"github.com/ngoyal88/accesslog/pkg/storage"
)

const (
	keyTimeout     = 5 * time.Second
	archiveTimeout = 10 * time.Second
	healthTimeout  = 2 * time.Second

	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// AdminAPI manages API keys and serves the access-line archive.
type AdminAPI struct {
	keyManager *keymanager.Manager
	store      storage.Store
	adminKey   string
}

// NewAdminAPI builds the admin endpoints. km and store may be nil; the
// endpoints that need them then answer 503.
func NewAdminAPI(km *keymanager.Manager, store storage.Store, adminKey string) *AdminAPI {
	return &AdminAPI{keyManager: km, store: store, adminKey: adminKey}
}

// RegisterRoutes mounts the admin endpoints under /admin/. They are
// application handlers, so their access lines carry status and size.
func (api *AdminAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/admin/", middleware.Dispatched(api.Handler()))
}

// Handler routes /admin/* requests by method and path.
func (api *AdminAPI) Handler() http.Handler {
	m := http.NewServeMux()

	m.HandleFunc("GET /admin/keys", api.authenticate(api.needKeys(api.listKeys)))
	m.HandleFunc("POST /admin/keys/create", api.authenticate(api.needKeys(api.createKey)))
	m.HandleFunc("POST /admin/keys/revoke", api.authenticate(api.needKeys(api.revokeKey)))
	m.HandleFunc("DELETE /admin/keys/delete", api.authenticate(api.needKeys(api.deleteKey)))
	m.HandleFunc("POST /admin/keys/rotate", api.authenticate(api.needKeys(api.rotateKey)))

	m.HandleFunc("GET /admin/logs", api.authenticate(api.listLogs))

	m.HandleFunc("GET /admin/health", api.health)
	return m
}

func (api *AdminAPI) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		given := []byte(r.Header.Get("X-Admin-Key"))
		if api.adminKey == "" || subtle.ConstantTimeCompare(given, []byte(api.adminKey)) != 1 {
			respondError(w, http.StatusUnauthorized, "Invalid admin key")
			return
		}
		next(w, r)
	}
}

func (api *AdminAPI) needKeys(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if api.keyManager == nil {
			respondError(w, http.StatusServiceUnavailable, "Key management requires Redis")
			return
		}
		next(w, r)
	}
}

type createKeyRequest struct {
	Name          string `json:"name"`
	UserID        string `json:"user_id"`
	Description   string `json:"description"`
	Quota         int64  `json:"quota"`
	ExpiresInDays int    `json:"expires_in_days"`
}

func (req createKeyRequest) spec() keymanager.KeySpec {
	return keymanager.KeySpec{
		Name:        req.Name,
		UserID:      req.UserID,
		Description: req.Description,
		Quota:       req.Quota,
		ExpiresIn:   time.Duration(req.ExpiresInDays) * 24 * time.Hour,
	}
}

func (api *AdminAPI) listKeys(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id parameter required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), keyTimeout)
	defer cancel()

	keys, err := api.keyManager.ListUserKeys(ctx, userID)
	if err != nil {
		respondKeyError(w, "list", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (api *AdminAPI) createKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "name and user_id are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), keyTimeout)
	defer cancel()

	key, err := api.keyManager.CreateKey(ctx, req.spec())
	if err != nil {
		respondKeyError(w, "create", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"api_key": key,
		"message": "Store the key now; it is not shown again.",
	})
}

func (api *AdminAPI) revokeKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	api.keyOp(w, r, "revoke", req.Key, api.keyManager.RevokeKey)
}

func (api *AdminAPI) deleteKey(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		respondError(w, http.StatusBadRequest, "key parameter required")
		return
	}
	api.keyOp(w, r, "delete", key, api.keyManager.DeleteKey)
}

// keyOp runs a key mutation that returns nothing but an error.
func (api *AdminAPI) keyOp(w http.ResponseWriter, r *http.Request, op, key string, fn func(context.Context, string) error) {
	ctx, cancel := context.WithTimeout(r.Context(), keyTimeout)
	defer cancel()

	if err := fn(ctx, key); err != nil {
		respondKeyError(w, op, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "key " + op + "d"})
}

func (api *AdminAPI) rotateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldKey string `json:"old_key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), keyTimeout)
	defer cancel()

	key, err := api.keyManager.RotateKey(ctx, req.OldKey)
	if err != nil {
		respondKeyError(w, "rotate", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"new_key": key})
}

// listLogs answers archive queries: from/to (RFC3339), contains, limit, offset.
func (api *AdminAPI) listLogs(w http.ResponseWriter, r *http.Request) {
	if api.store == nil {
		respondError(w, http.StatusServiceUnavailable, "Archive not enabled")
		return
	}

	filters, err := parseFilters(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), archiveTimeout)
	defer cancel()

	records, err := api.store.ListRecords(ctx, filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read archive: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": records, "count": len(records)})
}

func parseFilters(r *http.Request) (storage.Filters, error) {
	q := r.URL.Query()
	f := storage.Filters{Contains: q.Get("contains"), Limit: defaultLogLimit}

	var err error
	if s := q.Get("from"); s != "" {
		if f.From, err = time.Parse(time.RFC3339, s); err != nil {
			return f, errors.New("from must be RFC3339")
		}
	}
	if s := q.Get("to"); s != "" {
		if f.To, err = time.Parse(time.RFC3339, s); err != nil {
			return f, errors.New("to must be RFC3339")
		}
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxLogLimit {
			return f, fmt.Errorf("limit must be between 1 and %d", maxLogLimit)
		}
		f.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, errors.New("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

func (api *AdminAPI) health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "healthy", "timestamp": time.Now()}

	if api.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		health["storage"] = "healthy"
		if err := api.store.Ping(ctx); err != nil {
			health["storage"] = "unhealthy"
			health["status"] = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, health)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func respondKeyError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, keymanager.ErrKeyNotFound) {
		status = http.StatusNotFound
	}
	respondError(w, status, fmt.Sprintf("Failed to %s key: %v", op, err))
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
