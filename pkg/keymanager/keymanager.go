package keymanager

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ngoyal88/accesslog/pkg/cache"
)

// KeyPrefix starts every generated API key.
const KeyPrefix = "alog_"

// ErrKeyNotFound is returned for keys that were never created or were deleted.
var ErrKeyNotFound = errors.New("keymanager: key not found")

// APIKey represents an API key with metadata
type APIKey struct {
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	UserID      string     `json:"user_id"`
	Quota       int64      `json:"quota"` // total requests allowed
	Used        int64      `json:"used"`  // requests used
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Expired reports whether the key is past its expiry at now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// QuotaExceeded reports whether a limited key has used up its quota.
func (k *APIKey) QuotaExceeded() bool {
	return k.Quota > 0 && k.Used >= k.Quota
}

// KeySpec describes a key to create.
type KeySpec struct {
	Name        string
	UserID      string
	Description string
	Quota       int64
	ExpiresIn   time.Duration // zero means never
}

// Manager handles API key operations
type Manager struct {
	rdb *cache.Client
	now func() time.Time
}

// New creates a new key manager
func New(rdb *cache.Client) *Manager {
	return &Manager{rdb: rdb, now: time.Now}
}

func keyData(key string) string {
	return "apikey:" + key
}

func userKeyList(userID string) string {
	return fmt.Sprintf("user:%s:keys", userID)
}

// CreateKey generates a new API key
func (m *Manager) CreateKey(ctx context.Context, spec KeySpec) (*APIKey, error) {
	if spec.Name == "" || spec.UserID == "" {
		return nil, errors.New("name and user_id are required")
	}

	keyStr, err := generateSecureKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	now := m.now()
	apiKey := &APIKey{
		Key:         keyStr,
		Name:        spec.Name,
		UserID:      spec.UserID,
		Quota:       spec.Quota,
		Active:      true,
		CreatedAt:   now,
		Description: spec.Description,
	}
	if spec.ExpiresIn > 0 {
		exp := now.Add(spec.ExpiresIn)
		apiKey.ExpiresAt = &exp
	}

	if err := m.save(ctx, apiKey); err != nil {
		return nil, err
	}

	// Also store in user index for listing
	if err := m.rdb.Redis().SAdd(ctx, userKeyList(spec.UserID), keyStr).Err(); err != nil {
		return nil, fmt.Errorf("index key: %w", err)
	}

	return apiKey, nil
}

// GetKey retrieves an API key
func (m *Manager) GetKey(ctx context.Context, key string) (*APIKey, error) {
	data, err := m.rdb.Get(ctx, keyData(key))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	var apiKey APIKey
	if err := json.Unmarshal(data, &apiKey); err != nil {
		return nil, fmt.Errorf("corrupted key data: %w", err)
	}
	return &apiKey, nil
}

// RevokeKey deactivates an API key
func (m *Manager) RevokeKey(ctx context.Context, key string) error {
	return m.update(ctx, key, func(k *APIKey) { k.Active = false })
}

// IncrementUsage counts one request against the key and stamps its last use.
func (m *Manager) IncrementUsage(ctx context.Context, key string) error {
	now := m.now()
	return m.update(ctx, key, func(k *APIKey) {
		k.Used++
		k.LastUsedAt = &now
	})
}

// DeleteKey permanently removes an API key
func (m *Manager) DeleteKey(ctx context.Context, key string) error {
	apiKey, err := m.GetKey(ctx, key)
	if err != nil {
		return err
	}

	pipe := m.rdb.Redis().TxPipeline()
	pipe.SRem(ctx, userKeyList(apiKey.UserID), key)
	pipe.Del(ctx, keyData(key))
	_, err = pipe.Exec(ctx)
	return err
}

// ListUserKeys returns all keys for a user
func (m *Manager) ListUserKeys(ctx context.Context, userID string) ([]*APIKey, error) {
	keys, err := m.rdb.Redis().SMembers(ctx, userKeyList(userID)).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*APIKey, 0, len(keys))
	for _, key := range keys {
		apiKey, err := m.GetKey(ctx, key)
		if err == nil {
			result = append(result, apiKey)
		}
	}
	return result, nil
}

// ListActiveKeys scans every stored key and returns the active ones.
func (m *Manager) ListActiveKeys(ctx context.Context) ([]*APIKey, error) {
	var result []*APIKey
	iter := m.rdb.Redis().Scan(ctx, 0, keyData("*"), 100).Iterator()
	for iter.Next(ctx) {
		apiKey, err := m.GetKey(ctx, strings.TrimPrefix(iter.Val(), keyData("")))
		if err != nil || !apiKey.Active {
			continue
		}
		result = append(result, apiKey)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	return result, nil
}

// RotateKey generates a new key and deactivates the old one
func (m *Manager) RotateKey(ctx context.Context, oldKey string) (*APIKey, error) {
	apiKey, err := m.GetKey(ctx, oldKey)
	if err != nil {
		return nil, err
	}

	var expiresIn time.Duration
	if apiKey.ExpiresAt != nil {
		expiresIn = apiKey.ExpiresAt.Sub(m.now())
		if expiresIn <= 0 {
			return nil, errors.New("cannot rotate an expired key")
		}
	}

	rotatedFrom := oldKey
	if len(rotatedFrom) > 16 {
		rotatedFrom = rotatedFrom[:16] + "..."
	}

	newKey, err := m.CreateKey(ctx, KeySpec{
		Name:        apiKey.Name,
		UserID:      apiKey.UserID,
		Description: fmt.Sprintf("Rotated from %s", rotatedFrom),
		Quota:       apiKey.Quota,
		ExpiresIn:   expiresIn,
	})
	if err != nil {
		return nil, err
	}

	if err := m.RevokeKey(ctx, oldKey); err != nil {
		return nil, fmt.Errorf("revoke rotated key: %w", err)
	}
	return newKey, nil
}

func (m *Manager) update(ctx context.Context, key string, apply func(*APIKey)) error {
	apiKey, err := m.GetKey(ctx, key)
	if err != nil {
		return err
	}
	apply(apiKey)
	return m.save(ctx, apiKey)
}

func (m *Manager) save(ctx context.Context, apiKey *APIKey) error {
	data, err := json.Marshal(apiKey)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, keyData(apiKey.Key), data, 0) // No expiration for keys
}

// generateSecureKey creates a cryptographically secure random key
func generateSecureKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}
