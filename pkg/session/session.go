package session

import (
	"context"
	"net/http"
	"time"

	"github.com/ngoyal88/accesslog/pkg/cache"
)

// UsernameField is the session attribute holding the signed-in user.
const UsernameField = "username"

// Lookup resolves the username stored in the caller's session. It never
// fails: anything missing or unreachable yields "".
type Lookup interface {
	Username(ctx context.Context, r *http.Request) string
}

// RedisLookup reads sessions stored as Redis hashes keyed by the value of
// a session cookie.
type RedisLookup struct {
	rdb     *cache.Client
	cookie  string
	prefix  string
	timeout time.Duration
}

// NewRedisLookup builds a lookup for sessions at prefix+<cookie value>.
func NewRedisLookup(rdb *cache.Client, cookie, prefix string, timeout time.Duration) *RedisLookup {
	if cookie == "" {
		cookie = "session"
	}
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &RedisLookup{rdb: rdb, cookie: cookie, prefix: prefix, timeout: timeout}
}

func (l *RedisLookup) Username(ctx context.Context, r *http.Request) string {
	if l == nil || l.rdb == nil || r == nil {
		return ""
	}
	c, err := r.Cookie(l.cookie)
	if err != nil || c.Value == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	name, err := l.rdb.HGet(ctx, l.prefix+c.Value, UsernameField)
	if err != nil {
		return ""
	}
	return name
}
