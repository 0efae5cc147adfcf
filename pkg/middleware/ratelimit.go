package middleware

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ngoyal88/accesslog/pkg/cache"
	"github.com/ngoyal88/accesslog/pkg/config"
)

// NewRateLimiter creates a middleware that limits requests.
// With Redis the budget is per client address and shared by every replica;
// without it one token bucket covers the whole process. Limits are re-read
// from the config store on every request so hot reloads apply at once.
func NewRateLimiter(rdb *cache.Client, cfgStore *config.Store) func(http.Handler) http.Handler {
	var distributed *redis_rate.Limiter
	if rdb != nil {
		distributed = redis_rate.NewLimiter(rdb.Redis())
	}
	local := &localLimiter{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := cfgStore.Get()
			if cfg == nil || !cfg.RateLimit.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			allowed := true
			if distributed != nil {
				ok, err := allowDistributed(r.Context(), distributed, clientIP(r), cfg.RateLimit)
				if err != nil {
					log.Warn().Err(err).Msg("[RATELIMIT] redis unavailable, using local limiter")
					allowed = local.allow(cfg.RateLimit)
				} else {
					allowed = ok
				}
			} else {
				allowed = local.allow(cfg.RateLimit)
			}

			if !allowed {
				rateLimited.Inc()
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				// STOP! Do not call next.ServeHTTP
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allowDistributed(ctx context.Context, l *redis_rate.Limiter, client string, cfg config.RateLimitConfig) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	res, err := l.Allow(ctx, "ratelimit:"+client, redis_rate.Limit{
		Rate:   int(math.Ceil(cfg.RPS)),
		Burst:  cfg.Burst,
		Period: time.Second,
	})
	if err != nil {
		return false, err
	}
	return res.Allowed > 0, nil
}

// localLimiter keeps one token bucket and retunes it when the configured
// limits change.
type localLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	rps     float64
	burst   int
}

func (l *localLimiter) allow(cfg config.RateLimitConfig) bool {
	l.mu.Lock()
	if l.limiter == nil {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	} else if cfg.RPS != l.rps || cfg.Burst != l.burst {
		l.limiter.SetLimit(rate.Limit(cfg.RPS))
		l.limiter.SetBurst(cfg.Burst)
	}
	l.rps, l.burst = cfg.RPS, cfg.Burst
	lim := l.limiter
	l.mu.Unlock()

	return lim.Allow()
}
