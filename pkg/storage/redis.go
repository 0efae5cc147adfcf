package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ngoyal88/accesslog/pkg/cache"
)

const (
	recordKeyPrefix = "accesslog:"
	timelineKey     = "accesslog:timeline"
	defaultLimit    = 100
)

// RedisStore implements Store using Redis with time-series data
type RedisStore struct {
	rdb *cache.Client
	ttl time.Duration // How long to keep lines (e.g., 30 days)
	now func() time.Time
}

// NewRedisStore creates a new Redis-backed storage
func NewRedisStore(rdb *cache.Client, retention time.Duration) *RedisStore {
	if retention == 0 {
		retention = 30 * 24 * time.Hour // Default 30 days
	}
	return &RedisStore{
		rdb: rdb,
		ttl: retention,
		now: time.Now,
	}
}

func recordKey(id string) string {
	return recordKeyPrefix + id
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// SaveRecord stores a line and indexes it on the timeline, dropping
// timeline entries older than the retention window.
func (s *RedisStore) SaveRecord(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	cutoff := score(s.now().Add(-s.ttl))
	_, err = s.rdb.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(rec.ID), data, s.ttl)
		pipe.ZAdd(ctx, timelineKey, redis.Z{
			Score:  float64(rec.Timestamp.UnixMilli()),
			Member: rec.ID,
		})
		pipe.ZRemRangeByScore(ctx, timelineKey, "-inf", "("+cutoff)
		pipe.Expire(ctx, timelineKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive line %s: %w", rec.ID, err)
	}
	return nil
}

// GetRecord retrieves a single line by ID
func (s *RedisStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	data, err := s.rdb.Get(ctx, recordKey(id))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

// ListRecords returns archived lines newest first. Offset counts timeline
// entries before filtering; Limit counts matches.
func (s *RedisStore) ListRecords(ctx context.Context, filters Filters) ([]*Record, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	minScore := "-inf"
	if !filters.From.IsZero() {
		minScore = score(filters.From)
	}
	maxScore := "+inf"
	if !filters.To.IsZero() {
		maxScore = score(filters.To)
	}

	out := make([]*Record, 0, limit)
	offset := int64(filters.Offset)
	for len(out) < limit {
		ids, err := s.rdb.Redis().ZRevRangeByScore(ctx, timelineKey, &redis.ZRangeBy{
			Min:    minScore,
			Max:    maxScore,
			Offset: offset,
			Count:  int64(limit),
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}
		offset += int64(len(ids))

		for _, id := range ids {
			rec, err := s.GetRecord(ctx, id)
			if err != nil {
				// expired after the range read, or unreadable
				continue
			}
			if filters.Contains != "" && !strings.Contains(rec.Line, filters.Contains) {
				continue
			}
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
	}

	return out, nil
}

// Ping checks Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Redis().Ping(ctx).Err()
}
