package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"apikey-gateway/middleware/keyrotation/domain"

	"github.com/redis/go-redis/v9"
)

type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica apenas em chaves de série temporal / por credencial.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackCredentials bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

// WithStatsTrackCredentials grava contadores por credencial (mascarada).
func WithStatsTrackCredentials(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackCredentials = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "keyrotation:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := string(ev.Outcome)
	if field == "" {
		return nil
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.bucket == "minute" {
		bucketKey := s.minuteKey(at)
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if s.trackCredentials {
		if c := strings.TrimSpace(ev.Credential); c != "" {
			credKey := s.prefix + ":credential:" + c
			pipe.HIncrBy(ctx, credKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, credKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals lê os contadores cumulativos.
func (s *RedisStatsStore) Totals(ctx context.Context) (Counters, error) {
	return s.read(ctx, s.prefix+":total")
}

// Minute lê o bucket do minuto de at (zerado se expirou ou se bucket != "minute").
func (s *RedisStatsStore) Minute(ctx context.Context, at time.Time) (Counters, error) {
	return s.read(ctx, s.minuteKey(at))
}

// Credential lê os contadores de uma credencial mascarada (requer track ligado).
func (s *RedisStatsStore) Credential(ctx context.Context, masked string) (Counters, error) {
	return s.read(ctx, s.prefix+":credential:"+masked)
}

func (s *RedisStatsStore) minuteKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

func (s *RedisStatsStore) read(ctx context.Context, key string) (Counters, error) {
	h, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	var c Counters
	for field, raw := range h {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		c.addN(domain.Outcome(field), n)
	}
	return c, nil
}
