package infra

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"apikey-gateway/middleware/keyrotation/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Decisão inteira dentro do Redis: o script roda sem intercalar com outros clientes.
//
// KEYS[1] = zset da credencial
// ARGV[1] = agora (ms)   ARGV[2] = corte exclusivo "(now-W"
// ARGV[3] = limite        ARGV[4] = membro único   ARGV[5] = janela (ms)
//
// Retorno: {allowed, count, oldest}. oldest só é preenchido quando negado.
const tryAdmitScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
local limit = tonumber(ARGV[3])
if count < limit then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
  redis.call("PEXPIRE", KEYS[1], ARGV[5])
  return {1, count + 1, 0}
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local at = 0
if oldest[2] then
  at = tonumber(oldest[2])
end
return {0, count, at}
`

var tryAdmitLua = redis.NewScript(tryAdmitScript)

// RedisWindowCounter implementa domain.WindowCounter sobre sorted sets do Redis.
//
// Cada admissão é um membro "<ms>-<uuid>" com score = ms, então duas admissões
// no mesmo milissegundo contam como duas entradas.
type RedisWindowCounter struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisWindowOption func(*RedisWindowCounter)

func WithWindowPrefix(prefix string) RedisWindowOption {
	return func(c *RedisWindowCounter) {
		c.prefix = strings.Trim(prefix, ":")
	}
}

func NewRedisWindowCounter(rdb redis.UniversalClient, opts ...RedisWindowOption) *RedisWindowCounter {
	c := &RedisWindowCounter{
		rdb:    rdb,
		prefix: "keyrotation:window",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key devolve a chave Redis de uma credencial. O valor cru nunca vira nome de chave.
func (c *RedisWindowCounter) Key(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return c.prefix + ":" + hex.EncodeToString(sum[:])
}

func (c *RedisWindowCounter) TryAdmit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (domain.Admission, error) {
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	res, err := tryAdmitLua.Run(ctx, c.rdb, []string{c.Key(key)},
		nowMs,
		"("+strconv.FormatInt(nowMs-windowMs, 10),
		limit,
		member,
		windowMs,
	).Int64Slice()
	if err != nil {
		return domain.Admission{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if len(res) != 3 {
		return domain.Admission{}, fmt.Errorf("%w: unexpected script reply", domain.ErrStoreUnavailable)
	}

	adm := domain.Admission{
		Allowed: res[0] == 1,
		Count:   int(res[1]),
	}
	if !adm.Allowed && res[2] > 0 {
		adm.OldestAt = time.UnixMilli(res[2])
	}
	return adm, nil
}

func (c *RedisWindowCounter) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = c.Key(k)
	}
	if err := c.rdb.Del(ctx, redisKeys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Live conta as entradas vivas de uma credencial sem admitir nada. Útil para diagnóstico.
func (c *RedisWindowCounter) Live(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	lo := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
	n, err := c.rdb.ZCount(ctx, c.Key(key), lo, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return int(n), nil
}
