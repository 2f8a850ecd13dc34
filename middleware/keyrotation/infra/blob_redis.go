package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"apikey-gateway/middleware/keyrotation/domain"

	"github.com/redis/go-redis/v9"
)

// KeepAliveKey recebe o timestamp do último ping de keep-alive.
const KeepAliveKey = "last_keep_alive_timestamp"

// RedisBlobStore implementa domain.BlobStore com GET/SET simples.
// O valor é sobrescrito inteiro a cada Set (sem versionamento de schema).
type RedisBlobStore struct {
	rdb redis.UniversalClient
}

func NewRedisBlobStore(rdb redis.UniversalClient) *RedisBlobStore {
	return &RedisBlobStore{rdb: rdb}
}

func (s *RedisBlobStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return v, true, nil
}

func (s *RedisBlobStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Touch grava o instante atual em KeepAliveKey.
func (s *RedisBlobStore) Touch(ctx context.Context, now time.Time) error {
	return s.Set(ctx, KeepAliveKey, now.UTC().Format(time.RFC3339Nano))
}

// StartKeepAlive grava periodicamente em KeepAliveKey para o Redis gerenciado
// não despejar a base por inatividade. Pare cancelando o contexto.
func (s *RedisBlobStore) StartKeepAlive(ctx context.Context, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				pingCtx, cancel := context.WithTimeout(ctx, every)
				err := s.Touch(pingCtx, now)
				cancel()
				if err != nil {
					logger.Warn("keep-alive ping failed", "error", err)
					continue
				}
				logger.Debug("keep-alive ping ok")
			}
		}
	}()
}
