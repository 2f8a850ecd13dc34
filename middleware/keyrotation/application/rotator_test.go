package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"apikey-gateway/middleware/keyrotation/domain"
	"apikey-gateway/middleware/keyrotation/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// scriptedCounter devolve respostas fixas por credencial.
type scriptedCounter struct {
	errs    map[string]error
	denied  map[string]time.Time // credencial negada -> OldestAt
	block   map[string]bool      // bloqueia até o ctx encerrar
	resets  int
	resetFn func() error
}

func (c *scriptedCounter) TryAdmit(ctx context.Context, key string, _ time.Time, _ time.Duration, limit int) (domain.Admission, error) {
	if c.block[key] {
		<-ctx.Done()
		return domain.Admission{}, ctx.Err()
	}
	if err := c.errs[key]; err != nil {
		return domain.Admission{}, err
	}
	if oldest, ok := c.denied[key]; ok {
		return domain.Admission{Count: limit, OldestAt: oldest}, nil
	}
	return domain.Admission{Allowed: true, Count: 1}, nil
}

func (c *scriptedCounter) Reset(context.Context, ...string) error {
	c.resets++
	if c.resetFn != nil {
		return c.resetFn()
	}
	return nil
}

var t0 = time.UnixMilli(1_700_000_000_000)

func newMemoryRotator(t *testing.T, clock *fakeClock, raw string) (*Rotator, *infra.MemoryWindowCounter) {
	t.Helper()
	counter := infra.NewMemoryWindowCounter()
	r := NewRotator(RotatorConfig{Counter: counter, Logger: quietLogger, Now: clock.Now})
	changed, err := r.Initialize(context.Background(), raw)
	require.NoError(t, err)
	require.True(t, changed)
	return r, counter
}

func TestRotator_RoundRobinFairness(t *testing.T) {
	clock := &fakeClock{now: t0}
	r, _ := newMemoryRotator(t, clock, "k0,k1,k2")
	ctx := context.Background()

	var got []domain.Credential
	for i := 0; i < 3*domain.DefaultLimit; i++ {
		cred, err := r.Next(ctx)
		require.NoError(t, err, "admission %d", i+1)
		got = append(got, cred)
	}

	for i, cred := range got {
		want := []domain.Credential{"k0", "k1", "k2"}[i/domain.DefaultLimit]
		assert.Equal(t, want, cred, "admission %d", i+1)
	}

	_, err := r.Next(ctx)
	require.ErrorIs(t, err, domain.ErrPoolExhausted)
	var ex *domain.ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.True(t, ex.RetryAt.Equal(t0.Add(domain.DefaultWindow)))
}

func TestRotator_SlidingWindowSingleton(t *testing.T) {
	clock := &fakeClock{now: t0}
	r, counter := newMemoryRotator(t, clock, "only-key")
	ctx := context.Background()

	for i := 0; i < domain.DefaultLimit; i++ {
		_, err := r.Next(ctx)
		require.NoError(t, err)
	}
	_, err := r.Next(ctx)
	require.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.Equal(t, 0, r.Cursor(), "singleton pool must cycle back to itself")

	clock.Set(t0.Add(60_001 * time.Millisecond))
	cred, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Credential("only-key"), cred)
	assert.Equal(t, 1, counter.Live("only-key", clock.Now(), domain.DefaultWindow))
}

func TestRotator_InitializeIsIdempotent(t *testing.T) {
	clock := &fakeClock{now: t0}
	r, counter := newMemoryRotator(t, clock, "a,b")
	ctx := context.Background()

	for i := 0; i < domain.DefaultLimit+1; i++ {
		_, err := r.Next(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 1, r.Cursor())

	changed, err := r.Initialize(ctx, "  a ,   b  ")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, r.Cursor())
	assert.Equal(t, domain.DefaultLimit, counter.Live("a", t0, domain.DefaultWindow))

	changed, err = r.Initialize(ctx, "b,a")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, r.Cursor())
	assert.Equal(t, domain.DefaultLimit, counter.Live("a", t0, domain.DefaultWindow), "reordering must keep the shared counters")
	assert.Equal(t, []domain.Credential{"b", "a"}, r.Pool())
}

func TestRotator_ReorderedPoolsCannotExceedLimit(t *testing.T) {
	clock := &fakeClock{now: t0}
	r, _ := newMemoryRotator(t, clock, "k1,k2")
	ctx := context.Background()

	admitted := 0
	for i := 0; i < 4*domain.DefaultLimit; i++ {
		raw := "k1,k2"
		if i%2 == 1 {
			raw = "k2,k1"
		}
		_, err := r.Initialize(ctx, raw)
		require.NoError(t, err)
		if _, err := r.Next(ctx); err == nil {
			admitted++
		}
	}
	assert.Equal(t, 2*domain.DefaultLimit, admitted)
}

func TestRotator_InitializeNeverResetsSharedCounters(t *testing.T) {
	counter := &scriptedCounter{resetFn: func() error { return errors.New("redis down") }}
	r := NewRotator(RotatorConfig{Counter: counter, Logger: quietLogger})
	ctx := context.Background()

	_, err := r.Initialize(ctx, " , ")
	require.ErrorIs(t, err, domain.ErrEmptyPool)

	_, err = r.Initialize(ctx, "a")
	require.NoError(t, err)
	changed, err := r.Initialize(ctx, "b")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []domain.Credential{"b"}, r.Pool())
	assert.Zero(t, counter.resets)
}

func TestRotator_ReplaceResetsOnlyRemovedKeys(t *testing.T) {
	clock := &fakeClock{now: t0}
	r, counter := newMemoryRotator(t, clock, "a,b")
	ctx := context.Background()

	for i := 0; i < domain.DefaultLimit+3; i++ {
		_, err := r.Next(ctx)
		require.NoError(t, err)
	}

	changed, err := r.Replace(ctx, "b,c")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []domain.Credential{"b", "c"}, r.Pool())
	assert.Equal(t, 0, r.Cursor())
	assert.Equal(t, 0, counter.Live("a", t0, domain.DefaultWindow), "removed key is cleared")
	assert.Equal(t, 3, counter.Live("b", t0, domain.DefaultWindow), "kept key keeps its admissions")

	changed, err = r.Replace(ctx, "b , c")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRotator_ReplaceKeepsPoolOnResetFailure(t *testing.T) {
	counter := &scriptedCounter{}
	r := NewRotator(RotatorConfig{Counter: counter, Logger: quietLogger})
	ctx := context.Background()

	_, err := r.Replace(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, counter.resets, "first pool has nothing to clear")

	counter.resetFn = func() error { return errors.New("redis down") }
	_, err = r.Replace(ctx, "b")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, []domain.Credential{"a"}, r.Pool())
	assert.Equal(t, 1, counter.resets)
}

func TestRotator_StoreErrorAdvancesToNextCredential(t *testing.T) {
	counter := &scriptedCounter{errs: map[string]error{"a": errors.New("dial tcp: refused")}}
	r := NewRotator(RotatorConfig{Counter: counter, Logger: quietLogger})
	_, err := r.Initialize(context.Background(), "a,b,c")
	require.NoError(t, err)

	cred, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Credential("b"), cred)
	assert.Equal(t, 1, r.Cursor())
}

func TestRotator_AllStoreErrorsIsNotExhaustion(t *testing.T) {
	boom := errors.New("i/o timeout")
	counter := &scriptedCounter{errs: map[string]error{"a": boom, "b": boom}}
	stats := infra.NewMemoryStatsStore()
	r := NewRotator(RotatorConfig{Counter: counter, Stats: stats, Logger: quietLogger})
	_, err := r.Initialize(context.Background(), "a,b")
	require.NoError(t, err)

	_, err = r.Next(context.Background())
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, domain.ErrPoolExhausted)
	assert.NotContains(t, err.Error(), "i/o timeout")
	assert.Equal(t, int64(2), stats.Total().StoreError)
}

func TestRotator_StoreTimeoutIsRetryable(t *testing.T) {
	counter := &scriptedCounter{block: map[string]bool{"slow": true}}
	r := NewRotator(RotatorConfig{Counter: counter, Logger: quietLogger, StoreTimeout: 10 * time.Millisecond})
	_, err := r.Initialize(context.Background(), "slow,fast")
	require.NoError(t, err)

	cred, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Credential("fast"), cred)
}

func TestRotator_ExhaustionReportsEarliestExpiry(t *testing.T) {
	clock := &fakeClock{now: t0}
	counter := &scriptedCounter{
		errs: map[string]error{"c": errors.New("down")},
		denied: map[string]time.Time{
			"a": t0.Add(-30 * time.Second),
			"b": t0.Add(-50 * time.Second),
		},
	}
	r := NewRotator(RotatorConfig{Counter: counter, Logger: quietLogger, Now: clock.Now})
	_, err := r.Initialize(context.Background(), "a,b,c")
	require.NoError(t, err)

	_, err = r.Next(context.Background())
	var ex *domain.ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.True(t, ex.RetryAt.Equal(t0.Add(10*time.Second)), "retryAt=%s", ex.RetryAt)
	assert.Equal(t, 0, r.Cursor(), "cursor cycles back after a full pass")
}

func TestRotator_NextOrWaitWaitsForFreeSlot(t *testing.T) {
	counter := infra.NewMemoryWindowCounter()
	r := NewRotator(RotatorConfig{
		Counter: counter,
		Logger:  quietLogger,
		Window:  40 * time.Millisecond,
		Limit:   1,
		MaxWait: time.Second,
	})
	_, err := r.Initialize(context.Background(), "k")
	require.NoError(t, err)

	_, err = r.Next(context.Background())
	require.NoError(t, err)

	start := time.Now()
	cred, err := r.NextOrWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Credential("k"), cred)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRotator_NextOrWaitFailsFastBeyondMaxWait(t *testing.T) {
	clock := &fakeClock{now: t0}
	counter := &scriptedCounter{denied: map[string]time.Time{"k": t0}}
	r := NewRotator(RotatorConfig{Counter: counter, Logger: quietLogger, Now: clock.Now, MaxWait: time.Second})
	_, err := r.Initialize(context.Background(), "k")
	require.NoError(t, err)

	start := time.Now()
	_, err = r.NextOrWait(context.Background())
	require.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRotator_NextOrWaitHonorsContext(t *testing.T) {
	counter := infra.NewMemoryWindowCounter()
	r := NewRotator(RotatorConfig{Counter: counter, Logger: quietLogger, Window: time.Second, Limit: 1, MaxWait: time.Second})
	_, err := r.Initialize(context.Background(), "k")
	require.NoError(t, err)
	_, err = r.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.NextOrWait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRotator_Lifecycle(t *testing.T) {
	r := NewRotator(RotatorConfig{Counter: infra.NewMemoryWindowCounter(), Logger: quietLogger})

	_, err := r.Next(context.Background())
	require.ErrorIs(t, err, domain.ErrEmptyPool)

	require.NoError(t, r.Close())
	_, err = r.Next(context.Background())
	require.ErrorIs(t, err, domain.ErrClosed)
	_, err = r.Initialize(context.Background(), "a")
	require.ErrorIs(t, err, domain.ErrClosed)
}

func TestRotator_IndependentInstancesShareRedisLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	clock := &fakeClock{now: t0}
	const instances = 8
	const perInstance = 5

	rotators := make([]*Rotator, instances)
	for i := range rotators {
		rotators[i] = NewRotator(RotatorConfig{
			Counter: infra.NewRedisWindowCounter(rdb),
			Logger:  quietLogger,
			Now:     clock.Now,
		})
		_, err := rotators[i].Initialize(context.Background(), "shared-key")
		require.NoError(t, err)
	}

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for _, r := range rotators {
		for j := 0; j < perInstance; j++ {
			wg.Add(1)
			go func(r *Rotator) {
				defer wg.Done()
				if _, err := r.Next(context.Background()); err == nil {
					admitted.Add(1)
				}
			}(r)
		}
	}
	wg.Wait()

	assert.Equal(t, int64(domain.DefaultLimit), admitted.Load())
}

func TestRotator_LateInstanceSeesExistingAdmissions(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	clock := &fakeClock{now: t0}
	newRedisRotator := func() *Rotator {
		r := NewRotator(RotatorConfig{Counter: infra.NewRedisWindowCounter(rdb), Logger: quietLogger, Now: clock.Now})
		_, err := r.Initialize(context.Background(), "shared-key")
		require.NoError(t, err)
		return r
	}

	a := newRedisRotator()
	for i := 0; i < domain.DefaultLimit; i++ {
		_, err := a.Next(context.Background())
		require.NoError(t, err)
	}

	b := newRedisRotator()
	_, err := b.Next(context.Background())
	require.ErrorIs(t, err, domain.ErrPoolExhausted)
}

// blockingStats segura Record até o ctx encerrar.
type blockingStats struct{}

func (blockingStats) Record(ctx context.Context, _ domain.StatsEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRotator_SlowStatsDoesNotHoldTheLock(t *testing.T) {
	r := NewRotator(RotatorConfig{
		Counter:      infra.NewMemoryWindowCounter(),
		Stats:        blockingStats{},
		Logger:       quietLogger,
		StoreTimeout: 100 * time.Millisecond,
	})
	_, err := r.Initialize(context.Background(), "k")
	require.NoError(t, err)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Next(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// serializado pelo lock seriam pelo menos 4 * StoreTimeout
	assert.Less(t, time.Since(start), 300*time.Millisecond)
}
