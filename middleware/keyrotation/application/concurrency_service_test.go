package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingPool struct{}

func (p *blockingPool) Acquire(ctx context.Context) (func(), bool) {
	<-ctx.Done()
	return nil, false
}

func (p *blockingPool) InFlight() int { return 0 }

type countingPool struct {
	acquired int
	held     int
}

func (p *countingPool) Acquire(ctx context.Context) (func(), bool) {
	p.acquired++
	p.held++
	return func() { p.held-- }, true
}

func (p *countingPool) InFlight() int { return p.held }

type recordingObserver struct {
	seen     []int
	rejected int
}

func (o *recordingObserver) InFlight(n int) { o.seen = append(o.seen, n) }
func (o *recordingObserver) Rejected()      { o.rejected++ }

func TestConcurrencyService_Acquire_AllowsWhenNoPool(t *testing.T) {
	release, ok := ConcurrencyService{}.Acquire(context.Background())
	require.True(t, ok)
	release()
}

func TestConcurrencyService_Acquire_TimeoutIsRejected(t *testing.T) {
	obs := &recordingObserver{}
	svc := ConcurrencyService{Pool: &blockingPool{}, AcquireTimeout: 10 * time.Millisecond, Observer: obs}

	_, ok := svc.Acquire(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 1, obs.rejected)
	assert.Empty(t, obs.seen)
}

func TestConcurrencyService_Acquire_ReportsInFlight(t *testing.T) {
	pool := &countingPool{}
	obs := &recordingObserver{}
	svc := ConcurrencyService{Pool: pool, Observer: obs}

	r1, ok := svc.Acquire(context.Background())
	require.True(t, ok)
	r2, ok := svc.Acquire(context.Background())
	require.True(t, ok)
	r2()
	r1()

	assert.Equal(t, 2, pool.acquired)
	assert.Equal(t, []int{1, 2, 1, 0}, obs.seen)
}

func TestConcurrencyService_Acquire_HonorsRequestContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := ConcurrencyService{Pool: &blockingPool{}}.Acquire(ctx)
	assert.False(t, ok)
}
