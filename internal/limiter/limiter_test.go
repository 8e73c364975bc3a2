package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/crces-dispatch/internal/model"
)

// exerciseCap runs n goroutines through the limiter and returns the
// highest number observed holding a permit at once.
func exerciseCap(t *testing.T, l Limiter, ch model.Channel, n int) int32 {
	t.Helper()
	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), ch)
			if !assert.NoError(t, err) {
				return
			}
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			release()
		}()
	}
	wg.Wait()
	return peak
}

func TestLocalLimiterCapsConcurrency(t *testing.T) {
	l := NewLocal(map[model.Channel]int{model.ChannelEmail: 3, model.ChannelWhatsApp: 1})

	assert.LessOrEqual(t, exerciseCap(t, l, model.ChannelEmail, 20), int32(3))
	assert.Equal(t, int32(1), exerciseCap(t, l, model.ChannelWhatsApp, 5))
}

func TestLocalLimiterUnknownChannel(t *testing.T) {
	_, err := NewLocal(nil).Acquire(context.Background(), model.ChannelEmail)
	assert.Error(t, err)
}

func TestLocalLimiterHonoursContext(t *testing.T) {
	l := NewLocal(map[model.Channel]int{model.ChannelEmail: 1})
	release, err := l.Acquire(context.Background(), model.ChannelEmail)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, model.ChannelEmail)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newRedisLimiter(t *testing.T, caps map[model.Channel]int) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	l := NewRedis(client, caps)
	l.Poll = time.Millisecond
	return l, mr
}

func TestRedisLimiterCapsConcurrency(t *testing.T) {
	l, _ := newRedisLimiter(t, map[model.Channel]int{model.ChannelWhatsApp: 2})

	assert.LessOrEqual(t, exerciseCap(t, l, model.ChannelWhatsApp, 10), int32(2))

	n, err := l.InUse(context.Background(), model.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRedisLimiterExpiresAbandonedPermits(t *testing.T) {
	l, _ := newRedisLimiter(t, map[model.Channel]int{model.ChannelEmail: 1})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.Now = func() time.Time { return now }
	l.PermitTTL = time.Minute

	_, err := l.Acquire(context.Background(), model.ChannelEmail)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err = l.Acquire(ctx, model.ChannelEmail)
	cancel()
	assert.Error(t, err)

	// the holder never released; after the TTL the permit is reclaimed
	now = now.Add(2 * time.Minute)
	release, err := l.Acquire(context.Background(), model.ChannelEmail)
	require.NoError(t, err)
	release()
}
