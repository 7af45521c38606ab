package passwordreset

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
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb), mr
}

func TestSaveConsume_SingleUse(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	rec := Record{UserID: "u1", Email: "alice@example.com"}

	require.NoError(t, s.Save(ctx, "h1", rec, 15*time.Minute))
	assert.True(t, mr.Exists("reset:h1"))

	got, err := s.Consume(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec, *got)

	got, err = s.Consume(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConsume_Expired(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "h1", Record{UserID: "u1"}, time.Minute))
	mr.FastForward(time.Minute)

	got, err := s.Consume(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConsume_ConcurrentOnlyOneWins(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "h1", Record{UserID: "u1"}, time.Minute))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := s.Consume(ctx, "h1")
			if err == nil && rec != nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
