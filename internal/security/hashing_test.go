package security

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(4, 2)
	ctx := context.Background()

	hash, err := h.Hash(ctx, "secret123")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	assert.NotContains(t, hash, "secret123")

	require.NoError(t, h.Compare(ctx, hash, "secret123"))
}

func TestHasher_CompareWrongPassword(t *testing.T) {
	h := NewHasher(4, 1)
	ctx := context.Background()
	hash, err := h.Hash(ctx, "secret123")
	require.NoError(t, err)

	err = h.Compare(ctx, hash, "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPasswordMismatch))
}

func TestHasher_EmptyPassword(t *testing.T) {
	_, err := NewHasher(4, 1).Hash(context.Background(), "")
	require.Error(t, err)
}

func TestHasher_LongPasswordsAreDistinguished(t *testing.T) {
	h := NewHasher(4, 1)
	ctx := context.Background()
	base := strings.Repeat("a", 80)

	hash, err := h.Hash(ctx, base+"X")
	require.NoError(t, err)
	require.NoError(t, h.Compare(ctx, hash, base+"X"))
	// bcrypt alone would ignore everything past byte 72.
	assert.ErrorIs(t, h.Compare(ctx, hash, base+"Y"), ErrPasswordMismatch)
}

func TestHasher_Cost(t *testing.T) {
	assert.Equal(t, 12, NewHasher(12, 1).Cost)
	assert.GreaterOrEqual(t, NewHasher(0, 1).Cost, 4)
	assert.Equal(t, 4, NewHasher(1, 1).Cost)
	assert.Equal(t, 31, NewHasher(99, 1).Cost)
}

func TestHasher_CancelledContextWhileWaiting(t *testing.T) {
	h := NewHasher(4, 1)
	require.NoError(t, h.sem.Acquire(context.Background(), 1))
	defer h.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Hash(ctx, "secret123")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHasher_ConcurrentHashes(t *testing.T) {
	h := NewHasher(4, 2)
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hash, err := h.Hash(ctx, "Str0ng!Pass")
			if err == nil {
				err = h.Compare(ctx, hash, "Str0ng!Pass")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestHasher_CompareDummy(t *testing.T) {
	h := NewHasher(4, 1)
	// Must not panic and must be repeatable.
	h.CompareDummy(context.Background(), "anything")
	h.CompareDummy(context.Background(), "anything")
	assert.NotNil(t, h.dummy)
}
