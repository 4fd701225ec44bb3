package lock_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/flowdef/pkg/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_NonBlockingSynchronized(t *testing.T) {
	locker := lock.NewLocal(slog.Default())

	called := false
	err := locker.NonBlockingSynchronized(t.Context(), "definition:1", time.Second, func(context.Context) error {
		called = true

		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
}

func TestLocal_NonBlockingSynchronized_Contended(t *testing.T) {
	locker := lock.NewLocal(slog.Default())

	inside := make(chan struct{})
	leave := make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		_ = locker.NonBlockingSynchronized(context.Background(), "definition:1", time.Minute, func(context.Context) error {
			close(inside)
			<-leave

			return nil
		})
	}()

	<-inside

	err := locker.NonBlockingSynchronized(t.Context(), "definition:1", time.Minute, func(context.Context) error {
		return nil
	})
	require.ErrorIs(t, err, lock.ErrLocked)

	// A different key is independent.
	err = locker.NonBlockingSynchronized(t.Context(), "definition:2", time.Minute, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)

	close(leave)
	wg.Wait()

	err = locker.NonBlockingSynchronized(t.Context(), "definition:1", time.Minute, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestLocal_NonBlockingSynchronized_Reentrant(t *testing.T) {
	locker := lock.NewLocal(slog.Default())

	depth := 0
	err := locker.NonBlockingSynchronized(t.Context(), "k", time.Second, func(ctx context.Context) error {
		depth++

		return locker.NonBlockingSynchronized(ctx, "k", time.Second, func(context.Context) error {
			depth++

			return nil
		})
	})

	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestLocal_NonBlockingSynchronized_PropagatesError(t *testing.T) {
	locker := lock.NewLocal(slog.Default())
	boom := errors.New("boom")

	err := locker.NonBlockingSynchronized(t.Context(), "k", time.Second, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The key is released after a failing function.
	err = locker.NonBlockingSynchronized(t.Context(), "k", time.Second, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestLocal_NonBlockingSynchronized_MutualExclusion(t *testing.T) {
	locker := lock.NewLocal(slog.Default())

	var (
		active  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)

	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = locker.NonBlockingSynchronized(context.Background(), "k", time.Second, func(context.Context) error {
				if active.Add(1) > 1 {
					overlap.Store(true)
				}

				time.Sleep(time.Millisecond)
				active.Add(-1)

				return nil
			})
		}()
	}

	wg.Wait()
	assert.False(t, overlap.Load())
}
