package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostRunsInOrder(t *testing.T) {
	l := New("test", nil)
	defer l.Stop()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Flush(context.Background()))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPostFromManyGoroutines(t *testing.T) {
	l := New("test", nil)
	defer l.Stop()

	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Post(func() { count++ })
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, 1000, count)
}

func TestPostFromInsideLoopDoesNotBlock(t *testing.T) {
	l := New("test", nil)
	defer l.Stop()

	var order []string
	require.NoError(t, l.Do(context.Background(), func() {
		order = append(order, "outer")
		l.Post(func() { order = append(order, "inner") })
	}))
	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	l := New("test", nil)
	defer l.Stop()

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestStop(t *testing.T) {
	l := New("test", nil)
	l.Stop()
	l.Stop()

	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrStopped)
}

func TestDoHonoursContext(t *testing.T) {
	l := New("test", nil)
	defer l.Stop()

	release := make(chan struct{})
	l.Post(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
