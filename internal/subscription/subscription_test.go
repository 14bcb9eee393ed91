package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chatsync/internal/apperr"
)

func TestGuardDropsAfterUnsubscribe(t *testing.T) {
	stops := 0
	g := NewGuard(func() { stops++ })

	calls := 0
	assert.True(t, g.Deliver(func() { calls++ }))

	g.Unsubscribe()
	g.Unsubscribe()
	g.Unsubscribe()

	assert.False(t, g.Deliver(func() { calls++ }))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, stops)
	assert.True(t, g.Closed())
}

func TestSetDisposesInReverse(t *testing.T) {
	var order []int
	var s Set
	s.Add(Func(func() { order = append(order, 1) }))
	s.Add(Func(func() { order = append(order, 2) }))
	s.Add(nil)
	assert.Equal(t, 2, s.Len())

	s.DisposeAll()
	s.DisposeAll()
	assert.Equal(t, []int{2, 1}, order)
	assert.Equal(t, 0, s.Len())
}

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestOpenRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	sub, err := Open(context.Background(), "messages", fastRetry(5), func(context.Context) (Unsubscriber, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection reset")
		}
		return NewGuard(nil), nil
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, 3, attempts)
}

func TestOpenGivesUp(t *testing.T) {
	attempts := 0
	_, err := Open(context.Background(), "messages", fastRetry(2), func(context.Context) (Unsubscriber, error) {
		attempts++
		return nil, errors.New("connection reset")
	}, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindSystem))
	assert.Equal(t, 3, attempts)
}

func TestOpenDoesNotRetryAuthorization(t *testing.T) {
	attempts := 0
	_, err := Open(context.Background(), "messages", fastRetry(5), func(context.Context) (Unsubscriber, error) {
		attempts++
		return nil, apperr.ErrUnauthorized
	}, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	assert.Equal(t, 1, attempts)
}

func TestGuardAttach(t *testing.T) {
	upstream := 0
	g := NewGuard(nil)
	g.Attach(Func(func() { upstream++ }))
	assert.Equal(t, 0, upstream)
	g.Unsubscribe()
	g.Unsubscribe()
	assert.Equal(t, 1, upstream)

	late := 0
	g.Attach(Func(func() { late++ }))
	assert.Equal(t, 1, late, "attaching to a closed guard tears the feed down")
}
