package readbatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/events"
	"github.com/fathima-sithara/chatsync/internal/ledger"
	"github.com/fathima-sithara/chatsync/internal/messages"
	"github.com/fathima-sithara/chatsync/internal/store/memory"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func seed(b *memory.Backend, n int) {
	for i := 0; i < n; i++ {
		id := "m" + string(rune('a'+i))
		b.PutMessage(domain.Message{ID: id, SenderID: "u1", ReceiverID: "u2", ConversationID: "u1_u2",
			Content: id, Status: domain.StatusSent, CreatedAt: t0.Add(time.Duration(i) * time.Second)})
	}
	b.PutConversation(domain.Conversation{ID: "u2_u1", UserID: "u2", OtherUserID: "u1", LastMessageAt: t0, UnreadCount: n})
}

func runner(b *memory.Backend, pub events.Publisher) *Runner {
	s := b.Session("u2")
	return NewRunner(messages.NewService(s.Messages, nil), ledger.New(s.Conversations, s.Profiles, nil, nil), pub, nil, nil, time.Second)
}

func TestBatchMarksAllAndResets(t *testing.T) {
	b := memory.NewBackend()
	seed(b, 5)
	rec := &events.Recorder{}

	task := runner(b, rec).Start(context.Background(), "u2", "u1")
	res, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Listed: 5, Marked: 5}, res)

	for _, m := range b.Messages() {
		assert.True(t, m.IsRead, m.ID)
	}
	c, _ := b.Conversation("u2_u1")
	assert.Equal(t, 0, c.UnreadCount)
	assert.Len(t, rec.OfType(events.ConversationRead), 1)
}

func TestBatchOutlivesCallerContext(t *testing.T) {
	b := memory.NewBackend()
	seed(b, 3)
	ctx, cancel := context.WithCancel(context.Background())
	task := runner(b, nil).Start(ctx, "u2", "u1")
	cancel()

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not finish")
	}
	res, _ := task.Wait(context.Background())
	assert.Equal(t, 3, res.Marked)
}

func TestBatchFailuresAreContained(t *testing.T) {
	b := memory.NewBackend()
	seed(b, 4)
	b.SetFault(func(op string) error {
		if op == "messages.update" {
			return errors.New("throttled")
		}
		return nil
	})
	var observed Result
	r := runner(b, nil)
	r.OnDone = func(_, _ string, res Result) { observed = res }

	res, err := r.Start(context.Background(), "u2", "u1").Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Failed)
	assert.Equal(t, 0, res.Marked)
	assert.Equal(t, res, observed)

	// the summary still resets
	c, _ := b.Conversation("u2_u1")
	assert.Equal(t, 0, c.UnreadCount)
}

func TestBatchListFailureKeepsSummary(t *testing.T) {
	b := memory.NewBackend()
	seed(b, 2)
	b.SetFault(func(op string) error {
		if op == "messages.list" {
			return errors.New("network down")
		}
		return nil
	})
	rec := &events.Recorder{}

	res, err := runner(b, rec).Start(context.Background(), "u2", "u1").Wait(context.Background())
	require.NoError(t, err)
	assert.ErrorContains(t, res.Err, "network down")
	assert.Zero(t, res.Listed)
	assert.Zero(t, res.Marked)

	c, _ := b.Conversation("u2_u1")
	assert.Equal(t, 2, c.UnreadCount)
	for _, m := range b.Messages() {
		assert.False(t, m.IsRead, m.ID)
	}
	assert.Empty(t, rec.OfType(events.ConversationRead))
}

func TestBatchWithNothingUnread(t *testing.T) {
	b := memory.NewBackend()
	res, err := runner(b, nil).Start(context.Background(), "u2", "u1").Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestWaitHonoursContext(t *testing.T) {
	task := &Task{done: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
