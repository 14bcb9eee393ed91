package messages

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/events"
	"github.com/fathima-sithara/chatsync/internal/store"
	"github.com/fathima-sithara/chatsync/internal/store/memory"
	"github.com/fathima-sithara/chatsync/internal/subscription"
)

type mockMessages struct{ mock.Mock }

func (m *mockMessages) Create(ctx context.Context, msg domain.Message) (domain.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *mockMessages) Get(ctx context.Context, id string) (domain.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *mockMessages) Update(ctx context.Context, id string, p store.MessagePatch) (domain.Message, error) {
	args := m.Called(ctx, id, p)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *mockMessages) List(ctx context.Context, f store.MessageFilter, limit int, cursor string) (store.Page[domain.Message], error) {
	args := m.Called(ctx, f, limit, cursor)
	return args.Get(0).(store.Page[domain.Message]), args.Error(1)
}

func (m *mockMessages) SubscribeCreated(ctx context.Context, fn func(domain.Message)) (subscription.Unsubscriber, error) {
	args := m.Called(ctx, fn)
	u, _ := args.Get(0).(subscription.Unsubscriber)
	return u, args.Error(1)
}

func TestSendCreatesSentMessage(t *testing.T) {
	b := memory.NewBackend()
	rec := &events.Recorder{}
	svc := NewService(b.Session("u1").Messages, nil, WithPublisher(rec))

	m, err := svc.Send(context.Background(), "u1", "u2", "hello")
	require.NoError(t, err)
	assert.Equal(t, "u1_u2", m.ConversationID)
	assert.Equal(t, domain.StatusSent, m.Status)
	assert.False(t, m.IsRead)
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.IsLocal())

	stored, ok := b.Message(m.ID)
	require.True(t, ok)
	assert.Equal(t, "hello", stored.Content)

	sent := rec.OfType(events.MessageSent)
	require.Len(t, sent, 1)
	assert.Equal(t, m.ID, sent[0].MessageID)
}

func TestSendConversationIDIsSymmetric(t *testing.T) {
	b := memory.NewBackend()
	a, err := NewService(b.Session("u2").Messages, nil).Send(context.Background(), "u2", "u1", "hey")
	require.NoError(t, err)
	assert.Equal(t, "u1_u2", a.ConversationID)
}

func TestSendValidation(t *testing.T) {
	svc := NewService(memory.NewBackend().Session("u1").Messages, nil)
	ctx := context.Background()

	_, err := svc.Send(ctx, "u1", "u2", strings.Repeat("a", 5000))
	assert.NoError(t, err)

	_, err = svc.Send(ctx, "u1", "u2", strings.Repeat("a", 5001))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Send(ctx, "u1", "u2", "   \n ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Send(ctx, "u1", "u1", "me")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestSendClassifiesFailures(t *testing.T) {
	b := memory.NewBackend()
	ctx := context.Background()

	// u3 cannot send on behalf of u1.
	_, err := NewService(b.Session("u3").Messages, nil).Send(ctx, "u1", "u2", "spoof")
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	b.SetFault(func(op string) error {
		if op == "messages.create" {
			return errors.New("connection reset")
		}
		return nil
	})
	_, err = NewService(b.Session("u1").Messages, nil).Send(ctx, "u1", "u2", "hi")
	assert.True(t, apperr.Is(err, apperr.KindSystem))
}

func TestSendSurvivesPublisherFailure(t *testing.T) {
	rec := &events.Recorder{Err: errors.New("broker down")}
	svc := NewService(memory.NewBackend().Session("u1").Messages, nil, WithPublisher(rec))
	_, err := svc.Send(context.Background(), "u1", "u2", "hi")
	assert.NoError(t, err)
}

func TestListSortsAscendingRegardlessOfStoreOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	page := store.Page[domain.Message]{
		Items: []domain.Message{
			{ID: "b", CreatedAt: base.Add(time.Minute)},
			{ID: "c", CreatedAt: base.Add(2 * time.Minute)},
			{ID: "a", CreatedAt: base},
		},
		NextCursor: "older",
	}
	mm := &mockMessages{}
	mm.On("List", mock.Anything, store.MessageFilter{ConversationID: "u1_u2"}, domain.MaxPageSize, "").Return(page, nil)

	msgs, next, err := NewService(mm, nil).List(context.Background(), "u1_u2", 500, "")
	require.NoError(t, err)
	assert.Equal(t, "older", next)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	mm.AssertExpectations(t)
}

func TestListPagesBackwards(t *testing.T) {
	b := memory.NewBackend()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		b.PutMessage(domain.Message{
			ID: "m" + string(rune('A'+i)), SenderID: "u1", ReceiverID: "u2", ConversationID: "u1_u2",
			Content: "x", Status: domain.StatusSent, CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	svc := NewService(b.Session("u2").Messages, nil)

	first, cursor, err := svc.List(context.Background(), "u1_u2", 0, "")
	require.NoError(t, err)
	assert.Len(t, first, domain.MaxPageSize)
	assert.NotEmpty(t, cursor)
	assert.True(t, first[0].CreatedAt.Before(first[len(first)-1].CreatedAt))

	older, cursor, err := svc.List(context.Background(), "u1_u2", 0, cursor)
	require.NoError(t, err)
	assert.Len(t, older, 10)
	assert.Empty(t, cursor)
	assert.True(t, older[len(older)-1].CreatedAt.Before(first[0].CreatedAt))
}

func TestListUnreadAndMarkRead(t *testing.T) {
	b := memory.NewBackend()
	now := time.Now().UTC()
	put := func(id, from, to string, read bool) {
		b.PutMessage(domain.Message{ID: id, SenderID: from, ReceiverID: to,
			ConversationID: domain.MessageConversationID(from, to), Content: id,
			Status: domain.StatusSent, IsRead: read, CreatedAt: now})
	}
	put("m1", "u1", "u2", false)
	put("m2", "u1", "u2", true)
	put("m3", "u2", "u1", false)
	put("m4", "u3", "u2", false)

	svc := NewService(b.Session("u2").Messages, nil)
	unread, err := svc.ListUnread(context.Background(), "u1_u2", "u2")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "m1", unread[0].ID)

	require.NoError(t, svc.MarkRead(context.Background(), "m1"))
	m, _ := b.Message("m1")
	assert.True(t, m.IsRead)

	err = NewService(b.Session("u9").Messages, nil).MarkRead(context.Background(), "m1")
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func TestSubscribeCreatedDeliversOwnAndPeerMessages(t *testing.T) {
	b := memory.NewBackend()
	svc := NewService(b.Session("u2").Messages, nil)
	var got []string
	u, err := svc.SubscribeCreated(context.Background(), func(m domain.Message) { got = append(got, m.ID) })
	require.NoError(t, err)

	_, err = NewService(b.Session("u1").Messages, nil).Send(context.Background(), "u1", "u2", "hi")
	require.NoError(t, err)
	_, err = NewService(b.Session("u1").Messages, nil).Send(context.Background(), "u1", "u3", "not for u2")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	u.Unsubscribe()
	u.Unsubscribe()
	_, err = NewService(b.Session("u1").Messages, nil).Send(context.Background(), "u1", "u2", "after")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
