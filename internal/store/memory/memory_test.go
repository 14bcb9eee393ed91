package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/store"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(from, to string, at time.Time, content string) domain.Message {
	return domain.Message{
		SenderID:       from,
		ReceiverID:     to,
		ConversationID: domain.MessageConversationID(from, to),
		Content:        content,
		Status:         domain.StatusSent,
		CreatedAt:      at,
	}
}

func TestMessageCreateAssignsIDAndNotifiesParticipants(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	alice, bob, carol := b.Session("u1"), b.Session("u2"), b.Session("u3")

	var gotBob, gotCarol, gotAlice []domain.Message
	_, err := bob.Messages.SubscribeCreated(ctx, func(m domain.Message) { gotBob = append(gotBob, m) })
	require.NoError(t, err)
	_, err = carol.Messages.SubscribeCreated(ctx, func(m domain.Message) { gotCarol = append(gotCarol, m) })
	require.NoError(t, err)
	_, err = alice.Messages.SubscribeCreated(ctx, func(m domain.Message) { gotAlice = append(gotAlice, m) })
	require.NoError(t, err)

	m := msg("u1", "u2", base, "hello")
	m.ID = domain.NewLocalID()
	created, err := alice.Messages.Create(ctx, m)
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.IsLocal())
	require.Len(t, gotBob, 1)
	require.Len(t, gotAlice, 1)
	assert.Empty(t, gotCarol)
	assert.Equal(t, created.ID, gotBob[0].ID)
}

func TestMessageOwnership(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()

	_, err := b.Session("u2").Messages.Create(ctx, msg("u1", "u2", base, "spoof"))
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	created, err := b.Session("u1").Messages.Create(ctx, msg("u1", "u2", base, "hi"))
	require.NoError(t, err)

	_, err = b.Session("u3").Messages.Get(ctx, created.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	read := true
	updated, err := b.Session("u2").Messages.Update(ctx, created.ID, store.MessagePatch{IsRead: &read})
	require.NoError(t, err)
	assert.True(t, updated.IsRead)

	_, err = b.Session("u2").Messages.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMessageListPagesNewestFirst(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	s := b.Session("u1")
	for i := 0; i < 7; i++ {
		m := msg("u1", "u2", base.Add(time.Duration(i)*time.Minute), fmt.Sprint(i))
		m.ID = fmt.Sprintf("m%d", i)
		_, err := s.Messages.Create(ctx, m)
		require.NoError(t, err)
	}
	f := store.MessageFilter{ConversationID: "u1_u2"}

	p1, err := s.Messages.List(ctx, f, 3, "")
	require.NoError(t, err)
	require.Len(t, p1.Items, 3)
	assert.Equal(t, "m6", p1.Items[0].ID)
	assert.NotEmpty(t, p1.NextCursor)

	p2, err := s.Messages.List(ctx, f, 3, p1.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2", "m1"}, ids(p2.Items))

	p3, err := s.Messages.List(ctx, f, 3, p2.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"m0"}, ids(p3.Items))
	assert.Empty(t, p3.NextCursor)
}

func TestMessageListUnreadFilter(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	m1 := msg("u1", "u2", base, "a")
	m1.ID = "a"
	m2 := msg("u1", "u2", base.Add(time.Second), "b")
	m2.ID, m2.IsRead = "b", true
	m3 := msg("u2", "u1", base.Add(2*time.Second), "c")
	m3.ID = "c"
	for _, m := range []domain.Message{m1, m2, m3} {
		b.PutMessage(m)
	}
	p, err := b.Session("u2").Messages.List(ctx, store.MessageFilter{ConversationID: "u1_u2", ReceiverID: "u2", UnreadOnly: true}, 50, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(p.Items))
}

func TestConversationCreateConflictAndOwnership(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	s := b.Session("u2")
	c := domain.Conversation{ID: "u2_u1", UserID: "u2", OtherUserID: "u1", LastMessageAt: base}

	_, err := s.Conversations.Create(ctx, c)
	require.NoError(t, err)
	_, err = s.Conversations.Create(ctx, c)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = b.Session("u1").Conversations.Get(ctx, "u2_u1")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = b.Session("u1").Conversations.List(ctx, store.ConversationFilter{UserID: "u2"}, 10, "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestConversationUpdateNotifiesOwnerOnly(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	b.PutConversation(domain.Conversation{ID: "u2_u1", UserID: "u2", OtherUserID: "u1", LastMessageAt: base})

	var owner, other int
	_, err := b.Session("u2").Conversations.SubscribeUpdated(ctx, func(domain.Conversation) { owner++ })
	require.NoError(t, err)
	_, err = b.Session("u1").Conversations.SubscribeUpdated(ctx, func(domain.Conversation) { other++ })
	require.NoError(t, err)

	n := 4
	c, err := b.Session("u2").Conversations.Update(ctx, "u2_u1", store.ConversationPatch{UnreadCount: &n})
	require.NoError(t, err)
	assert.Equal(t, 4, c.UnreadCount)
	assert.Equal(t, 1, owner)
	assert.Equal(t, 0, other)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	s := b.Session("u2")

	calls := 0
	sub, err := s.Messages.SubscribeCreated(ctx, func(domain.Message) { calls++ })
	require.NoError(t, err)

	_, err = b.Session("u1").Messages.Create(ctx, msg("u1", "u2", base, "one"))
	require.NoError(t, err)
	sub.Unsubscribe()
	sub.Unsubscribe()
	_, err = b.Session("u1").Messages.Create(ctx, msg("u1", "u2", base, "two"))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestSessionCloseDisposesFeeds(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	s := b.Session("u2")
	calls := 0
	_, err := s.Messages.SubscribeCreated(ctx, func(domain.Message) { calls++ })
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	_, err = b.Session("u1").Messages.Create(ctx, msg("u1", "u2", base, "late"))
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestFaultInjection(t *testing.T) {
	b := NewBackend()
	boom := errors.New("network down")
	b.SetFault(func(op string) error {
		if op == "messages.create" {
			return boom
		}
		return nil
	})
	_, err := b.Session("u1").Messages.Create(context.Background(), msg("u1", "u2", base, "x"))
	assert.ErrorIs(t, err, boom)

	_, err = b.Session("u1").Messages.List(context.Background(), store.MessageFilter{}, 10, "")
	assert.NoError(t, err)
}

func TestContacts(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	s := b.Session("u1")

	_, err := s.Contacts.Get(ctx, "u1", "u2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.Contacts.Create(ctx, domain.Contact{UserID: "u1", ContactUserID: "u2"})
	require.NoError(t, err)
	_, err = s.Contacts.Create(ctx, domain.Contact{UserID: "u1", ContactUserID: "u2"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	c, err := s.Contacts.Get(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", c.ContactUserID)
}

func ids(ms []domain.Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}
