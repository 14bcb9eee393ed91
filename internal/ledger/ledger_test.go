package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/store"
	"github.com/fathima-sithara/chatsync/internal/store/memory"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(id, from, to, content string, at time.Time) domain.Message {
	return domain.Message{
		ID: id, SenderID: from, ReceiverID: to,
		ConversationID: domain.MessageConversationID(from, to),
		Content:        content, Status: domain.StatusSent, CreatedAt: at, UpdatedAt: at,
	}
}

func ledgerFor(b *memory.Backend, principal string) *Ledger {
	s := b.Session(principal)
	return New(s.Conversations, s.Profiles, nil, nil)
}

func TestHelloScenario(t *testing.T) {
	b := memory.NewBackend()
	b.PutProfile(domain.UserProfile{UserID: "u1", Username: "alice"})
	b.PutProfile(domain.UserProfile{UserID: "u2", Username: "bob"})
	ctx := context.Background()

	m := msg("m1", "u1", "u2", "hello", t0)

	sender, ok := ledgerFor(b, "u1").ApplyOutgoing(ctx, m, "")
	require.True(t, ok)
	assert.Equal(t, "u1_u2", sender.ID)
	assert.Equal(t, "hello", sender.LastMessageContent)
	assert.Equal(t, 0, sender.UnreadCount)
	assert.Equal(t, "bob", sender.OtherUserName)

	receiver, ok := ledgerFor(b, "u2").ApplyIncoming(ctx, m, false)
	require.True(t, ok)
	assert.Equal(t, "u2_u1", receiver.ID)
	assert.Equal(t, "hello", receiver.LastMessageContent)
	assert.Equal(t, 1, receiver.UnreadCount)
	assert.Equal(t, "alice", receiver.OtherUserName)
	assert.True(t, t0.Equal(receiver.LastMessageAt))

	// a second unseen message adds exactly one
	receiver, ok = ledgerFor(b, "u2").ApplyIncoming(ctx, msg("m2", "u1", "u2", "again", t0.Add(time.Second)), false)
	require.True(t, ok)
	assert.Equal(t, 2, receiver.UnreadCount)

	// sender row is untouched by the receiver's projection
	row, _ := b.Conversation("u1_u2")
	assert.Equal(t, 0, row.UnreadCount)
}

func TestIncomingWhileViewing(t *testing.T) {
	b := memory.NewBackend()
	ctx := context.Background()
	l := ledgerFor(b, "u2")

	c, ok := l.ApplyIncoming(ctx, msg("m1", "u1", "u2", "hello", t0), true)
	require.True(t, ok)
	assert.Equal(t, 0, c.UnreadCount)

	_, ok = l.ApplyIncoming(ctx, msg("m2", "u1", "u2", "x", t0.Add(time.Second)), false)
	require.True(t, ok)
	c, ok = l.ApplyIncoming(ctx, msg("m3", "u1", "u2", "y", t0.Add(2*time.Second)), true)
	require.True(t, ok)
	assert.Equal(t, 0, c.UnreadCount, "a viewed conversation drops earlier unread too")
}

func TestIncomingWhileViewingClearsStaleUnread(t *testing.T) {
	b := memory.NewBackend()
	b.PutConversation(domain.Conversation{ID: "u2_u1", UserID: "u2", OtherUserID: "u1", OtherUserName: "alice",
		LastMessageAt: t0, UnreadCount: 3})

	c, ok := ledgerFor(b, "u2").ApplyIncoming(context.Background(), msg("m4", "u1", "u2", "four", t0.Add(time.Minute)), true)
	require.True(t, ok)
	assert.Equal(t, 0, c.UnreadCount)
	stored, found := b.Conversation("u2_u1")
	require.True(t, found)
	assert.Equal(t, 0, stored.UnreadCount)
}

func TestOutgoingKeepsUnread(t *testing.T) {
	b := memory.NewBackend()
	b.PutConversation(domain.Conversation{ID: "u1_u2", UserID: "u1", OtherUserID: "u2", OtherUserName: "bob",
		LastMessageAt: t0, UnreadCount: 4})

	c, ok := ledgerFor(b, "u1").ApplyOutgoing(context.Background(), msg("m1", "u1", "u2", "reply", t0.Add(time.Minute)), "")
	require.True(t, ok)
	assert.Equal(t, 4, c.UnreadCount)
	assert.Equal(t, "reply", c.LastMessageContent)
	assert.Equal(t, "bob", c.OtherUserName)
}

func TestPreviewIsTruncated(t *testing.T) {
	b := memory.NewBackend()
	c, ok := ledgerFor(b, "u2").ApplyIncoming(context.Background(), msg("m1", "u1", "u2", strings.Repeat("z", 300), t0), false)
	require.True(t, ok)
	assert.Len(t, c.LastMessageContent, domain.PreviewLength)
}

func TestNameResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("placeholder when profile is missing", func(t *testing.T) {
		b := memory.NewBackend()
		c, ok := ledgerFor(b, "u2").ApplyIncoming(ctx, msg("m1", "abcdefghijk", "u2", "hi", t0), false)
		require.True(t, ok)
		assert.Equal(t, "User_abcdefgh", c.OtherUserName)
	})

	t.Run("profile failure never blocks creation", func(t *testing.T) {
		b := memory.NewBackend()
		b.SetFault(func(op string) error {
			if op == "profiles.get" {
				return errors.New("timeout")
			}
			return nil
		})
		c, ok := ledgerFor(b, "u2").ApplyIncoming(ctx, msg("m1", "u1", "u2", "hi", t0), false)
		require.True(t, ok)
		assert.Equal(t, "User_u1", c.OtherUserName)
	})

	t.Run("hint used when no profile", func(t *testing.T) {
		b := memory.NewBackend()
		c, ok := ledgerFor(b, "u1").ApplyOutgoing(ctx, msg("m1", "u1", "u2", "hi", t0), "Bobby")
		require.True(t, ok)
		assert.Equal(t, "Bobby", c.OtherUserName)
	})

	t.Run("fresh profile replaces a stale cache", func(t *testing.T) {
		b := memory.NewBackend()
		b.PutConversation(domain.Conversation{ID: "u2_u1", UserID: "u2", OtherUserID: "u1", OtherUserName: "old",
			LastMessageAt: t0})
		b.PutProfile(domain.UserProfile{UserID: "u1", Username: "renamed", AvatarURL: "profile-pictures/x/a.png"})
		c, ok := ledgerFor(b, "u2").ApplyIncoming(ctx, msg("m1", "u1", "u2", "hi", t0.Add(time.Second)), false)
		require.True(t, ok)
		assert.Equal(t, "renamed", c.OtherUserName)
		assert.Equal(t, "profile-pictures/x/a.png", c.OtherUserAvatar)
	})

	t.Run("cached name kept when profile unavailable", func(t *testing.T) {
		b := memory.NewBackend()
		b.PutConversation(domain.Conversation{ID: "u2_u1", UserID: "u2", OtherUserID: "u1", OtherUserName: "cached",
			LastMessageAt: t0})
		c, ok := ledgerFor(b, "u2").ApplyIncoming(ctx, msg("m1", "u1", "u2", "hi", t0.Add(time.Second)), false)
		require.True(t, ok)
		assert.Equal(t, "cached", c.OtherUserName)
	})
}

func TestResetUnreadIsAbsolute(t *testing.T) {
	ctx := context.Background()
	for _, n := range []int{0, 1, 7, 250} {
		b := memory.NewBackend()
		b.PutConversation(domain.Conversation{ID: "u2_u1", UserID: "u2", OtherUserID: "u1", LastMessageAt: t0, UnreadCount: n})
		l := ledgerFor(b, "u2")
		require.NoError(t, l.ResetUnread(ctx, "u2", "u1"))
		require.NoError(t, l.ResetUnread(ctx, "u2", "u1"))
		c, _ := b.Conversation("u2_u1")
		assert.Equal(t, 0, c.UnreadCount, "from %d", n)
	}
}

func TestResetUnreadMissingRowIsNoop(t *testing.T) {
	b := memory.NewBackend()
	assert.NoError(t, ledgerFor(b, "u2").ResetUnread(context.Background(), "u2", "u1"))
	_, ok := b.Conversation("u2_u1")
	assert.False(t, ok)
}

func TestFailuresAreSwallowed(t *testing.T) {
	b := memory.NewBackend()
	b.SetFault(func(op string) error {
		if strings.HasPrefix(op, "conversations.") {
			return errors.New("network down")
		}
		return nil
	})
	_, ok := ledgerFor(b, "u2").ApplyIncoming(context.Background(), msg("m1", "u1", "u2", "hi", t0), false)
	assert.False(t, ok)
}

func TestUpsertFailsForForeignRow(t *testing.T) {
	b := memory.NewBackend()
	// u3 processing a message between u1 and u2 must not touch either row.
	_, err := ledgerFor(b, "u3").Upsert(context.Background(), IncomingProjection{Message: msg("m1", "u1", "u2", "hi", t0)})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

type racingConversations struct {
	store.Conversations
	once sync.Once
	seed func()
}

func (r *racingConversations) Create(ctx context.Context, c domain.Conversation) (domain.Conversation, error) {
	r.once.Do(r.seed)
	return r.Conversations.Create(ctx, c)
}

func TestCreateConflictFallsBackToUpdate(t *testing.T) {
	b := memory.NewBackend()
	s := b.Session("u2")
	rc := &racingConversations{Conversations: s.Conversations, seed: func() {
		b.PutConversation(domain.Conversation{ID: "u2_u1", UserID: "u2", OtherUserID: "u1", OtherUserName: "bob",
			LastMessageAt: t0, UnreadCount: 2})
	}}
	l := New(rc, s.Profiles, nil, nil)

	c, err := l.Upsert(context.Background(), IncomingProjection{Message: msg("m1", "u1", "u2", "late", t0.Add(time.Minute))})
	require.NoError(t, err)
	assert.Equal(t, 3, c.UnreadCount)
	assert.Equal(t, "late", c.LastMessageContent)
}
