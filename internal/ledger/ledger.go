// Package ledger maintains the per-owner conversation summary rows derived
// from the message stream. Each exchange between A and B has two rows, A_B
// and B_A, written by two distinct projections and never merged.
package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/metrics"
	"github.com/fathima-sithara/chatsync/internal/store"
	"github.com/fathima-sithara/chatsync/internal/utils"
)

// Projection describes which row a confirmed message lands in and by how
// much the row's unread count moves.
type Projection interface {
	target() row
}

type row struct {
	kind     string
	owner    string
	peer     string
	delta    int
	reset    bool
	nameHint string
	msg      domain.Message
}

// OutgoingProjection updates the sender's row. The sender's own messages are
// never unread to the sender.
type OutgoingProjection struct {
	Message      domain.Message
	PeerNameHint string
}

func (p OutgoingProjection) target() row {
	return row{kind: "outgoing", owner: p.Message.SenderID, peer: p.Message.ReceiverID, nameHint: p.PeerNameHint, msg: p.Message}
}

// IncomingProjection updates the receiver's row, adding one unread unless the
// receiver was looking at the conversation when the message was processed. A
// viewed conversation is written with exactly zero unread.
type IncomingProjection struct {
	Message domain.Message
	Viewing bool
}

func (p IncomingProjection) target() row {
	if p.Viewing {
		return row{kind: "incoming", owner: p.Message.ReceiverID, peer: p.Message.SenderID, reset: true, msg: p.Message}
	}
	return row{kind: "incoming", owner: p.Message.ReceiverID, peer: p.Message.SenderID, delta: 1, msg: p.Message}
}

type Ledger struct {
	convs    store.Conversations
	profiles store.Profiles
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	now      func() time.Time
}

func New(convs store.Conversations, profiles store.Profiles, m *metrics.Metrics, log *zap.SugaredLogger) *Ledger {
	return &Ledger{
		convs:    convs,
		profiles: profiles,
		metrics:  m,
		log:      utils.OrNop(log),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// ApplyOutgoing upserts the sender's row. Failures are logged and reported
// through ok; the caller does not roll anything back.
func (l *Ledger) ApplyOutgoing(ctx context.Context, msg domain.Message, peerNameHint string) (domain.Conversation, bool) {
	return l.apply(ctx, OutgoingProjection{Message: msg, PeerNameHint: peerNameHint})
}

// ApplyIncoming upserts the receiver's row.
func (l *Ledger) ApplyIncoming(ctx context.Context, msg domain.Message, viewing bool) (domain.Conversation, bool) {
	return l.apply(ctx, IncomingProjection{Message: msg, Viewing: viewing})
}

func (l *Ledger) apply(ctx context.Context, p Projection) (domain.Conversation, bool) {
	r := p.target()
	c, err := l.Upsert(ctx, p)
	l.metrics.LedgerUpsert(r.kind, err)
	if err != nil {
		l.log.Warnw("conversation summary update failed",
			"projection", r.kind, "conversation_id", domain.UserConversationID(r.owner, r.peer),
			"message_id", r.msg.ID, "error", err)
		return domain.Conversation{}, false
	}
	return c, true
}

// Upsert writes the projection's row, creating it on first contact.
func (l *Ledger) Upsert(ctx context.Context, p Projection) (domain.Conversation, error) {
	r := p.target()
	id := domain.UserConversationID(r.owner, r.peer)

	existing, err := l.convs.Get(ctx, id)
	switch {
	case err == nil:
		return l.update(ctx, r, existing)
	case !errors.Is(err, apperr.ErrNotFound):
		return domain.Conversation{}, apperr.Classify("ledger.Upsert", err)
	}

	prof, fresh := l.profile(ctx, r.peer)
	now := l.now()
	c := domain.Conversation{
		ID:                 id,
		UserID:             r.owner,
		OtherUserID:        r.peer,
		OtherUserName:      resolveName(r.peer, prof, fresh, r.nameHint, ""),
		LastMessageContent: domain.Preview(r.msg.Content),
		LastMessageAt:      r.msg.CreatedAt,
		UnreadCount:        r.delta,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if fresh {
		c.OtherUserAvatar = prof.AvatarURL
	}
	created, err := l.convs.Create(ctx, c)
	if errors.Is(err, apperr.ErrConflict) {
		// Lost the create race to another delivery of the same exchange.
		existing, gerr := l.convs.Get(ctx, id)
		if gerr != nil {
			return domain.Conversation{}, apperr.Classify("ledger.Upsert", gerr)
		}
		return l.update(ctx, r, existing)
	}
	if err != nil {
		return domain.Conversation{}, apperr.Classify("ledger.Upsert", err)
	}
	return created, nil
}

func (l *Ledger) update(ctx context.Context, r row, existing domain.Conversation) (domain.Conversation, error) {
	prof, fresh := l.profile(ctx, r.peer)
	name := resolveName(r.peer, prof, fresh, r.nameHint, existing.OtherUserName)
	content := domain.Preview(r.msg.Content)
	at := r.msg.CreatedAt
	unread := existing.UnreadCount + r.delta
	if r.reset || unread < 0 {
		unread = 0
	}
	patch := store.ConversationPatch{
		OtherUserName:      &name,
		LastMessageContent: &content,
		LastMessageAt:      &at,
		UnreadCount:        &unread,
		UpdatedAt:          l.now(),
	}
	if fresh && prof.AvatarURL != "" {
		patch.OtherUserAvatar = &prof.AvatarURL
	}
	c, err := l.convs.Update(ctx, existing.ID, patch)
	if err != nil {
		return domain.Conversation{}, apperr.Classify("ledger.Upsert", err)
	}
	return c, nil
}

// ResetUnread sets the owner's row to exactly zero unread. A missing row is
// left alone.
func (l *Ledger) ResetUnread(ctx context.Context, owner, peer string) error {
	zero := 0
	_, err := l.convs.Update(ctx, domain.UserConversationID(owner, peer), store.ConversationPatch{
		UnreadCount: &zero,
		UpdatedAt:   l.now(),
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	l.metrics.LedgerUpsert("reset", err)
	if err != nil {
		l.log.Warnw("reset unread failed", "owner", owner, "peer", peer, "error", err)
		return apperr.Classify("ledger.ResetUnread", err)
	}
	return nil
}

func (l *Ledger) profile(ctx context.Context, userID string) (domain.UserProfile, bool) {
	if l.profiles == nil {
		return domain.UserProfile{}, false
	}
	p, err := l.profiles.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			l.log.Debugw("profile lookup failed", "user_id", userID, "error", err)
		}
		return domain.UserProfile{}, false
	}
	return p, true
}

// resolveName prefers a fresh profile, then the caller's hint, then the
// cached name, then a placeholder.
func resolveName(peer string, prof domain.UserProfile, fresh bool, hint, cached string) string {
	switch {
	case fresh && prof.Username != "":
		return prof.Username
	case hint != "":
		return hint
	case cached != "":
		return cached
	}
	return domain.PlaceholderName(peer)
}
