// Package messages is the thin access layer over the message stream:
// validated sends, ascending pages and the live created feed.
package messages

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/events"
	"github.com/fathima-sithara/chatsync/internal/metrics"
	"github.com/fathima-sithara/chatsync/internal/store"
	"github.com/fathima-sithara/chatsync/internal/subscription"
	"github.com/fathima-sithara/chatsync/internal/utils"
)

type Service struct {
	msgs    store.Messages
	pub     events.Publisher
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	now     func() time.Time
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.pub = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(msgs store.Messages, log *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		msgs: msgs,
		pub:  events.Noop{},
		log:  utils.OrNop(log),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send validates content and creates the remote record with status sent.
func (s *Service) Send(ctx context.Context, senderID, receiverID, content string) (domain.Message, error) {
	const op = "messages.Send"
	if err := domain.ValidateContent(content); err != nil {
		return domain.Message{}, err
	}
	if receiverID == "" {
		return domain.Message{}, apperr.Validation(op, "receiver is required")
	}
	if receiverID == senderID {
		return domain.Message{}, apperr.Validation(op, "cannot send a message to yourself")
	}

	now := s.now()
	created, err := s.msgs.Create(ctx, domain.Message{
		SenderID:       senderID,
		ReceiverID:     receiverID,
		ConversationID: domain.MessageConversationID(senderID, receiverID),
		Content:        content,
		Status:         domain.StatusSent,
		IsRead:         false,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	s.metrics.Send(err)
	if err != nil {
		s.log.Warnw("send failed", "receiver", receiverID, "error", err)
		return domain.Message{}, apperr.Classify(op, err)
	}

	if err := s.pub.Publish(ctx, events.Event{
		Type:           events.MessageSent,
		OwnerID:        senderID,
		ConversationID: created.ConversationID,
		MessageID:      created.ID,
		At:             created.CreatedAt,
	}); err != nil {
		s.log.Warnw("publish message.sent failed", "message_id", created.ID, "error", err)
	}
	return created, nil
}

// List returns one page oldest to newest. The cursor walks back in time.
func (s *Service) List(ctx context.Context, conversationID string, limit int, cursor string) ([]domain.Message, string, error) {
	if limit <= 0 || limit > domain.MaxPageSize {
		limit = domain.MaxPageSize
	}
	page, err := s.msgs.List(ctx, store.MessageFilter{ConversationID: conversationID}, limit, cursor)
	if err != nil {
		return nil, "", apperr.Classify("messages.List", err)
	}
	out := page.Items
	domain.SortMessages(out)
	return out, page.NextCursor, nil
}

// ListUnread walks every page of unread messages addressed to receiverID in the conversation.
func (s *Service) ListUnread(ctx context.Context, conversationID, receiverID string) ([]domain.Message, error) {
	f := store.MessageFilter{ConversationID: conversationID, ReceiverID: receiverID, UnreadOnly: true}
	var (
		out    []domain.Message
		cursor string
	)
	for {
		page, err := s.msgs.List(ctx, f, domain.MaxPageSize, cursor)
		if err != nil {
			return out, apperr.Classify("messages.ListUnread", err)
		}
		out = append(out, page.Items...)
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

func (s *Service) MarkRead(ctx context.Context, id string) error {
	read := true
	_, err := s.msgs.Update(ctx, id, store.MessagePatch{IsRead: &read, UpdatedAt: s.now()})
	return apperr.Classify("messages.MarkRead", err)
}

// SubscribeCreated delivers every new message the principal takes part in.
// Callers filter by conversation themselves.
func (s *Service) SubscribeCreated(ctx context.Context, fn func(domain.Message)) (subscription.Unsubscriber, error) {
	u, err := s.msgs.SubscribeCreated(ctx, fn)
	if err != nil {
		return nil, apperr.Classify("messages.SubscribeCreated", err)
	}
	return u, nil
}
