// Package store declares the data collaborator consumed by the sync core:
// CRUD, filtered paging and live create/update feeds for messages and
// conversation summaries, plus profile and contact lookups. Implementations
// enforce record ownership for the principal their Session was built for.
package store

import (
	"context"
	"time"

	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/subscription"
)

// Page is one slice of a listing. NextCursor is empty on the last page.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

type MessageFilter struct {
	ConversationID string
	ReceiverID     string
	UnreadOnly     bool
}

func (f MessageFilter) Match(m domain.Message) bool {
	if f.ConversationID != "" && m.ConversationID != f.ConversationID {
		return false
	}
	if f.ReceiverID != "" && m.ReceiverID != f.ReceiverID {
		return false
	}
	if f.UnreadOnly && m.IsRead {
		return false
	}
	return true
}

type ConversationFilter struct {
	UserID string
}

type MessagePatch struct {
	IsRead    *bool
	Status    *domain.MessageStatus
	UpdatedAt time.Time
}

type ConversationPatch struct {
	OtherUserName      *string
	OtherUserAvatar    *string
	LastMessageContent *string
	LastMessageAt      *time.Time
	UnreadCount        *int
	UpdatedAt          time.Time
}

type Messages interface {
	// Create stores m. The store assigns the id when m.ID is empty.
	Create(ctx context.Context, m domain.Message) (domain.Message, error)
	Get(ctx context.Context, id string) (domain.Message, error)
	Update(ctx context.Context, id string, patch MessagePatch) (domain.Message, error)
	// List returns the most recent matching messages first; the cursor walks to older ones.
	List(ctx context.Context, f MessageFilter, limit int, cursor string) (Page[domain.Message], error)
	SubscribeCreated(ctx context.Context, fn func(domain.Message)) (subscription.Unsubscriber, error)
}

type Conversations interface {
	// Create fails with apperr.ErrConflict when the id exists.
	Create(ctx context.Context, c domain.Conversation) (domain.Conversation, error)
	Get(ctx context.Context, id string) (domain.Conversation, error)
	Update(ctx context.Context, id string, patch ConversationPatch) (domain.Conversation, error)
	List(ctx context.Context, f ConversationFilter, limit int, cursor string) (Page[domain.Conversation], error)
	SubscribeCreated(ctx context.Context, fn func(domain.Conversation)) (subscription.Unsubscriber, error)
	SubscribeUpdated(ctx context.Context, fn func(domain.Conversation)) (subscription.Unsubscriber, error)
}

type Profiles interface {
	Get(ctx context.Context, userID string) (domain.UserProfile, error)
}

type Contacts interface {
	Get(ctx context.Context, userID, contactUserID string) (domain.Contact, error)
	// Create fails with apperr.ErrConflict when the relation exists.
	Create(ctx context.Context, c domain.Contact) (domain.Contact, error)
}

// Session bundles the collaborators for one signed-in principal. It is built
// at sign-in and closed at sign-out.
type Session struct {
	Principal     string
	Messages      Messages
	Conversations Conversations
	Profiles      Profiles
	Contacts      Contacts

	closer func(context.Context) error
}

func NewSession(principal string, m Messages, c Conversations, p Profiles, ct Contacts, closer func(context.Context) error) *Session {
	return &Session{
		Principal:     principal,
		Messages:      m,
		Conversations: c,
		Profiles:      p,
		Contacts:      ct,
		closer:        closer,
	}
}

func (s *Session) Close(ctx context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer(ctx)
}
