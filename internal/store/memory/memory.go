// Package memory is a goroutine-safe in-process implementation of the store
// collaborator. Several principals can share one Backend, which makes it
// usable both for offline mode and for two-party tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/store"
	"github.com/fathima-sithara/chatsync/internal/subscription"
)

type listener[T any] struct {
	principal string
	fn        func(T)
	guard     *subscription.Guard
}

type Backend struct {
	mu            sync.RWMutex
	messages      map[string]domain.Message
	conversations map[string]domain.Conversation
	profiles      map[string]domain.UserProfile
	contacts      map[string]domain.Contact

	msgCreated  []*listener[domain.Message]
	convCreated []*listener[domain.Conversation]
	convUpdated []*listener[domain.Conversation]

	fault func(op string) error
	now   func() time.Time
}

func NewBackend() *Backend {
	return &Backend{
		messages:      make(map[string]domain.Message),
		conversations: make(map[string]domain.Conversation),
		profiles:      make(map[string]domain.UserProfile),
		contacts:      make(map[string]domain.Contact),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetFault installs a hook consulted before every operation; a non-nil
// return fails the operation with that error. Op names look like "messages.create".
func (b *Backend) SetFault(fn func(op string) error) {
	b.mu.Lock()
	b.fault = fn
	b.mu.Unlock()
}

func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

func (b *Backend) PutProfile(p domain.UserProfile) {
	b.mu.Lock()
	b.profiles[p.UserID] = p
	b.mu.Unlock()
}

// PutConversation seeds a row without ownership checks or events.
func (b *Backend) PutConversation(c domain.Conversation) {
	b.mu.Lock()
	b.conversations[c.ID] = c
	b.mu.Unlock()
}

// PutMessage seeds a message without ownership checks or events.
func (b *Backend) PutMessage(m domain.Message) {
	b.mu.Lock()
	b.messages[m.ID] = m
	b.mu.Unlock()
}

func (b *Backend) Message(id string) (domain.Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.messages[id]
	return m, ok
}

func (b *Backend) Conversation(id string) (domain.Conversation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.conversations[id]
	return c, ok
}

func (b *Backend) Messages() []domain.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Message, 0, len(b.messages))
	for _, m := range b.messages {
		out = append(out, m)
	}
	domain.SortMessages(out)
	return out
}

// EmitConversationUpdated replays c to update listeners, as a store would on
// a duplicate or late delivery.
func (b *Backend) EmitConversationUpdated(c domain.Conversation) {
	b.mu.RLock()
	ls := append([]*listener[domain.Conversation](nil), b.convUpdated...)
	b.mu.RUnlock()
	deliver(ls, c, func(p string) bool { return p == c.UserID })
}

// EmitMessageCreated replays m to create listeners.
func (b *Backend) EmitMessageCreated(m domain.Message) {
	b.mu.RLock()
	ls := append([]*listener[domain.Message](nil), b.msgCreated...)
	b.mu.RUnlock()
	deliver(ls, m, func(p string) bool { return p == m.SenderID || p == m.ReceiverID })
}

// Session returns the collaborator bundle scoped to principal.
func (b *Backend) Session(principal string) *store.Session {
	subs := &subscription.Set{}
	return store.NewSession(principal,
		&messageRepo{b: b, principal: principal, subs: subs},
		&conversationRepo{b: b, principal: principal, subs: subs},
		&profileRepo{b: b},
		&contactRepo{b: b, principal: principal},
		func(context.Context) error {
			subs.DisposeAll()
			return nil
		},
	)
}

func (b *Backend) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	fault := b.fault
	b.mu.RUnlock()
	if fault != nil {
		return fault(op)
	}
	return nil
}

func (b *Backend) clock() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.now()
}

func deliver[T any](ls []*listener[T], v T, visible func(principal string) bool) {
	for _, l := range ls {
		if !visible(l.principal) {
			continue
		}
		l.guard.Deliver(func() { l.fn(v) })
	}
}

func subscribe[T any](b *Backend, list *[]*listener[T], principal string, fn func(T), subs *subscription.Set) subscription.Unsubscriber {
	l := &listener[T]{principal: principal, fn: fn}
	l.guard = subscription.NewGuard(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, x := range *list {
			if x == l {
				*list = append((*list)[:i], (*list)[i+1:]...)
				break
			}
		}
	})
	b.mu.Lock()
	*list = append(*list, l)
	b.mu.Unlock()
	subs.Add(l.guard)
	return l.guard
}

func page[T any](items []T, key func(T) (time.Time, string), limit int, cursor string) (store.Page[T], error) {
	sort.SliceStable(items, func(i, j int) bool {
		ai, aid := key(items[i])
		bi, bid := key(items[j])
		if ai.Equal(bi) {
			return aid > bid
		}
		return ai.After(bi)
	})
	if cursor != "" {
		cAt, cID, err := store.DecodeCursor(cursor)
		if err != nil {
			return store.Page[T]{}, err
		}
		kept := items[:0]
		for _, it := range items {
			at, id := key(it)
			if store.Before(at, id, cAt, cID) {
				kept = append(kept, it)
			}
		}
		items = kept
	}
	var out store.Page[T]
	if limit > 0 && len(items) > limit {
		at, id := key(items[limit-1])
		out.NextCursor = store.EncodeCursor(at, id)
		items = items[:limit]
	}
	out.Items = append([]T(nil), items...)
	return out, nil
}

type messageRepo struct {
	b         *Backend
	principal string
	subs      *subscription.Set
}

func (r *messageRepo) visible(m domain.Message) bool {
	return m.SenderID == r.principal || m.ReceiverID == r.principal
}

func (r *messageRepo) Create(ctx context.Context, m domain.Message) (domain.Message, error) {
	if err := r.b.check(ctx, "messages.create"); err != nil {
		return domain.Message{}, err
	}
	if m.SenderID != r.principal {
		return domain.Message{}, apperr.ErrUnauthorized
	}
	if m.ID == "" || m.IsLocal() {
		m.ID = uuid.NewString()
	}
	now := r.b.clock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if err := m.Validate(); err != nil {
		return domain.Message{}, apperr.Validation("memory.messages.Create", err.Error())
	}

	r.b.mu.Lock()
	if _, ok := r.b.messages[m.ID]; ok {
		r.b.mu.Unlock()
		return domain.Message{}, apperr.ErrConflict
	}
	r.b.messages[m.ID] = m
	ls := append([]*listener[domain.Message](nil), r.b.msgCreated...)
	r.b.mu.Unlock()

	deliver(ls, m, func(p string) bool { return p == m.SenderID || p == m.ReceiverID })
	return m, nil
}

func (r *messageRepo) Get(ctx context.Context, id string) (domain.Message, error) {
	if err := r.b.check(ctx, "messages.get"); err != nil {
		return domain.Message{}, err
	}
	m, ok := r.b.Message(id)
	if !ok {
		return domain.Message{}, apperr.ErrNotFound
	}
	if !r.visible(m) {
		return domain.Message{}, apperr.ErrUnauthorized
	}
	return m, nil
}

func (r *messageRepo) Update(ctx context.Context, id string, patch store.MessagePatch) (domain.Message, error) {
	if err := r.b.check(ctx, "messages.update"); err != nil {
		return domain.Message{}, err
	}
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	m, ok := r.b.messages[id]
	if !ok {
		return domain.Message{}, apperr.ErrNotFound
	}
	if !r.visible(m) {
		return domain.Message{}, apperr.ErrUnauthorized
	}
	if patch.IsRead != nil {
		m.IsRead = *patch.IsRead
	}
	if patch.Status != nil {
		m.Status = *patch.Status
	}
	m.UpdatedAt = patch.UpdatedAt
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = r.b.now()
	}
	r.b.messages[id] = m
	return m, nil
}

func (r *messageRepo) List(ctx context.Context, f store.MessageFilter, limit int, cursor string) (store.Page[domain.Message], error) {
	if err := r.b.check(ctx, "messages.list"); err != nil {
		return store.Page[domain.Message]{}, err
	}
	r.b.mu.RLock()
	var items []domain.Message
	for _, m := range r.b.messages {
		if r.visible(m) && f.Match(m) {
			items = append(items, m)
		}
	}
	r.b.mu.RUnlock()
	return page(items, func(m domain.Message) (time.Time, string) { return m.CreatedAt, m.ID }, limit, cursor)
}

func (r *messageRepo) SubscribeCreated(ctx context.Context, fn func(domain.Message)) (subscription.Unsubscriber, error) {
	if err := r.b.check(ctx, "messages.subscribe"); err != nil {
		return nil, err
	}
	return subscribe(r.b, &r.b.msgCreated, r.principal, fn, r.subs), nil
}

type conversationRepo struct {
	b         *Backend
	principal string
	subs      *subscription.Set
}

func (r *conversationRepo) Create(ctx context.Context, c domain.Conversation) (domain.Conversation, error) {
	if err := r.b.check(ctx, "conversations.create"); err != nil {
		return domain.Conversation{}, err
	}
	if c.UserID != r.principal {
		return domain.Conversation{}, apperr.ErrUnauthorized
	}
	now := r.b.clock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	if err := c.Validate(); err != nil {
		return domain.Conversation{}, apperr.Validation("memory.conversations.Create", err.Error())
	}

	r.b.mu.Lock()
	if _, ok := r.b.conversations[c.ID]; ok {
		r.b.mu.Unlock()
		return domain.Conversation{}, apperr.ErrConflict
	}
	r.b.conversations[c.ID] = c
	ls := append([]*listener[domain.Conversation](nil), r.b.convCreated...)
	r.b.mu.Unlock()

	deliver(ls, c, func(p string) bool { return p == c.UserID })
	return c, nil
}

func (r *conversationRepo) Get(ctx context.Context, id string) (domain.Conversation, error) {
	if err := r.b.check(ctx, "conversations.get"); err != nil {
		return domain.Conversation{}, err
	}
	c, ok := r.b.Conversation(id)
	if !ok {
		return domain.Conversation{}, apperr.ErrNotFound
	}
	if c.UserID != r.principal {
		return domain.Conversation{}, apperr.ErrUnauthorized
	}
	return c, nil
}

func (r *conversationRepo) Update(ctx context.Context, id string, patch store.ConversationPatch) (domain.Conversation, error) {
	if err := r.b.check(ctx, "conversations.update"); err != nil {
		return domain.Conversation{}, err
	}
	r.b.mu.Lock()
	c, ok := r.b.conversations[id]
	if !ok {
		r.b.mu.Unlock()
		return domain.Conversation{}, apperr.ErrNotFound
	}
	if c.UserID != r.principal {
		r.b.mu.Unlock()
		return domain.Conversation{}, apperr.ErrUnauthorized
	}
	applyConversationPatch(&c, patch)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = r.b.now()
	}
	r.b.conversations[id] = c
	ls := append([]*listener[domain.Conversation](nil), r.b.convUpdated...)
	r.b.mu.Unlock()

	deliver(ls, c, func(p string) bool { return p == c.UserID })
	return c, nil
}

func applyConversationPatch(c *domain.Conversation, p store.ConversationPatch) {
	if p.OtherUserName != nil {
		c.OtherUserName = *p.OtherUserName
	}
	if p.OtherUserAvatar != nil {
		c.OtherUserAvatar = *p.OtherUserAvatar
	}
	if p.LastMessageContent != nil {
		c.LastMessageContent = *p.LastMessageContent
	}
	if p.LastMessageAt != nil {
		c.LastMessageAt = *p.LastMessageAt
	}
	if p.UnreadCount != nil {
		c.UnreadCount = *p.UnreadCount
	}
	if !p.UpdatedAt.IsZero() {
		c.UpdatedAt = p.UpdatedAt
	}
}

func (r *conversationRepo) List(ctx context.Context, f store.ConversationFilter, limit int, cursor string) (store.Page[domain.Conversation], error) {
	if err := r.b.check(ctx, "conversations.list"); err != nil {
		return store.Page[domain.Conversation]{}, err
	}
	if f.UserID != "" && f.UserID != r.principal {
		return store.Page[domain.Conversation]{}, apperr.ErrUnauthorized
	}
	r.b.mu.RLock()
	var items []domain.Conversation
	for _, c := range r.b.conversations {
		if c.UserID == r.principal {
			items = append(items, c)
		}
	}
	r.b.mu.RUnlock()
	return page(items, func(c domain.Conversation) (time.Time, string) { return c.LastMessageAt, c.ID }, limit, cursor)
}

func (r *conversationRepo) SubscribeCreated(ctx context.Context, fn func(domain.Conversation)) (subscription.Unsubscriber, error) {
	if err := r.b.check(ctx, "conversations.subscribe"); err != nil {
		return nil, err
	}
	return subscribe(r.b, &r.b.convCreated, r.principal, fn, r.subs), nil
}

func (r *conversationRepo) SubscribeUpdated(ctx context.Context, fn func(domain.Conversation)) (subscription.Unsubscriber, error) {
	if err := r.b.check(ctx, "conversations.subscribe"); err != nil {
		return nil, err
	}
	return subscribe(r.b, &r.b.convUpdated, r.principal, fn, r.subs), nil
}

type profileRepo struct{ b *Backend }

func (r *profileRepo) Get(ctx context.Context, userID string) (domain.UserProfile, error) {
	if err := r.b.check(ctx, "profiles.get"); err != nil {
		return domain.UserProfile{}, err
	}
	r.b.mu.RLock()
	defer r.b.mu.RUnlock()
	p, ok := r.b.profiles[userID]
	if !ok {
		return domain.UserProfile{}, apperr.ErrNotFound
	}
	return p, nil
}

type contactRepo struct {
	b         *Backend
	principal string
}

func contactKey(userID, contactUserID string) string { return userID + "#" + contactUserID }

func (r *contactRepo) Get(ctx context.Context, userID, contactUserID string) (domain.Contact, error) {
	if err := r.b.check(ctx, "contacts.get"); err != nil {
		return domain.Contact{}, err
	}
	if userID != r.principal {
		return domain.Contact{}, apperr.ErrUnauthorized
	}
	r.b.mu.RLock()
	defer r.b.mu.RUnlock()
	c, ok := r.b.contacts[contactKey(userID, contactUserID)]
	if !ok {
		return domain.Contact{}, apperr.ErrNotFound
	}
	return c, nil
}

func (r *contactRepo) Create(ctx context.Context, c domain.Contact) (domain.Contact, error) {
	if err := r.b.check(ctx, "contacts.create"); err != nil {
		return domain.Contact{}, err
	}
	if c.UserID != r.principal {
		return domain.Contact{}, apperr.ErrUnauthorized
	}
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	key := contactKey(c.UserID, c.ContactUserID)
	if _, ok := r.b.contacts[key]; ok {
		return domain.Contact{}, apperr.ErrConflict
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.b.now()
	}
	r.b.contacts[key] = c
	return c, nil
}
