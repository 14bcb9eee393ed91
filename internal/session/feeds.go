package session

import (
	"context"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/store"
	"github.com/fathima-sithara/chatsync/internal/subscription"
)

// feed establishes one live feed behind a guard. Deliveries are posted to the
// UI loop and the guard is checked when they run, so nothing reaches state
// after the guard is unsubscribed, even if it was already queued.
func (s *Session) feed(ctx context.Context, name string, subscribe func(ctx context.Context, deliver func(func())) (subscription.Unsubscriber, error)) (*subscription.Guard, error) {
	g := subscription.NewGuard(nil)
	deliver := func(fn func()) {
		s.postUI(func() { g.Deliver(fn) })
	}
	u, err := subscription.Open(ctx, name, s.cfg.Retry, func(ctx context.Context) (subscription.Unsubscriber, error) {
		return subscribe(ctx, deliver)
	}, s.log)
	if err != nil {
		s.metrics.SubscriptionFailed()
		return nil, err
	}
	g.Attach(u)
	return g, nil
}

func (s *Session) subscribeFeeds(ctx context.Context) error {
	type feedDef struct {
		name string
		fn   func(ctx context.Context, deliver func(func())) (subscription.Unsubscriber, error)
	}
	defs := []feedDef{
		{"messages.created", func(ctx context.Context, deliver func(func())) (subscription.Unsubscriber, error) {
			return s.msgs.SubscribeCreated(ctx, func(m domain.Message) {
				deliver(func() { s.onMessage(m) })
			})
		}},
		{"conversations.created", func(ctx context.Context, deliver func(func())) (subscription.Unsubscriber, error) {
			return s.store.Conversations.SubscribeCreated(ctx, func(c domain.Conversation) {
				deliver(func() { s.onConversation(c, true) })
			})
		}},
		{"conversations.updated", func(ctx context.Context, deliver func(func())) (subscription.Unsubscriber, error) {
			return s.store.Conversations.SubscribeUpdated(ctx, func(c domain.Conversation) {
				deliver(func() { s.onConversation(c, false) })
			})
		}},
	}
	for _, d := range defs {
		g, err := s.feed(ctx, d.name, d.fn)
		if err != nil {
			return err
		}
		s.feeds.Add(g)
	}
	s.log.Infow("live feeds established", "feeds", len(defs))
	return nil
}

// onMessage runs on the UI loop for every message visible to the owner.
// Viewing is decided here, from one snapshot, at processing time.
func (s *Session) onMessage(m domain.Message) {
	if m.SenderID == s.owner || m.ReceiverID != s.owner {
		s.metrics.LiveEvent("messages", "skipped")
		return
	}
	viewing := s.view.IsViewing(m)
	if viewing && s.open != nil && s.open.t.ConversationID() == m.ConversationID {
		oc := s.open
		if oc.t.ApplyLive(m) {
			s.publishTranscript(oc)
		}
		if oc.loaded {
			s.startReadBatch(oc)
		}
	}
	s.metrics.LiveEvent("messages", "applied")
	s.postLane(func() {
		s.ledger.ApplyIncoming(s.ctx, m, viewing)
	})
}

func (s *Session) onConversation(c domain.Conversation, created bool) {
	feed := "conversations.updated"
	if created {
		feed = "conversations.created"
	}
	if c.UserID != s.owner {
		s.metrics.LiveEvent(feed, "skipped")
		return
	}
	if s.view.IsViewingConversation(c.ID) {
		c.UnreadCount = 0
	}
	var changed bool
	if created {
		changed = s.list.ApplyCreated(c)
	} else {
		changed = s.list.ApplyUpdated(c)
	}
	if !changed {
		s.metrics.LiveEvent(feed, "duplicate")
		return
	}
	s.metrics.LiveEvent(feed, "applied")
	s.publishList()
}

// loadList fetches every summary row of the owner in the background. Rows
// that arrived on the live feeds while loading are newer than the snapshot
// and win over it.
func (s *Session) loadList() {
	s.goTrack(func() {
		var all []domain.Conversation
		cursor := ""
		var err error
		for {
			var p store.Page[domain.Conversation]
			p, err = s.store.Conversations.List(s.ctx, store.ConversationFilter{UserID: s.owner}, s.cfg.PageSize, cursor)
			if err != nil {
				break
			}
			all = append(all, p.Items...)
			if p.NextCursor == "" {
				break
			}
			cursor = p.NextCursor
		}
		s.postUI(func() {
			if err != nil {
				err = apperr.Classify("session.loadList", err)
				s.listStatus = ListStatus{Err: err}
				s.log.Errorw("conversation list load failed", "error", err)
				s.notifyErr(err)
				return
			}
			live := s.list.Items()
			s.list.Load(all)
			for _, c := range live {
				s.list.ApplyUpdated(c)
			}
			if id := s.view.Snapshot().SelectedConversationID; s.view.IsViewingConversation(id) {
				s.list.ResetUnread(id)
			}
			s.listStatus = ListStatus{Loaded: true}
			s.log.Infow("conversation list loaded", "rows", s.list.Len(), "unread", s.list.TotalUnread())
			s.publishList()
		})
	})
}

// Conversations returns the merged list, filtered by query when it is not blank.
func (s *Session) Conversations(ctx context.Context, query string) ([]domain.Conversation, int, ListStatus, error) {
	var (
		items  []domain.Conversation
		total  int
		status ListStatus
	)
	err := s.ui.Do(ctx, func() {
		items = s.list.Search(query)
		total = s.list.TotalUnread()
		status = s.listStatus
	})
	return items, total, status, err
}
