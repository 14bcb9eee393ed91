package session

import (
	"context"
	"time"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/events"
	"github.com/fathima-sithara/chatsync/internal/subscription"
	"github.com/fathima-sithara/chatsync/internal/transcript"
	"github.com/fathima-sithara/chatsync/internal/viewing"
)

// openConversation is the state of the detail view. It is replaced, never
// reused, when the owner switches peers.
type openConversation struct {
	gen      uint64
	peer     string
	peerName string
	t        *transcript.Transcript
	pipe     *transcript.Pipeline
	guard    *subscription.Guard

	loaded     bool
	cursor     string
	nonContact bool
	reading    bool
	rerun      bool
}

// TranscriptEntry is one message as the shell renders it.
type TranscriptEntry struct {
	domain.Message
	// ShowTimestamp starts a new time group above this entry.
	ShowTimestamp bool `json:"showTimestamp"`
}

func entries(msgs []domain.Message) []TranscriptEntry {
	out := make([]TranscriptEntry, len(msgs))
	var prev *time.Time
	for i := range msgs {
		out[i] = TranscriptEntry{Message: msgs[i], ShowTimestamp: domain.ShouldShowTimestamp(msgs[i].CreatedAt, prev)}
		prev = &msgs[i].CreatedAt
	}
	return out
}

// TranscriptView is a copy of the open conversation for the shell.
type TranscriptView struct {
	Peer           string            `json:"peer"`
	PeerName       string            `json:"peerName,omitempty"`
	ConversationID string            `json:"conversationId"`
	Messages       []TranscriptEntry `json:"messages"`
	Loaded         bool             `json:"loaded"`
	HasMore        bool             `json:"hasMore"`
	NonContact     bool             `json:"nonContact"`
}

// OpenConversation makes peer the open conversation. The previous
// conversation's feed is torn down before anything else happens, and results
// of its in-flight loads are discarded when they arrive.
func (s *Session) OpenConversation(ctx context.Context, peer, peerName string) (viewing.State, error) {
	const op = "session.OpenConversation"
	if peer == "" {
		return viewing.State{}, apperr.Validation(op, "peer is required")
	}
	if peer == s.owner {
		return viewing.State{}, apperr.Validation(op, "cannot open a conversation with yourself")
	}
	var st viewing.State
	if err := s.ui.Do(ctx, func() { st = s.openOnLoop(peer, peerName) }); err != nil {
		return viewing.State{}, apperr.Classify(op, err)
	}
	return st, nil
}

func (s *Session) openOnLoop(peer, peerName string) viewing.State {
	if s.open != nil {
		s.open.guard.Unsubscribe()
		s.open = nil
	}
	s.gen++
	st := s.view.Open(peer)

	if peerName == "" {
		if c, ok := s.list.Get(st.SelectedConversationID); ok {
			peerName = c.OtherUserName
		}
	}
	oc := &openConversation{
		gen:      s.gen,
		peer:     peer,
		peerName: peerName,
		t:        transcript.New(s.owner, peer),
		guard:    subscription.NewGuard(nil),
	}
	oc.pipe = transcript.NewPipeline(oc.t, s.msgs, poster{s}, transcript.Hooks{
		OnConfirmed: func(tempID string, m domain.Message) { s.onConfirmed(oc, tempID, m) },
		OnFailed:    func(tempID string, err error) { s.onFailed(oc, tempID, err) },
	}, s.log)
	s.open = oc

	if s.list.ResetUnread(st.SelectedConversationID) {
		s.publishList()
	}
	s.subscribeTranscript(oc)
	s.loadHistory(oc)
	s.checkContact(oc)

	s.log.Debugw("conversation opened", "peer", peer, "gen", oc.gen)
	s.publishView(st)
	return st
}

// subscribeTranscript opens the per-conversation feed. Only messages from the
// peer in this conversation reach the transcript; the owner's own sends are
// already there optimistically.
func (s *Session) subscribeTranscript(oc *openConversation) {
	s.goTrack(func() {
		g, err := s.feed(s.ctx, "transcript."+oc.t.ConversationID(), func(ctx context.Context, deliver func(func())) (subscription.Unsubscriber, error) {
			return s.msgs.SubscribeCreated(ctx, func(m domain.Message) {
				deliver(func() {
					if oc.guard.Closed() {
						return
					}
					if oc.t.ApplyLive(m) {
						s.publishTranscript(oc)
					}
				})
			})
		})
		if err != nil {
			s.postUI(func() {
				if s.open == oc {
					s.notifyErr(err)
				}
			})
			return
		}
		oc.guard.Attach(g)
	})
}

func (s *Session) loadHistory(oc *openConversation) {
	s.goTrack(func() {
		msgs, next, err := s.msgs.List(s.ctx, oc.t.ConversationID(), s.cfg.PageSize, "")
		s.postUI(func() {
			if s.open != oc {
				s.log.Debugw("discarding history of a closed view", "gen", oc.gen)
				return
			}
			if err != nil {
				s.log.Warnw("history load failed", "conversation_id", oc.t.ConversationID(), "error", err)
				s.notifyErr(err)
				if apperr.Is(err, apperr.KindAuthorization) {
					s.closeLater(oc)
				}
				return
			}
			oc.t.Load(msgs)
			oc.cursor = next
			oc.loaded = true
			s.publishTranscript(oc)
			s.startReadBatch(oc)
		})
	})
}

// closeLater closes the view after the notice has been on screen for a while,
// unless the owner already moved on.
func (s *Session) closeLater(oc *openConversation) {
	s.busy.Add(1)
	time.AfterFunc(s.cfg.AuthFailureDelay, func() {
		defer s.busy.Add(-1)
		s.postUI(func() {
			if s.open == oc {
				s.closeOnLoop()
			}
		})
	})
}

func (s *Session) checkContact(oc *openConversation) {
	s.goTrack(func() {
		ok, err := s.people.IsContact(s.ctx, s.owner, oc.peer)
		if err != nil {
			s.log.Debugw("contact lookup failed", "peer", oc.peer, "error", err)
			return
		}
		s.postUI(func() {
			if s.open == oc {
				oc.nonContact = !ok
			}
		})
	})
}

// startReadBatch marks the open conversation read in the background. One
// batch per view runs at a time; a request arriving meanwhile runs once the
// current batch is done.
func (s *Session) startReadBatch(oc *openConversation) {
	if oc.reading {
		oc.rerun = true
		return
	}
	oc.reading = true
	s.busy.Add(1)
	task := s.reads.Start(s.ctx, s.owner, oc.peer)
	go func() {
		defer s.busy.Add(-1)
		<-task.Done()
		s.postUI(func() {
			oc.reading = false
			if oc.rerun && s.open == oc {
				oc.rerun = false
				s.startReadBatch(oc)
			}
		})
	}()
}

func (s *Session) onConfirmed(oc *openConversation, tempID string, m domain.Message) {
	s.busy.Add(-1)
	s.publishTranscript(oc)
	s.postLane(func() {
		s.ledger.ApplyOutgoing(s.ctx, m, oc.peerName)
	})
}

func (s *Session) onFailed(oc *openConversation, tempID string, err error) {
	s.busy.Add(-1)
	s.publishTranscript(oc)
	s.notifyErr(err)
	s.goTrack(func() {
		ev := events.Event{
			Type:           events.MessageFailed,
			OwnerID:        s.owner,
			ConversationID: oc.t.ConversationID(),
			MessageID:      tempID,
			At:             time.Now().UTC(),
			Payload:        map[string]string{"kind": string(apperr.KindOf(err))},
		}
		if perr := s.pub.Publish(s.ctx, ev); perr != nil {
			s.log.Debugw("publish message.failed failed", "temp_id", tempID, "error", perr)
		}
	})
}

// CloseConversation returns to the welcome surface.
func (s *Session) CloseConversation(ctx context.Context) (viewing.State, error) {
	var st viewing.State
	err := s.ui.Do(ctx, func() { st = s.closeOnLoop() })
	return st, err
}

func (s *Session) closeOnLoop() viewing.State {
	if s.open != nil {
		s.open.guard.Unsubscribe()
		s.open = nil
	}
	s.gen++
	st := s.view.Close()
	s.publishView(st)
	return st
}

// ShowPanel switches surfaces without dropping the selected conversation.
func (s *Session) ShowPanel(ctx context.Context, p viewing.Panel) (viewing.State, error) {
	switch p {
	case viewing.PanelWelcome, viewing.PanelConversation, viewing.PanelContacts, viewing.PanelProfile:
	default:
		return viewing.State{}, apperr.Validation("session.ShowPanel", "unknown panel "+string(p))
	}
	var st viewing.State
	err := s.ui.Do(ctx, func() {
		st = s.view.ShowPanel(p)
		s.publishView(st)
	})
	return st, err
}

// Send appends an optimistic entry to the open transcript and sends it.
func (s *Session) Send(ctx context.Context, content string) (domain.Message, error) {
	return s.withPipeline(ctx, "session.Send", func(p *transcript.Pipeline) (domain.Message, error) {
		return p.Submit(s.ctx, content)
	})
}

// Retry re-sends a failed entry of the open transcript.
func (s *Session) Retry(ctx context.Context, id string) (domain.Message, error) {
	return s.withPipeline(ctx, "session.Retry", func(p *transcript.Pipeline) (domain.Message, error) {
		return p.Retry(s.ctx, id)
	})
}

func (s *Session) withPipeline(ctx context.Context, op string, fn func(*transcript.Pipeline) (domain.Message, error)) (domain.Message, error) {
	var (
		m   domain.Message
		err error
	)
	derr := s.ui.Do(ctx, func() {
		if s.open == nil {
			err = apperr.Business(op, "no conversation is open", nil)
			return
		}
		s.busy.Add(1)
		m, err = fn(s.open.pipe)
		if err != nil {
			s.busy.Add(-1)
			return
		}
		s.publishTranscript(s.open)
	})
	if derr != nil {
		return domain.Message{}, apperr.Classify(op, derr)
	}
	return m, err
}

// LoadOlder prepends the next older page and reports how many entries were added.
func (s *Session) LoadOlder(ctx context.Context) (int, error) {
	const op = "session.LoadOlder"
	var (
		oc     *openConversation
		cursor string
	)
	if err := s.ui.Do(ctx, func() {
		oc = s.open
		if oc != nil {
			cursor = oc.cursor
		}
	}); err != nil {
		return 0, apperr.Classify(op, err)
	}
	if oc == nil {
		return 0, apperr.Business(op, "no conversation is open", nil)
	}
	if cursor == "" {
		return 0, nil
	}
	older, next, err := s.msgs.List(ctx, oc.t.ConversationID(), s.cfg.PageSize, cursor)
	if err != nil {
		return 0, err
	}
	added := 0
	if err := s.ui.Do(ctx, func() {
		if s.open != oc {
			return
		}
		added = oc.t.Prepend(older)
		oc.cursor = next
		s.publishTranscript(oc)
	}); err != nil {
		return 0, apperr.Classify(op, err)
	}
	return added, nil
}

// Transcript returns a copy of the open conversation, or false when none is open.
func (s *Session) Transcript(ctx context.Context) (TranscriptView, bool, error) {
	var (
		v  TranscriptView
		ok bool
	)
	err := s.ui.Do(ctx, func() {
		oc := s.open
		if oc == nil {
			return
		}
		ok = true
		v = TranscriptView{
			Peer:           oc.peer,
			PeerName:       oc.peerName,
			ConversationID: oc.t.ConversationID(),
			Messages:       entries(oc.t.Messages()),
			Loaded:         oc.loaded,
			HasMore:        oc.cursor != "",
			NonContact:     oc.nonContact,
		}
	})
	return v, ok, err
}

// IsContact reports whether peer is in the owner's contacts.
func (s *Session) IsContact(ctx context.Context, peer string) (bool, error) {
	return s.people.IsContact(ctx, s.owner, peer)
}

// AddContact adds peer to the owner's contacts and clears the non-contact
// badge when peer is the open conversation.
func (s *Session) AddContact(ctx context.Context, peer string) (domain.Contact, error) {
	c, err := s.people.Add(ctx, s.owner, peer)
	if err != nil {
		return domain.Contact{}, err
	}
	s.postUI(func() {
		if s.open != nil && s.open.peer == peer {
			s.open.nonContact = false
		}
	})
	return c, nil
}
