package session

import (
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/viewing"
)

type UpdateKind string

const (
	UpdateConversations UpdateKind = "conversations"
	UpdateTranscript    UpdateKind = "transcript"
	UpdateView          UpdateKind = "view"
	UpdateNotice        UpdateKind = "notice"
)

// Update is pushed to observers after every visible state change.
type Update struct {
	Kind          UpdateKind            `json:"kind"`
	Conversations []domain.Conversation `json:"conversations,omitempty"`
	TotalUnread   int                   `json:"totalUnread"`
	Messages      []TranscriptEntry     `json:"messages,omitempty"`
	View          *viewing.State        `json:"view,omitempty"`
	Notice        *Notice               `json:"notice,omitempty"`
}

// Observe registers fn for every Update. fn runs on the UI loop and must not
// block. The returned func removes the observer.
func (s *Session) Observe(fn func(Update)) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Session) publish(u Update) {
	s.obsMu.Lock()
	fns := make([]func(Update), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}

// on the UI loop
func (s *Session) publishList() {
	s.metrics.ListChanged(s.list.Len(), s.list.TotalUnread())
	s.publish(Update{Kind: UpdateConversations, Conversations: s.list.Items(), TotalUnread: s.list.TotalUnread()})
}

func (s *Session) publishTranscript(oc *openConversation) {
	if s.open != oc {
		return
	}
	s.publish(Update{Kind: UpdateTranscript, Messages: entries(oc.t.Messages())})
}

func (s *Session) publishView(st viewing.State) {
	s.publish(Update{Kind: UpdateView, View: &st})
}
