// Package transcript holds the visible message list of the open conversation
// and the optimistic send pipeline that writes into it. A Transcript is not
// safe for concurrent use; it belongs to the UI loop.
package transcript

import (
	"time"

	"github.com/fathima-sithara/chatsync/internal/domain"
)

type Transcript struct {
	owner          string
	peer           string
	conversationID string
	msgs           []domain.Message
	// absorbed holds sending placeholders whose stored record showed up in a
	// history page before the send returned, keyed by local id.
	absorbed map[string]domain.Message
}

// clockSkew bounds how far a stored createdAt may precede the local
// placeholder's and still be taken as the same send.
const clockSkew = time.Minute

func New(owner, peer string) *Transcript {
	return &Transcript{
		owner:          owner,
		peer:           peer,
		conversationID: domain.MessageConversationID(owner, peer),
		absorbed:       make(map[string]domain.Message),
	}
}

func (t *Transcript) Peer() string           { return t.peer }
func (t *Transcript) ConversationID() string { return t.conversationID }
func (t *Transcript) Len() int               { return len(t.msgs) }

func (t *Transcript) Messages() []domain.Message {
	return append([]domain.Message(nil), t.msgs...)
}

func (t *Transcript) indexOf(id string) int {
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Transcript) Get(id string) (domain.Message, bool) {
	if i := t.indexOf(id); i >= 0 {
		return t.msgs[i], true
	}
	return domain.Message{}, false
}

// BeginSend appends a sending placeholder under a fresh local id.
func (t *Transcript) BeginSend(content string, now time.Time) domain.Message {
	m := domain.Message{
		ID:             domain.NewLocalID(),
		SenderID:       t.owner,
		ReceiverID:     t.peer,
		ConversationID: t.conversationID,
		Content:        content,
		Status:         domain.StatusSending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	t.msgs = append(t.msgs, m)
	return m
}

// Confirm swaps the placeholder for the stored record at the same position.
// If the stored id is already present the placeholder is dropped instead.
func (t *Transcript) Confirm(tempID string, confirmed domain.Message) bool {
	if _, ok := t.absorbed[tempID]; ok {
		delete(t.absorbed, tempID)
		if t.indexOf(confirmed.ID) < 0 {
			t.msgs = append(t.msgs, confirmed)
		}
		return true
	}
	i := t.indexOf(tempID)
	if i < 0 {
		return false
	}
	if j := t.indexOf(confirmed.ID); j >= 0 && j != i {
		t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
		return true
	}
	t.msgs[i] = confirmed
	return true
}

// Fail flips a sending entry to failed in place.
func (t *Transcript) Fail(tempID string) bool {
	if p, ok := t.absorbed[tempID]; ok {
		// the history record it was matched with belongs to another send
		delete(t.absorbed, tempID)
		p.Status = domain.StatusFailed
		t.msgs = append(t.msgs, p)
		return true
	}
	i := t.indexOf(tempID)
	if i < 0 || t.msgs[i].Status != domain.StatusSending {
		return false
	}
	t.msgs[i].Status = domain.StatusFailed
	return true
}

// BeginRetry moves a failed entry back to sending and returns it.
func (t *Transcript) BeginRetry(id string) (domain.Message, bool) {
	i := t.indexOf(id)
	if i < 0 || t.msgs[i].Status != domain.StatusFailed {
		return domain.Message{}, false
	}
	t.msgs[i].Status = domain.StatusSending
	return t.msgs[i], true
}

// ApplyLive appends a message from the live feed. It drops messages for other
// conversations, the owner's own echoes and ids already present.
func (t *Transcript) ApplyLive(m domain.Message) bool {
	switch {
	case m.ConversationID != t.conversationID:
		return false
	case m.SenderID == t.owner:
		return false
	case t.indexOf(m.ID) >= 0:
		return false
	}
	t.msgs = append(t.msgs, m)
	return true
}

// Load merges the newest history page with whatever arrived live while it
// was loading. A sending placeholder whose stored record is already in the
// page is hidden until its send returns.
func (t *Transcript) Load(history []domain.Message) {
	merged := make([]domain.Message, 0, len(history)+len(t.msgs))
	seen := make(map[string]struct{}, len(history))
	for _, m := range history {
		if m.ConversationID != t.conversationID {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	domain.SortMessages(merged)
	claimed := make(map[string]struct{})
	for _, m := range t.msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		if m.Status == domain.StatusSending {
			if id, ok := t.matchStored(m, merged, claimed); ok {
				claimed[id] = struct{}{}
				t.absorbed[m.ID] = m
				continue
			}
		}
		merged = append(merged, m)
	}
	t.msgs = merged
}

// matchStored finds the stored record of an in-flight send: the owner's, with
// the same content, not older than the placeholder beyond clock skew.
func (t *Transcript) matchStored(p domain.Message, history []domain.Message, claimed map[string]struct{}) (string, bool) {
	for _, m := range history {
		if _, taken := claimed[m.ID]; taken {
			continue
		}
		if m.SenderID == t.owner && m.Content == p.Content && !m.CreatedAt.Before(p.CreatedAt.Add(-clockSkew)) {
			return m.ID, true
		}
	}
	return "", false
}

// Prepend adds an older page in front of the current entries.
func (t *Transcript) Prepend(older []domain.Message) int {
	var add []domain.Message
	for _, m := range older {
		if m.ConversationID != t.conversationID || t.indexOf(m.ID) >= 0 {
			continue
		}
		add = append(add, m)
	}
	domain.SortMessages(add)
	t.msgs = append(add, t.msgs...)
	return len(add)
}
