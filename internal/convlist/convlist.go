// Package convlist merges the initial conversation snapshot with live create
// and update events into one de-duplicated list, newest activity first.
// A List belongs to the UI loop and is not safe for concurrent use.
package convlist

import (
	"github.com/fathima-sithara/chatsync/internal/domain"
)

type List struct {
	owner  string
	items  []domain.Conversation
	unread int
}

func New(owner string) *List {
	return &List{owner: owner}
}

// Load replaces the list with rows owned by the owner, keeping the last copy of a repeated id.
func (l *List) Load(initial []domain.Conversation) {
	l.items = l.items[:0]
	for _, c := range initial {
		if c.UserID != l.owner {
			continue
		}
		if i := l.indexOf(c.ID); i >= 0 {
			l.items[i] = clamp(c)
			continue
		}
		l.items = append(l.items, clamp(c))
	}
	l.settle()
}

// ApplyCreated inserts c unless its id is already present.
func (l *List) ApplyCreated(c domain.Conversation) bool {
	if c.UserID != l.owner || l.indexOf(c.ID) >= 0 {
		return false
	}
	l.items = append(l.items, clamp(c))
	l.settle()
	return true
}

// ApplyUpdated replaces the row with c, inserting it if the create was missed.
func (l *List) ApplyUpdated(c domain.Conversation) bool {
	if c.UserID != l.owner {
		return false
	}
	if i := l.indexOf(c.ID); i >= 0 {
		l.items[i] = clamp(c)
	} else {
		l.items = append(l.items, clamp(c))
	}
	l.settle()
	return true
}

// ResetUnread clears the row's unread count locally ahead of the store write.
func (l *List) ResetUnread(id string) bool {
	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	l.items[i].UnreadCount = 0
	l.settle()
	return true
}

func (l *List) Get(id string) (domain.Conversation, bool) {
	if i := l.indexOf(id); i >= 0 {
		return l.items[i], true
	}
	return domain.Conversation{}, false
}

func (l *List) Items() []domain.Conversation {
	return append([]domain.Conversation(nil), l.items...)
}

func (l *List) Len() int { return len(l.items) }

func (l *List) TotalUnread() int { return l.unread }

// Search filters on the peer name and the last message, case-insensitively.
func (l *List) Search(query string) []domain.Conversation {
	var out []domain.Conversation
	for _, c := range l.items {
		if c.Matches(query) {
			out = append(out, c)
		}
	}
	return out
}

func (l *List) indexOf(id string) int {
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

// settle re-sorts the whole list and recomputes the unread total after every mutation.
func (l *List) settle() {
	domain.SortConversations(l.items)
	n := 0
	for _, c := range l.items {
		n += c.UnreadCount
	}
	l.unread = n
}

func clamp(c domain.Conversation) domain.Conversation {
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	return c
}
