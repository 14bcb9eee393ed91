// Package viewing answers whether the owner is looking at a given
// conversation right now. The selected conversation and the active panel are
// published together as one immutable snapshot, so a reader never sees the
// id of one view paired with the panel of another.
package viewing

import (
	"sync/atomic"

	"github.com/fathima-sithara/chatsync/internal/domain"
)

type Panel string

const (
	PanelWelcome      Panel = "welcome"
	PanelConversation Panel = "conversation"
	PanelContacts     Panel = "contacts"
	PanelProfile      Panel = "profile"
)

type State struct {
	SelectedConversationID string `json:"selectedConversationId,omitempty"`
	PeerID                 string `json:"peerId,omitempty"`
	Panel                  Panel  `json:"panel"`
}

type Reconciler struct {
	owner string
	state atomic.Pointer[State]
}

func NewReconciler(owner string) *Reconciler {
	r := &Reconciler{owner: owner}
	r.state.Store(&State{Panel: PanelWelcome})
	return r
}

func (r *Reconciler) Owner() string { return r.owner }

// Open makes the detail view for peer the active surface.
func (r *Reconciler) Open(peer string) State {
	s := &State{
		SelectedConversationID: domain.UserConversationID(r.owner, peer),
		PeerID:                 peer,
		Panel:                  PanelConversation,
	}
	r.state.Store(s)
	return *s
}

// ShowPanel switches to a non-conversation surface. The selection is kept so
// returning to the conversation panel does not lose it.
func (r *Reconciler) ShowPanel(p Panel) State {
	cur := r.state.Load()
	next := &State{SelectedConversationID: cur.SelectedConversationID, PeerID: cur.PeerID, Panel: p}
	if p == PanelConversation && cur.PeerID == "" {
		next.Panel = PanelWelcome
	}
	r.state.Store(next)
	return *next
}

func (r *Reconciler) Close() State {
	s := &State{Panel: PanelWelcome}
	r.state.Store(s)
	return *s
}

func (r *Reconciler) Snapshot() State { return *r.state.Load() }

// IsViewing reports whether msg arrives into the conversation the owner has
// open. It requires the conversation panel, the sender as the open peer and
// the owner as the receiver.
func (r *Reconciler) IsViewing(msg domain.Message) bool {
	s := r.state.Load()
	return s.Panel == PanelConversation &&
		msg.ReceiverID == r.owner &&
		s.PeerID == msg.SenderID &&
		s.SelectedConversationID == domain.UserConversationID(r.owner, msg.SenderID)
}

// IsViewingConversation reports whether the owner's row id is on screen.
func (r *Reconciler) IsViewingConversation(id string) bool {
	s := r.state.Load()
	return s.Panel == PanelConversation && s.SelectedConversationID == id
}
