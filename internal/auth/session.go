// Package auth holds the signed-in principal and derives it from bearer tokens.
package auth

import (
	"sync"

	"github.com/fathima-sithara/chatsync/internal/apperr"
)

type Principal struct {
	ID              string `json:"id"`
	DisplayNameHint string `json:"displayNameHint,omitempty"`
	// IdentityID namespaces the principal's blob paths.
	IdentityID string `json:"identityId"`
}

// Session is the current sign-in state. The zero value is signed out.
type Session struct {
	mu        sync.RWMutex
	principal *Principal
}

func NewSession(p Principal) *Session {
	s := &Session{}
	s.SignIn(p)
	return s
}

func (s *Session) SignIn(p Principal) {
	if p.IdentityID == "" {
		p.IdentityID = p.ID
	}
	s.mu.Lock()
	s.principal = &p
	s.mu.Unlock()
}

func (s *Session) SignOut() {
	s.mu.Lock()
	s.principal = nil
	s.mu.Unlock()
}

func (s *Session) CurrentUser() (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return Principal{}, apperr.Authorization("auth.CurrentUser", apperr.ErrNoSession)
	}
	return *s.principal, nil
}

func (s *Session) IdentityID() (string, error) {
	p, err := s.CurrentUser()
	if err != nil {
		return "", apperr.Authorization("auth.IdentityID", apperr.ErrNoSession)
	}
	return p.IdentityID, nil
}
