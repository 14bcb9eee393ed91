package contacts

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/store"
	"github.com/fathima-sithara/chatsync/internal/utils"
)

// Service answers the non-contact badge and adds peers as contacts.
type Service struct {
	contacts store.Contacts
	profiles store.Profiles
	log      *zap.SugaredLogger
}

func NewService(contacts store.Contacts, profiles store.Profiles, log *zap.SugaredLogger) *Service {
	return &Service{contacts: contacts, profiles: profiles, log: utils.OrNop(log)}
}

func (s *Service) IsContact(ctx context.Context, userID, peerID string) (bool, error) {
	_, err := s.contacts.Get(ctx, userID, peerID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperr.ErrNotFound):
		return false, nil
	}
	return false, apperr.Classify("contacts.IsContact", err)
}

// Add records peerID as a contact of userID, copying the peer's current profile.
func (s *Service) Add(ctx context.Context, userID, peerID string) (domain.Contact, error) {
	const op = "contacts.Add"
	if peerID == "" {
		return domain.Contact{}, apperr.Validation(op, "contact user is required")
	}
	if userID == peerID {
		return domain.Contact{}, apperr.Validation(op, "you cannot add yourself as a contact")
	}
	exists, err := s.IsContact(ctx, userID, peerID)
	if err != nil {
		return domain.Contact{}, err
	}
	if exists {
		return domain.Contact{}, apperr.Business(op, "this user is already your contact", apperr.ErrConflict)
	}

	c := domain.Contact{UserID: userID, ContactUserID: peerID, CreatedAt: time.Now().UTC()}
	if p, err := s.profiles.Get(ctx, peerID); err == nil {
		c.ContactUsername = p.Username
		c.ContactAvatarURL = p.AvatarURL
	} else if !errors.Is(err, apperr.ErrNotFound) {
		s.log.Debugw("contact profile lookup failed", "peer", peerID, "error", err)
	}

	created, err := s.contacts.Create(ctx, c)
	if errors.Is(err, apperr.ErrConflict) {
		return domain.Contact{}, apperr.Business(op, "this user is already your contact", err)
	}
	if err != nil {
		return domain.Contact{}, apperr.Classify(op, err)
	}
	return created, nil
}
