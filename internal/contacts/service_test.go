package contacts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
	"github.com/fathima-sithara/chatsync/internal/store/memory"
)

func svc(b *memory.Backend, principal string) *Service {
	s := b.Session(principal)
	return NewService(s.Contacts, s.Profiles, nil)
}

func TestAddAndIsContact(t *testing.T) {
	b := memory.NewBackend()
	b.PutProfile(domain.UserProfile{UserID: "u2", Username: "bob", AvatarURL: "profile-pictures/b/me.png"})
	s := svc(b, "u1")
	ctx := context.Background()

	ok, err := s.IsContact(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := s.Add(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "bob", c.ContactUsername)
	assert.Equal(t, "profile-pictures/b/me.png", c.ContactAvatarURL)

	ok, err = s.IsContact(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, ok)

	// relation is one-directional
	ok, err = svc(b, "u2").IsContact(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddRules(t *testing.T) {
	b := memory.NewBackend()
	s := svc(b, "u1")
	ctx := context.Background()

	_, err := s.Add(ctx, "u1", "u1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = s.Add(ctx, "u1", "u2")
	require.NoError(t, err)
	_, err = s.Add(ctx, "u1", "u2")
	assert.True(t, apperr.Is(err, apperr.KindBusiness))

	_, err = svc(b, "u3").Add(ctx, "u1", "u4")
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func TestIsContactSystemFailure(t *testing.T) {
	b := memory.NewBackend()
	b.SetFault(func(string) error { return errors.New("dial tcp: refused") })
	_, err := svc(b, "u1").IsContact(context.Background(), "u1", "u2")
	assert.True(t, apperr.Is(err, apperr.KindSystem))
}
