package domain

import (
	"strings"

	"github.com/google/uuid"
)

// MessageConversationID is the shared key of the message stream between a and b.
// It does not depend on who sends.
func MessageConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// UserConversationID is the owner-first key of owner's summary row.
func UserConversationID(owner, peer string) string {
	return owner + "_" + peer
}

func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// PlaceholderName is shown when the peer's profile cannot be resolved.
func PlaceholderName(userID string) string {
	if len(userID) > 8 {
		userID = userID[:8]
	}
	return "User_" + userID
}
