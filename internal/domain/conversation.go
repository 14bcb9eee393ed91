package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Conversation is one owner's summary of the exchange with a peer. Every pair
// has two of them, A_B owned by A and B_A owned by B.
type Conversation struct {
	ID                 string    `bson:"_id" json:"id"`
	UserID             string    `bson:"user_id" json:"userId"`
	OtherUserID        string    `bson:"other_user_id" json:"otherUserId"`
	OtherUserName      string    `bson:"other_user_name" json:"otherUserName"`
	OtherUserAvatar    string    `bson:"other_user_avatar,omitempty" json:"otherUserAvatar,omitempty"`
	LastMessageContent string    `bson:"last_message_content" json:"lastMessageContent"`
	LastMessageAt      time.Time `bson:"last_message_at" json:"lastMessageAt"`
	UnreadCount        int       `bson:"unread_count" json:"unreadCount"`
	CreatedAt          time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt          time.Time `bson:"updated_at" json:"updatedAt"`
}

func (c Conversation) Validate() error {
	switch {
	case c.UserID == "" || c.OtherUserID == "":
		return fmt.Errorf("conversation %q: missing owner or peer", c.ID)
	case c.ID != UserConversationID(c.UserID, c.OtherUserID):
		return fmt.Errorf("conversation %q: id does not match %s/%s", c.ID, c.UserID, c.OtherUserID)
	case c.UnreadCount < 0:
		return fmt.Errorf("conversation %q: negative unread count %d", c.ID, c.UnreadCount)
	case c.LastMessageAt.IsZero():
		return fmt.Errorf("conversation %q: missing last_message_at", c.ID)
	}
	return nil
}

// SortConversations orders newest activity first. Ties keep their relative order.
func SortConversations(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})
}

// Matches reports whether query appears in the peer name or the last message.
func (c Conversation) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.OtherUserName), q) ||
		strings.Contains(strings.ToLower(c.LastMessageContent), q)
}

type UserProfile struct {
	UserID    string    `bson:"_id" json:"userId"`
	Username  string    `bson:"username" json:"username"`
	AvatarURL string    `bson:"avatar_url,omitempty" json:"avatarUrl,omitempty"`
	Email     string    `bson:"email" json:"email"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

type Contact struct {
	UserID           string    `bson:"user_id" json:"userId"`
	ContactUserID    string    `bson:"contact_user_id" json:"contactUserId"`
	ContactUsername  string    `bson:"contact_username,omitempty" json:"contactUsername,omitempty"`
	ContactAvatarURL string    `bson:"contact_avatar_url,omitempty" json:"contactAvatarUrl,omitempty"`
	CreatedAt        time.Time `bson:"created_at" json:"createdAt"`
}
