package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fathima-sithara/chatsync/internal/apperr"
)

type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

func (s MessageStatus) Valid() bool {
	switch s {
	case StatusSending, StatusSent, StatusFailed:
		return true
	}
	return false
}

const (
	MaxContentLength = 5000
	PreviewLength    = 100
	MaxPageSize      = 50

	// LocalIDPrefix marks ids allocated by the client before the store confirms a send.
	LocalIDPrefix = "local-"
)

type Message struct {
	ID             string        `bson:"_id" json:"id"`
	SenderID       string        `bson:"sender_id" json:"senderId"`
	ReceiverID     string        `bson:"receiver_id" json:"receiverId"`
	ConversationID string        `bson:"conversation_id" json:"conversationId"`
	Content        string        `bson:"content" json:"content"`
	Status         MessageStatus `bson:"status" json:"status"`
	IsRead         bool          `bson:"is_read" json:"isRead"`
	CreatedAt      time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time     `bson:"updated_at" json:"updatedAt"`
}

// PeerOf returns the participant that is not userID.
func (m Message) PeerOf(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

func (m Message) IsLocal() bool { return IsLocalID(m.ID) }

// Validate rejects records that cannot be merged safely.
func (m Message) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("message: missing id")
	case m.SenderID == "" || m.ReceiverID == "":
		return fmt.Errorf("message %s: missing participant", m.ID)
	case m.ConversationID != MessageConversationID(m.SenderID, m.ReceiverID):
		return fmt.Errorf("message %s: conversation id %q does not match participants", m.ID, m.ConversationID)
	case !m.Status.Valid():
		return fmt.Errorf("message %s: unknown status %q", m.ID, m.Status)
	case m.CreatedAt.IsZero():
		return fmt.Errorf("message %s: missing created_at", m.ID)
	}
	return nil
}

// ValidateContent enforces the compose rules: non-blank, at most 5000 characters.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.Validation("domain.ValidateContent", "message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return apperr.Validation("domain.ValidateContent", fmt.Sprintf("message content cannot exceed %d characters", MaxContentLength))
	}
	return nil
}

// Preview truncates content for the conversation summary.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	r := []rune(content)
	return string(r[:PreviewLength])
}

// SortMessages orders ascending by creation time, keeping store order for ties.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// CalculateUnread counts unread messages addressed to owner.
func CalculateUnread(msgs []Message, owner string) int {
	n := 0
	for _, m := range msgs {
		if !m.IsRead && m.ReceiverID == owner {
			n++
		}
	}
	return n
}

// ShouldShowTimestamp is true for the first message and after a gap of five minutes or more.
func ShouldShowTimestamp(cur time.Time, prev *time.Time) bool {
	if prev == nil {
		return true
	}
	return cur.Sub(*prev) >= 5*time.Minute
}
