package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxMessageRunes = 2000

type MessageID string

func NewMessageID() MessageID { return MessageID(uuid.NewString()) }

// Message is append-only; only IsRead ever changes.
type Message struct {
	ID       MessageID     `json:"id"`
	MatchID  MatchID       `json:"match_id"`
	SenderID ParticipantID `json:"sender_id"`
	Content  string        `json:"content"`
	IsRead   bool          `json:"is_read"`
	SentAt   time.Time     `json:"sent_at"`
}

// NormalizeContent trims content and enforces the length bounds.
func NormalizeContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxMessageRunes {
		return "", ErrMessageTooLong
	}
	return content, nil
}
