package core

import (
	"time"

	"github.com/dkeye/concort/internal/domain"
)

type EventType string

const (
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
	EventRead    EventType = "read"
	EventError   EventType = "error"
	EventMatched EventType = "matched"
)

// InboundEvent is what a client sends over its channel.
type InboundEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Kind maps wire names, including the long aliases, to an EventType.
func (e InboundEvent) Kind() EventType {
	switch e.Type {
	case "message", "send-message":
		return EventMessage
	case "typing":
		return EventTyping
	case "read", "mark-read":
		return EventRead
	}
	return ""
}

// Event is an outbound, tagged record.
type Event interface {
	Kind() EventType
}

type MessageEvent struct {
	Type       EventType            `json:"type"`
	ID         domain.MessageID     `json:"id"`
	MatchID    domain.MatchID       `json:"match_id"`
	SenderID   domain.ParticipantID `json:"sender_id"`
	Content    string               `json:"content"`
	SentAt     time.Time            `json:"sent_at"`
	IsRead     bool                 `json:"is_read"`
	IsSentByMe bool                 `json:"is_sent_by_me"`
}

func NewMessageEvent(m domain.Message, sentByMe bool) MessageEvent {
	return MessageEvent{
		Type:       EventMessage,
		ID:         m.ID,
		MatchID:    m.MatchID,
		SenderID:   m.SenderID,
		Content:    m.Content,
		SentAt:     m.SentAt,
		IsRead:     m.IsRead,
		IsSentByMe: sentByMe,
	}
}

func (MessageEvent) Kind() EventType { return EventMessage }

type TypingEvent struct {
	Type   EventType            `json:"type"`
	UserID domain.ParticipantID `json:"user_id"`
}

func NewTypingEvent(pid domain.ParticipantID) TypingEvent {
	return TypingEvent{Type: EventTyping, UserID: pid}
}

func (TypingEvent) Kind() EventType { return EventTyping }

type ReadEvent struct {
	Type     EventType            `json:"type"`
	ByUserID domain.ParticipantID `json:"by_user_id"`
}

func NewReadEvent(pid domain.ParticipantID) ReadEvent {
	return ReadEvent{Type: EventRead, ByUserID: pid}
}

func (ReadEvent) Kind() EventType { return EventRead }

type ErrorEvent struct {
	Type  EventType `json:"type"`
	Error string    `json:"error"`
}

func NewErrorEvent(msg string) ErrorEvent {
	return ErrorEvent{Type: EventError, Error: msg}
}

func (ErrorEvent) Kind() EventType { return EventError }

// MatchedEvent tells a connected participant a pass paired them.
type MatchedEvent struct {
	Type      EventType            `json:"type"`
	MatchID   domain.MatchID       `json:"match_id"`
	PartnerID domain.ParticipantID `json:"partner_id"`
}

func NewMatchedEvent(m domain.Match, to domain.ParticipantID) MatchedEvent {
	return MatchedEvent{Type: EventMatched, MatchID: m.ID, PartnerID: m.PartnerOf(to)}
}

func (MatchedEvent) Kind() EventType { return EventMatched }
