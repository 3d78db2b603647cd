package core

import (
	"context"
	"time"

	"github.com/dkeye/concort/internal/domain"
)

// ParticipantStore persists participant records.
type ParticipantStore interface {
	CreateParticipant(ctx context.Context, p domain.Participant) error
	GetParticipant(ctx context.Context, id domain.ParticipantID) (domain.Participant, error)
	SaveProfile(ctx context.Context, p domain.Participant) error
}

// RankAssignment sets the queue rank of a still-waiting participant.
type RankAssignment struct {
	ID   domain.ParticipantID
	Rank int
}

// PairingPlan is the full result of one queue pass. The store commits it
// as a unit or not at all.
type PairingPlan struct {
	Matches []domain.Match
	Ranks   []RankAssignment
}

func (p PairingPlan) Empty() bool { return len(p.Matches) == 0 && len(p.Ranks) == 0 }

// PlanFunc builds a pass from both partitions in eligibility order.
type PlanFunc func(males, females []domain.Participant) PairingPlan

// QueueStore is the gender-partitioned waiting pool.
type QueueStore interface {
	// MarkWaiting moves id from status `from` to WAITING with rank
	// max(rank)+1 of its gender partition. ErrConflict if the status moved.
	MarkWaiting(ctx context.Context, id domain.ParticipantID, from domain.ParticipantStatus, at time.Time) (int, error)
	// RunPass loads both partitions, plans and commits under one write
	// lock and returns the committed plan.
	RunPass(ctx context.Context, plan PlanFunc) (PairingPlan, error)
	CountWaiting(ctx context.Context) (male, female int, err error)
	RankOf(ctx context.Context, id domain.ParticipantID) (*int, error)
}

// MatchSummary is a match seen from one participant.
type MatchSummary struct {
	Match       domain.Match
	Partner     domain.Participant
	UnreadCount int
	LastMessage *domain.Message
}

type MatchStore interface {
	GetMatch(ctx context.Context, id domain.MatchID) (domain.Match, error)
	ListMatches(ctx context.Context, pid domain.ParticipantID) ([]MatchSummary, error)
	// EndMatch moves an ACTIVE match to status and both members to INACTIVE.
	EndMatch(ctx context.Context, id domain.MatchID, status domain.MatchStatus, at time.Time) error
}

type MessageStore interface {
	AppendMessage(ctx context.Context, m domain.Message) error
	// MarkMessagesRead flags every unread message in the match not sent by reader.
	MarkMessagesRead(ctx context.Context, matchID domain.MatchID, reader domain.ParticipantID) (int64, error)
	// ListMessages returns messages ascending by sent time.
	ListMessages(ctx context.Context, matchID domain.MatchID, offset, limit int) ([]domain.Message, error)
}

// Store is the durable source of truth.
type Store interface {
	ParticipantStore
	QueueStore
	MatchStore
	MessageStore
}

// IdentityResolver turns an opaque credential into a participant identity.
// It fails with domain.ErrUnauthenticated.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (domain.ParticipantID, error)
}
