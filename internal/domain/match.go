package domain

import (
	"time"

	"github.com/google/uuid"
)

type MatchID string

func NewMatchID() MatchID { return MatchID(uuid.NewString()) }

type MatchStatus string

const (
	MatchActive    MatchStatus = "ACTIVE"
	MatchCompleted MatchStatus = "COMPLETED"
	MatchExpired   MatchStatus = "EXPIRED"
	MatchCancelled MatchStatus = "CANCELLED"
)

// Terminal reports whether s ends a match.
func (s MatchStatus) Terminal() bool {
	return s == MatchCompleted || s == MatchExpired || s == MatchCancelled
}

// Match pairs one male and one female participant. The pair never changes
// after creation; only Status and CompletedAt move.
type Match struct {
	ID          MatchID       `json:"id"`
	MaleID      ParticipantID `json:"male_user_id"`
	FemaleID    ParticipantID `json:"female_user_id"`
	Status      MatchStatus   `json:"status"`
	MatchedAt   time.Time     `json:"matched_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

func NewMatch(male, female ParticipantID, at time.Time) Match {
	return Match{
		ID:        NewMatchID(),
		MaleID:    male,
		FemaleID:  female,
		Status:    MatchActive,
		MatchedAt: at,
	}
}

func (m *Match) Has(pid ParticipantID) bool {
	return m.MaleID == pid || m.FemaleID == pid
}

// PartnerOf returns the other member, or "" if pid is not a member.
func (m *Match) PartnerOf(pid ParticipantID) ParticipantID {
	switch pid {
	case m.MaleID:
		return m.FemaleID
	case m.FemaleID:
		return m.MaleID
	}
	return ""
}
