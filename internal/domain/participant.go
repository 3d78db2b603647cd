// Package domain holds the matching and chat entities.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxNameLen = 100
	MinAge     = 18
	MaxAge     = 100
)

type ParticipantID string

func NewParticipantID() ParticipantID { return ParticipantID(uuid.NewString()) }

type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

func (g Gender) Valid() bool { return g == GenderMale || g == GenderFemale }

// Opposite returns the other partition.
func (g Gender) Opposite() Gender {
	if g == GenderMale {
		return GenderFemale
	}
	return GenderMale
}

type ParticipantStatus string

const (
	// StatusPending is the not-eligible state: registered, not yet queued.
	StatusPending  ParticipantStatus = "PENDING_VERIFICATION"
	StatusWaiting  ParticipantStatus = "WAITING"
	StatusMatched  ParticipantStatus = "MATCHED"
	StatusInactive ParticipantStatus = "INACTIVE"
)

type Participant struct {
	ID           ParticipantID     `json:"id"`
	Name         string            `json:"name,omitempty"`
	Gender       Gender            `json:"gender,omitempty"`
	Age          int               `json:"age,omitempty"`
	City         string            `json:"city,omitempty"`
	Status       ParticipantStatus `json:"status"`
	QueueRank    *int              `json:"queue_rank"`
	EligibleAt   time.Time         `json:"eligible_at,omitzero"`
	RegisteredAt time.Time         `json:"registered_at"`
	LastActiveAt time.Time         `json:"last_active_at"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(now time.Time) *Participant {
	return &Participant{
		ID:           NewParticipantID(),
		Status:       StatusPending,
		RegisteredAt: now,
		LastActiveAt: now,
	}
}

func (p *Participant) ProfileComplete() bool {
	return p.Name != "" && p.Gender.Valid()
}

// CanEnqueue reports whether p may enter the waiting pool.
func (p *Participant) CanEnqueue() error {
	switch p.Status {
	case StatusPending, StatusInactive:
	default:
		return ErrInvalidState
	}
	if !p.ProfileComplete() {
		return ErrProfileIncomplete
	}
	return nil
}

// Profile is the editable part of a participant.
type Profile struct {
	Name   string `json:"name"`
	Gender Gender `json:"gender"`
	Age    int    `json:"age,omitempty"`
	City   string `json:"city,omitempty"`
}

func (p Profile) Validate() error {
	name := strings.TrimSpace(p.Name)
	if len(name) < 2 || len(name) > MaxNameLen {
		return ErrInvalidProfile
	}
	if !p.Gender.Valid() {
		return ErrInvalidProfile
	}
	if p.Age != 0 && (p.Age < MinAge || p.Age > MaxAge) {
		return ErrInvalidProfile
	}
	if len(p.City) > MaxNameLen {
		return ErrInvalidProfile
	}
	return nil
}

// SetProfile applies a validated profile. Gender is fixed once the
// participant has entered the queue.
func (p *Participant) SetProfile(pr Profile) error {
	if err := pr.Validate(); err != nil {
		return err
	}
	if p.Status != StatusPending && p.Gender.Valid() && p.Gender != pr.Gender {
		return ErrInvalidState
	}
	p.Name = strings.TrimSpace(pr.Name)
	p.Gender = pr.Gender
	p.Age = pr.Age
	p.City = strings.TrimSpace(pr.City)
	return nil
}
