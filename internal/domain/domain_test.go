package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGender(t *testing.T) {
	assert.True(t, GenderMale.Valid())
	assert.True(t, GenderFemale.Valid())
	assert.False(t, Gender("OTHER").Valid())
	assert.Equal(t, GenderFemale, GenderMale.Opposite())
	assert.Equal(t, GenderMale, GenderFemale.Opposite())
}

func TestNewParticipantIsPending(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewParticipant(now)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, StatusPending, p.Status)
	assert.Nil(t, p.QueueRank)
	assert.Equal(t, now, p.RegisteredAt)
	assert.ErrorIs(t, p.CanEnqueue(), ErrProfileIncomplete)
}

func TestCanEnqueue(t *testing.T) {
	p := &Participant{Name: "Ann", Gender: GenderFemale}
	for status, want := range map[ParticipantStatus]error{
		StatusPending:  nil,
		StatusInactive: nil,
		StatusWaiting:  ErrInvalidState,
		StatusMatched:  ErrInvalidState,
	} {
		p.Status = status
		if want == nil {
			assert.NoError(t, p.CanEnqueue(), status)
		} else {
			assert.ErrorIs(t, p.CanEnqueue(), want, status)
		}
	}
}

func TestProfileValidate(t *testing.T) {
	ok := Profile{Name: "Bob", Gender: GenderMale, Age: 30, City: "Oslo"}
	require.NoError(t, ok.Validate())

	cases := map[string]Profile{
		"short name": {Name: "B", Gender: GenderMale},
		"long name":  {Name: strings.Repeat("x", MaxNameLen+1), Gender: GenderMale},
		"gender":     {Name: "Bob", Gender: "X"},
		"too young":  {Name: "Bob", Gender: GenderMale, Age: MinAge - 1},
		"too old":    {Name: "Bob", Gender: GenderMale, Age: MaxAge + 1},
		"long city":  {Name: "Bob", Gender: GenderMale, City: strings.Repeat("c", MaxNameLen+1)},
	}
	for name, pr := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, pr.Validate(), ErrInvalidProfile)
		})
	}
}

func TestSetProfileGenderFixedAfterQueue(t *testing.T) {
	p := NewParticipant(time.Now())
	require.NoError(t, p.SetProfile(Profile{Name: "  Kim ", Gender: GenderMale}))
	assert.Equal(t, "Kim", p.Name)
	require.NoError(t, p.SetProfile(Profile{Name: "Kim", Gender: GenderFemale}))
	assert.Equal(t, GenderFemale, p.Gender)

	p.Status = StatusInactive
	assert.ErrorIs(t, p.SetProfile(Profile{Name: "Kim", Gender: GenderMale}), ErrInvalidState)
	require.NoError(t, p.SetProfile(Profile{Name: "Kimberly", Gender: GenderFemale}))
	assert.Equal(t, "Kimberly", p.Name)
}

func TestNormalizeContent(t *testing.T) {
	got, err := NormalizeContent("  hello \n")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	_, err = NormalizeContent(" \t ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = NormalizeContent(strings.Repeat("é", MaxMessageRunes))
	assert.NoError(t, err)
	_, err = NormalizeContent(strings.Repeat("é", MaxMessageRunes+1))
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestMatchMembership(t *testing.T) {
	m := NewMatch("m", "f", time.Now())
	assert.Equal(t, MatchActive, m.Status)
	assert.True(t, m.Has("m"))
	assert.True(t, m.Has("f"))
	assert.False(t, m.Has("x"))
	assert.Equal(t, ParticipantID("f"), m.PartnerOf("m"))
	assert.Equal(t, ParticipantID("m"), m.PartnerOf("f"))
	assert.Empty(t, m.PartnerOf("x"))
	assert.False(t, MatchActive.Terminal())
	assert.True(t, MatchCancelled.Terminal())
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, 4001, RejectInvalidIdentity.CloseCode())
	assert.Equal(t, 4003, RejectNotMember.CloseCode())
	assert.Equal(t, 4004, RejectUnknownMatch.CloseCode())
	assert.True(t, RejectInvalidIdentity.Retryable())
	assert.False(t, RejectNotMember.Retryable())

	err := &RejectError{Reason: RejectNotMember, Err: ErrNotMember}
	assert.ErrorIs(t, err, ErrNotMember)
	var rej *RejectError
	require.True(t, errors.As(error(err), &rej))
	assert.Equal(t, RejectNotMember, rej.Reason)
}
