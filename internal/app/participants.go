package app

import (
	"context"
	"fmt"

	"github.com/dkeye/concort/internal/domain"
	"github.com/rs/zerolog/log"
)

// Register creates a participant in the not-eligible state.
func (e *Engine) Register(ctx context.Context) (domain.Participant, error) {
	p := domain.NewParticipant(e.clock.Next())
	if err := e.store.CreateParticipant(ctx, *p); err != nil {
		return domain.Participant{}, fmt.Errorf("create participant: %w", err)
	}
	log.Info().Str("module", "app.matching").Str("participant", string(p.ID)).Msg("participant registered")
	return *p, nil
}

// UpdateProfile runs under the pairing lock so a gender change can never
// race a pass that reads the partitions.
func (e *Engine) UpdateProfile(ctx context.Context, pid domain.ParticipantID, pr domain.Profile) (domain.Participant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.store.GetParticipant(ctx, pid)
	if err != nil {
		return domain.Participant{}, err
	}
	if err := p.SetProfile(pr); err != nil {
		return domain.Participant{}, err
	}
	p.LastActiveAt = e.clock.Next()
	if err := e.store.SaveProfile(ctx, p); err != nil {
		return domain.Participant{}, fmt.Errorf("save profile: %w", err)
	}
	return p, nil
}

func (e *Engine) Participant(ctx context.Context, pid domain.ParticipantID) (domain.Participant, error) {
	return e.store.GetParticipant(ctx, pid)
}
