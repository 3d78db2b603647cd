package app

import (
	"context"
	"fmt"

	"github.com/dkeye/concort/internal/core"
	"github.com/dkeye/concort/internal/domain"
)

// Matches lists pid's matches newest first.
func (e *Engine) Matches(ctx context.Context, pid domain.ParticipantID) ([]core.MatchSummary, error) {
	out, err := e.store.ListMatches(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("list matches of %s: %w", pid, err)
	}
	return out, nil
}

// Match returns one match together with the partner, visible only to its
// members.
func (e *Engine) Match(ctx context.Context, id domain.MatchID, pid domain.ParticipantID) (domain.Match, domain.Participant, error) {
	m, err := e.store.GetMatch(ctx, id)
	if err != nil {
		return domain.Match{}, domain.Participant{}, err
	}
	if !m.Has(pid) {
		return domain.Match{}, domain.Participant{}, domain.ErrNotMember
	}
	partner, err := e.store.GetParticipant(ctx, m.PartnerOf(pid))
	if err != nil {
		return domain.Match{}, domain.Participant{}, fmt.Errorf("load partner: %w", err)
	}
	return m, partner, nil
}

// Profile returns target as viewer may see it: viewers see themselves and
// anyone they have ever been matched with.
func (e *Engine) Profile(ctx context.Context, viewer, target domain.ParticipantID) (domain.Participant, error) {
	p, err := e.store.GetParticipant(ctx, target)
	if err != nil {
		return domain.Participant{}, err
	}
	if viewer == target {
		return p, nil
	}
	sums, err := e.store.ListMatches(ctx, viewer)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("list matches of %s: %w", viewer, err)
	}
	for _, s := range sums {
		if s.Match.Has(target) {
			return p, nil
		}
	}
	return domain.Participant{}, domain.ErrNotMember
}
