package app

import (
	"time"

	"github.com/dkeye/concort/internal/core"
	"github.com/dkeye/concort/internal/domain"
)

// PlanPairing pairs males[i] with females[i] for i < min(len) and re-ranks
// the leftovers 1..N. Both slices must already be in eligibility order.
// Ranks that are already correct are left out of the plan.
func PlanPairing(males, females []domain.Participant, now func() time.Time) core.PairingPlan {
	k := min(len(males), len(females))
	plan := core.PairingPlan{}
	for i := range k {
		plan.Matches = append(plan.Matches, domain.NewMatch(males[i].ID, females[i].ID, now()))
	}
	plan.Ranks = appendRanks(plan.Ranks, males[k:])
	plan.Ranks = appendRanks(plan.Ranks, females[k:])
	return plan
}

func appendRanks(dst []core.RankAssignment, rest []domain.Participant) []core.RankAssignment {
	for i, p := range rest {
		rank := i + 1
		if p.QueueRank != nil && *p.QueueRank == rank {
			continue
		}
		dst = append(dst, core.RankAssignment{ID: p.ID, Rank: rank})
	}
	return dst
}
