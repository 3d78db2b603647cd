package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/concort/internal/core"
	"github.com/dkeye/concort/internal/domain"
	"github.com/rs/zerolog/log"
)

// QueueStats is a read-only snapshot of both partitions.
type QueueStats struct {
	MalesWaiting   int       `json:"males_waiting"`
	FemalesWaiting int       `json:"females_waiting"`
	AsOf           time.Time `json:"last_updated"`
}

// MatchNotifier is told about every match a pass commits.
type MatchNotifier interface {
	NotifyMatched(ctx context.Context, m domain.Match)
}

// Engine pairs waiting participants by arrival order. Every pass, and every
// enqueue that triggers one, runs under a single pairing lock.
type Engine struct {
	store    core.Store
	clock    *Stamper
	notifier MatchNotifier
	debounce time.Duration

	mu   sync.Mutex
	kick chan struct{}
}

type EngineOption func(*Engine)

// WithDebounce batches passes: enqueue only schedules a pass that Run
// executes once arrivals have been quiet for d.
func WithDebounce(d time.Duration) EngineOption {
	return func(e *Engine) { e.debounce = d }
}

func WithNotifier(n MatchNotifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

func NewEngine(store core.Store, clock *Stamper, opts ...EngineOption) *Engine {
	if clock == nil {
		clock = NewStamper(nil)
	}
	e := &Engine{store: store, clock: clock, kick: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue puts pid into its gender partition and runs a pass. The returned
// rank is read after the pass and is nil when pid was paired straight away.
func (e *Engine) Enqueue(ctx context.Context, pid domain.ParticipantID) (*int, error) {
	matches, rank, err := e.enqueue(ctx, pid)
	e.notify(ctx, matches)
	return rank, err
}

func (e *Engine) enqueue(ctx context.Context, pid domain.ParticipantID) ([]domain.Match, *int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.store.GetParticipant(ctx, pid)
	if err != nil {
		return nil, nil, fmt.Errorf("enqueue %s: %w", pid, err)
	}
	if err := p.CanEnqueue(); err != nil {
		return nil, nil, fmt.Errorf("enqueue %s (%s): %w", pid, p.Status, err)
	}
	at := e.clock.Next()
	if !at.After(p.EligibleAt) {
		at = p.EligibleAt.Add(time.Nanosecond)
	}
	rank, err := e.store.MarkWaiting(ctx, pid, p.Status, at)
	if err != nil {
		return nil, nil, fmt.Errorf("enqueue %s: %w", pid, err)
	}
	log.Info().Str("module", "app.matching").Str("participant", string(pid)).Str("gender", string(p.Gender)).
		Int("rank", rank).Msg("participant waiting")

	if e.debounce > 0 {
		e.schedule()
		return nil, &rank, nil
	}
	matches, err := e.processLocked(ctx)
	if err != nil {
		return nil, nil, err
	}
	current, err := e.store.RankOf(ctx, pid)
	if err != nil {
		return matches, nil, fmt.Errorf("rank of %s: %w", pid, err)
	}
	return matches, current, nil
}

// ProcessQueue runs one pairing pass and returns the matches it created.
// A failed commit leaves the store exactly as it was.
func (e *Engine) ProcessQueue(ctx context.Context) ([]domain.Match, error) {
	e.mu.Lock()
	matches, err := e.processLocked(ctx)
	e.mu.Unlock()
	e.notify(ctx, matches)
	return matches, err
}

func (e *Engine) processLocked(ctx context.Context) ([]domain.Match, error) {
	var males, females int
	plan, err := e.store.RunPass(ctx, func(m, f []domain.Participant) core.PairingPlan {
		males, females = len(m), len(f)
		return PlanPairing(m, f, e.clock.Next)
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.matching").Msg("pairing pass rolled back")
		return nil, fmt.Errorf("commit pairing pass: %w", err)
	}
	if plan.Empty() {
		return nil, nil
	}
	for _, m := range plan.Matches {
		log.Info().Str("module", "app.matching").Str("match", string(m.ID)).
			Str("male", string(m.MaleID)).Str("female", string(m.FemaleID)).Msg("match created")
	}
	log.Debug().Str("module", "app.matching").Int("matches", len(plan.Matches)).Int("reranked", len(plan.Ranks)).
		Int("males_left", males-len(plan.Matches)).Int("females_left", females-len(plan.Matches)).Msg("pass committed")
	return plan.Matches, nil
}

func (e *Engine) notify(ctx context.Context, matches []domain.Match) {
	if e.notifier == nil {
		return
	}
	for _, m := range matches {
		e.notifier.NotifyMatched(ctx, m)
	}
}

func (e *Engine) QueueStats(ctx context.Context) (QueueStats, error) {
	males, females, err := e.store.CountWaiting(ctx)
	if err != nil {
		return QueueStats{}, fmt.Errorf("count waiting: %w", err)
	}
	return QueueStats{MalesWaiting: males, FemalesWaiting: females, AsOf: time.Now().UTC()}, nil
}

func (e *Engine) RankOf(ctx context.Context, pid domain.ParticipantID) (*int, error) {
	return e.store.RankOf(ctx, pid)
}

// EndMatch lets a member close an active match. Both members become
// inactive and may enqueue again.
func (e *Engine) EndMatch(ctx context.Context, id domain.MatchID, by domain.ParticipantID, status domain.MatchStatus) (domain.Match, error) {
	if status != domain.MatchCompleted && status != domain.MatchCancelled {
		return domain.Match{}, fmt.Errorf("end match with %s: %w", status, domain.ErrInvalidState)
	}
	m, err := e.store.GetMatch(ctx, id)
	if err != nil {
		return domain.Match{}, err
	}
	if !m.Has(by) {
		return domain.Match{}, domain.ErrNotMember
	}
	at := e.clock.Next()
	if err := e.store.EndMatch(ctx, id, status, at); err != nil {
		return domain.Match{}, fmt.Errorf("end match %s: %w", id, err)
	}
	m.Status = status
	m.CompletedAt = &at
	log.Info().Str("module", "app.matching").Str("match", string(id)).Str("status", string(status)).Msg("match ended")
	return m, nil
}

func (e *Engine) schedule() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drives debounced passes until ctx ends. Without a debounce every
// enqueue already processes the queue and Run returns immediately.
func (e *Engine) Run(ctx context.Context) {
	if e.debounce <= 0 {
		return
	}
	timer := time.NewTimer(e.debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.kick:
			timer.Reset(e.debounce)
		case <-timer.C:
			if _, err := e.ProcessQueue(ctx); err != nil {
				log.Error().Err(err).Str("module", "app.matching").Msg("debounced pass failed")
			}
		}
	}
}
