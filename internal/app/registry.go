package app

import (
	"sync"

	"github.com/dkeye/concort/internal/core"
	"github.com/dkeye/concort/internal/domain"
	"github.com/rs/zerolog/log"
)

type userEntry struct {
	MatchID domain.MatchID
	Channel core.Channel
}

// Peer is one live channel on a match.
type Peer struct {
	Participant domain.ParticipantID
	Channel     core.Channel
}

// Registry maps matches and participants to their live channels.
// It never closes adapter-owned resources and never performs I/O.
type Registry struct {
	mu      sync.RWMutex
	matches map[domain.MatchID]map[core.Channel]domain.ParticipantID
	users   map[domain.ParticipantID]userEntry
}

func NewRegistry() *Registry {
	return &Registry{
		matches: make(map[domain.MatchID]map[core.Channel]domain.ParticipantID),
		users:   make(map[domain.ParticipantID]userEntry),
	}
}

// Register binds ch to (matchID, pid). A previous channel of the same
// participant is dropped from the registry and returned so the transport
// can close it.
func (r *Registry) Register(ch core.Channel, matchID domain.MatchID, pid domain.ParticipantID) core.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	var superseded core.Channel
	if prev, ok := r.users[pid]; ok && prev.Channel != ch {
		r.dropLocked(prev.Channel, prev.MatchID)
		superseded = prev.Channel
	}
	set, ok := r.matches[matchID]
	if !ok {
		set = make(map[core.Channel]domain.ParticipantID)
		r.matches[matchID] = set
	}
	set[ch] = pid
	r.users[pid] = userEntry{MatchID: matchID, Channel: ch}

	log.Info().Str("module", "app.registry").Str("match", string(matchID)).Str("participant", string(pid)).
		Bool("superseded", superseded != nil).Msg("registered channel")
	return superseded
}

// Unregister removes ch. Safe to call any number of times; the participant
// index is only cleared while it still points at ch.
func (r *Registry) Unregister(ch core.Channel, matchID domain.MatchID, pid domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.dropLocked(ch, matchID)
	if e, ok := r.users[pid]; ok && e.Channel == ch {
		delete(r.users, pid)
		removed = true
	}
	if removed {
		log.Info().Str("module", "app.registry").Str("match", string(matchID)).Str("participant", string(pid)).Msg("unregistered channel")
	}
	return removed
}

func (r *Registry) dropLocked(ch core.Channel, matchID domain.MatchID) bool {
	set, ok := r.matches[matchID]
	if !ok {
		return false
	}
	if _, ok := set[ch]; !ok {
		return false
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(r.matches, matchID)
	}
	return true
}

func (r *Registry) ChannelsFor(matchID domain.MatchID) []core.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.matches[matchID]
	out := make([]core.Channel, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	return out
}

// PeersOf is ChannelsFor with the owning participant of each channel.
func (r *Registry) PeersOf(matchID domain.MatchID) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.matches[matchID]
	out := make([]Peer, 0, len(set))
	for ch, pid := range set {
		out = append(out, Peer{Participant: pid, Channel: ch})
	}
	return out
}

func (r *Registry) ChannelFor(pid domain.ParticipantID) (core.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[pid]
	if !ok {
		return nil, false
	}
	return e.Channel, true
}

// Len reports the number of matches with at least one channel and the
// number of connected participants.
func (r *Registry) Len() (matches, participants int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches), len(r.users)
}
