package app

import (
	"github.com/dkeye/concort/internal/core"
	"github.com/dkeye/concort/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	KickMember
)

// Policy decides what happens to a channel whose delivery failed.
type Policy interface {
	OnBackPressure(matchID domain.MatchID, ch core.Channel) BackpressureAction
}

// SimplePolicy kicks any channel that could not keep up.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.MatchID, core.Channel) BackpressureAction {
	return KickMember
}

// LenientPolicy drops the event and keeps the channel.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(domain.MatchID, core.Channel) BackpressureAction {
	return DropEvent
}

// PolicyByName resolves the configured policy; unknown names fall back to SimplePolicy.
func PolicyByName(name string) Policy {
	if name == "drop" {
		return LenientPolicy{}
	}
	return SimplePolicy{}
}
