package app

import (
	"sync"
	"time"
)

// Stamper hands out strictly increasing UTC instants, so two writes in the
// same clock tick still order deterministically.
type Stamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewStamper(now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}
	return &Stamper{now: now}
}

func (s *Stamper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}
