package devserver

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Candidate is one waiting entry in the matching pool.
type Candidate struct {
	ConnID      string
	RequestID   string
	DisplayName string
	Latitude    float64
	Longitude   float64
	RadiusKm    int
	DurationMin int
}

// PoolEvents receives pairing outcomes.
type PoolEvents interface {
	Matched(chatID string, a, b Candidate)
	TimedOut(c Candidate)
}

// Pool is the in-memory waiting set. Two candidates pair when their
// distance fits within both search radii; the earliest compatible
// waiter wins. This is a development stand-in for the production
// matcher, good enough to exercise the wire contract end to end.
type Pool struct {
	events PoolEvents

	// scale converts durationMin into a real wait; shortened in tests
	// and local experiments.
	scale time.Duration

	mu      sync.Mutex
	waiting map[string]*poolEntry
}

type poolEntry struct {
	Candidate
	timer *time.Timer
}

// NewPool creates a pool reporting to events. timeoutScale is the real
// duration of one "minute" of search time.
func NewPool(events PoolEvents, timeoutScale time.Duration) *Pool {
	return &Pool{
		events:  events,
		scale:   timeoutScale,
		waiting: make(map[string]*poolEntry),
	}
}

// Join registers a candidate, pairing immediately when a compatible
// waiter exists. A repeated join from the same connection replaces the
// previous candidature.
func (p *Pool) Join(c Candidate) {
	p.mu.Lock()
	if prev, ok := p.waiting[c.ConnID]; ok {
		prev.timer.Stop()
		delete(p.waiting, c.ConnID)
	}

	for id, other := range p.waiting {
		if id == c.ConnID {
			continue
		}
		d := haversineKm(c.Latitude, c.Longitude, other.Latitude, other.Longitude)
		if d <= float64(c.RadiusKm) && d <= float64(other.RadiusKm) {
			other.timer.Stop()
			delete(p.waiting, id)
			peer := other.Candidate
			p.mu.Unlock()

			p.events.Matched(uuid.NewString(), c, peer)
			return
		}
	}

	entry := &poolEntry{Candidate: c}
	entry.timer = time.AfterFunc(time.Duration(c.DurationMin)*p.scale, func() {
		p.expire(c.ConnID, c.RequestID)
	})
	p.waiting[c.ConnID] = entry
	p.mu.Unlock()
}

// Leave evicts a connection's candidature, e.g. on disconnect.
func (p *Pool) Leave(connID string) {
	p.mu.Lock()
	if e, ok := p.waiting[connID]; ok {
		e.timer.Stop()
		delete(p.waiting, connID)
	}
	p.mu.Unlock()
}

// Waiting returns the number of candidates currently in the pool.
func (p *Pool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiting)
}

func (p *Pool) expire(connID, requestID string) {
	p.mu.Lock()
	e, ok := p.waiting[connID]
	if !ok || e.RequestID != requestID {
		p.mu.Unlock()
		return
	}
	delete(p.waiting, connID)
	c := e.Candidate
	p.mu.Unlock()

	p.events.TimedOut(c)
}
