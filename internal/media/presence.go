package media

import "sync"

// ParticipantCounter counts call participants. The local participant is always counted,
// so the count never drops below 1.
type ParticipantCounter struct {
	mu    sync.Mutex
	count int
}

// NewParticipantCounter returns a counter holding only the local participant.
func NewParticipantCounter() *ParticipantCounter {
	return &ParticipantCounter{count: 1}
}

// Apply records one presence change and returns the new count.
func (p *ParticipantCounter) Apply(present bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if present {
		p.count++
	} else if p.count > 1 {
		p.count--
	}
	return p.count
}

// Count returns the current count.
func (p *ParticipantCounter) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Reset drops every remote participant.
func (p *ParticipantCounter) Reset() {
	p.mu.Lock()
	p.count = 1
	p.mu.Unlock()
}
