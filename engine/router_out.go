package engine

import (
	"bytes"
	"sync"
	"time"

	"loopseq/logx"
)

// Sender is one open output endpoint (a real MIDI out port in production,
// a recording stub in tests).
type Sender interface {
	Send(Message) error
}

const outputRingSize = 50

type sentRecord struct {
	msg Message
	at  time.Time
}

// OutputRouter multiplexes outgoing messages to every registered endpoint
// and keeps a bounded ring buffer of recently sent messages, which the
// Input Router consults for feedback suppression.
type OutputRouter struct {
	mu        sync.Mutex
	endpoints map[string]Sender
	ring      []sentRecord
}

// NewOutputRouter builds an OutputRouter with no endpoints attached.
func NewOutputRouter() *OutputRouter {
	return &OutputRouter{endpoints: make(map[string]Sender)}
}

// AddEndpoint registers an open output endpoint under name.
func (r *OutputRouter) AddEndpoint(name string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[name] = s
}

// RemoveEndpoint forgets the named endpoint. The endpoint itself is not
// closed.
func (r *OutputRouter) RemoveEndpoint(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, name)
}

// Send writes msg to every registered endpoint and records it for
// feedback suppression. Endpoint errors are logged, never propagated:
// nothing in the realtime path raises.
func (r *OutputRouter) Send(msg Message) {
	r.mu.Lock()
	for name, s := range r.endpoints {
		if err := s.Send(msg); err != nil {
			logx.Warnf(logx.Output, "endpoint %s: %v", name, err)
		}
	}
	r.ring = append(r.ring, sentRecord{msg: msg, at: time.Now()})
	if len(r.ring) > outputRingSize {
		r.ring = r.ring[len(r.ring)-outputRingSize:]
	}
	r.mu.Unlock()
}

// WasRecentlySent reports whether an identical message was sent within
// window, walking the ring buffer newest-first.
func (r *OutputRouter) WasRecentlySent(msg Message, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-window)
	for i := len(r.ring) - 1; i >= 0; i-- {
		rec := r.ring[i]
		if rec.at.Before(cutoff) {
			break
		}
		if messagesEqual(rec.msg, msg) {
			return true
		}
	}
	return false
}

func messagesEqual(a, b Message) bool {
	return a.Kind == b.Kind && a.Channel == b.Channel && a.Note == b.Note &&
		a.Velocity == b.Velocity && bytes.Equal(a.Raw, b.Raw)
}
