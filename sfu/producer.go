package sfu

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Producer is a logical handle on the server for a single sender's
// audio stream (spec.md glossary). The producerId → userId binding
// lives right here for the lifetime of the producer, resolving the
// attribution gap spec.md §9 calls out: a PRODUCER_CLOSED triggered by
// a cascading producerclose on a consumer can still be attributed to
// its owning user because the consumer holds a pointer to this struct,
// not just the bare producer id.
type Producer struct {
	id        string
	userID    string
	track     *webrtc.TrackRemote
	transport *Transport

	mu        sync.Mutex
	closed    bool
	listeners []func()
}

// onClosed registers a callback fired when the producer closes, used by
// consumers to react to the cascading producerclose event.
func (p *Producer) onClosed(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		fn()
		return
	}
	p.listeners = append(p.listeners, fn)
}

func (p *Producer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	listeners := p.listeners
	p.listeners = nil
	p.mu.Unlock()

	p.transport.close()
	for _, fn := range listeners {
		fn()
	}
}
