package conference

import (
	"sync"
	"sync/atomic"
)

// Endpoint is a conference participant. It owns channels across media types
// and optionally a messaging transport used for out-of-band notifications
// such as dominant-speaker changes.
//
// The conference's endpoint table holds a non-owning reference: the session
// layer that created an Endpoint releases it with Release when the
// participant leaves, and the table prunes released entries lazily on the
// next enumeration.
type Endpoint struct {
	id EndpointID

	mu        sync.RWMutex
	channels  map[MediaType][]*Channel
	transport MessageTransport

	released atomic.Bool
}

func newEndpoint(id EndpointID) *Endpoint {
	return &Endpoint{
		id:       id,
		channels: make(map[MediaType][]*Channel),
	}
}

// ID returns the endpoint's identifier.
func (e *Endpoint) ID() EndpointID {
	return e.id
}

// Channels returns a snapshot of the endpoint's channels for the given media
// type. The returned slice is a copy; mutating it does not affect the
// endpoint.
func (e *Endpoint) Channels(mediaType MediaType) []*Channel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	chans := e.channels[mediaType]
	out := make([]*Channel, len(chans))
	copy(out, chans)
	return out
}

func (e *Endpoint) addChannel(ch *Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mt := ch.MediaType()
	e.channels[mt] = append(e.channels[mt], ch)
}

func (e *Endpoint) removeChannel(ch *Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mt := ch.MediaType()
	chans := e.channels[mt]
	for i, c := range chans {
		if c == ch {
			e.channels[mt] = append(chans[:i:i], chans[i+1:]...)
			return
		}
	}
}

// SetMessageTransport binds the endpoint's messaging transport. Pass nil to
// unbind.
func (e *Endpoint) SetMessageTransport(t MessageTransport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport = t
}

// MessageTransport returns the endpoint's messaging transport, or nil if
// none is bound.
func (e *Endpoint) MessageTransport() MessageTransport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.transport
}

// Release marks the endpoint as departed. The conference's endpoint table
// does not remove the entry immediately; the next enumeration prunes it and
// signals a membership change. Release is one-shot and returns whether this
// call was the one that released the endpoint.
func (e *Endpoint) Release() bool {
	return e.released.CompareAndSwap(false, true)
}

// Released reports whether Release has been called.
func (e *Endpoint) Released() bool {
	return e.released.Load()
}
