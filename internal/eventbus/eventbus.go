// Package eventbus implements the in-process publish/subscribe bus:
// subscribers register a bounded channel, publishers broadcast events,
// delivery is at-least-once and fire-and-forget.
package eventbus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// PeerStatus is the PeerUpdate(Status) event payload variant.
type PeerStatus uint8

const (
	PeerStatusConnected PeerStatus = iota
	PeerStatusDisconnected
	// PeerStatusDegraded marks a peer whose outbound inbox overflowed;
	// items are being dropped until it drains.
	PeerStatusDegraded
)

// Event is the sum type of everything the bus carries:
// PeerUpdate(Status | Address), ServiceInfoUpdate(list), Intercom(Send |
// Receive | Thread). Kind discriminates which fields are meaningful,
// mirroring the Header tagged-variant convention used in internal/wire.
type Event struct {
	Kind Kind

	// PeerUpdate fields.
	PeerSSLID [16]byte
	Status    PeerStatus
	Address   string

	// ServiceInfoUpdate fields.
	Services []uint16

	// Intercom fields.
	Intercom IntercomKind
	Payload  interface{}
}

type Kind uint8

const (
	KindPeerUpdate Kind = iota
	KindServiceInfoUpdate
	KindIntercom
)

type IntercomKind uint8

const (
	IntercomSend IntercomKind = iota
	IntercomReceive
	IntercomThread
)

// subscriberChanDepth bounds each subscriber's inbox; a full channel drops
// the event for that subscriber with a warning.
const subscriberChanDepth = 64

// Bus is the process-wide event bus. The zero value is not usable; use
// New.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscription is a handle returned by Subscribe; call Unsubscribe when
// the caller no longer wants events.
type Subscription struct {
	bus *Bus
	id  int
	ch  chan Event
}

// Events returns the subscriber's receive-only event channel.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	close(s.ch)
}

// Subscribe registers a new bounded-channel subscriber.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, subscriberChanDepth)
	b.subs[id] = ch
	return &Subscription{bus: b, id: id, ch: ch}
}

// Publish fans e out to every current subscriber. Delivery is
// fire-and-forget: a subscriber whose channel is full has the event
// dropped for it and a warning logged.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			logrus.WithField("subscriber", id).Warn("eventbus: subscriber channel full, dropping event")
		}
	}
}
