// Package mux implements the service multiplexer: it routes each parsed
// item by service-id to a registered handler, runs the service-info
// negotiation that decides which services are live on a given link, and
// tracks heartbeat/RTT bookkeeping for every connected peer.
package mux

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/retroshare-go/retronode/internal/eventbus"
	"github.com/retroshare-go/retronode/internal/items"
	"github.com/retroshare-go/retronode/internal/wire"
)

// Handler consumes one decoded item from a peer and returns zero or more
// items the connection actor writes back to that same peer. Errors are
// logged by the mux and never tear down the connection.
type Handler interface {
	HandleItem(peer string, item items.Item) ([]items.Item, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(peer string, item items.Item) ([]items.Item, error)

func (f HandlerFunc) HandleItem(peer string, item items.Item) ([]items.Item, error) {
	return f(peer, item)
}

// serviceMeta is the advertisement a locally enabled service contributes
// to the service-info exchange.
type serviceMeta struct {
	name            string
	versionMajor    uint16
	versionMinor    uint16
	minVersionMajor uint16
	minVersionMinor uint16
}

// Mux routes items between the wire and the registered services.
type Mux struct {
	registry *items.Registry
	bus      *eventbus.Bus

	mu       sync.RWMutex
	handlers map[uint16]Handler
	meta     map[uint16]serviceMeta
	// enabled holds, per peer, the intersection of our services with the
	// peer's advertised set. A peer with no entry has not negotiated yet;
	// until then every local service is treated as live so the exchange
	// itself can get through.
	enabled map[string]map[uint16]bool

	rtt *RTTTracker
}

// New builds a mux over the given item registry and event bus.
func New(registry *items.Registry, bus *eventbus.Bus) *Mux {
	m := &Mux{
		registry: registry,
		bus:      bus,
		handlers: make(map[uint16]Handler),
		meta:     make(map[uint16]serviceMeta),
		enabled:  make(map[string]map[uint16]bool),
		rtt:      NewRTTTracker(),
	}
	m.Register(items.ServiceHeartbeat, "heartbeat", 1, 0, HandlerFunc(handleHeartbeat))
	m.Register(items.ServiceRTT, "rtt", 1, 0, HandlerFunc(m.handleRTT))
	m.Register(items.ServiceInfo, "serviceinfo", 1, 0, HandlerFunc(m.handleServiceInfo))
	return m
}

// Register enables a local service: it gains a dispatch handler and an
// entry in the service-info advertisement.
func (m *Mux) Register(serviceID uint16, name string, major, minor uint16, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[serviceID] = h
	m.meta[serviceID] = serviceMeta{
		name:            name,
		versionMajor:    major,
		versionMinor:    minor,
		minVersionMajor: major,
		minVersionMinor: 0,
	}
}

// LocalServiceInfo builds the service-info item advertising every locally
// enabled service, sent once right after the slice-probe on a new link.
func (m *Mux) LocalServiceInfo() items.ServiceInfoItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := items.ServiceInfoItem{}
	for id, meta := range m.meta {
		out.Services = append(out.Services, items.ServiceEntry{
			NumericID:       items.NumericID(id),
			Name:            meta.name,
			VersionMajor:    meta.versionMajor,
			VersionMinor:    meta.versionMinor,
			MinVersionMajor: meta.minVersionMajor,
			MinVersionMinor: meta.minVersionMinor,
		})
	}
	return out
}

// ServiceEnabled reports whether serviceID is live on the link to peer.
// Before negotiation completes every local service counts as live.
func (m *Mux) ServiceEnabled(peer string, serviceID uint16) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, negotiated := m.enabled[peer]
	if !negotiated {
		_, local := m.handlers[serviceID]
		return local
	}
	return set[serviceID]
}

// ForgetPeer drops the negotiated service set for a disconnected peer.
func (m *Mux) ForgetPeer(peer string) {
	m.mu.Lock()
	delete(m.enabled, peer)
	m.mu.Unlock()
	m.rtt.ForgetPeer(peer)
}

// Dispatch decodes one received header+payload and routes it to its
// service handler, returning the handler's reply items. Unknown services
// or subtypes, decode failures and handler errors all drop the item and
// keep the connection alive.
func (m *Mux) Dispatch(peer string, h wire.Header, payload []byte) []items.Item {
	if h.Kind != wire.VersionService {
		// Class-framed items only appear in persisted config blobs; one
		// arriving on a live link is a peer bug.
		logrus.WithFields(logrus.Fields{"peer": peer, "kind": h.Kind}).
			Warn("mux: non-service item on live link, dropping")
		return nil
	}
	if items.IsSliceProbe(h) {
		return nil
	}

	it, err := m.registry.Decode(h.ServiceID, h.ServiceSubtyp, payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"peer":    peer,
			"service": h.ServiceID,
			"subtype": h.ServiceSubtyp,
		}).Warnf("mux: dropping item: %v", err)
		return nil
	}

	if !m.ServiceEnabled(peer, h.ServiceID) {
		logrus.WithFields(logrus.Fields{"peer": peer, "service": h.ServiceID}).
			Debug("mux: item for service disabled on this link, dropping")
		return nil
	}

	m.mu.RLock()
	handler, ok := m.handlers[h.ServiceID]
	m.mu.RUnlock()
	if !ok {
		logrus.WithFields(logrus.Fields{"peer": peer, "service": h.ServiceID}).
			Warn("mux: no handler for service, dropping")
		return nil
	}

	replies, err := handler.HandleItem(peer, it)
	if err != nil {
		logrus.WithFields(logrus.Fields{"peer": peer, "service": h.ServiceID}).
			Warnf("mux: handler error: %v", err)
		return nil
	}
	return replies
}

// handleServiceInfo intersects the peer's advertised services with ours
// and records the result as the link's live set.
func (m *Mux) handleServiceInfo(peer string, it items.Item) ([]items.Item, error) {
	info, ok := it.(items.ServiceInfoItem)
	if !ok {
		return nil, nil
	}
	live := make(map[uint16]bool)
	var liveIDs []uint16
	m.mu.Lock()
	for _, e := range info.Services {
		id := uint16(e.NumericID >> 8)
		if _, local := m.handlers[id]; local {
			live[id] = true
			liveIDs = append(liveIDs, id)
		}
	}
	m.enabled[peer] = live
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{"peer": peer, "services": len(liveIDs)}).
		Info("mux: service-info negotiated")
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Kind: eventbus.KindServiceInfoUpdate, Services: liveIDs})
	}
	return nil, nil
}

// handleHeartbeat consumes the content-less keepalive.
func handleHeartbeat(peer string, it items.Item) ([]items.Item, error) {
	return nil, nil
}

// handleRTT answers pings and feeds pongs into the tracker.
func (m *Mux) handleRTT(peer string, it items.Item) ([]items.Item, error) {
	switch v := it.(type) {
	case items.RTTPing:
		sec, micro := nowTimestamp()
		return []items.Item{items.RTTPong{
			Seq:       v.Seq,
			PingSec:   v.SentSec,
			PingMicro: v.SentMicro,
			PongSec:   sec,
			PongMicro: micro,
		}}, nil
	case items.RTTPong:
		m.rtt.OnPong(peer, v)
	}
	return nil, nil
}

// RTT exposes the tracker that incoming pongs are recorded in, for
// diagnostics.
func (m *Mux) RTT() *RTTTracker { return m.rtt }
