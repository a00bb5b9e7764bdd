// Package turtle implements the turtle router: a probabilistic
// flood-and-remember anonymizing overlay.
package turtle

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/retroshare-go/retronode/internal/items"
	"github.com/retroshare-go/retronode/internal/support"
)

// DropProbability is the chance an open-tunnel request is dropped instead
// of forwarded.
const DropProbability = 0.33

// TunnelOKMaxAge is how fresh a request-cache entry must be for a
// tunnel-ok to be accepted.
const TunnelOKMaxAge = 20 * time.Second

const (
	requestCacheTTL  = 10 * time.Minute
	activeTunnelIdle = 60 * time.Second
)

// Sender abstracts "write this item to this connected peer", implemented
// by the connection supervisor (Supervisor.SendTo) in production and by a
// recording fake in tests.
type Sender interface {
	SendTo(peer string, item items.Item)
}

// Router holds the turtle caches and forwarding logic for one node.
type Router struct {
	requests *support.RequestCache
	active   *support.ActiveTunnelTable
	stats    *support.ForwardStats
	rng      *rand.Rand
	sender   Sender
}

// New builds a Router. rng controls the forwarding drop decision; pass a
// seeded *rand.Rand for deterministic tests.
func New(sender Sender, rng *rand.Rand) *Router {
	return &Router{
		requests: support.NewRequestCache(requestCacheTTL),
		active:   support.NewActiveTunnelTable(activeTunnelIdle),
		stats:    support.NewForwardStats(),
		rng:      rng,
		sender:   sender,
	}
}

// HandleOpenTunnel floods an incoming open-tunnel request. connectedPeers
// is every peer currently connected to this node; origin is skipped when
// forwarding.
func (r *Router) HandleOpenTunnel(origin string, item items.OpenTunnel, connectedPeers []string) {
	if !r.requests.Insert(item.RequestID, origin) {
		logrus.WithField("request_id", item.RequestID).Debug("turtle: duplicate open-tunnel, dropping")
		return
	}
	if r.rng.Float64() >= 1-DropProbability {
		logrus.WithField("request_id", item.RequestID).Debug("turtle: open-tunnel dropped by forwarding probability")
		return
	}
	for _, p := range connectedPeers {
		if p == origin {
			continue
		}
		r.sender.SendTo(p, item)
		r.stats.Record(len(item.Encode()))
	}
}

// HandleTunnelOK records a confirmed tunnel and relays the ok to its origin.
func (r *Router) HandleTunnelOK(fromPeer string, item items.TunnelOK) {
	origin, ok := r.requests.Lookup(item.RequestID, TunnelOKMaxAge)
	if !ok {
		logrus.WithField("request_id", item.RequestID).Debug("turtle: tunnel-ok for absent/expired request, dropping")
		return
	}
	r.requests.Remove(item.RequestID)
	if r.active.Insert(item.TunnelID, origin, fromPeer) {
		logrus.WithField("tunnel_id", item.TunnelID).Warn("turtle: duplicate tunnel-id, overwriting active entry")
	}
	r.sender.SendTo(origin, item)
	r.stats.Record(len(item.Encode()))
}

// HandleGenericData forwards tunneled payload along an active tunnel.
func (r *Router) HandleGenericData(fromPeer string, item items.GenericData) {
	entry, ok := r.active.Lookup(item.TunnelID)
	if !ok {
		logrus.WithField("tunnel_id", item.TunnelID).Debug("turtle: generic-data for unknown tunnel, dropping")
		return
	}
	var dest string
	switch fromPeer {
	case entry.From:
		dest = entry.To
	case entry.To:
		dest = entry.From
	default:
		logrus.WithField("tunnel_id", item.TunnelID).Warn("turtle: generic-data from neither tunnel endpoint, dropping tunnel")
		r.active.Remove(item.TunnelID)
		return
	}
	r.active.Touch(item.TunnelID)
	r.sender.SendTo(dest, item)
	r.stats.Record(len(item.Data))
}

// Tick runs the periodic cache GC; the caller's timer decides the cadence.
func (r *Router) Tick() {
	r.requests.Purge()
	r.active.Purge()
}

// Stats returns and resets the forwarded-count/forwarded-bytes counters.
func (r *Router) Stats() (count, bytes uint64) { return r.stats.Snapshot() }

// ActiveTunnel exposes one active-table row for tests/diagnostics.
func (r *Router) ActiveTunnel(tunnelID uint32) (support.ActiveTunnel, bool) {
	return r.active.Lookup(tunnelID)
}
