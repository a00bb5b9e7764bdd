// Package peer implements the per-peer connection actor: one goroutine
// group per established TLS connection, owning the stream exclusively and
// multiplexing three sources — bytes arriving on the stream, items queued
// for outbound delivery, and timer ticks.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/retroshare-go/retronode/internal/eventbus"
	"github.com/retroshare-go/retronode/internal/frame"
	"github.com/retroshare-go/retronode/internal/items"
	"github.com/retroshare-go/retronode/internal/model"
	"github.com/retroshare-go/retronode/internal/wire"
)

// inboxDepth bounds the outbound item queue. A full inbox drops the item
// and emits a degraded-peer event.
const inboxDepth = 256

// tickInterval drives both the heartbeat and the bandwidth-limit
// advertisement.
const tickInterval = 5 * time.Second

// probeGrace is how long a freshly connected peer has to emit its
// slice-probe before it is flagged as nonconformant. The connection
// survives either way.
const probeGrace = 10 * time.Second

// Dispatcher hands a parsed non-slice item up to the service multiplexer
// and collects the reply items to write back.
type Dispatcher interface {
	Dispatch(peer string, h wire.Header, payload []byte) []items.Item
	ForgetPeer(peer string)
}

// StateEvent notifies the supervisor of actor teardown or boot completion.
type StateEvent struct {
	SslID     model.SslID
	Connected bool
}

// Actor drives one authenticated session.
type Actor struct {
	sslID       model.SslID
	conn        net.Conn
	dispatcher  Dispatcher
	serviceInfo items.Item
	states      chan<- StateEvent
	bus         *eventbus.Bus
	bwLimit     uint32

	inbox chan items.Item
	stop  chan struct{}

	ids   frame.SliceIDAllocator
	reasm *frame.Reassembler
	log   *logrus.Entry

	probeSeen chan struct{}
}

// New builds an actor for an established, authenticated connection.
// serviceInfo is the local service advertisement written right after the
// slice-probe; bwLimit is the advertised bandwidth cap in bytes/second.
func New(sslID model.SslID, conn net.Conn, d Dispatcher, serviceInfo items.Item, states chan<- StateEvent, bus *eventbus.Bus, bwLimit uint32) *Actor {
	log := logrus.WithFields(logrus.Fields{
		"peer":    sslID.String(),
		"session": uuid.NewString(),
	})
	a := &Actor{
		sslID:       sslID,
		conn:        conn,
		dispatcher:  d,
		serviceInfo: serviceInfo,
		states:      states,
		bus:         bus,
		bwLimit:     bwLimit,
		inbox:       make(chan items.Item, inboxDepth),
		stop:        make(chan struct{}),
		log:         log,
		reasm:       frame.NewReassembler(log.Warnf),
		probeSeen:   make(chan struct{}),
	}
	return a
}

// SslID returns the peer's location id.
func (a *Actor) SslID() model.SslID { return a.sslID }

// Send queues an item for delivery. A full inbox drops the item with a
// warning and publishes a degraded-peer event; delivery order of accepted
// items is preserved.
func (a *Actor) Send(it items.Item) {
	select {
	case a.inbox <- it:
	default:
		a.log.WithField("service", it.ServiceID()).Warn("peer: outbound inbox full, dropping item")
		if a.bus != nil {
			a.bus.Publish(eventbus.Event{
				Kind:      eventbus.KindPeerUpdate,
				PeerSSLID: a.sslID,
				Status:    eventbus.PeerStatusDegraded,
			})
		}
	}
}

// Close asks the actor to tear down. Safe to call more than once.
func (a *Actor) Close() {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
}

// Drain waits up to d for the outbound inbox to empty, then closes the
// connection. Used on clean process exit.
func (a *Actor) Drain(d time.Duration) {
	deadline := time.Now().Add(d)
	for len(a.inbox) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	a.Close()
}

// Run drives the session until an I/O error, a close-notify from the peer,
// or a local Close. It always notifies the supervisor with a NotConnected
// state event before returning.
func (a *Actor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Boot sequence: slice-probe first, then the service advertisement.
	if err := a.writeAll(items.SliceProbe); err != nil {
		a.teardown()
		return fmt.Errorf("peer: probe write: %w", err)
	}
	if err := a.writeItem(a.serviceInfo); err != nil {
		a.teardown()
		return fmt.Errorf("peer: service-info write: %w", err)
	}
	a.notify(true)
	// The bandwidth advertisement goes out once on connect, then on every
	// tick; the connect-time one rides the inbox so boot order stays
	// probe, service-info.
	a.Send(items.BandwidthLimit{BytesPerSecond: a.bwLimit})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.readLoop(ctx) })
	g.Go(func() error { return a.writeLoop(ctx) })
	g.Go(func() error {
		// Blocked reads/writes only unblock when the stream closes, so
		// the close happens here, as soon as shutdown is requested.
		defer a.conn.Close()
		select {
		case <-a.stop:
			return errors.New("peer: closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	g.Go(func() error { return a.watchProbe(ctx) })

	err := g.Wait()
	a.teardown()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Infof("peer: session ended: %v", err)
	}
	return err
}

func (a *Actor) teardown() {
	_ = a.conn.Close()
	a.reasm.AbandonAll()
	a.dispatcher.ForgetPeer(a.sslID.String())
	a.notify(false)
}

func (a *Actor) notify(connected bool) {
	if a.states != nil {
		a.states <- StateEvent{SslID: a.sslID, Connected: connected}
	}
	if a.bus != nil {
		st := eventbus.PeerStatusDisconnected
		if connected {
			st = eventbus.PeerStatusConnected
		}
		a.bus.Publish(eventbus.Event{Kind: eventbus.KindPeerUpdate, PeerSSLID: a.sslID, Status: st})
	}
}

// watchProbe flags peers that never send their slice-probe. Nonconformance
// is logged only; the session continues.
func (a *Actor) watchProbe(ctx context.Context) error {
	t := time.NewTimer(probeGrace)
	defer t.Stop()
	select {
	case <-a.probeSeen:
	case <-t.C:
		a.log.Warn("peer: no slice-probe received within grace period, peer is nonconformant")
	case <-ctx.Done():
	}
	return nil
}

// readLoop reads framed items off the stream: exactly 8 header bytes, then
// the declared payload. Slice frames go through the reassembler; whole
// items go straight to the dispatcher.
func (a *Actor) readLoop(ctx context.Context) error {
	var hdr [wire.HeaderSize]byte
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := io.ReadFull(a.conn, hdr[:]); err != nil {
			return fmt.Errorf("peer: header read: %w", err)
		}
		h, err := wire.ParseHeader(hdr[:])
		if err != nil {
			return fmt.Errorf("peer: %w", err)
		}
		n, err := h.PayloadSize()
		if err != nil {
			return fmt.Errorf("peer: %w", err)
		}
		if h.Kind != wire.VersionSlice && n > items.MaxItemPayload {
			a.log.Warnf("peer: %v: declared payload %d, dropping item", wire.ErrOversized, n)
			if _, err := io.CopyN(io.Discard, a.conn, int64(n)); err != nil {
				return fmt.Errorf("peer: payload read: %w", err)
			}
			continue
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(a.conn, payload); err != nil {
			return fmt.Errorf("peer: payload read: %w", err)
		}

		if h.Kind == wire.VersionSlice {
			a.feedSlice(h, payload)
			continue
		}
		if items.IsSliceProbe(h) {
			select {
			case <-a.probeSeen:
			default:
				close(a.probeSeen)
			}
			continue
		}
		a.handleItem(h, payload)
	}
}

// feedSlice runs the reassembler and, when a full item comes back, parses
// its inner header and dispatches it. Parse failures discard the entry and
// the item; the connection survives.
func (a *Actor) feedSlice(h wire.Header, payload []byte) {
	full, err := a.reasm.Feed(h, payload)
	if err != nil {
		a.log.Warnf("peer: slice rejected: %v", err)
		return
	}
	if full == nil {
		return
	}
	if len(full) < wire.HeaderSize {
		a.log.Warn("peer: reassembled item shorter than a header, discarding")
		return
	}
	inner, err := wire.ParseHeader(full[:wire.HeaderSize])
	if err != nil {
		a.log.Warnf("peer: reassembled inner header invalid, discarding: %v", err)
		return
	}
	a.handleItem(inner, full[wire.HeaderSize:])
}

func (a *Actor) handleItem(h wire.Header, payload []byte) {
	for _, reply := range a.dispatcher.Dispatch(a.sslID.String(), h, payload) {
		a.Send(reply)
	}
}

// writeLoop dequeues outbound items and writes their frames contiguously,
// interleaving the 5-second heartbeat and bandwidth advertisement.
func (a *Actor) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.writeItem(items.Heartbeat{}); err != nil {
				return err
			}
			if err := a.writeItem(items.BandwidthLimit{BytesPerSecond: a.bwLimit}); err != nil {
				return err
			}
		case it := <-a.inbox:
			if err := a.writeItem(it); err != nil {
				return err
			}
		}
	}
}

// writeItem packs, frames and writes one item. All frames of a sliced item
// are written as one contiguous buffer so no other item interleaves.
func (a *Actor) writeItem(it items.Item) error {
	frames := frame.Frame(items.Pack(it), &a.ids)
	var buf []byte
	if len(frames) == 1 {
		buf = frames[0]
	} else {
		for _, f := range frames {
			buf = append(buf, f...)
		}
	}
	return a.writeAll(buf)
}

func (a *Actor) writeAll(b []byte) error {
	for len(b) > 0 {
		n, err := a.conn.Write(b)
		if err != nil {
			return fmt.Errorf("peer: write: %w", err)
		}
		b = b[n:]
	}
	return nil
}
