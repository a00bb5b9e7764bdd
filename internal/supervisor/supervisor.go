// Package supervisor maintains the list of known peers and their live
// connection actors: it runs the reconnect sweep, the inbound listener,
// and the per-peer Idle/Attempting/Connected state machine, and resolves
// inbound/outbound connection races.
package supervisor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/retroshare-go/retronode/internal/eventbus"
	"github.com/retroshare-go/retronode/internal/identity"
	"github.com/retroshare-go/retronode/internal/items"
	"github.com/retroshare-go/retronode/internal/model"
	"github.com/retroshare-go/retronode/internal/peer"
)

const (
	sweepInterval  = 5 * time.Second
	retryBackoff   = 5 * time.Minute
	dialTimeout    = 5 * time.Second
	drainDeadline  = 2 * time.Second
	stateChanDepth = 64
)

// InfoSource supplies the dispatcher and the service advertisement each
// new actor boots with. Implemented by the service multiplexer.
type InfoSource interface {
	peer.Dispatcher
	LocalServiceInfo() items.ServiceInfoItem
}

// Supervisor owns the connection table. Writes to the table happen only
// from the supervisor's own goroutines.
type Supervisor struct {
	cert     tls.Certificate
	verifier identity.Verifier
	mux      InfoSource
	bus      *eventbus.Bus
	bwLimit  uint32

	mu        sync.RWMutex
	locations map[model.SslID]*model.Location
	actors    map[model.SslID]*peer.Actor
	attempts  map[model.SslID]bool

	states   chan peer.StateEvent
	listener net.Listener
}

// New builds a supervisor for the given own-location certificate and the
// initially known peers.
func New(cert tls.Certificate, verifier identity.Verifier, mux InfoSource, bus *eventbus.Bus, bwLimit uint32, peers []*model.Location) *Supervisor {
	s := &Supervisor{
		cert:      cert,
		verifier:  verifier,
		mux:       mux,
		bus:       bus,
		bwLimit:   bwLimit,
		locations: make(map[model.SslID]*model.Location),
		actors:    make(map[model.SslID]*peer.Actor),
		attempts:  make(map[model.SslID]bool),
		states:    make(chan peer.StateEvent, stateChanDepth),
	}
	for _, l := range peers {
		if !l.IsOwn {
			s.locations[l.SslID] = l
		}
	}
	return s
}

// AddLocation registers a location learned after startup, typically from
// discovery gossip.
func (s *Supervisor) AddLocation(l *model.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.locations[l.SslID]; known || l.IsOwn {
		return
	}
	s.locations[l.SslID] = l
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Kind:      eventbus.KindPeerUpdate,
			PeerSSLID: l.SslID,
			Address:   firstAddr(l),
		})
	}
}

func firstAddr(l *model.Location) string {
	if len(l.Addrs) == 0 {
		return ""
	}
	return l.Addrs[0].String()
}

// Actor returns the live actor for a location, if any.
func (s *Supervisor) Actor(id model.SslID) (*peer.Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[id]
	return a, ok
}

// SendTo queues an item toward a connected location, dropping it when no
// actor is live. Satisfies the sender interfaces of the turtle router and
// the GXS engine, which address peers by hex location id.
func (s *Supervisor) SendTo(peerID string, it items.Item) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, a := range s.actors {
		if id.String() == peerID {
			a.Send(it)
			return
		}
	}
	logrus.WithField("peer", peerID).Debug("supervisor: send to disconnected peer dropped")
}

// SendItem aliases SendTo for the GXS engine's sender interface.
func (s *Supervisor) SendItem(peerID string, it items.Item) { s.SendTo(peerID, it) }

// ConnectedPeers lists the hex ids of every live actor.
func (s *Supervisor) ConnectedPeers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.actors))
	for id := range s.actors {
		out = append(out, id.String())
	}
	return out
}

// Run drives the sweep, the listener and state-event fanout until ctx is
// cancelled, then drains all actors and closes their streams.
func (s *Supervisor) Run(ctx context.Context, listenAddr string) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("supervisor: listen %s: %w", listenAddr, err)
	}
	s.listener = ln
	go s.acceptLoop(ctx, ln)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = ln.Close()
			s.shutdown()
			return ctx.Err()
		case ev := <-s.states:
			s.onStateEvent(ev)
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// onStateEvent applies an actor's boot/teardown notification to the table.
func (s *Supervisor) onStateEvent(ev peer.StateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := s.locations[ev.SslID]
	if ev.Connected {
		if loc != nil {
			loc.SetConnected(true)
		}
		return
	}
	delete(s.actors, ev.SslID)
	delete(s.attempts, ev.SslID)
	if loc != nil {
		loc.SetConnected(false)
	}
}

// sweep launches a connection attempt for every idle location whose last
// attempt is old enough.
func (s *Supervisor) sweep(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	var due []*model.Location
	for id, loc := range s.locations {
		if s.attempts[id] || s.actors[id] != nil {
			continue
		}
		if loc.IsConnected() || len(loc.Addrs) == 0 {
			continue
		}
		if now.Sub(loc.LastAttempt()) < retryBackoff {
			continue
		}
		s.attempts[id] = true
		due = append(due, loc)
	}
	s.mu.Unlock()

	for _, loc := range due {
		loc.TouchAttempt(now)
		go s.attempt(ctx, loc)
	}
}

// attempt tries each candidate address in order; the first completed TLS
// handshake wins. Failure leaves the location idle until the backoff
// elapses.
func (s *Supervisor) attempt(ctx context.Context, loc *model.Location) {
	log := logrus.WithField("peer", loc.SslID.String())
	for _, addr := range loc.Addrs {
		conn, err := s.dialOne(ctx, loc, addr.String())
		if err != nil {
			log.Debugf("supervisor: dial %s failed: %v", addr, err)
			continue
		}
		if !s.adopt(loc.SslID, conn) {
			// An inbound connection won the race while we were dialing.
			_ = conn.Close()
		}
		return
	}
	s.mu.Lock()
	delete(s.attempts, loc.SslID)
	s.mu.Unlock()
	log.Info("supervisor: all addresses failed, peer stays not connected")
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Kind:      eventbus.KindPeerUpdate,
			PeerSSLID: loc.SslID,
			Status:    eventbus.PeerStatusDisconnected,
		})
	}
}

func (s *Supervisor) dialOne(ctx context.Context, loc *model.Location, addr string) (*tls.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	cfg := clientTLSConfig(s.cert, s.verifier, loc.SslID, loc.PgpID)
	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return conn, nil
}

// acceptLoop feeds every inbound TCP connection through the TLS acceptor
// path.
func (s *Supervisor) acceptLoop(ctx context.Context, ln net.Listener) {
	resolve := func(id model.SslID) (model.PgpID, bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		loc, ok := s.locations[id]
		if !ok {
			return 0, false
		}
		return loc.PgpID, true
	}
	cfg := serverTLSConfig(s.cert, resolve, s.verifier)
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.Warnf("supervisor: accept: %v", err)
			continue
		}
		go func() {
			conn := tls.Server(raw, cfg)
			if err := conn.HandshakeContext(ctx); err != nil {
				logrus.Debugf("supervisor: inbound handshake failed: %v", err)
				_ = raw.Close()
				return
			}
			id, err := connSslID(conn)
			if err != nil {
				logrus.Warnf("supervisor: inbound peer id: %v", err)
				_ = conn.Close()
				return
			}
			if !s.adopt(id, conn) {
				_ = conn.Close()
			}
		}()
	}
}

// adopt installs a freshly authenticated connection as the location's
// actor, unless one already exists (the race rule: the established actor
// wins, the newcomer is dropped).
func (s *Supervisor) adopt(id model.SslID, conn net.Conn) bool {
	s.mu.Lock()
	if s.actors[id] != nil {
		s.mu.Unlock()
		return false
	}
	a := peer.New(id, conn, s.mux, s.mux.LocalServiceInfo(), s.states, s.bus, s.bwLimit)
	s.actors[id] = a
	delete(s.attempts, id)
	s.mu.Unlock()

	go func() { _ = a.Run(context.Background()) }()
	return true
}

// shutdown drains every actor's outbound inbox with a shared deadline and
// closes the streams.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	actors := make([]*peer.Actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Add(1)
		go func(a *peer.Actor) {
			defer wg.Done()
			a.Drain(drainDeadline)
		}(a)
	}
	wg.Wait()
}

// connSslID reads the authenticated peer's location id off a completed
// handshake.
func connSslID(conn *tls.Conn) (model.SslID, error) {
	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return model.SslID{}, fmt.Errorf("supervisor: no peer certificate after handshake")
	}
	return identity.SslIDFromCN(certs[0].Subject.CommonName)
}

// leafCN parses the subject CN out of a raw DER certificate.
func leafCN(der []byte) (string, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return "", fmt.Errorf("supervisor: parse peer certificate: %w", err)
	}
	return cert.Subject.CommonName, nil
}
