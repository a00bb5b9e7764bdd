// Package node wires the subsystems into one running process: the event
// bus, the item registry, the service multiplexer with every core service
// registered, the turtle router, the GXS engine with its syncer, and the
// connection supervisor. The handle is created at startup and passed by
// reference; there is no process-wide singleton.
package node

import (
	"context"
	"crypto/tls"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/retroshare-go/retronode/internal/eventbus"
	"github.com/retroshare-go/retronode/internal/gxs"
	"github.com/retroshare-go/retronode/internal/gxsdb"
	"github.com/retroshare-go/retronode/internal/identity"
	"github.com/retroshare-go/retronode/internal/items"
	"github.com/retroshare-go/retronode/internal/model"
	"github.com/retroshare-go/retronode/internal/mux"
	"github.com/retroshare-go/retronode/internal/supervisor"
	"github.com/retroshare-go/retronode/internal/support"
	"github.com/retroshare-go/retronode/internal/turtle"
)

const (
	// turtleTickInterval approximates "every ~10 ticks, roughly 2.5s".
	turtleTickInterval = 2500 * time.Millisecond
	gxsTickInterval    = 5 * time.Second
	// lobbyBounceTTL is the per-room replay window.
	lobbyBounceTTL = 20 * time.Minute
)

// Options carries everything the node needs from the outside world.
type Options struct {
	Cert           tls.Certificate
	Verifier       identity.Verifier
	Peers          []*model.Location
	Store          *gxsdb.Store // may be nil when no database is configured
	BandwidthLimit uint32
	ListenAddr     string
	// RNG seeds the turtle forwarding decision; nil uses a time-seeded
	// source.
	RNG *rand.Rand
}

// Node is the assembled process.
type Node struct {
	Bus        *eventbus.Bus
	Mux        *mux.Mux
	Supervisor *supervisor.Supervisor
	Turtle     *turtle.Router
	Engine     *gxs.Engine
	Syncer     *gxs.Syncer

	listenAddr string
	peers      []*model.Location
	lobbies    *lobbyCaches
}

// New assembles a node from its options without starting any goroutines.
func New(opts Options) *Node {
	bus := eventbus.New()
	registry := items.NewRegistry()
	m := mux.New(registry, bus)

	sup := supervisor.New(opts.Cert, opts.Verifier, m, bus, opts.BandwidthLimit, opts.Peers)

	rng := opts.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	router := turtle.New(sup, rng)

	engine := gxs.New(sup, uint32(time.Now().Unix()))
	syncer := gxs.NewSyncer(engine, opts.Store, support.NewGxsSyncTimestamps())
	engine.OnComplete = syncer.Persist

	n := &Node{
		Bus:        bus,
		Mux:        m,
		Supervisor: sup,
		Turtle:     router,
		Engine:     engine,
		Syncer:     syncer,
		listenAddr: opts.ListenAddr,
		peers:      opts.Peers,
		lobbies:    newLobbyCaches(lobbyBounceTTL),
	}
	n.registerServices()
	return n
}

// registerServices attaches each core service's handler to the mux.
func (n *Node) registerServices() {
	n.Mux.Register(items.ServiceStatus, "status", 1, 0, mux.HandlerFunc(n.handleStatus))
	n.Mux.Register(items.ServiceBandwidthCtrl, "bandwidth_ctrl", 1, 0, mux.HandlerFunc(n.handleBandwidth))
	n.Mux.Register(items.ServiceTurtle, "turtle", 1, 0, mux.HandlerFunc(n.handleTurtle))
	n.Mux.Register(items.ServiceGxsID, "gxsid", 1, 0, mux.HandlerFunc(n.handleGxs))
	n.Mux.Register(items.ServiceChat, "chat", 1, 0, mux.HandlerFunc(n.handleChat))
	n.Mux.Register(items.ServiceDiscovery, "disc", 1, 0, mux.HandlerFunc(n.handleDiscovery))
}

// Run starts the supervisor and the service tickers and blocks until ctx
// is cancelled.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Supervisor.Run(ctx, n.listenAddr) })
	g.Go(func() error { return n.tickTurtle(ctx) })
	g.Go(func() error { return n.tickGxs(ctx) })
	return g.Wait()
}

func (n *Node) tickTurtle(ctx context.Context) error {
	t := time.NewTicker(turtleTickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n.Turtle.Tick()
			if count, bytes := n.Turtle.Stats(); count > 0 {
				logrus.WithFields(logrus.Fields{"count": count, "bytes": bytes}).
					Debug("turtle: forwarded")
			}
			n.lobbies.purge()
		}
	}
}

func (n *Node) tickGxs(ctx context.Context) error {
	t := time.NewTicker(gxsTickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			for _, tx := range n.Engine.Tick(now) {
				logrus.WithFields(logrus.Fields{"peer": tx.Peer, "txid": tx.ID}).
					Info("gxs: transaction timed out")
			}
			n.Syncer.Poll(n.connectedSslIDs(), now)
		}
	}
}

func (n *Node) connectedSslIDs() []model.SslID {
	var out []model.SslID
	for _, l := range n.peers {
		if l.IsConnected() {
			out = append(out, l.SslID)
		}
	}
	return out
}

func (n *Node) handleStatus(peer string, it items.Item) ([]items.Item, error) {
	if st, ok := it.(items.StatusItem); ok {
		logrus.WithFields(logrus.Fields{"peer": peer, "status": st.Status}).Debug("status update")
	}
	return nil, nil
}

func (n *Node) handleBandwidth(peer string, it items.Item) ([]items.Item, error) {
	if bw, ok := it.(items.BandwidthLimit); ok {
		logrus.WithFields(logrus.Fields{"peer": peer, "bytes_per_s": bw.BytesPerSecond}).
			Debug("bandwidth advertisement")
	}
	return nil, nil
}

func (n *Node) handleTurtle(peer string, it items.Item) ([]items.Item, error) {
	switch v := it.(type) {
	case items.OpenTunnel:
		n.Turtle.HandleOpenTunnel(peer, v, n.Supervisor.ConnectedPeers())
	case items.TunnelOK:
		n.Turtle.HandleTunnelOK(peer, v)
	case items.GenericData:
		n.Turtle.HandleGenericData(peer, v)
	}
	return nil, nil
}

func (n *Node) handleGxs(peer string, it items.Item) ([]items.Item, error) {
	now := time.Now()
	switch v := it.(type) {
	case items.TransactionItem:
		// Protocol violations drop the item; the connection survives.
		_ = n.Engine.OnTransactionItem(peer, v, now)
	case items.GroupItem:
		_ = n.Engine.OnGroupItem(peer, v.TransactionID, v)
	case items.SyncGrpReq:
		n.Syncer.OnSyncRequest(peer, v, now)
	}
	return nil, nil
}

func (n *Node) handleChat(peer string, it items.Item) ([]items.Item, error) {
	switch v := it.(type) {
	case items.ChatMessage:
		n.Bus.Publish(eventbus.Event{
			Kind:     eventbus.KindIntercom,
			Intercom: eventbus.IntercomReceive,
			Payload:  v,
		})
	case items.LobbyChallenge:
		id, err := peerSslID(peer)
		if err != nil {
			return nil, nil
		}
		want := support.ChatLobbyChallenge(v.LobbyID, v.MsgID, id)
		if want != v.ChallengeCode {
			logrus.WithFields(logrus.Fields{"peer": peer, "lobby": v.LobbyID}).
				Warn("chat: lobby challenge mismatch, dropping")
		}
	case items.LobbyMsg:
		if n.lobbies.seen(v.LobbyID, v.MsgID) {
			logrus.WithFields(logrus.Fields{"peer": peer, "lobby": v.LobbyID, "msg": v.MsgID}).
				Debug("chat: bounced lobby message replay, dropping")
			return nil, nil
		}
		n.Bus.Publish(eventbus.Event{
			Kind:     eventbus.KindIntercom,
			Intercom: eventbus.IntercomReceive,
			Payload:  v,
		})
		// Bounce to every other connected peer so the lobby floods.
		for _, other := range n.Supervisor.ConnectedPeers() {
			if other != peer {
				n.Supervisor.SendTo(other, v)
			}
		}
	}
	return nil, nil
}

func (n *Node) handleDiscovery(peer string, it items.Item) ([]items.Item, error) {
	switch v := it.(type) {
	case items.PGPList:
		logrus.WithFields(logrus.Fields{"peer": peer, "ids": len(v.PgpIDs)}).
			Debug("discovery: pgp list")
	case items.Contact:
		addrs := make([]model.ListenAddr, 0, len(v.Addrs.Addrs))
		for _, a := range v.Addrs.Addrs {
			addrs = append(addrs, model.ListenAddr{IP: a.IP, Port: a.Port})
		}
		loc := model.NewLocation(model.SslID(v.SslID), model.PgpID(v.PgpID), v.Name, addrs)
		n.Supervisor.AddLocation(loc)
	}
	return nil, nil
}

// peerSslID converts the mux's hex peer key back to its 16-byte id.
func peerSslID(peer string) (model.SslID, error) {
	return identity.SslIDFromCN(peer)
}

// lobbyCaches keeps one bounce cache per chat lobby.
type lobbyCaches struct {
	mu     sync.Mutex
	ttl    time.Duration
	caches map[uint64]*support.BounceCache
}

func newLobbyCaches(ttl time.Duration) *lobbyCaches {
	return &lobbyCaches{ttl: ttl, caches: make(map[uint64]*support.BounceCache)}
}

func (l *lobbyCaches) seen(lobbyID, msgID uint64) bool {
	l.mu.Lock()
	c, ok := l.caches[lobbyID]
	if !ok {
		c = support.NewBounceCache(l.ttl)
		l.caches[lobbyID] = c
	}
	l.mu.Unlock()
	return c.Seen(msgID)
}

func (l *lobbyCaches) purge() {
	l.mu.Lock()
	caches := make([]*support.BounceCache, 0, len(l.caches))
	for _, c := range l.caches {
		caches = append(caches, c)
	}
	l.mu.Unlock()
	for _, c := range caches {
		c.Purge()
	}
}
