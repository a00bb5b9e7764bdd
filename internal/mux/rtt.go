package mux

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/retroshare-go/retronode/internal/items"
	"github.com/retroshare-go/retronode/internal/support"
)

// maxOutstandingPings bounds the per-peer ring of pings awaiting a pong.
// When full, the oldest outstanding ping is evicted.
const maxOutstandingPings = 32

// nowTimestamp returns the current time split into the seconds/micros pair
// RTT items carry on the wire.
func nowTimestamp() (sec, micro uint32) {
	now := support.TimeNow()
	return uint32(now.Unix()), uint32(now.Nanosecond() / 1000)
}

type pendingPing struct {
	seq  uint32
	sent time.Time
}

type peerRTT struct {
	pending []pendingPing
	nextSeq uint32
	// samples is a running sum/count pair; the average resets when the
	// peer disconnects.
	sumRTT  time.Duration
	samples int
}

// RTTTracker keeps per-peer ping bookkeeping: up to 32 outstanding pings
// keyed by sequence number, and a running average of observed round trips.
type RTTTracker struct {
	mu    sync.Mutex
	peers map[string]*peerRTT
}

func NewRTTTracker() *RTTTracker {
	return &RTTTracker{peers: make(map[string]*peerRTT)}
}

func (t *RTTTracker) peer(peer string) *peerRTT {
	p, ok := t.peers[peer]
	if !ok {
		p = &peerRTT{}
		t.peers[peer] = p
	}
	return p
}

// MakePing allocates the next sequence number for peer and returns the
// ping item to send, recording it as outstanding.
func (t *RTTTracker) MakePing(peer string) items.RTTPing {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.peer(peer)
	seq := p.nextSeq
	p.nextSeq++
	if len(p.pending) >= maxOutstandingPings {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, pendingPing{seq: seq, sent: support.TimeNow()})
	sec, micro := nowTimestamp()
	return items.RTTPing{Seq: seq, SentSec: sec, SentMicro: micro}
}

// OnPong matches a pong against its outstanding ping and records the
// observed round trip. A pong whose echoed ping timestamp exceeds its own
// pong timestamp is logged and dropped.
func (t *RTTTracker) OnPong(peer string, pong items.RTTPong) {
	ping := uint64(pong.PingSec)<<32 | uint64(pong.PingMicro)
	echo := uint64(pong.PongSec)<<32 | uint64(pong.PongMicro)
	if ping > echo {
		logrus.WithFields(logrus.Fields{"peer": peer, "seq": pong.Seq}).
			Warn("rtt: pong timestamp precedes its ping, dropping")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.peer(peer)
	for i, pd := range p.pending {
		if pd.seq == pong.Seq {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			p.sumRTT += support.TimeNow().Sub(pd.sent)
			p.samples++
			return
		}
	}
	logrus.WithFields(logrus.Fields{"peer": peer, "seq": pong.Seq}).
		Debug("rtt: pong with no outstanding ping")
}

// Average returns the mean observed round trip for peer, zero if no
// samples have been collected.
func (t *RTTTracker) Average(peer string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[peer]
	if !ok || p.samples == 0 {
		return 0
	}
	return p.sumRTT / time.Duration(p.samples)
}

// Outstanding returns the number of pings still awaiting a pong.
func (t *RTTTracker) Outstanding(peer string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[peer]
	if !ok {
		return 0
	}
	return len(p.pending)
}

// ForgetPeer drops all bookkeeping for a disconnected peer.
func (t *RTTTracker) ForgetPeer(peer string) {
	t.mu.Lock()
	delete(t.peers, peer)
	t.mu.Unlock()
}
