package mux

import (
	"testing"

	"github.com/retroshare-go/retronode/internal/eventbus"
	"github.com/retroshare-go/retronode/internal/items"
	"github.com/retroshare-go/retronode/internal/wire"
)

func dispatch(t *testing.T, m *Mux, peer string, it items.Item) []items.Item {
	t.Helper()
	packed := items.Pack(it)
	h, err := wire.ParseHeader(packed[:wire.HeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	return m.Dispatch(peer, h, packed[wire.HeaderSize:])
}

func TestServiceInfoNegotiationIntersects(t *testing.T) {
	m := New(items.NewRegistry(), eventbus.New())
	m.Register(items.ServiceTurtle, "turtle", 1, 0, HandlerFunc(
		func(peer string, it items.Item) ([]items.Item, error) { return nil, nil }))

	// Before negotiation every local service is live.
	if !m.ServiceEnabled("p1", items.ServiceTurtle) {
		t.Fatal("turtle should be live before negotiation")
	}

	// The peer advertises heartbeat and rtt, but not turtle.
	info := items.ServiceInfoItem{Services: []items.ServiceEntry{
		{NumericID: items.NumericID(items.ServiceHeartbeat), Name: "heartbeat", VersionMajor: 1},
		{NumericID: items.NumericID(items.ServiceRTT), Name: "rtt", VersionMajor: 1},
		{NumericID: items.NumericID(0x7777), Name: "exotic", VersionMajor: 1},
	}}
	dispatch(t, m, "p1", info)

	if !m.ServiceEnabled("p1", items.ServiceHeartbeat) {
		t.Fatal("heartbeat should survive the intersection")
	}
	if m.ServiceEnabled("p1", items.ServiceTurtle) {
		t.Fatal("turtle is absent from the peer's set, must be disabled")
	}
	if m.ServiceEnabled("p1", 0x7777) {
		t.Fatal("a service we do not run locally must not become live")
	}

	// Another peer is unaffected.
	if !m.ServiceEnabled("p2", items.ServiceTurtle) {
		t.Fatal("negotiation must be per-link")
	}

	m.ForgetPeer("p1")
	if !m.ServiceEnabled("p1", items.ServiceTurtle) {
		t.Fatal("forgetting the peer resets the link to pre-negotiation")
	}
}

func TestUnknownItemDropped(t *testing.T) {
	m := New(items.NewRegistry(), nil)
	h := wire.NewServiceHeader(0x4242, 0x99, wire.HeaderSize)
	if replies := m.Dispatch("p1", h, nil); replies != nil {
		t.Fatalf("unknown item must be dropped, got %d replies", len(replies))
	}
}

func TestSliceProbeSilentlyDiscarded(t *testing.T) {
	m := New(items.NewRegistry(), nil)
	h, err := wire.ParseHeader(items.SliceProbe)
	if err != nil {
		t.Fatal(err)
	}
	if replies := m.Dispatch("p1", h, nil); replies != nil {
		t.Fatalf("probe must produce no replies, got %d", len(replies))
	}
}

func TestRTTPingAnswered(t *testing.T) {
	m := New(items.NewRegistry(), nil)
	replies := dispatch(t, m, "p1", items.RTTPing{Seq: 7, SentSec: 100, SentMicro: 500})
	if len(replies) != 1 {
		t.Fatalf("ping should produce one pong, got %d", len(replies))
	}
	pong, ok := replies[0].(items.RTTPong)
	if !ok {
		t.Fatalf("reply is %T", replies[0])
	}
	if pong.Seq != 7 || pong.PingSec != 100 || pong.PingMicro != 500 {
		t.Fatalf("pong must echo the ping: %+v", pong)
	}
}

func TestRTTTrackerRejectsBackwardsPong(t *testing.T) {
	tr := NewRTTTracker()
	ping := tr.MakePing("p1")
	if tr.Outstanding("p1") != 1 {
		t.Fatal("ping not recorded")
	}
	// Pong timestamp precedes the ping it echoes: dropped.
	tr.OnPong("p1", items.RTTPong{Seq: ping.Seq, PingSec: 200, PongSec: 100})
	if tr.Outstanding("p1") != 1 {
		t.Fatal("backwards pong must not consume the outstanding ping")
	}
	tr.OnPong("p1", items.RTTPong{Seq: ping.Seq, PingSec: 100, PongSec: 100})
	if tr.Outstanding("p1") != 0 {
		t.Fatal("valid pong must consume the outstanding ping")
	}
}

func TestRTTTrackerBoundsOutstanding(t *testing.T) {
	tr := NewRTTTracker()
	for i := 0; i < maxOutstandingPings+10; i++ {
		tr.MakePing("p1")
	}
	if n := tr.Outstanding("p1"); n != maxOutstandingPings {
		t.Fatalf("outstanding ring must stay bounded, got %d", n)
	}
}
