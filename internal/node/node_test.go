package node

import (
	"crypto/tls"
	"math/rand"
	"testing"
	"time"

	"github.com/retroshare-go/retronode/internal/eventbus"
	"github.com/retroshare-go/retronode/internal/identity"
	"github.com/retroshare-go/retronode/internal/items"
	"github.com/retroshare-go/retronode/internal/model"
)

func testNode() *Node {
	return New(Options{
		Cert:           tls.Certificate{},
		Verifier:       identity.NewKeyring(),
		BandwidthLimit: 1024,
		ListenAddr:     ":0",
		RNG:            rand.New(rand.NewSource(1)),
	})
}

func TestLobbyMessageReplayDropped(t *testing.T) {
	n := testNode()
	sub := n.Bus.Subscribe()
	defer sub.Unsubscribe()

	msg := items.LobbyMsg{LobbyID: 7, MsgID: 99, Text: "hello"}
	if _, err := n.handleChat("peerA", msg); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-sub.Events():
		if ev.Kind != eventbus.KindIntercom {
			t.Fatalf("event kind = %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("first delivery must reach the bus")
	}

	// The same message arriving over another path is a replay.
	if _, err := n.handleChat("peerB", msg); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sub.Events():
		t.Fatal("replay must not reach the bus")
	case <-time.After(50 * time.Millisecond):
	}

	// A different message in the same lobby passes.
	if _, err := n.handleChat("peerB", items.LobbyMsg{LobbyID: 7, MsgID: 100}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		t.Fatal("fresh message must reach the bus")
	}
}

func TestDiscoveryContactAddsLocation(t *testing.T) {
	n := testNode()
	var id [16]byte
	id[0] = 0x77
	contact := items.Contact{
		PgpID: 1234,
		SslID: id,
		Name:  "carol-laptop",
		Addrs: items.AddrSet{Addrs: []items.Addr{{IP: []byte{127, 0, 0, 1}, Port: 7812}}},
	}
	if _, err := n.handleDiscovery("peerA", contact); err != nil {
		t.Fatal(err)
	}
	// The supervisor now knows the location; no actor exists yet.
	if _, ok := n.Supervisor.Actor(model.SslID(id)); ok {
		t.Fatal("discovery must not create an actor, only a candidate")
	}
	// A second contact for the same location is idempotent.
	if _, err := n.handleDiscovery("peerB", contact); err != nil {
		t.Fatal(err)
	}
}

func TestChatChallengeMismatchDropped(t *testing.T) {
	n := testNode()
	peerID := model.SslID{0xab}
	// A wrong challenge code is dropped without error or reply.
	replies, err := n.handleChat(peerID.String(), items.LobbyChallenge{
		LobbyID: 1, MsgID: 2, ChallengeCode: 0xdeadbeef,
	})
	if err != nil || replies != nil {
		t.Fatalf("challenge mismatch must be a silent drop: %v %v", replies, err)
	}
}
