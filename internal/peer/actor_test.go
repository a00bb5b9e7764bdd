package peer

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/retroshare-go/retronode/internal/items"
	"github.com/retroshare-go/retronode/internal/model"
	"github.com/retroshare-go/retronode/internal/wire"
)

type stubDispatcher struct {
	mu       sync.Mutex
	received []wire.Header
	replies  []items.Item
}

func (d *stubDispatcher) Dispatch(peer string, h wire.Header, payload []byte) []items.Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = append(d.received, h)
	return d.replies
}

func (d *stubDispatcher) ForgetPeer(peer string) {}

func (d *stubDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.received)
}

func testID() model.SslID {
	var id model.SslID
	for i := range id {
		id[i] = byte(i + 1)
	}
	return id
}

func readItem(t *testing.T, r io.Reader) (wire.Header, []byte) {
	t.Helper()
	var hdr [wire.HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		t.Fatalf("header read: %v", err)
	}
	h, err := wire.ParseHeader(hdr[:])
	if err != nil {
		t.Fatal(err)
	}
	n, err := h.PayloadSize()
	if err != nil {
		t.Fatal(err)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		t.Fatalf("payload read: %v", err)
	}
	return h, payload
}

// TestBootHandshake checks the first two items on a fresh connection: the
// slice-probe, bit-exact, then a service-info item whose outer tag is
// 0x0001.
func TestBootHandshake(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	states := make(chan StateEvent, 4)
	info := items.ServiceInfoItem{Services: []items.ServiceEntry{
		{NumericID: items.NumericID(items.ServiceHeartbeat), Name: "heartbeat", VersionMajor: 1},
	}}
	a := New(testID(), server, &stubDispatcher{}, info, states, nil, 1024)
	done := make(chan struct{})
	go func() {
		_ = a.Run(context.Background())
		close(done)
	}()

	probe := make([]byte, len(items.SliceProbe))
	if _, err := io.ReadFull(client, probe); err != nil {
		t.Fatalf("probe read: %v", err)
	}
	if !bytes.Equal(probe, items.SliceProbe) {
		t.Fatalf("probe bytes = %x", probe)
	}

	h, payload := readItem(t, client)
	if h.ServiceID != items.ServiceInfo {
		t.Fatalf("second item service = 0x%04x", h.ServiceID)
	}
	if len(payload) < 2 || payload[0] != 0x00 || payload[1] != 0x01 {
		t.Fatalf("service-info outer tag = % x", payload[:2])
	}

	if ev := <-states; !ev.Connected || ev.SslID != testID() {
		t.Fatalf("expected connected state event, got %+v", ev)
	}

	a.Close()
	<-done
	if ev := <-states; ev.Connected {
		t.Fatalf("expected teardown state event, got %+v", ev)
	}
}

// TestIncomingItemDispatched feeds a whole item and a sliced item through
// the read loop and checks both reach the dispatcher.
func TestIncomingItemDispatched(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	d := &stubDispatcher{}
	states := make(chan StateEvent, 4)
	a := New(testID(), server, d, items.ServiceInfoItem{}, states, nil, 0)
	done := make(chan struct{})
	go func() {
		_ = a.Run(context.Background())
		close(done)
	}()
	// Drain everything the actor writes.
	go io.Copy(io.Discard, client)

	// Whole item.
	if _, err := client.Write(items.Pack(items.Heartbeat{})); err != nil {
		t.Fatal(err)
	}

	// Sliced item: a status item split by hand into two fragments.
	inner := items.Pack(items.StatusItem{Status: items.StatusOnline})
	first, second := inner[:6], inner[6:]
	h1 := wire.NewSliceHeader(wire.SliceFlagStart, 9, uint16(len(first)))
	hb1 := h1.Encode()
	h2 := wire.NewSliceHeader(wire.SliceFlagEnd, 9, uint16(len(second)))
	hb2 := h2.Encode()
	var buf []byte
	buf = append(buf, hb1[:]...)
	buf = append(buf, first...)
	buf = append(buf, hb2[:]...)
	buf = append(buf, second...)
	if _, err := client.Write(buf); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for d.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("dispatcher saw %d items, want 2", d.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	a.Close()
	<-done
}

// TestSendDropsWhenInboxFull fills the bounded inbox without a running
// writer and checks the overflow item is dropped rather than blocking.
func TestSendDropsWhenInboxFull(t *testing.T) {
	_, server := net.Pipe()
	a := New(testID(), server, &stubDispatcher{}, items.ServiceInfoItem{}, nil, nil, 0)
	for i := 0; i < inboxDepth; i++ {
		a.Send(items.Heartbeat{})
	}
	doneSend := make(chan struct{})
	go func() {
		a.Send(items.Heartbeat{}) // must not block
		close(doneSend)
	}()
	select {
	case <-doneSend:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full inbox")
	}
	if len(a.inbox) != inboxDepth {
		t.Fatalf("inbox len = %d", len(a.inbox))
	}
}
