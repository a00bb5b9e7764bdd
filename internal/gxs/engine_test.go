package gxs

import (
	"testing"
	"time"

	"github.com/retroshare-go/retronode/internal/items"
)

type recordingSender struct {
	sent []sentItem
}

type sentItem struct {
	peer string
	item items.Item
}

func (s *recordingSender) SendItem(peer string, item items.Item) {
	s.sent = append(s.sent, sentItem{peer, item})
}

// TestTransactionHappyPath walks the full exchange: A begins a
// 3-item transfer to B, B acks, A's items arrive, B completes and sends
// EndSuccess, A tears its transaction down when the EndSuccess arrives.
func TestTransactionHappyPath(t *testing.T) {
	now := time.Unix(1700000000, 0)

	senderA := &recordingSender{}
	senderB := &recordingSender{}
	engineA := New(senderA, 42)
	engineB := New(senderB, 1)

	payload := []items.GroupItem{{Payload: []byte("g1")}, {Payload: []byte("g2")}, {Payload: []byte("g3")}}
	txID, err := engineA.BeginOutgoing("B", items.TypeGroupListResponse, payload, now)
	if err != nil {
		t.Fatal(err)
	}
	if txID != 42 {
		t.Fatalf("expected seeded id 42, got %d", txID)
	}
	if len(senderA.sent) != 1 {
		t.Fatalf("expected Begin sent, got %d", len(senderA.sent))
	}
	beginItem := senderA.sent[0].item.(items.TransactionItem)

	// B receives the begin.
	if err := engineB.OnTransactionItem("A", beginItem, now); err != nil {
		t.Fatal(err)
	}
	if len(senderB.sent) != 1 {
		t.Fatalf("expected BeginAck sent by B, got %d", len(senderB.sent))
	}
	ackItem := senderB.sent[0].item.(items.TransactionItem)
	if ackItem.Flag != items.FlagBeginAck {
		t.Fatalf("expected BeginAck, got %v", ackItem.Flag)
	}

	// A receives the ack and emits all three group items.
	senderA.sent = nil
	if err := engineA.OnTransactionItem("B", ackItem, now); err != nil {
		t.Fatal(err)
	}
	if len(senderA.sent) != 3 {
		t.Fatalf("expected 3 group items sent, got %d", len(senderA.sent))
	}

	// B receives all three items; the third completes the transaction.
	for i, s := range senderA.sent {
		gi := s.item.(items.GroupItem)
		if err := engineB.OnGroupItem("A", txID, gi); err != nil {
			t.Fatalf("item %d: %v", i, err)
		}
	}
	if _, ok := engineB.Lookup("A", txID); ok {
		t.Fatal("expected B's transaction removed once completed and end-success sent")
	}
	var gotEndSuccess bool
	for _, s := range senderB.sent {
		if ti, ok := s.item.(items.TransactionItem); ok && ti.Flag == items.FlagEndSuccess {
			gotEndSuccess = true
		}
	}
	if !gotEndSuccess {
		t.Fatal("expected B to send EndSuccess")
	}

	// A receives EndSuccess and tears its transaction down.
	endItem := items.TransactionItem{TransactionID: txID, Flag: items.FlagEndSuccess, Type: items.TypeGroupListResponse}
	if err := engineA.OnTransactionItem("B", endItem, now); err != nil {
		t.Fatal(err)
	}
	if _, ok := engineA.Lookup("B", txID); ok {
		t.Fatal("expected A's transaction removed after EndSuccess")
	}
}

func TestDuplicateBeginRejected(t *testing.T) {
	sender := &recordingSender{}
	engine := New(sender, 1)
	now := time.Unix(1700000000, 0)
	begin := items.TransactionItem{TransactionID: 5, Flag: items.FlagBegin, ItemCount: 1}
	if err := engine.OnTransactionItem("P", begin, now); err != nil {
		t.Fatal(err)
	}
	if err := engine.OnTransactionItem("P", begin, now); err != ErrDuplicateBegin {
		t.Fatalf("expected ErrDuplicateBegin, got %v", err)
	}
}

func TestConcurrencyFloorBlocksSecondSend(t *testing.T) {
	sender := &recordingSender{}
	engine := New(sender, 1)
	now := time.Unix(1700000000, 0)

	txID, err := engine.BeginOutgoing("P", items.TypeGroups, []items.GroupItem{{Payload: []byte("a")}}, now)
	if err != nil {
		t.Fatal(err)
	}
	ack := items.TransactionItem{TransactionID: txID, Flag: items.FlagBeginAck}
	if err := engine.OnTransactionItem("P", ack, now); err != nil {
		t.Fatal(err)
	}

	if _, err := engine.BeginOutgoing("P", items.TypeGroups, []items.GroupItem{{Payload: []byte("b")}}, now); err != ErrSendingSlotBusy {
		t.Fatalf("expected ErrSendingSlotBusy, got %v", err)
	}
}

func TestDeadlineExpiryMarksFailed(t *testing.T) {
	sender := &recordingSender{}
	engine := New(sender, 1)
	now := time.Unix(1700000000, 0)

	begin := items.TransactionItem{TransactionID: 9, Flag: items.FlagBegin, ItemCount: 1}
	if err := engine.OnTransactionItem("P", begin, now); err != nil {
		t.Fatal(err)
	}

	failed := engine.Tick(now.Add(121 * time.Second))
	if len(failed) != 1 || failed[0].ID != 9 {
		t.Fatalf("expected transaction 9 to expire, got %+v", failed)
	}
	if _, ok := engine.Lookup("P", 9); ok {
		t.Fatal("expected expired transaction removed")
	}
}

func TestTransactionDeadlineFormula(t *testing.T) {
	now := time.Unix(0, 0)
	if d := transactionDeadline(now, 1); d.Sub(now) != minTransactionTimeout {
		t.Fatalf("expected floor of 120s, got %v", d.Sub(now))
	}
	if d := transactionDeadline(now, 100); d.Sub(now) != 200*time.Second {
		t.Fatalf("expected 100*2s=200s, got %v", d.Sub(now))
	}
}
