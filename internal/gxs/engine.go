// Package gxs implements the GXS transaction engine: multi-item,
// acknowledged transfers of group/message metadata between peers, keyed
// by (peer, transaction-id) and partitioned by peer for locking.
package gxs

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/retroshare-go/retronode/internal/items"
)

// State is one of the six transaction lifecycle states.
type State uint8

const (
	StateStarting State = iota
	StateWaitingConfirm
	StateSending
	StateReceiving
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateWaitingConfirm:
		return "WaitingConfirm"
	case StateSending:
		return "Sending"
	case StateReceiving:
		return "Receiving"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Direction records which side of the begin/ack/end handshake this
// transaction is driving.
type Direction uint8

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
)

// minTransactionTimeout and perItemTimeout set the transaction deadline:
// max(120s, item_count * 2s).
const (
	minTransactionTimeout = 120 * time.Second
	perItemTimeout        = 2 * time.Second
)

func transactionDeadline(now time.Time, itemCount uint32) time.Time {
	d := time.Duration(itemCount) * perItemTimeout
	if d < minTransactionTimeout {
		d = minTransactionTimeout
	}
	return now.Add(d)
}

// Transaction is one (peer, transaction-id) entry.
type Transaction struct {
	Peer      string
	ID        uint32
	Direction Direction
	Type      items.TransactionType
	Expected  uint32
	Items     []items.GroupItem
	State     State
	Deadline  time.Time
}

var (
	// ErrDuplicateBegin is returned when a Begin arrives for a
	// (peer, id) pair that already has a transaction.
	ErrDuplicateBegin = fmt.Errorf("gxs: duplicate begin for existing transaction")
	// ErrUnknownTransaction is returned when an item or control message
	// references a (peer, id) pair with no transaction.
	ErrUnknownTransaction = fmt.Errorf("gxs: no transaction for id")
	// ErrSendingSlotBusy is returned by BeginOutgoing when the peer
	// already has an outgoing transaction that was acknowledged and has
	// not yet ended.
	ErrSendingSlotBusy = fmt.Errorf("gxs: outbound peer already has a sending transaction")
)

// Sender delivers transaction control items and data items to a peer,
// implemented by the connection supervisor (Supervisor.SendItem) in
// production.
type Sender interface {
	SendItem(peer string, item items.Item)
}

// peerPartition holds one peer's transaction table and its own lock, so
// the engine never holds two partitions' locks simultaneously.
type peerPartition struct {
	mu             sync.Mutex
	transactions   map[uint32]*Transaction
	sendingActive  bool
	nextOutboundID uint32
}

// Engine is the GXS transaction engine for one node.
type Engine struct {
	mu         sync.Mutex
	partitions map[string]*peerPartition
	sender     Sender
	idSeed     uint32

	// OnComplete, when set, receives every incoming transaction that
	// reaches Completed, for post-processing (persisting groups/messages).
	// Called without any partition lock held.
	OnComplete func(*Transaction)
}

// New builds an engine. idSeed is the clock-derived starting point for
// monotonic outbound transaction-ids.
func New(sender Sender, idSeed uint32) *Engine {
	return &Engine{partitions: make(map[string]*peerPartition), sender: sender, idSeed: idSeed}
}

func (e *Engine) partition(peer string) *peerPartition {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.partitions[peer]
	if !ok {
		p = &peerPartition{transactions: make(map[uint32]*Transaction), nextOutboundID: e.idSeed}
		e.partitions[peer] = p
	}
	return p
}

// OnTransactionItem dispatches one received control item to the matching
// state-machine transition.
func (e *Engine) OnTransactionItem(peer string, item items.TransactionItem, now time.Time) error {
	switch item.Flag {
	case items.FlagBegin:
		return e.onIncomingBegin(peer, item, now)
	case items.FlagBeginAck:
		return e.onBeginAck(peer, item, now)
	case items.FlagEndSuccess:
		return e.onEndSuccess(peer, item)
	case items.FlagCancel, items.FlagEndFailNum, items.FlagEndFailTimeout, items.FlagEndFailFull:
		return e.onEndFailure(peer, item)
	default:
		return fmt.Errorf("gxs: unknown transaction flag 0x%04x", item.Flag)
	}
}

func (e *Engine) onIncomingBegin(peer string, item items.TransactionItem, now time.Time) error {
	p := e.partition(peer)
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.transactions[item.TransactionID]; exists {
		logrus.WithFields(logrus.Fields{"peer": peer, "txid": item.TransactionID}).
			Warn("gxs: duplicate begin for existing transaction, dropping")
		return ErrDuplicateBegin
	}
	tx := &Transaction{
		Peer:      peer,
		ID:        item.TransactionID,
		Direction: DirectionIncoming,
		Type:      item.Type,
		Expected:  item.ItemCount,
		State:     StateReceiving,
		Deadline:  transactionDeadline(now, item.ItemCount),
	}
	p.transactions[item.TransactionID] = tx

	ack := items.TransactionItem{TransactionID: item.TransactionID, Flag: items.FlagBeginAck, Type: item.Type}
	e.sender.SendItem(peer, ack)
	return nil
}

// OnGroupItem appends a data item to a (peer, txID) transaction the engine
// is Receiving, completing it once the expected count is reached.
func (e *Engine) OnGroupItem(peer string, txID uint32, item items.GroupItem) error {
	p := e.partition(peer)
	p.mu.Lock()

	tx, ok := p.transactions[txID]
	if !ok {
		p.mu.Unlock()
		logrus.WithFields(logrus.Fields{"peer": peer, "txid": txID}).
			Warn("gxs: item for unknown transaction, dropping")
		return ErrUnknownTransaction
	}
	if tx.State != StateReceiving {
		p.mu.Unlock()
		return fmt.Errorf("gxs: item for transaction %d not in Receiving state (%s)", txID, tx.State)
	}
	if uint32(len(tx.Items)) >= tx.Expected {
		p.mu.Unlock()
		return fmt.Errorf("gxs: transaction %d already has its expected item count", txID)
	}
	tx.Items = append(tx.Items, item)
	var completed *Transaction
	if uint32(len(tx.Items)) == tx.Expected {
		tx.State = StateCompleted
		completed = tx
		e.sender.SendItem(peer, items.TransactionItem{TransactionID: txID, Flag: items.FlagEndSuccess, Type: tx.Type})
		delete(p.transactions, txID)
	}
	p.mu.Unlock()

	if completed != nil && e.OnComplete != nil {
		e.OnComplete(completed)
	}
	return nil
}

// BeginOutgoing starts a new outbound transaction toward peer. It fails with ErrSendingSlotBusy if the peer
// already has an outgoing transaction that was acknowledged and has not yet
// ended (the concurrency floor).
func (e *Engine) BeginOutgoing(peer string, typ items.TransactionType, payload []items.GroupItem, now time.Time) (uint32, error) {
	p := e.partition(peer)
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sendingActive {
		return 0, ErrSendingSlotBusy
	}

	txID := p.nextOutboundID
	p.nextOutboundID++

	tx := &Transaction{
		Peer:      peer,
		ID:        txID,
		Direction: DirectionOutgoing,
		Type:      typ,
		Expected:  uint32(len(payload)),
		Items:     payload,
		State:     StateWaitingConfirm,
		Deadline:  transactionDeadline(now, uint32(len(payload))),
	}
	p.transactions[txID] = tx

	e.sender.SendItem(peer, items.TransactionItem{
		TransactionID: txID,
		Flag:          items.FlagBegin,
		Type:          typ,
		ItemCount:     uint32(len(payload)),
	})
	return txID, nil
}

func (e *Engine) onBeginAck(peer string, item items.TransactionItem, now time.Time) error {
	p := e.partition(peer)
	p.mu.Lock()
	defer p.mu.Unlock()

	tx, ok := p.transactions[item.TransactionID]
	if !ok || tx.Direction != DirectionOutgoing || tx.State != StateWaitingConfirm {
		logrus.WithFields(logrus.Fields{"peer": peer, "txid": item.TransactionID}).
			Warn("gxs: begin-ack for unknown/mismatched outgoing transaction")
		return ErrUnknownTransaction
	}

	p.sendingActive = true
	tx.State = StateSending
	for _, gi := range tx.Items {
		gi.TransactionID = tx.ID
		e.sender.SendItem(peer, gi)
	}
	tx.State = StateWaitingConfirm
	return nil
}

func (e *Engine) onEndSuccess(peer string, item items.TransactionItem) error {
	p := e.partition(peer)
	p.mu.Lock()
	defer p.mu.Unlock()

	tx, ok := p.transactions[item.TransactionID]
	if !ok {
		logrus.WithFields(logrus.Fields{"peer": peer, "txid": item.TransactionID}).
			Warn("gxs: end-success for unknown transaction")
		return ErrUnknownTransaction
	}
	tx.State = StateCompleted
	if tx.Direction == DirectionOutgoing {
		p.sendingActive = false
	}
	delete(p.transactions, item.TransactionID)
	return nil
}

func (e *Engine) onEndFailure(peer string, item items.TransactionItem) error {
	p := e.partition(peer)
	p.mu.Lock()
	defer p.mu.Unlock()

	tx, ok := p.transactions[item.TransactionID]
	if !ok {
		return ErrUnknownTransaction
	}
	tx.State = StateFailed
	if tx.Direction == DirectionOutgoing {
		p.sendingActive = false
	}
	delete(p.transactions, item.TransactionID)
	return nil
}

// Tick expires any transaction whose deadline has passed, returning the transactions it failed for the caller to log
// or hand to sync-retry logic.
func (e *Engine) Tick(now time.Time) []*Transaction {
	e.mu.Lock()
	partitions := make([]*peerPartition, 0, len(e.partitions))
	for _, p := range e.partitions {
		partitions = append(partitions, p)
	}
	e.mu.Unlock()

	var failed []*Transaction
	for _, p := range partitions {
		p.mu.Lock()
		for id, tx := range p.transactions {
			if tx.State == StateCompleted || tx.State == StateFailed {
				delete(p.transactions, id)
				continue
			}
			if now.After(tx.Deadline) {
				tx.State = StateFailed
				if tx.Direction == DirectionOutgoing {
					p.sendingActive = false
				}
				delete(p.transactions, id)
				failed = append(failed, tx)
			}
		}
		p.mu.Unlock()
	}
	return failed
}

// Lookup returns the live transaction for (peer, txID), for tests and
// diagnostics.
func (e *Engine) Lookup(peer string, txID uint32) (*Transaction, bool) {
	p := e.partition(peer)
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.transactions[txID]
	return tx, ok
}
