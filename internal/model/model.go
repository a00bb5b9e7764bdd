// Package model holds the data types shared across the node: the identities
// that own a connection, and the status a peer can be in. None of these
// types know how to speak the wire protocol; that lives in wire/frame/items.
package model

import (
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"
)

// SslID is the 16-byte identifier of one installed location.
type SslID [16]byte

func (id SslID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is the zero value.
func (id SslID) IsZero() bool { return id == SslID{} }

// PgpID is the identifier of the long-lived PGP certificate owning one or
// more locations.
type PgpID uint32

// ListenAddr is one address a location can be reached at.
type ListenAddr struct {
	IP   net.IP
	Port uint16
}

func (a ListenAddr) String() string { return fmt.Sprintf("%s:%d", a.IP, a.Port) }

// Location is one installed instance of the node software, identified by a
// 16-byte SSL id, owned by a PGP person. Locations are created from config
// load and live for the process.
type Location struct {
	SslID SslID
	PgpID PgpID
	Name  string
	Addrs []ListenAddr
	IsOwn bool

	mu        sync.RWMutex
	connected bool
	lastAttem time.Time
}

// NewLocation constructs a location with the given identity and addresses.
func NewLocation(id SslID, pgp PgpID, name string, addrs []ListenAddr) *Location {
	return &Location{SslID: id, PgpID: pgp, Name: name, Addrs: addrs}
}

// IsConnected reports whether the location currently has a live peer actor.
func (l *Location) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// SetConnected updates the connection flag.
func (l *Location) SetConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}

// LastAttempt returns the time of the last connect attempt (zero if none).
func (l *Location) LastAttempt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastAttem
}

// TouchAttempt records that a connect attempt happened now.
func (l *Location) TouchAttempt(at time.Time) {
	l.mu.Lock()
	l.lastAttem = at
	l.mu.Unlock()
}

// PeerState is the per-peer connection state machine.
type PeerState uint8

const (
	StateIdle PeerState = iota
	StateAttempting
	StateConnected
)

func (s PeerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
