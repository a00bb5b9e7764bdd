package support

import (
	"sync"
	"time"
)

// TimeNow is overridable in tests; production code never calls time.Now
// directly inside this package so purge behavior is deterministic to test.
var TimeNow = time.Now

// RequestCache is the turtle-router request cache: request-id →
// (origin peer, creation time), entries older than its ttl are purged.
// Held behind a single exclusive lock.
type RequestCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uint32]requestEntry
}

type requestEntry struct {
	origin  string
	created time.Time
}

// NewRequestCache builds a cache with the given entry lifetime.
func NewRequestCache(ttl time.Duration) *RequestCache {
	return &RequestCache{ttl: ttl, entries: make(map[uint32]requestEntry)}
}

// Insert records a fresh request-id and its origin peer. Returns false if
// the request-id already existed (caller should drop the duplicate).
func (c *RequestCache) Insert(requestID uint32, origin string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[requestID]; exists {
		return false
	}
	c.entries[requestID] = requestEntry{origin: origin, created: TimeNow()}
	return true
}

// Lookup returns the origin peer and whether the entry exists and is
// younger than maxAge.
func (c *RequestCache) Lookup(requestID uint32, maxAge time.Duration) (origin string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, exists := c.entries[requestID]
	if !exists || TimeNow().Sub(e.created) >= maxAge {
		return "", false
	}
	return e.origin, true
}

// Remove deletes a request-id entry.
func (c *RequestCache) Remove(requestID uint32) {
	c.mu.Lock()
	delete(c.entries, requestID)
	c.mu.Unlock()
}

// Purge removes every entry older than the cache's configured ttl.
func (c *RequestCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := TimeNow().Add(-c.ttl)
	for id, e := range c.entries {
		if e.created.Before(cutoff) {
			delete(c.entries, id)
		}
	}
}

// Len reports the number of live entries, for tests and stats.
func (c *RequestCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ActiveTunnel is one row of the active tunnel table.
type ActiveTunnel struct {
	From       string
	To         string
	LastActive time.Time
}

// ActiveTunnelTable maps tunnel-id → ActiveTunnel, purging entries idle
// longer than its configured timeout.
type ActiveTunnelTable struct {
	mu      sync.Mutex
	idle    time.Duration
	entries map[uint32]ActiveTunnel
}

func NewActiveTunnelTable(idle time.Duration) *ActiveTunnelTable {
	return &ActiveTunnelTable{idle: idle, entries: make(map[uint32]ActiveTunnel)}
}

// Insert adds or overwrites a tunnel-id's row.
func (t *ActiveTunnelTable) Insert(tunnelID uint32, from, to string) (overwrote bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, overwrote = t.entries[tunnelID]
	t.entries[tunnelID] = ActiveTunnel{From: from, To: to, LastActive: TimeNow()}
	return overwrote
}

// Lookup returns the row for tunnelID, if any.
func (t *ActiveTunnelTable) Lookup(tunnelID uint32) (ActiveTunnel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[tunnelID]
	return e, ok
}

// Touch refreshes a tunnel's last-active timestamp.
func (t *ActiveTunnelTable) Touch(tunnelID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[tunnelID]; ok {
		e.LastActive = TimeNow()
		t.entries[tunnelID] = e
	}
}

// Remove deletes a tunnel-id row.
func (t *ActiveTunnelTable) Remove(tunnelID uint32) {
	t.mu.Lock()
	delete(t.entries, tunnelID)
	t.mu.Unlock()
}

// Purge removes every row idle longer than the table's configured timeout.
func (t *ActiveTunnelTable) Purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := TimeNow().Add(-t.idle)
	for id, e := range t.entries {
		if e.LastActive.Before(cutoff) {
			delete(t.entries, id)
		}
	}
}

func (t *ActiveTunnelTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// BounceCache is the generic per-room/per-peer replay-rejection cache:
// msg-id → last-seen time, entries expire after a configured ttl
// (default 20 min for chat).
type BounceCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uint64]time.Time
}

func NewBounceCache(ttl time.Duration) *BounceCache {
	return &BounceCache{ttl: ttl, entries: make(map[uint64]time.Time)}
}

// Seen records msgID as seen now and reports whether it was already
// present (and not yet expired) — the caller treats true as "reject as a
// replay".
func (b *BounceCache) Seen(msgID uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	last, exists := b.entries[msgID]
	now := TimeNow()
	b.entries[msgID] = now
	return exists && now.Sub(last) < b.ttl
}

func (b *BounceCache) Purge() {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := TimeNow().Add(-b.ttl)
	for id, t := range b.entries {
		if t.Before(cutoff) {
			delete(b.entries, id)
		}
	}
}

func (b *BounceCache) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
