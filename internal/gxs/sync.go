package gxs

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/retroshare-go/retronode/internal/gxsdb"
	"github.com/retroshare-go/retronode/internal/items"
	"github.com/retroshare-go/retronode/internal/model"
	"github.com/retroshare-go/retronode/internal/support"
)

// syncInterval is how long a peer may go without a group-list poll before
// the next engine tick initiates one.
const syncInterval = 5 * time.Minute

// Syncer drives periodic group-sync polling: it consults the per-peer
// last-synced table, sends sync requests when a peer is due, and answers
// incoming requests by building a group-list-response transaction from the
// store.
type Syncer struct {
	engine *Engine
	store  *gxsdb.Store
	times  *support.GxsSyncTimestamps
}

// NewSyncer wires the engine to its store and timestamp table.
func NewSyncer(engine *Engine, store *gxsdb.Store, times *support.GxsSyncTimestamps) *Syncer {
	return &Syncer{engine: engine, store: store, times: times}
}

// Poll sends a sync-group request to every connected peer that is due.
// Failed transactions are not retried here; the next due poll covers them.
func (s *Syncer) Poll(peers []model.SslID, now time.Time) {
	for _, id := range peers {
		if !s.times.Due(id, items.ServiceGxsID, syncInterval) {
			continue
		}
		var since uint32
		if last, ok := s.times.LastSynced(id, items.ServiceGxsID); ok {
			since = uint32(last.Unix())
		}
		s.engine.sender.SendItem(id.String(), items.SyncGrpReq{Since: since})
		s.times.MarkSynced(id, items.ServiceGxsID, now)
	}
}

// OnSyncRequest answers a peer's sync-group request with a
// group-list-response transaction covering everything updated since the
// requested timestamp. An empty result sends nothing.
func (s *Syncer) OnSyncRequest(peer string, req items.SyncGrpReq, now time.Time) {
	if s.store == nil {
		return
	}
	groups, err := s.store.GroupsSince(int64(req.Since))
	if err != nil {
		logrus.WithField("peer", peer).Warnf("gxs: sync query failed, skipping: %v", err)
		return
	}
	if len(groups) == 0 {
		return
	}
	payload := make([]items.GroupItem, 0, len(groups))
	for _, g := range groups {
		payload = append(payload, items.GroupItem{
			PublishTS: g.TimeStamp,
			Payload:   g.NxsData,
		})
	}
	if _, err := s.engine.BeginOutgoing(peer, items.TypeGroupListResponse, payload, now); err != nil {
		logrus.WithField("peer", peer).Debugf("gxs: sync response deferred: %v", err)
	}
}

// Persist stores a completed incoming transaction's payload. Used as the
// engine's OnComplete hook.
func (s *Syncer) Persist(tx *Transaction) {
	if s.store == nil {
		return
	}
	for _, gi := range tx.Items {
		row := gxsdb.GroupRow{
			GrpID:     groupIDOf(gi),
			TimeStamp: gi.PublishTS,
			NxsData:   gi.Payload,
		}
		if err := s.store.UpsertGroup(row); err != nil {
			logrus.WithField("peer", tx.Peer).Warnf("gxs: persist failed, skipping row: %v", err)
		}
	}
}

// groupIDOf derives a stable row key for an opaque group payload. The
// payload's own metadata carries the real id; until a higher layer parses
// it, the digest keeps replays idempotent.
func groupIDOf(gi items.GroupItem) string {
	return support.DigestHex(gi.Payload)
}
