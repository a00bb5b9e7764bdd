package items

import "github.com/retroshare-go/retronode/internal/wire"

// NXS subtypes. Only the transaction item, the group item (SubtypeGrp) and
// the sync-group request have registered schemas; items of the other
// subtypes are dropped as unknown.
const (
	SubtypeSyncGrpReq    uint8 = 0x01
	SubtypeSyncGrp       uint8 = 0x02
	SubtypeSyncGrpStats  uint8 = 0x03
	SubtypeGrp           uint8 = 0x04
	SubtypeEncryptedData uint8 = 0x05
	SubtypeSessionKey    uint8 = 0x06
	SubtypeSyncMsg       uint8 = 0x08
	SubtypeSyncMsgReq    uint8 = 0x10
	SubtypeMsg           uint8 = 0x20
	SubtypeTransaction   uint8 = 0x40
	SubtypeGrpPublishKey uint8 = 0x80
)

// TransactionFlag distinguishes the begin/ack/end phases of one GXS
// transaction.
type TransactionFlag uint16

const (
	FlagBegin          TransactionFlag = 0x0001
	FlagBeginAck       TransactionFlag = 0x0002
	FlagEndSuccess     TransactionFlag = 0x0004
	FlagEndFailNum     TransactionFlag = 0x0008 // item count mismatch at close
	FlagEndFailTimeout TransactionFlag = 0x0010
	FlagEndFailFull    TransactionFlag = 0x0020 // receiver rejected for capacity
	FlagCancel         TransactionFlag = 0x0040
)

// TransactionType names the kind of content a transaction carries.
type TransactionType uint16

const (
	TypeGroupListRequest  TransactionType = 1
	TypeGroupListResponse TransactionType = 2
	TypeGroups            TransactionType = 3
	TypeMsgListRequest    TransactionType = 4
	TypeMsgListResponse   TransactionType = 5
	TypeMsgs              TransactionType = 6
	TypeEncryptedData     TransactionType = 7
)

// TransactionItem is the begin/ack/end control item that brackets a GXS
// transaction's data items.
type TransactionItem struct {
	TransactionID uint32
	Flag          TransactionFlag
	Type          TransactionType
	ItemCount     uint32
	UpdateTS      uint32 // seconds, narrowed to u32 at the wire boundary
}

func (TransactionItem) ServiceID() uint16 { return ServiceGxsID }
func (TransactionItem) Subtype() uint8    { return SubtypeTransaction }
func (t TransactionItem) Encode() []byte {
	w := wire.NewWriter()
	w.U32(t.TransactionID)
	// Type and flag share one u16 on the wire: high byte = type, low
	// byte = flag.
	w.U16(uint16(t.Type)<<8 | uint16(t.Flag)&0x00ff)
	w.U32(t.ItemCount)
	w.U32(t.UpdateTS)
	return w.Bytes()
}

func DecodeTransactionItem(payload []byte) (TransactionItem, error) {
	r := wire.NewReader(payload)
	id, err := r.U32()
	if err != nil {
		return TransactionItem{}, err
	}
	typeFlag, err := r.U16()
	if err != nil {
		return TransactionItem{}, err
	}
	count, err := r.U32()
	if err != nil {
		return TransactionItem{}, err
	}
	ts, err := r.U32()
	if err != nil {
		return TransactionItem{}, err
	}
	return TransactionItem{
		TransactionID: id,
		Flag:          TransactionFlag(typeFlag & 0x00ff),
		Type:          TransactionType(typeFlag >> 8),
		ItemCount:     count,
		UpdateTS:      ts,
	}, r.Finish()
}

// GroupItem is one opaque piece of synchronized group/message metadata
// carried inside a transaction. The core does
// not interpret its inner bytes — persistence is the gxsdb.Store's job.
type GroupItem struct {
	TransactionID uint32
	PublishTS     int64 // kept at full width internally
	Payload       []byte
}

func (GroupItem) ServiceID() uint16 { return ServiceGxsID }
func (GroupItem) Subtype() uint8    { return SubtypeGrp }
func (g GroupItem) Encode() []byte {
	w := wire.NewWriter()
	w.U32(g.TransactionID)
	w.I64(g.PublishTS)
	w.SeqLen(len(g.Payload))
	w.RawBytes(g.Payload)
	return w.Bytes()
}

func DecodeGroupItem(payload []byte) (GroupItem, error) {
	r := wire.NewReader(payload)
	txID, err := r.U32()
	if err != nil {
		return GroupItem{}, err
	}
	ts, err := r.I64()
	if err != nil {
		return GroupItem{}, err
	}
	n, err := r.SeqLen()
	if err != nil {
		return GroupItem{}, err
	}
	body, err := r.Bytes(n)
	if err != nil {
		return GroupItem{}, err
	}
	return GroupItem{TransactionID: txID, PublishTS: ts, Payload: body}, r.Finish()
}

// SyncGrpReq requests the peer begin a group-list-response transaction,
// optionally restricted to groups updated since Since.
type SyncGrpReq struct {
	Since uint32
}

func (SyncGrpReq) ServiceID() uint16 { return ServiceGxsID }
func (SyncGrpReq) Subtype() uint8    { return SubtypeSyncGrpReq }
func (s SyncGrpReq) Encode() []byte {
	w := wire.NewWriter()
	w.U32(s.Since)
	return w.Bytes()
}

func DecodeSyncGrpReq(payload []byte) (SyncGrpReq, error) {
	r := wire.NewReader(payload)
	since, err := r.U32()
	if err != nil {
		return SyncGrpReq{}, err
	}
	return SyncGrpReq{Since: since}, r.Finish()
}
