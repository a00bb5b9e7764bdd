package items

import "github.com/retroshare-go/retronode/internal/wire"

// Heartbeat is the content-less keepalive item: service
// 0x0016, subtype 0x01, empty payload, sent every 5s.
type Heartbeat struct{}

func (Heartbeat) ServiceID() uint16 { return ServiceHeartbeat }
func (Heartbeat) Subtype() uint8    { return 0x01 }
func (Heartbeat) Encode() []byte    { return nil }

// BandwidthLimit is the bandwidth-control item: service
// 0x0021, subtype 0x01, one u32 payload (bytes per second), emitted on
// connect and every 5s thereafter.
type BandwidthLimit struct {
	BytesPerSecond uint32
}

func (BandwidthLimit) ServiceID() uint16 { return ServiceBandwidthCtrl }
func (BandwidthLimit) Subtype() uint8    { return 0x01 }
func (b BandwidthLimit) Encode() []byte {
	w := wire.NewWriter()
	w.U32(b.BytesPerSecond)
	return w.Bytes()
}

func DecodeBandwidthLimit(payload []byte) (BandwidthLimit, error) {
	r := wire.NewReader(payload)
	v, err := r.U32()
	if err != nil {
		return BandwidthLimit{}, err
	}
	return BandwidthLimit{BytesPerSecond: v}, r.Finish()
}

// Status values for the status service.
const (
	StatusOffline uint32 = 0x0000
	StatusAway    uint32 = 0x0001
	StatusBusy    uint32 = 0x0002
	StatusOnline  uint32 = 0x0003
)

// StatusItem announces the sender's presence status.
type StatusItem struct {
	Status uint32
}

func (StatusItem) ServiceID() uint16 { return ServiceStatus }
func (StatusItem) Subtype() uint8    { return 0x01 }
func (s StatusItem) Encode() []byte {
	w := wire.NewWriter()
	w.U32(s.Status)
	return w.Bytes()
}

func DecodeStatus(payload []byte) (StatusItem, error) {
	r := wire.NewReader(payload)
	v, err := r.U32()
	if err != nil {
		return StatusItem{}, err
	}
	return StatusItem{Status: v}, r.Finish()
}

// RTT subtypes: request/reply pair.
const (
	rttSubtypePing uint8 = 0x01
	rttSubtypePong uint8 = 0x02
)

// packRTTTimestamp packs seconds/microseconds into one u64: upper 32 bits
// seconds, lower 32 bits microseconds.
func packRTTTimestamp(seconds, micros uint32) uint64 {
	return uint64(seconds)<<32 | uint64(micros)
}

func unpackRTTTimestamp(v uint64) (seconds, micros uint32) {
	return uint32(v >> 32), uint32(v)
}

// RTTPing carries a sequence number and a send timestamp.
type RTTPing struct {
	Seq       uint32
	SentSec   uint32
	SentMicro uint32
}

func (RTTPing) ServiceID() uint16 { return ServiceRTT }
func (RTTPing) Subtype() uint8    { return rttSubtypePing }
func (p RTTPing) Encode() []byte {
	w := wire.NewWriter()
	w.U32(p.Seq)
	w.U64(packRTTTimestamp(p.SentSec, p.SentMicro))
	return w.Bytes()
}

func DecodeRTTPing(payload []byte) (RTTPing, error) {
	r := wire.NewReader(payload)
	seq, err := r.U32()
	if err != nil {
		return RTTPing{}, err
	}
	ts, err := r.U64()
	if err != nil {
		return RTTPing{}, err
	}
	sec, micro := unpackRTTTimestamp(ts)
	return RTTPing{Seq: seq, SentSec: sec, SentMicro: micro}, r.Finish()
}

// RTTPong echoes the ping timestamp and adds the responder's own send time.
type RTTPong struct {
	Seq       uint32
	PingSec   uint32
	PingMicro uint32
	PongSec   uint32
	PongMicro uint32
}

func (RTTPong) ServiceID() uint16 { return ServiceRTT }
func (RTTPong) Subtype() uint8    { return rttSubtypePong }
func (p RTTPong) Encode() []byte {
	w := wire.NewWriter()
	w.U32(p.Seq)
	w.U64(packRTTTimestamp(p.PingSec, p.PingMicro))
	w.U64(packRTTTimestamp(p.PongSec, p.PongMicro))
	return w.Bytes()
}

func DecodeRTTPong(payload []byte) (RTTPong, error) {
	r := wire.NewReader(payload)
	seq, err := r.U32()
	if err != nil {
		return RTTPong{}, err
	}
	pingTS, err := r.U64()
	if err != nil {
		return RTTPong{}, err
	}
	pongTS, err := r.U64()
	if err != nil {
		return RTTPong{}, err
	}
	ps, pm := unpackRTTTimestamp(pingTS)
	qs, qm := unpackRTTTimestamp(pongTS)
	return RTTPong{Seq: seq, PingSec: ps, PingMicro: pm, PongSec: qs, PongMicro: qm}, r.Finish()
}
