package items

import "github.com/retroshare-go/retronode/internal/wire"

// MaxItemPayload bounds the payload of a decoded legacy/service item.
// Headers declaring more than this are dropped as parse errors.
const MaxItemPayload = 262143

// Pack serializes a typed item into its full on-wire form: the 8-byte
// service header followed by the encoded payload. The result is what the
// framing layer slices and what a receiving node's reassembler must
// reproduce byte-for-byte.
func Pack(it Item) []byte {
	payload := it.Encode()
	h := wire.NewServiceHeader(it.ServiceID(), it.Subtype(), uint32(wire.HeaderSize+len(payload)))
	hb := h.Encode()
	out := make([]byte, 0, wire.HeaderSize+len(payload))
	out = append(out, hb[:]...)
	out = append(out, payload...)
	return out
}

// SliceProbe is the raw eight bytes every node writes first on a fresh
// connection: service 0xaabb, subtype 0xcc, total-size 8, no payload.
var SliceProbe = []byte{0x02, 0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x00, 0x08}

// IsSliceProbe reports whether a parsed service header is the probe. The
// probe is recognized structurally; it has no registry entry.
func IsSliceProbe(h wire.Header) bool {
	return h.Kind == wire.VersionService && h.ServiceID == ServiceSliceProbe && h.ServiceSubtyp == 0xcc
}
