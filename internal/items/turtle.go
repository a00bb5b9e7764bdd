package items

import "github.com/retroshare-go/retronode/internal/wire"

// Turtle subtypes. Only open-tunnel, tunnel-ok and generic-data are
// interpreted here; the rest may be registered by an external service and
// are otherwise forwarded opaquely.
const (
	TurtleSubtypeStringSearchRequest uint8 = 0x01
	TurtleSubtypeSearchResult        uint8 = 0x02
	TurtleSubtypeOpenTunnel          uint8 = 0x03
	TurtleSubtypeTunnelOK            uint8 = 0x04
	TurtleSubtypeFileRequest         uint8 = 0x07
	TurtleSubtypeFileData            uint8 = 0x08
	TurtleSubtypeRegexpSearchRequest uint8 = 0x09
	TurtleSubtypeGenericData         uint8 = 0x0a
	TurtleSubtypeGenericSearchReq    uint8 = 0x0b
	TurtleSubtypeGenericSearchResult uint8 = 0x0c
	TurtleSubtypeFileMap             uint8 = 0x10
	TurtleSubtypeFileMapRequest      uint8 = 0x11
	TurtleSubtypeChunkCRC            uint8 = 0x14
	TurtleSubtypeChunkCRCRequest     uint8 = 0x15
)

// OpenTunnel is the tunnel-open request: flood-and-remember
// with a request-id the request cache dedups on.
type OpenTunnel struct {
	RequestID   uint32
	PartialHash []byte // opaque search-key bytes; not interpreted by the core
	Depth       uint16
}

func (OpenTunnel) ServiceID() uint16 { return ServiceTurtle }
func (OpenTunnel) Subtype() uint8    { return TurtleSubtypeOpenTunnel }
func (o OpenTunnel) Encode() []byte {
	w := wire.NewWriter()
	w.U32(o.RequestID)
	w.U16(o.Depth)
	w.SeqLen(len(o.PartialHash))
	w.RawBytes(o.PartialHash)
	return w.Bytes()
}

func DecodeOpenTunnel(payload []byte) (OpenTunnel, error) {
	r := wire.NewReader(payload)
	reqID, err := r.U32()
	if err != nil {
		return OpenTunnel{}, err
	}
	depth, err := r.U16()
	if err != nil {
		return OpenTunnel{}, err
	}
	n, err := r.SeqLen()
	if err != nil {
		return OpenTunnel{}, err
	}
	hash, err := r.Bytes(n)
	if err != nil {
		return OpenTunnel{}, err
	}
	return OpenTunnel{RequestID: reqID, Depth: depth, PartialHash: hash}, r.Finish()
}

// TunnelOK is the response to a successful OpenTunnel,
// carrying the newly assigned tunnel-id.
type TunnelOK struct {
	RequestID uint32
	TunnelID  uint32
}

func (TunnelOK) ServiceID() uint16 { return ServiceTurtle }
func (TunnelOK) Subtype() uint8    { return TurtleSubtypeTunnelOK }
func (t TunnelOK) Encode() []byte {
	w := wire.NewWriter()
	w.U32(t.RequestID)
	w.U32(t.TunnelID)
	return w.Bytes()
}

func DecodeTunnelOK(payload []byte) (TunnelOK, error) {
	r := wire.NewReader(payload)
	reqID, err := r.U32()
	if err != nil {
		return TunnelOK{}, err
	}
	tunID, err := r.U32()
	if err != nil {
		return TunnelOK{}, err
	}
	return TunnelOK{RequestID: reqID, TunnelID: tunID}, r.Finish()
}

// GenericData carries opaque tunneled payload bytes across an already
// established tunnel-id. The core forwards these unchanged.
type GenericData struct {
	TunnelID uint32
	Data     []byte
}

func (GenericData) ServiceID() uint16 { return ServiceTurtle }
func (GenericData) Subtype() uint8    { return TurtleSubtypeGenericData }
func (g GenericData) Encode() []byte {
	w := wire.NewWriter()
	w.U32(g.TunnelID)
	w.SeqLen(len(g.Data))
	w.RawBytes(g.Data)
	return w.Bytes()
}

func DecodeGenericData(payload []byte) (GenericData, error) {
	r := wire.NewReader(payload)
	tunID, err := r.U32()
	if err != nil {
		return GenericData{}, err
	}
	n, err := r.SeqLen()
	if err != nil {
		return GenericData{}, err
	}
	data, err := r.Bytes(n)
	if err != nil {
		return GenericData{}, err
	}
	return GenericData{TunnelID: tunID, Data: data}, r.Finish()
}
