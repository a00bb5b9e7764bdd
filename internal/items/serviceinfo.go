package items

import (
	"github.com/retroshare-go/retronode/internal/wire"
)

// ServiceInfoOuterTag is the outer TLV tag wrapping the service-info item's
// payload.
const ServiceInfoOuterTag uint16 = 0x0001

const subtypeServiceInfo uint8 = 0x01

// ServiceEntry is one (id, name, version) tuple advertised during
// service-info negotiation. Fields are concatenated with no
// count prefix, following the tuple encoding rule.
type ServiceEntry struct {
	NumericID       uint32 // 0x02<<24 | service_id<<8
	Name            string
	VersionMajor    uint16
	VersionMinor    uint16
	MinVersionMajor uint16
	MinVersionMinor uint16
}

// ServiceInfoItem is the service-info item (service 0x0020, subtype 0x01)
// sent immediately after the slice-probe on every newly connected peer.
type ServiceInfoItem struct {
	Services []ServiceEntry
}

func (ServiceInfoItem) ServiceID() uint16 { return ServiceInfo }
func (ServiceInfoItem) Subtype() uint8    { return subtypeServiceInfo }

func (s ServiceInfoItem) Encode() []byte {
	w := wire.NewWriter()
	inner := wire.NewWriter()
	inner.SeqLen(len(s.Services))
	for _, e := range s.Services {
		inner.U32(e.NumericID)
		inner.String(e.Name)
		inner.U16(e.VersionMajor)
		inner.U16(e.VersionMinor)
		inner.U16(e.MinVersionMajor)
		inner.U16(e.MinVersionMinor)
	}
	w.WriteTLVBytes(ServiceInfoOuterTag, inner.Bytes())
	return w.Bytes()
}

// DecodeServiceInfo parses a service-info item payload (everything after
// the 8-byte item header).
func DecodeServiceInfo(payload []byte) (ServiceInfoItem, error) {
	r := wire.NewReader(payload)
	n, err := r.ExpectTLVTag(ServiceInfoOuterTag)
	if err != nil {
		return ServiceInfoItem{}, err
	}
	body, err := r.Bytes(n)
	if err != nil {
		return ServiceInfoItem{}, err
	}
	br := wire.NewReader(body)
	count, err := br.SeqLen()
	if err != nil {
		return ServiceInfoItem{}, err
	}
	out := ServiceInfoItem{Services: make([]ServiceEntry, 0, count)}
	for i := 0; i < count; i++ {
		var e ServiceEntry
		if e.NumericID, err = br.U32(); err != nil {
			return ServiceInfoItem{}, err
		}
		if e.Name, err = br.String(); err != nil {
			return ServiceInfoItem{}, err
		}
		if e.VersionMajor, err = br.U16(); err != nil {
			return ServiceInfoItem{}, err
		}
		if e.VersionMinor, err = br.U16(); err != nil {
			return ServiceInfoItem{}, err
		}
		if e.MinVersionMajor, err = br.U16(); err != nil {
			return ServiceInfoItem{}, err
		}
		if e.MinVersionMinor, err = br.U16(); err != nil {
			return ServiceInfoItem{}, err
		}
		out.Services = append(out.Services, e)
	}
	if err := br.Finish(); err != nil {
		return ServiceInfoItem{}, err
	}
	return out, nil
}

// NumericID builds the 0x02<<24 | service_id<<8 numeric identity used in
// service-info tuples for a given service-id.
func NumericID(serviceID uint16) uint32 {
	return uint32(0x02)<<24 | uint32(serviceID)<<8
}
