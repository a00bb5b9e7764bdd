package wire

import "fmt"

// HeaderSize is the fixed 8-byte length of every item/slice header.
const HeaderSize = 8

// Header kind discriminants (byte 0 of the 8-byte header).
const (
	VersionClass   byte = 0x01
	VersionService byte = 0x02
	VersionSlice   byte = 0x10
)

// Header is a tagged variant over the three wire header shapes. Exactly
// one of the Kind-specific field groups is meaningful at a time; dispatch
// is a small switch on Kind rather than an interface hierarchy.
type Header struct {
	Kind byte

	// VersionClass (legacy) fields.
	Class       uint8
	Type        uint8
	ClassSubtyp uint8
	ClassSize   uint32 // includes the 8-byte header

	// VersionService fields.
	ServiceID     uint16
	ServiceSubtyp uint8
	ServiceSize   uint32 // includes the 8-byte header

	// VersionSlice fields. SliceID occupies a full 4-byte field on the
	// wire, but the allocator wraps its values at 2^24.
	PartialFlags uint8
	SliceID      uint32
	SlicePayload uint16 // excludes the 8-byte header
}

// Slice partial-flags bits.
const (
	SliceFlagStart uint8 = 1 << 0
	SliceFlagEnd   uint8 = 1 << 1
)

// NewClassHeader builds a legacy class header. size is the total size
// including the 8-byte header, matching the wire convention.
func NewClassHeader(class, typ, subtype uint8, totalSize uint32) Header {
	return Header{Kind: VersionClass, Class: class, Type: typ, ClassSubtyp: subtype, ClassSize: totalSize}
}

// NewServiceHeader builds a service header. totalSize includes the 8-byte
// header.
func NewServiceHeader(serviceID uint16, subtype uint8, totalSize uint32) Header {
	return Header{Kind: VersionService, ServiceID: serviceID, ServiceSubtyp: subtype, ServiceSize: totalSize}
}

// NewSliceHeader builds a slice header. payloadSize excludes the 8-byte
// header; the slice/service inconsistency is part of the wire format and
// must be preserved.
func NewSliceHeader(flags uint8, sliceID uint32, payloadSize uint16) Header {
	return Header{Kind: VersionSlice, PartialFlags: flags, SliceID: sliceID, SlicePayload: payloadSize}
}

// PayloadSize returns the number of payload bytes following this header,
// normalizing the total-size-vs-payload-size inconsistency between
// legacy/service headers (total includes header) and slice headers
// (payload-size excludes header).
func (h Header) PayloadSize() (int, error) {
	switch h.Kind {
	case VersionSlice:
		return int(h.SlicePayload), nil
	case VersionService:
		if h.ServiceSize < HeaderSize {
			return 0, fmt.Errorf("%w: service total size %d shorter than header", ErrShortInput, h.ServiceSize)
		}
		return int(h.ServiceSize) - HeaderSize, nil
	case VersionClass:
		if h.ClassSize < HeaderSize {
			return 0, fmt.Errorf("%w: class total size %d shorter than header", ErrShortInput, h.ClassSize)
		}
		return int(h.ClassSize) - HeaderSize, nil
	default:
		return 0, fmt.Errorf("wire: unknown header kind 0x%02x", h.Kind)
	}
}

// Encode writes the 8-byte on-wire header.
func (h Header) Encode() [HeaderSize]byte {
	var out [HeaderSize]byte
	w := NewWriter()
	switch h.Kind {
	case VersionSlice:
		w.U8(VersionSlice)
		w.U8(h.PartialFlags)
		w.U32(h.SliceID)
		w.U16(h.SlicePayload)
	case VersionService:
		t := uint32(VersionService)<<24 | uint32(h.ServiceID)<<8 | uint32(h.ServiceSubtyp)
		w.U32(t)
		w.U32(h.ServiceSize)
	case VersionClass:
		t := uint32(VersionClass)<<24 | uint32(h.Class)<<16 | uint32(h.Type)<<8 | uint32(h.ClassSubtyp)
		w.U32(t)
		w.U32(h.ClassSize)
	}
	copy(out[:], w.Bytes())
	return out
}

// ParseHeader decodes an 8-byte on-wire header, dispatching on the version
// byte.
func ParseHeader(data []byte) (Header, error) {
	if len(data) != HeaderSize {
		return Header{}, fmt.Errorf("%w: header must be %d bytes, got %d", ErrShortInput, HeaderSize, len(data))
	}
	r := NewReader(data)
	switch data[0] {
	case VersionClass:
		t, _ := r.U32()
		size, _ := r.U32()
		return Header{
			Kind:        VersionClass,
			Class:       uint8(t >> 16),
			Type:        uint8(t >> 8),
			ClassSubtyp: uint8(t),
			ClassSize:   size,
		}, nil
	case VersionService:
		t, _ := r.U32()
		size, _ := r.U32()
		return Header{
			Kind:          VersionService,
			ServiceID:     uint16(t >> 8),
			ServiceSubtyp: uint8(t),
			ServiceSize:   size,
		}, nil
	case VersionSlice:
		_, _ = r.U8()
		flags, _ := r.U8()
		sliceID, _ := r.U32()
		size, _ := r.U16()
		return Header{
			Kind:         VersionSlice,
			PartialFlags: flags,
			SliceID:      sliceID,
			SlicePayload: size,
		}, nil
	default:
		return Header{}, fmt.Errorf("wire: unknown header version byte 0x%02x", data[0])
	}
}
