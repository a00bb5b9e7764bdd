package wire

import "fmt"

// TLVHeaderSize is the length of a TLV tag+length prefix: u16 tag, u32
// total-length-including-header.
const TLVHeaderSize = 6

// TLVHeader is the tag/length pair at the front of every TLV value.
type TLVHeader struct {
	Tag   uint16
	Total uint32 // includes the 6-byte header itself
}

// PayloadLen returns the number of payload bytes following the header.
func (h TLVHeader) PayloadLen() (int, error) {
	if h.Total < TLVHeaderSize {
		return 0, fmt.Errorf("%w: tlv total length %d shorter than header", ErrShortInput, h.Total)
	}
	return int(h.Total) - TLVHeaderSize, nil
}

// WriteTLVHeader writes tag and total length (header + payloadLen).
func (w *Writer) WriteTLVHeader(tag uint16, payloadLen int) {
	w.U16(tag)
	w.U32(uint32(payloadLen + TLVHeaderSize))
}

// TLVHeader reads a tag/total-length pair.
func (r *Reader) TLVHeader() (TLVHeader, error) {
	tag, err := r.U16()
	if err != nil {
		return TLVHeader{}, err
	}
	total, err := r.U32()
	if err != nil {
		return TLVHeader{}, err
	}
	return TLVHeader{Tag: tag, Total: total}, nil
}

// ExpectTLVTag reads a header and verifies its tag, returning the payload
// byte count on success (strict TLV).
func (r *Reader) ExpectTLVTag(want uint16) (int, error) {
	h, err := r.TLVHeader()
	if err != nil {
		return 0, err
	}
	if h.Tag != want {
		return 0, fmt.Errorf("%w: want 0x%04x, got 0x%04x", ErrTagMismatch, want, h.Tag)
	}
	return h.PayloadLen()
}

// TLVSub reads a full sub-TLV (header + payload) as raw bytes, used by
// container TLVs (sequences of sub-TLVs, e.g. an IP-address-set) to walk
// their children without knowing each child's schema up front.
func (r *Reader) TLVSub() (tag uint16, payload []byte, err error) {
	h, err := r.TLVHeader()
	if err != nil {
		return 0, nil, err
	}
	n, err := h.PayloadLen()
	if err != nil {
		return 0, nil, err
	}
	payload, err = r.Bytes(n)
	if err != nil {
		return 0, nil, err
	}
	return h.Tag, payload, nil
}

// WriteTLVBytes writes a full strict TLV value (tag, length, raw payload).
func (w *Writer) WriteTLVBytes(tag uint16, payload []byte) {
	w.WriteTLVHeader(tag, len(payload))
	w.RawBytes(payload)
}
