package items

import (
	"fmt"
	"net"

	"github.com/retroshare-go/retronode/internal/wire"
)

// TLV tags for the address and string structures.
const (
	TagKey          uint16 = 0x0053
	TagValue        uint16 = 0x0054
	TagLocationName uint16 = 0x005c
	TagVersion      uint16 = 0x005f
	TagDynDNS       uint16 = 0x0083
	TagHiddenAddr   uint16 = 0x0084
	TagIPAddrInfo   uint16 = 0x1070
	TagIPAddrSet    uint16 = 0x1071
	TagIPAddr       uint16 = 0x1072
	TagKeyValue     uint16 = 0x1010
	TagKeyValueSet  uint16 = 0x1011

	subtagIPv4 uint16 = 0x0085
	subtagIPv6 uint16 = 0x0086
)

// Addr is a decoded IPv4 or IPv6 socket address carried inside an
// IpAddress TLV (tag 0x1072). The wire port field is byte-swapped relative
// to the rest of the big-endian protocol.
type Addr struct {
	IP   net.IP
	Port uint16
}

// EncodeIPAddress writes a full IpAddress TLV (outer tag 0x1072) wrapping a
// single IPv4 or IPv6 sub-TLV.
func EncodeIPAddress(a Addr) []byte {
	w := wire.NewWriter()
	sub := wire.NewWriter()
	if v4 := a.IP.To4(); v4 != nil {
		// IPv4 address octets go out reversed, like the port; IPv6
		// octets do not.
		sub.RawBytes(reverse4(v4))
		sub.U16(swapBytes16(a.Port))
		w.WriteTLVHeader(TagIPAddr, wire.TLVHeaderSize+len(sub.Bytes()))
		w.WriteTLVBytes(subtagIPv4, sub.Bytes())
	} else {
		v6 := a.IP.To16()
		sub.RawBytes(v6)
		sub.U16(swapBytes16(a.Port))
		w.WriteTLVHeader(TagIPAddr, wire.TLVHeaderSize+len(sub.Bytes()))
		w.WriteTLVBytes(subtagIPv6, sub.Bytes())
	}
	return w.Bytes()
}

// DecodeIPAddress reads an IpAddress TLV (outer tag 0x1072) from r.
func DecodeIPAddress(r *wire.Reader) (Addr, error) {
	n, err := r.ExpectTLVTag(TagIPAddr)
	if err != nil {
		return Addr{}, err
	}
	body, err := r.Bytes(n)
	if err != nil {
		return Addr{}, err
	}
	sr := wire.NewReader(body)
	tag, payload, err := sr.TLVSub()
	if err != nil {
		return Addr{}, err
	}
	pr := wire.NewReader(payload)
	switch tag {
	case subtagIPv4:
		ipb, err := pr.Bytes(4)
		if err != nil {
			return Addr{}, err
		}
		port, err := pr.U16()
		if err != nil {
			return Addr{}, err
		}
		return Addr{IP: net.IP(reverse4(ipb)), Port: swapBytes16(port)}, nil
	case subtagIPv6:
		ipb, err := pr.Bytes(16)
		if err != nil {
			return Addr{}, err
		}
		port, err := pr.U16()
		if err != nil {
			return Addr{}, err
		}
		return Addr{IP: net.IP(ipb), Port: swapBytes16(port)}, nil
	default:
		return Addr{}, fmt.Errorf("items: unknown address subtag 0x%04x", tag)
	}
}

// reverse4 returns the 4 address octets in reversed order, the on-wire
// layout of an IPv4 address inside an address TLV.
func reverse4(b []byte) []byte {
	return []byte{b[3], b[2], b[1], b[0]}
}

// swapBytes16 reverses the byte order of a 16-bit value; the port field
// inside address TLVs is little-endian though everything around it is
// big-endian.
func swapBytes16(v uint16) uint16 {
	return v<<8 | v>>8
}

// AddrSet is a container TLV (tag 0x1071) wrapping zero or more IpAddress
// sub-TLVs, used for "local" and "external" address lists.
type AddrSet struct {
	Addrs []Addr
}

func EncodeAddrSet(s AddrSet) []byte {
	w := wire.NewWriter()
	var body []byte
	for _, a := range s.Addrs {
		body = append(body, EncodeIPAddress(a)...)
	}
	w.WriteTLVHeader(TagIPAddrSet, len(body))
	w.RawBytes(body)
	return w.Bytes()
}

func DecodeAddrSet(r *wire.Reader) (AddrSet, error) {
	n, err := r.ExpectTLVTag(TagIPAddrSet)
	if err != nil {
		return AddrSet{}, err
	}
	body, err := r.Bytes(n)
	if err != nil {
		return AddrSet{}, err
	}
	br := wire.NewReader(body)
	var out AddrSet
	for !br.AtEnd() {
		a, err := DecodeIPAddress(br)
		if err != nil {
			return AddrSet{}, err
		}
		out.Addrs = append(out.Addrs, a)
	}
	return out, nil
}
