package items

import "github.com/retroshare-go/retronode/internal/wire"

// Discovery subtypes:
// peer-list gossip, used to let the supervisor learn candidate locations
// from already-connected peers instead of only the on-disk config.
const (
	DiscoverySubtypePGPList  uint8 = 0x01
	DiscoverySubtypePGPCert  uint8 = 0x02
	DiscoverySubtypeContact  uint8 = 0x05 // deprecated, kept for decode compatibility
	DiscoverySubtypeIdentity uint8 = 0x06
	DiscoverySubtypeCertBlob uint8 = 0x09
)

// PGPList announces the sender's set of known PGP ids.
type PGPList struct {
	PgpIDs []uint32
}

func (PGPList) ServiceID() uint16 { return ServiceDiscovery }
func (PGPList) Subtype() uint8    { return DiscoverySubtypePGPList }
func (p PGPList) Encode() []byte {
	w := wire.NewWriter()
	w.SeqLen(len(p.PgpIDs))
	for _, id := range p.PgpIDs {
		w.U32(id)
	}
	return w.Bytes()
}

func DecodePGPList(payload []byte) (PGPList, error) {
	r := wire.NewReader(payload)
	n, err := r.SeqLen()
	if err != nil {
		return PGPList{}, err
	}
	out := PGPList{PgpIDs: make([]uint32, 0, n)}
	for i := 0; i < n; i++ {
		id, err := r.U32()
		if err != nil {
			return PGPList{}, err
		}
		out.PgpIDs = append(out.PgpIDs, id)
	}
	return out, r.Finish()
}

// Contact lists one known location for a given PGP identity, so a peer
// can be offered as a dial candidate to the connection supervisor.
type Contact struct {
	PgpID uint32
	SslID [16]byte
	Name  string
	Addrs AddrSet
}

func (Contact) ServiceID() uint16 { return ServiceDiscovery }
func (Contact) Subtype() uint8    { return DiscoverySubtypeContact }
func (c Contact) Encode() []byte {
	w := wire.NewWriter()
	w.U32(c.PgpID)
	w.RawBytes(c.SslID[:])
	w.String(c.Name)
	w.RawBytes(EncodeAddrSet(c.Addrs))
	return w.Bytes()
}

func DecodeContact(payload []byte) (Contact, error) {
	r := wire.NewReader(payload)
	pgpID, err := r.U32()
	if err != nil {
		return Contact{}, err
	}
	raw, err := r.Bytes(16)
	if err != nil {
		return Contact{}, err
	}
	name, err := r.String()
	if err != nil {
		return Contact{}, err
	}
	addrs, err := DecodeAddrSet(r)
	if err != nil {
		return Contact{}, err
	}
	out := Contact{PgpID: pgpID, Name: name, Addrs: addrs}
	copy(out.SslID[:], raw)
	return out, r.Finish()
}
