package items

import "github.com/retroshare-go/retronode/internal/wire"

// ConfigItem is a class-header (legacy 0x01) framed key/value blob, the
// unit persisted-config files ("general.cfg", "peers.cfg") are built
// from. Unlike every other item in this package it is framed with a class header, not a
// service header, because that is what the config-store format uses.
type ConfigItem struct {
	Class   uint8
	Type    uint8
	Subtype uint8
	Key     string
	Value   []byte
}

// Encode writes the class header followed by the key/value payload.
func (c ConfigItem) Encode() []byte {
	w := wire.NewWriter()
	w.String(c.Key)
	w.SeqLen(len(c.Value))
	w.RawBytes(c.Value)
	body := w.Bytes()

	h := wire.NewClassHeader(c.Class, c.Type, c.Subtype, uint32(wire.HeaderSize+len(body)))
	hb := h.Encode()
	out := make([]byte, 0, len(hb)+len(body))
	out = append(out, hb[:]...)
	out = append(out, body...)
	return out
}

// DecodeConfigItem parses one class-framed config item, header included.
func DecodeConfigItem(data []byte) (ConfigItem, error) {
	if len(data) < wire.HeaderSize {
		return ConfigItem{}, wire.ErrShortInput
	}
	h, err := wire.ParseHeader(data[:wire.HeaderSize])
	if err != nil {
		return ConfigItem{}, err
	}
	n, err := h.PayloadSize()
	if err != nil {
		return ConfigItem{}, err
	}
	r := wire.NewReader(data[wire.HeaderSize : wire.HeaderSize+n])
	key, err := r.String()
	if err != nil {
		return ConfigItem{}, err
	}
	vn, err := r.SeqLen()
	if err != nil {
		return ConfigItem{}, err
	}
	val, err := r.Bytes(vn)
	if err != nil {
		return ConfigItem{}, err
	}
	if err := r.Finish(); err != nil {
		return ConfigItem{}, err
	}
	return ConfigItem{Class: h.Class, Type: h.Type, Subtype: h.ClassSubtyp, Key: key, Value: val}, nil
}
