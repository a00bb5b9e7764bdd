package config

import (
	"fmt"
	"io"

	"github.com/retroshare-go/retronode/internal/items"
	"github.com/retroshare-go/retronode/internal/wire"
)

// ReadConfigItems parses a persisted config blob ("general.cfg",
// "peers.cfg" once decrypted): a concatenation of class-framed key/value
// items. A malformed item aborts the read at that point; everything parsed
// so far is returned alongside the error.
func ReadConfigItems(r io.Reader) ([]items.ConfigItem, error) {
	var out []items.ConfigItem
	var hdr [wire.HeaderSize]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, fmt.Errorf("config: item header: %w", err)
		}
		h, err := wire.ParseHeader(hdr[:])
		if err != nil {
			return out, fmt.Errorf("config: %w", err)
		}
		if h.Kind != wire.VersionClass {
			return out, fmt.Errorf("config: persisted blob holds non-class item kind 0x%02x", h.Kind)
		}
		n, err := h.PayloadSize()
		if err != nil {
			return out, fmt.Errorf("config: %w", err)
		}
		if n > items.MaxItemPayload {
			return out, fmt.Errorf("config: %w: item payload %d", wire.ErrOversized, n)
		}
		body := make([]byte, wire.HeaderSize+n)
		copy(body, hdr[:])
		if _, err := io.ReadFull(r, body[wire.HeaderSize:]); err != nil {
			return out, fmt.Errorf("config: item payload: %w", err)
		}
		it, err := items.DecodeConfigItem(body)
		if err != nil {
			return out, fmt.Errorf("config: %w", err)
		}
		out = append(out, it)
	}
}

// WriteConfigItems serializes cfg items back into the persisted blob form.
func WriteConfigItems(w io.Writer, cfgItems []items.ConfigItem) error {
	for _, it := range cfgItems {
		if _, err := w.Write(it.Encode()); err != nil {
			return fmt.Errorf("config: write item %q: %w", it.Key, err)
		}
	}
	return nil
}
