package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/retroshare-go/retronode/internal/items"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "retronode.yaml")
	raw := []byte(`
base_dir: ` + dir + `
listen_port: 7912
bandwidth_limit: 65536
peers:
  - ssl_id: "000102030405060708090a0b0c0d0e0f"
    pgp_id: 305419896
    name: "alice-desktop"
    addrs: ["192.168.1.10:7812", "203.0.113.4:7812"]
  - ssl_id: "not-hex"
    name: "broken"
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenPort != 7912 || cfg.BandwidthLimit != 65536 {
		t.Fatalf("cfg = %+v", cfg)
	}

	locs, errs := cfg.Locations()
	if len(locs) != 1 {
		t.Fatalf("expected 1 valid location, got %d", len(locs))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error for the broken peer, got %v", errs)
	}
	l := locs[0]
	if l.Name != "alice-desktop" || l.PgpID != 305419896 || len(l.Addrs) != 2 {
		t.Fatalf("location = %+v", l)
	}
	if l.SslID[0] != 0x00 || l.SslID[15] != 0x0f {
		t.Fatalf("ssl id = %s", l.SslID)
	}
}

func TestFindLocationDirs(t *testing.T) {
	base := t.TempDir()
	for _, name := range []string{
		"LOC06_0123456789abcdef0123456789abcdef",
		"HID06_ffeeddccbbaa99887766554433221100",
		"LOC05_0123456789abcdef0123456789abcdef", // wrong version
		"LOC06_shorthex",
		"unrelated",
	} {
		if err := os.Mkdir(filepath.Join(base, name), 0o700); err != nil {
			t.Fatal(err)
		}
	}

	dirs, err := FindLocationDirs(base)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 2 {
		t.Fatalf("expected 2 location dirs, got %d", len(dirs))
	}
	var hidden int
	for _, d := range dirs {
		if d.Hidden {
			hidden++
			if d.SslID[0] != 0xff {
				t.Fatalf("hidden id = %s", d.SslID)
			}
		}
	}
	if hidden != 1 {
		t.Fatalf("hidden count = %d", hidden)
	}
}

func TestConfigItemsRoundTrip(t *testing.T) {
	in := []items.ConfigItem{
		{Class: 0x02, Type: 0x01, Subtype: 0x01, Key: "local_addr", Value: []byte("10.0.0.1:7812")},
		{Class: 0x02, Type: 0x01, Subtype: 0x02, Key: "dyndns", Value: nil},
		{Class: 0x02, Type: 0x02, Subtype: 0x01, Key: "peer_blob", Value: bytes.Repeat([]byte{0xab}, 600)},
	}
	var buf bytes.Buffer
	if err := WriteConfigItems(&buf, in); err != nil {
		t.Fatal(err)
	}
	out, err := ReadConfigItems(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d items", len(out))
	}
	for i := range in {
		if out[i].Key != in[i].Key || !bytes.Equal(out[i].Value, in[i].Value) {
			t.Fatalf("item %d mismatch: %+v vs %+v", i, out[i], in[i])
		}
		if out[i].Class != in[i].Class || out[i].Type != in[i].Type || out[i].Subtype != in[i].Subtype {
			t.Fatalf("item %d header mismatch", i)
		}
	}
}

func TestReadConfigItemsRejectsServiceFrames(t *testing.T) {
	// A service-framed item must not appear in a persisted blob.
	var buf bytes.Buffer
	buf.Write(items.Pack(items.Heartbeat{}))
	got, err := ReadConfigItems(&buf)
	if err == nil {
		t.Fatal("expected an error for a non-class frame")
	}
	if len(got) != 0 {
		t.Fatalf("got %d items before the error", len(got))
	}
}
