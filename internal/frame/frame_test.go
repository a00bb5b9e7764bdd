package frame

import (
	"bytes"
	"testing"

	"github.com/retroshare-go/retronode/internal/wire"
)

func buildItem(serviceID uint16, subtype uint8, payload []byte) []byte {
	h := wire.NewServiceHeader(serviceID, subtype, uint32(wire.HeaderSize+len(payload)))
	hb := h.Encode()
	out := make([]byte, 0, wire.HeaderSize+len(payload))
	out = append(out, hb[:]...)
	out = append(out, payload...)
	return out
}

func TestFrameSingleFrameWhenSmall(t *testing.T) {
	item := buildItem(1, 1, []byte("hello"))
	frames := Frame(item, &SliceIDAllocator{})
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], item) {
		t.Fatalf("frame not bit-identical to item")
	}
}

func TestFrameFragmentedThreeWay(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, 1066)
	item := buildItem(0x0013, 0x37, payload)
	if len(item) != 1074 {
		t.Fatalf("test setup: item length = %d", len(item))
	}

	ids := &SliceIDAllocator{}
	frames := Frame(item, ids)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if len(frames[0]) != 512 || len(frames[1]) != 512 || len(frames[2]) != 74 {
		t.Fatalf("frame sizes = %d %d %d", len(frames[0]), len(frames[1]), len(frames[2]))
	}

	wantHdr0 := []byte{0x10, 0x01, 0x00, 0x00, 0x00, 0x00, 0x01, 0xf8}
	wantHdr1 := []byte{0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0xf8}
	wantHdr2 := []byte{0x10, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x42}
	if !bytes.Equal(frames[0][:8], wantHdr0) {
		t.Fatalf("frame0 header = % x", frames[0][:8])
	}
	if !bytes.Equal(frames[1][:8], wantHdr1) {
		t.Fatalf("frame1 header = % x", frames[1][:8])
	}
	if !bytes.Equal(frames[2][:8], wantHdr2) {
		t.Fatalf("frame2 header = % x", frames[2][:8])
	}

	// inner header present at the start of frame0's payload
	innerHdr, err := wire.ParseHeader(frames[0][8:16])
	if err != nil {
		t.Fatal(err)
	}
	if innerHdr.ServiceID != 0x0013 || innerHdr.ServiceSubtyp != 0x37 {
		t.Fatalf("inner header = %+v", innerHdr)
	}
}

func TestReassembleRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xcd}, 3000)
	item := buildItem(7, 9, payload)
	frames := Frame(item, &SliceIDAllocator{})
	if len(frames) < 2 {
		t.Fatalf("expected fragmentation, got %d frame(s)", len(frames))
	}

	re := NewReassembler(nil)
	var result []byte
	for _, f := range frames {
		h, err := wire.ParseHeader(f[:8])
		if err != nil {
			t.Fatal(err)
		}
		got, err := re.Feed(h, f[8:])
		if err != nil {
			t.Fatal(err)
		}
		if got != nil {
			result = got
		}
	}
	if !bytes.Equal(result, item) {
		t.Fatalf("reassembled item does not match original")
	}
	if re.Pending() != 0 {
		t.Fatalf("expected 0 pending entries after reassembly, got %d", re.Pending())
	}
}

func TestReassemblerDuplicateStartOverwrites(t *testing.T) {
	var warned bool
	re := NewReassembler(func(format string, args ...interface{}) { warned = true })

	h := wire.NewSliceHeader(wire.SliceFlagStart, 42, 3)
	if _, err := re.Feed(h, []byte("aaa")); err != nil {
		t.Fatal(err)
	}
	if _, err := re.Feed(h, []byte("bbb")); err != nil {
		t.Fatal(err)
	}
	if !warned {
		t.Fatal("expected warning on duplicate start")
	}
	end := wire.NewSliceHeader(wire.SliceFlagEnd, 42, 0)
	got, err := re.Feed(end, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("bbb")) {
		t.Fatalf("expected overwritten data, got %q", got)
	}
}

func TestReassemblerEndWithoutStartIgnored(t *testing.T) {
	var warned bool
	re := NewReassembler(func(format string, args ...interface{}) { warned = true })
	end := wire.NewSliceHeader(wire.SliceFlagEnd, 99, 0)
	got, err := re.Feed(end, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected no item")
	}
	if !warned {
		t.Fatal("expected warning")
	}
	if re.Pending() != 0 {
		t.Fatal("expected no entries created")
	}
}

func TestBothFlagsRejected(t *testing.T) {
	re := NewReassembler(nil)
	h := wire.NewSliceHeader(wire.SliceFlagStart|wire.SliceFlagEnd, 1, 1)
	if _, err := re.Feed(h, []byte("x")); err == nil {
		t.Fatal("expected rejection of both-flags fragment")
	}
}

func TestSliceIDWraps(t *testing.T) {
	ids := &SliceIDAllocator{next: 0x00fffffe}
	a := ids.Next()
	b := ids.Next()
	c := ids.Next()
	if a != 0x00fffffe || b != 0x00ffffff || c != 0 {
		t.Fatalf("got %x %x %x", a, b, c)
	}
}
