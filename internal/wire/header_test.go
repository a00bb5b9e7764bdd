package wire

import "testing"

func TestHeaderRoundTripService(t *testing.T) {
	h := NewServiceHeader(0x0013, 0x37, 1074)
	enc := h.Encode()
	got, err := ParseHeader(enc[:])
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("got %+v want %+v", got, h)
	}
	size, err := got.PayloadSize()
	if err != nil {
		t.Fatal(err)
	}
	if size != 1066 {
		t.Fatalf("payload size = %d", size)
	}
}

func TestHeaderRoundTripSlice(t *testing.T) {
	h := NewSliceHeader(SliceFlagStart, 0, 0x01f8)
	enc := h.Encode()
	// 10 01 00 00 00 00 01 f8: start fragment, slice 0, 504 payload bytes
	want := []byte{0x10, 0x01, 0x00, 0x00, 0x00, 0x00, 0x01, 0xf8}
	if string(enc[:]) != string(want) {
		t.Fatalf("got % x want % x", enc, want)
	}
	got, err := ParseHeader(enc[:])
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("got %+v want %+v", got, h)
	}
}

func TestHeaderRoundTripClass(t *testing.T) {
	h := NewClassHeader(1, 2, 3, 8+10)
	enc := h.Encode()
	got, err := ParseHeader(enc[:])
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("got %+v want %+v", got, h)
	}
}

func TestSliceProbeBytes(t *testing.T) {
	h := NewServiceHeader(0xaabb, 0xcc, 8)
	enc := h.Encode()
	want := []byte{0x02, 0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x00, 0x08}
	if string(enc[:]) != string(want) {
		t.Fatalf("got % x want % x", enc, want)
	}
}

func TestParseHeaderShort(t *testing.T) {
	if _, err := ParseHeader([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected short input error")
	}
}
