package wire

import (
	"bytes"
	"encoding/binary"
)

// Writer encodes a schema into a byte sequence. It is a thin
// wrapper over bytes.Buffer; encoding a well-formed in-memory value never
// errors, so nothing here returns one.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated encoded bytes.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

func (w *Writer) U8(v uint8) { w.buf.WriteByte(v) }
func (w *Writer) I8(v int8)  { w.U8(uint8(v)) }

func (w *Writer) U16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}
func (w *Writer) I16(v int16) { w.U16(uint16(v)) }

func (w *Writer) U32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}
func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

func (w *Writer) U64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}
func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

// RawBytes appends b verbatim, with no length prefix.
func (w *Writer) RawBytes(b []byte) { w.buf.Write(b) }

// String writes a length-prefixed UTF-8 string: u32 length, then bytes.
func (w *Writer) String(s string) {
	w.U32(uint32(len(s)))
	w.buf.WriteString(s)
}

// SeqLen writes the u32 count prefix of a homogeneous sequence or map.
func (w *Writer) SeqLen(n int) { w.U32(uint32(n)) }

// Float32 encodes v using the non-standard f32 scheme:
// v < 1e-7 maps to the sentinel 0xFFFFFFFF; otherwise
// floor((1/(1+v)) * 0xFFFFFFFF).
func (w *Writer) Float32(v float64) {
	if v < 1e-7 {
		w.U32(0xFFFFFFFF)
		return
	}
	n := uint32((1 / (1 + v)) * float64(0xFFFFFFFF))
	w.U32(n)
}
