package wire

import "errors"

// Error kinds for the codec.
var (
	ErrShortInput    = errors.New("wire: short input")
	ErrTrailingBytes = errors.New("wire: trailing bytes after framed decode")
	ErrOversized     = errors.New("wire: length exceeds configured maximum")
	ErrInvalidUTF8   = errors.New("wire: invalid utf-8 string")
	ErrTagMismatch   = errors.New("wire: tlv tag mismatch")
	ErrUnsupported   = errors.New("wire: unsupported schema (f64)")
)
