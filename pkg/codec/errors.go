package codec

import "errors"

// Codec failures per spec.md §4.1. Every one of them is fatal for the
// input being decoded and leaves no partial state: decode either returns a
// complete, validated Change/Tag or one of these errors, never both.
var (
	ErrTruncated          = errors.New("codec: truncated input")
	ErrUnsupportedVersion = errors.New("codec: unsupported format version")
	ErrBadMagic           = errors.New("codec: bad magic")
	ErrHashMismatch       = errors.New("codec: hash mismatch")
	ErrHunkOutOfRange     = errors.New("codec: hunk out of range")
	ErrDecompression      = errors.New("codec: decompression error")
	ErrUnknownHunkKind    = errors.New("codec: unknown hunk kind")
)
