package codec

import "encoding/json"

// headerOnlyPayload unmarshals only the Header field out of a hashed
// section, leaving Go's json package to silently discard the rest. This is
// the "cheap header-only fetch" spec.md §6.1 calls get_header: it still
// pays for zstd decompression (there is no way around that without a
// separately stored header copy) but skips hunk/content allocation and
// hunk-range validation entirely.
type headerOnlyPayload struct {
	Header Header `json:"header"`
}

// DecodeChangeHeader extracts just the Header from a change byte stream
// without decoding or validating hunks or contents.
func DecodeChangeHeader(data []byte) (Header, error) {
	plain, _, err := decodeHashedSection(data, streamChange)
	if err != nil {
		return Header{}, err
	}
	var h headerOnlyPayload
	if err := json.Unmarshal(plain, &h); err != nil {
		return Header{}, err
	}
	return h.Header, nil
}

// DecodeTagHeader extracts just the Header from a tag byte stream.
func DecodeTagHeader(data []byte) (Header, error) {
	plain, _, err := decodeHashedSection(data, streamTag)
	if err != nil {
		return Header{}, err
	}
	var h headerOnlyPayload
	if err := json.Unmarshal(plain, &h); err != nil {
		return Header{}, err
	}
	return h.Header, nil
}

// decodeHashedSection parses the outer framing shared by Change and Tag
// streams and returns the decompressed hashed-section bytes, checking that
// the stream's kind byte matches want.
func decodeHashedSection(data []byte, want streamKind) ([]byte, streamKind, error) {
	rest := data
	if len(rest) < len(magic)+1+1+4 {
		return nil, 0, ErrTruncated
	}
	if [4]byte(rest[:4]) != magic {
		return nil, 0, ErrBadMagic
	}
	rest = rest[4:]

	version := rest[0]
	rest = rest[1:]
	if version != formatVersion {
		return nil, 0, ErrUnsupportedVersion
	}

	kind := streamKind(rest[0])
	rest = rest[1:]
	if kind != want {
		return nil, kind, ErrBadMagic
	}

	compressedLen, rest, err := readUint32(rest)
	if err != nil {
		return nil, kind, err
	}
	if uint64(len(rest)) < compressedLen {
		return nil, kind, ErrTruncated
	}
	compressed := rest[:compressedLen]

	plain, err := decompress(compressed)
	if err != nil {
		return nil, kind, err
	}
	return plain, kind, nil
}
