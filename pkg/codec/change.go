package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// magic identifies an arbor change/tag byte stream; version lets the format
// evolve without ever silently misinterpreting an old or foreign file.
var magic = [4]byte{'A', 'R', 'B', '1'}

const formatVersion = 1

// streamKind distinguishes a Change stream from a Tag stream sharing the same
// outer framing (magic, version, kind byte) — see tag.go.
type streamKind byte

const (
	streamChange streamKind = 1
	streamTag    streamKind = 2
)

// Header carries a change or tag's human-facing metadata.
type Header struct {
	Message     string    `json:"message"`
	Description string    `json:"description,omitempty"`
	Authors     []string  `json:"authors,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TagMetadata is the change payload's optional, advisory-only tag block
// (§4.4's critical rule). A change may declare it was recorded with some
// tag as an ancestor; the dependency resolver may use this as a
// consolidation hint (§4.6 step 4), but apply MUST NEVER read it to
// create or modify any entry in the tags table or tag-node registration —
// see pkg/registry's doc comment for the regression this rule guards
// against.
type TagMetadata struct {
	// AdvisoryAncestor is a tag hash this change was recorded against. It is
	// a hint, not a dependency: the change's real dependencies are its
	// Dependencies field.
	AdvisoryAncestor *Hash `json:"advisory_ancestor,omitempty"`
}

// Change is a patch: a header, a dependency set, optional tag/attribution
// metadata, and an ordered list of hunks, plus the raw content bytes its
// new-vertex hunks reference.
type Change struct {
	Hash Hash

	Header       Header
	Dependencies []Hash
	TagMeta      *TagMetadata
	Attribution  []byte
	Hunks        []Hunk
	Contents     []byte

	// Trailer holds unhashed, post-facto metadata (e.g. signatures) that
	// must never affect identity (§4.1's unhashed trailer).
	Trailer []byte
}

// hashedPayload is exactly the portion of a Change that is hashed and
// compressed: everything except the unhashed trailer. Marshaling this
// struct (rather than Change itself) keeps the trailer mechanically outside
// the hash's reach instead of relying on every call site to remember to
// exclude it.
type hashedPayload struct {
	Header       Header         `json:"header"`
	Dependencies []Hash         `json:"dependencies,omitempty"`
	TagMeta      *TagMetadata   `json:"tag_meta,omitempty"`
	Attribution  []byte         `json:"attribution,omitempty"`
	Hunks        []Hunk         `json:"hunks"`
	Contents     []byte         `json:"contents,omitempty"`
}

// Encode serializes c into the self-delimiting byte stream described in
// §4.1 and returns the bytes along with the freshly computed canonical
// Hash (c.Hash is ignored on input and overwritten on output — Encode is
// always the authority on a change's identity, never the caller).
func Encode(c *Change, compressionLevel int) ([]byte, Hash, error) {
	hashed := hashedPayload{
		Header:       c.Header,
		Dependencies: c.Dependencies,
		TagMeta:      c.TagMeta,
		Attribution:  c.Attribution,
		Hunks:        c.Hunks,
		Contents:     c.Contents,
	}
	plain, err := json.Marshal(hashed)
	if err != nil {
		return nil, Hash{}, fmt.Errorf("codec: marshaling hashed section: %w", err)
	}
	h := hashChange(plain)
	c.Hash = h

	compressed, err := compress(compressionLevel, plain)
	if err != nil {
		return nil, Hash{}, err
	}

	buf := make([]byte, 0, len(magic)+1+1+4+len(compressed)+4+len(c.Trailer))
	buf = append(buf, magic[:]...)
	buf = append(buf, formatVersion)
	buf = append(buf, byte(streamChange))
	buf = appendUint32(buf, uint32(len(compressed)))
	buf = append(buf, compressed...)
	buf = appendUint32(buf, uint32(len(c.Trailer)))
	buf = append(buf, c.Trailer...)
	return buf, h, nil
}

// Decode parses a change byte stream without checking its hash against any
// expectation; the returned Change.Hash is whatever the bytes hash to.
func Decode(data []byte) (*Change, error) {
	return decode(data, nil)
}

// DecodeExpectHash parses a change byte stream and additionally verifies
// that its computed hash equals want — used when a change arrives from an
// untrusted source (the sync protocol, §6.3) naming the hash it claims to
// be.
func DecodeExpectHash(data []byte, want Hash) (*Change, error) {
	return decode(data, &want)
}

func decode(data []byte, want *Hash) (*Change, error) {
	rest := data
	if len(rest) < len(magic)+1+1+4 {
		return nil, ErrTruncated
	}
	if [4]byte(rest[:4]) != magic {
		return nil, ErrBadMagic
	}
	rest = rest[4:]

	version := rest[0]
	rest = rest[1:]
	if version != formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	kind := streamKind(rest[0])
	rest = rest[1:]
	if kind != streamChange {
		return nil, fmt.Errorf("codec: expected change stream, got kind %d", kind)
	}

	compressedLen, rest, err := readUint32(rest)
	if err != nil {
		return nil, err
	}
	if uint64(len(rest)) < compressedLen {
		return nil, ErrTruncated
	}
	compressed := rest[:compressedLen]
	rest = rest[compressedLen:]

	plain, err := decompress(compressed)
	if err != nil {
		return nil, err
	}
	h := hashChange(plain)
	if want != nil && h != *want {
		return nil, fmt.Errorf("%w: computed %s, expected %s", ErrHashMismatch, h, *want)
	}

	var hashed hashedPayload
	if err := json.Unmarshal(plain, &hashed); err != nil {
		return nil, fmt.Errorf("codec: unmarshaling hashed section: %w", err)
	}

	contentsLen := uint64(len(hashed.Contents))
	for i, hunk := range hashed.Hunks {
		if err := hunk.Validate(contentsLen); err != nil {
			return nil, fmt.Errorf("codec: hunk %d: %w", i, err)
		}
	}

	trailerLen, rest, err := readUint32(rest)
	if err != nil {
		return nil, err
	}
	if uint64(len(rest)) < trailerLen {
		return nil, ErrTruncated
	}
	trailer := rest[:trailerLen]

	return &Change{
		Hash:         h,
		Header:       hashed.Header,
		Dependencies: hashed.Dependencies,
		TagMeta:      hashed.TagMeta,
		Attribution:  hashed.Attribution,
		Hunks:        hashed.Hunks,
		Contents:     hashed.Contents,
		Trailer:      trailer,
	}, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint32(data []byte) (uint64, []byte, error) {
	if len(data) < 4 {
		return 0, nil, ErrTruncated
	}
	return uint64(binary.BigEndian.Uint32(data[:4])), data[4:], nil
}
