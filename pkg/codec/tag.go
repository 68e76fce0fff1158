package codec

import (
	"encoding/json"
	"fmt"
)

// Tag is a consolidating snapshot of a channel's state: a header plus the
// cumulative merkle it pins, and the minimal dependency set a receiver
// needs in order to adopt it without replaying the whole log (§4.6, §4.7).
// Unlike a Change, a Tag carries no hunks and no content bytes — its wire
// form is deliberately shorter, since most tags exist to be exchanged
// cheaply as sync checkpoints rather than applied node-by-node.
type Tag struct {
	Hash Hash

	Header       Header
	Merkle       Merkle
	Dependencies []Hash

	// ConsolidatedCount is the size of the consolidated-changes set this tag
	// summarizes — the whole channel log for a consolidating tag, 0 for a
	// lightweight one (§3's "structural summary: count of consolidated
	// changes").
	ConsolidatedCount int

	// PreviousConsolidation, if set, is the Hash of the consolidating tag
	// this one supersedes — the "optional previous-consolidation pointer"
	// a consolidation chain needs to walk back through its own history
	// without rescanning the whole log.
	PreviousConsolidation *Hash

	// VersionLabel is an opaque, caller-assigned label (e.g. a release
	// name); the tag engine never interprets it.
	VersionLabel string

	// AttributionAggregate is an optional opaque blob summarizing the
	// attribution metadata of every consolidated change, the same
	// caller-opaque treatment Change.Attribution gets.
	AttributionAggregate []byte

	Trailer []byte
}

// tagHashedPayload mirrors hashedPayload's role for Change: everything that
// contributes to a Tag's identity, marshaled together before hashing and
// compression.
type tagHashedPayload struct {
	Header                Header `json:"header"`
	Merkle                Merkle `json:"merkle"`
	Dependencies          []Hash `json:"dependencies,omitempty"`
	ConsolidatedCount     int    `json:"consolidated_count,omitempty"`
	PreviousConsolidation *Hash  `json:"previous_consolidation,omitempty"`
	VersionLabel          string `json:"version_label,omitempty"`
	AttributionAggregate  []byte `json:"attribution_aggregate,omitempty"`
}

func hashTag(plain []byte) Hash {
	return Hash(hashWithContext(contextTagHash, plain))
}

// EncodeTag serializes t the same way Encode does for a Change, sharing the
// outer magic/version/kind framing but with the shorter tagHashedPayload
// body described above.
func EncodeTag(t *Tag, compressionLevel int) ([]byte, Hash, error) {
	hashed := tagHashedPayload{
		Header:                t.Header,
		Merkle:                t.Merkle,
		Dependencies:          t.Dependencies,
		ConsolidatedCount:     t.ConsolidatedCount,
		PreviousConsolidation: t.PreviousConsolidation,
		VersionLabel:          t.VersionLabel,
		AttributionAggregate:  t.AttributionAggregate,
	}
	plain, err := json.Marshal(hashed)
	if err != nil {
		return nil, Hash{}, fmt.Errorf("codec: marshaling tag hashed section: %w", err)
	}
	h := hashTag(plain)

	compressed, err := compress(compressionLevel, plain)
	if err != nil {
		return nil, Hash{}, err
	}

	buf := make([]byte, 0, len(magic)+1+1+4+len(compressed)+4+len(t.Trailer))
	buf = append(buf, magic[:]...)
	buf = append(buf, formatVersion)
	buf = append(buf, byte(streamTag))
	buf = appendUint32(buf, uint32(len(compressed)))
	buf = append(buf, compressed...)
	buf = appendUint32(buf, uint32(len(t.Trailer)))
	buf = append(buf, t.Trailer...)
	return buf, h, nil
}

// DecodeTag parses a tag byte stream without hash verification.
func DecodeTag(data []byte) (*Tag, error) {
	return decodeTag(data, nil)
}

// DecodeTagExpectHash parses a tag byte stream and verifies its computed
// hash against want. A receiving peer over the sync protocol (§6.3) MUST
// use this form and MUST NOT derive the tags-table entry from anything the
// sender claimed — the hash is recomputed locally from the decompressed
// bytes, never trusted from the wire (§4.4's critical rule, restated here
// for tags since they are the one artifact a remote peer sends whole).
func DecodeTagExpectHash(data []byte, want Hash) (*Tag, error) {
	return decodeTag(data, &want)
}

// DecodeTagExpectMerkle parses a tag byte stream and verifies its Merkle
// field against want. This is the check a local apply actually needs: a
// tag's registry identity is its Merkle cast to Hash (spec.md §4.7 step 4,
// not a content digest), so what must hold at apply time is "these bytes
// really do pin the state this NodeId claims to pin," not "these bytes hash
// to some unrelated value." DecodeTagExpectHash stays for verifying a
// freshly-encoded artifact's own content hash (what SaveTag's tests check);
// this is the sibling used once a tag is already registered under its
// merkle.
func DecodeTagExpectMerkle(data []byte, want Merkle) (*Tag, error) {
	t, err := decodeTag(data, nil)
	if err != nil {
		return nil, err
	}
	if t.Merkle != want {
		return nil, fmt.Errorf("%w: tag pins merkle %s, expected %s", ErrHashMismatch, t.Merkle, want)
	}
	return t, nil
}

func decodeTag(data []byte, want *Hash) (*Tag, error) {
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
	if kind != streamTag {
		return nil, fmt.Errorf("codec: expected tag stream, got kind %d", kind)
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
	h := hashTag(plain)
	if want != nil && h != *want {
		return nil, fmt.Errorf("%w: computed %s, expected %s", ErrHashMismatch, h, *want)
	}

	var hashed tagHashedPayload
	if err := json.Unmarshal(plain, &hashed); err != nil {
		return nil, fmt.Errorf("codec: unmarshaling tag hashed section: %w", err)
	}

	trailerLen, rest, err := readUint32(rest)
	if err != nil {
		return nil, err
	}
	if uint64(len(rest)) < trailerLen {
		return nil, ErrTruncated
	}
	trailer := rest[:trailerLen]

	return &Tag{
		Hash:                  h,
		Header:                hashed.Header,
		Merkle:                hashed.Merkle,
		Dependencies:          hashed.Dependencies,
		ConsolidatedCount:     hashed.ConsolidatedCount,
		PreviousConsolidation: hashed.PreviousConsolidation,
		VersionLabel:          hashed.VersionLabel,
		AttributionAggregate:  hashed.AttributionAggregate,
		Trailer:               trailer,
	}, nil
}
