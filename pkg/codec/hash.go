// Package codec implements the binary wire format for changes and tags: the
// self-delimiting byte stream described in spec.md §4.1, BLAKE3
// domain-separated hashing, the cumulative merkle function, and zstd
// compression of the hashed section.
//
// Nothing in this package touches a database — it is pure encode/decode,
// the same separation the teacher keeps between `storage` (persistence) and
// the value types it persists (`storage/types.go`).
package codec

import (
	"encoding/base32"
	"errors"
	"fmt"

	"lukechampine.com/blake3"
)

// Size is the fixed byte width of both Hash and Merkle.
const Size = 32

// hashEncoding is unpadded base32, the same encoding git-adjacent tools use
// for content identifiers that need to be filesystem- and URL-safe.
var hashEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Hash is a repository-portable content identifier for a node (change or
// tag). Unlike graph.NodeId, a Hash is meaningful across repositories: it is
// what travels over the sync protocol (§6.3) and what a change declares as
// a dependency.
type Hash [Size]byte

// ErrMalformedHash is returned when a string does not decode to a
// well-formed Hash.
var ErrMalformedHash = errors.New("codec: malformed hash")

// String renders h as unpadded base32, the canonical textual form used in
// changelist lines (§6.3) and the sharded changes-directory layout (§6.4).
func (h Hash) String() string {
	return hashEncoding.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash (never a valid node identity).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes the canonical base32 textual form produced by
// Hash.String. It validates only that the string is syntactically
// well-formed (§4.1's decoder check (c)); it does not look the hash up
// anywhere.
func ParseHash(s string) (Hash, error) {
	raw, err := hashEncoding.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	if len(raw) != Size {
		return Hash{}, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedHash, Size, len(raw))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return ErrMalformedHash
	}
	parsed, err := ParseHash(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// hashContexts are the BLAKE3 derive-key domain-separation strings used
// throughout the core. Every cryptographic digest the core computes names
// its own context so that, e.g., a change's canonical hash can never
// collide in value with an unrelated digest computed over the same bytes
// for a different purpose.
const (
	contextChangeHash = "arbor.dev patch-graph core 2024-01 change hash"
	contextMerkleMix  = "arbor.dev patch-graph core 2024-01 merkle mix"
	contextTagHash    = "arbor.dev patch-graph core 2024-01 tag hash"
)

// hashWithContext computes a domain-separated BLAKE3 digest of data. BLAKE3's
// native key-derivation mode (NewDeriveKey) is the "Blake3 domain-separated"
// hash function spec.md §4.1 calls for: two different contexts never produce
// colliding output even over identical input bytes.
func hashWithContext(context string, data ...[]byte) [Size]byte {
	h := blake3.NewDeriveKey(context)
	for _, d := range data {
		h.Write(d) //nolint:errcheck // hash.Hash.Write never errors
	}
	var out [Size]byte
	h.Sum(out[:0])
	return out
}

// hashChange computes a change's canonical Hash over its decompressed hashed
// section bytes.
func hashChange(decompressedHashedSection []byte) Hash {
	return Hash(hashWithContext(contextChangeHash, decompressedHashedSection))
}
