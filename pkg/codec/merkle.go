package codec

// Merkle is a cryptographic digest of cumulative channel state at a given
// log position. It has the same byte width and hash function as Hash but a
// distinct semantic role: a Hash identifies a node's bytes; a Merkle
// identifies "this channel, having applied exactly this sequence of nodes."
// A tag's external Hash is, by construction, the Merkle of the state it
// pins (spec.md §3) — HashOfMerkle below is how the registry converts
// between the two roles without ever confusing them at the type level.
type Merkle [Size]byte

func (m Merkle) String() string   { return Hash(m).String() }
func (m Merkle) IsZero() bool     { return m == Merkle{} }
func (m Merkle) MarshalJSON() ([]byte, error) { return Hash(m).MarshalJSON() }
func (m *Merkle) UnmarshalJSON(data []byte) error {
	var h Hash
	if err := h.UnmarshalJSON(data); err != nil {
		return err
	}
	*m = Merkle(h)
	return nil
}

// HashOfMerkle converts a Merkle to the Hash value used to register the tag
// that pins it. They are the same bits; this conversion exists so call
// sites read as an intentional role change, not an accidental type pun.
func HashOfMerkle(m Merkle) Hash { return Hash(m) }

// MerkleOfHash is the inverse of HashOfMerkle, used when a tag's external
// hash (received over the sync protocol, §6.3) must be treated as the
// channel-state merkle it names in order to look it up in a channel's
// states table.
func MerkleOfHash(h Hash) Merkle { return Merkle(h) }

// ZeroMerkle is the cumulative merkle of an empty channel (no nodes
// applied), the Mix seed for the first node appended to a channel's log.
var ZeroMerkle Merkle

// Mix computes the next cumulative merkle per the Open Question 2 decision
// in DESIGN.md: new_merkle = mix(prev_merkle, node_hash), a domain-separated
// BLAKE3 digest of prev||hash. This is cheaper than re-digesting the whole
// graph snapshot on every apply, at the cost of coupling the merkle sequence
// to apply order — which spec.md §9.2 flags as the expected tradeoff and
// which apply_node_rec's canonicalized (lexicographic-by-hash) sibling
// order exists to make deterministic.
func Mix(prev Merkle, nodeHash Hash) Merkle {
	return Merkle(hashWithContext(contextMerkleMix, prev[:], nodeHash[:]))
}
