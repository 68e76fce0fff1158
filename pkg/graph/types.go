// Package graph implements the channel graph model described by the core:
// typed vertices and edges, adjacency queries, and the alive-edge and
// pseudo-edge rules that make patch application commute.
//
// The graph itself has no storage: it defines the value types that
// pkg/pristine stores in the per-channel graph table, and the pure
// (non-transactional) logic — ordering, aliveness, block boundaries,
// cascading-delete pseudo-edge generation — that operates over them. Reading
// and writing those values to the pristine database happens in
// pkg/pristine; pkg/apply drives both packages together.
package graph

import "fmt"

// NodeId is a dense, repository-local, monotonically assigned identifier for
// a change or tag. NodeIds never travel between repositories; only Hashes
// (see pkg/codec) do. The zero value is never a valid assigned NodeId.
type NodeId uint64

// Invalid is the NodeId returned by lookups that found nothing.
const Invalid NodeId = 0

// NodeType discriminates the kind of node an internal id refers to.
// It is stored as a single byte on disk (pkg/pristine's node_types table)
// and is intentionally extensible: future variants (merge, rollback) can be
// added without changing the wire shape of existing nodes.
type NodeType byte

const (
	// NodeTypeChange marks a node as a patch: hunks plus a dependency set.
	NodeTypeChange NodeType = 1
	// NodeTypeTag marks a node as a tag: a pinned, regenerated channel state.
	NodeTypeTag NodeType = 2
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeChange:
		return "change"
	case NodeTypeTag:
		return "tag"
	default:
		return fmt.Sprintf("node-type(%d)", byte(t))
	}
}

// Valid reports whether t is a recognized node type.
func (t NodeType) Valid() bool {
	return t == NodeTypeChange || t == NodeTypeTag
}

// Vertex is a contiguous byte range contributed by exactly one change.
// Content itself lives in that change's payload (pkg/codec); the graph only
// ever stores this reference.
type Vertex struct {
	Node  NodeId
	Start uint64
	End   uint64
}

// Len returns the number of bytes the vertex covers.
func (v Vertex) Len() uint64 {
	if v.End < v.Start {
		return 0
	}
	return v.End - v.Start
}

// Valid reports whether the vertex's range is well formed (start <= end).
func (v Vertex) Valid() bool {
	return v.Start <= v.End
}

// Less gives vertices the lexicographic order §4.3's determinism rule
// requires: iteration order is a pure function of stored bytes, so it must
// be defined independently of insertion order.
func (v Vertex) Less(other Vertex) bool {
	if v.Node != other.Node {
		return v.Node < other.Node
	}
	if v.Start != other.Start {
		return v.Start < other.Start
	}
	return v.End < other.End
}

func (v Vertex) String() string {
	return fmt.Sprintf("%d[%d:%d]", v.Node, v.Start, v.End)
}

// EdgeFlags is a bitmask describing what kind of relation an edge encodes.
type EdgeFlags uint8

const (
	// FlagBlock marks an edge that crosses a logical line boundary.
	FlagBlock EdgeFlags = 1 << iota
	// FlagPseudo marks a synthetic edge inserted to preserve reachability
	// across deletions. Pseudo edges are always alive.
	FlagPseudo
	// FlagFolder marks an edge that is part of the filesystem-tree overlay.
	FlagFolder
	// FlagDeleted marks that the edge's target vertex has been removed.
	// The edge itself is a tombstone: it is never followed as a live path,
	// but it is never removed by a later change either (removing a DELETED
	// marker would let a concurrent, commuting change resurrect state it
	// never saw deleted).
	FlagDeleted
	// FlagParent marks the mirror of a forward edge, stored in the reverse
	// direction for efficient parent lookups. Every forward edge has a
	// corresponding PARENT edge with flags XOR FlagParent and must be
	// inserted/removed in the same transaction as its mirror (invariant 4).
	FlagParent
)

func (f EdgeFlags) Has(bit EdgeFlags) bool { return f&bit != 0 }

func (f EdgeFlags) String() string {
	if f == 0 {
		return "none"
	}
	names := []struct {
		bit  EdgeFlags
		name string
	}{
		{FlagBlock, "BLOCK"},
		{FlagPseudo, "PSEUDO"},
		{FlagFolder, "FOLDER"},
		{FlagDeleted, "DELETED"},
		{FlagParent, "PARENT"},
	}
	out := ""
	for _, n := range names {
		if f.Has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	return out
}

// Edge is a directed relation to Target, carrying the flags describing its
// kind and the NodeId of the change that introduced it. The source vertex is
// not part of Edge itself — it is the key under which edges are grouped in
// the per-channel adjacency table (pkg/pristine's graph[channel] table) —
// mirroring the schema in spec.md §3 ("graph[channel] | Vertex | Edge").
type Edge struct {
	Target     Vertex
	Flags      EdgeFlags
	Introducer NodeId
}

// Mirror returns the PARENT-direction counterpart of this edge as seen from
// Target: same introducer, flags with FlagParent toggled. Forward and
// PARENT edges always coexist (invariant 4); Mirror is how pkg/pristine
// keeps that pairing mechanical instead of hand-maintained at every call
// site.
func (e Edge) Mirror(source Vertex) (parentSource Vertex, parentEdge Edge) {
	return e.Target, Edge{
		Target:     source,
		Flags:      e.Flags ^ FlagParent,
		Introducer: e.Introducer,
	}
}

// Less orders edges the way §4.3 requires adjacency iteration to be
// ordered: "primarily by target vertex, then by introducing NodeId" within
// a fixed source and flags value. The stored key suffix is
// (flags, target, introducer), so flags is compared first to keep this
// comparator a total order that agrees with the B-tree's own byte order;
// for any fixed flags value (the common case — a single Adjacent scan
// filtered or not by flag bits) this reduces to target-then-introducer.
func (e Edge) Less(other Edge) bool {
	if e.Flags != other.Flags {
		return e.Flags < other.Flags
	}
	if e.Target != other.Target {
		return e.Target.Less(other.Target)
	}
	return e.Introducer < other.Introducer
}
