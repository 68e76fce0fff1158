package graph

// AdjacencySource is the minimal read surface pkg/graph's pure algorithms
// need from a channel's stored adjacency table. pkg/pristine's
// ReadTxn.Adjacency and ReadTxn.ParentAdjacency return implementations
// backed by the pristine database; tests implement it
// against a plain map. Keeping it this narrow is what lets the aliveness and
// pseudo-edge logic below be tested without a database at all.
type AdjacencySource interface {
	// Adjacent returns every stored edge out of v, in the table's natural
	// (flags, target, introducer) order. It includes edges of every flag
	// combination, including PARENT mirrors and DELETED tombstones — callers
	// filter with Alive or an explicit mask.
	Adjacent(v Vertex) []Edge
}

// IsDeleted reports whether v has been marked removed: some edge in the
// table targets v carrying FlagDeleted. A DELETED edge is a permanent
// tombstone (see FlagDeleted's doc comment), so this check does not need to
// worry about the tombstone edge itself being "alive" — its presence alone
// is the mark.
//
// This requires a reverse (PARENT-direction) scan, since "targets v" means
// "v is the source of a PARENT edge with FlagDeleted". Callers pass the
// PARENT-side adjacency source (see pkg/pristine.ReadTxn.ParentAdjacency).
func IsDeleted(parentAdj AdjacencySource, v Vertex) bool {
	for _, e := range parentAdj.Adjacent(v) {
		if e.Flags.Has(FlagDeleted) {
			return true
		}
	}
	return false
}

// Alive reports whether the edge out of source is alive: neither the edge
// itself nor its source vertex is marked deleted. Pseudo edges are always
// alive regardless of source status — they exist precisely to keep
// reachability connected across deletions (§4.3).
func Alive(parentAdj AdjacencySource, source Vertex, e Edge) bool {
	if e.Flags.Has(FlagPseudo) {
		return true
	}
	if e.Flags.Has(FlagDeleted) {
		return false
	}
	return !IsDeleted(parentAdj, source)
}

// FilterAlive returns the subset of edges that are alive out of source.
func FilterAlive(parentAdj AdjacencySource, source Vertex, edges []Edge) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if Alive(parentAdj, source, e) {
			out = append(out, e)
		}
	}
	return out
}
