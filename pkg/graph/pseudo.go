package graph

// PseudoEdges implements the Open Question 1 decision recorded in
// DESIGN.md: on a cascading delete of a contiguous region, insert a pseudo
// edge — flagged PSEUDO and tagged with the deleting NodeId — from every
// alive predecessor of the deleted region to every alive successor of it.
// This is what keeps the graph connected (and therefore diffable/mergeable)
// across a deletion without ever needing to special-case "was this byte
// range deleted" at read time: a walk that only ever follows alive edges
// still reaches everything reachable before the delete.
//
// predecessors and successors are the alive vertices with an edge landing on
// / leaving from the deleted region's boundary vertices, as computed by the
// caller (pkg/apply, which has the pristine transaction needed to compute
// them). They are not deduplicated here: a vertex listed twice yields its
// pseudo edges twice. by is the NodeId of the change performing the delete.
func PseudoEdges(predecessors, successors []Vertex, by NodeId) []struct {
	Source Vertex
	Edge   Edge
} {
	out := make([]struct {
		Source Vertex
		Edge   Edge
	}, 0, len(predecessors)*len(successors))
	for _, p := range predecessors {
		for _, s := range successors {
			out = append(out, struct {
				Source Vertex
				Edge   Edge
			}{
				Source: p,
				Edge: Edge{
					Target:     s,
					Flags:      FlagPseudo,
					Introducer: by,
				},
			})
		}
	}
	return out
}

// FindBlock returns the maximal contiguous run of alive bytes in the same
// NodeId as v, reachable from v without crossing a BLOCK edge — the
// enclosing "block" line-level diff consumers operate on (§4.3). adj is the
// forward adjacency source; parentAdj the PARENT-direction one (needed to
// evaluate aliveness via IsDeleted).
//
// Because BLOCK edges mark logical line boundaries rather than vertex
// boundaries, FindBlock walks outward from v along same-NodeId,
// non-BLOCK-flagged alive edges in both directions and returns the union
// range. It does not itself split vertices; pkg/apply's SplitVertex does,
// once the caller decides where a split is needed.
func FindBlock(adj, parentAdj AdjacencySource, v Vertex) Vertex {
	block := v
	// Walk forward (toward higher offsets / outgoing edges within the node).
	frontier := v
	for {
		extended := false
		for _, e := range adj.Adjacent(frontier) {
			if e.Flags.Has(FlagBlock) || e.Flags.Has(FlagParent) {
				continue
			}
			if e.Target.Node != v.Node {
				continue
			}
			if !Alive(parentAdj, frontier, e) {
				continue
			}
			if e.Target.Start == block.End {
				block.End = e.Target.End
				frontier = e.Target
				extended = true
				break
			}
		}
		if !extended {
			break
		}
	}
	// Walk backward via PARENT edges.
	frontier = v
	for {
		extended := false
		for _, e := range parentAdj.Adjacent(frontier) {
			if e.Flags.Has(FlagBlock) {
				continue
			}
			if e.Target.Node != v.Node {
				continue
			}
			forward := Edge{Target: frontier, Flags: e.Flags &^ FlagParent, Introducer: e.Introducer}
			if !Alive(parentAdj, e.Target, forward) {
				continue
			}
			if e.Target.End == block.Start {
				block.Start = e.Target.Start
				frontier = e.Target
				extended = true
				break
			}
		}
		if !extended {
			break
		}
	}
	return block
}
