package apply

import (
	"github.com/arbor-vcs/arbor/pkg/graph"
	"github.com/arbor-vcs/arbor/pkg/pristine"
)

// SplitVertex implements §4.3's split_vertex: replace edges landing in a
// whole vertex span with two sets landing in its two halves, divided at
// at. Both halves keep the same owning NodeId as the original — a split is
// bookkeeping about where edges attach, never a new piece of content.
//
// Preconditions: span.Start < at < span.End. Edges found pointing at span
// (the PARENT-direction mirrors) are re-pointed to the "before" half;
// edges found originating from span are re-pointed to originate from the
// "after" half; a new continuity edge before->after, introduced by the
// span's own owning NodeId, replaces the internal connectivity the single
// span used to represent implicitly.
func SplitVertex(txn *pristine.WriteTxn, ch pristine.Channel, span graph.Vertex, at uint64) (before, after graph.Vertex, err error) {
	if !(span.Start < at && at < span.End) {
		return graph.Vertex{}, graph.Vertex{}, ErrCannotSplitAtBoundary
	}
	before = graph.Vertex{Node: span.Node, Start: span.Start, End: at}
	after = graph.Vertex{Node: span.Node, Start: at, End: span.End}

	all, err := txn.Adjacent(ch, span)
	if err != nil {
		return graph.Vertex{}, graph.Vertex{}, err
	}

	for _, e := range all {
		if e.Flags.Has(graph.FlagParent) {
			// This mirror represents an incoming forward edge
			// originalSource -> span; re-home it to land on `before`.
			originalSource := e.Target
			originalFlags := e.Flags &^ graph.FlagParent
			if err := txn.DeleteEdge(ch, originalSource, graph.Edge{Target: span, Flags: originalFlags, Introducer: e.Introducer}); err != nil {
				return graph.Vertex{}, graph.Vertex{}, err
			}
			if err := txn.PutEdge(ch, originalSource, graph.Edge{Target: before, Flags: originalFlags, Introducer: e.Introducer}); err != nil {
				return graph.Vertex{}, graph.Vertex{}, err
			}
			continue
		}
		// A true outgoing edge from span; re-home it to originate from
		// `after`.
		if err := txn.DeleteEdge(ch, span, e); err != nil {
			return graph.Vertex{}, graph.Vertex{}, err
		}
		if err := txn.PutEdge(ch, after, e); err != nil {
			return graph.Vertex{}, graph.Vertex{}, err
		}
	}

	if err := txn.PutEdge(ch, before, graph.Edge{Target: after, Introducer: span.Node}); err != nil {
		return graph.Vertex{}, graph.Vertex{}, err
	}

	if err := txn.RemoveVertexSpan(ch, span); err != nil {
		return graph.Vertex{}, graph.Vertex{}, err
	}
	if err := txn.RecordVertexSpan(ch, before); err != nil {
		return graph.Vertex{}, graph.Vertex{}, err
	}
	if err := txn.RecordVertexSpan(ch, after); err != nil {
		return graph.Vertex{}, graph.Vertex{}, err
	}
	return before, after, nil
}

// resolveAttachPoint returns the vertex a hunk's edge reference should
// actually attach to: ref itself if it already names a registered span
// boundary, or the sub-span produced by splitting its enclosing whole span
// at whichever of ref's two boundaries don't already line up otherwise.
// At most two splits are needed: one to carve ref.Start free from the left
// of the enclosing span, one to carve ref.End free from the right of what
// remains.
func resolveAttachPoint(txn *pristine.WriteTxn, ch pristine.Channel, ref graph.Vertex) (graph.Vertex, error) {
	span, ok, err := txn.FindEnclosingSpan(ch, ref.Node, ref.Start)
	if err != nil {
		return graph.Vertex{}, err
	}
	if !ok || span == ref {
		return ref, nil
	}

	if span.Start != ref.Start {
		_, after, err := SplitVertex(txn, ch, span, ref.Start)
		if err != nil {
			return graph.Vertex{}, err
		}
		span = after
	}
	if span.End != ref.End {
		before, _, err := SplitVertex(txn, ch, span, ref.End)
		if err != nil {
			return graph.Vertex{}, err
		}
		span = before
	}
	return span, nil
}
