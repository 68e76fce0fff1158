package apply

import (
	"fmt"

	"github.com/arbor-vcs/arbor/pkg/codec"
	"github.com/arbor-vcs/arbor/pkg/graph"
	"github.com/arbor-vcs/arbor/pkg/pristine"
)

// executeHunk applies one hunk's effect to ch, in the forward direction
// (§4.5 step 5). ws.Node is the NodeId introducing every edge/vertex this
// hunk creates.
func executeHunk(txn *pristine.WriteTxn, ch pristine.Channel, ws *Workspace, h codec.Hunk) error {
	switch h.Kind {
	case codec.HunkNewVertex:
		return executeNewVertex(txn, ch, ws, h.NewVertex)
	case codec.HunkEdgeMap:
		return executeEdgeMap(txn, ch, ws, h.EdgeMap)
	case codec.HunkSolveNameConflict:
		return executeConflictOrder(txn, ch, ws, h.NameConflict)
	case codec.HunkSolveOrderConflict:
		return executeConflictOrder(txn, ch, ws, h.OrderConflict)
	case codec.HunkReplacement:
		return executeReplacement(txn, ch, ws, h.Replacement)
	case codec.HunkFSOp:
		return executeFSOp(txn, ch, ws, h.FSOp)
	default:
		return fmt.Errorf("apply: unexecutable hunk kind %d", h.Kind)
	}
}

func executeNewVertex(txn *pristine.WriteTxn, ch pristine.Channel, ws *Workspace, p *codec.NewVertexPayload) error {
	v := ws.newVertex(p.ContentStart, p.ContentEnd)
	for _, parent := range p.Parents {
		attach, err := resolveAttachPoint(txn, ch, parent.Source)
		if err != nil {
			return err
		}
		if err := txn.PutEdge(ch, attach, graph.Edge{Target: v, Flags: parent.Flags, Introducer: ws.Node}); err != nil {
			return err
		}
	}
	return txn.RecordVertexSpan(ch, v)
}

func executeEdgeMap(txn *pristine.WriteTxn, ch pristine.Channel, ws *Workspace, p *codec.EdgeMapPayload) error {
	for _, op := range p.Ops {
		source, err := resolveAttachPoint(txn, ch, op.Source)
		if err != nil {
			return err
		}
		target, err := resolveAttachPoint(txn, ch, op.Target)
		if err != nil {
			return err
		}
		if op.Add {
			var predecessors, successors []graph.Vertex
			if op.Flags.Has(graph.FlagDeleted) {
				// Evaluate aliveness before the tombstone lands: target's
				// own deadness isn't part of this check (we're asking
				// about its neighbors, not itself), so the ordering here
				// doesn't change the result, but reading it this way keeps
				// the code matching the "alive predecessors/successors of
				// a newly deleted vertex" wording directly.
				predecessors, successors = pseudoNeighbors(txn, ch, target)
			}
			if err := txn.PutEdge(ch, source, graph.Edge{Target: target, Flags: op.Flags, Introducer: ws.Node}); err != nil {
				return err
			}
			for _, pe := range graph.PseudoEdges(predecessors, successors, ws.Node) {
				if err := txn.PutEdge(ch, pe.Source, pe.Edge); err != nil {
					return err
				}
			}
			continue
		}
		if err := txn.DeleteEdge(ch, source, graph.Edge{Target: target, Flags: op.Flags, Introducer: op.Introducer}); err != nil {
			return err
		}
	}
	return nil
}

// pseudoNeighbors returns target's alive predecessors (vertices with a live
// edge landing on target) and alive successors (vertices a live edge from
// target lands on), the two sets §4.5's pseudo-edge rule connects when
// target is newly marked deleted. A neighbor reached only through target's
// own tombstone edge is excluded by construction — that edge always carries
// FlagDeleted and is skipped outright.
func pseudoNeighbors(txn *pristine.WriteTxn, ch pristine.Channel, target graph.Vertex) (predecessors, successors []graph.Vertex) {
	parentAdj := txn.ParentAdjacency(ch)

	for _, e := range parentAdj.Adjacent(target) {
		if e.Flags.Has(graph.FlagDeleted) {
			continue
		}
		if graph.IsDeleted(parentAdj, e.Target) {
			continue
		}
		predecessors = append(predecessors, e.Target)
	}

	adj := txn.Adjacency(ch)
	for _, e := range adj.Adjacent(target) {
		if e.Flags.Has(graph.FlagParent) || e.Flags.Has(graph.FlagDeleted) {
			continue
		}
		if graph.IsDeleted(parentAdj, e.Target) {
			continue
		}
		successors = append(successors, e.Target)
	}
	return predecessors, successors
}

// executeConflictOrder turns a declared total order over a previously
// unordered vertex set into pairwise ordering edges between consecutive
// elements — both name-conflict and order-conflict resolution reduce to the
// same "chain them" shape, differing only in which conflict produced the
// unordered set in the first place (§4.5 step 5's conflict-hunk handling).
func executeConflictOrder(txn *pristine.WriteTxn, ch pristine.Channel, ws *Workspace, p *codec.ConflictPayload) error {
	for i := 0; i+1 < len(p.Order); i++ {
		a, err := resolveAttachPoint(txn, ch, p.Order[i])
		if err != nil {
			return err
		}
		b, err := resolveAttachPoint(txn, ch, p.Order[i+1])
		if err != nil {
			return err
		}
		if err := txn.PutEdge(ch, a, graph.Edge{Target: b, Introducer: ws.Node}); err != nil {
			return err
		}
	}
	return nil
}

// executeReplacement retires Old the same way an EdgeMap DELETED marker
// would (a tombstone edge from Old to itself, so existing readers still see
// it as present-but-dead rather than missing) and introduces Replacement as
// an ordinary new vertex wired from Old and from the parents the hunk
// declares for it, so history shows one logical edit rather than an
// unrelated delete and insert.
func executeReplacement(txn *pristine.WriteTxn, ch pristine.Channel, ws *Workspace, p *codec.ReplacementPayload) error {
	old, err := resolveAttachPoint(txn, ch, p.Old)
	if err != nil {
		return err
	}
	if err := txn.PutEdge(ch, old, graph.Edge{Target: old, Flags: graph.FlagDeleted, Introducer: ws.Node}); err != nil {
		return err
	}

	replacement := ws.newVertex(p.Replacement.ContentStart, p.Replacement.ContentEnd)
	if err := txn.PutEdge(ch, old, graph.Edge{Target: replacement, Introducer: ws.Node}); err != nil {
		return err
	}
	for _, parent := range p.Replacement.Parents {
		attach, err := resolveAttachPoint(txn, ch, parent.Source)
		if err != nil {
			return err
		}
		if err := txn.PutEdge(ch, attach, graph.Edge{Target: replacement, Flags: parent.Flags, Introducer: ws.Node}); err != nil {
			return err
		}
	}
	return txn.RecordVertexSpan(ch, replacement)
}

func executeFSOp(txn *pristine.WriteTxn, ch pristine.Channel, ws *Workspace, p *codec.FSOpPayload) error {
	switch p.Kind {
	case codec.FSOpAddFile:
		path, err := txn.InternPath(p.Path)
		if err != nil {
			return err
		}
		inode, err := txn.AllocateInodeId()
		if err != nil {
			return err
		}
		pos := pristine.Position{Node: ws.Node, Start: 0}
		if err := txn.PutInode(inode, pos); err != nil {
			return err
		}
		if err := txn.PutTreeEntry(path, inode); err != nil {
			return err
		}
		ws.touch(inode)
		return nil

	case codec.FSOpMove:
		oldPath, err := txn.InternPath(p.Path)
		if err != nil {
			return err
		}
		inode, ok, err := txn.GetTreeEntry(oldPath)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("apply: move source %q has no tree entry", p.Path)
		}
		if err := txn.DeleteTreeEntry(oldPath, inode); err != nil {
			return err
		}
		newPath, err := txn.InternPath(p.NewPath)
		if err != nil {
			return err
		}
		if err := txn.PutTreeEntry(newPath, inode); err != nil {
			return err
		}
		ws.touch(inode)
		return nil

	case codec.FSOpDelete:
		path, err := txn.InternPath(p.Path)
		if err != nil {
			return err
		}
		inode, ok, err := txn.GetTreeEntry(path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("apply: delete target %q has no tree entry", p.Path)
		}
		if err := txn.DeleteTreeEntry(path, inode); err != nil {
			return err
		}
		ws.touch(inode)
		return nil

	default:
		return fmt.Errorf("apply: unexecutable filesystem-operation kind %d", p.Kind)
	}
}

// invertHunk undoes one hunk's effect, used by UnapplyNode walking a
// change's hunks in reverse order. It is only ever called for a node with
// no dependents on the channel (UnapplyNode's precondition), so the graph
// and tree state it reads back is still exactly what this hunk itself
// produced — nothing downstream has built on top of it.
func invertHunk(txn *pristine.WriteTxn, ch pristine.Channel, ws *Workspace, h codec.Hunk) error {
	switch h.Kind {
	case codec.HunkNewVertex:
		return invertNewVertex(txn, ch, ws, h.NewVertex)
	case codec.HunkEdgeMap:
		return invertEdgeMap(txn, ch, ws, h.EdgeMap)
	case codec.HunkSolveNameConflict:
		return invertConflictOrder(txn, ch, ws, h.NameConflict)
	case codec.HunkSolveOrderConflict:
		return invertConflictOrder(txn, ch, ws, h.OrderConflict)
	case codec.HunkReplacement:
		return invertReplacement(txn, ch, ws, h.Replacement)
	case codec.HunkFSOp:
		return invertFSOp(txn, ch, ws, h.FSOp)
	default:
		return fmt.Errorf("apply: uninvertible hunk kind %d", h.Kind)
	}
}

func invertNewVertex(txn *pristine.WriteTxn, ch pristine.Channel, ws *Workspace, p *codec.NewVertexPayload) error {
	v := ws.newVertex(p.ContentStart, p.ContentEnd)
	for _, parent := range p.Parents {
		attach, err := resolveAttachPoint(txn, ch, parent.Source)
		if err != nil {
			return err
		}
		if err := txn.DeleteEdge(ch, attach, graph.Edge{Target: v, Flags: parent.Flags, Introducer: ws.Node}); err != nil {
			return err
		}
	}
	return txn.RemoveVertexSpan(ch, v)
}

func invertEdgeMap(txn *pristine.WriteTxn, ch pristine.Channel, ws *Workspace, p *codec.EdgeMapPayload) error {
	for _, op := range p.Ops {
		source, err := resolveAttachPoint(txn, ch, op.Source)
		if err != nil {
			return err
		}
		target, err := resolveAttachPoint(txn, ch, op.Target)
		if err != nil {
			return err
		}
		if op.Add {
			var predecessors, successors []graph.Vertex
			if op.Flags.Has(graph.FlagDeleted) {
				// Nothing has applied on top of this change (UnapplyNode's
				// precondition), so the graph is still in exactly the
				// state the forward apply left it in: recomputing
				// target's alive neighbors here yields the same sets
				// executeEdgeMap computed, and therefore deletes exactly
				// the pseudo edges that were inserted.
				predecessors, successors = pseudoNeighbors(txn, ch, target)
			}
			for _, pe := range graph.PseudoEdges(predecessors, successors, ws.Node) {
				if err := txn.DeleteEdge(ch, pe.Source, pe.Edge); err != nil {
					return err
				}
			}
			if err := txn.DeleteEdge(ch, source, graph.Edge{Target: target, Flags: op.Flags, Introducer: ws.Node}); err != nil {
				return err
			}
			continue
		}
		if err := txn.PutEdge(ch, source, graph.Edge{Target: target, Flags: op.Flags, Introducer: op.Introducer}); err != nil {
			return err
		}
	}
	return nil
}

func invertConflictOrder(txn *pristine.WriteTxn, ch pristine.Channel, ws *Workspace, p *codec.ConflictPayload) error {
	for i := 0; i+1 < len(p.Order); i++ {
		a, err := resolveAttachPoint(txn, ch, p.Order[i])
		if err != nil {
			return err
		}
		b, err := resolveAttachPoint(txn, ch, p.Order[i+1])
		if err != nil {
			return err
		}
		if err := txn.DeleteEdge(ch, a, graph.Edge{Target: b, Introducer: ws.Node}); err != nil {
			return err
		}
	}
	return nil
}

func invertReplacement(txn *pristine.WriteTxn, ch pristine.Channel, ws *Workspace, p *codec.ReplacementPayload) error {
	old, err := resolveAttachPoint(txn, ch, p.Old)
	if err != nil {
		return err
	}
	replacement := ws.newVertex(p.Replacement.ContentStart, p.Replacement.ContentEnd)

	for _, parent := range p.Replacement.Parents {
		attach, err := resolveAttachPoint(txn, ch, parent.Source)
		if err != nil {
			return err
		}
		if err := txn.DeleteEdge(ch, attach, graph.Edge{Target: replacement, Flags: parent.Flags, Introducer: ws.Node}); err != nil {
			return err
		}
	}
	if err := txn.DeleteEdge(ch, old, graph.Edge{Target: replacement, Introducer: ws.Node}); err != nil {
		return err
	}
	if err := txn.RemoveVertexSpan(ch, replacement); err != nil {
		return err
	}
	return txn.DeleteEdge(ch, old, graph.Edge{Target: old, Flags: graph.FlagDeleted, Introducer: ws.Node})
}

func invertFSOp(txn *pristine.WriteTxn, ch pristine.Channel, ws *Workspace, p *codec.FSOpPayload) error {
	switch p.Kind {
	case codec.FSOpAddFile:
		path, err := txn.InternPath(p.Path)
		if err != nil {
			return err
		}
		inode, ok, err := txn.GetTreeEntry(path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("apply: undo add-file %q has no tree entry", p.Path)
		}
		if err := txn.DeleteTreeEntry(path, inode); err != nil {
			return err
		}
		ws.touch(inode)
		return nil

	case codec.FSOpMove:
		newPath, err := txn.InternPath(p.NewPath)
		if err != nil {
			return err
		}
		inode, ok, err := txn.GetTreeEntry(newPath)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("apply: undo move destination %q has no tree entry", p.NewPath)
		}
		if err := txn.DeleteTreeEntry(newPath, inode); err != nil {
			return err
		}
		oldPath, err := txn.InternPath(p.Path)
		if err != nil {
			return err
		}
		if err := txn.PutTreeEntry(oldPath, inode); err != nil {
			return err
		}
		ws.touch(inode)
		return nil

	case codec.FSOpDelete:
		path, err := txn.InternPath(p.Path)
		if err != nil {
			return err
		}
		inode, ok, err := txn.GetTombstonedTreeEntry(path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("apply: undo delete %q has no tree entry", p.Path)
		}
		if err := txn.PutTreeEntry(path, inode); err != nil {
			return err
		}
		ws.touch(inode)
		return nil

	default:
		return fmt.Errorf("apply: uninvertible filesystem-operation kind %d", p.Kind)
	}
}
