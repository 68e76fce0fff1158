package apply

import (
	"github.com/arbor-vcs/arbor/pkg/graph"
	"github.com/arbor-vcs/arbor/pkg/pristine"
)

// Workspace is the scratch area a single apply_node call threads through
// hunk execution (§4.5 step 5). It has no independent lifetime: it is
// created at the start of ApplyNode and discarded at the end, never
// persisted — everything durable it produces goes through txn instead.
type Workspace struct {
	// Node is the NodeId of the change currently being applied. Every
	// vertex a NewVertex hunk allocates uses this as its Node field, and
	// every edge a hunk inserts is introduced by this NodeId.
	Node graph.NodeId

	// Contents is the applying change's raw content bytes, indexed by the
	// ContentStart/ContentEnd offsets NewVertex and Replacement hunks
	// declare.
	Contents []byte

	// TouchedInodes accumulates the set of inodes this change's hunks
	// affect, populated by FSOp execution, written to touched_files and
	// rev_touched_files once all hunks have run (§4.5 step 7).
	TouchedInodes map[pristine.InodeId]struct{}
}

func newWorkspace(node graph.NodeId, contents []byte) *Workspace {
	return &Workspace{
		Node:          node,
		Contents:      contents,
		TouchedInodes: make(map[pristine.InodeId]struct{}),
	}
}

func (w *Workspace) touch(inode pristine.InodeId) {
	w.TouchedInodes[inode] = struct{}{}
}

// newVertex builds the graph.Vertex this workspace's NodeId owns for the
// given content range.
func (w *Workspace) newVertex(start, end uint64) graph.Vertex {
	return graph.Vertex{Node: w.Node, Start: start, End: end}
}
