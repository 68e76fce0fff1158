package codec

import (
	"fmt"

	"github.com/arbor-vcs/arbor/pkg/graph"
)

// HunkKind discriminates the variant of a Hunk. The format is versioned, not
// permissive (§4.1): an unrecognized discriminant is always a decode error,
// never silently skipped.
type HunkKind byte

const (
	HunkNewVertex          HunkKind = 1
	HunkEdgeMap            HunkKind = 2
	HunkSolveNameConflict  HunkKind = 3
	HunkSolveOrderConflict HunkKind = 4
	HunkReplacement        HunkKind = 5
	HunkFSOp               HunkKind = 6
)

func (k HunkKind) known() bool {
	return k >= HunkNewVertex && k <= HunkFSOp
}

// ParentEdge names an existing vertex a new vertex should be wired from, and
// the flags that edge carries. The new vertex itself is always the Target;
// it isn't named here because its identity (the applying change's NodeId)
// isn't known until apply time (§4.5 step 4-5).
type ParentEdge struct {
	Source graph.Vertex    `json:"source"`
	Flags  graph.EdgeFlags `json:"flags"`
}

// NewVertexPayload allocates one new vertex from this change's own content
// range and wires it to its parents. ContentStart/ContentEnd index into the
// change's Contents slice; the apply engine substitutes the vertex's Node
// field with the change's own NodeId once that id is known.
type NewVertexPayload struct {
	ContentStart uint64       `json:"content_start"`
	ContentEnd   uint64       `json:"content_end"`
	Parents      []ParentEdge `json:"parents"`
}

func (p *NewVertexPayload) validate(contentsLen uint64) error {
	if p == nil {
		return fmt.Errorf("%w: new-vertex hunk missing payload", ErrHunkOutOfRange)
	}
	if p.ContentStart > p.ContentEnd {
		return fmt.Errorf("%w: new-vertex start %d > end %d", ErrHunkOutOfRange, p.ContentStart, p.ContentEnd)
	}
	if p.ContentEnd > contentsLen {
		return fmt.Errorf("%w: new-vertex end %d exceeds contents length %d", ErrHunkOutOfRange, p.ContentEnd, contentsLen)
	}
	return nil
}

// EdgeOp is one edge addition or removal within an EdgeMap hunk. Adding a
// DELETED edge does not remove Target; it marks it dead (§4.5 step 5).
// Introducer names the NodeId that originally introduced the edge being
// removed (edges are keyed by (source, flags, introducer, target), so
// removing one precisely requires naming all four fields); for an Add op
// it is always the applying change's own NodeId and is left zero here,
// filled in by the apply engine at execution time.
type EdgeOp struct {
	Add        bool            `json:"add"`
	Source     graph.Vertex    `json:"source"`
	Target     graph.Vertex    `json:"target"`
	Flags      graph.EdgeFlags `json:"flags"`
	Introducer graph.NodeId    `json:"introducer,omitempty"`
}

// EdgeMapPayload batches edge additions/removals.
type EdgeMapPayload struct {
	Ops []EdgeOp `json:"ops"`
}

func (p *EdgeMapPayload) validate() error {
	if p == nil {
		return fmt.Errorf("%w: edge-map hunk missing payload", ErrHunkOutOfRange)
	}
	for _, op := range p.Ops {
		if !op.Source.Valid() || !op.Target.Valid() {
			return fmt.Errorf("%w: edge-map op references invalid vertex range", ErrHunkOutOfRange)
		}
	}
	return nil
}

// ConflictPayload linearizes a previously unordered set of vertices by
// declaring a total order between them; the apply engine turns consecutive
// pairs into ordering edges that commute with whatever sibling change
// resolves the same conflict independently.
type ConflictPayload struct {
	Order []graph.Vertex `json:"order"`
}

func (p *ConflictPayload) validate() error {
	if p == nil {
		return fmt.Errorf("%w: conflict hunk missing payload", ErrHunkOutOfRange)
	}
	for _, v := range p.Order {
		if !v.Valid() {
			return fmt.Errorf("%w: conflict hunk references invalid vertex", ErrHunkOutOfRange)
		}
	}
	return nil
}

// ReplacementPayload atomically retires Old and introduces a replacement
// vertex in its place (used for content rewrites that should be attributed
// as a single logical edit rather than a delete-then-insert pair).
type ReplacementPayload struct {
	Old         graph.Vertex     `json:"old"`
	Replacement NewVertexPayload `json:"replacement"`
}

func (p *ReplacementPayload) validate(contentsLen uint64) error {
	if p == nil {
		return fmt.Errorf("%w: replacement hunk missing payload", ErrHunkOutOfRange)
	}
	if !p.Old.Valid() {
		return fmt.Errorf("%w: replacement hunk references invalid vertex", ErrHunkOutOfRange)
	}
	return p.Replacement.validate(contentsLen)
}

// FSOpKind discriminates a filesystem-tree overlay operation.
type FSOpKind byte

const (
	FSOpAddFile FSOpKind = 1
	FSOpMove    FSOpKind = 2
	FSOpDelete  FSOpKind = 3
)

// FSOpPayload updates the tree/revtree/inodes/revinodes tables (§3) in the
// folder overlay, atomically with whatever edge insertions accompany it.
type FSOpPayload struct {
	Kind    FSOpKind `json:"kind"`
	Path    string   `json:"path"`
	NewPath string   `json:"new_path,omitempty"` // only for FSOpMove
}

func (p *FSOpPayload) validate() error {
	if p == nil {
		return fmt.Errorf("%w: filesystem-operation hunk missing payload", ErrHunkOutOfRange)
	}
	if p.Path == "" {
		return fmt.Errorf("%w: filesystem-operation hunk has empty path", ErrHunkOutOfRange)
	}
	if p.Kind == FSOpMove && p.NewPath == "" {
		return fmt.Errorf("%w: move operation missing destination path", ErrHunkOutOfRange)
	}
	return nil
}

// Hunk is one graph operation inside a change. Exactly one of the payload
// fields matching Kind is populated; this flat-struct-with-one-active-field
// shape (rather than a Go interface) is what lets the hashed section encode
// and decode through plain encoding/json, the same way every value the
// teacher persists in Badger is a plain JSON-tagged struct
// (storage/badger.go's Node/Edge).
type Hunk struct {
	Kind HunkKind `json:"kind"`

	NewVertex     *NewVertexPayload   `json:"new_vertex,omitempty"`
	EdgeMap       *EdgeMapPayload     `json:"edge_map,omitempty"`
	NameConflict  *ConflictPayload    `json:"name_conflict,omitempty"`
	OrderConflict *ConflictPayload    `json:"order_conflict,omitempty"`
	Replacement   *ReplacementPayload `json:"replacement,omitempty"`
	FSOp          *FSOpPayload        `json:"fs_op,omitempty"`
}

// Validate checks structural well-formedness (§4.1 decoder checks (b), (d)):
// every declared discriminant is known, every payload matching Kind is
// present, and every vertex offset referenced falls within contentsLen.
func (h Hunk) Validate(contentsLen uint64) error {
	if !h.Kind.known() {
		return fmt.Errorf("%w: %d", ErrUnknownHunkKind, h.Kind)
	}
	switch h.Kind {
	case HunkNewVertex:
		return h.NewVertex.validate(contentsLen)
	case HunkEdgeMap:
		return h.EdgeMap.validate()
	case HunkSolveNameConflict:
		return h.NameConflict.validate()
	case HunkSolveOrderConflict:
		return h.OrderConflict.validate()
	case HunkReplacement:
		return h.Replacement.validate(contentsLen)
	case HunkFSOp:
		return h.FSOp.validate()
	default:
		return fmt.Errorf("%w: %d", ErrUnknownHunkKind, h.Kind)
	}
}
