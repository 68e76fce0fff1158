// Package apply implements the apply engine of spec.md §4.5: applying a
// change's hunks to a channel's graph, recursive dependency-closure apply,
// and unapply. It is the one package that touches both pkg/registry (node
// bookkeeping) and pkg/pristine's channel operations (graph mutation) in
// the same transaction, and the one place pkg/graph's pure alive/pseudo-edge
// algorithms get wired against live storage.
package apply

import (
	"errors"
	"fmt"

	"github.com/arbor-vcs/arbor/pkg/codec"
)

// DependencyMissingError reports that a change declares a dependency hash
// this repository cannot resolve to either a channel-log entry or a
// registered tag (§4.5 step 3).
type DependencyMissingError struct {
	Hash codec.Hash
}

func (e *DependencyMissingError) Error() string {
	return fmt.Sprintf("apply: dependency missing: %s", e.Hash)
}

// DependencyCycleError reports that apply_node_rec's dependency-closure
// traversal revisited a node already on its current path — the input is
// corrupt (§4.5's apply_node_rec, §7's consistency-error kind).
type DependencyCycleError struct {
	Hash codec.Hash
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("apply: dependency cycle at: %s", e.Hash)
}

// ErrAlreadyApplied is not a failure: apply_node's idempotent no-op path
// (§7) returns it alongside the existing result so callers can distinguish
// "nothing changed because it was already there" from a fresh apply. It is
// returned as the error value, so callers that treat a repeat apply as
// success check for it with errors.Is.
var ErrAlreadyApplied = errors.New("apply: node already applied to this channel")

// ErrHasDependents is returned by UnapplyNode when some applied node on the
// channel still depends on the one being removed (§4.5's unapply
// precondition).
var ErrHasDependents = errors.New("apply: node has dependents on this channel, cannot unapply")

// ErrNotTailOfLog is returned by UnapplyNode when the target position is
// not the channel's current last log entry. Every log row's merkle is
// mixed from the one before it (codec.Mix), so removing anything but the
// tail would leave every later row's merkle referring to a state that no
// longer exists.
var ErrNotTailOfLog = errors.New("apply: can only unapply the last entry in a channel's log")

// ErrCannotSplitAtBoundary is returned by SplitVertex when the requested
// split point is not strictly inside the span being split.
var ErrCannotSplitAtBoundary = errors.New("apply: split point is not strictly inside the vertex span")
