// Package resolver implements the dependency resolver of spec.md §4.6:
// given a candidate set of hunks and the channel they will be applied to, it
// computes the minimal, antichain-reduced, consolidating-tag-aware list of
// dependency hashes a change must declare. It only ever reads — the result
// feeds into a Change's Dependencies field before that change is even
// hashed, well before anything is applied.
package resolver

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/arbor-vcs/arbor/pkg/changestore"
	"github.com/arbor-vcs/arbor/pkg/codec"
	"github.com/arbor-vcs/arbor/pkg/graph"
	"github.com/arbor-vcs/arbor/pkg/pristine"
	"github.com/arbor-vcs/arbor/pkg/registry"
)

// Resolve implements §4.6's five-step algorithm: collect every NodeId a
// hunk's vertex references name, close it transitively over the dependency
// DAG, reduce to an antichain, fold in a dominating consolidating tag if one
// exists, and translate the survivors to Hashes.
//
// store is needed only for step 4 (reading a candidate tag's own consolidated
// set back out of the content-addressed store); txn is read-only because
// resolution never mutates anything.
func Resolve(store *changestore.Store, txn *pristine.ReadTxn, ch pristine.Channel, hunks []codec.Hunk) ([]codec.Hash, error) {
	direct := referencedNodes(hunks)
	if len(direct) == 0 {
		return nil, nil
	}

	cache := map[graph.NodeId]map[graph.NodeId]bool{}
	transitive := func(n graph.NodeId) (map[graph.NodeId]bool, error) {
		if deps, ok := cache[n]; ok {
			return deps, nil
		}
		deps, err := transitiveDeps(txn, n)
		if err != nil {
			return nil, err
		}
		cache[n] = deps
		return deps, nil
	}

	closure := map[graph.NodeId]bool{}
	for n := range direct {
		closure[n] = true
		deps, err := transitive(n)
		if err != nil {
			return nil, err
		}
		for d := range deps {
			closure[d] = true
		}
	}

	retained := map[graph.NodeId]bool{}
	for n := range direct {
		dominated := false
		for m := range closure {
			if m == n {
				continue
			}
			deps, err := transitive(m)
			if err != nil {
				return nil, err
			}
			if deps[n] {
				dominated = true
				break
			}
		}
		if !dominated {
			retained[n] = true
		}
	}

	retained, err := reduceToConsolidatingTag(store, txn, ch, retained, transitive)
	if err != nil {
		return nil, err
	}

	hashes := make([]codec.Hash, 0, len(retained))
	for n := range retained {
		h, ok, err := registry.GetExternal(txn, n)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("resolver: NodeId %d has no registered external hash", n)
		}
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return bytes.Compare(hashes[i][:], hashes[j][:]) < 0 })
	return hashes, nil
}

// transitiveDeps returns every NodeId reachable from start via dep edges,
// start itself excluded. The dependency DAG is acyclic by construction (a
// NodeId's dependency list is fixed at registration and never revisited),
// so a plain unguarded recursion terminates; pkg/apply's cycle guard exists
// for the separate apply_node_rec traversal, which walks not-yet-registered
// artifacts rather than this already-registered graph.
func transitiveDeps(txn *pristine.ReadTxn, start graph.NodeId) (map[graph.NodeId]bool, error) {
	out := map[graph.NodeId]bool{}
	var walk func(graph.NodeId) error
	walk = func(n graph.NodeId) error {
		deps, err := registry.IterDep(txn, n)
		if err != nil {
			return err
		}
		for _, d := range deps {
			if out[d] {
				continue
			}
			out[d] = true
			if err := walk(d); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(start); err != nil {
		return nil, err
	}
	return out, nil
}

// reduceToConsolidatingTag implements §4.6 step 4: walk ch's tags newest to
// oldest, and the moment one's consolidated-changes set (plus whatever is
// transitively reachable from it) already covers every retained dependency,
// replace the whole retained set with that single tag.
func reduceToConsolidatingTag(
	store *changestore.Store,
	txn *pristine.ReadTxn,
	ch pristine.Channel,
	retained map[graph.NodeId]bool,
	transitive func(graph.NodeId) (map[graph.NodeId]bool, error),
) (map[graph.NodeId]bool, error) {
	if len(retained) == 0 {
		return retained, nil
	}

	tags, err := txn.IterTags(ch)
	if err != nil {
		return nil, err
	}

	for _, tg := range tags {
		tagInternal, ok, err := registry.GetInternal(txn, codec.HashOfMerkle(tg.Merkle))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		raw, err := store.GetTag(tg.Merkle)
		if err != nil {
			if errors.Is(err, changestore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		tag, err := codec.DecodeTagExpectMerkle(raw, tg.Merkle)
		if err != nil {
			return nil, err
		}

		covered := map[graph.NodeId]bool{tagInternal: true}
		for _, depHash := range tag.Dependencies {
			depInternal, ok, err := registry.GetInternal(txn, depHash)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			covered[depInternal] = true
		}
		reachable := map[graph.NodeId]bool{}
		for n := range covered {
			reachable[n] = true
			deps, err := transitive(n)
			if err != nil {
				return nil, err
			}
			for d := range deps {
				reachable[d] = true
			}
		}

		everyRetainedCovered := true
		for n := range retained {
			if !reachable[n] {
				everyRetainedCovered = false
				break
			}
		}
		if everyRetainedCovered {
			return map[graph.NodeId]bool{tagInternal: true}, nil
		}
	}

	return retained, nil
}

// referencedNodes implements §4.6 step 1: every NodeId named by a vertex
// reference anywhere in hunks. FSOp hunks carry no vertex references and are
// skipped outright.
func referencedNodes(hunks []codec.Hunk) map[graph.NodeId]bool {
	out := map[graph.NodeId]bool{}
	add := func(v graph.Vertex) {
		if v.Node != graph.Invalid {
			out[v.Node] = true
		}
	}
	for _, h := range hunks {
		switch h.Kind {
		case codec.HunkNewVertex:
			if h.NewVertex != nil {
				for _, p := range h.NewVertex.Parents {
					add(p.Source)
				}
			}
		case codec.HunkEdgeMap:
			if h.EdgeMap != nil {
				for _, op := range h.EdgeMap.Ops {
					add(op.Source)
					add(op.Target)
				}
			}
		case codec.HunkSolveNameConflict:
			if h.NameConflict != nil {
				for _, v := range h.NameConflict.Order {
					add(v)
				}
			}
		case codec.HunkSolveOrderConflict:
			if h.OrderConflict != nil {
				for _, v := range h.OrderConflict.Order {
					add(v)
				}
			}
		case codec.HunkReplacement:
			if h.Replacement != nil {
				add(h.Replacement.Old)
				for _, p := range h.Replacement.Replacement.Parents {
					add(p.Source)
				}
			}
		}
	}
	return out
}
