package apply

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

// currentMerkle returns ch's cumulative state after its last applied node,
// or the zero Merkle for an empty channel.
func currentMerkle(txn *pristine.ReadTxn, ch pristine.Channel) (codec.Merkle, error) {
	length, err := txn.LogLength(ch)
	if err != nil {
		return codec.Merkle{}, err
	}
	if length == 0 {
		return codec.Merkle{}, nil
	}
	entry, ok, err := txn.GetLogEntry(ch, length-1)
	if err != nil {
		return codec.Merkle{}, err
	}
	if !ok {
		return codec.Merkle{}, nil
	}
	return entry.Merkle, nil
}

// dependencySatisfied implements §4.5 step 3: a dependency is satisfied if
// its NodeId has been applied to this channel, or if it is registered as a
// Tag (tags stand for the whole state they consolidate, so depending on one
// never requires it to appear in this channel's own log).
func dependencySatisfied(txn *pristine.ReadTxn, ch pristine.Channel, dep codec.Hash) (bool, error) {
	depInternal, known, err := registry.GetInternal(txn, dep)
	if err != nil {
		return false, err
	}
	if !known {
		return false, nil
	}
	if _, applied, err := txn.LogPosOf(ch, depInternal); err != nil {
		return false, err
	} else if applied {
		return true, nil
	}
	nodeType, ok, err := registry.GetNodeType(txn, depInternal)
	if err != nil {
		return false, err
	}
	return ok && nodeType == graph.NodeTypeTag, nil
}

// alreadyAppliedResult returns the existing log position and merkle for an
// already-applied internal NodeId, and reports whether it is in fact
// already applied to ch.
func alreadyAppliedResult(txn *pristine.ReadTxn, ch pristine.Channel, internal graph.NodeId) (pristine.LogPos, codec.Merkle, bool, error) {
	pos, applied, err := txn.LogPosOf(ch, internal)
	if err != nil || !applied {
		return 0, codec.Merkle{}, false, err
	}
	entry, ok, err := txn.GetLogEntry(ch, pos)
	if err != nil || !ok {
		return 0, codec.Merkle{}, false, err
	}
	return pos, entry.Merkle, true, nil
}

// ApplyNode implements apply_node (§4.5): idempotently applies a single
// change or tag to a channel. Callers supply nodeType because the two
// artifacts live in separate content-addressed namespaces in
// pkg/changestore (GetChange vs GetTag) — there is nothing in a bare Hash
// that says which one it names.
//
// Returns (ErrAlreadyApplied alongside the existing position/merkle) if hash
// is already present in ch's log; this is not a failure, per §7's
// idempotence-no-op error kind.
func ApplyNode(store *changestore.Store, txn *pristine.WriteTxn, ch pristine.Channel, hash codec.Hash, nodeType graph.NodeType) (pristine.LogPos, codec.Merkle, error) {
	internal, known, err := registry.GetInternal(&txn.ReadTxn, hash)
	if err != nil {
		return 0, codec.Merkle{}, err
	}
	if known {
		if pos, merkle, applied, err := alreadyAppliedResult(&txn.ReadTxn, ch, internal); err != nil {
			return 0, codec.Merkle{}, err
		} else if applied {
			return pos, merkle, ErrAlreadyApplied
		}
	}

	switch nodeType {
	case graph.NodeTypeChange:
		return applyChange(store, txn, ch, hash, internal, known)
	case graph.NodeTypeTag:
		return applyTag(store, txn, ch, hash, internal, known)
	default:
		return 0, codec.Merkle{}, fmt.Errorf("apply: unknown node type %d", nodeType)
	}
}

func applyChange(store *changestore.Store, txn *pristine.WriteTxn, ch pristine.Channel, hash codec.Hash, internal graph.NodeId, known bool) (pristine.LogPos, codec.Merkle, error) {
	raw, err := store.GetChange(hash)
	if err != nil {
		return 0, codec.Merkle{}, err
	}
	change, err := codec.DecodeExpectHash(raw, hash)
	if err != nil {
		return 0, codec.Merkle{}, err
	}

	for _, dep := range change.Dependencies {
		ok, err := dependencySatisfied(&txn.ReadTxn, ch, dep)
		if err != nil {
			return 0, codec.Merkle{}, err
		}
		if !ok {
			return 0, codec.Merkle{}, &DependencyMissingError{Hash: dep}
		}
	}

	if !known {
		internal, err = registry.AllocateNodeId(txn)
		if err != nil {
			return 0, codec.Merkle{}, err
		}
		if err := registry.RegisterNode(txn, internal, hash, graph.NodeTypeChange, change.Dependencies); err != nil {
			return 0, codec.Merkle{}, err
		}
	}

	ws := newWorkspace(internal, change.Contents)
	for _, h := range change.Hunks {
		if err := executeHunk(txn, ch, ws, h); err != nil {
			return 0, codec.Merkle{}, err
		}
	}

	prevMerkle, err := currentMerkle(&txn.ReadTxn, ch)
	if err != nil {
		return 0, codec.Merkle{}, err
	}
	newMerkle := codec.Mix(prevMerkle, hash)

	pos, err := txn.LogLength(ch)
	if err != nil {
		return 0, codec.Merkle{}, err
	}
	if err := txn.AppendLog(ch, pos, internal, newMerkle); err != nil {
		return 0, codec.Merkle{}, err
	}

	for inode := range ws.TouchedInodes {
		if err := txn.PutTouchedFile(internal, inode); err != nil {
			return 0, codec.Merkle{}, err
		}
	}

	return pos, newMerkle, nil
}

// applyTag implements the Tag half of apply_node. A tag carries no hunks:
// its whole effect on the channel is the log row it occupies, pinned to
// the Merkle it already names (a tag's Merkle field IS the cumulative state
// it consolidates — adopting it sets the channel to exactly that state
// rather than mixing it in as one more increment).
func applyTag(store *changestore.Store, txn *pristine.WriteTxn, ch pristine.Channel, hash codec.Hash, internal graph.NodeId, known bool) (pristine.LogPos, codec.Merkle, error) {
	merkle := codec.MerkleOfHash(hash)
	raw, err := store.GetTag(merkle)
	if err != nil {
		return 0, codec.Merkle{}, err
	}
	tag, err := codec.DecodeTagExpectMerkle(raw, merkle)
	if err != nil {
		return 0, codec.Merkle{}, err
	}

	for _, dep := range tag.Dependencies {
		ok, err := dependencySatisfied(&txn.ReadTxn, ch, dep)
		if err != nil {
			return 0, codec.Merkle{}, err
		}
		if !ok {
			return 0, codec.Merkle{}, &DependencyMissingError{Hash: dep}
		}
	}

	if !known {
		internal, err = registry.AllocateNodeId(txn)
		if err != nil {
			return 0, codec.Merkle{}, err
		}
		if err := registry.RegisterNode(txn, internal, hash, graph.NodeTypeTag, tag.Dependencies); err != nil {
			return 0, codec.Merkle{}, err
		}
	}

	pos, err := txn.LogLength(ch)
	if err != nil {
		return 0, codec.Merkle{}, err
	}
	if err := txn.AppendLog(ch, pos, internal, tag.Merkle); err != nil {
		return 0, codec.Merkle{}, err
	}
	if err := txn.PutTag(ch, pos, tag.Merkle); err != nil {
		return 0, codec.Merkle{}, err
	}

	return pos, tag.Merkle, nil
}

// dependenciesOf fetches just the dependency list of a not-yet-applied
// node, without running its hunks — used by ApplyNodeRec to walk the
// dependency closure before applying anything. It re-fetches and re-decodes
// the artifact a second time inside ApplyNode itself; that duplication
// trades a little I/O for keeping ApplyNode's own contract (it always
// re-derives everything from the stored bytes) uniform between the
// recursive and non-recursive entry points.
func dependenciesOf(store *changestore.Store, hash codec.Hash, nodeType graph.NodeType) ([]codec.Hash, error) {
	switch nodeType {
	case graph.NodeTypeChange:
		raw, err := store.GetChange(hash)
		if err != nil {
			return nil, err
		}
		c, err := codec.DecodeExpectHash(raw, hash)
		if err != nil {
			return nil, err
		}
		return c.Dependencies, nil
	case graph.NodeTypeTag:
		merkle := codec.MerkleOfHash(hash)
		raw, err := store.GetTag(merkle)
		if err != nil {
			return nil, err
		}
		t, err := codec.DecodeTagExpectMerkle(raw, merkle)
		if err != nil {
			return nil, err
		}
		return t.Dependencies, nil
	default:
		return nil, fmt.Errorf("apply: unknown node type %d", nodeType)
	}
}

// ApplyNodeRec implements apply_node_rec (§4.5): applies hash and its full
// transitive dependency closure to ch, skipping whatever is already there.
// types supplies the NodeType of every hash that might be encountered and
// is not yet locally registered — a sync peer offering a change always
// offers this alongside it, since a bare Hash cannot otherwise be resolved
// to a changestore namespace. Dependencies not named in types must already
// be registered locally (typically because an earlier, independent sync
// already recorded their type) or ApplyNodeRec reports them missing.
//
// Siblings at each level of the closure are applied in ascending hash
// order, so that two independently computed closures over the same
// dependency set apply in the same order regardless of which traversal
// order a caller's own bookkeeping happened to discover them in.
func ApplyNodeRec(store *changestore.Store, txn *pristine.WriteTxn, ch pristine.Channel, hash codec.Hash, nodeType graph.NodeType, types map[codec.Hash]graph.NodeType) (pristine.LogPos, codec.Merkle, error) {
	return applyNodeRec(store, txn, ch, hash, nodeType, types, map[codec.Hash]bool{})
}

func applyNodeRec(store *changestore.Store, txn *pristine.WriteTxn, ch pristine.Channel, hash codec.Hash, nodeType graph.NodeType, types map[codec.Hash]graph.NodeType, path map[codec.Hash]bool) (pristine.LogPos, codec.Merkle, error) {
	if path[hash] {
		return 0, codec.Merkle{}, &DependencyCycleError{Hash: hash}
	}

	if internal, known, err := registry.GetInternal(&txn.ReadTxn, hash); err != nil {
		return 0, codec.Merkle{}, err
	} else if known {
		if pos, merkle, applied, err := alreadyAppliedResult(&txn.ReadTxn, ch, internal); err != nil {
			return 0, codec.Merkle{}, err
		} else if applied {
			return pos, merkle, nil
		}
	}

	path[hash] = true
	defer delete(path, hash)

	deps, err := dependenciesOf(store, hash, nodeType)
	if err != nil {
		return 0, codec.Merkle{}, err
	}
	sort.Slice(deps, func(i, j int) bool { return bytes.Compare(deps[i][:], deps[j][:]) < 0 })

	for _, dep := range deps {
		depType, ok := types[dep]
		if !ok {
			internal, known, err := registry.GetInternal(&txn.ReadTxn, dep)
			if err != nil {
				return 0, codec.Merkle{}, err
			}
			if !known {
				return 0, codec.Merkle{}, &DependencyMissingError{Hash: dep}
			}
			t, ok, err := registry.GetNodeType(&txn.ReadTxn, internal)
			if err != nil {
				return 0, codec.Merkle{}, err
			}
			if !ok {
				return 0, codec.Merkle{}, &DependencyMissingError{Hash: dep}
			}
			depType = t
		}
		if _, _, err := applyNodeRec(store, txn, ch, dep, depType, types, path); err != nil {
			return 0, codec.Merkle{}, err
		}
	}

	pos, merkle, err := ApplyNode(store, txn, ch, hash, nodeType)
	if err != nil && !errors.Is(err, ErrAlreadyApplied) {
		return 0, codec.Merkle{}, err
	}
	return pos, merkle, nil
}

// UnapplyNode implements unapply_node: removes hash from ch's log and
// inverts every effect its hunks had on the channel's graph and tree
// overlay. It refuses if hash is not the tail of ch's log (merkle chaining
// requires removing from the end) or if some other applied node on the
// channel depends on it.
func UnapplyNode(store *changestore.Store, txn *pristine.WriteTxn, ch pristine.Channel, hash codec.Hash) error {
	internal, known, err := registry.GetInternal(&txn.ReadTxn, hash)
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("apply: %s is not a registered node", hash)
	}

	pos, applied, err := txn.LogPosOf(ch, internal)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("apply: %s is not applied on channel %q", hash, ch.Name)
	}

	dependents, err := registry.IterRevDep(&txn.ReadTxn, internal)
	if err != nil {
		return err
	}
	for _, dep := range dependents {
		if _, applied, err := txn.LogPosOf(ch, dep); err != nil {
			return err
		} else if applied {
			return ErrHasDependents
		}
	}

	length, err := txn.LogLength(ch)
	if err != nil {
		return err
	}
	if pos+1 != length {
		return ErrNotTailOfLog
	}

	nodeType, ok, err := registry.GetNodeType(&txn.ReadTxn, internal)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("apply: %s has no recorded node type", hash)
	}

	entry, ok, err := txn.GetLogEntry(ch, pos)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("apply: missing log entry at position %d", pos)
	}

	switch nodeType {
	case graph.NodeTypeTag:
		if err := txn.RemoveTag(ch, pos); err != nil {
			return err
		}
		return txn.RemoveLogEntry(ch, pos, internal, entry.Merkle)

	case graph.NodeTypeChange:
		raw, err := store.GetChange(hash)
		if err != nil {
			return err
		}
		change, err := codec.DecodeExpectHash(raw, hash)
		if err != nil {
			return err
		}

		ws := newWorkspace(internal, change.Contents)
		for i := len(change.Hunks) - 1; i >= 0; i-- {
			if err := invertHunk(txn, ch, ws, change.Hunks[i]); err != nil {
				return err
			}
		}
		for inode := range ws.TouchedInodes {
			if err := txn.RemoveTouchedFile(internal, inode); err != nil {
				return err
			}
		}
		return txn.RemoveLogEntry(ch, pos, internal, entry.Merkle)

	default:
		return fmt.Errorf("apply: unknown node type %d", nodeType)
	}
}
