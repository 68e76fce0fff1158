// Package registry implements the change/tag registry of spec.md §4.4: the
// repository-wide (not channel-scoped) mapping between external Hashes and
// internal NodeIds, node-type discrimination, and the dependency DAG.
//
// Nothing here ever writes to a channel. That separation is the package's
// entire reason to exist as something other than a few pristine methods:
// §4.4's critical rule says applying a change must never create or modify
// tag metadata, and the surest way to make that true in code is for the
// function that registers a node to have no access to any channel
// operation in the first place.
package registry

import (
	"fmt"

	"github.com/arbor-vcs/arbor/pkg/codec"
	"github.com/arbor-vcs/arbor/pkg/graph"
	"github.com/arbor-vcs/arbor/pkg/pristine"
)

// ErrNodeTypeMismatch is returned by RegisterNode when internal is already
// registered under hash but with a different NodeType than requested —
// a consistency error per spec.md §7: the caller should treat the
// repository as corrupt.
var ErrNodeTypeMismatch = fmt.Errorf("registry: node type mismatch for already-registered hash")

// Dependency pairs a dependency hash, whose internal mapping may or may not
// yet exist in this repository, with its resolution. RegisterNode takes its
// dependency list as plain hashes, not as Dependency values.
type Dependency struct {
	Hash codec.Hash
	// Internal is the resolved NodeId, and Known reports whether a mapping
	// existed at registration time. Unknown dependencies are permitted
	// (they name tags or not-yet-seen nodes, per §4.4) and are simply
	// skipped when writing `dep`/`revdep`.
	Internal graph.NodeId
	Known    bool
}

// RegisterNode implements register_node (§4.4): idempotent registration of
// an internal NodeId against its external Hash and NodeType, plus
// dependency-edge bookkeeping for every already-known dependency.
//
// If internal is already registered, RegisterNode verifies hash and
// nodeType match the existing registration and returns without writing
// anything (idempotent no-op, not an error, per §7's idempotence-no-op
// error kind). It never writes to any channel's tables.
func RegisterNode(txn *pristine.WriteTxn, internal graph.NodeId, hash codec.Hash, nodeType graph.NodeType, dependencies []codec.Hash) error {
	existingHash, ok, err := txn.GetExternal(internal)
	if err != nil {
		return err
	}
	if ok {
		if existingHash != hash {
			return fmt.Errorf("%w: NodeId %d already maps to %s, got %s", ErrNodeTypeMismatch, internal, existingHash, hash)
		}
		existingType, ok, err := txn.GetNodeType(internal)
		if err != nil {
			return err
		}
		if ok && existingType != nodeType {
			return fmt.Errorf("%w: NodeId %d already registered as %s, got %s", ErrNodeTypeMismatch, internal, existingType, nodeType)
		}
		return nil
	}

	if err := txn.PutExternal(internal, hash); err != nil {
		return err
	}
	if err := txn.PutInternal(hash, internal); err != nil {
		return err
	}
	if err := txn.PutNodeType(internal, nodeType); err != nil {
		return err
	}

	for _, depHash := range dependencies {
		depInternal, known, err := txn.GetInternal(depHash)
		if err != nil {
			return err
		}
		if !known {
			// Permitted: the dependency names a tag or a node this
			// repository has not yet seen. Nothing to record yet.
			continue
		}
		if err := txn.PutDep(internal, depInternal); err != nil {
			return err
		}
	}
	return nil
}

// GetInternal resolves an external Hash to its NodeId, if registered.
func GetInternal(txn *pristine.ReadTxn, hash codec.Hash) (graph.NodeId, bool, error) {
	return txn.GetInternal(hash)
}

// GetExternal resolves a NodeId to its external Hash, if registered.
func GetExternal(txn *pristine.ReadTxn, id graph.NodeId) (codec.Hash, bool, error) {
	return txn.GetExternal(id)
}

// GetNodeType resolves a NodeId to its registered NodeType, if any.
func GetNodeType(txn *pristine.ReadTxn, id graph.NodeId) (graph.NodeType, bool, error) {
	return txn.GetNodeType(id)
}

// IterDep returns the dependencies recorded for a NodeId.
func IterDep(txn *pristine.ReadTxn, id graph.NodeId) ([]graph.NodeId, error) {
	return txn.IterDep(id)
}

// IterRevDep returns the dependents recorded for a NodeId.
func IterRevDep(txn *pristine.ReadTxn, id graph.NodeId) ([]graph.NodeId, error) {
	return txn.IterRevDep(id)
}

// AllocateNodeId allocates the next dense, monotonic internal id (§3).
func AllocateNodeId(txn *pristine.WriteTxn) (graph.NodeId, error) {
	return txn.AllocateNodeId()
}
