package pristine

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/arbor-vcs/arbor/pkg/codec"
	"github.com/arbor-vcs/arbor/pkg/graph"
)

// ReadTxn is the read-only capability struct spec.md §9's design notes call
// for in place of separate read/write/graph/deps/tags trait hierarchies:
// one narrow struct, with WriteTxn embedding it to add mutation methods.
type ReadTxn struct {
	txn *badger.Txn
}

// WriteTxn additionally permits mutation. Every write method is defined on
// *WriteTxn, never on *ReadTxn, so the type system enforces §9's
// "operations take &Txn or &mut Txn" capability split.
type WriteTxn struct {
	ReadTxn
	wtxn *badger.Txn
}

func wrapGetErr(err error) error {
	if err == badger.ErrKeyNotFound {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrIo, err)
}

func (t *ReadTxn) getValue(key []byte) ([]byte, bool, error) {
	item, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrIo, err)
	}
	var out []byte
	err = item.Value(func(v []byte) error {
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrIo, err)
	}
	return out, true, nil
}

func (t *ReadTxn) has(key []byte) (bool, error) {
	_, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIo, err)
	}
	return true, nil
}

func (t *WriteTxn) set(key, value []byte) error {
	if err := t.wtxn.Set(key, value); err != nil {
		return fmt.Errorf("%w: %v", ErrIo, err)
	}
	return nil
}

func (t *WriteTxn) delete(key []byte) error {
	if err := t.wtxn.Delete(key); err != nil {
		return fmt.Errorf("%w: %v", ErrIo, err)
	}
	return nil
}

// GetExternal looks up the Hash registered for an internal NodeId (the
// `external` table, spec.md §3).
func (t *ReadTxn) GetExternal(id graph.NodeId) (codec.Hash, bool, error) {
	v, ok, err := t.getValue(externalKey(id))
	if err != nil || !ok {
		return codec.Hash{}, ok, err
	}
	var h codec.Hash
	copy(h[:], v)
	return h, true, nil
}

// GetInternal looks up the NodeId registered for an external Hash (the
// `internal` table).
func (t *ReadTxn) GetInternal(h codec.Hash) (graph.NodeId, bool, error) {
	v, ok, err := t.getValue(internalKey(h))
	if err != nil || !ok {
		return graph.Invalid, ok, err
	}
	return graph.NodeId(readUint64At(v)), true, nil
}

// GetNodeType looks up a registered node's NodeType.
func (t *ReadTxn) GetNodeType(id graph.NodeId) (graph.NodeType, bool, error) {
	v, ok, err := t.getValue(nodeTypeKey(id))
	if err != nil || !ok {
		return 0, ok, err
	}
	return graph.NodeType(v[0]), true, nil
}

// IterDep yields the dependencies recorded for a dependent node.
func (t *ReadTxn) IterDep(dependent graph.NodeId) ([]graph.NodeId, error) {
	return t.iterNodeIdSuffix(depPrefix(dependent))
}

// IterRevDep yields the dependents recorded for a dependency node.
func (t *ReadTxn) IterRevDep(dependency graph.NodeId) ([]graph.NodeId, error) {
	return t.iterNodeIdSuffix(revDepPrefix(dependency))
}

func (t *ReadTxn) iterNodeIdSuffix(prefix []byte) ([]graph.NodeId, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []graph.NodeId
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		out = append(out, graph.NodeId(readUint64At(key[len(prefix):len(prefix)+8])))
	}
	return out, nil
}

// PutExternal records NodeId -> Hash.
func (t *WriteTxn) PutExternal(id graph.NodeId, h codec.Hash) error {
	return t.set(externalKey(id), h[:])
}

// PutInternal records Hash -> NodeId.
func (t *WriteTxn) PutInternal(h codec.Hash, id graph.NodeId) error {
	return t.set(internalKey(h), putUint64(nil, uint64(id)))
}

// PutNodeType records a node's NodeType.
func (t *WriteTxn) PutNodeType(id graph.NodeId, nt graph.NodeType) error {
	return t.set(nodeTypeKey(id), []byte{byte(nt)})
}

// AllocateNodeId returns the next dense, monotonic NodeId (spec.md §3: "a
// NodeId is allocated at first registration and never re-used within a
// repository"). It reads and rewrites the singleton counter row within
// this write transaction, so two allocations inside the same Update call
// never collide, and Badger's single-writer discipline means no other
// transaction can allocate concurrently.
func (t *WriteTxn) AllocateNodeId() (graph.NodeId, error) {
	v, ok, err := t.getValue(nodeIdCounterKey)
	if err != nil {
		return graph.Invalid, err
	}
	var next graph.NodeId
	if !ok {
		next = 1 // graph.Invalid (0) is never allocated.
	} else {
		next = graph.NodeId(readUint64At(v)) + 1
	}
	if err := t.set(nodeIdCounterKey, putUint64(nil, uint64(next))); err != nil {
		return graph.Invalid, err
	}
	return next, nil
}

// PutDep records "dependent depends on dependency" in both `dep` and
// `revdep`, always together — there is no operation that writes only one
// side, matching the schema's description of them as mirrors of each
// other.
func (t *WriteTxn) PutDep(dependent, dependency graph.NodeId) error {
	if err := t.set(depKey(dependent, dependency), nil); err != nil {
		return err
	}
	return t.set(revDepKey(dependency, dependent), nil)
}
