package pristine

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/arbor-vcs/arbor/pkg/graph"
)

// PutTouchedFile records that node touches inode, both forward and
// reverse (`touched_files`/`rev_touched_files`), so per-file history can be
// walked without scanning every node.
func (t *WriteTxn) PutTouchedFile(node graph.NodeId, inode InodeId) error {
	if err := t.set(touchedFilesKey(node, inode), nil); err != nil {
		return err
	}
	return t.set(revTouchedFilesKey(inode, node), nil)
}

// RemoveTouchedFile undoes PutTouchedFile, used by UnapplyNode.
func (t *WriteTxn) RemoveTouchedFile(node graph.NodeId, inode InodeId) error {
	if err := t.delete(touchedFilesKey(node, inode)); err != nil {
		return err
	}
	return t.delete(revTouchedFilesKey(inode, node))
}

// IterTouchedFiles yields the inodes a node's hunks declared as touched.
func (t *ReadTxn) IterTouchedFiles(node graph.NodeId) ([]InodeId, error) {
	prefix := touchedFilesPrefix(node)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []InodeId
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		out = append(out, InodeId(readUint64At(key[len(prefix):])))
	}
	return out, nil
}

// IterRevTouchedFiles yields the nodes that have touched a given inode, in
// key order (which, since node ids are monotonic and stored big-endian, is
// also chronological registration order).
func (t *ReadTxn) IterRevTouchedFiles(inode InodeId) ([]graph.NodeId, error) {
	prefix := revTouchedFilesPrefix(inode)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []graph.NodeId
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		out = append(out, graph.NodeId(readUint64At(key[len(prefix):])))
	}
	return out, nil
}

// PutInode records a tracked path's inode to its current vertex position,
// and the reverse index.
func (t *WriteTxn) PutInode(inode InodeId, pos Position) error {
	if err := t.set(inodesKey(inode), positionBytes(pos)); err != nil {
		return err
	}
	return t.set(revInodesKey(pos), putUint64(nil, uint64(inode)))
}

// GetInode returns the current position of a tracked inode.
func (t *ReadTxn) GetInode(inode InodeId) (Position, bool, error) {
	v, ok, err := t.getValue(inodesKey(inode))
	if err != nil || !ok {
		return Position{}, ok, err
	}
	return decodePosition(v), true, nil
}

// treeEntryLive/treeEntryTombstoned are the liveness byte appended after
// the 8-byte InodeId in a tree-table value. A tombstoned entry keeps its
// inode rather than erasing the row outright, the same tombstone idiom
// pkg/graph's FlagDeleted edges use — it is what lets UnapplyNode invert an
// FSOpDelete without needing a separate history table: the deleted inode is
// still sitting right there under the path it was deleted from.
const (
	treeEntryLive        byte = 0
	treeEntryTombstoned  byte = 1
)

func encodeTreeValue(inode InodeId, tombstoned bool) []byte {
	v := putUint64(nil, uint64(inode))
	if tombstoned {
		return append(v, treeEntryTombstoned)
	}
	return append(v, treeEntryLive)
}

// PutTreeEntry records the folder overlay mapping PathId -> InodeId (live)
// and its reverse.
func (t *WriteTxn) PutTreeEntry(path PathId, inode InodeId) error {
	if err := t.set(treeKey(path), encodeTreeValue(inode, false)); err != nil {
		return err
	}
	return t.set(revTreeKey(inode), putUint64(nil, uint64(path)))
}

// GetTreeEntry resolves a PathId to its current inode, if the entry is
// live. A tombstoned entry (see DeleteTreeEntry) is reported as absent.
func (t *ReadTxn) GetTreeEntry(path PathId) (InodeId, bool, error) {
	v, ok, err := t.getValue(treeKey(path))
	if err != nil || !ok || v[len(v)-1] == treeEntryTombstoned {
		return 0, false, err
	}
	return InodeId(readUint64At(v[:8])), true, nil
}

// GetTombstonedTreeEntry returns the inode recorded at path regardless of
// liveness, used by UnapplyNode to recover the inode an FSOpDelete removed
// so the entry can be restored.
func (t *ReadTxn) GetTombstonedTreeEntry(path PathId) (InodeId, bool, error) {
	v, ok, err := t.getValue(treeKey(path))
	if err != nil || !ok {
		return 0, ok, err
	}
	return InodeId(readUint64At(v[:8])), true, nil
}

// GetRevTreeEntry resolves an inode back to its current PathId.
func (t *ReadTxn) GetRevTreeEntry(inode InodeId) (PathId, bool, error) {
	v, ok, err := t.getValue(revTreeKey(inode))
	if err != nil || !ok {
		return 0, ok, err
	}
	return PathId(readUint64At(v)), true, nil
}

// DeleteTreeEntry tombstones a path's tree overlay entry (keeping its
// inode recoverable) and drops the reverse index, since the inode's
// "current path" is no longer defined once deleted. Used by FSOpDelete and
// FSOpMove (which tombstones the old path before writing the new one).
func (t *WriteTxn) DeleteTreeEntry(path PathId, inode InodeId) error {
	if err := t.set(treeKey(path), encodeTreeValue(inode, true)); err != nil {
		return err
	}
	return t.delete(revTreeKey(inode))
}

// InternPath returns the PathId for path, allocating one on first use.
// spec.md §3 names `tree`/`revtree` as PathId-keyed tables but does not
// name the table that assigns PathIds to path strings in the first place;
// this fills that gap the same way AllocateNodeId fills NodeId allocation,
// documented in DESIGN.md as a resolved schema gap rather than a spec
// ambiguity (the spec simply takes path interning as a given, the way it
// takes Hash interning for granted before describing `internal`/`external`).
func (t *WriteTxn) InternPath(path string) (PathId, error) {
	key := pathIdKey(path)
	v, ok, err := t.getValue(key)
	if err != nil {
		return 0, err
	}
	if ok {
		return PathId(readUint64At(v)), nil
	}

	counterVal, ok, err := t.getValue(pathIdCounterKey)
	if err != nil {
		return 0, err
	}
	var id PathId
	if !ok {
		id = 1
	} else {
		id = PathId(readUint64At(counterVal)) + 1
	}
	if err := t.set(pathIdCounterKey, putUint64(nil, uint64(id))); err != nil {
		return 0, err
	}
	if err := t.set(key, putUint64(nil, uint64(id))); err != nil {
		return 0, err
	}
	if err := t.set(revPathIdKey(id), []byte(path)); err != nil {
		return 0, err
	}
	return id, nil
}

// PathOf resolves a PathId back to its path string.
func (t *ReadTxn) PathOf(id PathId) (string, bool, error) {
	v, ok, err := t.getValue(revPathIdKey(id))
	if err != nil || !ok {
		return "", ok, err
	}
	return string(v), true, nil
}

// AllocateInodeId allocates the next dense InodeId, the same pattern as
// AllocateNodeId.
func (t *WriteTxn) AllocateInodeId() (InodeId, error) {
	v, ok, err := t.getValue(inodeIdCounterKey)
	if err != nil {
		return 0, err
	}
	var next InodeId
	if !ok {
		next = 1
	} else {
		next = InodeId(readUint64At(v)) + 1
	}
	if err := t.set(inodeIdCounterKey, putUint64(nil, uint64(next))); err != nil {
		return 0, err
	}
	return next, nil
}

// PutRemoteCursor records an opaque per-remote synchronization cursor
// (spec.md §3's `remotes` table — explicitly "out of core"; stored here as
// an uninterpreted blob so a remote-sync collaborator can keep state
// without the core needing to understand its shape).
func (t *WriteTxn) PutRemoteCursor(name string, cursor []byte) error {
	return t.set(remoteKey(name), cursor)
}

// GetRemoteCursor returns a remote's stored cursor bytes, if any.
func (t *ReadTxn) GetRemoteCursor(name string) ([]byte, bool, error) {
	return t.getValue(remoteKey(name))
}
