package pristine

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/arbor-vcs/arbor/pkg/codec"
	"github.com/arbor-vcs/arbor/pkg/graph"
)

// Channel is a shared handle to one named line of development — spec.md
// §3's channel entity. It carries no state of its own beyond the name;
// every operation takes it alongside a transaction, the same "cheap handle,
// single owning database" arena shape spec.md §9's design notes prescribe
// for cyclic cross-references between changes, tags, and channels.
type Channel struct {
	Name string
}

// OpenOrCreateChannel registers a new channel name if it is not already
// registered. Creating the six backing tables described in §4.2 needs no
// explicit action here — Badger key prefixes exist lazily, so
// "creating" a channel is exactly recording its name in the registry.
func (t *WriteTxn) OpenOrCreateChannel(name string) (Channel, error) {
	key := channelRegistryKey(name)
	exists, err := t.has(key)
	if err != nil {
		return Channel{}, err
	}
	if !exists {
		if err := t.set(key, nil); err != nil {
			return Channel{}, err
		}
	}
	return Channel{Name: name}, nil
}

// LoadChannel returns the handle for an already-registered channel, or
// ErrChannelNotFound.
func (t *ReadTxn) LoadChannel(name string) (Channel, error) {
	exists, err := t.has(channelRegistryKey(name))
	if err != nil {
		return Channel{}, err
	}
	if !exists {
		return Channel{}, ErrChannelNotFound
	}
	return Channel{Name: name}, nil
}

// PutEdge inserts one forward edge and its PARENT mirror into the
// channel's graph multiset, per §3's invariant 4 that the two always
// coexist.
func (t *WriteTxn) PutEdge(ch Channel, source graph.Vertex, e graph.Edge) error {
	if err := t.set(graphKey(ch.Name, source, e), nil); err != nil {
		return err
	}
	mirrorSource, mirrorEdge := e.Mirror(source)
	return t.set(graphKey(ch.Name, mirrorSource, mirrorEdge), nil)
}

// DeleteEdge removes one forward edge and its PARENT mirror. Used by
// unapply and by EdgeMap-hunk removals.
func (t *WriteTxn) DeleteEdge(ch Channel, source graph.Vertex, e graph.Edge) error {
	if err := t.delete(graphKey(ch.Name, source, e)); err != nil {
		return err
	}
	mirrorSource, mirrorEdge := e.Mirror(source)
	return t.delete(graphKey(ch.Name, mirrorSource, mirrorEdge))
}

// Adjacent returns the edges sourced at vertex, in the key's stored
// lexicographic order (§4.3's determinism rule): by flags, then target
// vertex, then introducing NodeId — all suffix fields of the same key, in
// that order, so a plain prefix scan already yields it.
func (t *ReadTxn) Adjacent(ch Channel, source graph.Vertex) ([]graph.Edge, error) {
	prefix := graphAdjacentPrefix(ch.Name, source)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []graph.Edge
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		_, e := decodeGraphKey(ch.Name, it.Item().KeyCopy(nil))
		out = append(out, e)
	}
	return out, nil
}

// channelAdjacency adapts a (ReadTxn, Channel) pair to pkg/graph's
// AdjacencySource interface, so pkg/graph's pure alive/pseudo-edge/
// find-block algorithms can run directly against committed storage without
// pkg/graph importing pristine (which would create an import cycle).
type channelAdjacency struct {
	txn *ReadTxn
	ch  Channel
}

func (a channelAdjacency) Adjacent(v graph.Vertex) []graph.Edge {
	edges, err := a.txn.Adjacent(a.ch, v)
	if err != nil {
		// AdjacencySource has no error return; a storage error surfacing
		// here means the transaction is already broken and the caller's
		// next direct read will see the same failure.
		return nil
	}
	return edges
}

// Adjacency returns an AdjacencySource over this channel's graph's forward
// edges (every edge stored with this vertex as its key-source, in both
// directions of travel — see ParentAdjacency for the PARENT-only view).
func (t *ReadTxn) Adjacency(ch Channel) graph.AdjacencySource {
	return channelAdjacency{txn: t, ch: ch}
}

// parentOnlyAdjacency filters a channelAdjacency down to PARENT-flagged
// edges: exactly the mirrored incoming edges that represent "some other
// vertex has an edge landing on this one." pkg/graph.IsDeleted needs this
// narrower view — scanning unfiltered Adjacent would also see this
// vertex's own outgoing DELETED edges (which mark some *other* vertex dead,
// not this one) and misreport this vertex as deleted.
type parentOnlyAdjacency struct {
	inner channelAdjacency
}

func (a parentOnlyAdjacency) Adjacent(v graph.Vertex) []graph.Edge {
	all := a.inner.Adjacent(v)
	out := make([]graph.Edge, 0, len(all))
	for _, e := range all {
		if e.Flags.Has(graph.FlagParent) {
			out = append(out, e)
		}
	}
	return out
}

// ParentAdjacency returns the PARENT-direction-only AdjacencySource that
// pkg/graph.IsDeleted, pkg/graph.Alive, pkg/graph.FilterAlive, and
// pkg/graph.FindBlock require as their parentAdj argument.
func (t *ReadTxn) ParentAdjacency(ch Channel) graph.AdjacencySource {
	return parentOnlyAdjacency{inner: channelAdjacency{txn: t, ch: ch}}
}

// AppendLog appends one entry to the channel log: (log_pos, NodeId) with
// its cumulative merkle, and the reverse-lookup and state-index entries
// that go with it (§4.5 step 6). pos must be the channel's current length;
// callers compute it via LogLength.
func (t *WriteTxn) AppendLog(ch Channel, pos LogPos, node graph.NodeId, merkle codec.Merkle) error {
	val := putUint64(nil, uint64(node))
	val = append(val, merkle[:]...)
	if err := t.set(changesKey(ch.Name, pos), val); err != nil {
		return err
	}
	if err := t.set(revChangesKey(ch.Name, node), putUint64(nil, uint64(pos))); err != nil {
		return err
	}
	return t.set(statesKey(ch.Name, merkle), putUint64(nil, uint64(pos)))
}

// RemoveLogEntry deletes the entry at pos along with its reverse and state
// index rows, used by unapply. node/merkle must be the values that
// AppendLog wrote at pos.
func (t *WriteTxn) RemoveLogEntry(ch Channel, pos LogPos, node graph.NodeId, merkle codec.Merkle) error {
	if err := t.delete(changesKey(ch.Name, pos)); err != nil {
		return err
	}
	if err := t.delete(revChangesKey(ch.Name, node)); err != nil {
		return err
	}
	return t.delete(statesKey(ch.Name, merkle))
}

// LogEntry is one row of a channel's applied-node log.
type LogEntry struct {
	Pos    LogPos
	Node   graph.NodeId
	Merkle codec.Merkle
}

func decodeLogValue(pos LogPos, v []byte) LogEntry {
	e := LogEntry{Pos: pos, Node: graph.NodeId(readUint64At(v[0:8]))}
	copy(e.Merkle[:], v[8:8+codec.Size])
	return e
}

// GetLogEntry returns the log row at pos, if any.
func (t *ReadTxn) GetLogEntry(ch Channel, pos LogPos) (LogEntry, bool, error) {
	v, ok, err := t.getValue(changesKey(ch.Name, pos))
	if err != nil || !ok {
		return LogEntry{}, ok, err
	}
	return decodeLogValue(pos, v), true, nil
}

// LogPosOf returns the log position of node on this channel, if it has
// been applied.
func (t *ReadTxn) LogPosOf(ch Channel, node graph.NodeId) (LogPos, bool, error) {
	v, ok, err := t.getValue(revChangesKey(ch.Name, node))
	if err != nil || !ok {
		return 0, ok, err
	}
	return LogPos(readUint64At(v)), true, nil
}

// LogPosOfMerkle resolves a cumulative merkle to the log position it was
// recorded at (the `states` table, used for dichotomic lookups during
// sync).
func (t *ReadTxn) LogPosOfMerkle(ch Channel, m codec.Merkle) (LogPos, bool, error) {
	v, ok, err := t.getValue(statesKey(ch.Name, m))
	if err != nil || !ok {
		return 0, ok, err
	}
	return LogPos(readUint64At(v)), true, nil
}

// LogLength returns the channel's current log length (one past the
// highest applied position), by scanning the changes table's last key.
// Channels grow by small append counts relative to a full scan of other
// tables, so a reverse iterator seek is cheap enough not to warrant a
// separately maintained counter row.
func (t *ReadTxn) LogLength(ch Channel) (LogPos, error) {
	prefix := changesPrefix(ch.Name)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true
	it := t.txn.NewIterator(opts)
	defer it.Close()

	seekKey := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	it.Seek(seekKey)
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}
	key := it.Item().KeyCopy(nil)
	last := LogPos(readUint64At(key[len(prefix):]))
	return last + 1, nil
}

// IterLog yields every log entry in position order.
func (t *ReadTxn) IterLog(ch Channel) ([]LogEntry, error) {
	prefix := changesPrefix(ch.Name)
	opts := badger.DefaultIteratorOptions
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []LogEntry
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		pos := LogPos(readUint64At(key[len(prefix):]))
		var entry LogEntry
		err := item.Value(func(v []byte) error {
			entry = decodeLogValue(pos, v)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIo, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// PutTag records that the channel's log position pos has been tagged with
// merkle m. Its only caller is pkg/apply when it applies a Tag node, which
// is how a tag from tagengine.CreateTag gets recorded (§4.4's critical
// rule: applying a Change never calls this).
func (t *WriteTxn) PutTag(ch Channel, pos LogPos, m codec.Merkle) error {
	return t.set(tagsKey(ch.Name, pos), m[:])
}

// RemoveTag undoes PutTag, used when unapplying a tag node.
func (t *WriteTxn) RemoveTag(ch Channel, pos LogPos) error {
	return t.delete(tagsKey(ch.Name, pos))
}

// IsTagged reports whether pos already has a tags entry.
func (t *ReadTxn) IsTagged(ch Channel, pos LogPos) (bool, error) {
	return t.has(tagsKey(ch.Name, pos))
}

// IterTags yields every tagged position in the channel, newest (highest
// position) first — the order the consolidating-tag reduction algorithm
// (§4.6 step 4) walks them in.
func (t *ReadTxn) IterTags(ch Channel) ([]struct {
	Pos    LogPos
	Merkle codec.Merkle
}, error) {
	prefix := tagsPrefix(ch.Name)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	it := t.txn.NewIterator(opts)
	defer it.Close()

	seekKey := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	var out []struct {
		Pos    LogPos
		Merkle codec.Merkle
	}
	for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		pos := LogPos(readUint64At(key[len(prefix):]))
		var m codec.Merkle
		err := item.Value(func(v []byte) error {
			copy(m[:], v)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIo, err)
		}
		out = append(out, struct {
			Pos    LogPos
			Merkle codec.Merkle
		}{pos, m})
	}
	return out, nil
}

// ListChannels returns every registered channel name, in key order.
func (t *ReadTxn) ListChannels() ([]string, error) {
	prefix := []byte{prefixChannelRegistry}
	opts := badger.DefaultIteratorOptions
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		out = append(out, string(key[len(prefix):]))
	}
	return out, nil
}
