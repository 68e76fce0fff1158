package pristine

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/arbor-vcs/arbor/pkg/graph"
)

// RecordVertexSpan registers v as a whole vertex span within ch — called
// once when a NewVertex hunk first creates v, and again (with the two
// halves) whenever SplitVertex divides an existing span. Together with
// FindEnclosingSpan this lets the apply engine detect when an incoming
// ParentEdge or EdgeOp names a sub-range of an already-registered vertex
// and needs a split before it can be wired, the way §4.3's split_vertex is
// described.
func (t *WriteTxn) RecordVertexSpan(ch Channel, v graph.Vertex) error {
	return t.set(vertexSpanKey(ch.Name, v.Node, v.Start), putUint64(nil, v.End))
}

// RemoveVertexSpan deletes a previously recorded span — used when
// SplitVertex retires the whole span it replaces with two narrower ones.
func (t *WriteTxn) RemoveVertexSpan(ch Channel, v graph.Vertex) error {
	return t.delete(vertexSpanKey(ch.Name, v.Node, v.Start))
}

// FindEnclosingSpan returns the registered vertex span for node that
// strictly contains point (span.Start <= point < span.End), if any. A
// point equal to some span's Start is considered contained by that span,
// not by the one ending there, matching half-open vertex range semantics
// throughout the module.
func (t *ReadTxn) FindEnclosingSpan(ch Channel, node graph.NodeId, point uint64) (graph.Vertex, bool, error) {
	prefix := vertexSpanNodePrefix(ch.Name, node)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	it := t.txn.NewIterator(opts)
	defer it.Close()

	seekKey := putUint64(append([]byte{}, prefix...), point)
	// Append 0xff bytes so Seek (which lands on the first key <=, in
	// reverse iteration, the first key >= seekKey going backward) starts
	// at or after any span beginning exactly at point.
	seekKey = append(seekKey, 0xff)

	for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		start := readUint64At(key[len(prefix):])
		if start > point {
			continue
		}
		var end uint64
		err := item.Value(func(v []byte) error {
			end = readUint64At(v)
			return nil
		})
		if err != nil {
			return graph.Vertex{}, false, err
		}
		if point < end {
			return graph.Vertex{Node: node, Start: start, End: end}, true, nil
		}
		return graph.Vertex{}, false, nil
	}
	return graph.Vertex{}, false, nil
}
