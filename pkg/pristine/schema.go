// Package pristine implements the repository's transactional storage
// layer: the table layout described in spec.md §3, backed by BadgerDB in
// place of a hand-rolled memory-mapped B-tree file (storage/badger.go's
// single-file-per-database, single-writer/many-readers engine already
// gives the copy-on-write, crash-safe commit semantics the data model
// calls for; rebuilding that underneath Badger would duplicate work
// Badger already does correctly).
package pristine

import (
	"encoding/binary"

	"github.com/arbor-vcs/arbor/pkg/codec"
	"github.com/arbor-vcs/arbor/pkg/graph"
)

// Single-byte table prefixes, the same organizing idea as
// storage/badger.go's prefixNode/prefixEdge/... constants. Channel-scoped
// tables additionally embed the channel name so one BadgerDB instance can
// back an unbounded number of channels without per-channel files.
const (
	prefixExternal        = byte(0x01) // NodeId -> Hash
	prefixInternal         = byte(0x02) // Hash -> NodeId
	prefixNodeType         = byte(0x03) // NodeId -> byte
	prefixDep              = byte(0x04) // (dependent NodeId, dependency NodeId) -> empty
	prefixRevDep            = byte(0x05) // (dependency NodeId, dependent NodeId) -> empty
	prefixTouchedFiles      = byte(0x06) // (NodeId, InodeId) -> empty
	prefixRevTouchedFiles   = byte(0x07) // (InodeId, NodeId) -> empty
	prefixInodes            = byte(0x08) // InodeId -> Position
	prefixRevInodes         = byte(0x09) // Position -> InodeId
	prefixTree              = byte(0x0A) // PathId -> InodeId
	prefixRevTree           = byte(0x0B) // InodeId -> PathId
	prefixGraph             = byte(0x0C) // (channel, source Vertex, Flags, target Vertex, Introducer) -> empty
	prefixChanges           = byte(0x0D) // (channel, LogPos) -> (NodeId, Merkle)
	prefixRevChanges        = byte(0x0E) // (channel, NodeId) -> LogPos
	prefixStates            = byte(0x0F) // (channel, Merkle) -> LogPos
	prefixTags              = byte(0x10) // (channel, LogPos) -> Merkle
	prefixRemotes           = byte(0x11) // RemoteName -> opaque cursor bytes
	prefixChannelRegistry    = byte(0x12) // channel name -> empty (existence marker)
	prefixNodeIdCounter      = byte(0x13) // singleton key -> last-allocated NodeId
	prefixPathIds            = byte(0x14) // path string -> PathId (interning table; see DESIGN.md)
	prefixRevPathIds         = byte(0x15) // PathId -> path string
	prefixPathIdCounter      = byte(0x16) // singleton key -> last-allocated PathId
	prefixInodeIdCounter     = byte(0x17) // singleton key -> last-allocated InodeId
	prefixVertexSpan         = byte(0x18) // (channel, Node, Start) -> End: every vertex span currently registered; a split replaces a span's row with its two halves
)

var nodeIdCounterKey = []byte{prefixNodeIdCounter}
var pathIdCounterKey = []byte{prefixPathIdCounter}
var inodeIdCounterKey = []byte{prefixInodeIdCounter}

func pathIdKey(path string) []byte {
	return append([]byte{prefixPathIds}, path...)
}

func revPathIdKey(id PathId) []byte {
	return putUint64([]byte{prefixRevPathIds}, uint64(id))
}

func vertexSpanKey(channel string, node graph.NodeId, start uint64) []byte {
	b := channelPrefix(prefixVertexSpan, channel)
	b = putUint64(b, uint64(node))
	return putUint64(b, start)
}

func vertexSpanNodePrefix(channel string, node graph.NodeId) []byte {
	b := channelPrefix(prefixVertexSpan, channel)
	return putUint64(b, uint64(node))
}

func putUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func readUint64At(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// vertexKeyBytes encodes a Vertex as NodeId||Start||End, each an 8-byte
// big-endian integer, so that byte-lexicographic key order matches
// numeric (NodeId, Start, End) order — required by §4.3's determinism
// rule that iteration order is a function of stored bytes.
func vertexKeyBytes(v graph.Vertex) []byte {
	b := make([]byte, 0, 24)
	b = putUint64(b, uint64(v.Node))
	b = putUint64(b, v.Start)
	b = putUint64(b, v.End)
	return b
}

func decodeVertexKeyBytes(b []byte) graph.Vertex {
	return graph.Vertex{
		Node:  graph.NodeId(readUint64At(b[0:8])),
		Start: readUint64At(b[8:16]),
		End:   readUint64At(b[16:24]),
	}
}

func externalKey(id graph.NodeId) []byte {
	return putUint64([]byte{prefixExternal}, uint64(id))
}

func internalKey(h codec.Hash) []byte {
	return append([]byte{prefixInternal}, h[:]...)
}

func nodeTypeKey(id graph.NodeId) []byte {
	return putUint64([]byte{prefixNodeType}, uint64(id))
}

func depKey(dependent, dependency graph.NodeId) []byte {
	b := putUint64([]byte{prefixDep}, uint64(dependent))
	return putUint64(b, uint64(dependency))
}

func depPrefix(dependent graph.NodeId) []byte {
	return putUint64([]byte{prefixDep}, uint64(dependent))
}

func revDepKey(dependency, dependent graph.NodeId) []byte {
	b := putUint64([]byte{prefixRevDep}, uint64(dependency))
	return putUint64(b, uint64(dependent))
}

func revDepPrefix(dependency graph.NodeId) []byte {
	return putUint64([]byte{prefixRevDep}, uint64(dependency))
}

// InodeId identifies a tracked filesystem path's persistent file identity,
// stable across renames (spec.md §3's `inodes`/`tree` tables).
type InodeId uint64

// Position names a vertex's current location within the folder overlay —
// the value side of the `inodes` table, reversed by `revinodes`.
type Position struct {
	Node  graph.NodeId
	Start uint64
}

func positionBytes(p Position) []byte {
	b := putUint64([]byte{}, uint64(p.Node))
	return putUint64(b, p.Start)
}

func decodePosition(b []byte) Position {
	return Position{Node: graph.NodeId(readUint64At(b[0:8])), Start: readUint64At(b[8:16])}
}

// PathId identifies one interned path string in the `tree` overlay.
type PathId uint64

func touchedFilesKey(node graph.NodeId, inode InodeId) []byte {
	b := putUint64([]byte{prefixTouchedFiles}, uint64(node))
	return putUint64(b, uint64(inode))
}

func touchedFilesPrefix(node graph.NodeId) []byte {
	return putUint64([]byte{prefixTouchedFiles}, uint64(node))
}

func revTouchedFilesKey(inode InodeId, node graph.NodeId) []byte {
	b := putUint64([]byte{prefixRevTouchedFiles}, uint64(inode))
	return putUint64(b, uint64(node))
}

func revTouchedFilesPrefix(inode InodeId) []byte {
	return putUint64([]byte{prefixRevTouchedFiles}, uint64(inode))
}

func inodesKey(inode InodeId) []byte {
	return putUint64([]byte{prefixInodes}, uint64(inode))
}

func revInodesKey(pos Position) []byte {
	return append([]byte{prefixRevInodes}, positionBytes(pos)...)
}

func treeKey(path PathId) []byte {
	return putUint64([]byte{prefixTree}, uint64(path))
}

func revTreeKey(inode InodeId) []byte {
	return putUint64([]byte{prefixRevTree}, uint64(inode))
}

// LogPos is a position within a channel's append-only log.
type LogPos uint64

func channelPrefix(base byte, channel string) []byte {
	b := append([]byte{base}, byte(len(channel)))
	return append(b, channel...)
}

func graphKey(channel string, source graph.Vertex, e graph.Edge) []byte {
	b := channelPrefix(prefixGraph, channel)
	b = append(b, vertexKeyBytes(source)...)
	b = append(b, byte(e.Flags))
	b = append(b, vertexKeyBytes(e.Target)...)
	return putUint64(b, uint64(e.Introducer))
}

func graphAdjacentPrefix(channel string, source graph.Vertex) []byte {
	b := channelPrefix(prefixGraph, channel)
	return append(b, vertexKeyBytes(source)...)
}

func decodeGraphKey(channel string, key []byte) (source graph.Vertex, e graph.Edge) {
	off := 1 + 1 + len(channel)
	source = decodeVertexKeyBytes(key[off : off+24])
	off += 24
	e.Flags = graph.EdgeFlags(key[off])
	off++
	e.Target = decodeVertexKeyBytes(key[off : off+24])
	off += 24
	e.Introducer = graph.NodeId(readUint64At(key[off : off+8]))
	return source, e
}

func changesKey(channel string, pos LogPos) []byte {
	return putUint64(channelPrefix(prefixChanges, channel), uint64(pos))
}

func changesPrefix(channel string) []byte {
	return channelPrefix(prefixChanges, channel)
}

func revChangesKey(channel string, node graph.NodeId) []byte {
	return putUint64(channelPrefix(prefixRevChanges, channel), uint64(node))
}

func statesKey(channel string, m codec.Merkle) []byte {
	return append(channelPrefix(prefixStates, channel), m[:]...)
}

func tagsKey(channel string, pos LogPos) []byte {
	return putUint64(channelPrefix(prefixTags, channel), uint64(pos))
}

func tagsPrefix(channel string) []byte {
	return channelPrefix(prefixTags, channel)
}

func remoteKey(name string) []byte {
	return append([]byte{prefixRemotes}, name...)
}

func channelRegistryKey(channel string) []byte {
	return append([]byte{prefixChannelRegistry}, channel...)
}
