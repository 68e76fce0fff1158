package pristine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-vcs/arbor/pkg/codec"
	"github.com/arbor-vcs/arbor/pkg/graph"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenOrCreateChannelIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	err := s.Update(func(txn *WriteTxn) error {
		ch, err := txn.OpenOrCreateChannel("main")
		require.NoError(t, err)
		assert.Equal(t, "main", ch.Name)

		ch2, err := txn.OpenOrCreateChannel("main")
		require.NoError(t, err)
		assert.Equal(t, ch, ch2)
		return nil
	})
	require.NoError(t, err)

	err = s.View(func(txn *ReadTxn) error {
		_, err := txn.LoadChannel("main")
		return err
	})
	require.NoError(t, err)
}

func TestLoadChannelMissing(t *testing.T) {
	s := openTestStore(t)
	err := s.View(func(txn *ReadTxn) error {
		_, err := txn.LoadChannel("nope")
		return err
	})
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestRegistryBijection(t *testing.T) {
	s := openTestStore(t)
	h := codec.Hash{0x01, 0x02, 0x03}
	id := graph.NodeId(7)

	err := s.Update(func(txn *WriteTxn) error {
		require.NoError(t, txn.PutExternal(id, h))
		require.NoError(t, txn.PutInternal(h, id))
		return nil
	})
	require.NoError(t, err)

	err = s.View(func(txn *ReadTxn) error {
		gotHash, ok, err := txn.GetExternal(id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, h, gotHash)

		gotID, ok, err := txn.GetInternal(h)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, id, gotID)
		return nil
	})
	require.NoError(t, err)
}

func TestDepAndRevDepAreMirrored(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(func(txn *WriteTxn) error {
		return txn.PutDep(graph.NodeId(2), graph.NodeId(1))
	})
	require.NoError(t, err)

	err = s.View(func(txn *ReadTxn) error {
		deps, err := txn.IterDep(graph.NodeId(2))
		require.NoError(t, err)
		assert.Equal(t, []graph.NodeId{1}, deps)

		revdeps, err := txn.IterRevDep(graph.NodeId(1))
		require.NoError(t, err)
		assert.Equal(t, []graph.NodeId{2}, revdeps)
		return nil
	})
	require.NoError(t, err)
}

func TestAdjacentOrderingIsByTargetThenIntroducer(t *testing.T) {
	s := openTestStore(t)
	source := graph.Vertex{Node: 1, Start: 0, End: 1}

	err := s.Update(func(txn *WriteTxn) error {
		ch, err := txn.OpenOrCreateChannel("main")
		require.NoError(t, err)

		edges := []graph.Edge{
			{Target: graph.Vertex{Node: 3, Start: 0, End: 1}, Introducer: 5},
			{Target: graph.Vertex{Node: 2, Start: 0, End: 1}, Introducer: 9},
			{Target: graph.Vertex{Node: 2, Start: 0, End: 1}, Introducer: 1},
		}
		for _, e := range edges {
			require.NoError(t, txn.PutEdge(ch, source, e))
		}
		return nil
	})
	require.NoError(t, err)

	err = s.View(func(txn *ReadTxn) error {
		ch, err := txn.LoadChannel("main")
		require.NoError(t, err)
		edges, err := txn.Adjacent(ch, source)
		require.NoError(t, err)
		require.Len(t, edges, 3)
		assert.Equal(t, graph.NodeId(2), edges[0].Target.Node)
		assert.Equal(t, graph.NodeId(1), edges[0].Introducer)
		assert.Equal(t, graph.NodeId(2), edges[1].Target.Node)
		assert.Equal(t, graph.NodeId(9), edges[1].Introducer)
		assert.Equal(t, graph.NodeId(3), edges[2].Target.Node)
		return nil
	})
	require.NoError(t, err)
}

func TestPutEdgeWritesParentMirror(t *testing.T) {
	s := openTestStore(t)
	source := graph.Vertex{Node: 1, Start: 0, End: 1}
	target := graph.Vertex{Node: 2, Start: 0, End: 1}

	err := s.Update(func(txn *WriteTxn) error {
		ch, err := txn.OpenOrCreateChannel("main")
		require.NoError(t, err)
		return txn.PutEdge(ch, source, graph.Edge{Target: target, Introducer: 1})
	})
	require.NoError(t, err)

	err = s.View(func(txn *ReadTxn) error {
		ch, err := txn.LoadChannel("main")
		require.NoError(t, err)
		parentEdges, err := txn.Adjacent(ch, target)
		require.NoError(t, err)
		require.Len(t, parentEdges, 1)
		assert.True(t, parentEdges[0].Flags.Has(graph.FlagParent))
		assert.Equal(t, source, parentEdges[0].Target)
		return nil
	})
	require.NoError(t, err)
}

func TestLogAppendAndLength(t *testing.T) {
	s := openTestStore(t)
	aHash := codec.Hash{0x01}
	bHash := codec.Hash{0x02}
	mA := codec.Mix(codec.ZeroMerkle, aHash)
	mB := codec.Mix(mA, bHash)

	err := s.Update(func(txn *WriteTxn) error {
		ch, err := txn.OpenOrCreateChannel("main")
		require.NoError(t, err)
		require.NoError(t, txn.AppendLog(ch, 0, graph.NodeId(1), mA))
		require.NoError(t, txn.AppendLog(ch, 1, graph.NodeId(2), mB))
		return nil
	})
	require.NoError(t, err)

	err = s.View(func(txn *ReadTxn) error {
		ch, err := txn.LoadChannel("main")
		require.NoError(t, err)

		length, err := txn.LogLength(ch)
		require.NoError(t, err)
		assert.Equal(t, LogPos(2), length)

		entries, err := txn.IterLog(ch)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, graph.NodeId(1), entries[0].Node)
		assert.Equal(t, graph.NodeId(2), entries[1].Node)
		assert.Equal(t, mB, entries[1].Merkle)

		pos, ok, err := txn.LogPosOfMerkle(ch, mB)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, LogPos(1), pos)
		return nil
	})
	require.NoError(t, err)
}

func TestTagsAreUntouchedByUnrelatedWrites(t *testing.T) {
	s := openTestStore(t)
	m := codec.Merkle{0xaa}

	err := s.Update(func(txn *WriteTxn) error {
		ch, err := txn.OpenOrCreateChannel("main")
		require.NoError(t, err)
		require.NoError(t, txn.PutTag(ch, 2, m))
		// Simulate an unrelated subsequent change being appended: tags
		// must remain exactly as written (spec.md §4.4's critical rule;
		// apply_node itself never calls PutTag).
		require.NoError(t, txn.AppendLog(ch, 3, graph.NodeId(4), codec.Merkle{0xbb}))
		return nil
	})
	require.NoError(t, err)

	err = s.View(func(txn *ReadTxn) error {
		ch, err := txn.LoadChannel("main")
		require.NoError(t, err)
		tagged, err := txn.IsTagged(ch, 2)
		require.NoError(t, err)
		assert.True(t, tagged)

		tags, err := txn.IterTags(ch)
		require.NoError(t, err)
		require.Len(t, tags, 1)
		assert.Equal(t, m, tags[0].Merkle)
		return nil
	})
	require.NoError(t, err)
}

func TestChannelAdjacencyImplementsGraphAdjacencySource(t *testing.T) {
	s := openTestStore(t)
	root := graph.Vertex{Node: 1, Start: 0, End: 1}
	child := graph.Vertex{Node: 2, Start: 0, End: 1}

	err := s.Update(func(txn *WriteTxn) error {
		ch, err := txn.OpenOrCreateChannel("main")
		require.NoError(t, err)
		return txn.PutEdge(ch, root, graph.Edge{Target: child, Introducer: 1})
	})
	require.NoError(t, err)

	err = s.View(func(txn *ReadTxn) error {
		ch, err := txn.LoadChannel("main")
		require.NoError(t, err)
		adj := txn.Adjacency(ch)
		parentAdj := txn.ParentAdjacency(ch)
		alive := graph.FilterAlive(parentAdj, root, adj.Adjacent(root))
		require.Len(t, alive, 1)
		assert.Equal(t, child, alive[0].Target)
		return nil
	})
	require.NoError(t, err)
}
