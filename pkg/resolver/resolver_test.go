package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-vcs/arbor/pkg/changestore"
	"github.com/arbor-vcs/arbor/pkg/codec"
	"github.com/arbor-vcs/arbor/pkg/graph"
	"github.com/arbor-vcs/arbor/pkg/pristine"
	"github.com/arbor-vcs/arbor/pkg/registry"
)

func openTestStore(t *testing.T) *pristine.Store {
	t.Helper()
	s, err := pristine.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// registerChain registers three changes h1 <- h2 <- h3 (h2 depends on h1,
// h3 depends on h2), returning their assigned NodeIds and Hashes in order.
func registerChain(t *testing.T, txn *pristine.WriteTxn) (ids [3]graph.NodeId, hashes [3]codec.Hash) {
	t.Helper()
	hashes = [3]codec.Hash{{0x01}, {0x02}, {0x03}}
	deps := [3][]codec.Hash{nil, {hashes[0]}, {hashes[1]}}
	for i := range hashes {
		id, err := registry.AllocateNodeId(txn)
		require.NoError(t, err)
		require.NoError(t, registry.RegisterNode(txn, id, hashes[i], graph.NodeTypeChange, deps[i]))
		ids[i] = id
	}
	return ids, hashes
}

func TestResolveReturnsNilForHunksWithNoVertexReferences(t *testing.T) {
	store := openTestStore(t)
	cs := changestore.New(t.TempDir())

	err := store.View(func(txn *pristine.ReadTxn) error {
		ch := pristine.Channel{Name: "main"}
		hunks := []codec.Hunk{
			{Kind: codec.HunkFSOp, FSOp: &codec.FSOpPayload{Kind: codec.FSOpAddFile, Path: "a.txt"}},
		}
		hashes, err := Resolve(cs, txn, ch, hunks)
		require.NoError(t, err)
		assert.Nil(t, hashes)
		return nil
	})
	require.NoError(t, err)
}

func TestResolveReducesToAntichainTip(t *testing.T) {
	store := openTestStore(t)
	cs := changestore.New(t.TempDir())

	var ids [3]graph.NodeId
	var hashes [3]codec.Hash
	err := store.Update(func(txn *pristine.WriteTxn) error {
		ids, hashes = registerChain(t, txn)
		return nil
	})
	require.NoError(t, err)

	err = store.View(func(txn *pristine.ReadTxn) error {
		ch := pristine.Channel{Name: "main"}
		// A candidate change whose hunks reference a vertex owned by h3
		// (the tip) and one owned by h1 (already implied by depending on
		// h3): only h3's hash should survive.
		candidate := []codec.Hunk{
			{
				Kind: codec.HunkEdgeMap,
				EdgeMap: &codec.EdgeMapPayload{
					Ops: []codec.EdgeOp{
						{Add: true, Source: graph.Vertex{Node: ids[2], Start: 0, End: 1}, Target: graph.Vertex{Node: ids[0], Start: 0, End: 1}},
					},
				},
			},
		}
		resolved, err := Resolve(cs, txn, ch, candidate)
		require.NoError(t, err)
		require.Len(t, resolved, 1)
		assert.Equal(t, hashes[2], resolved[0])
		return nil
	})
	require.NoError(t, err)
}

func TestResolveKeepsIndependentBranchesSeparate(t *testing.T) {
	store := openTestStore(t)
	cs := changestore.New(t.TempDir())

	hA := codec.Hash{0xAA}
	hB := codec.Hash{0xBB}
	var idA, idB graph.NodeId
	err := store.Update(func(txn *pristine.WriteTxn) error {
		var err error
		idA, err = registry.AllocateNodeId(txn)
		require.NoError(t, err)
		require.NoError(t, registry.RegisterNode(txn, idA, hA, graph.NodeTypeChange, nil))
		idB, err = registry.AllocateNodeId(txn)
		require.NoError(t, err)
		require.NoError(t, registry.RegisterNode(txn, idB, hB, graph.NodeTypeChange, nil))
		return nil
	})
	require.NoError(t, err)

	err = store.View(func(txn *pristine.ReadTxn) error {
		ch := pristine.Channel{Name: "main"}
		candidate := []codec.Hunk{
			{
				Kind: codec.HunkSolveOrderConflict,
				OrderConflict: &codec.ConflictPayload{
					Order: []graph.Vertex{
						{Node: idA, Start: 0, End: 1},
						{Node: idB, Start: 0, End: 1},
					},
				},
			},
		}
		resolved, err := Resolve(cs, txn, ch, candidate)
		require.NoError(t, err)
		assert.ElementsMatch(t, []codec.Hash{hA, hB}, resolved)
		return nil
	})
	require.NoError(t, err)
}

func TestResolveConsolidatesUnderCoveringTag(t *testing.T) {
	store := openTestStore(t)
	cs := changestore.New(t.TempDir())

	var ids [3]graph.NodeId
	var hashes [3]codec.Hash
	var tagMerkle codec.Merkle
	var tagInternal graph.NodeId

	err := store.Update(func(txn *pristine.WriteTxn) error {
		ids, hashes = registerChain(t, txn)

		ch, err := txn.OpenOrCreateChannel("main")
		require.NoError(t, err)
		require.NoError(t, txn.AppendLog(ch, 0, ids[0], codec.Mix(codec.Merkle{}, hashes[0])))
		m1 := codec.Mix(codec.Merkle{}, hashes[0])
		m2 := codec.Mix(m1, hashes[1])
		require.NoError(t, txn.AppendLog(ch, 1, ids[1], m2))

		tag := &codec.Tag{
			Header:       codec.Header{Message: "checkpoint", Timestamp: time.Unix(0, 0).UTC()},
			Merkle:       m2,
			Dependencies: []codec.Hash{hashes[0], hashes[1]},
		}
		_, err = cs.SaveTag(tag)
		require.NoError(t, err)

		tagInternal, err = registry.AllocateNodeId(txn)
		require.NoError(t, err)
		require.NoError(t, registry.RegisterNode(txn, tagInternal, codec.HashOfMerkle(m2), graph.NodeTypeTag, tag.Dependencies))
		require.NoError(t, txn.PutTag(ch, 1, m2))
		tagMerkle = m2
		return nil
	})
	require.NoError(t, err)

	err = store.View(func(txn *pristine.ReadTxn) error {
		ch, err := txn.LoadChannel("main")
		require.NoError(t, err)

		// Candidate references only h2's vertex — fully covered by the tag
		// just written, so resolution should collapse to the tag alone.
		candidate := []codec.Hunk{
			{
				Kind: codec.HunkEdgeMap,
				EdgeMap: &codec.EdgeMapPayload{
					Ops: []codec.EdgeOp{
						{Add: true, Source: graph.Vertex{Node: ids[1], Start: 0, End: 1}, Target: graph.Vertex{Node: ids[1], Start: 1, End: 2}},
					},
				},
			},
		}
		resolved, err := Resolve(cs, txn, ch, candidate)
		require.NoError(t, err)
		require.Len(t, resolved, 1)
		assert.Equal(t, codec.HashOfMerkle(tagMerkle), resolved[0])
		return nil
	})
	require.NoError(t, err)
}
