package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-vcs/arbor/pkg/codec"
	"github.com/arbor-vcs/arbor/pkg/graph"
	"github.com/arbor-vcs/arbor/pkg/pristine"
)

func openTestStore(t *testing.T) *pristine.Store {
	t.Helper()
	s, err := pristine.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRegisterNodeIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	h := codec.Hash{0x01}

	err := s.Update(func(txn *pristine.WriteTxn) error {
		id, err := AllocateNodeId(txn)
		require.NoError(t, err)
		require.NoError(t, RegisterNode(txn, id, h, graph.NodeTypeChange, nil))
		require.NoError(t, RegisterNode(txn, id, h, graph.NodeTypeChange, nil))
		return nil
	})
	require.NoError(t, err)
}

func TestRegisterNodeRejectsHashCollision(t *testing.T) {
	s := openTestStore(t)
	h1 := codec.Hash{0x01}
	h2 := codec.Hash{0x02}

	err := s.Update(func(txn *pristine.WriteTxn) error {
		id, err := AllocateNodeId(txn)
		require.NoError(t, err)
		require.NoError(t, RegisterNode(txn, id, h1, graph.NodeTypeChange, nil))
		err = RegisterNode(txn, id, h2, graph.NodeTypeChange, nil)
		assert.ErrorIs(t, err, ErrNodeTypeMismatch)
		return nil
	})
	require.NoError(t, err)
}

func TestRegisterNodeWritesKnownDependenciesOnly(t *testing.T) {
	s := openTestStore(t)
	knownHash := codec.Hash{0x01}
	unknownHash := codec.Hash{0x02}

	err := s.Update(func(txn *pristine.WriteTxn) error {
		knownID, err := AllocateNodeId(txn)
		require.NoError(t, err)
		require.NoError(t, RegisterNode(txn, knownID, knownHash, graph.NodeTypeChange, nil))

		dependentID, err := AllocateNodeId(txn)
		require.NoError(t, err)
		require.NoError(t, RegisterNode(txn, dependentID, codec.Hash{0x03}, graph.NodeTypeChange, []codec.Hash{knownHash, unknownHash}))

		deps, err := IterDep(&txn.ReadTxn, dependentID)
		require.NoError(t, err)
		assert.Equal(t, []graph.NodeId{knownID}, deps)

		revdeps, err := IterRevDep(&txn.ReadTxn, knownID)
		require.NoError(t, err)
		assert.Equal(t, []graph.NodeId{dependentID}, revdeps)
		return nil
	})
	require.NoError(t, err)
}

func TestRegisterNodeNeverTouchesChannels(t *testing.T) {
	s := openTestStore(t)
	h := codec.Hash{0x09}

	err := s.Update(func(txn *pristine.WriteTxn) error {
		_, err := txn.OpenOrCreateChannel("main")
		require.NoError(t, err)

		id, err := AllocateNodeId(txn)
		require.NoError(t, err)
		return RegisterNode(txn, id, h, graph.NodeTypeTag, nil)
	})
	require.NoError(t, err)

	err = s.View(func(txn *pristine.ReadTxn) error {
		ch, err := txn.LoadChannel("main")
		require.NoError(t, err)
		length, err := txn.LogLength(ch)
		require.NoError(t, err)
		assert.Equal(t, pristine.LogPos(0), length)
		tags, err := txn.IterTags(ch)
		require.NoError(t, err)
		assert.Empty(t, tags)
		return nil
	})
	require.NoError(t, err)
}

func TestAllocateNodeIdIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	var first, second graph.NodeId
	err := s.Update(func(txn *pristine.WriteTxn) error {
		var err error
		first, err = AllocateNodeId(txn)
		require.NoError(t, err)
		second, err = AllocateNodeId(txn)
		require.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
	assert.NotEqual(t, graph.Invalid, first)
}
