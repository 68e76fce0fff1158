package apply

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-vcs/arbor/pkg/codec"
	"github.com/arbor-vcs/arbor/pkg/graph"
	"github.com/arbor-vcs/arbor/pkg/pristine"
)

func TestGetHeaderByHashDispatchesChangeAndTag(t *testing.T) {
	store := openTestStore(t)
	cs := openChangestore(t)

	c1 := rootAddFile("a.txt", "hello")
	c1.Header.Message = "add a.txt"
	h1 := saveChange(t, cs, c1)

	var merkle1 codec.Merkle
	err := store.Update(func(txn *pristine.WriteTxn) error {
		ch, err := txn.OpenOrCreateChannel("main")
		require.NoError(t, err)
		_, merkle1, err = ApplyNode(cs, txn, ch, h1, graph.NodeTypeChange)
		return err
	})
	require.NoError(t, err)

	tag := &codec.Tag{Header: codec.Header{Message: "checkpoint"}, Merkle: merkle1}
	_, err = cs.SaveTag(tag)
	require.NoError(t, err)
	tagHash := codec.HashOfMerkle(tag.Merkle)

	err = store.Update(func(txn *pristine.WriteTxn) error {
		ch, err := txn.LoadChannel("main")
		require.NoError(t, err)
		_, _, err = ApplyNode(cs, txn, ch, tagHash, graph.NodeTypeTag)
		return err
	})
	require.NoError(t, err)

	err = store.View(func(txn *pristine.ReadTxn) error {
		h, err := GetHeaderByHash(txn, cs, h1)
		require.NoError(t, err)
		assert.Equal(t, "add a.txt", h.Message)

		h, err = GetHeaderByHash(txn, cs, tagHash)
		require.NoError(t, err)
		assert.Equal(t, "checkpoint", h.Message)
		return nil
	})
	require.NoError(t, err)
}

func TestGetHeaderByHashFallsBackToChangeHeaderWhenNodeTypeUnknown(t *testing.T) {
	store := openTestStore(t)
	cs := openChangestore(t)

	c1 := rootAddFile("a.txt", "hello")
	c1.Header.Message = "legacy change"
	h1 := saveChange(t, cs, c1)

	// Simulate a repository written before node-type tracking existed:
	// register the external/internal hash mapping directly, bypassing
	// registry.RegisterNode so no NodeType row is ever written.
	err := store.Update(func(txn *pristine.WriteTxn) error {
		id, err := txn.AllocateNodeId()
		require.NoError(t, err)
		require.NoError(t, txn.PutExternal(id, h1))
		require.NoError(t, txn.PutInternal(h1, id))
		return nil
	})
	require.NoError(t, err)

	err = store.View(func(txn *pristine.ReadTxn) error {
		h, err := GetHeaderByHash(txn, cs, h1)
		require.NoError(t, err)
		assert.Equal(t, "legacy change", h.Message)
		return nil
	})
	require.NoError(t, err)
}

func TestGetHeaderByHashRejectsUnregisteredHash(t *testing.T) {
	store := openTestStore(t)
	cs := openChangestore(t)

	err := store.View(func(txn *pristine.ReadTxn) error {
		_, err := GetHeaderByHash(txn, cs, codec.Hash{0xff})
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}
