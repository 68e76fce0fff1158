package apply

import (
	"fmt"

	"github.com/arbor-vcs/arbor/pkg/changestore"
	"github.com/arbor-vcs/arbor/pkg/codec"
	"github.com/arbor-vcs/arbor/pkg/graph"
	"github.com/arbor-vcs/arbor/pkg/pristine"
	"github.com/arbor-vcs/arbor/pkg/registry"
)

// GetHeaderByHash implements §6.1's get_header/get_tag_header dispatch: look
// up hash's registered NodeType and fetch its header from the matching
// changestore namespace, without decoding hunks or content. If hash is
// registered but carries no recorded NodeType, it falls back to get_header
// (Change) per §6.1's "falling back to get_header when the type is unknown
// (legacy)" rule — data written before node-type tracking existed.
func GetHeaderByHash(txn *pristine.ReadTxn, store *changestore.Store, hash codec.Hash) (codec.Header, error) {
	internal, known, err := registry.GetInternal(txn, hash)
	if err != nil {
		return codec.Header{}, err
	}
	if !known {
		return codec.Header{}, fmt.Errorf("apply: %s is not a registered node", hash)
	}
	nodeType, ok, err := registry.GetNodeType(txn, internal)
	if err != nil {
		return codec.Header{}, err
	}
	if !ok {
		return store.GetChangeHeader(hash)
	}

	switch nodeType {
	case graph.NodeTypeChange:
		return store.GetChangeHeader(hash)
	case graph.NodeTypeTag:
		return store.GetTagHeader(codec.MerkleOfHash(hash))
	default:
		return codec.Header{}, fmt.Errorf("apply: unknown node type %d", nodeType)
	}
}
