// Package tagengine implements the tag engine of spec.md §4.7: creating a
// consolidating or lightweight tag over a channel's current state, and
// regenerating a tag artifact byte-for-byte from a channel's own authoritative
// history when a sync peer offers only a short header. Tag artifacts are
// never trusted across a repository boundary (§6.3); everything here
// rebuilds from locally-held state.
package tagengine

import (
	"github.com/arbor-vcs/arbor/pkg/apply"
	"github.com/arbor-vcs/arbor/pkg/changestore"
	"github.com/arbor-vcs/arbor/pkg/codec"
	"github.com/arbor-vcs/arbor/pkg/graph"
	"github.com/arbor-vcs/arbor/pkg/pristine"
	"github.com/arbor-vcs/arbor/pkg/registry"
)

// Kind distinguishes a consolidating tag (pins the whole log, letting a
// dependent collapse its entire ancestry to this one reference) from a
// lightweight tag (a bare position marker, carrying no consolidated
// dependency set at all).
type Kind int

const (
	Consolidating Kind = iota
	Lightweight
)

// CreateTag implements §4.7's create-tag over ch's current tip. It rejects
// if the channel is empty or its tip is already a tag (steps 1-2), builds
// the consolidated-changes set according to kind (step 3), writes the
// artifact to store under its merkle (step 6), then applies the resulting
// tag node to ch the same way any other node is applied — which is what
// performs registration, the tags-table write, and the log append (steps
// 4-5 and the remainder of step 7; the caller's transaction commit finishes
// it).
func CreateTag(store *changestore.Store, txn *pristine.WriteTxn, ch pristine.Channel, header codec.Header, kind Kind) (pristine.LogPos, codec.Hash, error) {
	length, err := txn.LogLength(ch)
	if err != nil {
		return 0, codec.Hash{}, err
	}
	if length == 0 {
		return 0, codec.Hash{}, ErrEmptyChannel
	}
	tipPos := length - 1

	tipEntry, ok, err := txn.GetLogEntry(ch, tipPos)
	if err != nil {
		return 0, codec.Hash{}, err
	}
	if !ok {
		return 0, codec.Hash{}, ErrEmptyChannel
	}

	tipType, ok, err := registry.GetNodeType(&txn.ReadTxn, tipEntry.Node)
	if err != nil {
		return 0, codec.Hash{}, err
	}
	if ok && tipType == graph.NodeTypeTag {
		return 0, codec.Hash{}, ErrAlreadyTagged
	}

	deps, err := consolidatedDependencies(&txn.ReadTxn, ch, tipPos, kind)
	if err != nil {
		return 0, codec.Hash{}, err
	}

	prev, err := previousConsolidatingTagHash(store, &txn.ReadTxn, ch, tipPos, kind)
	if err != nil {
		return 0, codec.Hash{}, err
	}

	tag := &codec.Tag{
		Header:                header,
		Merkle:                tipEntry.Merkle,
		Dependencies:          deps,
		ConsolidatedCount:     len(deps),
		PreviousConsolidation: prev,
	}
	if _, err := store.SaveTag(tag); err != nil {
		return 0, codec.Hash{}, err
	}

	hash := codec.HashOfMerkle(tipEntry.Merkle)
	pos, _, err := apply.ApplyNode(store, txn, ch, hash, graph.NodeTypeTag)
	if err != nil {
		return 0, codec.Hash{}, err
	}
	return pos, hash, nil
}

// RegenerateTagFromChannel implements §4.7's regenerate-tag-from-channel:
// given a merkle received over sync (with its header) and a channel that
// passed through that cumulative state, rebuild and store the tag artifact
// locally rather than trusting any bytes the sender may have sent. The
// caller is responsible for applying the resulting hash with
// apply.ApplyNode once it holds a write transaction — regeneration itself
// only needs read access to ch's history.
func RegenerateTagFromChannel(store *changestore.Store, txn *pristine.ReadTxn, ch pristine.Channel, m codec.Merkle, header codec.Header, kind Kind) (codec.Hash, error) {
	pos, ok, err := txn.LogPosOfMerkle(ch, m)
	if err != nil {
		return codec.Hash{}, err
	}
	if !ok {
		return codec.Hash{}, ErrMerkleNotInChannel
	}

	deps, err := consolidatedDependencies(txn, ch, pos, kind)
	if err != nil {
		return codec.Hash{}, err
	}

	prev, err := previousConsolidatingTagHash(store, txn, ch, pos, kind)
	if err != nil {
		return codec.Hash{}, err
	}

	tag := &codec.Tag{
		Header:                header,
		Merkle:                m,
		Dependencies:          deps,
		ConsolidatedCount:     len(deps),
		PreviousConsolidation: prev,
	}
	if _, err := store.SaveTag(tag); err != nil {
		return codec.Hash{}, err
	}
	return codec.HashOfMerkle(m), nil
}

// previousConsolidatingTagHash finds the most recent consolidating tag at a
// position strictly before atPos, for the Tag.PreviousConsolidation pointer
// (§3's "optional previous-consolidation pointer"). A Lightweight tag never
// carries one: it has no consolidated-changes set of its own to chain from.
// Lightweight tags already recorded in the channel's tags table are skipped
// over when walking backward, since they don't extend the consolidation
// chain either.
func previousConsolidatingTagHash(store *changestore.Store, txn *pristine.ReadTxn, ch pristine.Channel, atPos pristine.LogPos, kind Kind) (*codec.Hash, error) {
	if kind != Consolidating {
		return nil, nil
	}
	tags, err := txn.IterTags(ch)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if t.Pos >= atPos {
			continue
		}
		raw, err := store.GetTag(t.Merkle)
		if err != nil {
			return nil, err
		}
		prevTag, err := codec.DecodeTag(raw)
		if err != nil {
			return nil, err
		}
		if prevTag.ConsolidatedCount == 0 {
			continue
		}
		hash := codec.HashOfMerkle(prevTag.Merkle)
		return &hash, nil
	}
	return nil, nil
}

// consolidatedDependencies implements §4.7 step 3: for a Consolidating tag,
// every NodeId applied to ch at or before pos, translated to Hashes; for a
// Lightweight tag, nothing — it is a marker only.
func consolidatedDependencies(txn *pristine.ReadTxn, ch pristine.Channel, pos pristine.LogPos, kind Kind) ([]codec.Hash, error) {
	if kind != Consolidating {
		return nil, nil
	}
	entries, err := txn.IterLog(ch)
	if err != nil {
		return nil, err
	}
	var hashes []codec.Hash
	for _, e := range entries {
		if e.Pos > pos {
			continue
		}
		h, ok, err := registry.GetExternal(txn, e.Node)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}
