package tagengine

import "errors"

// ErrEmptyChannel is returned by CreateTag when the channel has no applied
// nodes yet — there is no cumulative state to pin.
var ErrEmptyChannel = errors.New("tagengine: channel has no applied nodes to tag")

// ErrAlreadyTagged is returned by CreateTag when the channel's current tip
// is itself already a tag — creating another would pin the same state a
// second time (§4.7 step 2).
var ErrAlreadyTagged = errors.New("tagengine: channel's current state is already tagged")

// ErrMerkleNotInChannel is returned by RegenerateTagFromChannel when m does
// not appear in the channel's states index — the channel never passed
// through that cumulative state, so there is nothing authoritative to
// regenerate from.
var ErrMerkleNotInChannel = errors.New("tagengine: merkle not found in this channel's state history")
