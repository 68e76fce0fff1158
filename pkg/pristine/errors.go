package pristine

import "errors"

// Storage-layer failures (spec.md §4.2, §7). Io wraps whatever the
// underlying engine returned from Open, including a corrupt or
// incompatible database. No function in this package returns
// ErrCorruptFile, ErrVersionMismatch or ErrTxnConflict: Open reports those
// conditions as ErrIo, and View/Update pass Badger's own errors (a
// transaction conflict included) through unchanged.
var (
	ErrCorruptFile     = errors.New("pristine: corrupt database file")
	ErrVersionMismatch = errors.New("pristine: incompatible database version")
	ErrTxnConflict     = errors.New("pristine: transaction conflict")
	ErrIo              = errors.New("pristine: storage i/o error")

	// ErrChannelNotFound is returned by load_channel-style lookups when no
	// channel is registered under the requested name.
	ErrChannelNotFound = errors.New("pristine: channel not found")
	// ErrChannelExists reports a channel name that is already registered.
	// No function in this package returns it: OpenOrCreateChannel opens the
	// existing channel instead, and there is no create-only variant.
	ErrChannelExists = errors.New("pristine: channel already exists")
)
