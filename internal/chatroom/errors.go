package chatroom

import "errors"

// Sentinel errors returned by Room operations, checked with errors.Is.
var (
	// ErrAlreadyOnline is returned by Login when the requested username is
	// already present in the roster. spec.md §9 Open Question #4: a
	// second login for an online nickname is rejected outright rather
	// than taking over the existing session — see DESIGN.md.
	ErrAlreadyOnline = errors.New("user already logged in from another session")

	// ErrMessageNotFound is returned by Comment when original_index does
	// not name a message currently in history (never assigned, or
	// removed by the TTL sweep).
	ErrMessageNotFound = errors.New("message not found or deleted")

	// ErrClosed is returned by any Room operation issued after Close.
	ErrClosed = errors.New("chatroom: room is closed")

	// errBanned is Broadcast's internal signal that the author is
	// currently banned; callers use the bannedMinutes return value, not
	// this error, so it stays unexported.
	errBanned = errors.New("chatroom: author is banned")
)
