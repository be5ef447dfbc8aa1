package chatroom

import (
	"sync"
	"sync/atomic"

	"github.com/spitfire4040/tcpchat/internal/wire"
)

// Peer is the roster's write handle onto one connected session: a
// clonable, reference-counted-by-nobody handle in the sense of spec.md
// §9's design note — frames reach Out from the room actor and, for purely
// local feedback, from the owning session (EnqueueNotice, EnqueueHelp); the
// session that created the Peer owns the goroutine that ranges over Out and
// performs the actual socket write.
// This keeps two goroutines from ever writing to the same socket
// concurrently.
//
// Dropping a peer (buffer-full during fan-out) and closing Out are kept
// separate on purpose: a dropped peer's owning session is still running its
// read loop and may still call enqueue on it (e.g. the Server! ack in
// handlePrivate), so only dropped is set there. Out is closed once: by the
// session's own logout, or, for a peer whose Login was rejected and that
// never joined the roster, directly by that session.
type Peer struct {
	ID       string
	Username string
	Out      chan string // buffered, pre-rendered tagged frames (no trailing '\n')

	dropped   atomic.Bool
	closeOnce sync.Once
}

// NewPeer allocates a Peer with a send buffer of the given size. A full
// buffer means a slow or stuck reader; the room drops such a peer from the
// roster rather than block the rest of the room (spec.md §5 back-pressure).
func NewPeer(id, username string, bufSize int) *Peer {
	return &Peer{
		ID:       id,
		Username: username,
		Out:      make(chan string, bufSize),
	}
}

// enqueue attempts a non-blocking send of frame to p.Out. It reports
// whether the frame was accepted; a false return means the peer's buffer is
// full (or the peer has already been dropped) and should be treated as
// undeliverable. Checking dropped first keeps this safe to call after
// drop() — without it, a peer already removed from the roster but still
// live on its session's read loop could race a send against closeOut().
func (p *Peer) enqueue(frame string) bool {
	if p.dropped.Load() {
		return false
	}
	select {
	case p.Out <- frame:
		return true
	default:
		return false
	}
}

// drop marks p as no longer deliverable without closing Out: the room has
// evicted it from the roster (slow-peer fan-out drop), but its session may
// still be alive and calling enqueue, so Out stays open until that session
// eventually logs out and closeOut runs.
func (p *Peer) drop() {
	p.dropped.Store(true)
}

// closeOut closes Out exactly once. Logout calls it for every peer that
// joined the roster, since by then the session's writePump is guaranteed to
// be the last reader; the only other close of Out is the session's own, for
// a peer whose Login was rejected and so was never shared.
func (p *Peer) closeOut() {
	p.closeOnce.Do(func() {
		p.dropped.Store(true)
		close(p.Out)
	})
}

// EnqueueNotice sends body as a Server! frame directly to p, bypassing the
// room actor. Sessions use this for purely local feedback (a malformed
// command, a ban notice) that never needs to reach anyone else, so it does
// not warrant a round trip through Room.call.
func (p *Peer) EnqueueNotice(body string) {
	p.enqueue(string(wire.TagServer) + body)
}

// EnqueueHelp sends one line of help text as a help! frame.
func (p *Peer) EnqueueHelp(line string) {
	p.enqueue(string(wire.TagHelp) + line)
}
