// Package chatroom implements the shared, concurrently-accessed chat
// state of spec.md §4.E/F/G: the history ring, roster, pending-private
// queue, claims counter, and ban table, plus the broadcast/unicast
// delivery paths and the two maintenance sweeps.
//
// All mutations are serialised through a single actor goroutine
// (Room.run), generalizing the teacher's internal/server/hub.go Hub —
// which already serialises clients-map mutations in one goroutine driven
// by channels — into the full command/reply protocol spec.md §9
// recommends. A caller sends a request and blocks on its own reply
// channel; the actor never blocks on socket I/O because all delivery is a
// non-blocking enqueue onto a Peer's buffered Out channel — the actual
// socket write happens later, in that peer's own writer goroutine.
package chatroom

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/spitfire4040/tcpchat/internal/wire"
)

// Room is the actor owning all shared chat state for the (single, global)
// room spec.md describes.
type Room struct {
	reqs chan request
	done chan struct{}
	once sync.Once

	log zerolog.Logger

	// isRegistered reports whether username has an account at all,
	// independent of whether it is currently online. Injected so
	// chatroom never imports internal/userstore directly.
	isRegistered func(username string) bool

	// --- actor-owned state; touched only inside run() ---
	nextIndex uint64
	history   []ChatMessage
	roster    map[string]*Peer
	pending   map[string][]string
	claims    map[string]int
	bans      map[string]time.Time
}

// New creates a Room. isRegistered is consulted to distinguish an unknown
// recipient from an offline-but-registered one (spec.md §4.F).
func New(log zerolog.Logger, isRegistered func(username string) bool) *Room {
	r := &Room{
		reqs:         make(chan request),
		done:         make(chan struct{}),
		log:          log.With().Str("component", "chatroom").Logger(),
		isRegistered: isRegistered,
		roster:       make(map[string]*Peer),
		pending:      make(map[string][]string),
		claims:       make(map[string]int),
		bans:         make(map[string]time.Time),
	}
	go r.run()
	return r
}

// Close stops the actor goroutine. Pending requests already in flight
// still receive a reply; requests issued afterward get ErrClosed.
func (r *Room) Close() {
	r.once.Do(func() { close(r.done) })
}

func (r *Room) run() {
	for {
		select {
		case req := <-r.reqs:
			req.reply <- r.handle(req)
		case <-r.done:
			return
		}
	}
}

func (r *Room) handle(req request) response {
	switch req.kind {
	case opLogin:
		return r.handleLogin(req)
	case opLogout:
		r.handleLogout(req)
		return response{}
	case opBroadcast:
		return r.handleBroadcast(req)
	case opComment:
		return r.handleComment(req)
	case opClaim:
		r.handleClaim(req)
		return response{}
	case opPrivate:
		return r.handlePrivate(req)
	case opIsBanned:
		minutes, banned := r.isBannedLocked(req.username, req.now)
		return response{bannedMinutes: minutes, banned: banned}
	case opSweepHistory:
		r.sweepHistoryLocked(req.ttl, req.now)
		return response{}
	case opSweepBans:
		r.sweepBansLocked(req.now)
		return response{}
	default:
		return response{}
	}
}

// --- Login / Logout -------------------------------------------------------

// Login adds peer to the roster under username, replays up to maxHistory
// history entries as History! frames, then drains and deletes any
// pending-private queue for username, delivering each as a Private!
// frame — all in one atomic actor turn, so a concurrent enqueue can never
// land between the drain and the delete (spec.md §9 design note on
// pending-private storage). It returns ErrAlreadyOnline if username is
// already in the roster (Open Question #4).
func (r *Room) Login(username string, peer *Peer, maxHistory int) error {
	resp := r.call(request{kind: opLogin, username: username, peer: peer, maxHistory: maxHistory})
	return resp.err
}

func (r *Room) handleLogin(req request) response {
	if _, online := r.roster[req.username]; online {
		return response{err: ErrAlreadyOnline}
	}
	r.roster[req.username] = req.peer

	start := 0
	if n := len(r.history); req.maxHistory > 0 && n > req.maxHistory {
		start = n - req.maxHistory
	}
	for _, msg := range r.history[start:] {
		req.peer.enqueue(string(wire.TagHistory) + msg.Rendered)
	}

	for _, frame := range r.pending[req.username] {
		req.peer.enqueue(frame)
	}
	delete(r.pending, req.username)

	return response{}
}

// Logout removes username from the roster if it is still mapped to peer (a
// stale logout from a superseded session must not evict the current one)
// and closes peer.Out so its writer goroutine exits. For a peer that joined
// the roster, Logout is the sole owner of the decision to close Out: a peer
// already dropped from the
// roster by fanOut (slow-peer back-pressure) is only marked dropped, never
// closed, until its own session reaches here.
func (r *Room) Logout(username string, peer *Peer) {
	r.call(request{kind: opLogout, username: username, peer: peer})
}

func (r *Room) handleLogout(req request) {
	if cur, ok := r.roster[req.username]; ok && cur == req.peer {
		delete(r.roster, req.username)
	}
	req.peer.closeOut()
}

// --- Broadcast -------------------------------------------------------------

// Broadcast appends a new message authored by username and fans it out to
// every roster peer, including the author's own peer (Open Question #5).
// If username is currently banned, no message is created; ok is false and
// bannedMinutes holds the ceil'd minutes remaining.
func (r *Room) Broadcast(username string, peer *Peer, body string, now time.Time) (ok bool, bannedMinutes int) {
	resp := r.call(request{kind: opBroadcast, author: username, peer: peer, body: body, now: now})
	return resp.err == nil, resp.bannedMinutes
}

func (r *Room) handleBroadcast(req request) response {
	if minutes, banned := r.isBannedLocked(req.author, req.now); banned {
		return response{err: errBanned, bannedMinutes: minutes}
	}
	msg := ChatMessage{Index: r.nextIndex, Timestamp: req.now, Author: req.author, Body: req.body}
	msg.Rendered = RenderMessage(msg)
	r.nextIndex++
	r.history = append(r.history, msg)
	r.fanOut(string(wire.TagChat) + msg.Rendered)
	return response{}
}

// --- Comment -----------------------------------------------------------

// Comment appends a comment on the message at index (per spec.md §3's
// composite rendering) and broadcasts it exactly like Broadcast — bans
// never gate comments (invariant 3). It returns ErrMessageNotFound if
// index no longer names a history entry.
func (r *Room) Comment(username string, peer *Peer, index uint64, body string, now time.Time) error {
	resp := r.call(request{kind: opComment, author: username, peer: peer, index: index, body: body, now: now})
	return resp.err
}

func (r *Room) handleComment(req request) response {
	original, found := r.findByIndex(req.index)
	if !found {
		return response{err: ErrMessageNotFound}
	}
	msg := ChatMessage{Index: r.nextIndex, Timestamp: req.now, Author: req.author, Body: req.body}
	msg.Rendered = renderComment(original, req.author, msg.Index, req.now, req.body)
	r.nextIndex++
	r.history = append(r.history, msg)
	r.fanOut(string(wire.TagChat) + msg.Rendered)
	return response{}
}

func (r *Room) findByIndex(index uint64) (ChatMessage, bool) {
	for _, msg := range r.history {
		if msg.Index == index {
			return msg, true
		}
	}
	return ChatMessage{}, false
}

// --- Claim / ban -----------------------------------------------------------

// Claim files a complaint against target. Per Open Question #1, a claim
// against a nickname that is not currently online is a no-op — it neither
// increments the counter nor errors. The third claim against an online
// target within the (unbounded, in-memory) observation window resets the
// counter to zero and bans the target for banFor.
func (r *Room) Claim(target string, banFor time.Duration, now time.Time) {
	r.call(request{kind: opClaim, target: target, banFor: banFor, now: now})
}

func (r *Room) handleClaim(req request) {
	if _, online := r.roster[req.target]; !online {
		return
	}
	r.claims[req.target]++
	if r.claims[req.target] >= 3 {
		r.claims[req.target] = 0
		r.bans[req.target] = req.now.Add(req.banFor)
	}
}

// IsBanned reports whether username is currently banned and, if so, how
// many whole minutes remain (rounded up).
func (r *Room) IsBanned(username string, now time.Time) (minutes int, banned bool) {
	resp := r.call(request{kind: opIsBanned, username: username, now: now})
	return resp.bannedMinutes, resp.banned
}

func (r *Room) isBannedLocked(username string, now time.Time) (minutes int, banned bool) {
	expiry, ok := r.bans[username]
	if !ok || !now.Before(expiry) {
		return 0, false
	}
	remaining := expiry.Sub(now)
	minutes = int(remaining / time.Minute)
	if remaining%time.Minute != 0 {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}
	return minutes, true
}

// --- Private messages --------------------------------------------------

// Private delivers or queues a private message from username (via peer)
// to to. See PrivateOutcome for the three possible results.
func (r *Room) Private(username string, peer *Peer, to, body string, now time.Time) PrivateOutcome {
	resp := r.call(request{kind: opPrivate, author: username, peer: peer, to: to, body: body, now: now})
	return resp.delivered
}

func (r *Room) handlePrivate(req request) response {
	rendered := string(wire.TagPrivate) + renderPrivateBody(req.now, req.author, req.body)

	if target, online := r.roster[req.to]; online {
		target.enqueue(rendered)
		req.peer.enqueue(string(wire.TagServer) + "Private message was sent to " + req.to)
		return response{delivered: PrivateDelivered}
	}
	if r.isRegistered(req.to) {
		r.pending[req.to] = append(r.pending[req.to], rendered)
		req.peer.enqueue(string(wire.TagServer) + "User " + req.to + " is not connected")
		return response{delivered: PrivateQueued}
	}
	req.peer.enqueue(string(wire.TagServer) + "User " + req.to + " is not registered")
	return response{delivered: PrivateUnknownRecipient}
}

// --- Maintenance sweeps --------------------------------------------------

// SweepHistory removes messages older than ttl. History is append-ordered
// by time, so it stops at the first still-valid entry (spec.md §4.E).
func (r *Room) SweepHistory(ttl time.Duration, now time.Time) {
	r.call(request{kind: opSweepHistory, ttl: ttl, now: now})
}

func (r *Room) sweepHistoryLocked(ttl time.Duration, now time.Time) {
	cut := 0
	for cut < len(r.history) && now.Sub(r.history[cut].Timestamp) > ttl {
		cut++
	}
	if cut > 0 {
		r.history = r.history[cut:]
	}
}

// SweepBans removes ban entries whose expiry has passed.
func (r *Room) SweepBans(now time.Time) {
	r.call(request{kind: opSweepBans, now: now})
}

func (r *Room) sweepBansLocked(now time.Time) {
	for user, expiry := range r.bans {
		if !now.Before(expiry) {
			delete(r.bans, user)
		}
	}
}

// --- internal helpers --------------------------------------------------

// fanOut enqueues frame on every roster peer. A peer whose buffer is full
// is dropped from the room rather than blocking the rest of the fan-out —
// mirroring the teacher's Hub.Run broadcast case exactly. Dropping only
// marks the peer (Peer.drop) and evicts it from the roster; it does not
// close Out, since the peer's owning session is still running and may still
// enqueue onto it (e.g. a private-message ack) until its own logout runs.
func (r *Room) fanOut(frame string) {
	for username, peer := range r.roster {
		if !peer.enqueue(frame) {
			delete(r.roster, username)
			peer.drop()
			r.log.Warn().Str("username", username).Msg("dropped slow peer during broadcast")
		}
	}
}

// StartMaintenance launches the history-TTL and ban-expiry sweep loops.
// Both are cancelled by ctx and tracked by wg, so component H (the
// listener) can wait for them to exit during shutdown.
func (r *Room) StartMaintenance(ctx context.Context, wg *sync.WaitGroup, historyTTL, banDuration time.Duration) {
	wg.Add(2)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.SweepHistory(historyTTL, now)
			}
		}
	}()
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.SweepBans(now)
			}
		}
	}()
}
