package chatroom

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestRoom(registered map[string]bool) *Room {
	return New(zerolog.Nop(), func(username string) bool { return registered[username] })
}

func drain(t *testing.T, p *Peer) []string {
	t.Helper()
	var out []string
	for {
		select {
		case frame, ok := <-p.Out:
			if !ok {
				return out
			}
			out = append(out, frame)
		default:
			return out
		}
	}
}

func TestLoginThenBroadcastIncludesAuthor(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(nil)
	defer room.Close()

	alice := NewPeer("c1", "alice", 8)
	assert.NoError(room.Login("alice", alice, 50))

	ok, _ := room.Broadcast("alice", alice, "hello room", time.Now())
	assert.True(ok)

	frames := drain(t, alice)
	assert.Len(frames, 1)
	assert.Contains(frames[0], "Chat!")
	assert.Contains(frames[0], "alice: hello room")
}

func TestLoginRejectsDuplicateOnline(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(nil)
	defer room.Close()

	first := NewPeer("c1", "alice", 8)
	assert.NoError(room.Login("alice", first, 50))

	second := NewPeer("c2", "alice", 8)
	err := room.Login("alice", second, 50)
	assert.ErrorIs(err, ErrAlreadyOnline)
}

func TestLogoutAllowsReLogin(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(nil)
	defer room.Close()

	first := NewPeer("c1", "alice", 8)
	assert.NoError(room.Login("alice", first, 50))
	room.Logout("alice", first)

	second := NewPeer("c2", "alice", 8)
	assert.NoError(room.Login("alice", second, 50))
}

func TestPrivateDeliveredToOnlineRecipient(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(map[string]bool{"bob": true})
	defer room.Close()

	alice := NewPeer("c1", "alice", 8)
	bob := NewPeer("c2", "bob", 8)
	assert.NoError(room.Login("alice", alice, 50))
	assert.NoError(room.Login("bob", bob, 50))

	outcome := room.Private("alice", alice, "bob", "hey bob", time.Now())
	assert.Equal(PrivateDelivered, outcome)

	bobFrames := drain(t, bob)
	assert.Len(bobFrames, 1)
	assert.Contains(bobFrames[0], "Private!")

	aliceFrames := drain(t, alice)
	assert.Len(aliceFrames, 1)
	assert.Contains(aliceFrames[0], "Server!")
}

func TestPrivateQueuedForOfflineRegisteredUser(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(map[string]bool{"bob": true})
	defer room.Close()

	alice := NewPeer("c1", "alice", 8)
	assert.NoError(room.Login("alice", alice, 50))

	outcome := room.Private("alice", alice, "bob", "hey bob", time.Now())
	assert.Equal(PrivateQueued, outcome)

	bob := NewPeer("c2", "bob", 8)
	assert.NoError(room.Login("bob", bob, 50))

	bobFrames := drain(t, bob)
	assert.Len(bobFrames, 1)
	assert.Contains(bobFrames[0], "Private!")
	assert.Contains(bobFrames[0], "hey bob")
}

func TestPrivateUnknownRecipient(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(nil)
	defer room.Close()

	alice := NewPeer("c1", "alice", 8)
	assert.NoError(room.Login("alice", alice, 50))

	outcome := room.Private("alice", alice, "ghost", "hey", time.Now())
	assert.Equal(PrivateUnknownRecipient, outcome)
}

func TestClaimOnlyCountsOnlineTargets(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(nil)
	defer room.Close()

	now := time.Now()
	room.Claim("ghost", time.Minute, now)
	room.Claim("ghost", time.Minute, now)
	room.Claim("ghost", time.Minute, now)
	minutes, banned := room.IsBanned("ghost", now)
	assert.False(banned)
	assert.Equal(0, minutes)
}

func TestThirdClaimBansOnlineTarget(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(nil)
	defer room.Close()

	bob := NewPeer("c1", "bob", 8)
	assert.NoError(room.Login("bob", bob, 50))

	now := time.Now()
	room.Claim("bob", time.Minute, now)
	room.Claim("bob", time.Minute, now)
	_, banned := room.IsBanned("bob", now)
	assert.False(banned)

	room.Claim("bob", time.Minute, now)
	minutes, banned := room.IsBanned("bob", now)
	assert.True(banned)
	assert.GreaterOrEqual(minutes, 1)
}

func TestBannedAuthorCannotBroadcast(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(nil)
	defer room.Close()

	bob := NewPeer("c1", "bob", 8)
	assert.NoError(room.Login("bob", bob, 50))

	now := time.Now()
	room.Claim("bob", time.Minute, now)
	room.Claim("bob", time.Minute, now)
	room.Claim("bob", time.Minute, now)

	ok, minutes := room.Broadcast("bob", bob, "hello", now)
	assert.False(ok)
	assert.GreaterOrEqual(minutes, 1)
}

func TestCommentOnUnknownIndexFails(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(nil)
	defer room.Close()

	alice := NewPeer("c1", "alice", 8)
	assert.NoError(room.Login("alice", alice, 50))

	err := room.Comment("alice", alice, 999, "nice", time.Now())
	assert.ErrorIs(err, ErrMessageNotFound)
}

func TestCommentReferencesOriginal(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(nil)
	defer room.Close()

	alice := NewPeer("c1", "alice", 8)
	assert.NoError(room.Login("alice", alice, 50))

	ok, _ := room.Broadcast("alice", alice, "original message", time.Now())
	assert.True(ok)
	drain(t, alice)

	err := room.Comment("alice", alice, 0, "nice one", time.Now())
	assert.NoError(err)

	frames := drain(t, alice)
	assert.Len(frames, 1)
	assert.Contains(frames[0], "Commenting")
	assert.Contains(frames[0], "original message")
	assert.Contains(frames[0], "nice one")
}

func TestBannedUserCanStillComment(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(nil)
	defer room.Close()

	bob := NewPeer("c1", "bob", 8)
	assert.NoError(room.Login("bob", bob, 50))

	ok, _ := room.Broadcast("bob", bob, "first", time.Now())
	assert.True(ok)
	drain(t, bob)

	now := time.Now()
	room.Claim("bob", time.Minute, now)
	room.Claim("bob", time.Minute, now)
	room.Claim("bob", time.Minute, now)

	err := room.Comment("bob", bob, 0, "still allowed", now)
	assert.NoError(err)
}

func TestSweepHistoryRemovesOldMessages(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(nil)
	defer room.Close()

	alice := NewPeer("c1", "alice", 8)
	assert.NoError(room.Login("alice", alice, 50))

	old := time.Now().Add(-time.Hour)
	room.Broadcast("alice", alice, "ancient", old)
	drain(t, alice)

	room.SweepHistory(time.Minute, time.Now())

	err := room.Comment("alice", alice, 0, "too late", time.Now())
	assert.ErrorIs(err, ErrMessageNotFound)
}

func TestSweepBansRemovesExpiredBan(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(nil)
	defer room.Close()

	bob := NewPeer("c1", "bob", 8)
	assert.NoError(room.Login("bob", bob, 50))

	now := time.Now()
	room.Claim("bob", time.Minute, now)
	room.Claim("bob", time.Minute, now)
	room.Claim("bob", time.Minute, now)

	future := now.Add(2 * time.Minute)
	room.SweepBans(future)

	// Asked at the original time, the ban would still be active had the
	// sweep left its entry in place.
	_, banned := room.IsBanned("bob", now)
	assert.False(banned)
}

func TestHistoryReplayClippedToMaxOnLogin(t *testing.T) {
	assert := assert.New(t)
	room := newTestRoom(nil)
	defer room.Close()

	alice := NewPeer("c1", "alice", 8)
	assert.NoError(room.Login("alice", alice, 50))
	for i := 0; i < 5; i++ {
		room.Broadcast("alice", alice, "msg", time.Now())
	}
	drain(t, alice)
	room.Logout("alice", alice)

	replay := NewPeer("c2", "alice", 16)
	assert.NoError(room.Login("alice", replay, 2))

	frames := drain(t, replay)
	assert.Len(frames, 2)
	for _, f := range frames {
		assert.Contains(f, "History!")
	}
}
