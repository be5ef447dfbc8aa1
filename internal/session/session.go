// Package session implements the per-connection state machine of
// spec.md §4.C: START → AUTH → (fail → CLOSED) | (ok → REPLAY → LOOP →
// CLOSED). It adapts the teacher's internal/server/client.go Client —
// same readPump/writePump goroutine split, same isAuthenticated-guarded
// dispatch shape — onto the spec's line-oriented AUTH handshake and tagged
// text frames instead of the teacher's JSON register/login packets.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spitfire4040/tcpchat/internal/chatroom"
	"github.com/spitfire4040/tcpchat/internal/command"
	"github.com/spitfire4040/tcpchat/internal/userstore"
	"github.com/spitfire4040/tcpchat/internal/wire"
)

// writeTimeout bounds every individual frame write; a peer that never
// drains its socket eventually produces a write error, which is treated
// exactly like any other disconnect (spec.md §5). spec.md explicitly
// imposes no *read* timeout, so none is set on the read side.
const writeTimeout = 10 * time.Second

// Config carries the chat-wide tunables a Session needs once a connection
// is accepted; it mirrors spec.md §6's configuration surface.
type Config struct {
	MaxChatMessages int
	TimeOfBan       time.Duration
	SendBufSize     int
}

// Session owns one TCP connection end to end.
type Session struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	room   *chatroom.Room
	store  *userstore.Store
	cfg    Config
	log    zerolog.Logger

	username string
	peer     *chatroom.Peer
}

// New creates a Session for conn with a fresh UUID as its id, used for log
// correlation and as the ID of the session's Peer.
func New(conn net.Conn, room *chatroom.Room, store *userstore.Store, cfg Config, log zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		conn:   conn,
		reader: bufio.NewReader(conn),
		room:   room,
		store:  store,
		cfg:    cfg,
		log:    log.With().Str("component", "session").Str("conn_id", id).Logger(),
	}
}

// Serve runs the full session lifecycle and returns once the connection is
// closed. It never panics out to the caller: a recovered panic is logged
// and treated as a disconnect, so one misbehaving session can never take
// down the listener or any other session.
func (s *Session) Serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("session panic recovered")
		}
		s.conn.Close()
	}()

	if err := s.authenticate(); err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			wire.NewWriter(s.conn).Send(wire.TagAuthError, authErr.Reason)
		}
		return
	}

	s.peer = chatroom.NewPeer(s.id, s.username, s.cfg.SendBufSize)
	go s.writePump()

	if err := s.room.Login(s.username, s.peer, s.cfg.MaxChatMessages); err != nil {
		wire.NewWriter(s.conn).Send(wire.TagAuthError, authErrorReason(err))
		close(s.peer.Out)
		return
	}

	s.loop(ctx)
	s.room.Logout(s.username, s.peer)
}

// writePump drains peer.Out and writes each frame to the connection. Once
// it runs, every frame goes through it, matching the teacher's
// writePump/readPump split (spec.md §9: "do not let two tasks write
// concurrently to the same socket"); the one direct write by Serve after it
// starts is the AuthError frame for a rejected Login, sent while nothing
// has been queued on Out.
func (s *Session) writePump() {
	w := wire.NewWriter(s.conn)
	for frame := range s.peer.Out {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := w.SendRaw(frame); err != nil {
			s.conn.Close()
			return
		}
	}
}

// authenticate implements spec.md §4.C's AUTH state.
func (s *Session) authenticate() error {
	line, err := wire.ReadFirstLine(s.reader)
	if err != nil {
		return err
	}

	fields := strings.Fields(line)
	switch {
	case len(fields) == 3 && fields[0] == "new":
		return s.register(fields[1], fields[2])
	case len(fields) == 2:
		return s.login(fields[0], fields[1])
	default:
		return &AuthError{Reason: "Malformed login request!"}
	}
}

func (s *Session) register(username, password string) error {
	rec, err := s.store.Register(username, password)
	if err != nil {
		if errors.Is(err, userstore.ErrUserExists) {
			return &AuthError{Reason: "User already exists!"}
		}
		s.log.Error().Err(err).Msg("registry write failed")
		return &AuthError{Reason: "Registry unavailable, try again later!"}
	}
	s.username = rec.Username
	return nil
}

func (s *Session) login(username, password string) error {
	rec, err := s.store.Authenticate(username, password)
	if err != nil {
		switch {
		case errors.Is(err, userstore.ErrUserNotFound):
			return &AuthError{Reason: "User not found! Register first!"}
		case errors.Is(err, userstore.ErrWrongPassword):
			return &AuthError{Reason: "Wrong password! Try again!"}
		default:
			s.log.Error().Err(err).Msg("registry read failed")
			return &AuthError{Reason: "Registry unavailable, try again later!"}
		}
	}
	s.username = rec.Username
	return nil
}

func authErrorReason(err error) string {
	if errors.Is(err, chatroom.ErrAlreadyOnline) {
		return "User already logged in from another session!"
	}
	return "Could not join chat, try again later!"
}

// loop implements spec.md §4.C's LOOP state: read one frame, classify,
// dispatch, repeat until EOF, a write failure, or an explicit @exit.
func (s *Session) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := wire.ReadFrame(s.reader)
		if err != nil {
			return
		}
		if line == "" {
			continue
		}

		cmd := command.Parse(line)
		now := time.Now()

		switch cmd.Kind {
		case command.Broadcast:
			if ok, minutes := s.room.Broadcast(s.username, s.peer, cmd.Body, now); !ok {
				s.peer.EnqueueNotice(banNotice(minutes))
			}

		case command.Private:
			s.room.Private(s.username, s.peer, cmd.To, cmd.Body, now)

		case command.Comment:
			if err := s.room.Comment(s.username, s.peer, cmd.Index, cmd.Body, now); errors.Is(err, chatroom.ErrMessageNotFound) {
				s.peer.EnqueueNotice("Message not found or deleted!")
			}

		case command.Claim:
			s.room.Claim(cmd.To, s.cfg.TimeOfBan, now)

		case command.Help:
			for _, l := range helpLines {
				s.peer.EnqueueHelp(l)
			}

		case command.Exit:
			return

		case command.Malformed:
			s.peer.EnqueueNotice("Don't use @ symbol if its not a command!")
		}
	}
}

func banNotice(minutes int) string {
	return fmt.Sprintf("You are not allowed to send messages (%d minutes left)", minutes)
}
