// Package tcpserver is the listener/supervisor of spec.md §4.H: it binds
// the TCP address, spawns one internal/session.Session per accepted
// connection, and owns the internal/chatroom.Room's two maintenance
// sweeps for its own lifetime. It generalizes the teacher's
// internal/server/server.go Server.ListenAndServe/Shutdown pair — same
// accept-loop-plus-goroutine-per-connection shape, same listener.Close-
// signals-shutdown idiom — onto the new Session/Room collaborators.
package tcpserver

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/spitfire4040/tcpchat/internal/chatroom"
	"github.com/spitfire4040/tcpchat/internal/session"
	"github.com/spitfire4040/tcpchat/internal/userstore"
)

// Config is the full configuration surface of spec.md §6 / SPEC_FULL.md §6.
type Config struct {
	Host                 string
	Port                 string
	MaxChatMessages      int
	MessageTTL           time.Duration
	TimeOfBan            time.Duration
	UserDatabaseFilename string
	SendBufSize          int
}

// Server ties together the Room, Store, and listener, matching the
// teacher's Server shape with Hub/Store/pool replaced by Room/Store.
type Server struct {
	cfg   Config
	log   zerolog.Logger
	store *userstore.Store
	room  *chatroom.Room

	listener net.Listener
	ready    chan struct{}
	readyOne sync.Once

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the user registry at cfg.UserDatabaseFilename and constructs a
// Room wired to it, matching the teacher's server.New(dataDir, workers).
func New(cfg Config, log zerolog.Logger) (*Server, error) {
	store, err := userstore.Open(cfg.UserDatabaseFilename)
	if err != nil {
		return nil, err
	}

	log = log.With().Str("component", "tcpserver").Logger()
	room := chatroom.New(log, func(username string) bool {
		_, ok := store.Lookup(username)
		return ok
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		log:    log,
		store:  store,
		room:   room,
		ready:  make(chan struct{}),
		conns:  make(map[net.Conn]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Addr blocks until the listener is bound (or ctx is done) and returns its
// address. Intended for tests that bind an ephemeral port (Config.Port =
// "0") and need to learn the actual port before dialing.
func (s *Server) Addr() net.Addr {
	select {
	case <-s.ready:
	case <-s.ctx.Done():
		return nil
	}
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe starts the maintenance sweeps and accepts connections on
// cfg.Host:cfg.Port until Shutdown is called or Accept fails.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.readyOne.Do(func() { close(s.ready) })
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	s.room.StartMaintenance(s.ctx, &s.wg, s.cfg.MessageTTL, s.cfg.TimeOfBan)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
	}()

	sess := session.New(conn, s.room, s.store, session.Config{
		MaxChatMessages: s.cfg.MaxChatMessages,
		TimeOfBan:       s.cfg.TimeOfBan,
		SendBufSize:     s.cfg.SendBufSize,
	}, s.log)
	sess.Serve(s.ctx)
}

// Shutdown stops accepting connections, cancels every session and
// maintenance goroutine, closes every connection still blocked on a read
// (spec.md imposes no read timeout, so Shutdown is what unblocks them), and
// waits for everything to exit.
func (s *Server) Shutdown() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()
	s.room.Close()
	s.wg.Wait()
}
