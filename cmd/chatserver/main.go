package main

import (
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/spitfire4040/tcpchat/internal/tcpserver"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "chatserver").Logger()

	host := flag.String("host", envOr("CHAT_HOST", "127.0.0.1"), "TCP host to listen on")
	port := flag.String("port", envOr("CHAT_PORT", "8000"), "TCP port to listen on")
	maxChatMessages := flag.Int("max-chat-messages", envOrInt("CHAT_MAX_CHAT_MESSAGES", 100),
		"number of history messages replayed to a client on login")
	messageTTL := flag.Duration("message-ttl", envOrDuration("CHAT_MESSAGE_TTL_SECONDS", 600*time.Second),
		"age at which a history message is swept")
	timeOfBan := flag.Duration("time-of-ban", envOrDuration("CHAT_TIME_OF_BAN_SECONDS", 120*time.Second),
		"ban duration applied on the third claim against a user")
	userDB := flag.String("user-database", envOr("CHAT_USER_DATABASE_FILENAME", "users_database.json"),
		"path to the JSON user registry")
	flag.Parse()

	cfg := tcpserver.Config{
		Host:                 *host,
		Port:                 *port,
		MaxChatMessages:      *maxChatMessages,
		MessageTTL:           *messageTTL,
		TimeOfBan:            *timeOfBan,
		UserDatabaseFilename: *userDB,
		SendBufSize:          256,
	}

	srv, err := tcpserver.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init server")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down")
		srv.Shutdown()
	}()

	if err := srv.ListenAndServe(); err != nil {
		log.Error().Err(err).Msg("stopped")
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
