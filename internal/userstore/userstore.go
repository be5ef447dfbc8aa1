// Package userstore loads and appends the persistent user registry: a
// single JSON array on disk, keyed by username. It is the narrow,
// externally-facing collaborator spec.md §4.A describes — a production
// deployment could swap it for a real database without touching
// internal/session or internal/chatroom.
package userstore

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one persisted user account. The wire/on-disk shape is exactly
// spec.md §6: username, password (plaintext — see DESIGN.md Open Question
// #3), last_visit as epoch seconds. ID is not part of the wire protocol and
// is not written to disk: Register mints one, and load mints a fresh one for
// each record it reads.
type Record struct {
	ID        string `json:"-"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	LastVisit int64  `json:"last_visit"`
}

// Store is a concurrency-safe handle onto the registry file. Registration
// and login are rare relative to chat traffic, so a single mutex guarding
// a full-rewrite-on-write strategy (mirroring the teacher's
// store.saveUsersLocked) is simple and sufficiently fast.
type Store struct {
	mu     sync.Mutex
	path   string
	byName map[string]*Record // keyed by exact username
}

// Open loads path (creating no file if absent — an absent file is treated
// as an empty registry, matching the teacher's store.load) and returns a
// ready Store.
func Open(path string) (*Store, error) {
	s := &Store{
		path:   path,
		byName: make(map[string]*Record),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &IOError{Op: "read " + s.path, Err: err}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return &IOError{Op: "parse " + s.path, Err: err}
	}
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		s.byName[r.Username] = r
	}
	return nil
}

// Lookup returns the record for username, if any.
func (s *Store) Lookup(username string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byName[username]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Register creates a new account. It returns ErrUserExists if username is
// already taken.
func (s *Store) Register(username, password string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[username]; exists {
		return Record{}, ErrUserExists
	}

	r := &Record{
		ID:        uuid.NewString(),
		Username:  username,
		Password:  password,
		LastVisit: time.Now().Unix(),
	}
	s.byName[username] = r
	if err := s.persistLocked(); err != nil {
		delete(s.byName, username)
		return Record{}, err
	}
	return *r, nil
}

// Authenticate checks credentials and, on success, refreshes last_visit.
func (s *Store) Authenticate(username, password string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byName[username]
	if !ok {
		return Record{}, ErrUserNotFound
	}
	if r.Password != password {
		return Record{}, ErrWrongPassword
	}
	r.LastVisit = time.Now().Unix()
	if err := s.persistLocked(); err != nil {
		return Record{}, err
	}
	return *r, nil
}

// persistLocked rewrites the whole registry file. Callers must hold s.mu.
func (s *Store) persistLocked() error {
	records := make([]*Record, 0, len(s.byName))
	for _, r := range s.byName {
		records = append(records, r)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return &IOError{Op: "marshal " + s.path, Err: err}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return &IOError{Op: "write " + s.path, Err: err}
	}
	return nil
}
