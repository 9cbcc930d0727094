// Package userstore persists the signaling server's user directory to
// disk, one line per user as "username,password", per spec.md §6.
//
// Grounded on the original implementation's signaling_server.rs
// ServerState::load_users/save_user, reworked into a small mutex-
// guarded store in the teacher's config-struct-plus-plain-file idiom
// rather than a database.
package userstore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/xerrors"
)

// User is one registered account.
type User struct {
	Username string
	Password string
}

// Store is an in-memory user directory backed by an append-only file.
type Store struct {
	mu    sync.Mutex
	path  string
	users map[string]User
}

// Load reads path (if it exists) into a new Store. A missing file is
// not an error — it is treated as an empty directory, created lazily
// on first Register.
func Load(path string) (*Store, error) {
	s := &Store{path: path, users: make(map[string]User)}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("userstore: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			continue
		}
		username := strings.TrimSpace(parts[0])
		password := strings.TrimSpace(parts[1])
		s.users[username] = User{Username: username, Password: password}
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("userstore: %w", err)
	}
	return s, nil
}

// Exists reports whether username is already registered.
func (s *Store) Exists(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok
}

// Authenticate reports whether username/password match a stored
// account.
func (s *Store) Authenticate(username, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	return ok && u.Password == password
}

// Register adds a new account, persisting it to disk before it
// becomes visible to Exists/Authenticate. Returns an error if the
// username is already taken.
func (s *Store) Register(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return xerrors.New("userstore: username already exists")
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return xerrors.Errorf("userstore: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return xerrors.Errorf("userstore: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(username + "," + password + "\n"); err != nil {
		return xerrors.Errorf("userstore: %w", err)
	}

	s.users[username] = User{Username: username, Password: password}
	return nil
}

// Usernames returns every registered username, in no particular
// order.
func (s *Store) Usernames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	return names
}
