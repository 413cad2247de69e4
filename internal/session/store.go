// Package session implements icloud.SessionStore as per-username files
// under a cookie directory (spec.md §6 Session store). It is grounded
// on the teacher's internal/tokenfile package: atomic write-to-temp
// plus rename, owner-only permissions, and a JSON envelope — here
// holding a cookie/header map instead of an oauth2.Token, since the
// remote photo service authenticates via cookies rather than OAuth2.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// FilePerms restricts session files to owner-only read/write — they
// carry live cookies, equivalent in sensitivity to a bearer token.
const FilePerms = 0o600

// DirPerms is used when creating the cookie directory.
const DirPerms = 0o700

// file is the on-disk envelope for one username's session.
type file struct {
	Headers map[string]string `json:"headers"`
}

// Store implements icloud.SessionStore against a directory shared by
// every account configuration, keyed by a filename derived from the
// username (spec.md §4.9 "session persistence uses a file-name derived
// from username so distinct configurations can share a cookie
// directory safely").
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("session: cookie directory is empty")
	}

	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return nil, fmt.Errorf("session: creating cookie directory: %w", err)
	}

	return &Store{dir: dir}, nil
}

// pathFor derives the session file path for a username. Usernames are
// sanitized the same way filenames are elsewhere in this repo: any
// character that would be awkward in a path is replaced, so that two
// configurations for "user@example.com" always resolve to the same file.
func (s *Store) pathFor(username string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(username)

	return filepath.Join(s.dir, safe+".session.json")
}

// Load returns the persisted header map for username, or (nil, nil) if
// no session file exists yet.
func (s *Store) Load(username string) (map[string]string, error) {
	data, err := os.ReadFile(s.pathFor(username))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "no stored session"
	}

	if err != nil {
		return nil, fmt.Errorf("session: reading %s: %w", username, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("session: decoding %s: %w", username, err)
	}

	return f.Headers, nil
}

// Save persists headers for username atomically (write-to-temp in the
// same directory, then rename, per the teacher's tokenfile.Save).
func (s *Store) Save(username string, headers map[string]string) error {
	unlock, err := s.lock(username)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := json.MarshalIndent(file{Headers: headers}, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding %s: %w", username, err)
	}

	path := s.pathFor(username)

	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("session: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()

		return fmt.Errorf("session: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("session: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return fmt.Errorf("session: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("session: renaming: %w", err)
	}

	success = true

	return nil
}

// Clear removes username's persisted session, used by Reauthenticate
// to force a fresh interactive login.
func (s *Store) Clear(username string) error {
	err := os.Remove(s.pathFor(username))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

// lock acquires an exclusive, non-blocking flock on a lock file
// sidecar to username's session file, satisfying spec.md §5's
// requirement that the implementation "acquire a directory-level lock
// per (cookie_dir, username)". Reuses the same flock technique as the
// top-level PID file (single-writer guarantee across processes sharing
// a cookie directory).
func (s *Store) lock(username string) (unlock func(), err error) {
	lockPath := s.pathFor(username) + ".lock"

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, FilePerms)
	if err != nil {
		return nil, fmt.Errorf("session: opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("session: another process holds the session lock for %s", username)
	}

	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}
