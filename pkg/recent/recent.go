package recent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"teamdesk/pkg/utils"
)

// DefaultLimit is how many sessions are remembered.
const DefaultLimit = 5

type Entry struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role,omitempty"`
	UsedAt    time.Time `json:"used_at"`
}

// Store keeps the most recently used session IDs in a JSON file, newest
// first. A missing file is an empty list.
type Store struct {
	path  string
	limit int
	now   func() time.Time
	mu    sync.Mutex
}

func NewStore(path string, limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{path: path, limit: limit, now: time.Now}
}

// DefaultPath is recent.json under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "teamdesk", "recent.json"), nil
}

func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Add moves sessionID to the front, dropping the oldest entries past the
// limit. Formatted IDs are stored without spaces.
func (s *Store) Add(sessionID, role string) error {
	id := utils.NormalizeSessionID(sessionID)
	if id == "" {
		return errors.New("empty session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}

	next := make([]Entry, 0, s.limit)
	next = append(next, Entry{SessionID: id, Role: role, UsedAt: s.now().UTC()})
	for _, e := range entries {
		if e.SessionID == id {
			continue
		}
		if len(next) == s.limit {
			break
		}
		next = append(next, e)
	}
	return s.save(next)
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear recent sessions: %w", err)
	}
	return nil
}

func (s *Store) load() ([]Entry, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recent sessions: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse recent sessions: %w", err)
	}
	if len(entries) > s.limit {
		entries = entries[:s.limit]
	}
	return entries, nil
}

// save replaces the file through a rename.
func (s *Store) save(entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create recent sessions directory: %w", err)
	}

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write recent sessions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to write recent sessions: %w", err)
	}
	return nil
}
